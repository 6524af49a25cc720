package protocol

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Room codes travel as int32. Negative values carry a 6-letter V2 code
// packed in base-26 over a scrambled alphabet; positive values carry a
// legacy 4-letter code as raw ASCII, little-endian.
const codeAlphabet = "QWXRTYLPESDFGHUJKZOCVBINMA"

// codeIndex maps 'A'..'Z' to positions in codeAlphabet.
var codeIndex = func() [26]int32 {
	var m [26]int32
	for i, c := range codeAlphabet {
		m[c-'A'] = int32(i)
	}
	return m
}()

// ErrBadGameCode reports a code string that cannot be parsed.
var ErrBadGameCode = errors.New("bad game code")

// GameCode identifies a room on the wire.
type GameCode int32

// ParseGameCode parses a 4- or 6-letter room code.
func ParseGameCode(s string) (GameCode, error) {
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("parse %q: non-letter character: %w", s, ErrBadGameCode)
		}
	}
	switch len(s) {
	case 4:
		v := int32(s[0]) | int32(s[1])<<8 | int32(s[2])<<16 | int32(s[3])<<24
		return GameCode(v), nil
	case 6:
		a, b := codeIndex[s[0]-'A'], codeIndex[s[1]-'A']
		c, d := codeIndex[s[2]-'A'], codeIndex[s[3]-'A']
		e, f := codeIndex[s[4]-'A'], codeIndex[s[5]-'A']
		one := a + 26*b
		two := c + 26*(d+26*(e+26*f))
		v := (one & 0x3FF) | ((two & 0xFFFFF) << 10) | int32(-1<<31)
		return GameCode(v), nil
	default:
		return 0, fmt.Errorf("parse %q: want 4 or 6 letters, got %d: %w", s, len(s), ErrBadGameCode)
	}
}

// String renders the code in its letter form.
func (g GameCode) String() string {
	v := int32(g)
	if v >= 0 {
		return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
	// Mod every index: hostile ints can carry one > 675 or two > 26^4-1,
	// and String must stay total for logging.
	one := v & 0x3FF
	two := (v >> 10) & 0xFFFFF
	return string([]byte{
		codeAlphabet[one%26],
		codeAlphabet[one/26%26],
		codeAlphabet[two%26],
		codeAlphabet[two/26%26],
		codeAlphabet[two/26/26%26],
		codeAlphabet[two/26/26/26%26],
	})
}

// IsV2 reports whether the code is in the 6-letter format.
func (g GameCode) IsV2() bool {
	return int32(g) < 0
}

// RandomGameCode returns a fresh 6-letter code.
func RandomGameCode() GameCode {
	var letters [6]byte
	for i := range letters {
		letters[i] = codeAlphabet[rand.IntN(26)]
	}
	code, _ := ParseGameCode(string(letters[:]))
	return code
}
