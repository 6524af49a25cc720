package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGameCodeV2(t *testing.T) {
	tests := []struct {
		code string
		want int32
	}{
		{"QQQQQQ", -2147483648}, // every letter at alphabet index 0
		{"AAAAAA", -1679540573}, // every letter at alphabet index 25
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseGameCode(tt.code)
			require.NoError(t, err)
			assert.Equal(t, GameCode(tt.want), got)
			assert.True(t, got.IsV2())
			assert.Equal(t, tt.code, got.String())
		})
	}
}

func TestParseGameCodeV1(t *testing.T) {
	got, err := ParseGameCode("CODE")
	require.NoError(t, err)
	assert.Equal(t, GameCode(0x45444F43), got)
	assert.False(t, got.IsV2())
	assert.Equal(t, "CODE", got.String())
}

func TestParseGameCodeRejectsJunk(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"five letters", "ABCDE"},
		{"seven letters", "ABCDEFG"},
		{"lowercase", "abcdef"},
		{"digits", "AB12CD"},
		{"spaces", "AB CD "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGameCode(tt.code)
			assert.ErrorIs(t, err, ErrBadGameCode)
		})
	}
}

// Int → string → int must be exact for every generated code.
func TestGameCodeRoundTrip(t *testing.T) {
	for range 1000 {
		code := RandomGameCode()
		back, err := ParseGameCode(code.String())
		require.NoError(t, err)
		assert.Equal(t, code, back)
	}
}

// String must stay total for hostile int32 values: codes arrive on the
// wire as raw ints and get logged before validation.
func TestGameCodeStringHostileInts(t *testing.T) {
	for _, v := range []int32{-1, -1000000, -2147483647, 0x7FFFFFFF, 0} {
		assert.NotPanics(t, func() { _ = GameCode(v).String() })
	}
}

func TestRandomGameCodeIsSixLetters(t *testing.T) {
	for range 100 {
		code := RandomGameCode()
		require.True(t, code.IsV2())
		s := code.String()
		require.Len(t, s, 6)
		for _, c := range s {
			require.GreaterOrEqual(t, c, 'A')
			require.LessOrEqual(t, c, 'Z')
		}
	}
}
