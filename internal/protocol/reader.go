package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed reports a packet that cannot be decoded: truncated data,
// an over-long packed integer, or an inner message whose declared length
// exceeds its container. Handlers match it with errors.Is and drop the
// packet without tearing the connection down.
var ErrMalformed = errors.New("malformed message")

// Reader is a single-pass cursor over a received payload.
// All multi-byte values are little-endian; packed integers use 7-bit
// groups with high-bit continuation.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data. The Reader does not copy; the
// caller must not reuse data until decoding finishes.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("read byte at %d of %d: %w", r.pos, len(r.data), ErrMalformed)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBool reads a single byte and interprets any non-zero value as true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("read uint16 at %d of %d: %w", r.pos, len(r.data), ErrMalformed)
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint16BE reads a uint16 in big-endian order. Reliable nonces are
// the only big-endian field on the wire.
func (r *Reader) ReadUint16BE() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("read uint16be at %d of %d: %w", r.pos, len(r.data), ErrMalformed)
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("read uint32 at %d of %d: %w", r.pos, len(r.data), ErrMalformed)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt32 reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads an IEEE 754 float32 (4 bytes, LE).
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadPackedUint32 reads a variable-length unsigned integer: 7-bit
// groups, least significant first, high bit set on all but the last
// group. At most 5 groups are accepted.
func (r *Reader) ReadPackedUint32() (uint32, error) {
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("packed uint32 over 5 bytes: %w", ErrMalformed)
}

// ReadPackedInt32 reads a packed signed integer (two's complement
// reinterpretation of the packed unsigned form).
func (r *Reader) ReadPackedInt32() (int32, error) {
	v, err := r.ReadPackedUint32()
	return int32(v), err
}

// ReadString reads a packed-length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadPackedUint32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads n bytes without copying. The returned slice aliases
// the Reader's backing array.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("read %d bytes at %d of %d: %w", n, r.pos, len(r.data), ErrMalformed)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadMessage reads one nested message: [len u16le][tag u8][payload].
// The returned Reader covers exactly the payload.
func (r *Reader) ReadMessage() (byte, *Reader, error) {
	length, err := r.ReadUint16()
	if err != nil {
		return 0, nil, err
	}
	tag, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	body, err := r.ReadBytes(int(length))
	if err != nil {
		return tag, nil, fmt.Errorf("message tag 0x%02X declares %d bytes: %w", tag, length, err)
	}
	return tag, NewReader(body), nil
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position reports the current cursor offset.
func (r *Reader) Position() int {
	return r.pos
}

// RemainingBytes consumes and returns every unread byte.
func (r *Reader) RemainingBytes() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}
