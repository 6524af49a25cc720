package protocol

import (
	"encoding/binary"
	"math"
	"sync"
)

// Writer accumulates a packet payload. It supports nested messages via
// BeginMessage/EndMessage, which backpatch the 2-byte length prefix.
// Uses Little-Endian byte order for all multi-byte values except the
// reliable nonce (big-endian, written by the transport).
type Writer struct {
	buf   []byte
	stack []int // offsets of open message length fields
}

// writerPool reduces allocations by reusing Writers on hot paths.
var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, 512)}
	},
}

// GetWriter returns a Writer from the pool (already reset).
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns the Writer to the pool. Do not use the Writer, or any
// slice obtained from Bytes, after calling Put.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBool writes a bool as one byte (1 or 0).
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteUint16 writes a uint16 (2 bytes, LE).
func (w *Writer) WriteUint16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// WriteUint16BE writes a uint16 in big-endian order (reliable nonces).
func (w *Writer) WriteUint16BE(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// WriteUint32 writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// WriteInt32 writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteFloat32 writes an IEEE 754 float32 (4 bytes, LE).
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WritePackedUint32 writes a variable-length unsigned integer.
func (w *Writer) WritePackedUint32(v uint32) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WritePackedInt32 writes a packed signed integer.
func (w *Writer) WritePackedInt32(v int32) {
	w.WritePackedUint32(uint32(v))
}

// WriteString writes a packed-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WritePackedUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// BeginMessage opens a nested message [len u16le][tag u8][...]. The
// length is patched by the matching EndMessage.
func (w *Writer) BeginMessage(tag byte) {
	w.stack = append(w.stack, len(w.buf))
	w.buf = append(w.buf, 0, 0, tag)
}

// EndMessage closes the innermost open message. Panics when no message
// is open: that is a programming error, not a wire condition.
func (w *Writer) EndMessage() {
	if len(w.stack) == 0 {
		panic("protocol: EndMessage without BeginMessage")
	}
	start := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	binary.LittleEndian.PutUint16(w.buf[start:], uint16(len(w.buf)-start-3))
}

// Message writes a complete nested message in one call.
func (w *Writer) Message(tag byte, body func(*Writer)) {
	w.BeginMessage(tag)
	body(w)
	w.EndMessage()
}

// Bytes returns the accumulated payload. The slice aliases the Writer's
// buffer and is invalidated by further writes or Put.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Take returns the accumulated payload as a fresh copy, safe to retain.
func (w *Writer) Take() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Len returns the current payload length.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Truncate cuts the payload back to length n and discards any messages
// opened at or past n. Lets callers roll back a message that turned out
// to carry no content.
func (w *Writer) Truncate(n int) {
	if n < 0 || n > len(w.buf) {
		panic("protocol: Truncate out of range")
	}
	w.buf = w.buf[:n]
	for len(w.stack) > 0 && w.stack[len(w.stack)-1] >= n {
		w.stack = w.stack[:len(w.stack)-1]
	}
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.stack = w.stack[:0]
}
