package protocol

import (
	"fmt"
	"testing"
)

// BenchmarkWriteMovementSnapshot measures the hot-path encode: a data
// message carrying sequence + position + velocity, as relayed ~20/s
// per moving player.
func BenchmarkWriteMovementSnapshot(b *testing.B) {
	b.ReportAllocs()

	pos := Vector2{X: 12.5, Y: -3.25}
	vel := Vector2{X: 0.5, Y: 0}

	for range b.N {
		w := GetWriter()
		w.BeginMessage(1)
		w.WritePackedUint32(42) // net id
		w.WriteUint16(1337)     // sequence
		w.WriteVector2(pos)
		w.WriteVector2(vel)
		w.EndMessage()
		w.Put()
	}
}

// BenchmarkReadMessage measures framed decode for typical payload sizes.
func BenchmarkReadMessage(b *testing.B) {
	sizes := []int{16, 64, 256, 1024}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			b.ReportAllocs()

			w := NewWriter(size + 8)
			w.BeginMessage(5)
			for i := 0; i < size; i++ {
				w.WriteByte(byte(i))
			}
			w.EndMessage()
			data := w.Take()

			b.SetBytes(int64(size))
			b.ResetTimer()

			for range b.N {
				r := NewReader(data)
				if _, _, err := r.ReadMessage(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkReadPackedUint32 measures varint decode across group counts.
func BenchmarkReadPackedUint32(b *testing.B) {
	values := []uint32{5, 300, 100000, 0xFFFFFFFF}

	for _, v := range values {
		b.Run(fmt.Sprintf("value=%d", v), func(b *testing.B) {
			w := NewWriter(8)
			w.WritePackedUint32(v)
			data := w.Take()

			b.ReportAllocs()
			b.ResetTimer()

			for range b.N {
				r := NewReader(data)
				got, err := r.ReadPackedUint32()
				if err != nil {
					b.Fatal(err)
				}
				if got != v {
					b.Fatalf("decoded %d, want %d", got, v)
				}
			}
		})
	}
}
