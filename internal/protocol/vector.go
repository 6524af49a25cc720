package protocol

import "math"

// World coordinates fit in [-40, 40] on both axes. Positions travel as
// a pair of uint16 lerp values over that range; 0xFFFF is reserved as
// the NaN marker, so finite values clamp to 0xFFFE.
const (
	worldMin = -40.0
	worldMax = 40.0

	nanLerp  = 0xFFFF
	lerpSpan = 0xFFFE
)

// Vector2 is a 2D world position.
type Vector2 struct {
	X float32
	Y float32
}

// QuantizeCoord maps a world coordinate onto the wire range.
func QuantizeCoord(v float32) uint16 {
	if math.IsNaN(float64(v)) {
		return nanLerp
	}
	t := (float64(v) - worldMin) / (worldMax - worldMin)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint16(math.Round(t * lerpSpan))
}

// DequantizeCoord maps a wire value back to a world coordinate.
func DequantizeCoord(q uint16) float32 {
	if q == nanLerp {
		return float32(math.NaN())
	}
	t := float64(q) / lerpSpan
	return float32(worldMin + t*(worldMax-worldMin))
}

// WriteVector2 writes a quantized position (4 bytes).
func (w *Writer) WriteVector2(v Vector2) {
	w.WriteUint16(QuantizeCoord(v.X))
	w.WriteUint16(QuantizeCoord(v.Y))
}

// ReadVector2 reads a quantized position (4 bytes).
func (r *Reader) ReadVector2() (Vector2, error) {
	x, err := r.ReadUint16()
	if err != nil {
		return Vector2{}, err
	}
	y, err := r.ReadUint16()
	if err != nil {
		return Vector2{}, err
	}
	return Vector2{X: DequantizeCoord(x), Y: DequantizeCoord(y)}, nil
}

// Distance returns the Euclidean distance between two positions.
func (v Vector2) Distance(o Vector2) float32 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

// Magnitude returns the vector length.
func (v Vector2) Magnitude() float32 {
	return float32(math.Sqrt(float64(v.X)*float64(v.X) + float64(v.Y)*float64(v.Y)))
}

// Sub returns v - o.
func (v Vector2) Sub(o Vector2) Vector2 {
	return Vector2{X: v.X - o.X, Y: v.Y - o.Y}
}

// IsNaN reports whether either coordinate is NaN.
func (v Vector2) IsNaN() bool {
	return math.IsNaN(float64(v.X)) || math.IsNaN(float64(v.Y))
}
