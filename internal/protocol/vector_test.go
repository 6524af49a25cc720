package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Re-encoding a decoded wire value must be bit-stable, or positions
// would drift every time the server relays a movement snapshot.
func TestQuantizeStability(t *testing.T) {
	for q := 0; q <= 0xFFFE; q++ {
		v := DequantizeCoord(uint16(q))
		back := QuantizeCoord(v)
		if back != uint16(q) {
			t.Fatalf("lerp %d decoded to %v, re-encoded to %d", q, v, back)
		}
	}
}

func TestQuantizeNaN(t *testing.T) {
	nan := float32(math.NaN())

	assert.Equal(t, uint16(0xFFFF), QuantizeCoord(nan))
	assert.True(t, math.IsNaN(float64(DequantizeCoord(0xFFFF))))

	v := Vector2{X: nan, Y: 3}
	assert.True(t, v.IsNaN())
	assert.False(t, Vector2{X: 3, Y: 3}.IsNaN())
}

func TestQuantizeClamping(t *testing.T) {
	tests := []struct {
		name string
		v    float32
		want uint16
	}{
		{"below range", -100, 0},
		{"world min", -40, 0},
		{"world max", 40, 0xFFFE},
		{"above range", 100, 0xFFFE},
		{"positive infinity", float32(math.Inf(1)), 0xFFFE},
		{"negative infinity", float32(math.Inf(-1)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuantizeCoord(tt.v))
		})
	}
}

func TestQuantizePrecision(t *testing.T) {
	// One lerp step spans 80/65534 world units; decode(encode(v)) must
	// land within half a step.
	const step = 80.0 / 65534.0
	for _, v := range []float32{0, 1, -1, 12.345, -39.999, 39.999} {
		q := QuantizeCoord(v)
		back := DequantizeCoord(q)
		assert.InDelta(t, v, back, step/2+5e-6, "coord %v", v)
	}
}

func TestVector2WireRoundTrip(t *testing.T) {
	w := NewWriter(16)
	w.WriteVector2(Vector2{X: 10.5, Y: -22.25})
	w.WriteVector2(Vector2{X: float32(math.NaN()), Y: 0})

	require.Equal(t, 8, w.Len())

	r := NewReader(w.Bytes())
	v1, err := r.ReadVector2()
	require.NoError(t, err)
	assert.InDelta(t, 10.5, v1.X, 0.001)
	assert.InDelta(t, -22.25, v1.Y, 0.001)

	v2, err := r.ReadVector2()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(v2.X)))
	assert.InDelta(t, 0, v2.Y, 0.001)
}

func TestVector2Math(t *testing.T) {
	a := Vector2{X: 3, Y: 4}
	assert.Equal(t, float32(5), a.Magnitude())
	assert.Equal(t, float32(5), a.Distance(Vector2{}))
	assert.Equal(t, Vector2{X: 2, Y: 2}, Vector2{X: 5, Y: 6}.Sub(Vector2{X: 3, Y: 4}))
}
