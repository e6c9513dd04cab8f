package mapsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	m := map[string]any{
		"opset":    12,
		"batch":    float64(4),
		"big":      int64(8),
		"scale":    2,
		"half":     true,
		"device":   "cpu",
		"simplify": "yes",
	}

	assert.Equal(t, 12, Get(m, "opset", 0))
	assert.Equal(t, 4, Get(m, "batch", 1))
	assert.Equal(t, 8, Get(m, "big", 0))
	assert.InDelta(t, 2.0, Get(m, "scale", 0.0), 1e-9)
	assert.True(t, Get(m, "half", false))
	assert.Equal(t, "cpu", Get(m, "device", ""))

	// wrong type falls back to the default
	assert.False(t, Get(m, "simplify", false))
	// missing key
	assert.Equal(t, 640, Get(m, "imgsz", 640))
	// nil map
	assert.Equal(t, "x", Get[string](nil, "k", "x"))
}
