package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.True(t, FloatEquals(50000, 50000))
	assert.False(t, FloatEquals(50000, 50000.001))
}

func TestRoundToPrecision(t *testing.T) {
	assert.InDelta(t, 50123.46, RoundToPrecision(50123.456789, 2), 1e-9)
	assert.InDelta(t, 0.0012, RoundToPrecision(0.001234, 4), 1e-9)
	assert.InDelta(t, 50123.0, RoundToPrecision(50123.456789, 0), 1e-9)
}

func TestAdjustPriceToTickSize(t *testing.T) {
	assert.InDelta(t, 50123.4, AdjustPriceToTickSize(50123.44, 0.1), 1e-9)
	assert.InDelta(t, 50123.5, AdjustPriceToTickSize(50123.46, 0.1), 1e-9)
	assert.Equal(t, 50123.44, AdjustPriceToTickSize(50123.44, 0), "zero tick size leaves price untouched")
}
