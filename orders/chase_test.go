package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChaseBuyRatchetsToCeiling(t *testing.T) {
	t.Parallel()

	o, err := NewChaseLimitOrder("BTCUSDT", Buy, 0.5, 49500, 50100, 0, 0)
	require.NoError(t, err)

	bids := []float64{49600, 49800, 50000, 50200}
	want := []float64{49600, 49800, 50000, 50100}

	for i, bid := range bids {
		got, changed := o.OnTickerUpdate(bid, bid+10, 0.0002)
		assert.True(t, changed, "update %d should move the price", i)
		assert.InDelta(t, want[i], got, 1e-9, "update %d", i)
	}
	assert.True(t, o.Capped())

	// Past the ceiling, further updates are no-ops.
	got, changed := o.OnTickerUpdate(50500, 50510, 0.0002)
	assert.False(t, changed)
	assert.InDelta(t, 50100, got, 1e-9)
}

func TestChaseBuyNeverRetreats(t *testing.T) {
	t.Parallel()

	o, err := NewChaseLimitOrder("BTCUSDT", Buy, 0.5, 49500, 50100, 0, 0)
	require.NoError(t, err)

	_, changed := o.OnTickerUpdate(49900, 49910, 0.0002)
	require.True(t, changed)

	// Market pulls back: the working price holds.
	got, changed := o.OnTickerUpdate(49600, 49610, 0.0002)
	assert.False(t, changed)
	assert.InDelta(t, 49900, got, 1e-9)
}

func TestChaseBuyKeepsOffset(t *testing.T) {
	t.Parallel()

	o, err := NewChaseLimitOrder("BTCUSDT", Buy, 0.5, 49500, 50100, 5, 0)
	require.NoError(t, err)

	got, changed := o.OnTickerUpdate(49800, 49810, 0.0002)
	assert.True(t, changed)
	assert.InDelta(t, 49805, got, 1e-9)
}

func TestChaseSellRatchetsToFloor(t *testing.T) {
	t.Parallel()

	o, err := NewChaseLimitOrder("ETHUSDT", Sell, 2, 3050, 2990, 0, 0)
	require.NoError(t, err)

	asks := []float64{3040, 3020, 3000, 2980}
	want := []float64{3040, 3020, 3000, 2990}

	for i, ask := range asks {
		got, changed := o.OnTickerUpdate(ask-5, ask, 0.0002)
		assert.True(t, changed, "update %d", i)
		assert.InDelta(t, want[i], got, 1e-9, "update %d", i)
	}
	assert.True(t, o.Capped())

	// Rebound: never moves back up.
	got, changed := o.OnTickerUpdate(3015, 3020, 0.0002)
	assert.False(t, changed)
	assert.InDelta(t, 2990, got, 1e-9)
}

func TestChaseValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		side   Side
		price  float64
		bound  float64
		offset float64
	}{
		{"buy ceiling below price", Buy, 50000, 49000, 0},
		{"sell floor above price", Sell, 3000, 3100, 0},
		{"negative offset", Buy, 50000, 50100, -1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewChaseLimitOrder("BTCUSDT", tt.side, 1, tt.price, tt.bound, tt.offset, 0)
			assert.Error(t, err)
		})
	}
}

func TestSmartOrderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSmartOrder("", Buy, 1, 100, 0)
	assert.Error(t, err)
	_, err = NewSmartOrder("BTCUSDT", "HOLD", 1, 100, 0)
	assert.Error(t, err)
	_, err = NewSmartOrder("BTCUSDT", Buy, 0, 100, 0)
	assert.Error(t, err)
	_, err = NewSmartOrder("BTCUSDT", Buy, 1, -5, 0)
	assert.Error(t, err)
}

func TestTimeoutPredicate(t *testing.T) {
	t.Parallel()

	o, err := NewSmartOrder("BTCUSDT", Buy, 1, 100, 30*time.Second)
	require.NoError(t, err)

	assert.False(t, o.TimedOut(o.CreatedAt.Add(29*time.Second)))
	assert.True(t, o.TimedOut(o.CreatedAt.Add(30*time.Second)))

	// Zero timeout means no deadline at all.
	forever, err := NewSmartOrder("BTCUSDT", Buy, 1, 100, 0)
	require.NoError(t, err)
	assert.False(t, forever.TimedOut(forever.CreatedAt.Add(24*time.Hour)))
}

func TestTerminalStatusIsSticky(t *testing.T) {
	t.Parallel()

	o, err := NewSmartOrder("BTCUSDT", Buy, 1, 100, 0)
	require.NoError(t, err)

	o.setStatus(StatusCancelled)
	o.setStatus(StatusActive)
	assert.Equal(t, StatusCancelled, o.Status())
}
