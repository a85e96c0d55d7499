package risk

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/config"
)

func testRiskConfig() *config.RiskConfig {
	return &config.RiskConfig{
		LiquidationBuffer: 0.2,
		MaxSafeLeverage:   10,
	}
}

func newTestBreaker(t *testing.T) *breaker.CircuitBreaker {
	t.Helper()
	cfg := &config.BreakerConfig{
		DailyLossLimitPct:      0.02,
		MaxDrawdownPct:         0.10,
		ConsecutiveLossLimit:   3,
		MaxAPIErrors:           5,
		APIErrorWindowMinutes:  1,
		CooldownMinutes:        5,
		AutoResetAfterHours:    4,
		RecoveryTradesRequired: 3,
	}
	cb, err := breaker.New(cfg, filepath.Join(t.TempDir(), "breaker.json"))
	require.NoError(t, err)
	require.NoError(t, cb.InitializeSession(10000))
	return cb
}

// spyCheck records whether the gate reached it.
type spyCheck struct {
	called bool
	err    error
}

func (s *spyCheck) Name() string { return "spy_check" }

func (s *spyCheck) Validate(Intent) error {
	s.called = true
	return s.err
}

func longIntent() Intent {
	return Intent{
		Symbol:        "BTCUSDT",
		EntryPrice:    50000,
		StopLossPrice: 49500,
		Side:          Long,
		Leverage:      5,
	}
}

func TestGateAllowsWhenBreakerClosedAndChecksPass(t *testing.T) {
	spy := &spyCheck{}
	gate := NewGate(newTestBreaker(t), spy)

	d := gate.Evaluate(longIntent())
	assert.True(t, d.Allowed)
	assert.Empty(t, d.RejectionReason)
	assert.True(t, spy.called)
}

func TestGateBreakerVetoSkipsDownstreamChecks(t *testing.T) {
	cb := newTestBreaker(t)
	cb.TripManual("operator halt")
	spy := &spyCheck{}
	gate := NewGate(cb, spy)

	d := gate.Evaluate(longIntent())
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.RejectionReason)
	assert.False(t, spy.called, "downstream checks must not run after a breaker veto")
}

func TestGateFirstFailingCheckWins(t *testing.T) {
	first := &spyCheck{err: errors.New("exposure limit reached")}
	second := &spyCheck{}
	gate := NewGate(newTestBreaker(t), first, second)

	d := gate.Evaluate(longIntent())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.RejectionReason, "spy_check")
	assert.Contains(t, d.RejectionReason, "exposure limit reached")
	assert.False(t, second.called)
}

func TestLiquidationCheck(t *testing.T) {
	check := NewLiquidationCheck(testRiskConfig())

	tests := []struct {
		name    string
		intent  Intent
		wantErr bool
	}{
		{
			// 10x long: liq distance 10%, safe distance 8%. Stop 1% away is fine.
			name:   "long tight stop accepted",
			intent: Intent{EntryPrice: 50000, StopLossPrice: 49500, Side: Long, Leverage: 10},
		},
		{
			// Stop 9% away breaches the 8% safe distance.
			name:    "long wide stop rejected",
			intent:  Intent{EntryPrice: 50000, StopLossPrice: 45500, Side: Long, Leverage: 10},
			wantErr: true,
		},
		{
			name:   "short tight stop accepted",
			intent: Intent{EntryPrice: 50000, StopLossPrice: 50500, Side: Short, Leverage: 10},
		},
		{
			name:    "short wide stop rejected",
			intent:  Intent{EntryPrice: 50000, StopLossPrice: 54500, Side: Short, Leverage: 10},
			wantErr: true,
		},
		{
			// Unleveraged trades have no liquidation level.
			name:   "spot wide stop accepted",
			intent: Intent{EntryPrice: 50000, StopLossPrice: 30000, Side: Long, Leverage: 1},
		},
		{
			name:    "long stop above entry rejected",
			intent:  Intent{EntryPrice: 50000, StopLossPrice: 51000, Side: Long, Leverage: 5},
			wantErr: true,
		},
		{
			name:    "short stop below entry rejected",
			intent:  Intent{EntryPrice: 50000, StopLossPrice: 49000, Side: Short, Leverage: 5},
			wantErr: true,
		},
		{
			name:    "non positive entry rejected",
			intent:  Intent{EntryPrice: 0, StopLossPrice: 49000, Side: Long, Leverage: 5},
			wantErr: true,
		},
		{
			name:    "unknown side rejected",
			intent:  Intent{EntryPrice: 50000, StopLossPrice: 49500, Side: "sideways", Leverage: 5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := check.Validate(tt.intent)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxLeverageCheck(t *testing.T) {
	check := NewMaxLeverageCheck(testRiskConfig())

	intent := longIntent()
	intent.Leverage = 10
	assert.NoError(t, check.Validate(intent))

	intent.Leverage = 10.5
	err := check.Validate(intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max safe leverage")
}
