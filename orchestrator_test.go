package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/config"
)

// newHalfOpenBreaker builds a breaker, trips it, and drives it into its
// recovery window via a near-zero cooldown.
func newHalfOpenBreaker(t *testing.T, recoveriesRequired int) *breaker.CircuitBreaker {
	t.Helper()
	cfg := &config.BreakerConfig{
		DailyLossLimitPct:      0.05,
		MaxDrawdownPct:         0.10,
		ConsecutiveLossLimit:   3,
		MaxAPIErrors:           5,
		APIErrorWindowMinutes:  1,
		CooldownMinutes:        1e-9,
		AutoResetAfterHours:    1,
		RecoveryTradesRequired: recoveriesRequired,
	}
	cb, err := breaker.New(cfg, filepath.Join(t.TempDir(), "breaker.json"))
	require.NoError(t, err)
	require.NoError(t, cb.InitializeSession(10000))

	cb.TripManual("wiring test")
	require.Eventually(t, func() bool {
		cb.Maintain()
		return cb.Status().State == breaker.StateHalfOpen
	}, time.Second, time.Millisecond)
	return cb
}

func TestHalfOpenTradesClaimTheRecoverySlot(t *testing.T) {
	cb := newHalfOpenBreaker(t, 2)
	o := &Orchestrator{breaker: cb}

	recovery, err := o.claimRecovery()
	require.NoError(t, err)
	require.True(t, recovery, "a HALF_OPEN trade must run as a recovery trade")

	// While a recovery trade is outstanding, no further trades may open.
	ok, reason := cb.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "in flight")

	o.recordOutcome(true, true, 0.004)
	assert.Equal(t, breaker.StateHalfOpen, cb.Status().State)
	assert.Equal(t, 1, cb.Status().RecoverySuccesses)

	recovery, err = o.claimRecovery()
	require.NoError(t, err)
	require.True(t, recovery)
	o.recordOutcome(true, true, 0.006)

	// Enough successful recoveries close the breaker; outcomes flow through
	// RecordTrade again and move the session balance.
	assert.Equal(t, breaker.StateClosed, cb.Status().State)

	recovery, err = o.claimRecovery()
	require.NoError(t, err)
	assert.False(t, recovery)
	o.recordOutcome(false, true, 0.01)
	assert.InDelta(t, 10000*1.01, cb.Status().CurrentBalance, 1e-6)
}

func TestFailedRecoveryTradeReopensBreaker(t *testing.T) {
	cb := newHalfOpenBreaker(t, 3)
	o := &Orchestrator{breaker: cb}

	recovery, err := o.claimRecovery()
	require.NoError(t, err)
	require.True(t, recovery)

	o.recordOutcome(true, false, 0)
	st := cb.Status()
	assert.Equal(t, breaker.StateOpen, st.State)
	assert.Equal(t, 0, st.RecoverySuccesses)
}

func TestNormalModeUnresolvedOutcomeIsDropped(t *testing.T) {
	cb := newHalfOpenBreaker(t, 1)
	o := &Orchestrator{breaker: cb}

	recovery, err := o.claimRecovery()
	require.NoError(t, err)
	require.True(t, recovery)
	o.recordOutcome(true, true, 0.002)
	require.Equal(t, breaker.StateClosed, cb.Status().State)

	// A cancelled or failed order in normal mode must not touch the books.
	o.recordOutcome(false, false, 0)
	assert.InDelta(t, 10000, cb.Status().CurrentBalance, 1e-9)
	assert.Equal(t, 0, cb.Status().ConsecutiveLosses)
}
