package breaker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stoic_citadel_go/config"
)

func testConfig() *config.BreakerConfig {
	return &config.BreakerConfig{
		DailyLossLimitPct:      0.02,
		MaxDrawdownPct:         0.10,
		ConsecutiveLossLimit:   3,
		MaxAPIErrors:           5,
		APIErrorWindowMinutes:  1,
		CooldownMinutes:        5,
		AutoResetAfterHours:    4,
		RecoveryTradesRequired: 3,
	}
}

// fakeClock lets tests drive time explicitly.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg *config.BreakerConfig) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "breaker.json")

	b, err := New(cfg, statePath)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	b.now = clock.now

	require.NoError(t, b.InitializeSession(10000))
	return b, clock
}

func TestStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	ok, reason := b.CanTrade()
	assert.True(t, ok)
	assert.Empty(t, reason)

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, ReasonNone, st.TripReason)
}

func TestDailyLossTrip(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	// Alternate wins and losses so the consecutive-loss limit never fires;
	// cumulative loss has to be what trips it.
	require.NoError(t, b.RecordTrade(-0.01))
	require.NoError(t, b.RecordTrade(0.0))
	require.NoError(t, b.RecordTrade(-0.011))

	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonDailyLoss, st.TripReason)

	ok, reason := b.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily_loss")
}

func TestMaxDrawdownTrip(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = 0.50 // keep daily loss out of the way
	b, _ := newTestBreaker(t, cfg)

	require.NoError(t, b.RecordTrade(0.20)) // peak 12000
	require.NoError(t, b.RecordTrade(0.0))
	require.NoError(t, b.RecordTrade(-0.11)) // 10680, 11% off peak

	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonMaxDrawdown, st.TripReason)
}

func TestConsecutiveLossesTrip(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	require.NoError(t, b.RecordTrade(-0.001))
	require.NoError(t, b.RecordTrade(-0.001))
	assert.Equal(t, StateClosed, b.Status().State)
	assert.Equal(t, 2, b.Status().ConsecutiveLosses)

	require.NoError(t, b.RecordTrade(-0.001))
	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonConsecutiveLosses, st.TripReason)
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	require.NoError(t, b.RecordTrade(-0.001))
	require.NoError(t, b.RecordTrade(-0.001))
	require.NoError(t, b.RecordTrade(0.001))

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveLosses)
}

func TestAPIErrorsWithinWindowTrip(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())

	for i := 0; i < 5; i++ {
		b.RecordAPIError()
		clock.advance(2 * time.Second)
	}

	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonAPIErrors, st.TripReason)
}

func TestAPIErrorsSpreadAcrossWindowDoNotTrip(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())

	// Same five errors, but 20s apart: never five inside one minute.
	for i := 0; i < 5; i++ {
		b.RecordAPIError()
		clock.advance(20 * time.Second)
	}

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Less(t, st.APIErrorCount, 5)
}

func TestCooldownMovesToHalfOpenOnce(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	b.TripManual("test trip")

	ok, _ := b.CanTrade()
	assert.False(t, ok)

	clock.advance(5 * time.Minute)

	ok, reason := b.CanTrade()
	assert.True(t, ok)
	assert.Contains(t, reason, "half-open")
	assert.Equal(t, StateHalfOpen, b.Status().State)

	// Repeated queries are idempotent.
	ok, _ = b.CanTrade()
	assert.True(t, ok)
	assert.Equal(t, StateHalfOpen, b.Status().State)
	assert.Equal(t, 0, b.Status().RecoverySuccesses)
}

func TestAutoResetSafetyNet(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMinutes = 60 * 24 * 7 // effectively never
	cfg.AutoResetAfterHours = 4
	b, clock := newTestBreaker(t, cfg)
	b.TripManual("test trip")

	clock.advance(4 * time.Hour)
	b.Maintain()
	assert.Equal(t, StateHalfOpen, b.Status().State)
}

func TestRecoveryClosesAfterRequiredSuccesses(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	b.TripManual("test trip")
	clock.advance(5 * time.Minute)
	b.Maintain()
	require.Equal(t, StateHalfOpen, b.Status().State)

	require.NoError(t, b.AttemptRecovery(true))
	require.NoError(t, b.AttemptRecovery(true))
	assert.Equal(t, StateHalfOpen, b.Status().State)

	require.NoError(t, b.AttemptRecovery(true))
	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, ReasonNone, st.TripReason)
	assert.Equal(t, 0, st.ConsecutiveLosses)
	assert.Equal(t, 0, st.APIErrorCount)
	assert.Equal(t, 0, st.RecoverySuccesses)
}

func TestRecoveryFailureReopensAndRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	b.TripManual("test trip")
	clock.advance(5 * time.Minute)
	b.Maintain()
	require.Equal(t, StateHalfOpen, b.Status().State)

	require.NoError(t, b.AttemptRecovery(false))
	st := b.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonManual, st.TripReason) // original cause kept
	assert.Equal(t, 5*time.Minute, st.CooldownRemaining)
}

func TestRecoveryInvalidWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	err := b.AttemptRecovery(true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestRecoveryIsSingleFlight(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	b.TripManual("test trip")
	clock.advance(5 * time.Minute)
	b.Maintain()

	require.NoError(t, b.BeginRecovery())

	err := b.BeginRecovery()
	assert.ErrorIs(t, err, ErrRecoveryInFlight)

	// The recovery window is busy, so no further trades either.
	ok, reason := b.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "in flight")

	require.NoError(t, b.CompleteRecovery(true))
	require.NoError(t, b.BeginRecovery())
}

func TestRecordTradeRejectedOutsideClosed(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())
	b.TripManual("test trip")

	err := b.RecordTrade(0.01)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManualResetFromEveryState(t *testing.T) {
	// From OPEN.
	b, clock := newTestBreaker(t, testConfig())
	b.TripManual("test trip")
	b.ManualReset()
	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, ReasonNone, st.TripReason)
	assert.Equal(t, 0, st.ConsecutiveLosses)

	// From HALF_OPEN, with a recovery in flight.
	b.TripManual("test trip")
	clock.advance(5 * time.Minute)
	b.Maintain()
	require.NoError(t, b.BeginRecovery())
	b.ManualReset()
	assert.Equal(t, StateClosed, b.Status().State)

	// From CLOSED it is a no-op reset.
	b.ManualReset()
	assert.Equal(t, StateClosed, b.Status().State)
	ok, _ := b.CanTrade()
	assert.True(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "breaker.json")
	cfg := testConfig()

	b1, err := New(cfg, statePath)
	require.NoError(t, err)
	require.NoError(t, b1.InitializeSession(10000))
	require.NoError(t, b1.RecordTrade(-0.001))
	require.NoError(t, b1.RecordTrade(-0.001))
	b1.TripManual("round trip")

	b2, err := New(cfg, statePath)
	require.NoError(t, err)
	require.NoError(t, b2.InitializeSession(99999)) // ignored, session restored

	st := b2.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, ReasonManual, st.TripReason)
	assert.Equal(t, 2, st.ConsecutiveLosses)
	assert.InDelta(t, 10000*0.999*0.999, st.CurrentBalance, 1e-6)
	assert.InDelta(t, 10000, st.StartingBalance, 1e-9)
}

func TestStaleStateFileStartsFresh(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "breaker.json")
	cfg := testConfig()

	b1, err := New(cfg, statePath)
	require.NoError(t, err)
	yesterday := time.Now().Add(-24 * time.Hour)
	b1.now = func() time.Time { return yesterday }
	require.NoError(t, b1.InitializeSession(10000))
	b1.TripManual("stale trip")

	b2, err := New(cfg, statePath)
	require.NoError(t, err)
	require.NoError(t, b2.InitializeSession(5000))

	st := b2.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.InDelta(t, 5000, st.StartingBalance, 1e-9)
}

func TestCorruptStateFileIsAnError(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "breaker.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0644))

	_, err := New(testConfig(), statePath)
	assert.Error(t, err)
}

func TestUnknownSchemaVersionStartsFresh(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "breaker.json")
	doc := `{"schema_version": 99, "state": "open", "trip_reason": "manual"}`
	require.NoError(t, os.WriteFile(statePath, []byte(doc), 0644))

	b, err := New(testConfig(), statePath)
	require.NoError(t, err)
	require.NoError(t, b.InitializeSession(10000))
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestPersistFailureBlocksTrading(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "gone", "breaker.json")

	b, err := New(testConfig(), statePath)
	require.NoError(t, err)

	// Directory does not exist, so every persist fails and the breaker must
	// fail closed regardless of its logical state.
	require.NoError(t, b.InitializeSession(10000))
	ok, reason := b.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "persistence")

	// Once the path is writable again, the next mutation restores trading.
	require.NoError(t, os.MkdirAll(filepath.Dir(statePath), 0755))
	b.RecordAPIError()
	ok, _ = b.CanTrade()
	assert.True(t, ok)
}
