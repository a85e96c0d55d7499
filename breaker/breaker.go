// Package breaker implements the trading circuit breaker: a persisted state
// machine that blocks order submission after loss or error thresholds are
// breached and re-enables it through a supervised recovery procedure.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"stoic_citadel_go/config"
	"stoic_citadel_go/logs"
)

// State is the breaker's position in the trip/recovery cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// TripReason records why the breaker left CLOSED.
type TripReason string

const (
	ReasonNone              TripReason = "none"
	ReasonDailyLoss         TripReason = "daily_loss"
	ReasonMaxDrawdown       TripReason = "max_drawdown"
	ReasonConsecutiveLosses TripReason = "consecutive_losses"
	ReasonAPIErrors         TripReason = "api_errors"
	ReasonManual            TripReason = "manual"
)

var (
	// ErrInvalidTransition is returned when an operation is called in a state
	// it is not defined for (e.g., AttemptRecovery while CLOSED).
	ErrInvalidTransition = errors.New("breaker: operation invalid in current state")

	// ErrRecoveryInFlight is returned by BeginRecovery when a recovery trade
	// is already outstanding. Recovery is single-flight.
	ErrRecoveryInFlight = errors.New("breaker: recovery trade already in flight")
)

// Status is a read-only snapshot for monitoring and the risk gate.
type Status struct {
	State             State         `json:"state"`
	TripReason        TripReason    `json:"trip_reason"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	APIErrorCount     int           `json:"api_error_count"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	RecoverySuccesses int           `json:"recovery_successes"`
	StartingBalance   float64       `json:"starting_balance"`
	CurrentBalance    float64       `json:"current_balance"`
	PeakBalance       float64       `json:"peak_balance"`
}

// CircuitBreaker is safe for concurrent use. Every state-changing mutation is
// persisted to disk before the method returns; if persistence fails twice in a
// row the breaker fails closed (CanTrade reports false) until a write succeeds.
type CircuitBreaker struct {
	cfg           *config.BreakerConfig
	stateFilePath string

	// Injectable clock, swapped out in tests.
	now func() time.Time

	mu               sync.Mutex
	st               persistedState
	restored         bool
	recoveryInFlight bool
	persistFailed    bool
}

// New creates a breaker and, if a fresh same-day state file exists at
// stateFilePath, resumes the persisted session. Stale or unreadable state is
// discarded and a new session must be started with InitializeSession.
func New(cfg *config.BreakerConfig, stateFilePath string) (*CircuitBreaker, error) {
	b := &CircuitBreaker{
		cfg:           cfg,
		stateFilePath: stateFilePath,
		now:           time.Now,
		st:            freshState(),
	}

	st, ok, err := loadStateFile(stateFilePath, b.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker state: %w", err)
	}
	if ok {
		b.st = st
		b.restored = true
		logs.Infof("[Breaker] Resumed session from %s (state=%s, reason=%s)", stateFilePath, st.State, st.TripReason)
	}
	return b, nil
}

// InitializeSession starts a new trading session with the given balance.
// A session restored from a fresh state file is kept as-is.
func (b *CircuitBreaker) InitializeSession(initialBalance float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.restored {
		logs.Infof("[Breaker] Session already restored, keeping persisted balances (current=%.2f)", b.st.CurrentBalance)
		return nil
	}
	if initialBalance <= 0 {
		return fmt.Errorf("breaker: initial balance must be positive, got %.4f", initialBalance)
	}

	b.st = freshState()
	b.st.SessionDate = b.now().Format(sessionDateLayout)
	b.st.StartingBalance = initialBalance
	b.st.CurrentBalance = initialBalance
	b.st.PeakBalance = initialBalance
	b.persistLocked()
	logs.Infof("[Breaker] Session initialized with balance %.2f", initialBalance)
	return nil
}

// CanTrade reports whether a new trade may be opened right now, with a
// human-readable reason when it may not. The timed OPEN -> HALF_OPEN
// transitions are applied first, so a call after the cooldown elapses is what
// moves the breaker into its recovery window.
func (b *CircuitBreaker) CanTrade() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maintainLocked()

	if b.persistFailed {
		return false, "breaker state persistence unavailable, trading blocked"
	}

	switch b.st.State {
	case StateClosed:
		return true, ""
	case StateOpen:
		return false, fmt.Sprintf("circuit breaker open (%s), cooldown remaining %s",
			b.st.TripReason, b.cooldownRemainingLocked().Round(time.Second))
	case StateHalfOpen:
		if b.recoveryInFlight {
			return false, "recovery trade already in flight"
		}
		return true, "half-open: recovery trades only"
	default:
		return false, fmt.Sprintf("unknown breaker state %q", b.st.State)
	}
}

// Maintain applies any time-driven transitions without an allow/deny query.
// Useful from a periodic tick so the breaker does not stay OPEN past its
// cooldown just because nobody asked.
func (b *CircuitBreaker) Maintain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maintainLocked()
}

func (b *CircuitBreaker) maintainLocked() {
	if b.st.State != StateOpen {
		return
	}

	elapsed := b.now().Sub(b.st.TripTime)
	cooldown := time.Duration(b.cfg.CooldownMinutes * float64(time.Minute))
	autoReset := time.Duration(b.cfg.AutoResetAfterHours * float64(time.Hour))

	if elapsed >= cooldown {
		b.toHalfOpenLocked("cooldown elapsed")
	} else if elapsed >= autoReset {
		// Safety net for stuck OPEN states when cooldown is misconfigured
		// to something enormous.
		b.toHalfOpenLocked("auto-reset window elapsed")
	}
}

// RecordTrade reports a closed trade's outcome while the breaker is CLOSED.
// profitPct is the fractional return of the trade (-0.01 == 1% loss). Trip
// conditions are re-evaluated after the bookkeeping update, so a losing trade
// can open the breaker before this call returns.
func (b *CircuitBreaker) RecordTrade(profitPct float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st.State != StateClosed {
		return fmt.Errorf("%w: RecordTrade requires CLOSED, state is %s (recovery outcomes go through AttemptRecovery)",
			ErrInvalidTransition, b.st.State)
	}

	b.st.CurrentBalance *= 1 + profitPct
	if b.st.CurrentBalance > b.st.PeakBalance {
		b.st.PeakBalance = b.st.CurrentBalance
	}

	if profitPct < 0 {
		b.st.ConsecutiveLosses++
	} else {
		b.st.ConsecutiveLosses = 0
	}

	b.evaluateTripsLocked()
	b.persistLocked()
	return nil
}

// RecordAPIError notes one exchange/API failure. Enough errors inside the
// sliding window trip the breaker.
func (b *CircuitBreaker) RecordAPIError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.st.APIErrorTimestamps = append(b.st.APIErrorTimestamps, now)
	b.pruneAPIErrorsLocked(now)

	if b.st.State == StateClosed && len(b.st.APIErrorTimestamps) >= b.cfg.MaxAPIErrors {
		b.tripLocked(ReasonAPIErrors)
	}
	b.persistLocked()
}

// BeginRecovery claims the single recovery slot while HALF_OPEN. The caller
// must follow up with CompleteRecovery once the recovery trade resolves.
func (b *CircuitBreaker) BeginRecovery() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maintainLocked()

	if b.st.State != StateHalfOpen {
		return fmt.Errorf("%w: BeginRecovery requires HALF_OPEN, state is %s", ErrInvalidTransition, b.st.State)
	}
	if b.recoveryInFlight {
		return ErrRecoveryInFlight
	}
	b.recoveryInFlight = true
	return nil
}

// CompleteRecovery reports the outcome of the in-flight recovery trade.
// Success counts toward closing the breaker; failure reverts to OPEN and
// restarts the cooldown. Recovery outcomes never touch balance bookkeeping.
func (b *CircuitBreaker) CompleteRecovery(success bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st.State != StateHalfOpen {
		b.recoveryInFlight = false
		return fmt.Errorf("%w: CompleteRecovery requires HALF_OPEN, state is %s", ErrInvalidTransition, b.st.State)
	}
	if !b.recoveryInFlight {
		return fmt.Errorf("%w: no recovery trade in flight", ErrInvalidTransition)
	}
	b.recoveryInFlight = false

	if success {
		b.st.RecoverySuccesses++
		logs.Infof("[Breaker] Recovery trade succeeded (%d/%d)", b.st.RecoverySuccesses, b.cfg.RecoveryTradesRequired)
		if b.st.RecoverySuccesses >= b.cfg.RecoveryTradesRequired {
			b.toClosedLocked("recovery complete")
		}
	} else {
		logs.Warnf("[Breaker] Recovery trade failed, reverting to OPEN (reason=%s), cooldown restarts", b.st.TripReason)
		b.st.State = StateOpen
		b.st.TripTime = b.now()
		b.st.RecoverySuccesses = 0
	}
	b.persistLocked()
	return nil
}

// AttemptRecovery is the one-shot convenience form of BeginRecovery +
// CompleteRecovery for callers whose recovery trade has already resolved.
func (b *CircuitBreaker) AttemptRecovery(success bool) error {
	if err := b.BeginRecovery(); err != nil {
		return err
	}
	return b.CompleteRecovery(success)
}

// TripManual forces the breaker OPEN regardless of thresholds. Operator
// action; always persisted and logged.
func (b *CircuitBreaker) TripManual(note string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs.Warnf("[Breaker] MANUAL TRIP: %s", note)
	b.tripLocked(ReasonManual)
	b.persistLocked()
}

// ManualReset forces CLOSED from any state and zeroes all counters. Operator
// override; always allowed, always persisted.
func (b *CircuitBreaker) ManualReset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs.Warnf("[Breaker] MANUAL RESET from state=%s (reason=%s)", b.st.State, b.st.TripReason)
	b.recoveryInFlight = false
	b.toClosedLocked("manual reset")
	b.persistLocked()
}

// Status returns a point-in-time snapshot for telemetry.
func (b *CircuitBreaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneAPIErrorsLocked(b.now())
	return Status{
		State:             b.st.State,
		TripReason:        b.st.TripReason,
		ConsecutiveLosses: b.st.ConsecutiveLosses,
		APIErrorCount:     len(b.st.APIErrorTimestamps),
		CooldownRemaining: b.cooldownRemainingLocked(),
		RecoverySuccesses: b.st.RecoverySuccesses,
		StartingBalance:   b.st.StartingBalance,
		CurrentBalance:    b.st.CurrentBalance,
		PeakBalance:       b.st.PeakBalance,
	}
}

// --- internal transitions, lock held ---

func (b *CircuitBreaker) evaluateTripsLocked() {
	if b.st.State != StateClosed {
		return
	}

	if b.st.StartingBalance > 0 {
		dailyLoss := (b.st.StartingBalance - b.st.CurrentBalance) / b.st.StartingBalance
		if dailyLoss >= b.cfg.DailyLossLimitPct {
			b.tripLocked(ReasonDailyLoss)
			return
		}
	}
	if b.st.PeakBalance > 0 {
		drawdown := (b.st.PeakBalance - b.st.CurrentBalance) / b.st.PeakBalance
		if drawdown >= b.cfg.MaxDrawdownPct {
			b.tripLocked(ReasonMaxDrawdown)
			return
		}
	}
	if b.st.ConsecutiveLosses >= b.cfg.ConsecutiveLossLimit {
		b.tripLocked(ReasonConsecutiveLosses)
	}
}

func (b *CircuitBreaker) tripLocked(reason TripReason) {
	if b.st.State == StateOpen {
		return
	}
	b.st.State = StateOpen
	b.st.TripReason = reason
	b.st.TripTime = b.now()
	b.st.RecoverySuccesses = 0
	logs.Errorf("[Breaker] TRIPPED: %s (balance %.2f / start %.2f / peak %.2f, consecutive losses %d)",
		reason, b.st.CurrentBalance, b.st.StartingBalance, b.st.PeakBalance, b.st.ConsecutiveLosses)
}

func (b *CircuitBreaker) toHalfOpenLocked(why string) {
	b.st.State = StateHalfOpen
	b.st.RecoverySuccesses = 0
	b.recoveryInFlight = false
	logs.Warnf("[Breaker] OPEN -> HALF_OPEN (%s), %d recovery trades required", why, b.cfg.RecoveryTradesRequired)
	b.persistLocked()
}

func (b *CircuitBreaker) toClosedLocked(why string) {
	b.st.State = StateClosed
	b.st.TripReason = ReasonNone
	b.st.TripTime = time.Time{}
	b.st.ConsecutiveLosses = 0
	b.st.APIErrorTimestamps = b.st.APIErrorTimestamps[:0]
	b.st.RecoverySuccesses = 0
	logs.Infof("[Breaker] -> CLOSED (%s)", why)
}

func (b *CircuitBreaker) pruneAPIErrorsLocked(now time.Time) {
	window := time.Duration(b.cfg.APIErrorWindowMinutes * float64(time.Minute))
	cutoff := now.Add(-window)
	kept := b.st.APIErrorTimestamps[:0]
	for _, ts := range b.st.APIErrorTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.st.APIErrorTimestamps = kept
}

func (b *CircuitBreaker) cooldownRemainingLocked() time.Duration {
	if b.st.State != StateOpen {
		return 0
	}
	cooldown := time.Duration(b.cfg.CooldownMinutes * float64(time.Minute))
	remaining := cooldown - b.now().Sub(b.st.TripTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// persistLocked writes the state file, retrying once. A second failure
// latches fail-closed: CanTrade reports false until a later write succeeds.
func (b *CircuitBreaker) persistLocked() {
	err := saveStateFile(b.stateFilePath, &b.st)
	if err != nil {
		logs.Warnf("[Breaker] State persist failed, retrying once: %v", err)
		err = saveStateFile(b.stateFilePath, &b.st)
	}
	if err != nil {
		b.persistFailed = true
		logs.Errorf("[Breaker] CRITICAL: state persist failed twice, trading blocked until writable: %v", err)
		return
	}
	b.persistFailed = false
}
