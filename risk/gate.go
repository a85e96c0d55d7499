// Package risk is the single pre-trade gate consulted before any order
// submission. The circuit breaker always runs first: when it rejects, no
// other check is evaluated and the trade is vetoed outright.
package risk

import (
	"fmt"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/logs"
)

// Side of the intended trade.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Intent describes the trade the caller wants to open.
type Intent struct {
	Symbol        string
	EntryPrice    float64
	StopLossPrice float64
	Side          Side
	Leverage      float64
}

// Decision is the gate's verdict. RejectionReason is empty iff Allowed.
type Decision struct {
	Allowed         bool
	RejectionReason string
}

// Check is one downstream pre-trade validation (liquidation distance,
// sizing caps, correlation exposure). Checks run in order after the breaker
// and the first rejection wins.
type Check interface {
	Name() string
	Validate(intent Intent) error
}

// Gate composes the circuit breaker with downstream checks.
type Gate struct {
	breaker *breaker.CircuitBreaker
	checks  []Check
}

func NewGate(cb *breaker.CircuitBreaker, checks ...Check) *Gate {
	return &Gate{breaker: cb, checks: checks}
}

// Evaluate decides whether the intended trade may be submitted. A false
// Allowed is a hard veto; callers must not bypass it.
func (g *Gate) Evaluate(intent Intent) Decision {
	if ok, reason := g.breaker.CanTrade(); !ok {
		logs.Warnf("[RiskGate] Trade blocked for %s: %s", intent.Symbol, reason)
		return Decision{Allowed: false, RejectionReason: reason}
	}

	for _, c := range g.checks {
		if err := c.Validate(intent); err != nil {
			reason := fmt.Sprintf("%s: %v", c.Name(), err)
			logs.Warnf("[RiskGate] Trade blocked for %s: %s", intent.Symbol, reason)
			return Decision{Allowed: false, RejectionReason: reason}
		}
	}
	return Decision{Allowed: true}
}
