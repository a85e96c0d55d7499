package orders

import (
	"fmt"
	"time"

	"stoic_citadel_go/utils"
)

// ChaseLimitOrder is a limit order whose price follows the best opposing
// quote toward a hard bound. A BUY chases the best bid upward but never past
// MaxChasePrice and never retreats; a SELL mirrors this downward.
type ChaseLimitOrder struct {
	*SmartOrder

	// MaxChasePrice is the ceiling for a BUY, the floor for a SELL.
	MaxChasePrice float64
	// ChaseOffset is the distance kept from the best opposing-side price.
	ChaseOffset float64
}

// NewChaseLimitOrder validates the guard rails and builds the order.
func NewChaseLimitOrder(symbol string, side Side, quantity, price, maxChasePrice, chaseOffset float64, timeout time.Duration) (*ChaseLimitOrder, error) {
	base, err := NewSmartOrder(symbol, side, quantity, price, timeout)
	if err != nil {
		return nil, err
	}
	if chaseOffset < 0 {
		return nil, fmt.Errorf("orders: chase offset cannot be negative, got %.8f", chaseOffset)
	}
	switch side {
	case Buy:
		if maxChasePrice < price {
			return nil, fmt.Errorf("orders: BUY max chase price %.8f is below initial price %.8f", maxChasePrice, price)
		}
	case Sell:
		if maxChasePrice > price {
			return nil, fmt.Errorf("orders: SELL max chase price %.8f is above initial price %.8f", maxChasePrice, price)
		}
	}
	return &ChaseLimitOrder{
		SmartOrder:    base,
		MaxChasePrice: maxChasePrice,
		ChaseOffset:   chaseOffset,
	}, nil
}

// chasePrice is the pure transition: given the current working price and the
// best opposing quote, it returns the next price. The result only ever moves
// toward bound (monotonic) and never crosses it.
func chasePrice(side Side, current, bestBid, bestAsk, offset, bound float64) float64 {
	switch side {
	case Buy:
		candidate := bestBid + offset
		if candidate < current {
			candidate = current // never retreat on a transient pull-back
		}
		if candidate > bound {
			candidate = bound
		}
		return candidate
	case Sell:
		candidate := bestAsk - offset
		if candidate > current {
			candidate = current
		}
		if candidate < bound {
			candidate = bound
		}
		return candidate
	}
	return current
}

// OnTickerUpdate recomputes the working price from a market update and
// reports whether it changed. Safe to call from the executor's fan-out.
func (o *ChaseLimitOrder) OnTickerUpdate(bestBid, bestAsk, spreadPct float64) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := chasePrice(o.Side, o.price, bestBid, bestAsk, o.ChaseOffset, o.MaxChasePrice)
	if utils.FloatEquals(next, o.price) {
		return o.price, false
	}
	o.price = next
	return next, true
}

// Capped reports whether the price has reached its bound; further updates
// are no-ops and the caller may choose to accept worse execution or cancel.
func (o *ChaseLimitOrder) Capped() bool {
	return utils.FloatEquals(o.Price(), o.MaxChasePrice)
}
