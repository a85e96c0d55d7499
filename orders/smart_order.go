// Package orders implements smart orders (limit orders with adaptive price
// logic) and the executor that drives one lifecycle goroutine per order.
package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the executor-side lifecycle state of a smart order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusActive    Status = "ACTIVE"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Side of the order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SmartOrder is one requested trade. Quantity is immutable after creation;
// the working price mutates only through the chase algorithm. The executor
// exclusively owns an order for its active lifetime.
type SmartOrder struct {
	ID        string
	Symbol    string
	Side      Side
	Quantity  float64
	CreatedAt time.Time
	Timeout   time.Duration // zero means no deadline

	mu              sync.Mutex
	price           float64
	status          Status
	lastError       string
	exchangeOrderID string
}

// NewSmartOrder creates a plain limit order with no price adaptation.
func NewSmartOrder(symbol string, side Side, quantity, price float64, timeout time.Duration) (*SmartOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("orders: symbol is required")
	}
	if side != Buy && side != Sell {
		return nil, fmt.Errorf("orders: invalid side %q", side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("orders: quantity must be positive, got %.8f", quantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("orders: price must be positive, got %.8f", price)
	}
	return &SmartOrder{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		CreatedAt: time.Now(),
		Timeout:   timeout,
		price:     price,
		status:    StatusPending,
	}, nil
}

// Base lets embedders expose the underlying SmartOrder to the executor.
func (o *SmartOrder) Base() *SmartOrder { return o }

// OnTickerUpdate is a no-op for a plain limit order; variants with adaptive
// pricing override it.
func (o *SmartOrder) OnTickerUpdate(bestBid, bestAsk, spreadPct float64) (float64, bool) {
	return o.Price(), false
}

// Price returns the current working price.
func (o *SmartOrder) Price() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price
}

// Status returns the current lifecycle status.
func (o *SmartOrder) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// setStatus applies a transition. Terminal states are sticky: a late status
// write (e.g., the lifecycle loop racing a cancel) never resurrects an order.
func (o *SmartOrder) setStatus(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return
	}
	o.status = s
}

func (o *SmartOrder) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return
	}
	o.status = StatusFailed
	o.lastError = err.Error()
}

// LastError returns the captured failure message, if any.
func (o *SmartOrder) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// IsActive reports whether the lifecycle loop should keep running.
func (o *SmartOrder) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status == StatusSubmitted || o.status == StatusActive
}

// TimedOut reports whether the order's deadline has passed.
func (o *SmartOrder) TimedOut(now time.Time) bool {
	return o.Timeout > 0 && now.Sub(o.CreatedAt) >= o.Timeout
}

// ExchangeOrderID returns the venue-assigned ID once the order is placed.
func (o *SmartOrder) ExchangeOrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeOrderID
}

func (o *SmartOrder) setExchangeOrderID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exchangeOrderID = id
}
