// Package ticker defines the aggregated market-data feed consumed by the
// smart order executor. Producers (a websocket stream in live mode, the mock
// exchange's price simulator in simulation) publish Updates through a Hub.
package ticker

import (
	"sync"
	"time"
)

// Update is one aggregated best-bid/best-ask snapshot for a symbol.
type Update struct {
	Symbol          string    `json:"symbol"`
	BestBid         float64   `json:"best_bid"`
	BestBidExchange string    `json:"best_bid_exchange"`
	BestAsk         float64   `json:"best_ask"`
	BestAskExchange string    `json:"best_ask_exchange"`
	Spread          float64   `json:"spread"`
	SpreadPct       float64   `json:"spread_pct"`
	VWAP            float64   `json:"vwap"`
	TotalVolume24h  float64   `json:"total_volume_24h"`
	Timestamp       time.Time `json:"timestamp"`
}

// Handler receives ticker updates. Handlers must not block; slow consumers
// should hand off to their own goroutine.
type Handler func(Update)

// Feed is the subscription contract the executor depends on.
type Feed interface {
	// Subscribe registers a handler for every subsequent update and returns
	// an unsubscribe function. Unsubscribing twice is a no-op.
	Subscribe(h Handler) (unsubscribe func())
}

// Hub is an in-process Feed implementation: synchronous fan-out to all
// registered handlers, in subscription order. Updates for one symbol are
// delivered in the order they are published.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]Handler)}
}

func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
		})
	}
}

// Publish delivers u to every current subscriber. The subscriber snapshot is
// taken under the lock; handlers run without it.
func (h *Hub) Publish(u Update) {
	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(u)
	}
}
