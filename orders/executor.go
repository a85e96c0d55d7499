package orders

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"stoic_citadel_go/config"
	"stoic_citadel_go/exchange"
	"stoic_citadel_go/logs"
	"stoic_citadel_go/ticker"
)

// Managed is what the executor needs from an order: access to the shared
// SmartOrder bookkeeping and the (possibly no-op) price reaction to a tick.
type Managed interface {
	Base() *SmartOrder
	OnTickerUpdate(bestBid, bestAsk, spreadPct float64) (newPrice float64, changed bool)
}

// APIErrorSink receives exchange-call failures; the circuit breaker
// implements it so error storms can trip trading off.
type APIErrorSink interface {
	RecordAPIError()
}

// Summary is a read-only view of one managed order for telemetry.
type Summary struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Status   Status  `json:"status"`
	Capped   bool    `json:"capped"`
}

// Stats are monotonic lifetime totals for telemetry.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Filled    int64 `json:"filled"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
	Expired   int64 `json:"expired"`
	Replaces  int64 `json:"replaces"`
}

// Executor owns every active smart order and runs one lifecycle goroutine per
// order. The order and cancel maps are guarded by a single mutex; the ticker
// fan-out snapshots under the lock and releases it before touching any order,
// so a slow exchange call never stalls unrelated order management.
type Executor struct {
	client  exchange.Client
	cfg     *config.ExecutorConfig
	errSink APIErrorSink // may be nil

	mu      sync.Mutex
	running bool
	orders  map[string]Managed
	cancels map[string]context.CancelFunc
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	nSubmitted atomic.Int64
	nFilled    atomic.Int64
	nCancelled atomic.Int64
	nFailed    atomic.Int64
	nExpired   atomic.Int64
	nReplaces  atomic.Int64
}

// NewExecutor creates a stopped executor. errSink may be nil.
func NewExecutor(client exchange.Client, cfg *config.ExecutorConfig, errSink APIErrorSink) *Executor {
	return &Executor{
		client:  client,
		cfg:     cfg,
		errSink: errSink,
		orders:  make(map[string]Managed),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start subscribes to the ticker feed and accepts submissions. feed may be
// nil when price updates are driven manually (tests).
func (e *Executor) Start(feed ticker.Feed) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true
	if feed != nil {
		e.unsub = feed.Subscribe(e.processTickerUpdate)
	}
	logs.Info("[Executor] Smart order executor started")
}

// Stop unsubscribes, cancels every lifecycle goroutine, and waits for all of
// them to exit before clearing state. No goroutine outlives Stop.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.orders = make(map[string]Managed)
	e.cancels = make(map[string]context.CancelFunc)
	e.mu.Unlock()
	logs.Info("[Executor] Smart order executor stopped")
}

// Submit registers the order and starts its lifecycle goroutine. It returns
// immediately; exchange placement happens inside the lifecycle and its
// failures surface as order status, never as a Submit error.
func (e *Executor) Submit(m Managed) (string, error) {
	o := m.Base()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return "", fmt.Errorf("executor is not running")
	}
	if _, exists := e.orders[o.ID]; exists {
		e.mu.Unlock()
		return "", fmt.Errorf("order %s is already managed", o.ID)
	}

	o.setStatus(StatusSubmitted)
	e.orders[o.ID] = m
	octx, ocancel := context.WithCancel(e.ctx)
	e.cancels[o.ID] = ocancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.manageOrder(octx, m)

	e.nSubmitted.Add(1)
	logs.Infof("[Executor] Submitted smart order %s (%s %s %.8f @ %.8f)", o.ID, o.Side, o.Symbol, o.Quantity, o.Price())
	return o.ID, nil
}

// Cancel marks the order CANCELLED, stops its lifecycle goroutine, and
// removes bookkeeping. Cancelling an unknown or already-terminal order is a
// no-op.
func (e *Executor) Cancel(orderID string) {
	e.mu.Lock()
	m, ok := e.orders[orderID]
	cancelFn := e.cancels[orderID]
	delete(e.orders, orderID)
	delete(e.cancels, orderID)
	e.mu.Unlock()

	if !ok {
		return
	}

	o := m.Base()
	o.setStatus(StatusCancelled)
	e.nCancelled.Add(1)
	if cancelFn != nil {
		cancelFn()
	}

	if exID := o.ExchangeOrderID(); exID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.client.CancelOrder(ctx, exID); err != nil {
			logs.Warnf("[Executor] Exchange cancel for order %s failed: %v", orderID, err)
			e.noteAPIError()
		}
	}
	logs.Infof("[Executor] Cancelled smart order %s", orderID)
}

// StatusOf returns the status of a managed order, or ok=false once the order
// is no longer tracked.
func (e *Executor) StatusOf(orderID string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.orders[orderID]
	if !ok {
		return "", false
	}
	return m.Base().Status(), true
}

// ActiveCount reports how many orders are currently managed.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

// Summaries returns a telemetry snapshot of every managed order.
func (e *Executor) Summaries() []Summary {
	e.mu.Lock()
	snapshot := make([]Managed, 0, len(e.orders))
	for _, m := range e.orders {
		snapshot = append(snapshot, m)
	}
	e.mu.Unlock()

	out := make([]Summary, 0, len(snapshot))
	for _, m := range snapshot {
		o := m.Base()
		s := Summary{
			ID:       o.ID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Quantity: o.Quantity,
			Price:    o.Price(),
			Status:   o.Status(),
		}
		if chaser, ok := m.(*ChaseLimitOrder); ok {
			s.Capped = chaser.Capped()
		}
		out = append(out, s)
	}
	return out
}

// Stats returns lifetime event totals since the executor was created.
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: e.nSubmitted.Load(),
		Filled:    e.nFilled.Load(),
		Cancelled: e.nCancelled.Load(),
		Failed:    e.nFailed.Load(),
		Expired:   e.nExpired.Load(),
		Replaces:  e.nReplaces.Load(),
	}
}

// manageOrder is the lifecycle goroutine: place the order, then poll for
// fills and the timeout until a terminal state or cancellation. Cleanup
// always runs, on every exit path.
func (e *Executor) manageOrder(ctx context.Context, m Managed) {
	o := m.Base()

	defer e.wg.Done()
	defer e.unregister(o.ID)
	defer func() {
		if r := recover(); r != nil {
			o.fail(fmt.Errorf("lifecycle panic: %v", r))
			e.nFailed.Add(1)
			logs.Errorf("[Executor] Order %s lifecycle panicked: %v", o.ID, r)
		}
	}()

	placed, err := e.placeWithRetry(ctx, o)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled before placement
		}
		o.fail(err)
		e.nFailed.Add(1)
		logs.Errorf("[Executor] Order %s failed to place: %v", o.ID, err)
		return
	}
	o.setExchangeOrderID(placed.OrderID)
	o.setStatus(StatusActive)
	if placed.Status == exchange.Filled {
		o.setStatus(StatusFilled)
		e.nFilled.Add(1)
		logs.Infof("[Executor] Order %s filled on placement at %.8f", o.ID, placed.AvgPrice)
		return
	}

	interval := time.Duration(e.cfg.PollIntervalMS) * time.Millisecond
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for o.IsActive() {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		if o.TimedOut(time.Now()) {
			// Abandoned: left to caller/exchange reconciliation. Status is
			// only changed by an explicit cancel.
			logs.Warnf("[Executor] Order %s timed out after %s, abandoning management", o.ID, o.Timeout)
			return
		}

		ex, err := e.client.FetchOrder(ctx, o.ExchangeOrderID())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Warnf("[Executor] Order %s fill poll failed: %v", o.ID, err)
			e.noteAPIError()
			continue
		}

		switch ex.Status {
		case exchange.Filled:
			o.setStatus(StatusFilled)
			e.nFilled.Add(1)
			logs.Infof("[Executor] Order %s filled at %.8f", o.ID, ex.AvgPrice)
			return
		case exchange.Canceled:
			o.setStatus(StatusCancelled)
			e.nCancelled.Add(1)
			logs.Infof("[Executor] Order %s cancelled on exchange", o.ID)
			return
		case exchange.Expired:
			o.setStatus(StatusExpired)
			e.nExpired.Add(1)
			logs.Warnf("[Executor] Order %s expired on exchange", o.ID)
			return
		}
	}
}

func (e *Executor) placeWithRetry(ctx context.Context, o *SmartOrder) (*exchange.Order, error) {
	placed, err := e.client.CreateOrder(ctx, o.Symbol, exchange.OrderSide(o.Side), o.Quantity, o.Price())
	if err == nil {
		return placed, nil
	}
	e.noteAPIError()
	logs.Warnf("[Executor] Order %s placement failed, retrying once: %v", o.ID, err)

	placed, err = e.client.CreateOrder(ctx, o.Symbol, exchange.OrderSide(o.Side), o.Quantity, o.Price())
	if err != nil {
		e.noteAPIError()
		return nil, fmt.Errorf("order placement failed twice: %w", err)
	}
	return placed, nil
}

// unregister removes the order from both maps. Safe to race with Cancel;
// both paths delete idempotently under the lock.
func (e *Executor) unregister(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancelFn, ok := e.cancels[orderID]; ok {
		cancelFn()
	}
	delete(e.orders, orderID)
	delete(e.cancels, orderID)
}

// processTickerUpdate fans a market update out to every active order for the
// symbol. The snapshot is taken under the lock; per-order work runs without
// it, and a fault in one order never blocks the others.
func (e *Executor) processTickerUpdate(u ticker.Update) {
	e.mu.Lock()
	ctx := e.ctx
	snapshot := make([]Managed, 0, len(e.orders))
	for _, m := range e.orders {
		if m.Base().Symbol == u.Symbol && m.Base().IsActive() {
			snapshot = append(snapshot, m)
		}
	}
	e.mu.Unlock()
	if ctx == nil {
		return
	}

	for _, m := range snapshot {
		e.applyUpdate(ctx, m, u)
	}
}

func (e *Executor) applyUpdate(ctx context.Context, m Managed, u ticker.Update) {
	o := m.Base()
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Executor] Ticker update for order %s panicked: %v", o.ID, r)
		}
	}()

	newPrice, changed := m.OnTickerUpdate(u.BestBid, u.BestAsk, u.SpreadPct)
	if !changed {
		return
	}

	exID := o.ExchangeOrderID()
	if exID == "" {
		// Not placed yet; the lifecycle will use the ratcheted price.
		return
	}

	replacePrice := e.snapToTick(o, newPrice)
	if _, err := e.client.ReplaceOrder(ctx, exID, replacePrice); err != nil {
		logs.Warnf("[Executor] Replace for order %s failed, retrying once: %v", o.ID, err)
		if _, err := e.client.ReplaceOrder(ctx, exID, replacePrice); err != nil {
			logs.Errorf("[Executor] Replace for order %s failed twice: %v", o.ID, err)
			e.noteAPIError()
			return
		}
	}
	e.nReplaces.Add(1)
	logs.Debugf("[Executor] Order %s chased to %.8f", o.ID, replacePrice)
}

// snapToTick rounds a replace price to the venue's tick grid, always toward
// the safe side so a BUY never rounds above its ceiling nor a SELL below its
// floor.
func (e *Executor) snapToTick(o *SmartOrder, price float64) float64 {
	si, ok := e.client.GetSymbolInfo(o.Symbol)
	if !ok || si.TickSize <= 0 {
		return price
	}
	if o.Side == Buy {
		return math.Floor(price/si.TickSize) * si.TickSize
	}
	return math.Ceil(price/si.TickSize) * si.TickSize
}

func (e *Executor) noteAPIError() {
	if e.errSink != nil {
		e.errSink.RecordAPIError()
	}
}
