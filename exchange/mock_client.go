package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"stoic_citadel_go/logs"
	"stoic_citadel_go/ticker"
)

//
// In-memory exchange for running and testing the executor without a real API.
//

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// MockClient simulates an exchange: it keeps an order map, fills crossed
// limit orders, and (optionally) runs a random-walk price simulator that
// publishes ticker updates through an embedded Hub.
type MockClient struct {
	mu           sync.RWMutex
	openOrders   map[string]*Order
	closedOrders map[string]*Order
	nextOrderID  int64
	currentPrice map[string]float64
	symbolInfo   map[string]SymbolInfo

	spreadPct    float64
	stepPct      float64
	tickInterval time.Duration

	// Fault injection for tests.
	failReplaces int
	failCreates  int

	hub      *ticker.Hub
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMockClient creates a mock exchange with no symbols configured.
func NewMockClient() *MockClient {
	return &MockClient{
		openOrders:   make(map[string]*Order),
		closedOrders: make(map[string]*Order),
		nextOrderID:  1,
		currentPrice: make(map[string]float64),
		symbolInfo:   make(map[string]SymbolInfo),
		spreadPct:    0.0004,
		stepPct:      0.0008,
		tickInterval: 200 * time.Millisecond,
		hub:          ticker.NewHub(),
		stopChan:     make(chan struct{}),
	}
}

// AddSymbol registers a tradable symbol with a starting price.
func (c *MockClient) AddSymbol(symbol string, initialPrice float64, pricePrecision int, tickSize float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPrice[symbol] = initialPrice
	c.symbolInfo[symbol] = SymbolInfo{Symbol: symbol, PricePrecision: pricePrecision, TickSize: tickSize}
}

// Feed exposes the simulator's ticker stream.
func (c *MockClient) Feed() *ticker.Hub {
	return c.hub
}

// FailNextReplaces makes the next n ReplaceOrder calls return an error.
func (c *MockClient) FailNextReplaces(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReplaces = n
}

// FailNextCreates makes the next n CreateOrder calls return an error.
func (c *MockClient) FailNextCreates(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCreates = n
}

// Start launches the random-walk price simulator. Must be called after all
// symbols are added.
func (c *MockClient) Start() {
	c.wg.Add(1)
	go c.runPriceSimulator()
}

// Stop halts the simulator and waits for it to exit.
func (c *MockClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *MockClient) runPriceSimulator() {
	defer c.wg.Done()
	tick := time.NewTicker(c.tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-tick.C:
			c.mu.RLock()
			symbols := make([]string, 0, len(c.currentPrice))
			for s := range c.currentPrice {
				symbols = append(symbols, s)
			}
			c.mu.RUnlock()

			for _, s := range symbols {
				c.mu.Lock()
				p := c.currentPrice[s]
				p *= 1 + (rand.Float64()*2-1)*c.stepPct
				c.currentPrice[s] = p
				c.mu.Unlock()
				c.SetPrice(s, p)
			}
		}
	}
}

// SetPrice drives the market to a specific price: open orders are matched
// against the implied bid/ask and a ticker update is published. Tests use
// this to feed deterministic price sequences.
func (c *MockClient) SetPrice(symbol string, price float64) {
	halfSpread := price * c.spreadPct / 2
	bid := price - halfSpread
	ask := price + halfSpread

	c.mu.Lock()
	c.currentPrice[symbol] = price
	filled := c.matchLocked(symbol, bid, ask)
	c.mu.Unlock()

	for _, o := range filled {
		logs.Debugf("[Mock Client] Order %s filled at %.8f", o.OrderID, o.AvgPrice)
	}

	c.hub.Publish(ticker.Update{
		Symbol:          symbol,
		BestBid:         bid,
		BestBidExchange: "mock",
		BestAsk:         ask,
		BestAskExchange: "mock",
		Spread:          ask - bid,
		SpreadPct:       c.spreadPct,
		VWAP:            price,
		Timestamp:       time.Now(),
	})
}

// matchLocked fills every open order for symbol crossed by the quote:
// a limit BUY fills once the ask trades at or below its price, a limit SELL
// once the bid trades at or above it.
func (c *MockClient) matchLocked(symbol string, bid, ask float64) []*Order {
	var filled []*Order
	for id, o := range c.openOrders {
		if o.Symbol != symbol {
			continue
		}
		crossed := (o.Side == Buy && ask <= o.Price) || (o.Side == Sell && bid >= o.Price)
		if !crossed {
			continue
		}
		o.Status = Filled
		o.ExecutedQty = o.OrigQty
		o.AvgPrice = o.Price
		o.UpdateTime = time.Now().UnixMilli()
		c.closedOrders[id] = o
		delete(c.openOrders, id)
		filled = append(filled, o)
	}
	return filled
}

func (c *MockClient) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failCreates > 0 {
		c.failCreates--
		return nil, fmt.Errorf("mock exchange: injected create failure")
	}
	if _, ok := c.currentPrice[symbol]; !ok {
		return nil, fmt.Errorf("mock exchange: unknown symbol %s", symbol)
	}
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("mock exchange: qty and price must be positive (qty=%.8f price=%.8f)", qty, price)
	}

	id := strconv.FormatInt(c.nextOrderID, 10)
	c.nextOrderID++

	o := &Order{
		Symbol:     symbol,
		OrderID:    id,
		Side:       side,
		Price:      price,
		OrigQty:    qty,
		Status:     New,
		UpdateTime: time.Now().UnixMilli(),
	}
	c.openOrders[id] = o

	// Immediately crossed orders fill on the spot.
	p := c.currentPrice[symbol]
	halfSpread := p * c.spreadPct / 2
	c.matchLocked(symbol, p-halfSpread, p+halfSpread)

	return copyOrder(o), nil
}

func (c *MockClient) ReplaceOrder(ctx context.Context, orderID string, newPrice float64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failReplaces > 0 {
		c.failReplaces--
		return nil, fmt.Errorf("mock exchange: injected replace failure")
	}

	o, ok := c.openOrders[orderID]
	if !ok {
		if closed, wasOpen := c.closedOrders[orderID]; wasOpen {
			return nil, fmt.Errorf("mock exchange: order %s is %s, cannot replace", orderID, closed.Status)
		}
		return nil, fmt.Errorf("mock exchange: unknown order %s", orderID)
	}
	if newPrice <= 0 {
		return nil, fmt.Errorf("mock exchange: replace price must be positive, got %.8f", newPrice)
	}

	o.Price = newPrice
	o.UpdateTime = time.Now().UnixMilli()

	p := c.currentPrice[o.Symbol]
	halfSpread := p * c.spreadPct / 2
	c.matchLocked(o.Symbol, p-halfSpread, p+halfSpread)

	return copyOrder(o), nil
}

func (c *MockClient) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.openOrders[orderID]
	if !ok {
		if closed, wasOpen := c.closedOrders[orderID]; wasOpen {
			return copyOrder(closed), nil // already terminal, cancel is a no-op
		}
		return nil, fmt.Errorf("mock exchange: unknown order %s", orderID)
	}

	o.Status = Canceled
	o.UpdateTime = time.Now().UnixMilli()
	c.closedOrders[orderID] = o
	delete(c.openOrders, orderID)
	return copyOrder(o), nil
}

func (c *MockClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if o, ok := c.openOrders[orderID]; ok {
		return copyOrder(o), nil
	}
	if o, ok := c.closedOrders[orderID]; ok {
		return copyOrder(o), nil
	}
	return nil, fmt.Errorf("mock exchange: unknown order %s", orderID)
}

func (c *MockClient) GetPrice(symbol string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.currentPrice[symbol]
	if !ok {
		return 0, fmt.Errorf("mock exchange: unknown symbol %s", symbol)
	}
	return p, nil
}

func (c *MockClient) GetSymbolInfo(symbol string) (SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	si, ok := c.symbolInfo[symbol]
	return si, ok
}

// OpenOrderCount reports how many orders are resting, for assertions.
func (c *MockClient) OpenOrderCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.openOrders)
}

func copyOrder(o *Order) *Order {
	cp := *o
	return &cp
}
