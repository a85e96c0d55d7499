package exchange

import (
	"context"
)

// OrderSide defines the order direction (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderStatus defines the exchange-side order status.
type OrderStatus string

const (
	New             OrderStatus = "NEW"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Canceled        OrderStatus = "CANCELED"
	Expired         OrderStatus = "EXPIRED"
)

// Order represents an exchange order as the venue reports it.
type Order struct {
	Symbol        string      `json:"symbol"`
	OrderID       string      `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Side          OrderSide   `json:"side"`
	Price         float64     `json:"price"`
	OrigQty       float64     `json:"origQty"`
	ExecutedQty   float64     `json:"executedQty"`
	AvgPrice      float64     `json:"avgPrice"`
	Status        OrderStatus `json:"status"`
	UpdateTime    int64       `json:"updateTime"`
}

// SymbolInfo holds trading-rule information for a single symbol.
type SymbolInfo struct {
	Symbol         string  `json:"symbol"`
	PricePrecision int     `json:"pricePrecision"`
	TickSize       float64 `json:"tickSize"`
}

// Client defines the interface the executor needs from an exchange.
// Implementations must be safe for concurrent use.
type Client interface {
	// CreateOrder submits a new limit order and returns the venue's view of it.
	CreateOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64) (*Order, error)

	// ReplaceOrder moves an open order to a new price, preserving queue
	// semantics the venue offers (cancel/replace under the hood is fine).
	ReplaceOrder(ctx context.Context, orderID string, newPrice float64) (*Order, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID string) (*Order, error)

	// FetchOrder gets the current state of an order.
	FetchOrder(ctx context.Context, orderID string) (*Order, error)

	// GetPrice gets the latest trade price for a symbol.
	GetPrice(symbol string) (float64, error)

	// GetSymbolInfo gets trading-rule information from cache.
	GetSymbolInfo(symbol string) (SymbolInfo, bool)
}
