// exchange/client.go
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"stoic_citadel_go/logs"
)

// Ensure APIClient implements the Client interface.
var _ Client = (*APIClient)(nil)

// APIClient talks to a Binance-futures-style signed REST API.
type APIClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client

	symbolInfoMu    sync.RWMutex
	symbolInfoCache map[string]SymbolInfo

	// The order endpoints key on (symbol, orderId), so the symbol each
	// order was created under is remembered for later fetch and cancel.
	orderSymMu  sync.RWMutex
	orderSymbol map[string]string
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// rawOrder is the wire shape; prices and quantities arrive as strings.
type rawOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

func (r *rawOrder) toOrder() *Order {
	price, _ := strconv.ParseFloat(r.Price, 64)
	origQty, _ := strconv.ParseFloat(r.OrigQty, 64)
	execQty, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(r.AvgPrice, 64)
	return &Order{
		Symbol:        r.Symbol,
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Side:          OrderSide(r.Side),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   execQty,
		AvgPrice:      avgPrice,
		Status:        OrderStatus(r.Status),
		UpdateTime:    r.UpdateTime,
	}
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds int) *APIClient {
	return &APIClient{
		apiKey:          apiKey,
		apiSecret:       apiSecret,
		baseURL:         baseURL,
		http:            &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		symbolInfoCache: make(map[string]SymbolInfo),
		orderSymbol:     make(map[string]string),
	}
}

// LoadExchangeInfo fetches and caches trading rules for all symbols. Call once
// at startup before placing orders.
func (c *APIClient) LoadExchangeInfo() error {
	resp, err := c.http.Get(c.baseURL + "/fapi/v1/exchangeInfo")
	if err != nil {
		return fmt.Errorf("failed to fetch exchange info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read exchange info body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("exchange info API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Symbols []struct {
			Symbol         string `json:"symbol"`
			PricePrecision int    `json:"pricePrecision"`
			Filters        []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to parse exchange info: %w", err)
	}

	c.symbolInfoMu.Lock()
	defer c.symbolInfoMu.Unlock()
	for _, s := range info.Symbols {
		si := SymbolInfo{Symbol: s.Symbol, PricePrecision: s.PricePrecision}
		for _, f := range s.Filters {
			if f.FilterType == "PRICE_FILTER" {
				si.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			}
		}
		c.symbolInfoCache[s.Symbol] = si
	}
	logs.Infof("[API Client] Cached trading rules for %d symbols", len(info.Symbols))
	return nil
}

// sendRequest handles signing, sending, and error decoding for one call.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, endpoint, queryString, signature)
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("API error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
		}
	}
	return nil
}

func (c *APIClient) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))

	var raw rawOrder
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &raw); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	order := raw.toOrder()

	c.orderSymMu.Lock()
	c.orderSymbol[order.OrderID] = order.Symbol
	c.orderSymMu.Unlock()
	return order, nil
}

func (c *APIClient) symbolFor(orderID string) (string, error) {
	c.orderSymMu.RLock()
	defer c.orderSymMu.RUnlock()
	sym, ok := c.orderSymbol[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s: not created through this client", orderID)
	}
	return sym, nil
}

// ReplaceOrder is cancel-then-create: the venue has no in-place modify for
// limit price. Loss of queue position is accepted.
func (c *APIClient) ReplaceOrder(ctx context.Context, orderID string, newPrice float64) (*Order, error) {
	old, err := c.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order for replace: %w", err)
	}
	if old.Status != New && old.Status != PartiallyFilled {
		return nil, fmt.Errorf("order %s is %s, cannot replace", orderID, old.Status)
	}
	if _, err := c.CancelOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("failed to cancel order for replace: %w", err)
	}
	remaining := old.OrigQty - old.ExecutedQty
	return c.CreateOrder(ctx, old.Symbol, old.Side, remaining, newPrice)
}

func (c *APIClient) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	sym, err := c.symbolFor(orderID)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", sym)
	params.Set("orderId", orderID)

	var raw rawOrder
	if err := c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, &raw); err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return raw.toOrder(), nil
}

func (c *APIClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	sym, err := c.symbolFor(orderID)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", sym)
	params.Set("orderId", orderID)

	var raw rawOrder
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	return raw.toOrder(), nil
}

func (c *APIClient) GetPrice(symbol string) (float64, error) {
	resp, err := c.http.Get(c.baseURL + "/fapi/v1/ticker/price?symbol=" + url.QueryEscape(symbol))
	if err != nil {
		return 0, fmt.Errorf("failed to get price: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("price API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("failed to parse price response: %w", err)
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

func (c *APIClient) GetSymbolInfo(symbol string) (SymbolInfo, bool) {
	c.symbolInfoMu.RLock()
	defer c.symbolInfoMu.RUnlock()
	si, ok := c.symbolInfoCache[symbol]
	return si, ok
}
