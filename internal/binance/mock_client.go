package binance

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockClient simulates the spot API for dry runs: prices random-walk and
// orders fill immediately against simulated balances.
type MockClient struct {
	mu          sync.RWMutex
	prices      map[string]float64
	balances    map[string]float64
	quote       string
	stepSize    float64
	minNotional float64
	nextOrderID int64
	lastUpdate  time.Time
	walk        bool
}

// NewMockClient creates a mock client funded with quoteBalance of quote
func NewMockClient(quote string, quoteBalance float64) *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BTC" + quote: 104500.00,
			"ETH" + quote: 3900.00,
			"BNB" + quote: 710.00,
			"SOL" + quote: 220.00,
			"XRP" + quote: 2.35,
		},
		balances:    map[string]float64{quote: quoteBalance},
		quote:       quote,
		stepSize:    0.0001,
		minNotional: 5,
		nextOrderID: 1,
		lastUpdate:  time.Now(),
		walk:        true,
	}
}

// SetPrice fixes a symbol's price and stops the random walk
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
	mc.walk = false
}

// SetBalance sets an asset's free balance
func (mc *MockClient) SetBalance(asset string, qty float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.balances[asset] = qty
}

// Balance returns an asset's free balance
func (mc *MockClient) Balance(asset string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.balances[asset]
}

// updatePrices adds small random variations to simulate market movement
func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.walk || time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for symbol, price := range mc.prices {
		change := (rand.Float64() - 0.5) * 0.01
		mc.prices[symbol] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) price(symbol string) (float64, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	p, ok := mc.prices[symbol]
	if !ok {
		return 0, &APIError{Status: 400, Code: -1121, Message: "Invalid symbol."}
	}
	return p, nil
}

// GetKlines returns simulated one-step candles ending at the current price
func (mc *MockClient) GetKlines(_ context.Context, symbol, interval string, limit int) ([]Kline, error) {
	mc.updatePrices()
	last, err := mc.price(symbol)
	if err != nil {
		return nil, err
	}

	klines := make([]Kline, limit)
	now := time.Now().Truncate(time.Minute)
	price := last
	for i := limit - 1; i >= 0; i-- {
		open := math.Max(price*(1+(rand.Float64()-0.5)*0.004), 0)
		klines[i] = Kline{
			OpenTime:  now.Add(-time.Duration(limit-i) * time.Minute).UnixMilli(),
			Open:      open,
			High:      math.Max(open, price) * 1.001,
			Low:       math.Min(open, price) * 0.999,
			Close:     price,
			Volume:    100 + rand.Float64()*50,
			CloseTime: now.Add(-time.Duration(limit-i-1)*time.Minute).UnixMilli() - 1,
		}
		price = open
	}
	return klines, nil
}

func (mc *MockClient) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	mc.updatePrices()
	return mc.price(symbol)
}

func (mc *MockClient) GetAllPrices(_ context.Context) (map[string]float64, error) {
	mc.updatePrices()
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make(map[string]float64, len(mc.prices))
	for k, v := range mc.prices {
		out[k] = v
	}
	return out, nil
}

func (mc *MockClient) GetSymbolInfo(_ context.Context, symbol string) (*SymbolInfo, error) {
	if _, err := mc.price(symbol); err != nil {
		return nil, err
	}
	return &SymbolInfo{
		Symbol:     symbol,
		Status:     "TRADING",
		BaseAsset:  strings.TrimSuffix(symbol, mc.quote),
		QuoteAsset: mc.quote,
		Filters: []SymbolFilter{
			{FilterType: "LOT_SIZE", StepSize: strconv.FormatFloat(mc.stepSize, 'f', -1, 64), MinQty: strconv.FormatFloat(mc.stepSize, 'f', -1, 64)},
			{FilterType: "NOTIONAL", MinNotional: strconv.FormatFloat(mc.minNotional, 'f', -1, 64)},
		},
	}, nil
}

func (mc *MockClient) GetAccountInfo(_ context.Context) (*AccountInfo, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	info := &AccountInfo{CanTrade: true, AccountType: "SPOT", UpdateTime: time.Now().UnixMilli()}
	for asset, qty := range mc.balances {
		info.Balances = append(info.Balances, AssetBalance{
			Asset:  asset,
			Free:   strconv.FormatFloat(qty, 'f', -1, 64),
			Locked: "0",
		})
	}
	return info, nil
}

// PlaceOrder fills MARKET orders at the current price and LIMIT orders at
// their limit price, moving simulated balances.
func (mc *MockClient) PlaceOrder(_ context.Context, params map[string]string) (*OrderResponse, error) {
	symbol := params["symbol"]
	qty := parseFloat(params["quantity"])
	if qty <= 0 {
		return nil, &APIError{Status: 400, Code: -1013, Message: "Invalid quantity."}
	}

	price, err := mc.price(symbol)
	if err != nil {
		return nil, err
	}
	if params["type"] == "LIMIT" {
		price = parseFloat(params["price"])
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	base := strings.TrimSuffix(symbol, mc.quote)
	quoteQty := qty * price
	switch params["side"] {
	case "BUY":
		if mc.balances[mc.quote] < quoteQty {
			return nil, &APIError{Status: 400, Code: -2010, Message: "Account has insufficient balance for requested action."}
		}
		mc.balances[mc.quote] -= quoteQty
		mc.balances[base] += qty
	case "SELL":
		if mc.balances[base] < qty {
			return nil, &APIError{Status: 400, Code: -2010, Message: "Account has insufficient balance for requested action."}
		}
		mc.balances[base] -= qty
		mc.balances[mc.quote] += quoteQty
	default:
		return nil, fmt.Errorf("unsupported side %q", params["side"])
	}

	id := mc.nextOrderID
	mc.nextOrderID++
	return &OrderResponse{
		Symbol:              symbol,
		OrderId:             id,
		ClientOrderId:       params["newClientOrderId"],
		TransactTime:        time.Now().UnixMilli(),
		Price:               price,
		OrigQty:             qty,
		ExecutedQty:         qty,
		CummulativeQuoteQty: quoteQty,
		Status:              "FILLED",
		Type:                params["type"],
		Side:                params["side"],
		Fills:               []OrderFill{{Price: price, Qty: qty, CommissionAsset: mc.quote}},
	}, nil
}
