package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"binance-spot-executor/internal/stepsize"
	"binance-spot-executor/internal/trading"
)

// defaultStepSize is used when a symbol reports no LOT_SIZE filter
const defaultStepSize = 0.0001

// Exchange adapts a BinanceClient to trading.Exchange, caching symbol
// metadata per symbol.
type Exchange struct {
	client BinanceClient
	quote  string

	mu      sync.RWMutex
	symbols map[string]*SymbolInfo
}

// NewExchange creates an exchange adapter valuing balances in quote
func NewExchange(client BinanceClient, quote string) *Exchange {
	return &Exchange{
		client:  client,
		quote:   quote,
		symbols: make(map[string]*SymbolInfo),
	}
}

var _ trading.Exchange = (*Exchange)(nil)

func (e *Exchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return e.client.GetCurrentPrice(ctx, symbol)
}

func (e *Exchange) FreeBalance(ctx context.Context, asset string) (float64, error) {
	info, err := e.client.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range info.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// TotalValue sums free and locked balances of every asset valued in quoteAsset.
// Assets without a direct <ASSET><QUOTE> market are skipped.
func (e *Exchange) TotalValue(ctx context.Context, quoteAsset string) (float64, error) {
	info, err := e.client.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	prices, err := e.client.GetAllPrices(ctx)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, b := range info.Balances {
		qty := parseFloat(b.Free) + parseFloat(b.Locked)
		if qty <= 0 {
			continue
		}
		if b.Asset == quoteAsset {
			total += qty
			continue
		}
		if p, ok := prices[b.Asset+quoteAsset]; ok {
			total += qty * p
		}
	}
	return total, nil
}

func (e *Exchange) BaseAssetBalance(ctx context.Context, symbol string) (float64, error) {
	base := strings.TrimSuffix(symbol, e.quote)
	if info, err := e.symbolInfo(ctx, symbol); err == nil && info.BaseAsset != "" {
		base = info.BaseAsset
	}
	return e.FreeBalance(ctx, base)
}

func (e *Exchange) TradingStep(ctx context.Context, symbol string) (float64, error) {
	f, err := e.SymbolFilters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.StepSize, nil
}

func (e *Exchange) SymbolFilters(ctx context.Context, symbol string) (trading.SymbolFilters, error) {
	info, err := e.symbolInfo(ctx, symbol)
	if err != nil {
		return trading.SymbolFilters{}, err
	}
	f := info.TradingFilters()
	if f.StepSize <= 0 {
		f.StepSize = defaultStepSize
	}
	return f, nil
}

func (e *Exchange) PlaceMarketBuy(ctx context.Context, symbol string, qty float64) (trading.Fill, error) {
	resp, err := e.client.PlaceOrder(ctx, map[string]string{
		"symbol":           symbol,
		"side":             "BUY",
		"type":             "MARKET",
		"quantity":         stepsize.Format(qty),
		"newClientOrderId": newClientOrderID(),
	})
	if err != nil {
		return trading.Fill{}, err
	}
	return toFill(resp, trading.SideBuy, qty), nil
}

func (e *Exchange) PlaceLimitSell(ctx context.Context, symbol string, qty, price float64) (trading.Fill, error) {
	resp, err := e.client.PlaceOrder(ctx, map[string]string{
		"symbol":           symbol,
		"side":             "SELL",
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         stepsize.Format(qty),
		"price":            stepsize.Format(price),
		"newClientOrderId": newClientOrderID(),
	})
	if err != nil {
		return trading.Fill{}, err
	}
	return toFill(resp, trading.SideSell, qty), nil
}

func (e *Exchange) RecentCandles(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	klines, err := e.client.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]trading.Candle, len(klines))
	for i, k := range klines {
		candles[i] = trading.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return candles, nil
}

func (e *Exchange) symbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	e.mu.RLock()
	info, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := e.client.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load filters for %s: %w", symbol, err)
	}
	e.mu.Lock()
	e.symbols[symbol] = info
	e.mu.Unlock()
	return info, nil
}

func toFill(resp *OrderResponse, side trading.Side, requested float64) trading.Fill {
	f := trading.Fill{
		OrderID:       resp.OrderId,
		ClientOrderID: resp.ClientOrderId,
		Symbol:        resp.Symbol,
		Side:          side,
		Status:        resp.Status,
		RequestedQty:  requested,
		ExecutedQty:   resp.ExecutedQty,
		QuoteQty:      resp.CummulativeQuoteQty,
	}
	if len(resp.Fills) > 0 {
		f.FirstFillPrice = resp.Fills[0].Price
	}
	return f
}

// newClientOrderID returns an exchange-safe client order ID (max 36 chars)
func newClientOrderID() string {
	return "spx-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:28]
}
