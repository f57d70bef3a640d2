package binance

import "context"

// BinanceClient defines the spot API operations the exchange adapter uses
type BinanceClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetAllPrices(ctx context.Context) (map[string]float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	PlaceOrder(ctx context.Context, params map[string]string) (*OrderResponse, error)
}

// AccountInfo represents spot account information
type AccountInfo struct {
	CanTrade    bool           `json:"canTrade"`
	UpdateTime  int64          `json:"updateTime"`
	AccountType string         `json:"accountType"`
	Balances    []AssetBalance `json:"balances"`
}

// AssetBalance represents a single asset balance
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Ensure both Client and MockClient implement BinanceClient
var _ BinanceClient = (*Client)(nil)
var _ BinanceClient = (*MockClient)(nil)
