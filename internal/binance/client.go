package binance

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
	"strings"
	"time"

	"binance-spot-executor/internal/trading"
)

// spotWeightPerMinute is the exchange's REQUEST_WEIGHT limit for spot
const spotWeightPerMinute = 6000

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

func NewClient(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewRateLimiter(spotWeightPerMinute),
	}
}

// APIError is an error body returned by the exchange
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Is matches trading.ErrInsufficientBalance for the exchange's
// insufficient-balance rejection
func (e *APIError) Is(target error) bool {
	return target == trading.ErrInsufficientBalance &&
		strings.Contains(strings.ToLower(e.Message), "insufficient balance")
}

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

// OrderFill is one fill of an order
type OrderFill struct {
	Price           float64 `json:"price,string"`
	Qty             float64 `json:"qty,string"`
	Commission      float64 `json:"commission,string"`
	CommissionAsset string  `json:"commissionAsset"`
}

// OrderResponse represents a response from placing an order
type OrderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderId             int64       `json:"orderId"`
	ClientOrderId       string      `json:"clientOrderId"`
	TransactTime        int64       `json:"transactTime"`
	Price               float64     `json:"price,string"`
	OrigQty             float64     `json:"origQty,string"`
	ExecutedQty         float64     `json:"executedQty,string"`
	CummulativeQuoteQty float64     `json:"cummulativeQuoteQty,string"`
	Status              string      `json:"status"`
	Type                string      `json:"type"`
	Side                string      `json:"side"`
	Fills               []OrderFill `json:"fills"`
}

// SymbolFilter is one entry of a symbol's filters list
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// SymbolInfo represents basic symbol information
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// ExchangeInfo represents exchange information response
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// TradingFilters extracts LOT_SIZE step and MIN_NOTIONAL/NOTIONAL minimum
func (s SymbolInfo) TradingFilters() trading.SymbolFilters {
	var f trading.SymbolFilters
	for _, flt := range s.Filters {
		switch flt.FilterType {
		case "LOT_SIZE":
			f.StepSize = parseFloat(flt.StepSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			if v := parseFloat(flt.MinNotional); v > 0 {
				f.MinNotional = v
			}
		}
	}
	return f
}

// GetKlines fetches candlestick data
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  int64(parseFloat(raw[0])),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: int64(parseFloat(raw[6])),
		})
	}
	return klines, nil
}

// GetCurrentPrice fetches the current price for a symbol
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.get(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}
	return priceResp.Price, nil
}

// GetAllPrices fetches the last price of every symbol
func (c *Client) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	body, err := c.get(ctx, "/api/v3/ticker/price", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}

	var raw []struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing prices: %w", err)
	}
	prices := make(map[string]float64, len(raw))
	for _, p := range raw {
		prices[p.Symbol] = p.Price
	}
	return prices, nil
}

// GetSymbolInfo fetches exchange information for one symbol
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.get(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return &info.Symbols[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// GetAccountInfo fetches spot balances
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("error fetching account: %w", err)
	}

	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing account: %w", err)
	}
	return &info, nil
}

// PlaceOrder places a new order
func (c *Client) PlaceOrder(ctx context.Context, params map[string]string) (*OrderResponse, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("newOrderRespType", "FULL")

	body, err := c.signed(ctx, http.MethodPost, "/api/v3/order", values)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &orderResp, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	priority := PriorityNormal
	if req.Method != http.MethodGet {
		priority = PriorityCritical
	}
	if err := c.limiter.Acquire(req.Context(), req.URL.Path, priority); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.limiter.UpdateFromHeaders(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		c.limiter.RecordBan(time.Duration(retryAfter) * time.Second)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}

// sign creates an HMAC-SHA256 signature of the encoded query
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
