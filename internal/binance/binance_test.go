package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/trading"
)

func TestAPIErrorInsufficientBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	}))
	defer srv.Close()

	c := NewClient("key", "secret", srv.URL)
	_, err := c.PlaceOrder(context.Background(), map[string]string{"symbol": "BTCUSDT"})
	if !errors.Is(err, trading.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2010 {
		t.Errorf("Expected APIError code -2010, got %v", err)
	}
}

func TestAPIErrorOtherCode(t *testing.T) {
	err := error(&APIError{Status: 400, Code: -1013, Message: "Filter failure: LOT_SIZE"})
	if errors.Is(err, trading.ErrInsufficientBalance) {
		t.Error("Expected LOT_SIZE failure not to match insufficient balance")
	}
}

// TestSignedRequest verifies the signature covers the exact query sent
func TestSignedRequest(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-MBX-APIKEY")
		fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":7,"executedQty":"0.5","cummulativeQuoteQty":"50","status":"FILLED","fills":[{"price":"100","qty":"0.5"}]}`)
	}))
	defer srv.Close()

	c := NewClient("key", "secret", srv.URL)
	resp, err := c.PlaceOrder(context.Background(), map[string]string{"symbol": "BTCUSDT", "side": "BUY"})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if resp.OrderId != 7 || resp.ExecutedQty != 0.5 || len(resp.Fills) != 1 || resp.Fills[0].Price != 100 {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if gotKey != "key" {
		t.Errorf("Expected API key header, got %q", gotKey)
	}
	idx := strings.LastIndex(gotQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("Expected signature in query %q", gotQuery)
	}
	if sig := gotQuery[idx+len("&signature="):]; sig != c.sign(gotQuery[:idx]) {
		t.Errorf("Signature does not match signed payload")
	}
}

func TestTradingFilters(t *testing.T) {
	info := SymbolInfo{Filters: []SymbolFilter{
		{FilterType: "PRICE_FILTER"},
		{FilterType: "LOT_SIZE", StepSize: "0.00100000"},
		{FilterType: "NOTIONAL", MinNotional: "5.00000000"},
	}}
	f := info.TradingFilters()
	if f.StepSize != 0.001 || f.MinNotional != 5 {
		t.Errorf("Unexpected filters: %+v", f)
	}
}

func TestExchangeWithMockClient(t *testing.T) {
	ctx := context.Background()
	mc := NewMockClient("USDT", 1000)
	mc.SetPrice("ETHUSDT", 2000)
	ex := NewExchange(mc, "USDT")

	fill, err := ex.PlaceMarketBuy(ctx, "ETHUSDT", 0.1)
	if err != nil {
		t.Fatalf("PlaceMarketBuy failed: %v", err)
	}
	if fill.FilledQty() != 0.1 || fill.AveragePrice(0) != 2000 {
		t.Errorf("Unexpected fill: %+v", fill)
	}

	held, _ := ex.BaseAssetBalance(ctx, "ETHUSDT")
	if held != 0.1 {
		t.Errorf("Expected 0.1 ETH, got %v", held)
	}
	total, _ := ex.TotalValue(ctx, "USDT")
	if total < 999.99 || total > 1000.01 {
		t.Errorf("Expected total value 1000, got %v", total)
	}
	step, _ := ex.TradingStep(ctx, "ETHUSDT")
	if step != 0.0001 {
		t.Errorf("Expected step 0.0001, got %v", step)
	}

	_, err = ex.PlaceLimitSell(ctx, "ETHUSDT", 1, 2100)
	if !errors.Is(err, trading.ErrInsufficientBalance) {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := ex.PlaceLimitSell(ctx, "ETHUSDT", 0.1, 2100); err != nil {
		t.Errorf("PlaceLimitSell failed: %v", err)
	}
	if usdt := mc.Balance("USDT"); usdt < 1009.99 || usdt > 1010.01 {
		t.Errorf("Expected 1010 USDT after round trip, got %v", usdt)
	}
}

func TestClientOrderIDLength(t *testing.T) {
	if id := newClientOrderID(); len(id) > 36 || !strings.HasPrefix(id, "spx-") {
		t.Errorf("Unexpected client order id %q", id)
	}
}

func TestTradeStreamDeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","s":"BTCUSDT","p":"100.5"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","s":"BTCUSDT","p":"101"}`))
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ts := NewTradeStream("ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())
	ticks := make(chan float64, 4)
	unsubscribe, err := ts.SubscribePriceTicks("BTCUSDT", func(p float64) { ticks <- p })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for _, want := range []float64{100.5, 101} {
		select {
		case got := <-ticks:
			if got != want {
				t.Errorf("Expected tick %v, got %v", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for tick")
		}
	}

	unsubscribe()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if path != "/btcusdt@trade" {
		t.Errorf("Expected /btcusdt@trade, got %s", path)
	}
}
