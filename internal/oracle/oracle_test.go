package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-spot-executor/internal/trading"
)

func candles(closes ...float64) []trading.Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]trading.Candle, len(closes))
	for i, c := range closes {
		out[i] = trading.Candle{OpenTime: base.Add(time.Duration(i) * time.Minute), Close: c, Low: c, High: c}
	}
	return out
}

func TestZigZag(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   []Pivot
	}{
		{"too short", []float64{1, 2, 3, 4}, nil},
		{"single high", []float64{1, 2, 5, 2, 1}, []Pivot{{Price: 5, Type: PivotHigh}}},
		{"single low", []float64{5, 4, 1, 4, 5}, []Pivot{{Price: 1, Type: PivotLow}}},
		{"flat reports high", []float64{3, 3, 3, 3, 3}, []Pivot{{Price: 3, Type: PivotHigh}}},
		{"high and low", []float64{5, 6, 9, 6, 5, 2, 4, 5}, []Pivot{{Price: 9, Type: PivotHigh}, {Price: 2, Type: PivotLow}}},
		{"monotonic", []float64{1, 2, 3, 4, 5, 6}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZigZag(candles(tt.closes...), 2)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d pivots, got %+v", len(tt.want), got)
			}
			for i := range got {
				if got[i].Price != tt.want[i].Price || got[i].Type != tt.want[i].Type {
					t.Errorf("Pivot %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestLowestLow(t *testing.T) {
	if _, ok := LowestLow([]Pivot{{Price: 9, Type: PivotHigh}}); ok {
		t.Error("Expected no low among highs")
	}
	low, ok := LowestLow([]Pivot{{Price: 4, Type: PivotLow}, {Price: 9, Type: PivotHigh}, {Price: 2, Type: PivotLow}})
	if !ok || low != 2 {
		t.Errorf("Expected 2, got %v (%v)", low, ok)
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripMarkdownCodeBlock(in); got != want {
			t.Errorf("stripMarkdownCodeBlock(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeCompleter struct {
	response string
	err      error
	prompt   string
}

func (f *fakeCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	f.prompt = userPrompt
	return f.response, f.err
}

func buyContext(closes ...float64) trading.SignalContext {
	return trading.SignalContext{
		Signal:  trading.Signal{Symbol: "ETHUSDT", Direction: trading.DirectionBuy, Price: 100},
		Candles: candles(closes...),
	}
}

func TestServicePredict(t *testing.T) {
	t.Run("sell signals are not predicted", func(t *testing.T) {
		fc := &fakeCompleter{}
		s := NewService(fc, 2, zerolog.Nop())
		sc := buyContext()
		sc.Direction = trading.DirectionSell
		if _, err := s.Predict(context.Background(), sc); !errors.Is(err, trading.ErrNoPrediction) {
			t.Errorf("Expected ErrNoPrediction, got %v", err)
		}
		if fc.prompt != "" {
			t.Error("Expected no LLM call")
		}
	})

	t.Run("stop loss becomes entry and lowest pivot becomes stop", func(t *testing.T) {
		fc := &fakeCompleter{response: "```json\n{\"ticker\":\"ETHUSDT\",\"entry\":101,\"stop_loss\":97,\"take_profit\":110}\n```"}
		s := NewService(fc, 2, zerolog.Nop())

		p, err := s.Predict(context.Background(), buyContext(99, 98, 92, 98, 99, 96, 94, 96, 98))
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p.Symbol != "ETHUSDT" || p.Entry != 97 || p.StopLoss != 92 || p.TakeProfit != 110 {
			t.Errorf("Unexpected prediction: %+v", p)
		}
		if !strings.Contains(fc.prompt, `"candles_count": 9`) || !strings.Contains(fc.prompt, `"zigzag"`) {
			t.Errorf("Expected candle summary in prompt, got:\n%s", fc.prompt)
		}
		if strings.Contains(fc.prompt, `"candles"`) {
			t.Error("Expected raw candles excluded from prompt")
		}
	})

	t.Run("without pivot lows the model stop loss stays", func(t *testing.T) {
		fc := &fakeCompleter{response: `{"entry":101,"stop_loss":97,"take_profit":110}`}
		s := NewService(fc, 2, zerolog.Nop())
		p, err := s.Predict(context.Background(), buyContext())
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p.Entry != 97 || p.StopLoss != 97 {
			t.Errorf("Expected entry and stop 97, got %+v", p)
		}
	})

	failures := []struct {
		name     string
		response string
		err      error
	}{
		{"llm error", "", errors.New("timeout")},
		{"not json", "I think you should buy", nil},
		{"missing levels", `{"entry":100}`, nil},
		{"non-positive", `{"entry":100,"stop_loss":0,"take_profit":110}`, nil},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(&fakeCompleter{response: tt.response, err: tt.err}, 2, zerolog.Nop())
			if _, err := s.Predict(context.Background(), buyContext()); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestClientOpenAICompatible(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"entry\":1}"}}]}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.APIKey = "sk-test"
	cfg.Endpoint = srv.URL
	text, err := NewClient(cfg).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != `{"entry":1}` {
		t.Errorf("Unexpected text %q", text)
	}
	if got.Model != "gpt-4" || len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.MaxTokens != 200 {
		t.Errorf("Unexpected request: %+v", got)
	}
}

func TestClientClaude(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("Expected x-api-key header")
		}
		var req claudeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System != "sys" || len(req.Messages) != 1 {
			t.Errorf("Unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Provider: ProviderClaude, APIKey: "key", Model: "m", MaxTokens: 10, Endpoint: srv.URL})
	text, err := c.Complete(context.Background(), "sys", "user")
	if err != nil || text != "ok" {
		t.Errorf("Expected ok, got %q (%v)", text, err)
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.Endpoint = srv.URL
	_, err := NewClient(cfg).Complete(context.Background(), "sys", "user")
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("Expected API error, got %v", err)
	}
}
