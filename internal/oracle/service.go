// Package oracle asks an LLM for entry, stop-loss and take-profit levels for
// rejected buy signals.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"binance-spot-executor/internal/trading"
)

var codeBlock = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes ```json fences some providers wrap around JSON
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlock.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// llmPrediction is the JSON object the model must return
type llmPrediction struct {
	Ticker     string   `json:"ticker"`
	Time       string   `json:"time"`
	Entry      *float64 `json:"entry"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

// Service implements trading.Oracle on top of an LLM
type Service struct {
	client       Completer
	zigzagWindow int
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates a prediction oracle. zigzagWindow below 1 defaults to 2.
func NewService(client Completer, zigzagWindow int, logger zerolog.Logger) *Service {
	if zigzagWindow < 1 {
		zigzagWindow = 2
	}
	return &Service{
		client:       client,
		zigzagWindow: zigzagWindow,
		logger:       logger.With().Str("component", "PredictionOracle").Logger(),
		now:          time.Now,
	}
}

// Predict returns levels for a buy signal context. The model's stop-loss
// becomes the entry and the lowest zigzag low, when there is one, becomes
// the stop-loss.
func (s *Service) Predict(ctx context.Context, sc trading.SignalContext) (trading.Prediction, error) {
	if sc.Direction != trading.DirectionBuy {
		return trading.Prediction{}, trading.ErrNoPrediction
	}

	pivots := ZigZag(sc.Candles, s.zigzagWindow)
	prompt, err := BuildPredictionPrompt(sc, pivots, s.now())
	if err != nil {
		return trading.Prediction{}, err
	}

	start := time.Now()
	response, err := s.client.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return trading.Prediction{}, fmt.Errorf("LLM request failed: %w", err)
	}

	var raw llmPrediction
	clean := stripMarkdownCodeBlock(response)
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return trading.Prediction{}, fmt.Errorf("failed to parse LLM response %q: %w", clean, err)
	}
	if raw.StopLoss == nil || raw.TakeProfit == nil {
		return trading.Prediction{}, fmt.Errorf("LLM response missing levels: %q", clean)
	}

	p := trading.Prediction{
		Symbol:     sc.Symbol,
		Entry:      *raw.StopLoss,
		StopLoss:   *raw.StopLoss,
		TakeProfit: *raw.TakeProfit,
	}
	if low, ok := LowestLow(pivots); ok {
		p.StopLoss = low
	}
	if p.Entry <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return trading.Prediction{}, fmt.Errorf("non-positive prediction for %s: entry=%v stop_loss=%v take_profit=%v",
			sc.Symbol, p.Entry, p.StopLoss, p.TakeProfit)
	}

	log := s.logger.With().Str("symbol", sc.Symbol).Logger()
	if p.StopLoss >= p.Entry || p.TakeProfit <= p.Entry {
		log.Warn().
			Float64("entry", p.Entry).
			Float64("stop_loss", p.StopLoss).
			Float64("take_profit", p.TakeProfit).
			Msg("Prediction levels are not ordered stop < entry < target")
	}
	log.Info().
		Float64("entry", p.Entry).
		Float64("stop_loss", p.StopLoss).
		Float64("take_profit", p.TakeProfit).
		Int("pivots", len(pivots)).
		Dur("latency", time.Since(start)).
		Msg("Prediction received")
	return p, nil
}
