package oracle

import (
	"encoding/json"
	"fmt"
	"time"

	"binance-spot-executor/internal/trading"
)

// SystemPrompt frames every prediction request
const SystemPrompt = `You are a crypto trading assistant. You answer with exactly one JSON object and nothing else.`

// promptContext is the signal context as shown to the model: raw candles
// are replaced by their count and zigzag pivots
type promptContext struct {
	trading.SignalContext
	CandlesCount int     `json:"candles_count"`
	ZigZag       []Pivot `json:"zigzag"`
}

// BuildPredictionPrompt renders the user prompt for a buy signal context
func BuildPredictionPrompt(sc trading.SignalContext, pivots []Pivot, now time.Time) (string, error) {
	pc := promptContext{SignalContext: sc, CandlesCount: len(sc.Candles), ZigZag: pivots}
	pc.Candles = nil
	if pc.ZigZag == nil {
		pc.ZigZag = []Pivot{}
	}

	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal signal context: %w", err)
	}

	action := "open a long"
	side := "buy"
	if sc.Direction != trading.DirectionBuy {
		action = "close or reverse"
		side = "sell"
	}

	return fmt.Sprintf(`Below is the context for the latest %s signal on %s.

Fields:
 - price: raw signal price at time of alert
 - buy_coef / sell_coef: multi-timeframe confidence (0..64)
 - atr: normalized average true range (ATR(14)/price)
 - stdev: standard deviation of recent log-returns
 - vol_ratio: volume / SMA(volume,20)
 - reliability: fraction of recent signals that hit their profit target
 - ghost_buys / ghost_sells: prior rejected buy and sell attempts
 - ghost_pairs: min(ghost_buys, ghost_sells)
 - trade_count: executed buys held for this symbol
 - initial_fib: Fibonacci index from trade_count
 - k: shrink coefficient
 - next_step_coef: resulting acceptance threshold multiplier
 - candles_count: number of one-minute bars analysed
 - zigzag: local pivot highs and lows of the closes

%s

Based on this context and recent market conditions, recommend:
  1) An entry price level to %s position
  2) A stop-loss level
  3) A take-profit level

Respond with exactly one JSON object:
{
  "ticker": "%s",
  "time": "%s",
  "entry": <number>,
  "stop_loss": <number>,
  "take_profit": <number>
}`, side, sc.Symbol, string(data), action, sc.Symbol, now.UTC().Format(time.RFC3339)), nil
}
