// Package position decides buys and sells for inbound signals and keeps the
// FIFO lot ledger that defines each symbol's average cost.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"binance-spot-executor/internal/scoring"
	"binance-spot-executor/internal/trading"
)

// Outcome of a buy or sell decision. None of these are errors.
type Outcome string

const (
	OutcomeExecuted          Outcome = "executed"
	OutcomeRejected          Outcome = "rejected"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeNoOp              Outcome = "noop"
	OutcomeLedgerPurged      Outcome = "ledger_purged"
)

// Decision is the result of DecideBuy or DecideSell
type Decision struct {
	Outcome    Outcome               `json:"outcome"`
	Reason     string                `json:"reason,omitempty"`
	Fill       *trading.Fill         `json:"fill,omitempty"`
	Context    trading.SignalContext `json:"context"`
	Prediction *trading.Prediction   `json:"prediction,omitempty"`
}

// Config holds the sizing and accounting parameters
type Config struct {
	QuoteAsset        string
	AllocationDivisor float64
	FeeRate           float64
	BreakEvenSlack    float64
	MaxCoef           float64
	CandleInterval    string
	CandleLimit       int
	Shrink            scoring.ShrinkParams
}

// DefaultConfig returns the production parameters
func DefaultConfig() Config {
	return Config{
		QuoteAsset:        "USDT",
		AllocationDivisor: 30,
		FeeRate:           0.001,
		BreakEvenSlack:    1.0002,
		MaxCoef:           64,
		CandleInterval:    "1m",
		CandleLimit:       720,
		Shrink:            scoring.DefaultShrinkParams(),
	}
}

// Deps are the engine's collaborators. Oracle, Pending and Audit may be nil.
type Deps struct {
	Exchange trading.Exchange
	Lots     trading.LotStore
	Ghosts   trading.GhostStore
	Pending  trading.PendingOrderStore
	Audit    trading.AuditLog
	Oracle   trading.Oracle
}

// Engine is the position engine. Decisions for one symbol are serialized.
type Engine struct {
	cfg    Config
	deps   Deps
	locks  *symbolLocks
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a position engine
func NewEngine(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		locks:  newSymbolLocks(),
		logger: logger.With().Str("component", "PositionEngine").Logger(),
		now:    time.Now,
	}
}

// Work that must finish once an order is accepted runs on a context that
// ignores the caller's cancellation (a webhook client hanging up).
const (
	postOrderTimeout  = 30 * time.Second
	predictionTimeout = 2 * time.Minute
)

// detach keeps ctx's values (trace ID) but drops its cancellation
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// buildContext gathers ledger state and scores for a signal
func (e *Engine) buildContext(ctx context.Context, sig trading.Signal) (trading.SignalContext, []trading.Lot, error) {
	lots, err := e.deps.Lots.Lots(ctx, sig.Symbol)
	if err != nil {
		return trading.SignalContext{}, nil, fmt.Errorf("failed to load lots: %w", err)
	}
	ghosts, err := e.deps.Ghosts.Ghosts(ctx, sig.Symbol)
	if err != nil {
		return trading.SignalContext{}, nil, fmt.Errorf("failed to load ghost records: %w", err)
	}

	sc := trading.SignalContext{Signal: sig, TradeCount: len(lots)}
	for _, g := range ghosts {
		switch g.Side {
		case trading.SideBuy:
			sc.GhostBuys++
		case trading.SideSell:
			sc.GhostSells++
		}
	}
	sc.GhostPairs = min(sc.GhostBuys, sc.GhostSells)

	sc.K = scoring.ShrinkCoefficient(scoring.ShrinkMetrics{
		ATR:         sig.ATR,
		Stdev:       sig.Stdev,
		VolRatio:    sig.VolRatio,
		Reliability: sig.Reliability,
	}, e.cfg.Shrink)
	acc := scoring.FibonacciAcceptance(sc.TradeCount, sc.GhostPairs, sc.K)
	sc.InitialFib = acc.InitialFib
	sc.FibN = acc.FibN
	sc.NextStepCoef = acc.NextStepCoef
	sc.LocalPower, sc.GlobalPower = scoring.LocalGlobalPower(sig.Price, sig.Timeframes)
	sc.Magnetic = scoring.MagneticPower(sig.Price, sig.Timeframes)

	return sc, lots, nil
}

// confidenceFactor maps a [0,MaxCoef] coefficient onto [1,2]
func (e *Engine) confidenceFactor(coef float64) float64 {
	return 1 + scoring.Clamp01(coef/e.cfg.MaxCoef)
}

// recordGhost stores a rejected attempt and audits the context with recent candles
func (e *Engine) recordGhost(ctx context.Context, sc *trading.SignalContext, side trading.Side, price float64) error {
	if err := e.deps.Ghosts.AddGhost(ctx, trading.GhostRecord{
		Symbol:    sc.Symbol,
		Price:     price,
		Side:      side,
		CreatedAt: e.now(),
	}); err != nil {
		return fmt.Errorf("failed to record ghost %s: %w", side, err)
	}

	candles, err := e.deps.Exchange.RecentCandles(ctx, sc.Symbol, e.cfg.CandleInterval, e.cfg.CandleLimit)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", sc.Symbol).Msg("Failed to fetch candles for signal audit")
	} else {
		sc.Candles = candles
	}

	if e.deps.Audit != nil {
		if err := e.deps.Audit.AppendSignal(ctx, *sc); err != nil {
			e.logger.Warn().Err(err).Str("symbol", sc.Symbol).Msg("Failed to append signal audit record")
		}
	}
	return nil
}

func avgCost(lots []trading.Lot) (sumQty, sumCost float64) {
	for _, l := range lots {
		sumQty += l.Qty
		sumCost += l.Qty * l.Price
	}
	return sumQty, sumCost
}
