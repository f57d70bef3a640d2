package position

import (
	"context"
	"fmt"
	"math"

	"binance-spot-executor/internal/logging"
	"binance-spot-executor/internal/metrics"
	"binance-spot-executor/internal/stepsize"
	"binance-spot-executor/internal/trading"
)

// DecideSell sells the oldest lots that are above break-even at the current
// price. It fails with trading.ErrPriceUnavailable when no price is known.
// A failed order leaves the ledger untouched.
func (e *Engine) DecideSell(ctx context.Context, sig trading.Signal) (*Decision, error) {
	unlock := e.locks.lock(sig.Symbol)
	defer unlock()

	d, err := e.decideSell(ctx, sig)
	if err != nil {
		metrics.IncDecision("sell", "error")
		return nil, err
	}
	metrics.IncDecision("sell", string(d.Outcome))
	return d, nil
}

func (e *Engine) decideSell(ctx context.Context, sig trading.Signal) (*Decision, error) {
	price, err := e.deps.Exchange.CurrentPrice(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", trading.ErrPriceUnavailable, sig.Symbol, err)
	}
	if price <= 0 || math.IsNaN(price) {
		return nil, fmt.Errorf("%w for %s", trading.ErrPriceUnavailable, sig.Symbol)
	}

	sc, lots, err := e.buildContext(ctx, sig)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx, e.logger).With().Str("symbol", sig.Symbol).Logger()

	if len(lots) == 0 {
		log.Debug().Msg("No lots to sell")
		return &Decision{Outcome: OutcomeNoOp, Reason: "no lots", Context: sc}, nil
	}

	selected, sumQty := selectSellable(lots, price, e.cfg.FeeRate, e.cfg.BreakEvenSlack)
	if len(selected) == 0 {
		sc.Reason = "no lot above break-even"
		log.Info().Float64("price", price).Msg("Sell rejected: no lot above break-even")
		if err := e.recordGhost(ctx, &sc, trading.SideSell, price); err != nil {
			return nil, err
		}
		metrics.IncGhost("sell")
		return &Decision{Outcome: OutcomeRejected, Reason: sc.Reason, Context: sc}, nil
	}

	held, err := e.deps.Exchange.BaseAssetBalance(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get base balance for %s: %w", sig.Symbol, err)
	}
	step, err := e.deps.Exchange.TradingStep(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get step size for %s: %w", sig.Symbol, err)
	}

	if held < step && sumQty >= step {
		if err := e.deps.Lots.PurgeLots(ctx, sig.Symbol); err != nil {
			return nil, fmt.Errorf("failed to purge drifted lots for %s: %w", sig.Symbol, err)
		}
		log.Warn().
			Float64("held", held).
			Float64("ledger_qty", sumQty).
			Msg("Exchange balance below step, purged all lots")
		return &Decision{Outcome: OutcomeLedgerPurged, Reason: "exchange balance below step", Context: sc}, nil
	}

	qty := math.Min(sumQty, held)
	sellQty := stepsize.Floor(math.Min(qty*e.confidenceFactor(sig.SellCoef), held), step)
	if sellQty <= 0 {
		return &Decision{Outcome: OutcomeNoOp, Reason: "nothing to sell after normalization", Context: sc}, nil
	}

	fill, err := e.deps.Exchange.PlaceLimitSell(ctx, sig.Symbol, sellQty, price)
	if err != nil {
		log.Error().Err(err).Float64("qty", sellQty).Msg("Failed to place limit sell")
		return nil, fmt.Errorf("failed to place sell for %s: %w", sig.Symbol, err)
	}
	metrics.IncOrder("sell", "engine")

	pctx, cancel := detach(ctx, postOrderTimeout)
	defer cancel()

	remove, leftovers, dust := consumeFIFO(selected, sellQty, step)
	if err := e.deps.Lots.ReplaceLots(pctx, sig.Symbol, remove, leftovers); err != nil {
		return nil, fmt.Errorf("order %d placed but lots not consumed: %w", fill.OrderID, err)
	}
	if dust > 0 {
		log.Info().Float64("dust", dust).Float64("step", step).Msg("Dropped leftover below step")
	}
	if err := e.deps.Ghosts.ClearGhosts(pctx, sig.Symbol); err != nil {
		log.Warn().Err(err).Msg("Failed to clear ghost records after sell")
	}

	log.Info().
		Int64("order_id", fill.OrderID).
		Float64("qty", sellQty).
		Float64("price", price).
		Int("lots_consumed", len(remove)).
		Int("leftovers", len(leftovers)).
		Msg("Limit sell placed")
	return &Decision{Outcome: OutcomeExecuted, Fill: &fill, Context: sc}, nil
}
