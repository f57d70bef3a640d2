package position

import (
	"context"
	"errors"
	"fmt"

	"binance-spot-executor/internal/logging"
	"binance-spot-executor/internal/metrics"
	"binance-spot-executor/internal/scoring"
	"binance-spot-executor/internal/stepsize"
	"binance-spot-executor/internal/trading"
)

// DecideBuy sizes and places a buy for sig, or rejects it when the new
// average cost would not beat the acceptance threshold. Rejections record a
// ghost buy and request a prediction.
func (e *Engine) DecideBuy(ctx context.Context, sig trading.Signal) (*Decision, error) {
	unlock := e.locks.lock(sig.Symbol)
	defer unlock()

	d, err := e.decideBuy(ctx, sig)
	if err != nil {
		metrics.IncDecision("buy", "error")
		return nil, err
	}
	metrics.IncDecision("buy", string(d.Outcome))
	return d, nil
}

func (e *Engine) decideBuy(ctx context.Context, sig trading.Signal) (*Decision, error) {
	sc, lots, err := e.buildContext(ctx, sig)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx, e.logger).With().Str("symbol", sig.Symbol).Logger()

	sumQty, sumCost := avgCost(lots)
	oldAvg := 0.0
	if sumQty > 0 {
		oldAvg = sumCost / sumQty
	}

	price, err := e.deps.Exchange.CurrentPrice(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", sig.Symbol, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%s: %w", sig.Symbol, trading.ErrPriceUnavailable)
	}
	total, err := e.deps.Exchange.TotalValue(ctx, e.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("failed to get total %s value: %w", e.cfg.QuoteAsset, err)
	}
	free, err := e.deps.Exchange.FreeBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("failed to get free %s balance: %w", e.cfg.QuoteAsset, err)
	}
	step, err := e.deps.Exchange.TradingStep(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get step size for %s: %w", sig.Symbol, err)
	}

	baseQty := stepsize.AtLeastOne(total/e.cfg.AllocationDivisor/price, step)
	sizeFactor := scoring.SizeFactor(sc.LocalPower, sc.GlobalPower)
	buyQty := baseQty * e.confidenceFactor(sig.BuyCoef) * sizeFactor
	buyQty = stepsize.Floor(stepsize.AtLeastOne(buyQty, step), step)

	log.Debug().
		Float64("local_power", sc.LocalPower).
		Float64("global_power", sc.GlobalPower).
		Float64("size_factor", sizeFactor).
		Float64("qty", buyQty).
		Float64("quote_value", buyQty*price).
		Msg("Sized buy")

	required := buyQty * price
	if required > free {
		log.Info().
			Float64("required", required).
			Float64("free", free).
			Msg("Buy aborted: insufficient quote balance")
		return &Decision{Outcome: OutcomeInsufficientFunds, Reason: "insufficient quote balance", Context: sc}, nil
	}

	newAvg := (sumCost + price*buyQty) / (sumQty + buyQty)
	acc := scoring.Acceptance{NextStepCoef: sc.NextStepCoef}
	if !acc.Accepts(oldAvg, newAvg, sumQty > 0) {
		sc.Reason = fmt.Sprintf("new average %.8f above %.8f x %.4f", newAvg, oldAvg, sc.NextStepCoef)
		log.Info().
			Float64("new_avg", newAvg).
			Float64("old_avg", oldAvg).
			Float64("next_step_coef", sc.NextStepCoef).
			Msg("Buy rejected: average cost not improved enough")

		if err := e.recordGhost(ctx, &sc, trading.SideBuy, price); err != nil {
			return nil, err
		}
		metrics.IncGhost("buy")

		d := &Decision{Outcome: OutcomeRejected, Reason: sc.Reason, Context: sc}
		d.Prediction = e.requestPrediction(ctx, sc)
		return d, nil
	}

	fill, err := e.deps.Exchange.PlaceMarketBuy(ctx, sig.Symbol, buyQty)
	if err != nil {
		return nil, fmt.Errorf("failed to place buy for %s: %w", sig.Symbol, err)
	}
	metrics.IncOrder("buy", "engine")

	pctx, cancel := detach(ctx, postOrderTimeout)
	defer cancel()

	qty := stepsize.Floor(fill.FilledQty(), step)
	fillPrice := fill.AveragePrice(price)
	if qty > 0 {
		if err := e.deps.Lots.AddLot(pctx, trading.NewLot(sig.Symbol, qty, fillPrice, e.now())); err != nil {
			return nil, fmt.Errorf("order %d filled but lot not stored: %w", fill.OrderID, err)
		}
	}
	if err := e.deps.Ghosts.ClearGhosts(pctx, sig.Symbol); err != nil {
		log.Warn().Err(err).Msg("Failed to clear ghost records after buy")
	}

	log.Info().
		Int64("order_id", fill.OrderID).
		Float64("qty", qty).
		Float64("price", fillPrice).
		Msg("Bought lot")
	return &Decision{Outcome: OutcomeExecuted, Fill: &fill, Context: sc}, nil
}

// requestPrediction asks the oracle for entry/stop/target levels and stores
// them as the symbol's pending order. It runs to completion even when the
// caller's context is cancelled. Failures are logged only.
func (e *Engine) requestPrediction(ctx context.Context, sc trading.SignalContext) *trading.Prediction {
	if e.deps.Oracle == nil || e.deps.Pending == nil || sc.Direction != trading.DirectionBuy {
		return nil
	}
	log := logging.FromContext(ctx, e.logger).With().Str("symbol", sc.Symbol).Logger()

	ctx, cancel := detach(ctx, predictionTimeout)
	defer cancel()

	p, err := e.deps.Oracle.Predict(ctx, sc)
	if err != nil {
		log.Warn().Err(err).Msg("Prediction failed")
		return nil
	}

	signalTime := sc.ReceivedAt
	if signalTime.IsZero() {
		signalTime = e.now()
	}
	err = e.deps.Pending.ReplaceUnexecuted(ctx, trading.PendingOrder{
		Symbol:     sc.Symbol,
		Entry:      p.Entry,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		SignalTime: signalTime,
		CreatedAt:  e.now(),
	})
	switch {
	case errors.Is(err, trading.ErrExecutedOrderExists):
		log.Info().Msg("Prediction dropped: executed pending order already open")
		return &p
	case err != nil:
		log.Warn().Err(err).Msg("Failed to store pending order")
		return &p
	}

	log.Info().
		Float64("entry", p.Entry).
		Float64("stop_loss", p.StopLoss).
		Float64("take_profit", p.TakeProfit).
		Msg("Pending order created")
	return &p
}
