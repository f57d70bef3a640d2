package executor

import (
	"context"
	"errors"
	"time"

	"binance-spot-executor/internal/metrics"
	"binance-spot-executor/internal/stepsize"
	"binance-spot-executor/internal/trading"
)

const (
	postOrderTimeout = 30 * time.Second
	persistAttempts  = 3
)

// handleTick runs the state machine for one tick. Callers hold the symbol's guard.
func (s *Scheduler) handleTick(ctx context.Context, symbol string, price float64) {
	o, filters, ok := s.current(symbol)
	if !ok {
		return
	}
	if !o.Executed {
		if price <= o.Entry {
			s.enter(ctx, o, filters, price)
		}
		return
	}
	s.exit(ctx, o, filters, price)
}

// enter buys twice the minimum notional at market and marks the order executed
func (s *Scheduler) enter(ctx context.Context, o trading.PendingOrder, f trading.SymbolFilters, price float64) {
	log := s.logger.With().Str("symbol", o.Symbol).Logger()

	qty := (f.MinNotional / price) * s.cfg.EntryNotionalMultiplier
	qty = stepsize.AtLeastOne(stepsize.Floor(qty, f.StepSize), f.StepSize)

	fill, err := s.exchange.PlaceMarketBuy(ctx, o.Symbol, qty)
	if err != nil {
		log.Error().Err(err).Float64("qty", qty).Float64("price", price).Msg("Entry buy failed")
		return
	}
	metrics.IncOrder("buy", "scheduler")

	executed := o.MarkExecuted(fill.FilledQty(), fill.AveragePrice(price))
	s.replaceOrder(executed)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postOrderTimeout)
	defer cancel()
	if err := s.persistEntry(pctx, executed); err != nil {
		log.Error().Err(err).Msg("Entry filled but pending order not persisted")
	}

	log.Info().
		Int64("order_id", fill.OrderID).
		Float64("qty", executed.ExecutedQty).
		Float64("fill_price", executed.EntryFillPrice).
		Float64("stop_loss", o.StopLoss).
		Float64("take_profit", o.TakeProfit).
		Msg("Entry filled")
	if s.bus != nil {
		s.bus.PublishEntryFilled(o.Symbol, executed.ExecutedQty, executed.EntryFillPrice)
	}
}

// exit sells at take-profit or stop-loss once price crosses either level
func (s *Scheduler) exit(ctx context.Context, o trading.PendingOrder, f trading.SymbolFilters, price float64) {
	var target float64
	switch {
	case price >= o.TakeProfit:
		target = o.TakeProfit
	case price <= o.StopLoss:
		target = o.StopLoss
	default:
		return
	}
	log := s.logger.With().Str("symbol", o.Symbol).Float64("target", target).Logger()

	qty := stepsize.Floor(o.ExecutedQty, f.StepSize)
	if qty <= 0 {
		log.Warn().Float64("held", o.ExecutedQty).Msg("Exit aborted: quantity below step")
		return
	}

	fill, err := s.exchange.PlaceLimitSell(ctx, o.Symbol, qty, target)
	if errors.Is(err, trading.ErrInsufficientBalance) {
		log.Warn().Err(err).Msg("Position gone, dropping pending order")
		s.drop(ctx, o.Symbol)
		if s.bus != nil {
			s.bus.PublishPendingOrderDropped(o.Symbol, "insufficient balance")
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Float64("qty", qty).Msg("Exit sell failed")
		return
	}
	metrics.IncOrder("sell", "scheduler")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postOrderTimeout)
	defer cancel()

	profit := (target - o.EntryFillPrice) * qty
	entry := trading.OrderLog{
		Symbol:     o.Symbol,
		SignalTime: o.SignalTime,
		BuyPrice:   o.EntryFillPrice,
		Qty:        qty,
		SellTime:   s.now(),
		SellPrice:  target,
		Profit:     profit,
	}
	if s.audit != nil {
		if err := s.audit.AppendOrderLog(ctx, entry); err != nil {
			log.Error().Err(err).Msg("Failed to append order log")
		}
		if err := s.audit.LabelSignal(ctx, o.Symbol, o.SignalTime, profit); err != nil {
			log.Warn().Err(err).Msg("Failed to label signal with profit")
		}
	}

	s.drop(ctx, o.Symbol)
	metrics.AddRealized(profit)

	log.Info().
		Int64("order_id", fill.OrderID).
		Float64("qty", qty).
		Float64("entry_price", o.EntryFillPrice).
		Float64("profit", profit).
		Msg("Exit placed, pending order completed")
	if s.bus != nil {
		s.bus.PublishOrderCompleted(entry)
	}
}

// persistEntry writes the executed state, retrying transient ledger errors.
// A record that is gone from the ledger is not retried.
func (s *Scheduler) persistEntry(ctx context.Context, o trading.PendingOrder) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.retryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		err = s.store.UpdatePendingOrder(ctx, o)
		if err == nil || errors.Is(err, trading.ErrPendingOrderNotFound) {
			return err
		}
		s.logger.Warn().Err(err).Str("symbol", o.Symbol).Int("attempt", attempt+1).Msg("Retrying pending order update")
	}
	return err
}
