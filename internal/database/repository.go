package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"binance-spot-executor/internal/trading"
)

// Repository is the PostgreSQL ledger
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

var (
	_ trading.LotStore          = (*Repository)(nil)
	_ trading.GhostStore        = (*Repository)(nil)
	_ trading.PendingOrderStore = (*Repository)(nil)
	_ trading.AuditLog          = (*Repository)(nil)
)

// ==================== LOTS ====================

func (r *Repository) Lots(ctx context.Context, symbol string) ([]trading.Lot, error) {
	return r.queryLots(ctx, `
		SELECT id, symbol, qty, price, acquired_at FROM lots
		WHERE symbol = $1 ORDER BY acquired_at, id`, symbol)
}

func (r *Repository) AllLots(ctx context.Context) ([]trading.Lot, error) {
	return r.queryLots(ctx, `
		SELECT id, symbol, qty, price, acquired_at FROM lots
		ORDER BY acquired_at, id`)
}

func (r *Repository) queryLots(ctx context.Context, query string, args ...interface{}) ([]trading.Lot, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []trading.Lot
	for rows.Next() {
		var l trading.Lot
		var id string
		if err := rows.Scan(&id, &l.Symbol, &l.Qty, &l.Price, &l.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid lot id %q: %w", id, err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (r *Repository) AddLot(ctx context.Context, l trading.Lot) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO lots (id, symbol, qty, price, acquired_at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.ID.String(), l.Symbol, l.Qty, l.Price, l.AcquiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

func (r *Repository) ReplaceLots(ctx context.Context, symbol string, remove []uuid.UUID, add []trading.Lot) error {
	ids := make([]string, len(remove))
	for i, id := range remove {
		ids[i] = id.String()
	}

	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if len(ids) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE symbol = $1 AND id = ANY($2::uuid[])`, symbol, ids); err != nil {
				return fmt.Errorf("failed to delete lots: %w", err)
			}
		}
		for _, l := range add {
			if _, err := tx.Exec(ctx, `
				INSERT INTO lots (id, symbol, qty, price, acquired_at)
				VALUES ($1, $2, $3, $4, $5)`,
				l.ID.String(), l.Symbol, l.Qty, l.Price, l.AcquiredAt,
			); err != nil {
				return fmt.Errorf("failed to insert leftover lot: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) PurgeLots(ctx context.Context, symbol string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM lots WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to purge lots: %w", err)
	}
	return nil
}

// ==================== GHOST RECORDS ====================

func (r *Repository) Ghosts(ctx context.Context, symbol string) ([]trading.GhostRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, side, price, created_at FROM ghost_records
		WHERE symbol = $1 ORDER BY created_at`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query ghost records: %w", err)
	}
	defer rows.Close()

	var ghosts []trading.GhostRecord
	for rows.Next() {
		var g trading.GhostRecord
		var side string
		if err := rows.Scan(&g.Symbol, &side, &g.Price, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ghost record: %w", err)
		}
		g.Side = trading.Side(side)
		ghosts = append(ghosts, g)
	}
	return ghosts, rows.Err()
}

func (r *Repository) AddGhost(ctx context.Context, g trading.GhostRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO ghost_records (symbol, side, price, created_at)
		VALUES ($1, $2, $3, $4)`,
		g.Symbol, string(g.Side), g.Price, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ghost record: %w", err)
	}
	return nil
}

func (r *Repository) ClearGhosts(ctx context.Context, symbol string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM ghost_records WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to clear ghost records: %w", err)
	}
	return nil
}

// ==================== PENDING ORDERS ====================

func (r *Repository) PendingOrders(ctx context.Context) ([]trading.PendingOrder, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, entry, stop_loss, take_profit, executed,
		       executed_qty, entry_fill_price, signal_time, created_at
		FROM pending_orders ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []trading.PendingOrder
	for rows.Next() {
		var o trading.PendingOrder
		var qty, fillPrice *float64
		if err := rows.Scan(&o.Symbol, &o.Entry, &o.StopLoss, &o.TakeProfit, &o.Executed,
			&qty, &fillPrice, &o.SignalTime, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending order: %w", err)
		}
		if qty != nil {
			o.ExecutedQty = *qty
		}
		if fillPrice != nil {
			o.EntryFillPrice = *fillPrice
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *Repository) ReplaceUnexecuted(ctx context.Context, o trading.PendingOrder) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var executed bool
		err := tx.QueryRow(ctx, `SELECT executed FROM pending_orders WHERE symbol = $1 FOR UPDATE`, o.Symbol).Scan(&executed)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to lock pending order: %w", err)
		case executed:
			return trading.ErrExecutedOrderExists
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO pending_orders (symbol, entry, stop_loss, take_profit, executed, signal_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $6, NOW())
			ON CONFLICT (symbol) DO UPDATE SET
				entry = EXCLUDED.entry,
				stop_loss = EXCLUDED.stop_loss,
				take_profit = EXCLUDED.take_profit,
				executed = FALSE,
				executed_qty = NULL,
				entry_fill_price = NULL,
				signal_time = EXCLUDED.signal_time,
				created_at = EXCLUDED.created_at,
				updated_at = NOW()`,
			o.Symbol, o.Entry, o.StopLoss, o.TakeProfit, o.SignalTime, o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert pending order: %w", err)
		}
		return nil
	})
}

func (r *Repository) UpdatePendingOrder(ctx context.Context, o trading.PendingOrder) error {
	var qty, fillPrice *float64
	if o.Executed {
		qty, fillPrice = &o.ExecutedQty, &o.EntryFillPrice
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_orders SET
			entry = $2, stop_loss = $3, take_profit = $4, executed = $5,
			executed_qty = $6, entry_fill_price = $7, updated_at = NOW()
		WHERE symbol = $1`,
		o.Symbol, o.Entry, o.StopLoss, o.TakeProfit, o.Executed, qty, fillPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trading.ErrPendingOrderNotFound
	}
	return nil
}

func (r *Repository) RemovePendingOrder(ctx context.Context, symbol string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM pending_orders WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to remove pending order: %w", err)
	}
	return nil
}

// ==================== AUDIT TRAIL ====================

func (r *Repository) AppendSignal(ctx context.Context, sc trading.SignalContext) error {
	body, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal signal context: %w", err)
	}
	receivedAt := sc.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO signal_log (symbol, direction, received_at, context)
		VALUES ($1, $2, $3, $4)`,
		sc.Symbol, string(sc.Direction), receivedAt, body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// LabelSignal attaches profit to the latest signal for symbol received at or
// before signalTime
func (r *Repository) LabelSignal(ctx context.Context, symbol string, signalTime time.Time, profit float64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signal_log SET profit = $3, labeled_at = NOW()
		WHERE id = (
			SELECT id FROM signal_log
			WHERE symbol = $1 AND received_at <= $2
			ORDER BY received_at DESC LIMIT 1
		)`,
		symbol, signalTime, profit,
	)
	if err != nil {
		return fmt.Errorf("failed to label signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignalNotFound
	}
	return nil
}

func (r *Repository) AppendOrderLog(ctx context.Context, l trading.OrderLog) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO order_log (symbol, signal_time, buy_price, qty, sell_time, sell_price, profit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.Symbol, l.SignalTime, l.BuyPrice, l.Qty, l.SellTime, l.SellPrice, l.Profit,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order log: %w", err)
	}
	return nil
}

// SymbolStats summarizes completed round trips for one symbol
type SymbolStats struct {
	Symbol      string
	Trades      int
	Wins        int
	TotalProfit float64
	Labeled     int
}

// WinRate returns the share of profitable trades
func (s SymbolStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// OrderStats aggregates the order log and labeled signals per symbol
func (r *Repository) OrderStats(ctx context.Context, since time.Time) ([]SymbolStats, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT o.symbol,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE o.profit > 0),
		       COALESCE(SUM(o.profit), 0)::float8,
		       (SELECT COUNT(*) FROM signal_log s
		        WHERE s.symbol = o.symbol AND s.profit IS NOT NULL AND s.received_at >= $1)
		FROM order_log o
		WHERE o.sell_time >= $1
		GROUP BY o.symbol
		ORDER BY o.symbol`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query order stats: %w", err)
	}
	defer rows.Close()

	var stats []SymbolStats
	for rows.Next() {
		var s SymbolStats
		if err := rows.Scan(&s.Symbol, &s.Trades, &s.Wins, &s.TotalProfit, &s.Labeled); err != nil {
			return nil, fmt.Errorf("failed to scan order stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
