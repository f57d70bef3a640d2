package trading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPriceUnavailable is returned when no market price can be obtained
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrInsufficientBalance marks the exchange's insufficient-balance rejection
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrExecutedOrderExists is returned when an executed pending order blocks a replacement
	ErrExecutedOrderExists = errors.New("executed pending order exists for symbol")
	// ErrPendingOrderNotFound is returned when updating a symbol without a pending order
	ErrPendingOrderNotFound = errors.New("pending order not found")
	// ErrNoPrediction is returned by the oracle for contexts it does not predict
	ErrNoPrediction = errors.New("no prediction for signal")
)

// Exchange is the market data and order placement surface
type Exchange interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	FreeBalance(ctx context.Context, asset string) (float64, error)
	TotalValue(ctx context.Context, quoteAsset string) (float64, error)
	BaseAssetBalance(ctx context.Context, symbol string) (float64, error)
	TradingStep(ctx context.Context, symbol string) (float64, error)
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	PlaceMarketBuy(ctx context.Context, symbol string, qty float64) (Fill, error)
	PlaceLimitSell(ctx context.Context, symbol string, qty, price float64) (Fill, error)
	RecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// PriceStreamer opens live price subscriptions. The returned unsubscribe
// function must be idempotent.
type PriceStreamer interface {
	SubscribePriceTicks(symbol string, onTick func(price float64)) (unsubscribe func(), err error)
}

// LotStore persists owned lots, returned oldest first
type LotStore interface {
	Lots(ctx context.Context, symbol string) ([]Lot, error)
	AllLots(ctx context.Context) ([]Lot, error)
	AddLot(ctx context.Context, lot Lot) error
	// ReplaceLots atomically removes the given lots and inserts add
	ReplaceLots(ctx context.Context, symbol string, remove []uuid.UUID, add []Lot) error
	PurgeLots(ctx context.Context, symbol string) error
}

// GhostStore persists rejected trade attempts
type GhostStore interface {
	Ghosts(ctx context.Context, symbol string) ([]GhostRecord, error)
	AddGhost(ctx context.Context, g GhostRecord) error
	ClearGhosts(ctx context.Context, symbol string) error
}

// PendingOrderStore persists at most one pending order per symbol
type PendingOrderStore interface {
	PendingOrders(ctx context.Context) ([]PendingOrder, error)
	// ReplaceUnexecuted atomically drops the symbol's unexecuted order and
	// inserts o. Fails with ErrExecutedOrderExists when an executed order exists.
	ReplaceUnexecuted(ctx context.Context, o PendingOrder) error
	UpdatePendingOrder(ctx context.Context, o PendingOrder) error
	RemovePendingOrder(ctx context.Context, symbol string) error
}

// AuditLog is the append-only signal and order trail
type AuditLog interface {
	AppendSignal(ctx context.Context, sc SignalContext) error
	LabelSignal(ctx context.Context, symbol string, signalTime time.Time, profit float64) error
	AppendOrderLog(ctx context.Context, l OrderLog) error
}

// Oracle turns a rejected buy context into an entry/stop/target recommendation
type Oracle interface {
	Predict(ctx context.Context, sc SignalContext) (Prediction, error)
}
