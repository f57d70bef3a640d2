// Package trading holds the domain model shared by the position engine,
// the execution scheduler and their collaborators.
package trading

import (
	"time"

	"github.com/google/uuid"
)

// Side of a trade or ghost record
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction of an inbound signal
type Direction string

const (
	DirectionBuy  Direction = "aBuy"
	DirectionSell Direction = "aSell"
)

// Lot is an owned quantity of a symbol acquired at a price.
// Lots are immutable; consumption removes them and re-inserts leftovers.
type Lot struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewLot creates a lot with a fresh ID
func NewLot(symbol string, qty, price float64, at time.Time) Lot {
	return Lot{ID: uuid.New(), Symbol: symbol, Qty: qty, Price: price, AcquiredAt: at}
}

// GhostRecord is a rejected buy or sell attempt
type GhostRecord struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Side      Side      `json:"side"`
	CreatedAt time.Time `json:"created_at"`
}

// Timeframe is one timeframe's trend tag and band bounds
type Timeframe struct {
	Dir   string  `json:"dir"`
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// TimeframeCount is the number of timeframes carried by a signal
const TimeframeCount = 6

// Signal is one inbound directional alert
type Signal struct {
	Symbol      string                    `json:"symbol"`
	Direction   Direction                 `json:"direction"`
	Price       float64                   `json:"price"`
	BuyCoef     float64                   `json:"buy_coef"`
	SellCoef    float64                   `json:"sell_coef"`
	ATR         float64                   `json:"atr"`
	Stdev       float64                   `json:"stdev"`
	VolRatio    float64                   `json:"vol_ratio"`
	Reliability float64                   `json:"reliability"`
	Timeframes  [TimeframeCount]Timeframe `json:"timeframes"`
	ReceivedAt  time.Time                 `json:"received_at"`
}

// SignalContext is the full computed context for one signal, kept for audit
type SignalContext struct {
	Signal
	GhostBuys    int      `json:"ghost_buys"`
	GhostSells   int      `json:"ghost_sells"`
	GhostPairs   int      `json:"ghost_pairs"`
	TradeCount   int      `json:"trade_count"`
	InitialFib   float64  `json:"initial_fib"`
	K            float64  `json:"k"`
	FibN         float64  `json:"fib_n"`
	NextStepCoef float64  `json:"next_step_coef"`
	LocalPower   float64  `json:"local_power"`
	GlobalPower  float64  `json:"global_power"`
	Magnetic     float64  `json:"magnetic_power"`
	Reason       string   `json:"reason,omitempty"`
	Candles      []Candle `json:"candles,omitempty"`
}

// Candle is one OHLCV bar
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Prediction is the oracle's entry/stop/target recommendation
type Prediction struct {
	Symbol     string  `json:"ticker"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// PendingOrder is the single automated trade intent for a symbol.
// It is either pending with no fill data, or executed with both
// ExecutedQty and EntryFillPrice set.
type PendingOrder struct {
	Symbol         string    `json:"symbol"`
	Entry          float64   `json:"entry"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	Executed       bool      `json:"executed"`
	ExecutedQty    float64   `json:"executed_qty,omitempty"`
	EntryFillPrice float64   `json:"entry_fill_price,omitempty"`
	SignalTime     time.Time `json:"signal_time"`
	CreatedAt      time.Time `json:"created_at"`
}

// MarkExecuted returns a copy transitioned to the executed state
func (p PendingOrder) MarkExecuted(qty, price float64) PendingOrder {
	p.Executed = true
	p.ExecutedQty = qty
	p.EntryFillPrice = price
	return p
}

// PendingSnapshot is the full pending-order set at a ledger version
type PendingSnapshot struct {
	Version uint64         `json:"version"`
	Orders  []PendingOrder `json:"orders"`
}

// OrderLog records a completed entry/exit round trip
type OrderLog struct {
	Symbol     string    `json:"ticker"`
	SignalTime time.Time `json:"signal_time"`
	BuyPrice   float64   `json:"buy_price"`
	Qty        float64   `json:"qty"`
	SellTime   time.Time `json:"sell_time"`
	SellPrice  float64   `json:"sell_price"`
	Profit     float64   `json:"profit"`
}

// Fill is the exchange's report of a placed order
type Fill struct {
	OrderID        int64   `json:"order_id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Status         string  `json:"status"`
	RequestedQty   float64 `json:"requested_qty"`
	ExecutedQty    float64 `json:"executed_qty"`
	QuoteQty       float64 `json:"quote_qty"`
	FirstFillPrice float64 `json:"first_fill_price"`
}

// FilledQty returns the executed quantity, or the requested one when the
// exchange reported none.
func (f Fill) FilledQty() float64 {
	if f.ExecutedQty > 0 {
		return f.ExecutedQty
	}
	return f.RequestedQty
}

// AveragePrice derives the average fill price, falling back to fallback
// when the exchange reported neither quote quantity nor fills.
func (f Fill) AveragePrice(fallback float64) float64 {
	if f.QuoteQty > 0 && f.ExecutedQty > 0 {
		return f.QuoteQty / f.ExecutedQty
	}
	if f.FirstFillPrice > 0 {
		return f.FirstFillPrice
	}
	return fallback
}

// SymbolFilters are the exchange trading filters the scheduler needs
type SymbolFilters struct {
	MinNotional float64 `json:"min_notional"`
	StepSize    float64 `json:"step_size"`
}
