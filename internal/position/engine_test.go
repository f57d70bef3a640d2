package position

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/database"
	"binance-spot-executor/internal/trading"
)

// fakeExchange is a scripted exchange
type fakeExchange struct {
	mu       sync.Mutex
	price    float64
	priceErr error
	free     float64
	total    float64
	held     float64
	step     float64
	sellErr  error
	buys     []float64
	sells    [][2]float64
	onOrder  func()
}

func (f *fakeExchange) CurrentPrice(_ context.Context, _ string) (float64, error) {
	return f.price, f.priceErr
}
func (f *fakeExchange) FreeBalance(_ context.Context, _ string) (float64, error) { return f.free, nil }
func (f *fakeExchange) TotalValue(_ context.Context, _ string) (float64, error)  { return f.total, nil }
func (f *fakeExchange) BaseAssetBalance(_ context.Context, _ string) (float64, error) {
	return f.held, nil
}
func (f *fakeExchange) TradingStep(_ context.Context, _ string) (float64, error) { return f.step, nil }
func (f *fakeExchange) SymbolFilters(_ context.Context, _ string) (trading.SymbolFilters, error) {
	return trading.SymbolFilters{MinNotional: 10, StepSize: f.step}, nil
}
func (f *fakeExchange) PlaceMarketBuy(_ context.Context, symbol string, qty float64) (trading.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, qty)
	if f.onOrder != nil {
		f.onOrder()
	}
	return trading.Fill{OrderID: int64(len(f.buys)), Symbol: symbol, Side: trading.SideBuy,
		RequestedQty: qty, ExecutedQty: qty, QuoteQty: qty * f.price}, nil
}
func (f *fakeExchange) PlaceLimitSell(_ context.Context, symbol string, qty, price float64) (trading.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return trading.Fill{}, f.sellErr
	}
	f.sells = append(f.sells, [2]float64{qty, price})
	if f.onOrder != nil {
		f.onOrder()
	}
	return trading.Fill{OrderID: 100, Symbol: symbol, Side: trading.SideSell, RequestedQty: qty}, nil
}
func (f *fakeExchange) RecentCandles(_ context.Context, _, _ string, limit int) ([]trading.Candle, error) {
	return []trading.Candle{{Close: f.price}}, nil
}

type fakeOracle struct {
	calls int
	pred  trading.Prediction
	err   error
}

func (o *fakeOracle) Predict(ctx context.Context, sc trading.SignalContext) (trading.Prediction, error) {
	o.calls++
	if err := ctx.Err(); err != nil {
		return trading.Prediction{}, err
	}
	p := o.pred
	p.Symbol = sc.Symbol
	return p, o.err
}

func newTestEngine(ex *fakeExchange, oracle trading.Oracle) (*Engine, *database.MemoryStore) {
	store := database.NewMemoryStore()
	e := NewEngine(DefaultConfig(), Deps{
		Exchange: ex,
		Lots:     store,
		Ghosts:   store,
		Pending:  store,
		Audit:    store,
		Oracle:   oracle,
	}, zerolog.Nop())
	return e, store
}

func buySignal(symbol string, price, buyCoef float64) trading.Signal {
	return trading.Signal{
		Symbol:      symbol,
		Direction:   trading.DirectionBuy,
		Price:       price,
		BuyCoef:     buyCoef,
		ATR:         0.01,
		Stdev:       0.015,
		VolRatio:    1.5,
		Reliability: 0.5,
		ReceivedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// TestDecideBuyFirstLot covers a symbol without lots: buyCoef 32 gives a 1.5x
// factor and neutral powers a 1x size factor, so the buy is unconditional.
func TestDecideBuyFirstLot(t *testing.T) {
	ex := &fakeExchange{price: 100, free: 1000, total: 3000, step: 0.5}
	e, store := newTestEngine(ex, &fakeOracle{})
	ctx := context.Background()
	_ = store.AddGhost(ctx, trading.GhostRecord{Symbol: "BTCUSDT", Side: trading.SideSell})

	d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 100, 32))
	if err != nil {
		t.Fatalf("DecideBuy failed: %v", err)
	}
	if d.Outcome != OutcomeExecuted {
		t.Fatalf("Expected executed, got %s (%s)", d.Outcome, d.Reason)
	}
	if len(ex.buys) != 1 || ex.buys[0] != 1.5 {
		t.Errorf("Expected one buy of 1.5, got %v", ex.buys)
	}
	lots, _ := store.Lots(ctx, "BTCUSDT")
	if len(lots) != 1 || lots[0].Qty != 1.5 || lots[0].Price != 100 {
		t.Errorf("Expected one lot of 1.5@100, got %+v", lots)
	}
	ghosts, _ := store.Ghosts(ctx, "BTCUSDT")
	if len(ghosts) != 0 {
		t.Errorf("Expected ghosts cleared, got %d", len(ghosts))
	}
}

// TestDecideBuyRejectsChase covers one lot at 100 with a candidate average of
// 100.5 against a 0.99 threshold.
func TestDecideBuyRejectsChase(t *testing.T) {
	ex := &fakeExchange{price: 101, free: 1000, total: 3030, step: 1}
	oracle := &fakeOracle{pred: trading.Prediction{Entry: 95, StopLoss: 90, TakeProfit: 110}}
	e, store := newTestEngine(ex, oracle)
	ctx := context.Background()
	_ = store.AddLot(ctx, trading.NewLot("BTCUSDT", 1, 100, time.Now().Add(-time.Hour)))

	d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 101, 0))
	if err != nil {
		t.Fatalf("DecideBuy failed: %v", err)
	}
	if d.Outcome != OutcomeRejected {
		t.Fatalf("Expected rejected, got %s", d.Outcome)
	}
	if math.Abs(d.Context.NextStepCoef-0.99) > 1e-12 || d.Context.InitialFib != 1 {
		t.Errorf("Unexpected context: fib=%v coef=%v", d.Context.InitialFib, d.Context.NextStepCoef)
	}
	if len(ex.buys) != 0 {
		t.Errorf("Expected no buy, got %v", ex.buys)
	}

	ghosts, _ := store.Ghosts(ctx, "BTCUSDT")
	if len(ghosts) != 1 || ghosts[0].Side != trading.SideBuy {
		t.Errorf("Expected one ghost buy, got %+v", ghosts)
	}
	if oracle.calls != 1 {
		t.Errorf("Expected one prediction request, got %d", oracle.calls)
	}
	orders, _ := store.PendingOrders(ctx)
	if len(orders) != 1 || orders[0].Entry != 95 || orders[0].Executed {
		t.Errorf("Expected one pending order at 95, got %+v", orders)
	}
	signals := store.Signals()
	if len(signals) != 1 || len(signals[0].Candles) == 0 {
		t.Errorf("Expected audited signal with candles, got %+v", signals)
	}
}

func TestDecideBuyInsufficientFunds(t *testing.T) {
	ex := &fakeExchange{price: 100, free: 10, total: 3000, step: 0.5}
	oracle := &fakeOracle{}
	e, store := newTestEngine(ex, oracle)
	ctx := context.Background()

	d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 100, 0))
	if err != nil {
		t.Fatalf("DecideBuy failed: %v", err)
	}
	if d.Outcome != OutcomeInsufficientFunds {
		t.Errorf("Expected insufficient funds, got %s", d.Outcome)
	}
	ghosts, _ := store.Ghosts(ctx, "BTCUSDT")
	if len(ghosts) != 0 || oracle.calls != 0 || len(ex.buys) != 0 {
		t.Errorf("Expected no side effects, got ghosts=%d oracle=%d buys=%d", len(ghosts), oracle.calls, len(ex.buys))
	}
}

func TestDecideBuyOracleFailureStillRejects(t *testing.T) {
	ex := &fakeExchange{price: 101, free: 1000, total: 3030, step: 1}
	e, store := newTestEngine(ex, &fakeOracle{err: errors.New("llm down")})
	ctx := context.Background()
	_ = store.AddLot(ctx, trading.NewLot("BTCUSDT", 1, 100, time.Now()))

	d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 101, 0))
	if err != nil {
		t.Fatalf("Expected oracle failure to be swallowed, got %v", err)
	}
	if d.Outcome != OutcomeRejected || d.Prediction != nil {
		t.Errorf("Expected rejection without prediction, got %+v", d)
	}
}

func TestDecideBuyAcceptsLowerAverage(t *testing.T) {
	ex := &fakeExchange{price: 90, free: 1000, total: 2700, step: 1}
	e, store := newTestEngine(ex, &fakeOracle{})
	ctx := context.Background()
	_ = store.AddLot(ctx, trading.NewLot("BTCUSDT", 1, 100, time.Now().Add(-time.Hour)))

	d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 90, 0))
	if err != nil {
		t.Fatalf("DecideBuy failed: %v", err)
	}
	// (100 + 90) / 2 = 95 <= 99
	if d.Outcome != OutcomeExecuted {
		t.Fatalf("Expected executed, got %s (%s)", d.Outcome, d.Reason)
	}
	lots, _ := store.Lots(ctx, "BTCUSDT")
	if len(lots) != 2 {
		t.Errorf("Expected 2 lots, got %d", len(lots))
	}
}

func seedLots(t *testing.T, store *database.MemoryStore) {
	t.Helper()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	_ = store.AddLot(ctx, trading.NewLot("ETHUSDT", 1, 10, t0))
	_ = store.AddLot(ctx, trading.NewLot("ETHUSDT", 1, 20, t0.Add(time.Hour)))
}

func sellSignal(symbol string) trading.Signal {
	return trading.Signal{Symbol: symbol, Direction: trading.DirectionSell, Price: 30}
}

// TestDecideSellSplitsLot sells 1.5 across lots (1@10, 1@20), leaving 0.5@20
func TestDecideSellSplitsLot(t *testing.T) {
	ex := &fakeExchange{price: 30, held: 1.5, step: 0.5}
	e, store := newTestEngine(ex, &fakeOracle{})
	seedLots(t, store)
	ctx := context.Background()
	_ = store.AddGhost(ctx, trading.GhostRecord{Symbol: "ETHUSDT", Side: trading.SideBuy})

	d, err := e.DecideSell(ctx, sellSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("DecideSell failed: %v", err)
	}
	if d.Outcome != OutcomeExecuted {
		t.Fatalf("Expected executed, got %s (%s)", d.Outcome, d.Reason)
	}
	if len(ex.sells) != 1 || ex.sells[0] != [2]float64{1.5, 30} {
		t.Errorf("Expected limit sell 1.5@30, got %v", ex.sells)
	}
	lots, _ := store.Lots(ctx, "ETHUSDT")
	if len(lots) != 1 || lots[0].Qty != 0.5 || lots[0].Price != 20 {
		t.Errorf("Expected leftover 0.5@20, got %+v", lots)
	}
	ghosts, _ := store.Ghosts(ctx, "ETHUSDT")
	if len(ghosts) != 0 {
		t.Errorf("Expected ghosts cleared, got %d", len(ghosts))
	}
}

func TestDecideSellRejectsBelowBreakEven(t *testing.T) {
	ex := &fakeExchange{price: 10, held: 2, step: 0.5}
	oracle := &fakeOracle{}
	e, store := newTestEngine(ex, oracle)
	seedLots(t, store)
	ctx := context.Background()

	d, err := e.DecideSell(ctx, sellSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("DecideSell failed: %v", err)
	}
	if d.Outcome != OutcomeRejected {
		t.Fatalf("Expected rejected, got %s", d.Outcome)
	}
	ghosts, _ := store.Ghosts(ctx, "ETHUSDT")
	if len(ghosts) != 1 || ghosts[0].Side != trading.SideSell {
		t.Errorf("Expected one ghost sell, got %+v", ghosts)
	}
	if oracle.calls != 0 {
		t.Errorf("Expected no prediction for sell rejection, got %d", oracle.calls)
	}
	orders, _ := store.PendingOrders(ctx)
	if len(orders) != 0 {
		t.Errorf("Expected no pending orders, got %d", len(orders))
	}
}

func TestDecideSellPurgesDriftedLedger(t *testing.T) {
	ex := &fakeExchange{price: 30, held: 0.1, step: 0.5}
	e, store := newTestEngine(ex, &fakeOracle{})
	seedLots(t, store)
	ctx := context.Background()

	d, err := e.DecideSell(ctx, sellSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("DecideSell failed: %v", err)
	}
	if d.Outcome != OutcomeLedgerPurged {
		t.Errorf("Expected ledger purge, got %s", d.Outcome)
	}
	lots, _ := store.Lots(ctx, "ETHUSDT")
	if len(lots) != 0 || len(ex.sells) != 0 {
		t.Errorf("Expected purge without sell, got lots=%d sells=%d", len(lots), len(ex.sells))
	}
}

func TestDecideSellFailureLeavesLedger(t *testing.T) {
	ex := &fakeExchange{price: 30, held: 2, step: 0.5, sellErr: errors.New("API error: timeout")}
	e, store := newTestEngine(ex, &fakeOracle{})
	seedLots(t, store)
	ctx := context.Background()

	if _, err := e.DecideSell(ctx, sellSignal("ETHUSDT")); err == nil {
		t.Fatal("Expected sell error")
	}
	lots, _ := store.Lots(ctx, "ETHUSDT")
	if len(lots) != 2 {
		t.Errorf("Expected ledger untouched, got %d lots", len(lots))
	}
}

func TestDecideSellPriceUnavailable(t *testing.T) {
	ex := &fakeExchange{priceErr: errors.New("no ticker")}
	e, _ := newTestEngine(ex, nil)

	_, err := e.DecideSell(context.Background(), sellSignal("ETHUSDT"))
	if !errors.Is(err, trading.ErrPriceUnavailable) {
		t.Errorf("Expected ErrPriceUnavailable, got %v", err)
	}
}

func TestDecideSellNoLots(t *testing.T) {
	ex := &fakeExchange{price: 30, held: 2, step: 0.5}
	e, _ := newTestEngine(ex, nil)

	d, err := e.DecideSell(context.Background(), sellSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("DecideSell failed: %v", err)
	}
	if d.Outcome != OutcomeNoOp {
		t.Errorf("Expected no-op, got %s", d.Outcome)
	}
}

// TestDecideBuySerializedPerSymbol verifies concurrent buys for one symbol see
// each other's lots
func TestDecideBuySerializedPerSymbol(t *testing.T) {
	ex := &fakeExchange{price: 100, free: 1e6, total: 3000, step: 1}
	e, store := newTestEngine(ex, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 100, 0)); err != nil {
				t.Errorf("DecideBuy failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// The second decision sees the first lot and rejects the same-price buy.
	lots, _ := store.Lots(ctx, "BTCUSDT")
	if len(lots) != 1 {
		t.Errorf("Expected exactly one lot, got %d", len(lots))
	}
	ghosts, _ := store.Ghosts(ctx, "BTCUSDT")
	if len(ghosts) != 1 {
		t.Errorf("Expected one ghost buy, got %d", len(ghosts))
	}
}

// ctxStore fails writes on a done context, as the Postgres ledger does
type ctxStore struct {
	*database.MemoryStore
}

func (s ctxStore) AddLot(ctx context.Context, l trading.Lot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.AddLot(ctx, l)
}

func (s ctxStore) ReplaceLots(ctx context.Context, symbol string, remove []uuid.UUID, add []trading.Lot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.ReplaceLots(ctx, symbol, remove, add)
}

func (s ctxStore) ReplaceUnexecuted(ctx context.Context, o trading.PendingOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.ReplaceUnexecuted(ctx, o)
}

func newCtxEngine(ex *fakeExchange, oracle trading.Oracle) (*Engine, *database.MemoryStore) {
	mem := database.NewMemoryStore()
	store := ctxStore{mem}
	e := NewEngine(DefaultConfig(), Deps{
		Exchange: ex,
		Lots:     store,
		Ghosts:   store,
		Pending:  store,
		Audit:    store,
		Oracle:   oracle,
	}, zerolog.Nop())
	return e, mem
}

// TestLedgerWritesSurviveCallerCancel covers a webhook caller hanging up
// while the order is in flight: the fill must still reach the ledger.
func TestLedgerWritesSurviveCallerCancel(t *testing.T) {
	t.Run("buy stores lot", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ex := &fakeExchange{price: 100, free: 1000, total: 3000, step: 0.5, onOrder: cancel}
		e, store := newCtxEngine(ex, nil)

		d, err := e.DecideBuy(ctx, buySignal("BTCUSDT", 100, 32))
		if err != nil {
			t.Fatalf("DecideBuy failed: %v", err)
		}
		if d.Outcome != OutcomeExecuted {
			t.Fatalf("Expected executed, got %s", d.Outcome)
		}
		lots, _ := store.Lots(context.Background(), "BTCUSDT")
		if len(ex.buys) != 1 || len(lots) != 1 {
			t.Errorf("Expected 1 buy and 1 lot, got buys=%d lots=%d", len(ex.buys), len(lots))
		}
	})

	t.Run("sell consumes lots", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ex := &fakeExchange{price: 30, held: 1.5, step: 0.5, onOrder: cancel}
		e, store := newCtxEngine(ex, nil)
		seedLots(t, store)

		if _, err := e.DecideSell(ctx, sellSignal("ETHUSDT")); err != nil {
			t.Fatalf("DecideSell failed: %v", err)
		}
		lots, _ := store.Lots(context.Background(), "ETHUSDT")
		if len(lots) != 1 || lots[0].Qty != 0.5 {
			t.Errorf("Expected leftover 0.5 lot, got %+v", lots)
		}
	})

	t.Run("prediction after cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ex := &fakeExchange{price: 101, free: 1000, total: 3030, step: 1}
		oracle := &fakeOracle{pred: trading.Prediction{Entry: 95, StopLoss: 90, TakeProfit: 110}}
		e, store := newCtxEngine(ex, oracle)
		_ = store.AddLot(context.Background(), trading.NewLot("BTCUSDT", 1, 100, time.Now()))

		sc, _, err := e.buildContext(ctx, buySignal("BTCUSDT", 101, 0))
		if err != nil {
			t.Fatalf("buildContext failed: %v", err)
		}
		cancel()

		if p := e.requestPrediction(ctx, sc); p == nil {
			t.Fatal("Expected a prediction after caller cancel")
		}
		orders, _ := store.PendingOrders(context.Background())
		if len(orders) != 1 || orders[0].Entry != 95 {
			t.Errorf("Expected pending order at 95, got %+v", orders)
		}
	})
}
