// Package executor watches live prices for pending orders and fires each
// order's entry and exit exactly once.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-spot-executor/internal/events"
	"binance-spot-executor/internal/metrics"
	"binance-spot-executor/internal/trading"
)

// Config holds scheduler parameters
type Config struct {
	// EntryNotionalMultiplier scales the symbol's minimum notional into the entry size
	EntryNotionalMultiplier float64
}

// DefaultConfig returns the production parameters
func DefaultConfig() Config {
	return Config{EntryNotionalMultiplier: 2}
}

// SnapshotSource provides the versioned pending-order set at startup
type SnapshotSource interface {
	Snapshot(ctx context.Context) (trading.PendingSnapshot, error)
}

// subscription is one symbol's live price feed and cached trading filters
type subscription struct {
	unsubscribe func()
	filters     trading.SymbolFilters
}

// Scheduler owns the in-memory pending-order cache and one price
// subscription per pending symbol. The cache is replaced wholesale by each
// snapshot; the ledger stays the source of truth.
type Scheduler struct {
	cfg      Config
	exchange trading.Exchange
	stream   trading.PriceStreamer
	store    trading.PendingOrderStore
	audit    trading.AuditLog
	bus      *events.EventBus
	logger   zerolog.Logger
	now      func() time.Time

	// retryDelay is the base backoff between ledger writes after a fill
	retryDelay time.Duration

	reconcileMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	version uint64
	applied bool
	orders  map[string]trading.PendingOrder
	subs    map[string]*subscription
	guards  map[string]*sync.Mutex

	inflight sync.WaitGroup
}

// NewScheduler creates an execution scheduler. audit and bus may be nil.
func NewScheduler(cfg Config, exchange trading.Exchange, stream trading.PriceStreamer,
	store trading.PendingOrderStore, audit trading.AuditLog, bus *events.EventBus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		exchange: exchange,
		stream:   stream,
		store:    store,
		audit:    audit,
		bus:      bus,
		logger:   logger.With().Str("component", "ExecutionScheduler").Logger(),
		now:      time.Now,
		ctx:      context.Background(),

		retryDelay: 500 * time.Millisecond,
		orders:   make(map[string]trading.PendingOrder),
		subs:     make(map[string]*subscription),
		guards:   make(map[string]*sync.Mutex),
	}
}

// Start loads the current pending set and subscribes to its symbols. ctx
// bounds every exchange and ledger call made by tick handlers.
func (s *Scheduler) Start(ctx context.Context, source SnapshotSource) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	snap, err := source.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.Apply(snap)
	return nil
}

// Stop closes every subscription and waits for in-flight handlers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.unsubscribe()
	}
	metrics.SetActiveSubscriptions(0)
	s.inflight.Wait()
}

// Apply reconciles subscriptions with snap. Snapshots older than the last
// applied version are ignored, and a snapshot never reverts an order this
// scheduler has filled back to pending.
func (s *Scheduler) Apply(snap trading.PendingSnapshot) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.Lock()
	if s.applied && snap.Version < s.version {
		s.mu.Unlock()
		s.logger.Debug().Uint64("version", snap.Version).Uint64("current", s.version).Msg("Ignoring stale snapshot")
		return
	}
	s.applied = true
	s.version = snap.Version

	orders := make(map[string]trading.PendingOrder, len(snap.Orders))
	for _, o := range snap.Orders {
		// A record only moves from pending to executed. A pending copy of an
		// order this scheduler already filled was read before the fill.
		if cur, ok := s.orders[o.Symbol]; ok && cur.Executed && !o.Executed && cur.CreatedAt.Equal(o.CreatedAt) {
			o = cur
		}
		orders[o.Symbol] = o
	}
	s.orders = orders

	var added []string
	for symbol := range orders {
		if _, ok := s.subs[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	var removed []*subscription
	for symbol, sub := range s.subs {
		if _, ok := orders[symbol]; !ok {
			removed = append(removed, sub)
			delete(s.subs, symbol)
			s.logger.Info().Str("symbol", symbol).Msg("Unsubscribed from price stream")
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, sub := range removed {
		sub.unsubscribe()
	}
	for _, symbol := range added {
		s.subscribe(ctx, symbol)
	}
	s.reportSubscriptions()
}

func (s *Scheduler) subscribe(ctx context.Context, symbol string) {
	log := s.logger.With().Str("symbol", symbol).Logger()

	filters, err := s.exchange.SymbolFilters(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load symbol filters, not watching")
		return
	}
	unsubscribe, err := s.stream.SubscribePriceTicks(symbol, s.tickFunc(symbol))
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to price stream")
		return
	}

	s.mu.Lock()
	_, wanted := s.orders[symbol]
	_, exists := s.subs[symbol]
	if wanted && !exists {
		s.subs[symbol] = &subscription{unsubscribe: unsubscribe, filters: filters}
	}
	s.mu.Unlock()

	if !wanted || exists {
		unsubscribe()
		return
	}
	log.Info().
		Float64("min_notional", filters.MinNotional).
		Float64("step_size", filters.StepSize).
		Msg("Subscribed to price stream")
}

// tickFunc drops ticks while a handler for symbol is in flight
func (s *Scheduler) tickFunc(symbol string) func(float64) {
	guard := s.guard(symbol)
	return func(price float64) {
		if !guard.TryLock() {
			metrics.IncTickDropped(symbol)
			return
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer guard.Unlock()
			s.mu.Lock()
			ctx := s.ctx
			s.mu.Unlock()
			s.handleTick(ctx, symbol, price)
		}()
	}
}

func (s *Scheduler) guard(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[symbol]
	if !ok {
		g = &sync.Mutex{}
		s.guards[symbol] = g
	}
	return g
}

// current returns the cached order and filters for a watched symbol
func (s *Scheduler) current(symbol string) (trading.PendingOrder, trading.SymbolFilters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[symbol]
	sub, subscribed := s.subs[symbol]
	if !ok || !subscribed {
		return trading.PendingOrder{}, trading.SymbolFilters{}, false
	}
	return o, sub.filters, true
}

// replaceOrder installs o in a fresh copy of the cache if its symbol is still pending
func (s *Scheduler) replaceOrder(o trading.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.Symbol]; !ok {
		return
	}
	next := make(map[string]trading.PendingOrder, len(s.orders))
	for k, v := range s.orders {
		next[k] = v
	}
	next[o.Symbol] = o
	s.orders = next
}

// drop removes symbol from the ledger and the cache and closes its subscription
func (s *Scheduler) drop(ctx context.Context, symbol string) {
	if err := s.store.RemovePendingOrder(ctx, symbol); err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to remove pending order")
	}

	s.mu.Lock()
	next := make(map[string]trading.PendingOrder, len(s.orders))
	for k, v := range s.orders {
		if k != symbol {
			next[k] = v
		}
	}
	s.orders = next
	sub := s.subs[symbol]
	delete(s.subs, symbol)
	s.mu.Unlock()

	if sub != nil {
		sub.unsubscribe()
	}
	s.reportSubscriptions()
}

func (s *Scheduler) reportSubscriptions() {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	metrics.SetActiveSubscriptions(n)
}

// Subscriptions returns the watched symbols
func (s *Scheduler) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for symbol := range s.subs {
		out = append(out, symbol)
	}
	return out
}
