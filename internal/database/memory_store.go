package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"binance-spot-executor/internal/trading"
)

// MemoryStore is a process-local ledger used in mock mode and tests
type MemoryStore struct {
	mu       sync.RWMutex
	lots     map[string][]trading.Lot
	ghosts   map[string][]trading.GhostRecord
	pending  map[string]trading.PendingOrder
	signals  []labeledSignal
	orderLog []trading.OrderLog
}

type labeledSignal struct {
	Context trading.SignalContext
	Profit  *float64
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:    make(map[string][]trading.Lot),
		ghosts:  make(map[string][]trading.GhostRecord),
		pending: make(map[string]trading.PendingOrder),
	}
}

var (
	_ trading.LotStore          = (*MemoryStore)(nil)
	_ trading.GhostStore        = (*MemoryStore)(nil)
	_ trading.PendingOrderStore = (*MemoryStore)(nil)
	_ trading.AuditLog          = (*MemoryStore)(nil)
)

func (m *MemoryStore) Lots(_ context.Context, symbol string) ([]trading.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]trading.Lot(nil), m.lots[symbol]...), nil
}

func (m *MemoryStore) AllLots(_ context.Context) ([]trading.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []trading.Lot
	for _, lots := range m.lots {
		all = append(all, lots...)
	}
	sortLots(all)
	return all, nil
}

func (m *MemoryStore) AddLot(_ context.Context, lot trading.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.Symbol] = append(m.lots[lot.Symbol], lot)
	sortLots(m.lots[lot.Symbol])
	return nil
}

func (m *MemoryStore) ReplaceLots(_ context.Context, symbol string, remove []uuid.UUID, add []trading.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[uuid.UUID]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	kept := make([]trading.Lot, 0, len(m.lots[symbol])+len(add))
	for _, l := range m.lots[symbol] {
		if !drop[l.ID] {
			kept = append(kept, l)
		}
	}
	kept = append(kept, add...)
	sortLots(kept)
	if len(kept) == 0 {
		delete(m.lots, symbol)
		return nil
	}
	m.lots[symbol] = kept
	return nil
}

func (m *MemoryStore) PurgeLots(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lots, symbol)
	return nil
}

func (m *MemoryStore) Ghosts(_ context.Context, symbol string) ([]trading.GhostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]trading.GhostRecord(nil), m.ghosts[symbol]...), nil
}

func (m *MemoryStore) AddGhost(_ context.Context, g trading.GhostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ghosts[g.Symbol] = append(m.ghosts[g.Symbol], g)
	return nil
}

func (m *MemoryStore) ClearGhosts(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ghosts, symbol)
	return nil
}

func (m *MemoryStore) PendingOrders(_ context.Context) ([]trading.PendingOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]trading.PendingOrder, 0, len(m.pending))
	for _, o := range m.pending {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) ReplaceUnexecuted(_ context.Context, o trading.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.pending[o.Symbol]; ok && cur.Executed {
		return trading.ErrExecutedOrderExists
	}
	m.pending[o.Symbol] = o
	return nil
}

func (m *MemoryStore) UpdatePendingOrder(_ context.Context, o trading.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[o.Symbol]; !ok {
		return trading.ErrPendingOrderNotFound
	}
	m.pending[o.Symbol] = o
	return nil
}

func (m *MemoryStore) RemovePendingOrder(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, symbol)
	return nil
}

func (m *MemoryStore) AppendSignal(_ context.Context, sc trading.SignalContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, labeledSignal{Context: sc})
	return nil
}

// LabelSignal attaches profit to the latest signal for symbol received at or
// before signalTime.
func (m *MemoryStore) LabelSignal(_ context.Context, symbol string, signalTime time.Time, profit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.signals) - 1; i >= 0; i-- {
		s := &m.signals[i]
		if s.Context.Symbol == symbol && !s.Context.ReceivedAt.After(signalTime) {
			p := profit
			s.Profit = &p
			return nil
		}
	}
	return ErrSignalNotFound
}

func (m *MemoryStore) AppendOrderLog(_ context.Context, l trading.OrderLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderLog = append(m.orderLog, l)
	return nil
}

// Signals returns the audited signal contexts
func (m *MemoryStore) Signals() []trading.SignalContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]trading.SignalContext, len(m.signals))
	for i, s := range m.signals {
		out[i] = s.Context
	}
	return out
}

// SignalProfit returns the label of the i-th audited signal
func (m *MemoryStore) SignalProfit(i int) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.signals) || m.signals[i].Profit == nil {
		return 0, false
	}
	return *m.signals[i].Profit, true
}

// OrderLogs returns the completed order log
func (m *MemoryStore) OrderLogs() []trading.OrderLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]trading.OrderLog(nil), m.orderLog...)
}

func sortLots(lots []trading.Lot) {
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].AcquiredAt.Before(lots[j].AcquiredAt) })
}
