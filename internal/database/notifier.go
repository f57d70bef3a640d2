package database

import (
	"context"
	"sync"

	"binance-spot-executor/internal/events"
	"binance-spot-executor/internal/trading"
)

// NotifyingPendingStore publishes a versioned snapshot of the full pending
// set after every mutation. Mutations are serialized so versions follow the
// order in which the underlying store changed.
type NotifyingPendingStore struct {
	trading.PendingOrderStore
	bus     *events.EventBus
	mu      sync.Mutex
	version uint64
}

// NewNotifyingPendingStore wraps inner with change notifications on bus
func NewNotifyingPendingStore(inner trading.PendingOrderStore, bus *events.EventBus) *NotifyingPendingStore {
	return &NotifyingPendingStore{PendingOrderStore: inner, bus: bus}
}

func (n *NotifyingPendingStore) ReplaceUnexecuted(ctx context.Context, o trading.PendingOrder) error {
	return n.mutate(ctx, func() error { return n.PendingOrderStore.ReplaceUnexecuted(ctx, o) })
}

func (n *NotifyingPendingStore) UpdatePendingOrder(ctx context.Context, o trading.PendingOrder) error {
	return n.mutate(ctx, func() error { return n.PendingOrderStore.UpdatePendingOrder(ctx, o) })
}

func (n *NotifyingPendingStore) RemovePendingOrder(ctx context.Context, symbol string) error {
	return n.mutate(ctx, func() error { return n.PendingOrderStore.RemovePendingOrder(ctx, symbol) })
}

// Snapshot returns the current set at the current version
func (n *NotifyingPendingStore) Snapshot(ctx context.Context) (trading.PendingSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	orders, err := n.PendingOrderStore.PendingOrders(ctx)
	if err != nil {
		return trading.PendingSnapshot{}, err
	}
	return trading.PendingSnapshot{Version: n.version, Orders: orders}, nil
}

func (n *NotifyingPendingStore) mutate(ctx context.Context, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	orders, err := n.PendingOrderStore.PendingOrders(ctx)
	if err != nil {
		return err
	}
	n.version++
	n.bus.PublishPendingOrdersChanged(trading.PendingSnapshot{Version: n.version, Orders: orders})
	return nil
}
