package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/trading"
)

// Redis keys for the pending-order set
const (
	// PendingOrdersKey is a HASH of symbol -> JSON pending order
	PendingOrdersKey = "spot:pending_orders"

	// PendingOrdersVersionKey is incremented on every mutation
	PendingOrdersVersionKey = "spot:pending_orders:version"

	// PendingOrdersChannel receives a message after every mutation
	PendingOrdersChannel = "spot:pending_orders:changed"

	maxTxRetries = 5
)

// RedisPendingStore keeps pending orders in Redis so several processes can
// share them. Every mutation bumps a version and publishes a change message.
type RedisPendingStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPendingStore creates a Redis-backed pending-order store
func NewRedisPendingStore(client *redis.Client, logger zerolog.Logger) *RedisPendingStore {
	return &RedisPendingStore{
		client: client,
		logger: logger.With().Str("component", "RedisPendingStore").Logger(),
	}
}

var _ trading.PendingOrderStore = (*RedisPendingStore)(nil)

func (s *RedisPendingStore) PendingOrders(ctx context.Context) ([]trading.PendingOrder, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Orders, nil
}

// Snapshot reads the set and its version atomically
func (s *RedisPendingStore) Snapshot(ctx context.Context) (trading.PendingSnapshot, error) {
	var all *redis.MapStringStringCmd
	var version *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		all = p.HGetAll(ctx, PendingOrdersKey)
		version = p.Get(ctx, PendingOrdersVersionKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return trading.PendingSnapshot{}, fmt.Errorf("failed to read pending orders: %w", err)
	}
	return decodeSnapshot(all.Val(), version.Val())
}

func (s *RedisPendingStore) ReplaceUnexecuted(ctx context.Context, o trading.PendingOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal pending order: %w", err)
	}
	return s.withRetry(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, o.Symbol)
		if err != nil {
			return err
		}
		if cur != nil && cur.Executed {
			return trading.ErrExecutedOrderExists
		}
		return s.commit(ctx, tx, func(p redis.Pipeliner) {
			p.HSet(ctx, PendingOrdersKey, o.Symbol, data)
		})
	})
}

func (s *RedisPendingStore) UpdatePendingOrder(ctx context.Context, o trading.PendingOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal pending order: %w", err)
	}
	return s.withRetry(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, o.Symbol)
		if err != nil {
			return err
		}
		if cur == nil {
			return trading.ErrPendingOrderNotFound
		}
		return s.commit(ctx, tx, func(p redis.Pipeliner) {
			p.HSet(ctx, PendingOrdersKey, o.Symbol, data)
		})
	})
}

func (s *RedisPendingStore) RemovePendingOrder(ctx context.Context, symbol string) error {
	return s.withRetry(ctx, func(tx *redis.Tx) error {
		return s.commit(ctx, tx, func(p redis.Pipeliner) {
			p.HDel(ctx, PendingOrdersKey, symbol)
		})
	})
}

// Watch delivers the current snapshot and then one snapshot per change
// message until ctx is cancelled. Snapshots may arrive out of order relative
// to their versions; consumers compare versions.
func (s *RedisPendingStore) Watch(ctx context.Context, fn func(trading.PendingSnapshot)) error {
	pubsub := s.client.Subscribe(ctx, PendingOrdersChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", PendingOrdersChannel, err)
	}

	deliver := func() {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to load pending snapshot")
			return
		}
		fn(snap)
	}
	deliver()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			deliver()
		}
	}
}

func (s *RedisPendingStore) get(ctx context.Context, tx *redis.Tx, symbol string) (*trading.PendingOrder, error) {
	raw, err := tx.HGet(ctx, PendingOrdersKey, symbol).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending order %s: %w", symbol, err)
	}
	var o trading.PendingOrder
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("failed to decode pending order %s: %w", symbol, err)
	}
	return &o, nil
}

// commit applies the mutation, bumps the version and publishes in one MULTI
func (s *RedisPendingStore) commit(ctx context.Context, tx *redis.Tx, mutate func(redis.Pipeliner)) error {
	_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		mutate(p)
		p.Incr(ctx, PendingOrdersVersionKey)
		p.Publish(ctx, PendingOrdersChannel, "changed")
		return nil
	})
	return err
}

func (s *RedisPendingStore) withRetry(ctx context.Context, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, PendingOrdersKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("pending order update conflicted %d times", maxTxRetries)
}

func decodeSnapshot(all map[string]string, version string) (trading.PendingSnapshot, error) {
	snap := trading.PendingSnapshot{Orders: make([]trading.PendingOrder, 0, len(all))}
	if version != "" {
		v, err := strconv.ParseUint(version, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("invalid pending orders version %q: %w", version, err)
		}
		snap.Version = v
	}
	for symbol, raw := range all {
		var o trading.PendingOrder
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return snap, fmt.Errorf("failed to decode pending order %s: %w", symbol, err)
		}
		snap.Orders = append(snap.Orders, o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].Symbol < snap.Orders[j].Symbol })
	return snap, nil
}
