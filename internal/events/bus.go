package events

import (
	"sync"
	"time"

	"binance-spot-executor/internal/trading"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPendingOrdersChanged EventType = "PENDING_ORDERS_CHANGED"
	EventEntryFilled          EventType = "ENTRY_FILLED"
	EventOrderCompleted       EventType = "ORDER_COMPLETED"
	EventPendingOrderDropped  EventType = "PENDING_ORDER_DROPPED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own
// goroutine, so delivery order between events is not guaranteed.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPendingOrdersChanged publishes the full pending-order set
func (eb *EventBus) PublishPendingOrdersChanged(snap trading.PendingSnapshot) {
	eb.Publish(Event{
		Type: EventPendingOrdersChanged,
		Data: map[string]interface{}{
			"snapshot": snap,
			"version":  snap.Version,
			"count":    len(snap.Orders),
		},
	})
}

// SubscribePendingOrders registers fn for pending-order snapshots
func (eb *EventBus) SubscribePendingOrders(fn func(trading.PendingSnapshot)) {
	eb.Subscribe(EventPendingOrdersChanged, func(e Event) {
		if snap, ok := e.Data["snapshot"].(trading.PendingSnapshot); ok {
			fn(snap)
		}
	})
}

// PublishEntryFilled publishes a pending order's entry fill
func (eb *EventBus) PublishEntryFilled(symbol string, qty, price float64) {
	eb.Publish(Event{
		Type: EventEntryFilled,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"quantity": qty,
			"price":    price,
		},
	})
}

// PublishOrderCompleted publishes a completed entry/exit round trip
func (eb *EventBus) PublishOrderCompleted(l trading.OrderLog) {
	eb.Publish(Event{
		Type: EventOrderCompleted,
		Data: map[string]interface{}{
			"symbol":     l.Symbol,
			"buy_price":  l.BuyPrice,
			"sell_price": l.SellPrice,
			"quantity":   l.Qty,
			"profit":     l.Profit,
		},
	})
}

// PublishPendingOrderDropped publishes the removal of a pending order whose
// position no longer exists on the exchange
func (eb *EventBus) PublishPendingOrderDropped(symbol, reason string) {
	eb.Publish(Event{
		Type: EventPendingOrderDropped,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}
