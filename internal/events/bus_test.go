package events

import (
	"testing"
	"time"

	"binance-spot-executor/internal/trading"
)

func TestSubscribePendingOrdersReceivesSnapshot(t *testing.T) {
	bus := NewEventBus()
	got := make(chan trading.PendingSnapshot, 1)
	bus.SubscribePendingOrders(func(s trading.PendingSnapshot) { got <- s })

	bus.PublishPendingOrdersChanged(trading.PendingSnapshot{
		Version: 7,
		Orders:  []trading.PendingOrder{{Symbol: "BTCUSDT"}},
	})

	select {
	case s := <-got:
		if s.Version != 7 || len(s.Orders) != 1 {
			t.Errorf("Unexpected snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for snapshot")
	}
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewEventBus()
	got := make(chan EventType, 2)
	bus.SubscribeAll(func(e Event) { got <- e.Type })

	bus.PublishEntryFilled("ETHUSDT", 1, 2000)
	bus.PublishPendingOrderDropped("ETHUSDT", "insufficient balance")

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case et := <-got:
			seen[et] = true
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for events")
		}
	}
	if !seen[EventEntryFilled] || !seen[EventPendingOrderDropped] {
		t.Errorf("Expected both event types, got %v", seen)
	}
}
