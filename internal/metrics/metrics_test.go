package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAddRealizedSplitsGainsAndLosses(t *testing.T) {
	profitBefore := testutil.ToFloat64(realizedProfit)
	lossBefore := testutil.ToFloat64(realizedLoss)

	AddRealized(3.15)
	AddRealized(-1.05)
	AddRealized(0)

	if got := testutil.ToFloat64(realizedProfit) - profitBefore; got != 3.15 {
		t.Errorf("Expected profit delta 3.15, got %v", got)
	}
	if got := testutil.ToFloat64(realizedLoss) - lossBefore; got != 1.05 {
		t.Errorf("Expected loss delta 1.05, got %v", got)
	}
}

func TestCountersByLabel(t *testing.T) {
	IncDecision("buy", "executed")
	IncDecision("buy", "executed")
	IncDecision("sell", "rejected")
	IncTickDropped("BTCUSDT")
	SetActiveSubscriptions(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"buy executed", testutil.ToFloat64(decisions.WithLabelValues("buy", "executed")), 2},
		{"sell rejected", testutil.ToFloat64(decisions.WithLabelValues("sell", "rejected")), 1},
		{"ticks dropped", testutil.ToFloat64(ticksDropped.WithLabelValues("BTCUSDT")), 1},
		{"subscriptions", testutil.ToFloat64(activeSubscriptions), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}
