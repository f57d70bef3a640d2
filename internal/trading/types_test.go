package trading

import "testing"

func TestFillAveragePrice(t *testing.T) {
	tests := []struct {
		name     string
		fill     Fill
		fallback float64
		want     float64
	}{
		{"quote over qty", Fill{ExecutedQty: 2, QuoteQty: 190, FirstFillPrice: 94}, 100, 95},
		{"first fill", Fill{ExecutedQty: 2, FirstFillPrice: 94}, 100, 94},
		{"fallback", Fill{}, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fill.AveragePrice(tt.fallback); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFillFilledQtyFallsBackToRequested(t *testing.T) {
	f := Fill{RequestedQty: 0.3}
	if got := f.FilledQty(); got != 0.3 {
		t.Errorf("Expected 0.3, got %v", got)
	}
	f.ExecutedQty = 0.2
	if got := f.FilledQty(); got != 0.2 {
		t.Errorf("Expected 0.2, got %v", got)
	}
}

func TestMarkExecutedSetsBothFillFields(t *testing.T) {
	p := PendingOrder{Symbol: "BTCUSDT", Entry: 95}
	e := p.MarkExecuted(0.5, 94.5)
	if !e.Executed || e.ExecutedQty != 0.5 || e.EntryFillPrice != 94.5 {
		t.Errorf("Unexpected executed order: %+v", e)
	}
	if p.Executed {
		t.Error("Expected original to stay pending")
	}
}
