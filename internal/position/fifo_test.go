package position

import (
	"testing"
	"time"

	"binance-spot-executor/internal/trading"
)

func twoLots() []trading.Lot {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []trading.Lot{
		trading.NewLot("ETHUSDT", 1, 10, t0),
		trading.NewLot("ETHUSDT", 1, 20, t0.Add(time.Minute)),
	}
}

func TestConsumeFIFO(t *testing.T) {
	tests := []struct {
		name          string
		qty, step     float64
		wantRemoved   int
		wantLeftover  float64
		wantLeftovers int
	}{
		{"split keeps leftover", 1.5, 0.5, 2, 0.5, 1},
		{"split drops dust", 1.5, 1, 2, 0, 0},
		{"exact first lot", 1, 0.5, 1, 0, 0},
		{"all lots", 2, 0.5, 2, 0, 0},
		{"more than selected", 3, 0.5, 2, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lots := twoLots()
			removed, leftovers, _ := consumeFIFO(lots, tt.qty, tt.step)
			if len(removed) != tt.wantRemoved {
				t.Errorf("Expected %d removed, got %d", tt.wantRemoved, len(removed))
			}
			if len(leftovers) != tt.wantLeftovers {
				t.Fatalf("Expected %d leftovers, got %d", tt.wantLeftovers, len(leftovers))
			}
			if tt.wantLeftovers == 1 {
				l := leftovers[0]
				if l.Qty != tt.wantLeftover || l.Price != 20 || !l.AcquiredAt.Equal(lots[1].AcquiredAt) {
					t.Errorf("Unexpected leftover %+v", l)
				}
				if l.ID == lots[1].ID {
					t.Error("Expected leftover to be a new lot")
				}
			}
		})
	}
}

func TestConsumeFIFOReportsDust(t *testing.T) {
	_, _, dust := consumeFIFO(twoLots(), 1.5, 1)
	if dust != 0.5 {
		t.Errorf("Expected dust 0.5, got %v", dust)
	}
}

func TestSelectSellable(t *testing.T) {
	lots := twoLots()
	tests := []struct {
		name    string
		price   float64
		wantN   int
		wantQty float64
	}{
		{"both above break-even", 30, 2, 2},
		{"only first", 12, 1, 1},
		{"at raw cost is below break-even", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, qty := selectSellable(lots, tt.price, 0.001, 1.0002)
			if len(sel) != tt.wantN || qty != tt.wantQty {
				t.Errorf("Expected %d lots / %v qty, got %d / %v", tt.wantN, tt.wantQty, len(sel), qty)
			}
		})
	}
}
