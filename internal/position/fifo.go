package position

import (
	"github.com/google/uuid"

	"binance-spot-executor/internal/stepsize"
	"binance-spot-executor/internal/trading"
)

// selectSellable scans lots oldest first and keeps accumulating while price
// covers the running average's break-even: avg * (1 + 2*fee) * slack.
func selectSellable(lots []trading.Lot, price, feeRate, slack float64) ([]trading.Lot, float64) {
	var sumQty, sumCost float64
	var selected []trading.Lot
	for _, l := range lots {
		nextQty := sumQty + l.Qty
		nextCost := sumCost + l.Qty*l.Price
		avg := 0.0
		if nextQty > 0 {
			avg = nextCost / nextQty
		}
		if price < avg*(1+2*feeRate)*slack {
			break
		}
		sumQty, sumCost = nextQty, nextCost
		selected = append(selected, l)
	}
	return selected, sumQty
}

// consumeFIFO covers qty with lots in order. Fully covered lots are removed;
// the first partially covered lot is removed and its remainder re-inserted
// at the original price and time unless it is below step.
func consumeFIFO(lots []trading.Lot, qty, step float64) (remove []uuid.UUID, leftovers []trading.Lot, dust float64) {
	remaining := qty
	for _, l := range lots {
		if remaining <= 0 {
			break
		}
		remove = append(remove, l.ID)
		if l.Qty <= remaining {
			remaining = stepsize.Sub(remaining, l.Qty)
			continue
		}
		left := stepsize.Sub(l.Qty, remaining)
		if left >= step {
			leftovers = append(leftovers, trading.NewLot(l.Symbol, left, l.Price, l.AcquiredAt))
		} else {
			dust = left
		}
		break
	}
	return remove, leftovers, dust
}
