package oracle

import "binance-spot-executor/internal/trading"

// PivotType marks a zigzag pivot as a local high or low
type PivotType string

const (
	PivotHigh PivotType = "high"
	PivotLow  PivotType = "low"
)

// Pivot is a local extreme of the close series
type Pivot struct {
	Time  int64     `json:"time"`
	Price float64   `json:"price"`
	Type  PivotType `json:"type"`
}

// ZigZag returns the bars whose close is not exceeded (high) or not undercut
// (low) by any close within window bars on either side. A bar that is both
// is reported as a high. Edge bars without a full window are skipped.
func ZigZag(candles []trading.Candle, window int) []Pivot {
	if window < 1 || len(candles) < 2*window+1 {
		return nil
	}

	var pivots []Pivot
	for i := window; i < len(candles)-window; i++ {
		curr := candles[i].Close
		isHigh, isLow := true, true
		for j := i - window; j <= i+window && (isHigh || isLow); j++ {
			if j == i {
				continue
			}
			if curr < candles[j].Close {
				isHigh = false
			}
			if curr > candles[j].Close {
				isLow = false
			}
		}

		switch {
		case isHigh:
			pivots = append(pivots, Pivot{Time: candles[i].OpenTime.UnixMilli(), Price: curr, Type: PivotHigh})
		case isLow:
			pivots = append(pivots, Pivot{Time: candles[i].OpenTime.UnixMilli(), Price: curr, Type: PivotLow})
		}
	}
	return pivots
}

// LowestLow returns the smallest pivot low, false when there is none
func LowestLow(pivots []Pivot) (float64, bool) {
	var low float64
	found := false
	for _, p := range pivots {
		if p.Type != PivotLow {
			continue
		}
		if !found || p.Price < low {
			low = p.Price
			found = true
		}
	}
	return low, found
}
