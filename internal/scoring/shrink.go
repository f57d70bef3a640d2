// Package scoring computes the signal-quality scores that drive position
// sizing and the averaging-down acceptance threshold. Everything here is pure.
package scoring

import "math"

// ShrinkParams normalizes signal metrics into the shrink coefficient k
type ShrinkParams struct {
	ATRThreshold      float64 `json:"atr_threshold"`
	StdevThreshold    float64 `json:"stdev_threshold"`
	VolRatioThreshold float64 `json:"vol_ratio_threshold"`
	WeightATR         float64 `json:"weight_atr"`
	WeightStdev       float64 `json:"weight_stdev"`
	WeightVol         float64 `json:"weight_vol"`
	WeightRel         float64 `json:"weight_rel"`
	MinK              float64 `json:"min_k"`
	MaxK              float64 `json:"max_k"`
}

// DefaultShrinkParams returns the production thresholds and weights
func DefaultShrinkParams() ShrinkParams {
	return ShrinkParams{
		ATRThreshold:      0.02,
		StdevThreshold:    0.03,
		VolRatioThreshold: 1.0,
		WeightATR:         0.3,
		WeightStdev:       0.3,
		WeightVol:         0.2,
		WeightRel:         0.2,
		MinK:              0.05,
		MaxK:              1.0,
	}
}

// ShrinkMetrics are the signal metrics k is computed from
type ShrinkMetrics struct {
	ATR         float64
	Stdev       float64
	VolRatio    float64
	Reliability float64
}

// ShrinkCoefficient returns k in [MinK, MaxK]. Higher volatility raises k;
// higher liquidity and reliability lower it. Non-finite input yields MaxK.
func ShrinkCoefficient(m ShrinkMetrics, p ShrinkParams) float64 {
	atrN := math.Min(m.ATR/p.ATRThreshold, 1)
	stdevN := math.Min(m.Stdev/p.StdevThreshold, 1)
	volInv := 1 - math.Min((m.VolRatio-1)/p.VolRatioThreshold, 1)
	relInv := 1 - m.Reliability

	k := p.WeightATR*atrN + p.WeightStdev*stdevN + p.WeightVol*volInv + p.WeightRel*relInv
	if math.IsNaN(k) {
		return p.MaxK
	}
	return clamp(k, p.MinK, p.MaxK)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// Clamp01 clamps v to [0,1]; NaN becomes 0
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}
