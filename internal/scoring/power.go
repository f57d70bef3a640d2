package scoring

import (
	"strings"

	"binance-spot-executor/internal/trading"
)

var (
	localWeights    = [3]float64{1, 2, 3}
	globalWeights   = [3]float64{3, 5, 8}
	magneticWeights = [trading.TimeframeCount]float64{1, 2, 3, 4, 5, 6}
)

// LocalGlobalPower returns the short-horizon (timeframes 0-2) and
// long-horizon (timeframes 3-5) confidence in [-1,1].
func LocalGlobalPower(price float64, tfs [trading.TimeframeCount]trading.Timeframe) (local, global float64) {
	var wl, wg, sl, sg float64
	for i, w := range localWeights {
		wl += w * contribution(price, tfs[i])
		sl += w
	}
	for i, w := range globalWeights {
		wg += w * contribution(price, tfs[i+3])
		sg += w
	}
	return clamp(wl/sl, -1, 1), clamp(wg/sg, -1, 1)
}

// MagneticPower is the single weighted score across all six timeframes
func MagneticPower(price float64, tfs [trading.TimeframeCount]trading.Timeframe) float64 {
	var sum, weights float64
	for i, w := range magneticWeights {
		sum += w * contribution(price, tfs[i])
		weights += w
	}
	return sum / weights
}

// SizeFactor maps the two powers onto a [0,2] position-size multiplier
func SizeFactor(local, global float64) float64 {
	return (local + global + 2) / 2
}

// contribution scores one timeframe before weighting.
//
//	isInnerUp   0..1 by band position
//	isInnerDown 0..-1 by band position
//	isInner*    -1..1 by band position
//	up/down     +/- band position (0 for a degenerate band)
func contribution(price float64, tf trading.Timeframe) float64 {
	width := tf.Upper - tf.Lower
	pos := 0.0
	if width > 0 {
		pos = Clamp01((price - tf.Lower) / width)
	}

	if strings.HasPrefix(tf.Dir, "isInner") {
		if width <= 0 {
			return 0
		}
		switch tf.Dir {
		case "isInnerUp":
			return pos
		case "isInnerDown":
			return -pos
		default:
			return pos*2 - 1
		}
	}

	s := strings.ToLower(tf.Dir)
	switch {
	case strings.Contains(s, "up"):
		return pos
	case strings.Contains(s, "down"):
		return -pos
	}
	return 0
}
