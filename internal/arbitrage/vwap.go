package arbitrage

import (
	"math"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// volumeEpsilon absorbs float noise when comparing accumulated volumes.
const volumeEpsilon = 1e-12

// VWAP returns the volume-weighted price and total volume of levels. The
// average is folded in level by level, vwap = vwap*(1-w) + price*w with
// w = level volume / running volume.
func VWAP(levels []domain.Order) (vwap, volume float64) {
	for _, l := range levels {
		if l.Volume <= 0 {
			continue
		}
		volume += l.Volume
		w := l.Volume / volume
		vwap = vwap*(1-w) + l.Price*w
	}
	if math.IsNaN(vwap) || math.IsInf(vwap, 0) {
		return 0, volume
	}
	return vwap, volume
}

// trimTail removes volume from the end of levels until their total is at most
// limit. The last level is shrunk when it covers the excess, otherwise it is
// dropped and the next one is examined.
func trimTail(levels []domain.Order, limit float64) []domain.Order {
	if limit < 0 {
		limit = 0
	}
	_, total := VWAP(levels)
	for len(levels) > 0 && total > limit+volumeEpsilon {
		last := levels[len(levels)-1]
		excess := total - limit
		if excess < last.Volume {
			levels[len(levels)-1].Volume = last.Volume - excess
			return levels
		}
		total -= last.Volume
		levels = levels[:len(levels)-1]
	}
	return levels
}
