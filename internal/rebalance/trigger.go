package rebalance

import (
	"math"
	"time"
)

// TriggerConfig selects when a pool is due for a rebalance check.
type TriggerConfig struct {
	Interval       time.Duration // maximum time between rebalances
	PriceChange    float64       // relative fair-price move since the last rebalance
	LopsidedFactor float64       // smaller*factor < larger between base and quote value
}

// Reason names why a rebalance was triggered.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonInterval Reason = "interval"
	ReasonPrice    Reason = "price_change"
	ReasonLopsided Reason = "lopsided"
)

// Due reports whether base's pool should be rebalanced now, given the
// current fair price.
func (p *Planner) Due(cfg TriggerConfig, base string, fair float64, now time.Time) Reason {
	log, ok := p.holdings.Snapshot(base)
	if !ok {
		return ReasonNone
	}

	if now.Sub(log.LastRebalanceTs) > cfg.Interval {
		return ReasonInterval
	}

	if last := log.LastRebalancePrice; last+fair > 0 {
		if change := math.Abs((fair - last) / ((fair + last) / 2)); change > cfg.PriceChange {
			return ReasonPrice
		}
	}

	baseValue := p.holdings.Balance(base, base, "").Value
	quoteValue := p.holdings.Balance(base, p.cfg.Quote, "").Value
	if min(baseValue, quoteValue)*cfg.LopsidedFactor < max(baseValue, quoteValue) {
		return ReasonLopsided
	}
	return ReasonNone
}
