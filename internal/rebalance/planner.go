// Package rebalance decides when a pool's base and quote values have drifted
// apart and builds the multi-venue order plan that evens them out.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Books is the market data the planner reads.
type Books interface {
	Books(base string) []domain.Orderbook
	FairPrice(base string) (float64, error)
}

// Holdings is the ledger view the planner reads.
type Holdings interface {
	Balance(base, asset, venue string) domain.PoolBalance
	Snapshot(base string) (domain.BaseLog, bool)
}

// Config holds the planner's thresholds.
type Config struct {
	Quote     string
	Threshold float64 // |ratio| at or above this needs action
	Safety    float64 // balance fraction a venue may commit
}

// Assessment is the outcome of AssessImbalance. A zero Amount means the pool
// is balanced.
type Assessment struct {
	Base      string      `json:"base"`
	Side      domain.Side `json:"side"`
	Amount    float64     `json:"amount"`
	Ratio     float64     `json:"ratio"`
	FairPrice float64     `json:"fair_price"`
}

// Plan is the per-venue set of legs for one rebalance, ordered by venue.
type Plan struct {
	Base      string                 `json:"base"`
	Side      domain.Side            `json:"side"`
	Requested float64                `json:"requested"`
	Legs      []domain.TradeAnalysis `json:"legs"`
}

// Volume is the total base volume across all legs.
func (p Plan) Volume() float64 {
	var v float64
	for _, l := range p.Legs {
		v += l.Volume
	}
	return v
}

// Planner assesses imbalance and builds rebalance plans.
type Planner struct {
	cfg      Config
	books    Books
	holdings Holdings
	logger   *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(cfg Config, books Books, holdings Holdings, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:      cfg,
		books:    books,
		holdings: holdings,
		logger:   logger.With(slog.String("component", "rebalance_planner")),
	}
}

// AssessImbalance compares the pool's base value with its quote value. It
// fails only when no venue has a live book to price the base.
func (p *Planner) AssessImbalance(ctx context.Context, base string) (Assessment, error) {
	out := Assessment{Base: base}

	fair, err := p.books.FairPrice(base)
	if err != nil {
		return out, fmt.Errorf("rebalance: assess %s: %w", base, err)
	}
	if fair <= 0 || math.IsNaN(fair) {
		return out, fmt.Errorf("rebalance: assess %s: fair price %v: %w", base, fair, domain.ErrNoFairPrice)
	}
	out.FairPrice = fair

	baseValue := p.holdings.Balance(base, base, "").Value
	quoteValue := p.holdings.Balance(base, p.cfg.Quote, "").Value
	total := baseValue + quoteValue
	if total <= 0 {
		return out, nil
	}

	out.Ratio = (baseValue - quoteValue) / (total / 2)
	if math.Abs(out.Ratio) < p.cfg.Threshold {
		return out, nil
	}

	out.Side = domain.SideSell
	if out.Ratio < 0 {
		out.Side = domain.SideBuy
	}
	out.Amount = math.Abs(baseValue-quoteValue) / 2 / fair

	p.logger.InfoContext(ctx, "pool imbalanced",
		slog.String("base", base),
		slog.Float64("base_value", baseValue),
		slog.Float64("quote_value", quoteValue),
		slog.Float64("ratio", out.Ratio),
		slog.String("side", string(out.Side)),
		slog.Float64("amount", out.Amount),
	)
	return out, nil
}

type venueState struct {
	levels []domain.Order
	cap    float64 // base units this venue can still commit
	leg    domain.TradeAnalysis
}

// BuildPlan greedily takes the best-priced level across every venue whose
// remaining balance can absorb it, until amount is reached or nothing usable
// is left. A short plan is returned as is.
func (p *Planner) BuildPlan(ctx context.Context, base string, side domain.Side, amount float64) Plan {
	plan := Plan{Base: base, Side: side, Requested: amount}
	if amount <= 0 {
		return plan
	}
	fair, err := p.books.FairPrice(base)
	if err != nil || fair <= 0 {
		p.logger.WarnContext(ctx, "no fair price, empty plan", slog.String("base", base))
		return plan
	}

	var states []*venueState
	for _, b := range p.books.Books(base) {
		st := &venueState{
			leg: domain.TradeAnalysis{
				Base: base, Quote: p.cfg.Quote, Venue: b.Venue, Side: side,
				OrderbookTimestamp: b.Timestamp,
			},
		}
		if side == domain.SideBuy {
			st.levels = b.Asks
			st.cap = p.holdings.Balance(base, p.cfg.Quote, b.Venue).Actual / fair * p.cfg.Safety
		} else {
			st.levels = b.Bids
			st.cap = p.holdings.Balance(base, base, b.Venue).Actual * p.cfg.Safety
		}
		states = append(states, st)
	}

	remaining := amount
	for remaining > volumeEpsilon {
		var best *venueState
		for _, st := range states {
			for len(st.levels) > 0 && st.levels[0].Volume <= 0 {
				st.levels = st.levels[1:]
			}
			if len(st.levels) == 0 {
				continue
			}
			top := st.levels[0]
			if st.cap+volumeEpsilon < min(remaining, top.Volume) {
				continue
			}
			if best == nil || better(side, top.Price, best.levels[0].Price) {
				best = st
			}
		}
		if best == nil {
			break
		}

		top := best.levels[0]
		take := min(remaining, top.Volume)
		best.leg.Offers = append(best.leg.Offers, domain.Order{Price: top.Price, Volume: take})
		best.cap -= take
		remaining -= take
		if take < top.Volume {
			best.levels = append([]domain.Order{{Price: top.Price, Volume: top.Volume - take}}, best.levels[1:]...)
		} else {
			best.levels = best.levels[1:]
		}
	}

	for _, st := range states {
		if len(st.leg.Offers) == 0 {
			continue
		}
		st.leg.VWAP, st.leg.Volume = weightedPrice(st.leg.Offers)
		plan.Legs = append(plan.Legs, st.leg)
	}
	sort.Slice(plan.Legs, func(i, j int) bool { return plan.Legs[i].Venue < plan.Legs[j].Venue })

	if remaining > volumeEpsilon {
		p.logger.InfoContext(ctx, "rebalance plan partially fulfilled",
			slog.String("base", base),
			slog.Float64("requested", amount),
			slog.Float64("planned", amount-remaining),
		)
	}
	return plan
}

const volumeEpsilon = 1e-12

func better(side domain.Side, price, than float64) bool {
	if side == domain.SideBuy {
		return price < than
	}
	return price > than
}

func weightedPrice(offers []domain.Order) (vwap, volume float64) {
	var notional float64
	for _, o := range offers {
		notional += o.Price * o.Volume
		volume += o.Volume
	}
	if volume <= 0 {
		return 0, 0
	}
	return notional / volume, volume
}
