package rebalance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/market"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type holding struct{ base, quote float64 }

// fakeHoldings values base at a fixed price.
type fakeHoldings struct {
	price  float64
	venues map[string]holding
	log    domain.BaseLog
}

func (f *fakeHoldings) Balance(base, asset, venue string) domain.PoolBalance {
	var out domain.PoolBalance
	for v, h := range f.venues {
		if venue != "" && v != venue {
			continue
		}
		if asset == base {
			out.Actual += h.base
			out.Value += h.base * f.price
		} else {
			out.Actual += h.quote
			out.Value += h.quote
		}
	}
	return out
}

func (f *fakeHoldings) Snapshot(string) (domain.BaseLog, bool) { return f.log, true }

func levels(pv ...float64) []domain.Order {
	var out []domain.Order
	for i := 0; i+1 < len(pv); i += 2 {
		out = append(out, domain.Order{Price: pv[i], Volume: pv[i+1]})
	}
	return out
}

func snapshot(books ...domain.Orderbook) *market.Snapshot {
	s := market.NewSnapshot()
	for _, b := range books {
		b.Base, b.Quote = "ETH", "USDT"
		s.Put(b)
	}
	return s
}

func newPlanner(books Books, h Holdings) *Planner {
	return NewPlanner(Config{Quote: "USDT", Threshold: 0.1, Safety: 0.99}, books, h, discard())
}

func TestAssessImbalance(t *testing.T) {
	snap := snapshot(domain.Orderbook{Venue: "A", Bids: levels(99, 1), Asks: levels(101, 1)})

	t.Run("too much base", func(t *testing.T) {
		h := &fakeHoldings{price: 100, venues: map[string]holding{"A": {base: 1.5, quote: 50}}}
		a, err := newPlanner(snap, h).AssessImbalance(context.Background(), "ETH")
		if err != nil {
			t.Fatal(err)
		}
		if a.Side != domain.SideSell || math.Abs(a.Ratio-1) > 1e-12 || math.Abs(a.Amount-0.5) > 1e-12 {
			t.Fatalf("assessment=%+v", a)
		}
	})

	t.Run("too much quote", func(t *testing.T) {
		h := &fakeHoldings{price: 100, venues: map[string]holding{"A": {base: 0.5, quote: 150}}}
		a, _ := newPlanner(snap, h).AssessImbalance(context.Background(), "ETH")
		if a.Side != domain.SideBuy || math.Abs(a.Amount-0.5) > 1e-12 {
			t.Fatalf("assessment=%+v", a)
		}
	})

	t.Run("within threshold", func(t *testing.T) {
		h := &fakeHoldings{price: 100, venues: map[string]holding{"A": {base: 1.04, quote: 100}}}
		a, _ := newPlanner(snap, h).AssessImbalance(context.Background(), "ETH")
		if a.Amount != 0 {
			t.Fatalf("assessment=%+v want no action", a)
		}
	})

	t.Run("empty pool", func(t *testing.T) {
		a, err := newPlanner(snap, &fakeHoldings{price: 100}).AssessImbalance(context.Background(), "ETH")
		if err != nil || a.Amount != 0 {
			t.Fatalf("assessment=%+v err=%v", a, err)
		}
	})

	t.Run("no books", func(t *testing.T) {
		_, err := newPlanner(market.NewSnapshot(), &fakeHoldings{}).AssessImbalance(context.Background(), "ETH")
		if !errors.Is(err, domain.ErrNoFairPrice) {
			t.Fatalf("err=%v want ErrNoFairPrice", err)
		}
	})
}

func TestBuildPlanTakesBestPriceAcrossVenues(t *testing.T) {
	snap := snapshot(
		domain.Orderbook{Venue: "A", Bids: levels(99, 1), Asks: levels(100, 1, 103, 5)},
		domain.Orderbook{Venue: "B", Bids: levels(98, 1), Asks: levels(101, 1, 102, 5)},
	)
	h := &fakeHoldings{price: 100, venues: map[string]holding{
		"A": {quote: 100000},
		"B": {quote: 100000},
	}}

	plan := newPlanner(snap, h).BuildPlan(context.Background(), "ETH", domain.SideBuy, 3.5)
	if len(plan.Legs) != 2 {
		t.Fatalf("legs=%+v", plan.Legs)
	}
	a, b := plan.Legs[0], plan.Legs[1]
	if a.Venue != "A" || a.Volume != 1 || a.VWAP != 100 {
		t.Fatalf("leg A=%+v", a)
	}
	// B contributes its 101 level and 1.5 of the 102 level.
	if b.Venue != "B" || b.Volume != 2.5 || math.Abs(b.VWAP-(101+102*1.5)/2.5) > 1e-9 {
		t.Fatalf("leg B=%+v", b)
	}
	if last, _ := b.LastOffer(); last.Price != 102 || last.Volume != 1.5 {
		t.Fatalf("split level=%+v", last)
	}
	if math.Abs(plan.Volume()-3.5) > 1e-12 {
		t.Fatalf("volume=%v", plan.Volume())
	}
}

func TestBuildPlanRespectsVenueCaps(t *testing.T) {
	snap := snapshot(
		domain.Orderbook{Venue: "A", Bids: levels(110, 10), Asks: levels(111, 1)},
		domain.Orderbook{Venue: "B", Bids: levels(105, 10), Asks: levels(106, 1)},
		domain.Orderbook{Venue: "C", Bids: levels(100, 10), Asks: levels(101, 1)},
	)
	// A has the best bid but no base; B can sell only 0.99.
	h := &fakeHoldings{price: 100, venues: map[string]holding{
		"A": {base: 0},
		"B": {base: 1},
		"C": {base: 10},
	}}

	plan := newPlanner(snap, h).BuildPlan(context.Background(), "ETH", domain.SideSell, 2)
	for _, leg := range plan.Legs {
		if leg.Venue == "A" {
			t.Fatalf("venue without balance got a leg: %+v", leg)
		}
		if leg.Venue == "B" {
			t.Fatalf("B cannot absorb min(2, 10) and must be skipped: %+v", leg)
		}
	}
	if len(plan.Legs) != 1 || plan.Legs[0].Venue != "C" || plan.Legs[0].Volume != 2 {
		t.Fatalf("legs=%+v", plan.Legs)
	}
}

func TestBuildPlanPartial(t *testing.T) {
	snap := snapshot(domain.Orderbook{Venue: "A", Bids: levels(99, 1), Asks: levels(100, 0.5, 101, 0.25)})
	h := &fakeHoldings{price: 100, venues: map[string]holding{"A": {quote: 1e6}}}

	plan := newPlanner(snap, h).BuildPlan(context.Background(), "ETH", domain.SideBuy, 5)
	if plan.Volume() != 0.75 || plan.Requested != 5 {
		t.Fatalf("plan=%+v", plan)
	}
}

func TestBuildPlanNeverExceedsAmountOrCaps(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	venues := []string{"A", "B", "C", "D"}

	for iter := 0; iter < 200; iter++ {
		var books []domain.Orderbook
		h := &fakeHoldings{price: 100, venues: map[string]holding{}}
		for _, v := range venues {
			var bids, asks []domain.Order
			for i := 0; i < 1+r.Intn(6); i++ {
				bids = append(bids, domain.Order{Price: 99 - float64(i) - r.Float64(), Volume: r.Float64() * 3})
				asks = append(asks, domain.Order{Price: 101 + float64(i) + r.Float64(), Volume: r.Float64() * 3})
			}
			books = append(books, domain.Orderbook{Venue: v, Bids: bids, Asks: asks})
			h.venues[v] = holding{base: r.Float64() * 4, quote: r.Float64() * 400}
		}
		snap := snapshot(books...)
		fair, _ := snap.FairPrice("ETH")

		side := domain.SideBuy
		if iter%2 == 1 {
			side = domain.SideSell
		}
		amount := r.Float64() * 8
		plan := newPlanner(snap, h).BuildPlan(context.Background(), "ETH", side, amount)

		if plan.Volume() > amount+1e-9 {
			t.Fatalf("iter %d: planned %v > requested %v", iter, plan.Volume(), amount)
		}
		for _, leg := range plan.Legs {
			var limit float64
			if side == domain.SideBuy {
				limit = h.venues[leg.Venue].quote / fair * 0.99
			} else {
				limit = h.venues[leg.Venue].base * 0.99
			}
			if leg.Volume > limit+1e-9 {
				t.Fatalf("iter %d: venue %s planned %v over cap %v", iter, leg.Venue, leg.Volume, limit)
			}
			if leg.Volume <= 0 {
				t.Fatalf("iter %d: zero leg kept: %+v", iter, leg)
			}
		}
	}
}

func TestDue(t *testing.T) {
	now := time.Unix(100000, 0)
	cfg := TriggerConfig{Interval: 4 * time.Hour, PriceChange: 0.05, LopsidedFactor: 3}
	balanced := map[string]holding{"A": {base: 1, quote: 100}}

	cases := []struct {
		name   string
		log    domain.BaseLog
		venues map[string]holding
		fair   float64
		want   Reason
	}{
		{"never rebalanced", domain.BaseLog{}, balanced, 100, ReasonInterval},
		{"recent and steady", domain.BaseLog{LastRebalanceTs: now.Add(-time.Hour), LastRebalancePrice: 100}, balanced, 101, ReasonNone},
		{"price moved", domain.BaseLog{LastRebalanceTs: now.Add(-time.Hour), LastRebalancePrice: 100}, balanced, 110, ReasonPrice},
		{"lopsided", domain.BaseLog{LastRebalanceTs: now.Add(-time.Hour), LastRebalancePrice: 100}, map[string]holding{"A": {base: 4, quote: 100}}, 100, ReasonLopsided},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHoldings{price: 100, venues: tc.venues, log: tc.log}
			if got := newPlanner(market.NewSnapshot(), h).Due(cfg, "ETH", tc.fair, now); got != tc.want {
				t.Fatalf("Due=%q want=%q", got, tc.want)
			}
		})
	}
}
