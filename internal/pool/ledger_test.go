package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type allMarkets struct{}

func (allMarkets) HasMarket(string, string, string) bool { return true }

type fixedPrices map[string]float64 // venue/base -> price

func (p fixedPrices) ExchangePrice(venue, base string) (float64, bool) {
	v, ok := p[venue+"/"+base]
	return v, ok
}

func newLedger(t *testing.T, venues ...string) (*Ledger, *memory.LedgerStore) {
	t.Helper()
	store := memory.NewLedgerStore()
	l := New(store, "USDT", venues, discard())
	if err := l.Load(context.Background(), []string{"ETH", "BTC"}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l, store
}

func sumVenues(log domain.BaseLog) (base, quote float64) {
	for _, eb := range log.ExchangeBalances {
		base += eb.Base
		quote += eb.Quote
	}
	return base, quote
}

func TestUpdateKeepsRollupsInStep(t *testing.T) {
	l, _ := newLedger(t, "A", "B", "C")
	r := rand.New(rand.NewSource(1))
	venues := []string{"A", "B", "C"}

	for i := 0; i < 300; i++ {
		_, err := l.Apply(context.Background(), "ETH", func(tx *Tx) {
			// Quarter units keep every sum exactly representable.
			delta := float64(r.Intn(41)-20) / 4
			asset := "ETH"
			if r.Intn(2) == 0 {
				asset = "USDT"
			}
			tx.Update(venues[r.Intn(3)], asset, delta, 2000)
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	log, _ := l.Snapshot("ETH")
	base, quote := sumVenues(log)
	if log.SumBase != base || log.SumQuote != quote {
		t.Fatalf("sumBase=%v venues=%v sumQuote=%v venues=%v", log.SumBase, base, log.SumQuote, quote)
	}
	if log.SumBaseValue != log.SumBase*2000 {
		t.Fatalf("sumBaseValue=%v want=%v", log.SumBaseValue, log.SumBase*2000)
	}
}

func TestConcurrentAppliesAreSerializedPerAsset(t *testing.T) {
	l, store := newLedger(t, "A", "B")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Apply(context.Background(), "ETH", func(tx *Tx) { tx.Update("A", "ETH", 1, 100) })
		}()
		go func() {
			defer wg.Done()
			_, _ = l.Apply(context.Background(), "BTC", func(tx *Tx) { tx.Update("B", "USDT", 2, 1) })
		}()
	}
	wg.Wait()

	if got := l.Balance("ETH", "ETH", "").Actual; got != 50 {
		t.Fatalf("eth=%v want=50", got)
	}
	if got := l.Balance("BTC", "USDT", "B").Actual; got != 100 {
		t.Fatalf("btc quote=%v want=100", got)
	}
	if n := len(store.BaseLogs("ETH")); n != 50 {
		t.Fatalf("persisted %d eth logs, want 50", n)
	}
}

func TestBalanceValues(t *testing.T) {
	l, _ := newLedger(t, "A", "B")
	_, _ = l.Apply(context.Background(), "ETH", func(tx *Tx) {
		tx.Update("A", "ETH", 2, 100)
		tx.Update("B", "ETH", 1, 110)
		tx.Update("A", "USDT", 500, 100)
	})

	if b := l.Balance("ETH", "ETH", "A"); b.Actual != 2 || b.Value != 200 {
		t.Fatalf("A eth=%+v", b)
	}
	if b := l.Balance("ETH", "ETH", ""); b.Actual != 3 || b.Value != 310 {
		t.Fatalf("total eth=%+v", b)
	}
	if b := l.Balance("ETH", "USDT", ""); b.Actual != 500 || b.Value != 500 {
		t.Fatalf("total usdt=%+v", b)
	}
	if b := l.Balance("ETH", "ETH", "missing"); b.Actual != 0 {
		t.Fatalf("missing venue=%+v", b)
	}
	if b := l.Balance("SOL", "SOL", ""); b.Actual != 0 {
		t.Fatalf("untracked base=%+v", b)
	}
}

func TestLoadResumesFromStore(t *testing.T) {
	store := memory.NewLedgerStore()
	prev := domain.NewBaseLog("ETH", "USDT")
	prev.SumBase = 4
	prev.ExchangeBalances["A"] = domain.ExchangeBalance{Venue: "A", Base: 4}
	if err := store.AppendBaseLog(context.Background(), prev); err != nil {
		t.Fatal(err)
	}

	l := New(store, "USDT", []string{"A"}, discard())
	if err := l.Load(context.Background(), []string{"ETH"}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := l.Balance("ETH", "ETH", "A").Actual; got != 4 {
		t.Fatalf("resumed balance=%v want=4", got)
	}
}

func TestApplyUnknownBase(t *testing.T) {
	l, _ := newLedger(t, "A")
	_, err := l.Apply(context.Background(), "DOGE", func(*Tx) {})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestAddInvestmentCostBasis(t *testing.T) {
	log := domain.NewBaseLog("ETH", "USDT")
	tx := &Tx{log: &log}

	tx.AddInvestment(1000, 100) // 10 units at 100
	if log.InitialInvestment != 1000 || log.InitialInvestmentVWAP != 100 {
		t.Fatalf("after first=%v@%v", log.InitialInvestment, log.InitialInvestmentVWAP)
	}
	tx.AddInvestment(2000, 200) // 10 more units at 200
	if log.InitialInvestment != 3000 || math.Abs(log.InitialInvestmentVWAP-150) > 1e-9 {
		t.Fatalf("after second=%v@%v", log.InitialInvestment, log.InitialInvestmentVWAP)
	}
	tx.AddInvestment(-3000, 0) // degenerate price resets instead of going NaN
	if log.InitialInvestment != 0 || log.InitialInvestmentVWAP != 0 {
		t.Fatalf("after degenerate=%v@%v", log.InitialInvestment, log.InitialInvestmentVWAP)
	}
}

func TestCloseEnough(t *testing.T) {
	cases := []struct {
		a, b float64
		want bool
	}{
		{0, 0, true},
		{0, 1, false},
		{1, 0, false},
		{100, 100.5, true},
		{100, 101.5, false},
		{99.5, 100, true},
	}
	for _, tc := range cases {
		if got := CloseEnough(tc.a, tc.b); got != tc.want {
			t.Fatalf("CloseEnough(%v, %v)=%v want=%v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestReconcileNoOpWithinTolerance(t *testing.T) {
	l, _ := newLedger(t, "A", "B")
	_, _ = l.Apply(context.Background(), "ETH", func(tx *Tx) {
		tx.Update("A", "ETH", 1, 2000)
		tx.Update("A", "USDT", 1000, 2000)
		tx.AddInvestment(3000, 2000)
	})
	_, _ = l.Apply(context.Background(), "BTC", func(tx *Tx) {
		tx.Update("A", "BTC", 0.1, 30000)
		tx.Update("A", "USDT", 1000, 30000)
	})
	before, _ := l.Snapshot("ETH")

	truth := map[string]map[string]float64{
		"A": {"ETH": 1.005, "BTC": 0.1, "USDT": 1995},
		"B": {},
	}
	adj := l.Reconcile(context.Background(), truth, allMarkets{}, fixedPrices{"A/ETH": 2000, "A/BTC": 30000})
	if len(adj) != 0 {
		t.Fatalf("adjustments=%+v want none", adj)
	}
	after, _ := l.Snapshot("ETH")
	if after.InitialInvestment != before.InitialInvestment || after.InitialInvestmentVWAP != before.InitialInvestmentVWAP {
		t.Fatalf("cost basis changed %v@%v -> %v@%v", before.InitialInvestment, before.InitialInvestmentVWAP, after.InitialInvestment, after.InitialInvestmentVWAP)
	}
	if after.SumBase != before.SumBase || after.SumQuote != before.SumQuote {
		t.Fatal("balances changed")
	}
	if _, ok := after.ExchangeBalances["B"]; !ok {
		t.Fatal("venue B should have been initialized")
	}
}

func TestReconcileFoldsDeposits(t *testing.T) {
	l, _ := newLedger(t, "A", "B")
	truth := map[string]map[string]float64{
		"A": {"ETH": 2, "USDT": 1000},
		"B": {"BTC": 0},
	}
	prices := fixedPrices{"A/ETH": 100, "A/BTC": 20000, "B/ETH": 100, "B/BTC": 20000}
	adj := l.Reconcile(context.Background(), truth, allMarkets{}, prices)
	if len(adj) != 3 {
		t.Fatalf("adjustments=%+v want 3", adj)
	}

	eth, _ := l.Snapshot("ETH")
	btc, _ := l.Snapshot("BTC")
	if eth.SumBase != 2 || eth.ExchangeBalances["A"].BaseValue != 200 {
		t.Fatalf("eth=%+v", eth)
	}
	// The 1000 USDT deposit is split over the two pools listed on A.
	if eth.SumQuote != 500 || btc.SumQuote != 500 {
		t.Fatalf("quote split eth=%v btc=%v", eth.SumQuote, btc.SumQuote)
	}
	if eth.InitialInvestment != 700 || math.Abs(eth.InitialInvestmentVWAP-100) > 1e-9 {
		t.Fatalf("eth investment=%v@%v", eth.InitialInvestment, eth.InitialInvestmentVWAP)
	}
	if btc.InitialInvestment != 500 || math.Abs(btc.InitialInvestmentVWAP-20000) > 1e-9 {
		t.Fatalf("btc investment=%v@%v", btc.InitialInvestment, btc.InitialInvestmentVWAP)
	}

	// A second pass against the same truth finds nothing.
	if again := l.Reconcile(context.Background(), truth, allMarkets{}, prices); len(again) != 0 {
		t.Fatalf("second reconcile=%+v", again)
	}
}

func TestReconcileSkipsVenueWithoutTruth(t *testing.T) {
	l, _ := newLedger(t, "A", "B")
	_, _ = l.Apply(context.Background(), "ETH", func(tx *Tx) { tx.Update("B", "ETH", 3, 100) })

	adj := l.Reconcile(context.Background(), map[string]map[string]float64{"A": {}}, allMarkets{}, fixedPrices{})
	if len(adj) != 0 {
		t.Fatalf("adjustments=%+v", adj)
	}
	if got := l.Balance("ETH", "ETH", "B").Actual; got != 3 {
		t.Fatalf("B balance=%v want=3", got)
	}
}

func TestReconcileQuoteSplitSkipsUnpricedPools(t *testing.T) {
	l, _ := newLedger(t, "A")
	truth := map[string]map[string]float64{"A": {"USDT": 1000}}

	// BTC has no price on A, so the whole deposit goes to ETH.
	adj := l.Reconcile(context.Background(), truth, allMarkets{}, fixedPrices{"A/ETH": 100})
	if len(adj) != 1 || adj[0].Base != "ETH" || adj[0].Delta != 1000 {
		t.Fatalf("adjustments=%+v", adj)
	}
	eth, _ := l.Snapshot("ETH")
	btc, _ := l.Snapshot("BTC")
	if eth.SumQuote+btc.SumQuote != 1000 {
		t.Fatalf("venue quote=%v want 1000", eth.SumQuote+btc.SumQuote)
	}

	if again := l.Reconcile(context.Background(), truth, allMarkets{}, fixedPrices{"A/ETH": 100}); len(again) != 0 {
		t.Fatalf("second reconcile=%+v", again)
	}
}

func TestReconcileQuoteWithoutAnyPriceIsDeferred(t *testing.T) {
	l, _ := newLedger(t, "A")
	truth := map[string]map[string]float64{"A": {"USDT": 1000}}

	if adj := l.Reconcile(context.Background(), truth, allMarkets{}, fixedPrices{}); len(adj) != 0 {
		t.Fatalf("adjustments=%+v want none", adj)
	}
	if got := l.Balance("ETH", "USDT", "A").Actual + l.Balance("BTC", "USDT", "A").Actual; got != 0 {
		t.Fatalf("quote=%v want 0", got)
	}
}
