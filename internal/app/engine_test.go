package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/pool"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
	"github.com/alanyoungcy/arbbot/internal/venue"
	"github.com/alanyoungcy/arbbot/internal/venue/venuetest"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ethBook(bid, ask, vol float64) domain.Orderbook {
	return domain.Orderbook{
		Base:  "ETH",
		Quote: "USDT",
		Bids:  []domain.Order{{Price: bid, Volume: vol}},
		Asks:  []domain.Order{{Price: ask, Volume: vol}},
	}
}

type testEngine struct {
	*Engine
	a, b  *venuetest.Client
	store *memory.LedgerStore
}

func newTestEngine(t *testing.T, simulate bool) *testEngine {
	t.Helper()
	cfg := config.Defaults()
	cfg.Engine.Assets = []string{"ETH"}
	cfg.Strategy.SettleDelay.Duration = 0
	cfg.Rebalance.SettleDelay.Duration = 0

	a := venuetest.New("A", 0.001)
	b := venuetest.New("B", 0.001)
	a.SetBook(ethBook(99, 100, 1))
	b.SetBook(ethBook(103, 104, 1))

	store := memory.NewLedgerStore()
	deps := &Dependencies{
		Clients:   []domain.ExchangeClient{a, b},
		Store:     store,
		Reader:    store,
		Publisher: notify.NewPublisher(nil, nil, 16, discard()),
	}
	e := NewEngine(&cfg, deps, simulate, discard())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &testEngine{Engine: e, a: a, b: b, store: store}
}

func (te *testEngine) fund(t *testing.T) {
	t.Helper()
	_, err := te.ledger.Apply(context.Background(), "ETH", func(tx *pool.Tx) {
		tx.Update("A", "USDT", 1000, 100)
		tx.Update("B", "ETH", 5, 103)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStepExecutesCrossVenueArbitrage(t *testing.T) {
	te := newTestEngine(t, false)
	te.fund(t)

	te.Step(context.Background())

	buys, sells := te.a.Orders(), te.b.Orders()
	if len(buys) != 1 || buys[0].Side != domain.SideBuy {
		t.Fatalf("buy venue orders=%+v", buys)
	}
	if len(sells) != 1 || sells[0].Side != domain.SideSell {
		t.Fatalf("sell venue orders=%+v", sells)
	}
	if _, ok := te.snapshot.Get("A", "ETH"); ok {
		t.Fatal("consumed buy book still in snapshot")
	}
	if _, ok := te.snapshot.Get("B", "ETH"); ok {
		t.Fatal("consumed sell book still in snapshot")
	}
	if got := te.ledger.Balance("ETH", "ETH", "A").Actual; got != buys[0].Volume {
		t.Fatalf("A eth=%v want %v", got, buys[0].Volume)
	}
	recs, _ := te.store.ListArbitrage(context.Background(), "ETH", domain.ListOpts{})
	if len(recs) != 1 {
		t.Fatalf("audit records=%d want 1", len(recs))
	}
}

func TestStepWithoutBalancesDoesNothing(t *testing.T) {
	te := newTestEngine(t, false)
	te.Step(context.Background())
	if n := len(te.a.Orders()) + len(te.b.Orders()); n != 0 {
		t.Fatalf("orders placed without balances: %d", n)
	}
}

func TestStepSimulationPlacesNoOrders(t *testing.T) {
	te := newTestEngine(t, true)
	te.Step(context.Background())
	if n := len(te.a.Orders()) + len(te.b.Orders()); n != 0 {
		t.Fatalf("simulation placed %d orders", n)
	}
}

func TestReconcileFoldsVenueBalances(t *testing.T) {
	te := newTestEngine(t, false)
	te.a.SetBalance("USDT", 1000)
	te.b.SetBalance("ETH", 2)

	adjustments, err := te.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(adjustments) != 2 {
		t.Fatalf("adjustments=%+v", adjustments)
	}
	if got := te.ledger.Balance("ETH", "USDT", "A").Actual; got != 1000 {
		t.Fatalf("A usdt=%v", got)
	}
	if got := te.ledger.Balance("ETH", "ETH", "B").Actual; got != 2 {
		t.Fatalf("B eth=%v", got)
	}

	again, _ := te.Reconcile(context.Background())
	if len(again) != 0 {
		t.Fatalf("second pass adjusted %+v", again)
	}
}

func TestReconcileSkipsUnreachableVenue(t *testing.T) {
	te := newTestEngine(t, false)
	te.a.SetBalance("USDT", 1000)
	te.b.SetBalance("ETH", 2)
	te.b.FailBalances(errors.New("timeout"))

	adjustments, err := te.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, adj := range adjustments {
		if adj.Venue == "B" {
			t.Fatalf("unreachable venue adjusted: %+v", adj)
		}
	}
	if got := te.ledger.Balance("ETH", "ETH", "B").Actual; got != 0 {
		t.Fatalf("B eth=%v want 0", got)
	}
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestReconcileRespectsPoolLock(t *testing.T) {
	te := newTestEngine(t, false)
	te.locks = heldLocks{}
	te.a.SetBalance("USDT", 1000)

	if _, err := te.Reconcile(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err=%v want ErrLockHeld", err)
	}
	if got := te.ledger.Balance("ETH", "USDT", "A").Actual; got != 0 {
		t.Fatalf("ledger changed while locked: %v", got)
	}
}

func TestTryRebalanceBalancedPoolMarksCheck(t *testing.T) {
	te := newTestEngine(t, false)
	_, _ = te.ledger.Apply(context.Background(), "ETH", func(tx *pool.Tx) {
		tx.Update("A", "USDT", 500, 100)
		tx.Update("A", "ETH", 5, 100)
	})
	te.a.SetBook(ethBook(99, 101, 1))
	te.b.SetBook(ethBook(99, 101, 1))
	te.refresher.Refresh(context.Background(), []string{"ETH"})

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	te.now = func() time.Time { return at }
	if !te.tryRebalance(context.Background(), "ETH") {
		t.Fatal("balanced pool should report done")
	}
	log, _ := te.ledger.Snapshot("ETH")
	if !log.LastRebalanceTs.Equal(at) || log.LastRebalancePrice != 100 {
		t.Fatalf("last rebalance=%v@%v", log.LastRebalancePrice, log.LastRebalanceTs)
	}
	if n := len(te.a.Orders()) + len(te.b.Orders()); n != 0 {
		t.Fatalf("balanced pool placed %d orders", n)
	}
}

func TestTryRebalanceStopsAfterMaxAttempts(t *testing.T) {
	te := newTestEngine(t, false)
	te.cfg.MaxAttempts = 3
	te.a.SetFillRatio(0)
	te.b.SetFillRatio(0)
	_, _ = te.ledger.Apply(context.Background(), "ETH", func(tx *pool.Tx) {
		tx.Update("A", "USDT", 1000, 100)
		tx.Update("B", "USDT", 1000, 100)
	})
	te.a.SetBook(ethBook(99, 101, 2))
	te.b.SetBook(ethBook(99, 101, 2))
	te.refresher.Refresh(context.Background(), []string{"ETH"})

	if te.tryRebalance(context.Background(), "ETH") {
		t.Fatal("unfilled rebalance reported done")
	}
	if n := len(te.a.Orders()) + len(te.b.Orders()); n != 3*2 {
		t.Fatalf("orders=%d want one per venue per attempt", n)
	}
	recs, _ := te.store.ListRebalance(context.Background(), "ETH", domain.ListOpts{})
	if len(recs) != 3 {
		t.Fatalf("rebalance records=%d want 3", len(recs))
	}
}

// stalledBalances never answers FetchBalances before the caller's deadline.
type stalledBalances struct{ *venuetest.Client }

func (stalledBalances) FetchBalances(ctx context.Context) (map[string]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReconcileBoundsStalledVenue(t *testing.T) {
	te := newTestEngine(t, false)
	te.cfg.VenueTimeout = 20 * time.Millisecond
	te.venues = venue.NewRegistry(te.a, stalledBalances{te.b})
	te.a.SetBalance("USDT", 1000)

	done := make(chan []pool.Adjustment, 1)
	go func() {
		adj, _ := te.Reconcile(context.Background())
		done <- adj
	}()

	select {
	case adj := <-done:
		for _, a := range adj {
			if a.Venue == "B" {
				t.Fatalf("stalled venue adjusted: %+v", a)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconcile blocked on a stalled venue")
	}
	if got := te.ledger.Balance("ETH", "USDT", "A").Actual; got != 1000 {
		t.Fatalf("A usdt=%v want 1000", got)
	}
}
