package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/venue/venuetest"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func book(venue string, bid, ask float64) domain.Orderbook {
	return domain.Orderbook{
		Venue: venue, Base: "ETH", Quote: "USDT",
		Timestamp: time.Unix(100, 0),
		Bids:      []domain.Order{{Price: bid, Volume: 1}},
		Asks:      []domain.Order{{Price: ask, Volume: 1}},
	}
}

func TestSnapshotReadsAreCopies(t *testing.T) {
	s := NewSnapshot()
	src := book("A", 99, 101)
	s.Put(src)
	src.Bids[0].Volume = 42

	got, ok := s.Get("A", "ETH")
	if !ok {
		t.Fatal("book missing")
	}
	if got.Bids[0].Volume != 1 {
		t.Fatalf("Put kept caller's slice: volume=%v", got.Bids[0].Volume)
	}

	got.Asks[0].Volume = 0
	again, _ := s.Get("A", "ETH")
	if again.Asks[0].Volume != 1 {
		t.Fatal("Get returned shared memory")
	}

	books := s.Books("ETH")
	books[0].Bids[0].Price = 1
	if b, _ := s.Get("A", "ETH"); b.Bids[0].Price != 99 {
		t.Fatal("Books returned shared memory")
	}
}

func TestSnapshotBooksOrderAndInvalidate(t *testing.T) {
	s := NewSnapshot()
	s.Put(book("C", 1, 2))
	s.Put(book("A", 1, 2))
	s.Put(book("B", 1, 2))
	other := book("A", 1, 2)
	other.Base = "BTC"
	s.Put(other)

	books := s.Books("ETH")
	if len(books) != 3 || books[0].Venue != "A" || books[1].Venue != "B" || books[2].Venue != "C" {
		t.Fatalf("books=%v", books)
	}

	s.Invalidate("B", "ETH")
	if _, ok := s.Get("B", "ETH"); ok {
		t.Fatal("invalidated book still present")
	}
	if len(s.Books("ETH")) != 2 {
		t.Fatal("expected two books after invalidate")
	}
}

func TestFairPrice(t *testing.T) {
	s := NewSnapshot()
	if _, err := s.FairPrice("ETH"); !errors.Is(err, domain.ErrNoFairPrice) {
		t.Fatalf("err=%v want ErrNoFairPrice", err)
	}

	s.Put(book("A", 99, 101))  // mid 100
	s.Put(book("B", 103, 105)) // mid 104
	oneSided := book("C", 500, 0)
	oneSided.Asks = nil
	s.Put(oneSided)

	fair, err := s.FairPrice("ETH")
	if err != nil {
		t.Fatal(err)
	}
	if fair != 102 {
		t.Fatalf("fair=%v want=102", fair)
	}

	if p, ok := s.ExchangePrice("B", "ETH"); !ok || p != 104 {
		t.Fatalf("exchange price=%v ok=%v", p, ok)
	}
	if _, ok := s.ExchangePrice("C", "ETH"); ok {
		t.Fatal("one-sided book should have no exchange price")
	}
}

func TestRefresherIsolatesFailures(t *testing.T) {
	good := venuetest.New("A", 0.001)
	good.SetBook(domain.Orderbook{Base: "ETH", Quote: "USDT", Bids: []domain.Order{{Price: 99, Volume: 1}}, Asks: []domain.Order{{Price: 101, Volume: 1}}})

	broken := venuetest.New("B", 0.001)
	broken.SetBook(domain.Orderbook{Base: "ETH", Quote: "USDT", Bids: []domain.Order{{Price: 98, Volume: 1}}, Asks: []domain.Order{{Price: 102, Volume: 1}}})

	slow := venuetest.New("C", 0.001)
	slow.SetBook(domain.Orderbook{Base: "ETH", Quote: "USDT", Bids: []domain.Order{{Price: 97, Volume: 1}}, Asks: []domain.Order{{Price: 103, Volume: 1}}})
	slow.SetBookDelay(time.Second)

	snap := NewSnapshot()
	// A stale book from a previous cycle must not survive a failed fetch.
	snap.Put(book("B", 1, 2))

	fixed := time.Unix(500, 0)
	r := NewRefresher([]domain.ExchangeClient{good, broken, slow}, snap, "USDT", 10, 20*time.Millisecond, discard())
	r.now = func() time.Time { return fixed }

	broken.FailBooks(errors.New("boom"))
	if n := r.Refresh(context.Background(), []string{"ETH", "BTC"}); n != 1 {
		t.Fatalf("refreshed=%d want=1", n)
	}

	a, ok := snap.Get("A", "ETH")
	if !ok || !a.Timestamp.Equal(fixed) || a.Venue != "A" {
		t.Fatalf("book A=%+v ok=%v", a, ok)
	}
	if _, ok := snap.Get("B", "ETH"); ok {
		t.Fatal("failed venue kept its stale book")
	}
	if _, ok := snap.Get("C", "ETH"); ok {
		t.Fatal("timed out venue has a book")
	}
}

func TestBalanceCacheTTL(t *testing.T) {
	v := venuetest.New("A", 0.001)
	v.SetBalance("USDT", 100)

	c := NewBalanceCache(30 * time.Second)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := c.Get(ctx, v, false)
	if err != nil || got["USDT"] != 100 {
		t.Fatalf("first get=%v err=%v", got, err)
	}
	got["USDT"] = 0 // caller mutation must not leak into the cache

	v.SetBalance("USDT", 200)
	now = now.Add(10 * time.Second)
	if got, _ := c.Get(ctx, v, false); got["USDT"] != 100 {
		t.Fatalf("cached get=%v want 100", got)
	}
	if v.BalanceCalls() != 1 {
		t.Fatalf("calls=%d want=1", v.BalanceCalls())
	}

	if got, _ := c.Get(ctx, v, true); got["USDT"] != 200 {
		t.Fatalf("forced get=%v want 200", got)
	}

	v.SetBalance("USDT", 300)
	now = now.Add(31 * time.Second)
	if got, _ := c.Get(ctx, v, false); got["USDT"] != 300 {
		t.Fatalf("expired get=%v want 300", got)
	}

	c.Invalidate("A")
	v.FailBalances(errors.New("down"))
	if _, err := c.Get(ctx, v, false); err == nil {
		t.Fatal("expected error after invalidate with failing venue")
	}
}
