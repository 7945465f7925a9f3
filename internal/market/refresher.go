package market

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Refresher fetches books from every venue concurrently. A failing or slow
// venue only loses its own entries for the cycle.
type Refresher struct {
	venues  []domain.ExchangeClient
	snap    *Snapshot
	quote   string
	depth   int
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewRefresher creates a Refresher writing into snap.
func NewRefresher(venues []domain.ExchangeClient, snap *Snapshot, quote string, depth int, timeout time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		venues:  venues,
		snap:    snap,
		quote:   quote,
		depth:   depth,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "market_refresher")),
	}
}

// Refresh updates the books of every (venue, asset) pair the venues list and
// returns how many were fetched successfully.
func (r *Refresher) Refresh(ctx context.Context, assets []string) int {
	var ok atomic.Int64
	var g errgroup.Group

	for _, v := range r.venues {
		for _, base := range assets {
			if !v.HasMarket(base, r.quote) {
				continue
			}
			g.Go(func() error {
				if r.fetch(ctx, v, base) {
					ok.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (r *Refresher) fetch(ctx context.Context, v domain.ExchangeClient, base string) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	book, err := v.FetchOrderbook(callCtx, base, r.quote, r.depth)
	if err != nil {
		r.snap.Invalidate(v.Name(), base)
		r.logger.WarnContext(ctx, "orderbook fetch failed",
			slog.String("venue", v.Name()),
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
		return false
	}

	book.Venue = v.Name()
	book.Base = base
	book.Quote = r.quote
	if book.Timestamp.IsZero() {
		book.Timestamp = r.now()
	}
	r.snap.Put(book)
	return true
}
