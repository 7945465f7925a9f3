// Package executor submits arbitrage and rebalance legs to venues, waits for
// fill truth from every leg, and only then applies the realized deltas to the
// pool ledger and the audit store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/pool"
)

// Venues resolves venue clients and fee rates by name.
type Venues interface {
	Get(name string) (domain.ExchangeClient, error)
	FeeRate(name string) float64
}

// Balances refreshes a venue's cached balances.
type Balances interface {
	Get(ctx context.Context, venue domain.ExchangeClient, force bool) (map[string]float64, error)
}

// Ledger is the single mutation entry point of the pool ledger.
type Ledger interface {
	Apply(ctx context.Context, base string, fn func(tx *pool.Tx)) (domain.BaseLog, error)
}

// EventSink receives engine events. Emit must not block on slow consumers.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// Config holds execution timing and policy.
type Config struct {
	Quote                string
	ArbSettleDelay       time.Duration
	RebalanceSettleDelay time.Duration
	// FillThreshold is the filled fraction of a rebalance that counts as done.
	FillThreshold float64
	LockTTL       time.Duration
	// VenueTimeout bounds each venue call; zero leaves it to the client.
	VenueTimeout time.Duration
	Simulate      bool
	RepeatVolume  float64
	RepeatTTL     time.Duration
}

// Executor runs trades. It is safe for concurrent use across assets.
type Executor struct {
	cfg      Config
	venues   Venues
	balances Balances
	ledger   Ledger
	store    domain.LedgerStore
	locks    domain.LockManager
	events   EventSink
	repeats  *Dedup

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Deps are the collaborators of an Executor. Locks and Events are optional.
type Deps struct {
	Venues   Venues
	Balances Balances
	Ledger   Ledger
	Store    domain.LedgerStore
	Locks    domain.LockManager
	Events   EventSink
	Logger   *slog.Logger
}

// New creates an Executor.
func New(cfg Config, deps Deps) *Executor {
	return &Executor{
		cfg:      cfg,
		venues:   deps.Venues,
		balances: deps.Balances,
		ledger:   deps.Ledger,
		store:    deps.Store,
		locks:    deps.Locks,
		events:   deps.Events,
		repeats:  NewDedup(cfg.RepeatTTL),
		now:      time.Now,
		sleep:    sleepCtx,
		logger:   deps.Logger.With(slog.String("component", "executor")),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// venueCtx bounds a single venue call. A timeout fails only that venue.
func (e *Executor) venueCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.VenueTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.VenueTimeout)
}

// lock takes the per-asset execution lock when a lock manager is configured.
func (e *Executor) lock(ctx context.Context, base string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	unlock, err := e.locks.Acquire(ctx, LockKey(base), e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("executor: lock %s: %w", base, err)
	}
	return unlock, nil
}

// LockKey is the distributed lock name guarding trades on base's pool.
func LockKey(base string) string {
	return "arbbot:lock:pool:" + base
}

// leg is one submitted order and what became of it.
type leg struct {
	venue    string
	client   domain.ExchangeClient
	expected domain.TradeAnalysis
	order    domain.OrderResult
	status   domain.OrderStatus
	err      error
}

func (l *leg) execution() domain.TradeExecution {
	return domain.TradeExecution{
		Venue:         l.venue,
		ExpectedVWAP:  l.expected.VWAP,
		ExpectedBase:  l.expected.Volume,
		ExpectedQuote: l.expected.Volume * l.expected.VWAP,
		Order:         l.order,
		Status:        l.status,
	}
}

// price is the realized VWAP, or the expected one when nothing filled.
func (l *leg) price() float64 {
	if l.status.VWAP > 0 {
		return l.status.VWAP
	}
	return l.expected.VWAP
}

// fee is the venue-reported fee, or executedQuote*feeRate when none was
// reported.
func (e *Executor) fee(l *leg) float64 {
	if l.status.Fee > 0 {
		return l.status.Fee
	}
	return l.status.ExecutedQuote * e.venues.FeeRate(l.venue)
}

// query fetches the fill status of a submitted leg.
func (e *Executor) query(ctx context.Context, l *leg) {
	if l.err != nil {
		return
	}
	qctx, cancel := e.venueCtx(ctx)
	defer cancel()
	st, err := l.client.QueryOrder(qctx, l.expected.Base, l.expected.Quote, l.order.OrderID)
	if err != nil {
		l.err = fmt.Errorf("executor: query %s order %s: %w", l.venue, l.order.OrderID, err)
		return
	}
	l.status = st
}

// refresh forces a balance refresh on every venue touched, concurrently.
// Failures are logged; the cache will retry on its own TTL.
func (e *Executor) refresh(ctx context.Context, legs []*leg) {
	var g errgroup.Group
	for _, l := range legs {
		g.Go(func() error {
			bctx, cancel := e.venueCtx(ctx)
			defer cancel()
			if _, err := e.balances.Get(bctx, l.client, true); err != nil {
				e.logger.WarnContext(ctx, "balance refresh failed",
					slog.String("venue", l.venue),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// cancelOpen cancels whatever is still resting for l.
func (e *Executor) cancelOpen(ctx context.Context, l *leg) {
	cctx, cancel := e.venueCtx(ctx)
	defer cancel()
	if err := l.client.CancelOpenOrders(cctx, l.expected.Base, l.expected.Quote); err != nil {
		e.logger.WarnContext(ctx, "cancel open orders failed",
			slog.String("venue", l.venue),
			slog.String("base", l.expected.Base),
			slog.String("error", err.Error()),
		)
	}
}

// create submits req on l's venue within the venue timeout.
func (e *Executor) create(ctx context.Context, l *leg, req domain.OrderRequest) (domain.OrderResult, error) {
	cctx, cancel := e.venueCtx(ctx)
	defer cancel()
	return l.client.CreateOrder(cctx, req)
}

func legErrors(legs []*leg) error {
	var errs []error
	for _, l := range legs {
		if l.err != nil {
			errs = append(errs, l.err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) emit(ctx context.Context, ev domain.Event) {
	if e.events == nil {
		return
	}
	ev.Time = e.now()
	e.events.Emit(ctx, ev)
}
