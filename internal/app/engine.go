package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/market"
	"github.com/alanyoungcy/arbbot/internal/pool"
	"github.com/alanyoungcy/arbbot/internal/rebalance"
	"github.com/alanyoungcy/arbbot/internal/venue"
)

// EngineConfig is the driver's cadence and retry policy.
type EngineConfig struct {
	Quote        string
	Assets       []string
	TickInterval time.Duration
	Simulate     bool
	LockTTL      time.Duration
	VenueTimeout time.Duration

	Rebalance   bool
	Trigger     rebalance.TriggerConfig
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Engine drives the refresh, detect, execute and rebalance loop over every
// tracked asset.
type Engine struct {
	cfg       EngineConfig
	venues    *venue.Registry
	snapshot  *market.Snapshot
	refresher *market.Refresher
	balances  *market.BalanceCache
	ledger    *pool.Ledger
	detector  *arbitrage.Detector
	planner   *rebalance.Planner
	exec      *executor.Executor
	locks     domain.LockManager  // optional
	events    executor.EventSink // optional

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Start loads every tracked pool from the store.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ledger.Load(ctx, e.cfg.Assets); err != nil {
		return fmt.Errorf("app: load ledger: %w", err)
	}
	return nil
}

// Run loops until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine running",
		slog.Any("assets", e.cfg.Assets),
		slog.Any("venues", e.venues.Names()),
		slog.Bool("simulate", e.cfg.Simulate),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Step(ctx)
		if err := e.sleep(ctx, e.cfg.TickInterval); err != nil {
			return err
		}
		if e.cfg.Rebalance && !e.cfg.Simulate {
			for _, base := range e.cfg.Assets {
				e.checkRebalance(ctx, base)
			}
		}
	}
}

// Step refreshes the snapshot and ticks every asset concurrently.
func (e *Engine) Step(ctx context.Context) {
	fetched := e.refresher.Refresh(ctx, e.cfg.Assets)
	e.logger.DebugContext(ctx, "snapshot refreshed", slog.Int("books", fetched))

	var g errgroup.Group
	for _, base := range e.cfg.Assets {
		g.Go(func() error {
			e.tick(ctx, base)
			return nil
		})
	}
	_ = g.Wait()
}

// tick executes the best actionable arbitrage for base, if any. Both
// consumed books are dropped first so no later tick trades on them again.
func (e *Engine) tick(ctx context.Context, base string) {
	c, ok := e.detector.Best(ctx, base, e.snapshot.Books(base))
	if !ok {
		return
	}
	e.snapshot.Invalidate(c.Trimmed.Buy.Venue, base)
	e.snapshot.Invalidate(c.Trimmed.Sell.Venue, base)

	if _, err := e.exec.ExecuteArbitrage(ctx, c); err != nil {
		e.logger.WarnContext(ctx, "arbitrage execution failed",
			slog.String("base", base),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) checkRebalance(ctx context.Context, base string) {
	fair, err := e.snapshot.FairPrice(base)
	if err != nil {
		e.logger.DebugContext(ctx, "no fair price, skipping rebalance check", slog.String("base", base))
		return
	}
	reason := e.planner.Due(e.cfg.Trigger, base, fair, e.now())
	if reason == rebalance.ReasonNone {
		return
	}
	e.logger.InfoContext(ctx, "rebalance triggered",
		slog.String("base", base),
		slog.String("reason", string(reason)),
		slog.Float64("fair_price", fair),
	)
	e.tryRebalance(ctx, base)
}

// tryRebalance repeats assess, plan, execute until a plan fills, the pool
// needs nothing, or MaxAttempts is used up. Books are refreshed between
// attempts.
func (e *Engine) tryRebalance(ctx context.Context, base string) bool {
	b := &backoff.Backoff{Min: e.cfg.Backoff, Max: e.cfg.MaxBackoff, Factor: 2}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		a, err := e.planner.AssessImbalance(ctx, base)
		if err != nil {
			e.logger.WarnContext(ctx, "rebalance assessment failed",
				slog.String("base", base),
				slog.String("error", err.Error()),
			)
			return false
		}
		if a.Amount == 0 {
			e.markBalanced(ctx, base, a.FairPrice)
			return true
		}

		plan := e.planner.BuildPlan(ctx, base, a.Side, a.Amount)
		done, err := e.exec.ExecuteRebalance(ctx, plan)
		if err != nil {
			e.logger.WarnContext(ctx, "rebalance attempt failed",
				slog.String("base", base),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		if done {
			return true
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, b.Duration()); err != nil {
			return false
		}
		e.refresher.Refresh(ctx, []string{base})
	}

	e.logger.WarnContext(ctx, "rebalance attempts exhausted",
		slog.String("base", base),
		slog.Int("attempts", e.cfg.MaxAttempts),
	)
	return false
}

// markBalanced stamps a no-action check so the interval trigger restarts.
func (e *Engine) markBalanced(ctx context.Context, base string, fair float64) {
	at := e.now()
	if _, err := e.ledger.Apply(ctx, base, func(tx *pool.Tx) {
		tx.MarkRebalanced(at, fair)
	}); err != nil {
		e.logger.WarnContext(ctx, "mark balanced failed", slog.String("base", base), slog.String("error", err.Error()))
	}
}

// Reconcile folds true venue balances into the ledger. Venues whose balances
// cannot be fetched are left untouched. When a lock manager is configured
// every pool lock is held for the whole pass.
func (e *Engine) Reconcile(ctx context.Context) ([]pool.Adjustment, error) {
	e.refresher.Refresh(ctx, e.cfg.Assets)

	truth := e.fetchTruth(ctx)

	if e.locks != nil {
		for _, base := range e.cfg.Assets {
			unlock, err := e.locks.Acquire(ctx, executor.LockKey(base), e.cfg.LockTTL)
			if err != nil {
				return nil, fmt.Errorf("app: reconcile lock %s: %w", base, err)
			}
			defer unlock()
		}
	}

	adjustments := e.ledger.Reconcile(ctx, truth, e.venues, e.snapshot)
	for _, adj := range adjustments {
		e.logger.InfoContext(ctx, "balance adjusted",
			slog.String("venue", adj.Venue),
			slog.String("base", adj.Base),
			slog.String("asset", adj.Asset),
			slog.Float64("expected", adj.Expected),
			slog.Float64("actual", adj.Actual),
			slog.Float64("delta", adj.Delta),
		)
	}
	if len(adjustments) > 0 && e.events != nil {
		e.events.Emit(ctx, domain.Event{
			Kind:    domain.EventReconcile,
			Title:   "Balances reconciled",
			Message: fmt.Sprintf("%d adjustment(s) across %d venue(s)", len(adjustments), len(truth)),
			Time:    e.now(),
		})
	}
	return adjustments, nil
}

// fetchTruth pulls fresh balances from every venue at once, each call bounded
// by VenueTimeout. Venues that fail or time out are left out.
func (e *Engine) fetchTruth(ctx context.Context) map[string]map[string]float64 {
	var mu sync.Mutex
	truth := make(map[string]map[string]float64)

	var g errgroup.Group
	for _, c := range e.venues.All() {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
			defer cancel()
			amounts, err := e.balances.Get(callCtx, c, true)
			if err != nil {
				e.logger.WarnContext(ctx, "fetch balances failed",
					slog.String("venue", c.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			truth[c.Name()] = amounts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return truth
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
