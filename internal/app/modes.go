package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/market"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/pool"
	"github.com/alanyoungcy/arbbot/internal/rebalance"
	"github.com/alanyoungcy/arbbot/internal/server"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/server/ws"
	"github.com/alanyoungcy/arbbot/internal/venue"
)

// NewEngine assembles the engine from cfg and deps. simulate disables order
// placement and balance checks.
func NewEngine(cfg *config.Config, deps *Dependencies, simulate bool, logger *slog.Logger) *Engine {
	quote := cfg.Engine.Quote
	s := cfg.Strategy
	r := cfg.Rebalance

	venues := venue.NewRegistry(deps.Clients...)
	snapshot := market.NewSnapshot()
	balances := market.NewBalanceCache(cfg.Engine.BalanceTTL.Duration)
	ledger := pool.New(deps.Store, quote, venues.Names(), logger)

	matcher := arbitrage.NewMatcher(s.Convergence, s.VolumeMismatchAlert, logger)
	trimmer := arbitrage.NewTrimmer(ledger, venues, s.BalanceSafety, simulate, logger)
	gate := arbitrage.NewGate(arbitrage.GateConfig{
		MinMargin:   s.MinMargin,
		MaxBookAge:  s.BookMaxAge.Duration,
		MinNotional: s.MinNotional,
		Simulate:    simulate,
	}, ledger, venues, logger)

	exec := executor.New(executor.Config{
		Quote:                quote,
		ArbSettleDelay:       s.SettleDelay.Duration,
		RebalanceSettleDelay: r.SettleDelay.Duration,
		FillThreshold:        r.FillThreshold,
		LockTTL:              cfg.Engine.LockTTL.Duration,
		VenueTimeout:         cfg.Engine.VenueTimeout.Duration,
		Simulate:             simulate,
		RepeatVolume:         s.SimulateRepeatVolume,
		RepeatTTL:            s.SimulateRepeatTTL.Duration,
	}, executor.Deps{
		Venues:   venues,
		Balances: balances,
		Ledger:   ledger,
		Store:    deps.Store,
		Locks:    deps.Locks,
		Events:   deps.Publisher,
		Logger:   logger,
	})

	return &Engine{
		cfg: EngineConfig{
			Quote:        quote,
			Assets:       cfg.Engine.Assets,
			TickInterval: cfg.Engine.TickInterval.Duration,
			Simulate:     simulate,
			LockTTL:      cfg.Engine.LockTTL.Duration,
			VenueTimeout: cfg.Engine.VenueTimeout.Duration,
			Rebalance:    r.Enabled,
			Trigger: rebalance.TriggerConfig{
				Interval:       r.Interval.Duration,
				PriceChange:    r.PriceChange,
				LopsidedFactor: r.LopsidedFactor,
			},
			MaxAttempts: r.MaxAttempts,
			Backoff:     r.Backoff.Duration,
			MaxBackoff:  r.MaxBackoff.Duration,
		},
		venues:    venues,
		snapshot:  snapshot,
		refresher: market.NewRefresher(venues.All(), snapshot, quote, cfg.Engine.BookDepth, cfg.Engine.VenueTimeout.Duration, logger),
		balances:  balances,
		ledger:    ledger,
		detector: arbitrage.NewDetector(arbitrage.DetectorConfig{
			Matcher:    matcher,
			Trimmer:    trimmer,
			Gate:       gate,
			SpreadScan: s.SpreadScan,
			Logger:     logger,
		}),
		planner: rebalance.NewPlanner(rebalance.Config{
			Quote:     quote,
			Threshold: r.ImbalanceThreshold,
			Safety:    s.BalanceSafety,
		}, snapshot, ledger, logger),
		exec:   exec,
		locks:  deps.Locks,
		events: deps.Publisher,
		now:    time.Now,
		sleep:  sleepCtx,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// TradeMode reconciles once against the venues and then trades live.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	engine := NewEngine(a.cfg, deps, false, a.logger)
	if err := engine.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Publisher.Run(ctx) })
	a.serve(ctx, g, "trade", engine, deps)
	g.Go(func() error {
		if _, err := engine.Reconcile(ctx); err != nil {
			return err
		}
		return engine.Run(ctx)
	})
	return g.Wait()
}

// SimulateMode runs the loop without placing orders. Detected opportunities
// are logged instead.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")
	engine := NewEngine(a.cfg, deps, true, a.logger)
	if err := engine.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Publisher.Run(ctx) })
	a.serve(ctx, g, "simulate", engine, deps)
	g.Go(func() error { return engine.Run(ctx) })
	return g.Wait()
}

// ReconcileMode reconciles once, flushes the resulting events and exits.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	engine := NewEngine(a.cfg, deps, false, a.logger)
	if err := engine.Start(ctx); err != nil {
		return err
	}

	pubCtx, stop := context.WithCancel(ctx)
	published := make(chan struct{})
	go func() {
		defer close(published)
		_ = deps.Publisher.Run(pubCtx)
	}()

	adjustments, err := engine.Reconcile(ctx)
	stop()
	<-published
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "reconcile finished", slog.Int("adjustments", len(adjustments)))
	return nil
}

// serve starts the status API and, when a bus is configured, the event hub
// on g. It does nothing unless the server is enabled.
func (a *App) serve(ctx context.Context, g *errgroup.Group, mode string, engine *Engine, deps *Dependencies) {
	sc := a.cfg.Server
	if !sc.Enabled {
		return
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, notify.EventChannel("*"), a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "event hub stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled, live event feed not served")
	}

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(mode, engine.venues.Names()),
		Pools:  handler.NewPoolHandler(engine.ledger, deps.Reader, a.logger),
		Events: handler.NewEventHandler(deps.Bus, notify.EventStream, a.logger),
	}, hub, a.logger)
	g.Go(func() error { return srv.Serve(ctx, sc.ShutdownTimeout.Duration) })
}
