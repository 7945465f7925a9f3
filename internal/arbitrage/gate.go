package arbitrage

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// GateConfig holds the actionability thresholds.
type GateConfig struct {
	MinMargin   float64       // edge required over both fee rates
	MaxBookAge  time.Duration // both books must be younger than this
	MinNotional float64       // buy leg notional at its first offer price
	Simulate    bool          // skip balance checks
}

// Gate decides whether a trimmed candidate is worth and safe to execute.
// Every failing condition is logged; none of them is an error.
type Gate struct {
	cfg      GateConfig
	balances BalanceSource
	fees     FeeSource
	now      func() time.Time
	logger   *slog.Logger
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig, balances BalanceSource, fees FeeSource, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:      cfg,
		balances: balances,
		fees:     fees,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "gate")),
	}
}

// Actionable reports whether every condition holds for a.
func (g *Gate) Actionable(ctx context.Context, a domain.ArbitrageAnalysis) bool {
	if a.Empty() || len(a.Buy.Offers) == 0 || a.Buy.VWAP <= 0 {
		return false
	}
	attrs := []any{
		slog.String("base", a.Buy.Base),
		slog.String("buy_venue", a.Buy.Venue),
		slog.String("sell_venue", a.Sell.Venue),
	}
	ok := true

	if a.Buy.Venue == a.Sell.Venue {
		g.logger.DebugContext(ctx, "gate: same venue on both legs", attrs...)
		ok = false
	}

	margin := a.Sell.VWAP/a.Buy.VWAP - 1
	required := g.fees.FeeRate(a.Buy.Venue) + g.fees.FeeRate(a.Sell.Venue) + g.cfg.MinMargin
	if math.IsNaN(margin) || margin <= required {
		g.logger.DebugContext(ctx, "gate: not worth it after fees",
			append(attrs, slog.Float64("margin", margin), slog.Float64("required", required))...)
		ok = false
	}

	now := g.now()
	buyAge, sellAge := now.Sub(a.Buy.OrderbookTimestamp), now.Sub(a.Sell.OrderbookTimestamp)
	if buyAge >= g.cfg.MaxBookAge || sellAge >= g.cfg.MaxBookAge {
		g.logger.WarnContext(ctx, "gate: orderbook is not current",
			append(attrs, slog.Duration("buy_age", buyAge), slog.Duration("sell_age", sellAge))...)
		ok = false
	}

	firstPrice := a.Buy.Offers[0].Price
	notional := a.Buy.Volume * firstPrice
	if notional <= g.cfg.MinNotional {
		g.logger.DebugContext(ctx, "gate: insufficient volume",
			append(attrs, slog.Float64("notional", notional))...)
		ok = false
	}

	if !g.cfg.Simulate {
		buyCap := g.balances.Balance(a.Buy.Base, a.Buy.Quote, a.Buy.Venue).Actual / firstPrice
		if !(a.Buy.Volume < buyCap) {
			g.logger.WarnContext(ctx, "gate: insufficient buy balance",
				append(attrs, slog.Float64("volume", a.Buy.Volume), slog.Float64("available", buyCap))...)
			ok = false
		}
		sellCap := g.balances.Balance(a.Sell.Base, a.Sell.Base, a.Sell.Venue).Actual
		if !(a.Sell.Volume < sellCap) {
			g.logger.WarnContext(ctx, "gate: insufficient sell balance",
				append(attrs, slog.Float64("volume", a.Sell.Volume), slog.Float64("available", sellCap))...)
			ok = false
		}
	}

	return ok
}
