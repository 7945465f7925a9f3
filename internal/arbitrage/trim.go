package arbitrage

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// BalanceSource reports ledger holdings. An empty venue sums all venues.
type BalanceSource interface {
	Balance(base, asset, venue string) domain.PoolBalance
}

// FeeSource reports a venue's taker fee rate as a fraction of notional.
type FeeSource interface {
	FeeRate(venue string) float64
}

// Trimmer caps a candidate to what the buy venue's quote balance and the sell
// venue's base balance can support, then nets fees out of its profit.
type Trimmer struct {
	balances BalanceSource
	fees     FeeSource
	safety   float64
	simulate bool
	logger   *slog.Logger
}

// NewTrimmer creates a Trimmer. safety scales balances down (0.99 leaves 1%
// headroom). In simulation balances are not consulted.
func NewTrimmer(balances BalanceSource, fees FeeSource, safety float64, simulate bool, logger *slog.Logger) *Trimmer {
	return &Trimmer{
		balances: balances,
		fees:     fees,
		safety:   safety,
		simulate: simulate,
		logger:   logger.With(slog.String("component", "trimmer")),
	}
}

// Trim returns a trimmed copy of a. The input is never modified. A candidate
// without buy offers is returned unchanged.
func (t *Trimmer) Trim(ctx context.Context, a domain.ArbitrageAnalysis) domain.ArbitrageAnalysis {
	last, ok := a.Buy.LastOffer()
	if !ok || last.Price <= 0 || len(a.Sell.Offers) == 0 {
		return a
	}

	out := a.Clone()
	if !t.simulate {
		quote := t.balances.Balance(out.Buy.Base, out.Buy.Quote, out.Buy.Venue).Actual
		base := t.balances.Balance(out.Sell.Base, out.Sell.Base, out.Sell.Venue).Actual
		limit := min(quote/last.Price*t.safety, base*t.safety)

		out.Buy.Offers = trimTail(out.Buy.Offers, limit)
		out.Sell.Offers = trimTail(out.Sell.Offers, limit)
	}

	out.Buy.VWAP, out.Buy.Volume = VWAP(out.Buy.Offers)
	out.Sell.VWAP, out.Sell.Volume = VWAP(out.Sell.Offers)

	bought := out.Buy.VWAP * out.Buy.Volume
	sold := out.Sell.VWAP * out.Sell.Volume
	out.IdealProfit = sold - bought - t.fees.FeeRate(out.Sell.Venue)*sold - t.fees.FeeRate(out.Buy.Venue)*bought

	t.logger.DebugContext(ctx, "trimmed",
		slog.String("base", out.Buy.Base),
		slog.Float64("buy_volume", out.Buy.Volume),
		slog.Float64("bought", bought),
		slog.Float64("sell_volume", out.Sell.Volume),
		slog.Float64("sold", sold),
		slog.Float64("profit", out.IdealProfit),
	)
	return out
}
