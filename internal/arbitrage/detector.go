package arbitrage

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Candidate pairs the raw matched analysis with its trimmed, fee-adjusted
// version. Execution uses Trimmed; Raw is kept for the audit record.
type Candidate struct {
	Raw     domain.ArbitrageAnalysis
	Trimmed domain.ArbitrageAnalysis
}

// Detector scans every venue pair of one asset and picks the most profitable
// actionable candidate.
type Detector struct {
	matcher    *Matcher
	trimmer    *Trimmer
	gate       *Gate
	spreadScan float64
	logger     *slog.Logger
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Matcher *Matcher
	Trimmer *Trimmer
	Gate    *Gate
	// SpreadScan is the minimum (bid-ask)/bid for a pair to be analyzed.
	SpreadScan float64
	Logger     *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		matcher:    cfg.Matcher,
		trimmer:    cfg.Trimmer,
		gate:       cfg.Gate,
		spreadScan: cfg.SpreadScan,
		logger:     cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// Best walks asks from cheapest and, for each, bids from richest while the
// pair's spread stays at or above the scan threshold. It returns the
// actionable candidate with the greatest trimmed profit, or false when none
// is profitable.
func (d *Detector) Best(ctx context.Context, base string, books []domain.Orderbook) (Candidate, bool) {
	byAsk, byBid := RankOrderbooks(books)
	if len(byAsk) < 2 {
		d.logger.DebugContext(ctx, "not enough orderbooks to arbitrage", slog.String("base", base), slog.Int("books", len(byAsk)))
		return Candidate{}, false
	}

	var best Candidate
	var found, actionable int
	for _, askBook := range byAsk {
		for _, bidBook := range byBid {
			if Spread(askBook, bidBook) < d.spreadScan {
				break
			}
			if askBook.Venue == bidBook.Venue {
				continue
			}
			found++

			raw := d.matcher.Analyze(ctx, askBook, bidBook)
			if raw.Empty() {
				continue
			}
			trimmed := d.trimmer.Trim(ctx, raw)
			if !d.gate.Actionable(ctx, trimmed) {
				continue
			}
			actionable++
			if trimmed.IdealProfit > best.Trimmed.IdealProfit {
				best = Candidate{Raw: raw, Trimmed: trimmed}
			}
		}
	}

	d.logger.DebugContext(ctx, "scan complete",
		slog.String("base", base),
		slog.Int("pairs", found),
		slog.Int("actionable", actionable),
		slog.Float64("best_spread", Spread(byAsk[0], byBid[0])),
		slog.Float64("best_profit", best.Trimmed.IdealProfit),
	)
	return best, best.Trimmed.IdealProfit > 0
}
