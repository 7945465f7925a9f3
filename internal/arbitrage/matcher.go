package arbitrage

import (
	"context"
	"log/slog"
	"math"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Matcher turns a buy-side book and a sell-side book into a sized, priced
// two-leg candidate.
type Matcher struct {
	// convergence stops the walk once ask > bid*convergence.
	convergence   float64
	mismatchAlert float64
	logger        *slog.Logger
}

// NewMatcher creates a Matcher. convergence is the bid fraction the next ask
// must stay at or below for the walk to continue (0.999 keeps 0.1% of edge).
func NewMatcher(convergence, mismatchAlert float64, logger *slog.Logger) *Matcher {
	return &Matcher{
		convergence:   convergence,
		mismatchAlert: mismatchAlert,
		logger:        logger.With(slog.String("component", "matcher")),
	}
}

// Analyze walks the asks of buyBook against the bids of sellBook. Levels are
// matched pairwise; a level joins its side's offers only once it is fully
// consumed. The walk ends when the next ask is no longer below
// convergence*bid or either book runs out. A candidate with zero volume means
// there is no opportunity.
func (m *Matcher) Analyze(ctx context.Context, buyBook, sellBook domain.Orderbook) domain.ArbitrageAnalysis {
	asks := usableLevels(buyBook.Asks)
	bids := usableLevels(sellBook.Bids)
	if len(asks) == 0 || len(bids) == 0 {
		return emptyAnalysis(buyBook, sellBook)
	}

	var buys, sells []domain.Order
	var buyVol, sellVol float64

	ai, bi := 0, 0
	remAsk, remBid := asks[0].Volume, bids[0].Volume
	for {
		matched := math.Min(remAsk, remBid)
		remAsk -= matched
		remBid -= matched

		askDone := remAsk <= volumeEpsilon
		bidDone := remBid <= volumeEpsilon
		if askDone {
			buys = append(buys, asks[ai])
			buyVol += asks[ai].Volume
		}
		if bidDone {
			sells = append(sells, bids[bi])
			sellVol += bids[bi].Volume
		}

		nextAi, nextBi := ai, bi
		if askDone {
			nextAi++
		}
		if bidDone {
			nextBi++
		}
		if nextAi >= len(asks) || nextBi >= len(bids) {
			break
		}
		if asks[nextAi].Price > bids[nextBi].Price*m.convergence {
			break
		}
		if askDone {
			ai, remAsk = nextAi, asks[nextAi].Volume
		}
		if bidDone {
			bi, remBid = nextBi, bids[nextBi].Volume
		}
	}

	// A thin book can leave one side without a fully consumed level. Price the
	// missing side at its current level so the candidate is two-sided.
	if len(buys) == 0 && len(sells) > 0 {
		buys = append(buys, domain.Order{Price: asks[ai].Price, Volume: sellVol})
		buyVol = sellVol
	} else if len(sells) == 0 && len(buys) > 0 {
		sells = append(sells, domain.Order{Price: bids[bi].Price, Volume: buyVol})
		sellVol = buyVol
	}

	if buyVol > sellVol {
		buys = trimTail(buys, sellVol)
	} else if sellVol > buyVol {
		sells = trimTail(sells, buyVol)
	}

	buyVWAP, buyVolume := VWAP(buys)
	sellVWAP, sellVolume := VWAP(sells)
	if math.Abs(buyVolume-sellVolume) > m.mismatchAlert {
		m.logger.WarnContext(ctx, "imbalanced buy/sell volume",
			slog.String("base", buyBook.Base),
			slog.Float64("buy_volume", buyVolume),
			slog.Float64("sell_volume", sellVolume),
		)
	}

	out := domain.ArbitrageAnalysis{
		Buy:  leg(buyBook, domain.SideBuy, buys, buyVWAP, buyVolume),
		Sell: leg(sellBook, domain.SideSell, sells, sellVWAP, sellVolume),
	}
	out.IdealProfit = sellVWAP*sellVolume - buyVWAP*buyVolume

	m.logger.DebugContext(ctx, "analysis",
		slog.String("base", buyBook.Base),
		slog.String("buy_venue", buyBook.Venue),
		slog.String("sell_venue", sellBook.Venue),
		slog.Float64("volume", buyVolume),
		slog.Float64("buy_vwap", buyVWAP),
		slog.Float64("sell_vwap", sellVWAP),
		slog.Float64("ideal_profit", out.IdealProfit),
	)
	return out
}

func leg(book domain.Orderbook, side domain.Side, offers []domain.Order, vwap, volume float64) domain.TradeAnalysis {
	return domain.TradeAnalysis{
		Base:               book.Base,
		Quote:              book.Quote,
		Venue:              book.Venue,
		Side:               side,
		Volume:             volume,
		VWAP:               vwap,
		OrderbookTimestamp: book.Timestamp,
		Offers:             offers,
	}
}

func emptyAnalysis(buyBook, sellBook domain.Orderbook) domain.ArbitrageAnalysis {
	return domain.ArbitrageAnalysis{
		Buy:  leg(buyBook, domain.SideBuy, nil, 0, 0),
		Sell: leg(sellBook, domain.SideSell, nil, 0, 0),
	}
}

// usableLevels copies the levels with a positive, finite price and volume.
func usableLevels(levels []domain.Order) []domain.Order {
	out := make([]domain.Order, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Volume <= 0 || math.IsNaN(l.Price) || math.IsNaN(l.Volume) || math.IsInf(l.Price, 0) || math.IsInf(l.Volume, 0) {
			continue
		}
		out = append(out, l)
	}
	return out
}
