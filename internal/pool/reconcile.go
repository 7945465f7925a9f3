package pool

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Markets reports whether a venue lists base against quote.
type Markets interface {
	HasMarket(venue, base, quote string) bool
}

// Prices reports a venue's current price for base.
type Prices interface {
	ExchangePrice(venue, base string) (float64, bool)
}

// Adjustment is one capital change found by Reconcile.
type Adjustment struct {
	Venue    string  `json:"venue"`
	Base     string  `json:"base"`
	Asset    string  `json:"asset"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Delta    float64 `json:"delta"`
	Price    float64 `json:"price"`
}

// CloseEnough reports whether a and b agree within 1%. Two zeros agree; a
// zero and a non-zero never do.
func CloseEnough(a, b float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	if a == 0 || b == 0 {
		return false
	}
	r := a / b
	return 0.99 < r && r < 1.01
}

// Reconcile compares the ledger against true venue balances (venue -> asset
// -> amount) and folds every disagreement in as a deposit or withdrawal. A
// base mismatch belongs to that base's pool; a quote mismatch is split evenly
// over the pools the venue has a market and a price for. Venues absent from truth are
// skipped. Every entry stays locked for the whole pass, so no trade can
// interleave with it.
func (l *Ledger) Reconcile(ctx context.Context, truth map[string]map[string]float64, markets Markets, prices Prices) []Adjustment {
	bases := l.Bases()
	locked := make(map[string]*entry, len(bases))
	txs := make(map[string]*Tx, len(bases))
	for _, b := range bases {
		e, _ := l.entry(b)
		e.mu.Lock()
		locked[b] = e
		txs[b] = &Tx{log: &e.log, venues: l.venues}
	}

	for _, b := range bases {
		for _, v := range l.venues {
			if markets.HasMarket(v, b, l.quote) {
				txs[b].ensureVenue(v)
			}
		}
	}

	var adjustments []Adjustment
	for _, venue := range l.venues {
		actual, ok := truth[venue]
		if !ok {
			l.logger.WarnContext(ctx, "no true balances for venue, skipping", slog.String("venue", venue))
			continue
		}

		var eligible []string
		var expectedQuote float64
		for _, b := range bases {
			if !markets.HasMarket(venue, b, l.quote) {
				continue
			}
			eligible = append(eligible, b)
			expectedQuote += txs[b].Balance(l.quote, venue).Actual
		}

		for _, b := range eligible {
			expected := txs[b].Balance(b, venue).Actual
			if CloseEnough(expected, actual[b]) {
				continue
			}
			price, ok := prices.ExchangePrice(venue, b)
			if !ok || price <= 0 {
				l.logger.WarnContext(ctx, "base balance drifted but venue has no price, skipping",
					slog.String("venue", venue), slog.String("base", b))
				continue
			}
			added := actual[b] - expected
			txs[b].AddInvestment(added*price, price)
			txs[b].Update(venue, b, added, price)
			adjustments = append(adjustments, Adjustment{
				Venue: venue, Base: b, Asset: b,
				Expected: expected, Actual: actual[b], Delta: added, Price: price,
			})
		}

		if len(eligible) == 0 || CloseEnough(expectedQuote, actual[l.quote]) {
			continue
		}
		// Split only across pools with a price so the venue's quote total
		// lands exactly on the true balance.
		priced := make(map[string]float64, len(eligible))
		for _, b := range eligible {
			if price, ok := prices.ExchangePrice(venue, b); ok && price > 0 {
				priced[b] = price
			}
		}
		if len(priced) == 0 {
			l.logger.WarnContext(ctx, "quote balance drifted but venue has no prices, skipping",
				slog.String("venue", venue))
			continue
		}
		added := actual[l.quote] - expectedQuote
		share := added / float64(len(priced))
		for _, b := range eligible {
			price, ok := priced[b]
			if !ok {
				continue
			}
			txs[b].AddInvestment(share, price)
			txs[b].Update(venue, l.quote, share, price)
			adjustments = append(adjustments, Adjustment{
				Venue: venue, Base: b, Asset: l.quote,
				Expected: expectedQuote, Actual: actual[l.quote], Delta: share, Price: price,
			})
		}
	}

	out := make([]domain.BaseLog, 0, len(bases))
	for _, b := range bases {
		out = append(out, l.stamp(&locked[b].log))
		locked[b].mu.Unlock()
	}
	for _, s := range out {
		l.persist(ctx, s)
	}

	l.logger.InfoContext(ctx, "reconciled pools",
		slog.Int("pools", len(bases)),
		slog.Int("adjustments", len(adjustments)),
	)
	return adjustments
}
