// Package pool keeps the per-asset, per-venue holdings ledger. Each tracked
// base asset owns one domain.BaseLog guarded by its own mutex; writers for
// different assets never contend.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type entry struct {
	mu  sync.Mutex
	log domain.BaseLog
}

// Ledger is the authoritative record of holdings. All mutation goes through
// Apply; everything else reads copies.
type Ledger struct {
	store  domain.LedgerStore
	quote  string
	venues []string

	mu      sync.RWMutex
	entries map[string]*entry

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Ledger tracking venues for pools quoted in quote.
func New(store domain.LedgerStore, quote string, venues []string, logger *slog.Logger) *Ledger {
	vs := append([]string(nil), venues...)
	sort.Strings(vs)
	return &Ledger{
		store:   store,
		quote:   quote,
		venues:  vs,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "pool_ledger")),
	}
}

// Load reads the latest entry for every base from the store. A base with no
// history starts from a zero entry.
func (l *Ledger) Load(ctx context.Context, bases []string) error {
	for _, base := range bases {
		log, err := l.store.LatestBaseLog(ctx, base)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			log = domain.NewBaseLog(base, l.quote)
			l.logger.InfoContext(ctx, "no ledger history, starting from zero", slog.String("base", base))
		case err != nil:
			return fmt.Errorf("pool: load %s: %w", base, err)
		}
		if log.ExchangeBalances == nil {
			log.ExchangeBalances = make(map[string]domain.ExchangeBalance)
		}
		log.Base, log.Quote = base, l.quote

		l.mu.Lock()
		l.entries[base] = &entry{log: log}
		l.mu.Unlock()
	}
	return nil
}

// Bases returns the tracked base assets in sorted order.
func (l *Ledger) Bases() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for b := range l.entries {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) entry(base string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[base]
	return e, ok
}

// Snapshot returns a copy of the base's entry.
func (l *Ledger) Snapshot(base string) (domain.BaseLog, bool) {
	e, ok := l.entry(base)
	if !ok {
		return domain.BaseLog{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Clone(), true
}

// Balance reports the holding of asset in base's pool on venue, or summed over
// every tracked venue when venue is empty. Value is quote-denominated.
func (l *Ledger) Balance(base, asset, venue string) domain.PoolBalance {
	e, ok := l.entry(base)
	if !ok {
		return domain.PoolBalance{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return balanceOf(&e.log, l.venues, asset, venue)
}

func balanceOf(log *domain.BaseLog, venues []string, asset, venue string) domain.PoolBalance {
	isBase := asset == log.Base
	pick := func(eb domain.ExchangeBalance) domain.PoolBalance {
		if isBase {
			return domain.PoolBalance{Actual: eb.Base, Value: eb.BaseValue}
		}
		return domain.PoolBalance{Actual: eb.Quote, Value: eb.Quote}
	}

	if venue != "" {
		return pick(log.ExchangeBalances[venue])
	}
	var out domain.PoolBalance
	for _, v := range venues {
		eb, ok := log.ExchangeBalances[v]
		if !ok {
			continue
		}
		b := pick(eb)
		out.Actual += b.Actual
		out.Value += b.Value
	}
	return out
}

// Apply runs fn with exclusive access to base's entry, then appends the
// resulting entry to the store. A store failure is logged and does not undo
// the in-memory change. Apply returns a copy of the entry as persisted.
func (l *Ledger) Apply(ctx context.Context, base string, fn func(tx *Tx)) (domain.BaseLog, error) {
	e, ok := l.entry(base)
	if !ok {
		return domain.BaseLog{}, fmt.Errorf("pool: apply %s: %w", base, domain.ErrNotFound)
	}

	e.mu.Lock()
	fn(&Tx{log: &e.log, venues: l.venues})
	snap := l.stamp(&e.log)
	e.mu.Unlock()

	l.persist(ctx, snap)
	return snap, nil
}

func (l *Ledger) stamp(log *domain.BaseLog) domain.BaseLog {
	log.ID = uuid.NewString()
	log.Timestamp = l.now()
	return log.Clone()
}

func (l *Ledger) persist(ctx context.Context, log domain.BaseLog) {
	if err := l.store.AppendBaseLog(ctx, log); err != nil {
		l.logger.WarnContext(ctx, "persist base log failed",
			slog.String("base", log.Base),
			slog.String("error", err.Error()),
		)
	}
}

// Tx is a mutation scope over one entry. It must not be retained after the
// Apply callback returns.
type Tx struct {
	log    *domain.BaseLog
	venues []string
}

// Update adds delta of asset to venue's holding and to the pool roll-ups.
// price becomes the venue's exchange price; for the base asset it also
// revalues the holding.
func (tx *Tx) Update(venue, asset string, delta, price float64) {
	delta = finite(delta)
	eb, ok := tx.log.ExchangeBalances[venue]
	if !ok {
		eb = domain.ExchangeBalance{Venue: venue}
	}

	if asset == tx.log.Base {
		tx.log.SumBase += delta
		tx.log.SumBaseValue = finite(tx.log.SumBase * price)
		eb.Base += delta
		eb.BaseValue = finite(eb.Base * price)
	} else {
		tx.log.SumQuote += delta
		eb.Quote += delta
	}
	eb.ExchangePrice = price
	tx.log.ExchangeBalances[venue] = eb
}

// Balance reads within the scope.
func (tx *Tx) Balance(asset, venue string) domain.PoolBalance {
	return balanceOf(tx.log, tx.venues, asset, venue)
}

// AddInvestment folds a capital change of value (quote units) at price into
// the running cost basis.
func (tx *Tx) AddInvestment(value, price float64) {
	oldInit := tx.log.InitialInvestment
	oldVWAP := tx.log.InitialInvestmentVWAP

	var oldUnits float64
	if oldVWAP != 0 {
		oldUnits = finite(oldInit / oldVWAP)
	}
	var addUnits float64
	if price != 0 {
		addUnits = finite(value / price)
	}

	num := oldInit + value
	tx.log.InitialInvestment = finite(num)
	if den := oldUnits + addUnits; den != 0 {
		tx.log.InitialInvestmentVWAP = finite(num / den)
	} else {
		tx.log.InitialInvestmentVWAP = 0
	}
}

// AddArbProfit accumulates estimated arbitrage profit.
func (tx *Tx) AddArbProfit(v float64) { tx.log.EstimatedArbProfit += finite(v) }

// AddRebalanceProfit accumulates estimated rebalance profit.
func (tx *Tx) AddRebalanceProfit(v float64) { tx.log.EstimatedRebalanceProfit += finite(v) }

// AddFees accumulates fees paid.
func (tx *Tx) AddFees(v float64) { tx.log.EstimatedFees += finite(v) }

// SetBasePrice records the latest base price.
func (tx *Tx) SetBasePrice(p float64) { tx.log.BasePrice = finite(p) }

// MarkRebalanced records when and at what price the pool was last rebalanced.
func (tx *Tx) MarkRebalanced(at time.Time, price float64) {
	tx.log.LastRebalanceTs = at
	tx.log.LastRebalancePrice = finite(price)
}

// ensureVenue adds a zero balance for venue if none exists.
func (tx *Tx) ensureVenue(venue string) {
	if _, ok := tx.log.ExchangeBalances[venue]; ok {
		return
	}
	tx.log.ExchangeBalances[venue] = domain.ExchangeBalance{Venue: venue, ExchangePrice: 1}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
