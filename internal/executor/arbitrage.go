package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/pool"
)

// ExecuteArbitrage fires both legs of c as market orders at once, waits for
// both, lets them settle, and records the realized result. In simulation it
// only logs the opportunity and returns nil.
//
// A leg that failed contributes nothing; a leg that filled is always applied
// to the ledger, even when the other leg failed and an error is returned.
func (e *Executor) ExecuteArbitrage(ctx context.Context, c arbitrage.Candidate) (*domain.ArbitrageTrade, error) {
	t := c.Trimmed
	base := t.Buy.Base
	if t.Empty() {
		return nil, fmt.Errorf("executor: arbitrage %s: empty candidate: %w", base, domain.ErrInvalidOrder)
	}

	if e.cfg.Simulate {
		e.simulate(ctx, t)
		return nil, nil
	}

	unlock, err := e.lock(ctx, base)
	if err != nil {
		return nil, err
	}
	defer unlock()

	buy := &leg{venue: t.Buy.Venue, expected: t.Buy}
	sell := &leg{venue: t.Sell.Venue, expected: t.Sell}
	for _, l := range []*leg{buy, sell} {
		if l.client, err = e.venues.Get(l.venue); err != nil {
			return nil, fmt.Errorf("executor: arbitrage %s: %w", base, err)
		}
	}

	var g errgroup.Group
	for _, l := range []*leg{buy, sell} {
		g.Go(func() error {
			res, err := e.create(ctx, l, domain.OrderRequest{
				Base:   l.expected.Base,
				Quote:  l.expected.Quote,
				Side:   l.expected.Side,
				Type:   domain.OrderTypeMarket,
				Volume: l.expected.Volume,
			})
			if err != nil {
				l.err = fmt.Errorf("executor: %s %s on %s: %w", l.expected.Side, base, l.venue, err)
				return nil
			}
			l.order = res
			return nil
		})
	}
	_ = g.Wait()

	if buy.err != nil && sell.err != nil {
		e.alert(ctx, base, "Arbitrage failed", legErrors([]*leg{buy, sell}))
		return nil, legErrors([]*leg{buy, sell})
	}

	if err := e.sleep(ctx, e.cfg.ArbSettleDelay); err != nil {
		e.logger.WarnContext(ctx, "settle wait interrupted", slog.String("base", base))
	}

	var qg errgroup.Group
	for _, l := range []*leg{buy, sell} {
		qg.Go(func() error {
			e.query(ctx, l)
			return nil
		})
	}
	_ = qg.Wait()
	e.refresh(ctx, []*leg{buy, sell})

	trade := e.arbitrageRecord(c, buy, sell)
	if _, err := e.ledger.Apply(ctx, base, func(tx *pool.Tx) {
		tx.Update(buy.venue, base, buy.status.ExecutedBase, buy.price())
		tx.Update(buy.venue, t.Buy.Quote, -buy.status.ExecutedQuote, buy.price())
		tx.Update(sell.venue, t.Sell.Quote, sell.status.ExecutedQuote, sell.price())
		tx.Update(sell.venue, base, -sell.status.ExecutedBase, sell.price())
		tx.AddFees(trade.TotalFees)
		tx.AddArbProfit(trade.EstimatedDeltaValue)
		tx.SetBasePrice((t.Buy.VWAP + t.Sell.VWAP) / 2)
	}); err != nil {
		return &trade, fmt.Errorf("executor: arbitrage %s: %w", base, err)
	}

	if err := e.store.AppendArbitrage(ctx, trade); err != nil {
		e.logger.WarnContext(ctx, "persist arbitrage trade failed",
			slog.String("id", trade.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "arbitrage executed",
		slog.String("id", trade.ID),
		slog.String("base", base),
		slog.String("buy_venue", buy.venue),
		slog.String("sell_venue", sell.venue),
		slog.Float64("delta_base", trade.DeltaBase),
		slog.Float64("delta_quote", trade.DeltaQuote),
		slog.Float64("fees", trade.TotalFees),
		slog.Float64("estimated_value", trade.EstimatedDeltaValue),
	)
	e.emit(ctx, domain.Event{
		Kind:    domain.EventArbitrage,
		Base:    base,
		Title:   "Arbitrage " + base + " " + buy.venue + " -> " + sell.venue,
		Message: fmt.Sprintf("delta quote %.4f, delta base %.8f, fees %.4f", trade.DeltaQuote, trade.DeltaBase, trade.TotalFees),
		Fields: map[string]string{
			"id":              trade.ID,
			"buy_vwap":        formatFloat(buy.status.VWAP),
			"sell_vwap":       formatFloat(sell.status.VWAP),
			"estimated_value": formatFloat(trade.EstimatedDeltaValue),
		},
	})

	if err := legErrors([]*leg{buy, sell}); err != nil {
		e.alert(ctx, base, "Arbitrage leg failed", err)
		return &trade, err
	}
	return &trade, nil
}

func (e *Executor) arbitrageRecord(c arbitrage.Candidate, buy, sell *leg) domain.ArbitrageTrade {
	t := c.Trimmed
	deltaBase := buy.status.ExecutedBase - sell.status.ExecutedBase
	deltaQuote := sell.status.ExecutedQuote - buy.status.ExecutedQuote
	avg := (buy.status.VWAP + sell.status.VWAP) / 2

	return domain.ArbitrageTrade{
		ID:                  uuid.NewString(),
		DateTime:            e.now(),
		IdealTrade:          c.Raw.Clone(),
		ExpectedTrade:       t.Clone(),
		Base:                t.Buy.Base,
		Quote:               t.Buy.Quote,
		Buy:                 buy.execution(),
		Sell:                sell.execution(),
		DeltaBase:           deltaBase,
		DeltaBaseValue:      deltaBase * avg,
		DeltaQuote:          deltaQuote,
		TotalFees:           e.fee(buy) + e.fee(sell),
		EstimatedDeltaValue: deltaQuote + deltaBase*avg,
	}
}

func (e *Executor) simulate(ctx context.Context, t domain.ArbitrageAnalysis) {
	e.repeats.Cleanup()
	if e.repeats.IsRepeat(t.Buy.Base, t.Buy.Venue, t.Sell.Venue, t.Buy.Volume, t.Sell.Volume, e.cfg.RepeatVolume) {
		e.logger.DebugContext(ctx, "simulated opportunity repeated, skipping",
			slog.String("base", t.Buy.Base),
			slog.String("buy_venue", t.Buy.Venue),
			slog.String("sell_venue", t.Sell.Venue),
		)
		return
	}

	bought := t.Buy.Notional()
	sold := t.Sell.Notional()
	buyFees := bought * e.venues.FeeRate(t.Buy.Venue)
	sellFees := sold * e.venues.FeeRate(t.Sell.Venue)
	e.logger.InfoContext(ctx, "simulated opportunity",
		slog.String("base", t.Buy.Base),
		slog.String("buy_venue", t.Buy.Venue),
		slog.Float64("buy_volume", t.Buy.Volume),
		slog.Float64("buy_vwap", t.Buy.VWAP),
		slog.String("sell_venue", t.Sell.Venue),
		slog.Float64("sell_volume", t.Sell.Volume),
		slog.Float64("sell_vwap", t.Sell.VWAP),
		slog.Float64("gross", sold-bought),
		slog.Float64("fees", buyFees+sellFees),
		slog.Float64("net", sold-bought-buyFees-sellFees),
		slog.Any("buy_offers", t.Buy.Offers),
		slog.Any("sell_offers", t.Sell.Offers),
	)
}

func (e *Executor) alert(ctx context.Context, base, title string, err error) {
	e.logger.WarnContext(ctx, title, slog.String("base", base), slog.String("error", err.Error()))
	e.emit(ctx, domain.Event{
		Kind:    domain.EventAlert,
		Base:    base,
		Title:   title + " (" + base + ")",
		Message: err.Error(),
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
