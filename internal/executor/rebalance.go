package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/pool"
	"github.com/alanyoungcy/arbbot/internal/rebalance"
)

// ExecuteRebalance places one limit order per plan leg at that leg's last
// consumed price, waits for all of them, cancels what did not fill, and
// applies the confirmed fills. It reports true when the filled volume reaches
// FillThreshold of the planned volume. An empty plan reports false.
func (e *Executor) ExecuteRebalance(ctx context.Context, plan rebalance.Plan) (bool, error) {
	base := plan.Base
	if len(plan.Legs) == 0 {
		e.logger.InfoContext(ctx, "empty rebalance plan", slog.String("base", base))
		return false, nil
	}
	expected := plan.Volume()

	if e.cfg.Simulate {
		e.logger.InfoContext(ctx, "simulated rebalance",
			slog.String("base", base),
			slog.String("side", string(plan.Side)),
			slog.Float64("volume", expected),
			slog.Int("venues", len(plan.Legs)),
		)
		return true, nil
	}

	unlock, err := e.lock(ctx, base)
	if err != nil {
		return false, err
	}
	defer unlock()

	legs := make([]*leg, 0, len(plan.Legs))
	for _, ta := range plan.Legs {
		client, err := e.venues.Get(ta.Venue)
		if err != nil {
			return false, fmt.Errorf("executor: rebalance %s: %w", base, err)
		}
		legs = append(legs, &leg{venue: ta.Venue, client: client, expected: ta})
	}

	var g errgroup.Group
	for _, l := range legs {
		g.Go(func() error {
			last, ok := l.expected.LastOffer()
			if !ok {
				l.err = fmt.Errorf("executor: rebalance %s on %s: no offers: %w", base, l.venue, domain.ErrInvalidOrder)
				return nil
			}
			res, err := e.create(ctx, l, domain.OrderRequest{
				Base:   base,
				Quote:  l.expected.Quote,
				Side:   plan.Side,
				Type:   domain.OrderTypeLimit,
				Volume: l.expected.Volume,
				Price:  last.Price,
			})
			if err != nil {
				l.err = fmt.Errorf("executor: rebalance %s %s on %s: %w", plan.Side, base, l.venue, err)
				return nil
			}
			l.order = res
			return nil
		})
	}
	_ = g.Wait()

	if err := e.sleep(ctx, e.cfg.RebalanceSettleDelay); err != nil {
		e.logger.WarnContext(ctx, "settle wait interrupted", slog.String("base", base))
	}

	var qg errgroup.Group
	for _, l := range legs {
		qg.Go(func() error {
			e.query(ctx, l)
			e.cancelOpen(ctx, l)
			return nil
		})
	}
	_ = qg.Wait()
	e.refresh(ctx, legs)

	trade := e.rebalanceRecord(plan, legs)
	at := e.now()
	if _, err := e.ledger.Apply(ctx, base, func(tx *pool.Tx) {
		sign := 1.0
		if plan.Side == domain.SideSell {
			sign = -1
		}
		for _, l := range legs {
			tx.Update(l.venue, base, sign*l.status.ExecutedBase, l.price())
			tx.Update(l.venue, l.expected.Quote, -sign*l.status.ExecutedQuote, l.price())
		}
		tx.AddFees(trade.TotalFees)
		tx.AddRebalanceProfit(trade.DeltaQuote + trade.DeltaBase*trade.VWAP)
		if trade.VWAP > 0 {
			tx.SetBasePrice(trade.VWAP)
			tx.MarkRebalanced(at, trade.VWAP)
		}
	}); err != nil {
		return false, fmt.Errorf("executor: rebalance %s: %w", base, err)
	}

	if err := e.store.AppendRebalance(ctx, trade); err != nil {
		e.logger.WarnContext(ctx, "persist rebalance trade failed",
			slog.String("id", trade.ID),
			slog.String("error", err.Error()),
		)
	}

	var filled float64
	for _, l := range legs {
		filled += l.status.ExecutedBase
	}
	done := filled >= expected*e.cfg.FillThreshold

	e.logger.InfoContext(ctx, "rebalance executed",
		slog.String("id", trade.ID),
		slog.String("base", base),
		slog.String("side", string(plan.Side)),
		slog.Float64("expected", expected),
		slog.Float64("filled", filled),
		slog.Float64("vwap", trade.VWAP),
		slog.Bool("fulfilled", done),
	)
	e.emit(ctx, domain.Event{
		Kind:    domain.EventRebalance,
		Base:    base,
		Title:   "Rebalance " + string(plan.Side) + " " + base,
		Message: fmt.Sprintf("filled %.8f of %.8f at %.4f", filled, expected, trade.VWAP),
		Fields: map[string]string{
			"id":        trade.ID,
			"fulfilled": fmt.Sprint(done),
			"fees":      formatFloat(trade.TotalFees),
		},
	})

	if err := legErrors(legs); err != nil {
		e.alert(ctx, base, "Rebalance leg failed", err)
		return false, err
	}
	return done, nil
}

func (e *Executor) rebalanceRecord(plan rebalance.Plan, legs []*leg) domain.RebalanceTrade {
	baseSign, quoteSign := 1.0, -1.0
	if plan.Side == domain.SideSell {
		baseSign, quoteSign = -1, 1
	}

	rec := domain.RebalanceTrade{
		ID:       uuid.NewString(),
		DateTime: e.now(),
		Base:     plan.Base,
		Side:     plan.Side,
	}
	var notional, volume float64
	for _, l := range legs {
		rec.Quote = l.expected.Quote
		rec.ExpectedTrade = append(rec.ExpectedTrade, l.expected.Clone())
		rec.Orders = append(rec.Orders, l.execution())
		rec.DeltaBase += baseSign * l.status.ExecutedBase
		rec.DeltaQuote += quoteSign * l.status.ExecutedQuote
		rec.TotalFees += e.fee(l)
		notional += l.status.VWAP * l.status.ExecutedBase
		volume += l.status.ExecutedBase
	}
	if volume > 0 {
		rec.VWAP = notional / volume
	}
	rec.DeltaBaseValue = rec.DeltaBase * rec.VWAP
	rec.ExecutedVolume = volume
	return rec
}
