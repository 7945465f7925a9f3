package binance

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type fill struct {
	price      float64
	qty        float64
	commission float64
	asset      string
}

func parseLevel(price, qty string) (domain.Order, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("price %q: %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("quantity %q: %w", qty, err)
	}
	return domain.Order{Price: p, Volume: q}, nil
}

func parseFill(price, qty, commission, asset string) (fill, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return fill{}, fmt.Errorf("fill price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return fill{}, fmt.Errorf("fill qty %q: %w", qty, err)
	}
	c, err := decimal.NewFromString(commission)
	if err != nil {
		return fill{}, fmt.Errorf("fill commission %q: %w", commission, err)
	}
	return fill{price: p.InexactFloat64(), qty: q.InexactFloat64(), commission: c.InexactFloat64(), asset: asset}, nil
}

// roundDown floors v to a multiple of step and formats it without exponent.
// An empty or zero step leaves v at eight decimals.
func roundDown(v float64, step string) (string, error) {
	d := decimal.NewFromFloat(v)
	if step == "" {
		return d.Truncate(8).String(), nil
	}
	s, err := decimal.NewFromString(step)
	if err != nil {
		return "", fmt.Errorf("step %q: %w", step, err)
	}
	if s.IsZero() {
		return d.Truncate(8).String(), nil
	}
	return d.Div(s).Floor().Mul(s).String(), nil
}

// buildStatus derives realized fill facts. Commissions charged in base are
// valued at the fill price and commissions in quote are taken as is; when
// neither is reported the fee falls back to executedQuote*feeRate.
func buildStatus(orderID, base, quote string, executedBase, executedQuote float64, fills []fill, feeRate float64) domain.OrderStatus {
	st := domain.OrderStatus{
		OrderID:       orderID,
		ExecutedBase:  executedBase,
		ExecutedQuote: executedQuote,
	}
	if executedBase > 0 {
		st.VWAP = executedQuote / executedBase
	}

	var fee float64
	for _, f := range fills {
		switch f.asset {
		case quote:
			fee += f.commission
		case base:
			fee += f.commission * f.price
		}
	}
	if fee == 0 {
		fee = executedQuote * feeRate
	}
	st.Fee = fee
	return st
}
