// Package venuetest provides an in-memory domain.ExchangeClient for tests and
// dry runs.
package venuetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Client is a scripted venue. Market orders fill against the stored book's
// top level, limit orders at their price; FillRatio scales every fill.
type Client struct {
	mu sync.Mutex

	name     string
	fee      float64
	books    map[string]domain.Orderbook
	balances map[string]float64
	statuses map[string]domain.OrderStatus

	fillRatio  float64
	bookDelay  time.Duration
	bookErr    error
	balanceErr error
	orderErr   error

	orders       []domain.OrderRequest
	balanceCalls int
	cancels      int
	seq          int
}

var _ domain.ExchangeClient = (*Client)(nil)

// New returns a client that fills orders completely.
func New(name string, fee float64) *Client {
	return &Client{
		name:      name,
		fee:       fee,
		books:     make(map[string]domain.Orderbook),
		balances:  make(map[string]float64),
		statuses:  make(map[string]domain.OrderStatus),
		fillRatio: 1,
	}
}

func (c *Client) Name() string     { return c.name }
func (c *Client) FeeRate() float64 { return c.fee }

// SetBook installs the book returned for its base. The book's venue is
// overwritten with the client name.
func (c *Client) SetBook(book domain.Orderbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	book.Venue = c.name
	c.books[book.Base] = book.Clone()
}

// SetBalance sets the available amount of asset.
func (c *Client) SetBalance(asset string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[asset] = amount
}

// SetFillRatio sets the fraction of every order that executes.
func (c *Client) SetFillRatio(r float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillRatio = r
}

// SetBookDelay makes FetchOrderbook block for d or until its context ends.
func (c *Client) SetBookDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookDelay = d
}

// FailBooks makes FetchOrderbook return err; nil clears it.
func (c *Client) FailBooks(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookErr = err
}

// FailBalances makes FetchBalances return err; nil clears it.
func (c *Client) FailBalances(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceErr = err
}

// FailOrders makes CreateOrder return err; nil clears it.
func (c *Client) FailOrders(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderErr = err
}

// Orders returns every accepted order request in submission order.
func (c *Client) Orders() []domain.OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OrderRequest(nil), c.orders...)
}

// BalanceCalls counts FetchBalances invocations.
func (c *Client) BalanceCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceCalls
}

// Cancels counts CancelOpenOrders invocations.
func (c *Client) Cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

func (c *Client) HasMarket(base, quote string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[base]
	return ok && b.Quote == quote
}

func (c *Client) FetchOrderbook(ctx context.Context, base, quote string, depth int) (domain.Orderbook, error) {
	c.mu.Lock()
	delay, err := c.bookDelay, c.bookErr
	book, ok := c.books[base]
	c.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Orderbook{}, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return domain.Orderbook{}, err
	}
	if !ok || book.Quote != quote {
		return domain.Orderbook{}, fmt.Errorf("venuetest: %s/%s: %w", base, quote, domain.ErrMarketUnavailable)
	}

	out := book.Clone()
	if depth > 0 {
		if len(out.Bids) > depth {
			out.Bids = out.Bids[:depth]
		}
		if len(out.Asks) > depth {
			out.Asks = out.Asks[:depth]
		}
	}
	return out, nil
}

func (c *Client) FetchBalances(_ context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceCalls++
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	out := make(map[string]float64, len(c.balances))
	for k, v := range c.balances {
		out[k] = v
	}
	return out, nil
}

func (c *Client) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orderErr != nil {
		return domain.OrderResult{}, c.orderErr
	}
	if req.Volume <= 0 {
		return domain.OrderResult{}, fmt.Errorf("venuetest: volume %v: %w", req.Volume, domain.ErrInvalidOrder)
	}

	price := req.Price
	if req.Type == domain.OrderTypeMarket {
		book := c.books[req.Base]
		levels := book.Asks
		if req.Side == domain.SideSell {
			levels = book.Bids
		}
		if len(levels) > 0 {
			price = levels[0].Price
		}
	}
	if price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("venuetest: no price for %s: %w", req.Base, domain.ErrInvalidOrder)
	}

	c.seq++
	id := c.name + "-" + strconv.Itoa(c.seq)
	executed := req.Volume * c.fillRatio
	quote := executed * price
	fee := quote * c.fee

	switch req.Side {
	case domain.SideBuy:
		c.balances[req.Base] += executed
		c.balances[req.Quote] -= quote + fee
	case domain.SideSell:
		c.balances[req.Base] -= executed
		c.balances[req.Quote] += quote - fee
	}

	status := domain.OrderStatus{OrderID: id, Fee: fee, ExecutedBase: executed, ExecutedQuote: quote}
	if executed > 0 {
		status.VWAP = price
	}
	c.statuses[id] = status
	c.orders = append(c.orders, req)
	return domain.OrderResult{OrderID: id}, nil
}

func (c *Client) CancelOpenOrders(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	return nil
}

func (c *Client) QueryOrder(_ context.Context, _, _, orderID string) (domain.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[orderID]
	if !ok {
		return domain.OrderStatus{}, fmt.Errorf("venuetest: order %s: %w", orderID, domain.ErrNotFound)
	}
	return s, nil
}
