// Package binance implements domain.ExchangeClient for Binance spot over the
// go-binance REST client.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gbinance "github.com/adshao/go-binance/v2"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Config configures one Binance-compatible venue.
type Config struct {
	Name      string
	BaseURL   string
	APIKey    string
	APISecret string
	FeeRate   float64
	Quote     string
	Assets    []string
	Timeout   time.Duration
}

// symbolRules are the trading filters Binance enforces on a symbol.
type symbolRules struct {
	base     string
	quote    string
	stepSize string
	tickSize string
	minQty   float64
}

// Client is a Binance spot venue.
type Client struct {
	api    *gbinance.Client
	name   string
	fee    float64
	quote  string
	assets []string

	mu      sync.RWMutex
	markets map[string]symbolRules // symbol -> rules
	fills   map[string][]fill      // order id -> fills reported at creation

	logger *slog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// New creates a Client. Call Load before use so HasMarket knows the symbols.
func New(cfg Config, logger *slog.Logger) *Client {
	api := gbinance.NewClient(cfg.APIKey, cfg.APISecret)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 7 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	name := cfg.Name
	if name == "" {
		name = "binance"
	}
	return &Client{
		api:     api,
		name:    name,
		fee:     cfg.FeeRate,
		quote:   cfg.Quote,
		assets:  append([]string(nil), cfg.Assets...),
		markets: make(map[string]symbolRules),
		fills:   make(map[string][]fill),
		logger:  logger.With(slog.String("component", "binance"), slog.String("venue", name)),
	}
}

func (c *Client) Name() string     { return c.name }
func (c *Client) FeeRate() float64 { return c.fee }

// Load fetches exchange info and keeps the trading symbols for the configured
// assets against the quote.
func (c *Client) Load(ctx context.Context) error {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: exchange info: %w", err)
	}

	wanted := make(map[string]bool, len(c.assets))
	for _, a := range c.assets {
		wanted[symbol(a, c.quote)] = true
	}

	markets := make(map[string]symbolRules)
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Status != "TRADING" || !wanted[s.Symbol] {
			continue
		}
		r := symbolRules{base: s.BaseAsset, quote: s.QuoteAsset}
		if lot := s.LotSizeFilter(); lot != nil {
			r.stepSize = lot.StepSize
			r.minQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
		}
		if pf := s.PriceFilter(); pf != nil {
			r.tickSize = pf.TickSize
		}
		markets[s.Symbol] = r
	}

	c.mu.Lock()
	c.markets = markets
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "loaded markets", slog.Int("count", len(markets)))
	return nil
}

func (c *Client) rules(base, quote string) (symbolRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.markets[symbol(base, quote)]
	return r, ok
}

func (c *Client) HasMarket(base, quote string) bool {
	_, ok := c.rules(base, quote)
	return ok
}

func (c *Client) FetchOrderbook(ctx context.Context, base, quote string, depth int) (domain.Orderbook, error) {
	sym := symbol(base, quote)
	if !c.HasMarket(base, quote) {
		return domain.Orderbook{}, fmt.Errorf("binance: %s: %w", sym, domain.ErrMarketUnavailable)
	}

	res, err := c.api.NewDepthService().Symbol(sym).Limit(depthLimit(depth)).Do(ctx)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("binance: depth %s: %w", sym, err)
	}

	book := domain.Orderbook{
		Venue:     c.name,
		Base:      base,
		Quote:     quote,
		Timestamp: time.Now(),
		Bids:      make([]domain.Order, 0, len(res.Bids)),
		Asks:      make([]domain.Order, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		o, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return domain.Orderbook{}, fmt.Errorf("binance: depth %s bid: %w", sym, err)
		}
		book.Bids = append(book.Bids, o)
	}
	for _, a := range res.Asks {
		o, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return domain.Orderbook{}, fmt.Errorf("binance: depth %s ask: %w", sym, err)
		}
		book.Asks = append(book.Asks, o)
	}
	if depth > 0 {
		book.Bids = truncate(book.Bids, depth)
		book.Asks = truncate(book.Asks, depth)
	}
	return book, nil
}

func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: account: %w", err)
	}
	out := make(map[string]float64, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: balance %s: %w", b.Asset, err)
		}
		if free != 0 {
			out[b.Asset] = free
		}
	}
	return out, nil
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	sym := symbol(req.Base, req.Quote)
	r, ok := c.rules(req.Base, req.Quote)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("binance: order %s: %w", sym, domain.ErrMarketUnavailable)
	}

	qty, err := roundDown(req.Volume, r.stepSize)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: order %s: %w", sym, err)
	}
	if q, _ := strconv.ParseFloat(qty, 64); q <= 0 || q < r.minQty {
		return domain.OrderResult{}, fmt.Errorf("binance: order %s quantity %s below minimum: %w", sym, qty, domain.ErrInvalidOrder)
	}

	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(sideType(req.Side)).
		Quantity(qty).
		NewOrderRespType(gbinance.NewOrderRespTypeFULL)

	switch req.Type {
	case domain.OrderTypeLimit:
		price, err := roundDown(req.Price, r.tickSize)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("binance: order %s: %w", sym, err)
		}
		svc = svc.Type(gbinance.OrderTypeLimit).TimeInForce(gbinance.TimeInForceTypeGTC).Price(price)
	default:
		svc = svc.Type(gbinance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: create order %s: %w", sym, err)
	}

	id := strconv.FormatInt(res.OrderID, 10)
	fills := make([]fill, 0, len(res.Fills))
	for _, f := range res.Fills {
		parsed, err := parseFill(f.Price, f.Quantity, f.Commission, f.CommissionAsset)
		if err != nil {
			c.logger.WarnContext(ctx, "unparseable fill", slog.String("order_id", id), slog.String("error", err.Error()))
			continue
		}
		fills = append(fills, parsed)
	}
	c.mu.Lock()
	c.fills[id] = fills
	c.mu.Unlock()

	raw, _ := json.Marshal(res)
	return domain.OrderResult{OrderID: id, RawResponse: raw}, nil
}

func (c *Client) CancelOpenOrders(ctx context.Context, base, quote string) error {
	sym := symbol(base, quote)
	if _, err := c.api.NewCancelOpenOrdersService().Symbol(sym).Do(ctx); err != nil {
		// Binance answers -2011 when nothing is open.
		if strings.Contains(err.Error(), "-2011") {
			return nil
		}
		return fmt.Errorf("binance: cancel open orders %s: %w", sym, err)
	}
	return nil
}

func (c *Client) QueryOrder(ctx context.Context, base, quote, orderID string) (domain.OrderStatus, error) {
	sym := symbol(base, quote)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binance: order id %q: %w", orderID, domain.ErrInvalidOrder)
	}

	o, err := c.api.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binance: get order %s %s: %w", sym, orderID, err)
	}

	executedBase, err := strconv.ParseFloat(o.ExecutedQuantity, 64)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binance: order %s executed qty: %w", orderID, err)
	}
	executedQuote, err := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binance: order %s quote qty: %w", orderID, err)
	}

	c.mu.Lock()
	fills := c.fills[orderID]
	delete(c.fills, orderID)
	c.mu.Unlock()

	return buildStatus(orderID, base, quote, executedBase, executedQuote, fills, c.fee), nil
}

func symbol(base, quote string) string {
	return strings.ToUpper(base + quote)
}

func sideType(s domain.Side) gbinance.SideType {
	if s == domain.SideSell {
		return gbinance.SideTypeSell
	}
	return gbinance.SideTypeBuy
}

// depthLimit picks the smallest depth Binance accepts that covers want.
func depthLimit(want int) int {
	allowed := []int{5, 10, 20, 50, 100}
	for _, v := range allowed {
		if want <= v {
			return v
		}
	}
	return allowed[len(allowed)-1]
}

func truncate(levels []domain.Order, n int) []domain.Order {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}
