package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"deltabot/internal/gateway/exchange"
	"deltabot/internal/logger"
	"deltabot/internal/types"
)

var log = logger.Component("binance")

// API error codes the executor cares about.
const (
	codeDisconnected       = -1001
	codeTimeout            = -1007
	codeTooManyRequests    = -1003
	codeTooManyOrders      = -1015
	codeServiceUnavailable = -1016
	codeTimestamp          = -1021
	codeDuplicateClientID  = -4116
)

// Client trades USDⓈ-M futures with market orders. The idempotency token
// is sent as the client order id.
type Client struct {
	cfg    Config
	client *futures.Client
}

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance: api key and secret are required for live trading")
	}
	return &Client{cfg: final, client: newFuturesClient(final)}, nil
}

func newFuturesClient(cfg Config) *futures.Client {
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return client
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	side := futures.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = futures.SideTypeSell
	}
	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.Token).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx, futures.WithRecvWindow(c.cfg.RecvWindow))
	if err != nil {
		if apiCode(err) == codeDuplicateClientID {
			return c.lookup(ctx, req)
		}
		return exchange.OrderResult{}, classify(err)
	}
	return exchange.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Token:       resp.ClientOrderID,
		Status:      exchange.OrderStatus(resp.Status),
		FilledQty:   parseDecimal(resp.ExecutedQuantity),
		AvgPrice:    parseDecimal(resp.AvgPrice),
		CompletedAt: time.UnixMilli(resp.UpdateTime),
	}, nil
}

// lookup resolves a duplicate client order id to the order it created.
func (c *Client) lookup(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	order, err := c.client.NewGetOrderService().Symbol(req.Symbol).OrigClientOrderID(req.Token).Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classify(err)
	}
	log.Infof("client order %s already placed as %d (%s)", req.Token, order.OrderID, order.Status)
	return exchange.OrderResult{
		OrderID:     strconv.FormatInt(order.OrderID, 10),
		Token:       order.ClientOrderID,
		Status:      exchange.OrderStatus(order.Status),
		FilledQty:   parseDecimal(order.ExecutedQuantity),
		AvgPrice:    parseDecimal(order.AvgPrice),
		Duplicate:   true,
		CompletedAt: time.UnixMilli(order.UpdateTime),
	}, nil
}

func (c *Client) Cancel(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance cancel: bad order id %q", orderID)
	}
	_, err = c.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return classify(err)
}

func (c *Client) Positions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseDecimal(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := types.DirectionLong
		if amt.IsNegative() {
			side = types.DirectionShort
		}
		out = append(out, exchange.Position{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   amt.Abs(),
			EntryPrice: parseDecimal(r.EntryPrice),
			MarkPrice:  parseDecimal(r.MarkPrice),
			UpdatedAt:  time.Now(),
		})
	}
	return out, nil
}

// Balance reports the USDT wallet with unrealized P&L as equity.
func (c *Client) Balance(ctx context.Context) (exchange.Balance, error) {
	balances, err := c.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classify(err)
	}
	for _, b := range balances {
		if b == nil || !strings.EqualFold(b.Asset, "USDT") {
			continue
		}
		return exchange.Balance{
			Currency:  b.Asset,
			Total:     parseDecimal(b.Balance).Add(parseDecimal(b.CrossUnPnl)),
			Available: parseDecimal(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Balance{}, fmt.Errorf("binance: no USDT balance in account")
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// classify wraps venue errors with the exchange error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case codeTooManyRequests, codeTooManyOrders:
		return fmt.Errorf("%w: %v", exchange.ErrRateLimited, err)
	// 0 is an unparseable error body, typically a gateway 5xx
	case 0, codeDisconnected, codeTimeout, codeServiceUnavailable, codeTimestamp:
		return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", exchange.ErrRejected, err)
	}
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
