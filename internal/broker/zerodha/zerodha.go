// Package zerodha is the Zerodha Kite client. Unlike the Noren-family
// brokers it rides the official Kite Connect SDK for REST and streaming.
package zerodha

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"breakout-bot/internal/bars"
	"breakout-bot/internal/broker"
	"breakout-bot/internal/broker/execution"
	"breakout-bot/internal/broker/ticks"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/types"
)

const brokerName = "zerodha"

type Params struct {
	APIKey      string
	AccessToken string
}

// Client implements the Broker interface over Kite Connect.
type Client struct {
	p        Params
	kc       *kiteconnect.Client
	registry *ticks.Registry
	poller   *execution.Poller

	mu      sync.Mutex
	session types.Session
	tokens  map[string]uint32
}

var _ interfaces.Broker = (*Client)(nil)

func New(p Params) *Client {
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	return &Client{
		p:        p,
		kc:       kc,
		registry: ticks.NewRegistry(),
		poller:   execution.NewPoller(),
		tokens:   make(map[string]uint32),
	}
}

// Authenticate validates the access token and caches the NSE instrument
// dump for symbol to token resolution. Kite access tokens are minted out
// of band through the request-token flow, so there is no interactive login.
func (c *Client) Authenticate(ctx context.Context) (types.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Valid() {
		return types.Session{}, broker.ErrAlreadyAuthenticated
	}

	profile, err := c.kc.GetUserProfile()
	if err != nil {
		return types.Session{}, &broker.AuthError{Broker: brokerName, Msg: err.Error()}
	}

	instruments, err := c.kc.GetInstrumentsByExchange(kiteconnect.ExchangeNSE)
	if err != nil {
		return types.Session{}, &broker.AuthError{Broker: brokerName,
			Msg: fmt.Sprintf("instrument dump: %v", err)}
	}
	for _, in := range instruments {
		if in.InstrumentType != "EQ" {
			continue
		}
		c.tokens[in.Tradingsymbol] = uint32(in.InstrumentToken)
	}

	c.session = types.Session{
		Broker:  brokerName,
		UserID:  profile.UserID,
		Token:   c.p.AccessToken,
		LoginAt: time.Now(),
	}
	logger.Info(ctx, "authenticated", "broker", brokerName, "user_id", profile.UserID,
		"instruments", len(c.tokens))
	return c.session, nil
}

func (c *Client) LookupToken(symbol string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("no instrument token for %s", symbol)
	}
	return tok, nil
}

func (c *Client) Subscribe(token uint32, listener interfaces.TickListener) {
	c.registry.Subscribe(token, listener)
}

// GetOHLC fetches minute candles and resamples them to the requested
// timeframe on the same bucket alignment the other clients use.
func (c *Client) GetOHLC(ctx context.Context, exchange, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Candle, error) {
	tok, err := c.LookupToken(symbol)
	if err != nil {
		return nil, &broker.DataError{Broker: brokerName, Op: "GetOHLC", Err: err}
	}

	data, err := c.kc.GetHistoricalData(int(tok), "minute", start, end, false, false)
	if err != nil {
		return nil, &broker.DataError{Broker: brokerName, Op: "GetOHLC", Err: err}
	}

	cs := make([]types.Candle, 0, len(data))
	for _, d := range data {
		cs = append(cs, types.Candle{
			Ts:    d.Date.Unix(),
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
		})
	}
	return bars.Resample(cs, start, timeframe), nil
}

func (c *Client) Buy(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideBuy)
}

func (c *Client) Sell(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideSell)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, qty int, side types.Side) (filled bool, avgPrice float64) {
	defer func() { metrics.OrderPlaced(brokerName, string(side), filled) }()

	txType := kiteconnect.TransactionTypeBuy
	if side == types.SideSell {
		txType = kiteconnect.TransactionTypeSell
	}
	logger.Info(ctx, "placing order", "broker", brokerName, "symbol", symbol,
		"side", side, "qty", qty)

	resp, err := c.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        kiteconnect.ExchangeNSE,
		Tradingsymbol:   symbol,
		TransactionType: txType,
		Quantity:        qty,
		Product:         kiteconnect.ProductMIS,
		OrderType:       kiteconnect.OrderTypeMarket,
		Validity:        kiteconnect.ValidityDay,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "order placement failed", err, "broker", brokerName, "symbol", symbol)
		return false, 0
	}

	filled, avgPrice = c.poller.Confirm(ctx, resp.OrderID, func(ctx context.Context) (types.OrderStatus, float64, error) {
		return c.orderStatus(ctx, resp.OrderID)
	})
	if filled {
		logger.Trade(ctx, symbol, string(side), qty, avgPrice, resp.OrderID, "broker", brokerName)
	}
	return filled, avgPrice
}

func (c *Client) orderStatus(ctx context.Context, orderID string) (types.OrderStatus, float64, error) {
	history, err := c.kc.GetOrderHistory(orderID)
	if err != nil {
		return types.OrderPending, 0, err
	}
	if len(history) == 0 {
		return types.OrderPending, 0, nil
	}
	last := history[len(history)-1]
	switch last.Status {
	case kiteconnect.OrderStatusRejected, kiteconnect.OrderStatusCancelled:
		return types.OrderRejected, 0, nil
	case kiteconnect.OrderStatusComplete:
		return types.OrderFilled, last.AveragePrice, nil
	default:
		return types.OrderPending, 0, nil
	}
}
