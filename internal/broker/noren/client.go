// Package noren implements the wire protocol shared by the Noren-family
// brokerages (Finvasia, Zebu, Flattrade): form-encoded jData/jKey REST
// calls, order confirmation polling and the tick-streaming WebSocket. The
// concrete broker packages supply endpoints and login handshakes.
package noren

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"breakout-bot/internal/bars"
	"breakout-bot/internal/broker"
	"breakout-bot/internal/broker/execution"
	"breakout-bot/internal/broker/ticks"
	"breakout-bot/internal/instruments"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/types"
)

const (
	loginAttempts  = 3
	loginRetryWait = 5 * time.Second

	sessionOpen  = 9*60 + 15  // 09:15
	sessionClose = 15*60 + 30 // 15:30
)

var ist = time.FixedZone("IST", 19800)

const wireTimeLayout = "02-01-2006 15:04:05"

// Endpoints locates one Noren-family brokerage.
type Endpoints struct {
	Name         string
	APIBaseURL   string // e.g. https://api.shoonya.com/NorenWClientTP
	WebSocketURL string // e.g. wss://api.shoonya.com/NorenWSTP/
	MasterURL    string // NSE scrip master zip
}

// LoginFunc performs the brokerage-specific handshake and yields the
// session token.
type LoginFunc func(ctx context.Context) (string, error)

// Client is the shared Noren protocol client. One instance per account.
type Client struct {
	ep        Endpoints
	userID    string
	accountID string
	login     LoginFunc

	http     *http.Client
	registry *ticks.Registry
	poller   *execution.Poller
	inst     *instruments.Store

	mu      sync.Mutex
	session types.Session
}

func NewClient(ep Endpoints, userID, accountID string, login LoginFunc, inst *instruments.Store) *Client {
	return &Client{
		ep:        ep,
		userID:    userID,
		accountID: accountID,
		login:     login,
		http:      NewHTTPClient(),
		registry:  ticks.NewRegistry(),
		poller:    execution.NewPoller(),
		inst:      inst,
	}
}

var _ interfaces.Broker = (*Client)(nil)

// Session returns the current session value.
func (c *Client) Session() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Token
}

// Authenticate runs the login handshake with a small bounded retry, then
// makes sure today's scrip master is loaded.
func (c *Client) Authenticate(ctx context.Context) (types.Session, error) {
	if c.Session().Valid() {
		return types.Session{}, broker.ErrAlreadyAuthenticated
	}

	var token string
	var lastErr error
	for attempt := 0; attempt < loginAttempts; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "login failed, retrying", "broker", c.ep.Name, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(loginRetryWait):
			case <-ctx.Done():
				return types.Session{}, ctx.Err()
			}
		}
		token, lastErr = c.login(ctx)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return types.Session{}, &broker.AuthError{Broker: c.ep.Name, Msg: lastErr.Error()}
	}

	sess := types.Session{
		Broker:  c.ep.Name,
		UserID:  c.userID,
		Token:   token,
		LoginAt: time.Now(),
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	if c.inst != nil && c.ep.MasterURL != "" {
		if err := c.inst.EnsureMaster(ctx, c.ep.MasterURL); err != nil {
			return types.Session{}, fmt.Errorf("%s: scrip master: %w", c.ep.Name, err)
		}
	}

	logger.Info(ctx, "logged in", "broker", c.ep.Name, "user", c.userID)
	return sess, nil
}

// postJData posts a jData-encoded request, appending jKey when withKey is
// set, and returns the raw response body on HTTP 200.
func (c *Client) postJData(ctx context.Context, path string, req any, withKey bool) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload := "jData=" + string(body)
	if withKey {
		tok := c.token()
		if tok == "" {
			return nil, broker.ErrNotAuthenticated
		}
		payload += "&jKey=" + tok
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.ep.APIBaseURL+path, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, truncate(raw))
	}
	return raw, nil
}

// GetOHLC fetches 1-minute history and resamples it to the requested
// timeframe. Every failure resolves to a DataError the caller treats as "no
// data this cycle".
func (c *Client) GetOHLC(ctx context.Context, exchange, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Candle, error) {
	token, err := c.LookupToken(symbol)
	if err != nil {
		return nil, &broker.DataError{Broker: c.ep.Name, Op: "TPSeries", Err: err}
	}

	req := tpSeriesRequest{
		UserID:   c.userID,
		Token:    strconv.FormatUint(uint64(token), 10),
		Exchange: exchangeCode(exchange),
		Start:    strconv.FormatInt(start.Unix(), 10),
		End:      strconv.FormatInt(end.Unix(), 10),
		Interval: "1",
	}
	raw, err := c.postJData(ctx, "/TPSeries", req, true)
	if err != nil {
		return nil, &broker.DataError{Broker: c.ep.Name, Op: "TPSeries", Err: err}
	}

	var rows []tpSeriesRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &broker.DataError{Broker: c.ep.Name, Op: "TPSeries", Err: fmt.Errorf("malformed payload: %w", err)}
	}

	minute := parseSeriesRows(rows)
	if len(minute) == 0 {
		return nil, &broker.DataError{Broker: c.ep.Name, Op: "TPSeries", Err: fmt.Errorf("no bars for %s", symbol)}
	}
	return bars.Resample(minute, start, timeframe), nil
}

// parseSeriesRows converts wire rows to candles, keeping only rows inside
// the exchange session window, in ascending time order.
func parseSeriesRows(rows []tpSeriesRow) []types.Candle {
	out := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		if r.Stat != "Ok" || r.Time == "" {
			continue
		}
		t, err := time.ParseInLocation(wireTimeLayout, r.Time, ist)
		if err != nil {
			continue
		}
		m := t.Hour()*60 + t.Minute()
		if m < sessionOpen || m >= sessionClose {
			continue
		}
		o, err1 := strconv.ParseFloat(r.Open, 64)
		h, err2 := strconv.ParseFloat(r.High, 64)
		l, err3 := strconv.ParseFloat(r.Low, 64)
		cl, err4 := strconv.ParseFloat(r.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		out = append(out, types.Candle{Ts: t.Unix(), Open: o, High: h, Low: l, Close: cl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}

func exchangeCode(code string) string {
	// Noren brokers use the common NSE/NFO codes directly.
	return code
}

// Buy places an intraday market buy and blocks until the confirmation poll
// resolves it.
func (c *Client) Buy(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideBuy)
}

// Sell is the symmetric market sell.
func (c *Client) Sell(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideSell)
}

// placeOrder sends the order and runs the confirmation poll. Transport and
// parse failures resolve to (false, 0); they are never surfaced as faults.
func (c *Client) placeOrder(ctx context.Context, symbol string, qty int, side types.Side) (filled bool, avgPrice float64) {
	defer func() { metrics.OrderPlaced(c.ep.Name, string(side), filled) }()

	// The remarks tag lets a fill be matched back to this process in the
	// broker's order book.
	tag := uuid.NewString()
	req := placeOrderRequest{
		UserID:      c.userID,
		AccountID:   c.accountID,
		Exchange:    types.ExchangeNSE,
		Symbol:      url.QueryEscape(symbol + "-EQ"),
		Qty:         strconv.Itoa(qty),
		Price:       "0",
		DiscloseQty: "0",
		Product:     "I",
		TranType:    string(side),
		PriceType:   "MKT",
		Retention:   "DAY",
		Remarks:     tag,
	}
	raw, err := c.postJData(ctx, "/PlaceOrder", req, true)
	if err != nil {
		logger.ErrorWithErr(ctx, "order placement failed", err, "broker", c.ep.Name, "symbol", symbol, "side", side)
		return false, 0
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logger.ErrorWithErr(ctx, "order response malformed", err, "broker", c.ep.Name, "symbol", symbol)
		return false, 0
	}
	if resp.Stat != "Ok" {
		logger.Warn(ctx, "order not accepted", "broker", c.ep.Name, "symbol", symbol, "emsg", resp.ErrMsg)
		return false, 0
	}

	filled, avgPrice = c.poller.Confirm(ctx, resp.OrderNo, func(ctx context.Context) (types.OrderStatus, float64, error) {
		return c.orderStatus(ctx, resp.OrderNo)
	})
	if filled {
		logger.Trade(ctx, symbol, string(side), qty, avgPrice, resp.OrderNo, "broker", c.ep.Name)
	}
	return filled, avgPrice
}

// orderStatus fetches the first (latest) history entry for an order.
func (c *Client) orderStatus(ctx context.Context, orderNo string) (types.OrderStatus, float64, error) {
	raw, err := c.postJData(ctx, "/SingleOrdHist", orderHistRequest{UserID: c.userID, OrderNo: orderNo}, true)
	if err != nil {
		return types.OrderPending, 0, err
	}

	var entries []orderHistEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return types.OrderPending, 0, fmt.Errorf("order history malformed: %w", err)
	}
	if len(entries) == 0 || entries[0].Stat != "Ok" {
		return types.OrderPending, 0, fmt.Errorf("order history empty for %s", orderNo)
	}

	switch entries[0].Status {
	case "REJECTED":
		return types.OrderRejected, 0, nil
	case "COMPLETE":
		avg, err := strconv.ParseFloat(entries[0].AvgPrice, 64)
		if err != nil {
			return types.OrderPending, 0, fmt.Errorf("bad avgprc %q: %w", entries[0].AvgPrice, err)
		}
		return types.OrderFilled, avg, nil
	default:
		return types.OrderPending, 0, nil
	}
}

// LookupToken resolves an equity symbol through the scrip master.
func (c *Client) LookupToken(symbol string) (uint32, error) {
	if c.inst == nil {
		return 0, fmt.Errorf("%s: no instrument store", c.ep.Name)
	}
	return c.inst.Token(symbol)
}

// Subscribe registers a tick listener; the streaming connection sends one
// subscription frame covering all registered tokens after each (re)connect.
func (c *Client) Subscribe(token uint32, listener interfaces.TickListener) {
	c.registry.Subscribe(token, listener)
}
