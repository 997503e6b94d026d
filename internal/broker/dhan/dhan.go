// Package dhan is the Dhan HQ protocol client. Dhan is a trade-only
// account in this system: market orders with confirmation polling work,
// while candles and tick streaming come from a companion data account.
package dhan

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"breakout-bot/internal/broker"
	"breakout-bot/internal/broker/execution"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/types"
)

const (
	baseURL     = "https://api.dhan.co"
	scripMaster = "https://images.dhan.co/api-scrip-master.csv"
	brokerName  = "dhan"
)

// Client implements the Broker interface over Dhan's token-header REST API.
type Client struct {
	clientID    string
	accessToken string
	http        *http.Client
	poller      *execution.Poller

	mu          sync.Mutex
	session     types.Session
	securityIDs map[string]string
}

var _ interfaces.Broker = (*Client)(nil)

type Params struct {
	ClientID    string
	AccessToken string
}

func New(p Params) *Client {
	return &Client{
		clientID:    p.ClientID,
		accessToken: p.AccessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		poller:      execution.NewPoller(),
	}
}

// Authenticate validates the static access token against the funds endpoint
// and loads the equity scrip master for symbol resolution. Dhan issues
// long-lived tokens out of band, so there is no interactive login.
func (c *Client) Authenticate(ctx context.Context) (types.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Valid() {
		return types.Session{}, broker.ErrAlreadyAuthenticated
	}

	if err := c.checkToken(ctx); err != nil {
		return types.Session{}, &broker.AuthError{Broker: brokerName, Msg: err.Error()}
	}
	ids, err := c.loadScripMaster(ctx)
	if err != nil {
		return types.Session{}, &broker.AuthError{Broker: brokerName, Msg: err.Error()}
	}
	c.securityIDs = ids

	c.session = types.Session{
		Broker:  brokerName,
		UserID:  c.clientID,
		Token:   c.accessToken,
		LoginAt: time.Now(),
	}
	logger.Info(ctx, "authenticated", "broker", brokerName, "user_id", c.clientID,
		"symbols", len(ids))
	return c.session, nil
}

func (c *Client) checkToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/fundlimit", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token check: status %d", resp.StatusCode)
	}
	return nil
}

// loadScripMaster maps NSE equity trading symbols to Dhan security ids.
func (c *Client) loadScripMaster(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scripMaster, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrip master: status %d", resp.StatusCode)
	}
	return parseScripMaster(resp.Body)
}

func parseScripMaster(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("scrip master header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	exchCol, ok1 := col["SEM_EXM_EXCH_ID"]
	instrCol, ok2 := col["SEM_INSTRUMENT_NAME"]
	symCol, ok3 := col["SEM_TRADING_SYMBOL"]
	idCol, ok4 := col["SEM_SMST_SECURITY_ID"]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("scrip master missing expected columns")
	}

	ids := make(map[string]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scrip master row: %w", err)
		}
		if len(rec) <= idCol {
			continue
		}
		if rec[exchCol] != "NSE" || rec[instrCol] != "EQUITY" {
			continue
		}
		ids[rec[symCol]] = rec[idCol]
	}
	return ids, nil
}

func (c *Client) securityID(symbol string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.securityIDs[symbol]
	if !ok {
		return "", fmt.Errorf("no security id for %s", symbol)
	}
	return id, nil
}

func (c *Client) Buy(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideBuy)
}

func (c *Client) Sell(ctx context.Context, symbol string, qty int) (bool, float64) {
	return c.placeOrder(ctx, symbol, qty, types.SideSell)
}

type placeOrderRequest struct {
	DhanClientID    string  `json:"dhanClientId"`
	TransactionType string  `json:"transactionType"`
	ExchangeSegment string  `json:"exchangeSegment"`
	ProductType     string  `json:"productType"`
	OrderType       string  `json:"orderType"`
	Validity        string  `json:"validity"`
	SecurityID      string  `json:"securityId"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
}

type placeOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

type orderDetail struct {
	OrderStatus        string  `json:"orderStatus"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
}

func (c *Client) placeOrder(ctx context.Context, symbol string, qty int, side types.Side) (filled bool, avgPrice float64) {
	defer func() { metrics.OrderPlaced(brokerName, string(side), filled) }()

	id, err := c.securityID(symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "order aborted", err, "broker", brokerName, "symbol", symbol)
		return false, 0
	}

	txType := "BUY"
	if side == types.SideSell {
		txType = "SELL"
	}
	reqBody := placeOrderRequest{
		DhanClientID:    c.clientID,
		TransactionType: txType,
		ExchangeSegment: "NSE_EQ",
		ProductType:     "INTRADAY",
		OrderType:       "MARKET",
		Validity:        "DAY",
		SecurityID:      id,
		Quantity:        qty,
		Price:           0,
	}
	logger.Info(ctx, "placing order", "broker", brokerName, "symbol", symbol,
		"side", side, "qty", qty, "security_id", id)

	var placed placeOrderResponse
	if err := c.postJSON(ctx, "/orders", reqBody, &placed); err != nil {
		logger.ErrorWithErr(ctx, "order placement failed", err, "broker", brokerName, "symbol", symbol)
		return false, 0
	}
	if placed.OrderID == "" {
		logger.Error(ctx, "order placement returned no order id", "broker", brokerName, "symbol", symbol)
		return false, 0
	}

	filled, avgPrice = c.poller.Confirm(ctx, placed.OrderID, func(ctx context.Context) (types.OrderStatus, float64, error) {
		return c.orderStatus(ctx, placed.OrderID)
	})
	if filled {
		logger.Trade(ctx, symbol, string(side), qty, avgPrice, placed.OrderID, "broker", brokerName)
	}
	return filled, avgPrice
}

func (c *Client) orderStatus(ctx context.Context, orderID string) (types.OrderStatus, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return types.OrderPending, 0, err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return types.OrderPending, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.OrderPending, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.OrderPending, 0, fmt.Errorf("order status: status %d", resp.StatusCode)
	}

	var det orderDetail
	// The endpoint returns either the order object or a single-element list.
	if err := json.Unmarshal(raw, &det); err != nil {
		var list []orderDetail
		if err2 := json.Unmarshal(raw, &list); err2 != nil || len(list) == 0 {
			return types.OrderPending, 0, fmt.Errorf("order status malformed: %w", err)
		}
		det = list[0]
	}
	switch det.OrderStatus {
	case "REJECTED", "CANCELLED":
		return types.OrderRejected, 0, nil
	case "TRADED":
		return types.OrderFilled, det.AverageTradedPrice, nil
	default:
		return types.OrderPending, 0, nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", c.accessToken)
	req.Header.Set("client-id", c.clientID)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// GetOHLC is not served by Dhan in this system. Candles come from the
// configured data account.
func (c *Client) GetOHLC(ctx context.Context, exchange, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Candle, error) {
	return nil, &broker.DataError{Broker: brokerName, Op: "GetOHLC",
		Err: fmt.Errorf("historical data not supported, use a data account")}
}

// LookupToken reports the security id as a numeric token when it parses,
// so wiring a Dhan account as a data source fails loudly rather than
// silently mis-subscribing.
func (c *Client) LookupToken(symbol string) (uint32, error) {
	id, err := c.securityID(symbol)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("security id %q is not a numeric token: %w", id, err)
	}
	return uint32(n), nil
}

// Subscribe drops the listener since Dhan carries no market data stream
// here. The warning makes a misconfigured data account visible in logs.
func (c *Client) Subscribe(token uint32, listener interfaces.TickListener) {
	logger.Warn(context.Background(), "tick subscription ignored, no market data stream",
		"broker", brokerName, "token", token)
}

func (c *Client) StartStreaming(ctx context.Context) error {
	return broker.ErrStreamingUnsupported
}
