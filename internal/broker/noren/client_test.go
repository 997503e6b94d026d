package noren

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-bot/internal/broker/execution"
	"breakout-bot/internal/instruments"
	"breakout-bot/internal/types"
)

func TestSha256Digest(t *testing.T) {
	assert.Equal(t,
		"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Sha256("test"))
}

func TestAppKeyJoinsUserAndKey(t *testing.T) {
	assert.Equal(t, Sha256("FA0001|secretkey"), AppKey("FA0001", "secretkey"))
}

// decodeJData strips the form wrapper and unmarshals the request payload.
func decodeJData(t *testing.T, r *http.Request, out any) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	s := string(body)
	require.True(t, strings.HasPrefix(s, "jData="), "payload %q", s)

	jData := strings.TrimPrefix(s, "jData=")
	var jKey string
	if i := strings.Index(jData, "&jKey="); i >= 0 {
		jKey = jData[i+len("&jKey="):]
		jData = jData[:i]
	}
	require.NoError(t, json.Unmarshal([]byte(jData), out))
	return jKey
}

func TestQuickAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/QuickAuth", r.URL.Path)
		var req QuickAuthRequest
		decodeJData(t, r, &req)
		assert.Equal(t, "FA0001", req.UserID)
		assert.Equal(t, Sha256("pass"), req.Password)
		w.Write([]byte(`{"stat":"Ok","susertoken":"tok123"}`))
	}))
	defer srv.Close()

	token, err := QuickAuth(context.Background(), NewHTTPClient(), srv.URL, QuickAuthRequest{
		AppVersion: "1.0.0",
		UserID:     "FA0001",
		Password:   Sha256("pass"),
		Factor2:    "123456",
		VendorCode: "FA0001_U",
		AppKey:     AppKey("FA0001", "key"),
		IMEI:       "abc1234",
		Source:     "API",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)
}

func TestQuickAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"Not_Ok","emsg":"Invalid Input : Wrong Password"}`))
	}))
	defer srv.Close()

	_, err := QuickAuth(context.Background(), NewHTTPClient(), srv.URL, QuickAuthRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Wrong Password")
}

func newTestClient(t *testing.T, srvURL string, inst *instruments.Store) *Client {
	t.Helper()
	ep := Endpoints{Name: "finvasia", APIBaseURL: srvURL}
	c := NewClient(ep, "FA0001", "FA0001", func(ctx context.Context) (string, error) {
		return "sessiontok", nil
	}, inst)
	c.poller = execution.NewPollerWithInterval(3, time.Millisecond)
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return c
}

func TestBuyConfirmedFill(t *testing.T) {
	var placed placeOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/PlaceOrder":
			jKey := decodeJData(t, r, &placed)
			assert.Equal(t, "sessiontok", jKey)
			w.Write([]byte(`{"stat":"Ok","norenordno":"24083100001"}`))
		case "/SingleOrdHist":
			var req orderHistRequest
			decodeJData(t, r, &req)
			assert.Equal(t, "24083100001", req.OrderNo)
			w.Write([]byte(`[{"stat":"Ok","status":"COMPLETE","avgprc":"101.35"}]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	filled, price := c.Buy(context.Background(), "RELIANCE", 10)
	require.True(t, filled)
	assert.Equal(t, 101.35, price)

	assert.Equal(t, "RELIANCE-EQ", placed.Symbol)
	assert.Equal(t, "NSE", placed.Exchange)
	assert.Equal(t, "I", placed.Product)
	assert.Equal(t, "MKT", placed.PriceType)
	assert.Equal(t, "B", placed.TranType)
	assert.Equal(t, "10", placed.Qty)
	assert.NotEmpty(t, placed.Remarks)
}

func TestSellRejectedAtPoll(t *testing.T) {
	histCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/PlaceOrder":
			w.Write([]byte(`{"stat":"Ok","norenordno":"24083100002"}`))
		case "/SingleOrdHist":
			histCalls++
			w.Write([]byte(`[{"stat":"Ok","status":"REJECTED","emsg":"RED:margin shortfall"}]`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	filled, price := c.Sell(context.Background(), "RELIANCE", 10)
	assert.False(t, filled)
	assert.Zero(t, price)
	assert.Equal(t, 1, histCalls, "rejection is terminal")
}

func TestPlaceOrderNotAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/PlaceOrder", r.URL.Path, "no status poll for an unaccepted order")
		w.Write([]byte(`{"stat":"Not_Ok","emsg":"Session Expired"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	filled, _ := c.Buy(context.Background(), "RELIANCE", 10)
	assert.False(t, filled)
}

func TestGetOHLCParsesAndFiltersSession(t *testing.T) {
	inst, err := instruments.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	defer inst.Close()
	_, err = inst.LoadCSV(context.Background(),
		strings.NewReader("Symbol,Token,Instrument\nRELIANCE,2885,EQ\n"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/TPSeries", r.URL.Path)
		var req tpSeriesRequest
		decodeJData(t, r, &req)
		assert.Equal(t, "2885", req.Token)
		assert.Equal(t, "1", req.Interval)
		// Rows arrive newest first with a pre-open row and a junk row mixed in.
		w.Write([]byte(`[
			{"stat":"Ok","time":"31-08-2026 09:16:00","into":"100.4","inth":"100.9","intl":"100.1","intc":"100.8"},
			{"stat":"Ok","time":"31-08-2026 09:15:00","into":"100.0","inth":"100.5","intl":"99.8","intc":"100.4"},
			{"stat":"Ok","time":"31-08-2026 09:10:00","into":"99.0","inth":"99.5","intl":"98.8","intc":"99.2"},
			{"stat":"Ok","time":"31-08-2026 09:17:00","into":"bad","inth":"x","intl":"y","intc":"z"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, inst)
	ist := time.FixedZone("IST", 19800)
	start := time.Date(2026, 8, 31, 9, 15, 0, 0, ist)
	cs, err := c.GetOHLC(context.Background(), types.ExchangeNSE, "RELIANCE",
		start, start.Add(15*time.Minute), time.Minute)
	require.NoError(t, err)

	require.Len(t, cs, 2, "pre-open and unparseable rows are dropped")
	assert.Equal(t, start.Unix(), cs[0].Ts)
	assert.Equal(t, 100.0, cs[0].Open)
	assert.Equal(t, 100.8, cs[1].Close)
}

func TestGetOHLCEmptySeriesIsDataError(t *testing.T) {
	inst, err := instruments.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	defer inst.Close()
	_, err = inst.LoadCSV(context.Background(),
		strings.NewReader("Symbol,Token,Instrument\nRELIANCE,2885,EQ\n"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"Not_Ok","emsg":"no data"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, inst)
	_, err = c.GetOHLC(context.Background(), types.ExchangeNSE, "RELIANCE",
		time.Now().Add(-time.Hour), time.Now(), time.Minute)
	assert.Error(t, err)
}
