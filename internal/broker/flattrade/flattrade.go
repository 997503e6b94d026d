// Package flattrade is the Flattrade protocol client. Trading and data
// calls ride the shared Noren core; login is Flattrade's own multi-step
// redirect exchange that ends in an API token.
package flattrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"breakout-bot/internal/broker/noren"
	"breakout-bot/internal/instruments"
)

const (
	authBaseURL = "https://authapi.flattrade.in"
	authPageURL = "https://auth.flattrade.in"
)

var endpoints = noren.Endpoints{
	Name:         "flattrade",
	APIBaseURL:   "https://piconnect.flattrade.in/PiConnectTP",
	WebSocketURL: "wss://piconnect.flattrade.in/PiConnectWSTp/",
	MasterURL:    "https://pidata.flattrade.in/scripmaster/json/nse",
}

type Params struct {
	UserID     string
	Password   string
	APIKey     string
	APISecret  string
	TOTPSecret string
}

// New builds a Flattrade client on the shared Noren core.
func New(p Params, inst *instruments.Store) *noren.Client {
	login := func(ctx context.Context) (string, error) {
		return authenticate(ctx, p)
	}
	return noren.NewClient(endpoints, p.UserID, p.UserID, login, inst)
}

var loginHeaders = map[string]string{
	"Accept":  "application/json",
	"Referer": authPageURL + "/",
	"Origin":  authPageURL,
}

// authenticate runs the redirect exchange: obtain a session id, post the
// hashed password plus TOTP, pull the request code off the redirect URL and
// trade it for the API token.
func authenticate(ctx context.Context, p Params) (string, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}
	hc := &http.Client{Timeout: 30 * time.Second, Jar: jar}

	sid, err := sessionID(ctx, hc)
	if err != nil {
		return "", err
	}

	// Visit the auth page so its cookies ride along on the ftauth call.
	if req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		authPageURL+"/?app_key="+url.QueryEscape(p.APIKey), nil); err == nil {
		if resp, err := hc.Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	code, err := requestCode(ctx, hc, p, sid)
	if err != nil {
		return "", err
	}
	return apiToken(ctx, hc, p, code)
}

func sessionID(ctx context.Context, hc *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authBaseURL+"/auth/session", nil)
	if err != nil {
		return "", err
	}
	applyHeaders(req)

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	sid := strings.TrimSpace(string(raw))
	if sid == "" {
		return "", fmt.Errorf("empty session id")
	}
	return sid, nil
}

func requestCode(ctx context.Context, hc *http.Client, p Params, sid string) (string, error) {
	code, err := totp.GenerateCode(p.TOTPSecret, time.Now())
	if err != nil {
		return "", fmt.Errorf("totp: %w", err)
	}

	payload := map[string]string{
		"UserName": p.UserID,
		"Password": noren.Sha256(p.Password),
		"PAN_DOB":  code,
		"App":      "",
		"ClientID": "",
		"Key":      "",
		"APIKey":   p.APIKey,
		"Sid":      sid,
	}
	raw, err := postJSON(ctx, hc, authBaseURL+"/ftauth", payload)
	if err != nil {
		return "", err
	}

	var out struct {
		RedirectURL string `json:"RedirectURL"`
		ErrMsg      string `json:"emsg"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ftauth response malformed: %w", err)
	}
	if out.RedirectURL == "" {
		return "", fmt.Errorf("ftauth rejected: %s", out.ErrMsg)
	}

	u, err := url.Parse(out.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("bad redirect url: %w", err)
	}
	reqCode := u.Query().Get("code")
	if reqCode == "" {
		return "", fmt.Errorf("redirect url carries no request code")
	}
	return reqCode, nil
}

func apiToken(ctx context.Context, hc *http.Client, p Params, reqCode string) (string, error) {
	payload := map[string]string{
		"api_key":      p.APIKey,
		"request_code": reqCode,
		"api_secret":   noren.Sha256(p.APIKey + reqCode + p.APISecret),
	}
	raw, err := postJSON(ctx, hc, authBaseURL+"/trade/apitoken", payload)
	if err != nil {
		return "", err
	}

	var out struct {
		Stat   string `json:"stat"`
		Token  string `json:"token"`
		ErrMsg string `json:"emsg"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("apitoken response malformed: %w", err)
	}
	if out.Stat != "Ok" || out.Token == "" {
		return "", fmt.Errorf("apitoken rejected: %s", out.ErrMsg)
	}
	return out.Token, nil
}

func postJSON(ctx context.Context, hc *http.Client, u string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", u, resp.StatusCode)
	}
	return raw, nil
}

func applyHeaders(req *http.Request) {
	for k, v := range loginHeaders {
		req.Header.Set(k, v)
	}
}
