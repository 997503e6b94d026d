// Package finvasia is the Finvasia (Shoonya) protocol client: Noren wire
// protocol with a TOTP second factor on login.
package finvasia

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"breakout-bot/internal/broker/noren"
	"breakout-bot/internal/instruments"
)

const baseURL = "https://api.shoonya.com"

var endpoints = noren.Endpoints{
	Name:         "finvasia",
	APIBaseURL:   baseURL + "/NorenWClientTP",
	WebSocketURL: "wss://api.shoonya.com/NorenWSTP/",
	MasterURL:    baseURL + "/NSE_symbols.txt.zip",
}

type Params struct {
	UserID     string
	Password   string
	TOTPSecret string
	IMEI       string
	VendorCode string
	APIKey     string
}

// New builds a Finvasia client on the shared Noren core.
func New(p Params, inst *instruments.Store) *noren.Client {
	hc := noren.NewHTTPClient()
	login := func(ctx context.Context) (string, error) {
		code, err := totp.GenerateCode(p.TOTPSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("totp: %w", err)
		}
		return noren.QuickAuth(ctx, hc, endpoints.APIBaseURL, noren.QuickAuthRequest{
			AppVersion: "1.0.0",
			UserID:     p.UserID,
			Password:   noren.Sha256(p.Password),
			Factor2:    code,
			VendorCode: p.VendorCode,
			AppKey:     noren.AppKey(p.UserID, p.APIKey),
			IMEI:       p.IMEI,
			Source:     "API",
		})
	}
	return noren.NewClient(endpoints, p.UserID, p.UserID, login, inst)
}
