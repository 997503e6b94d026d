// Package zebu is the Zebu (Mynt) protocol client: Noren wire protocol
// with a static second factor on login.
package zebu

import (
	"context"

	"breakout-bot/internal/broker/noren"
	"breakout-bot/internal/instruments"
)

const baseURL = "https://go.mynt.in"

var endpoints = noren.Endpoints{
	Name:         "zebu",
	APIBaseURL:   baseURL + "/NorenWClientTP",
	WebSocketURL: "wss://go.mynt.in/NorenWSWeb/",
	MasterURL:    baseURL + "/NSE_symbols.txt.zip",
}

type Params struct {
	UserID   string
	Password string
	Factor2  string
	APIKey   string
}

// New builds a Zebu client on the shared Noren core.
func New(p Params, inst *instruments.Store) *noren.Client {
	hc := noren.NewHTTPClient()
	login := func(ctx context.Context) (string, error) {
		return noren.QuickAuth(ctx, hc, endpoints.APIBaseURL, noren.QuickAuthRequest{
			AppVersion: "1.0.8",
			UserID:     p.UserID,
			Password:   noren.Sha256(p.Password),
			Factor2:    p.Factor2,
			VendorCode: p.UserID,
			AppKey:     noren.AppKey(p.UserID, p.APIKey),
			IMEI:       "",
			Source:     "API",
		})
	}
	return noren.NewClient(endpoints, p.UserID, p.UserID, login, inst)
}
