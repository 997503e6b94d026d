package types

import "time"

// Exchange codes understood by every broker client. Concrete clients map
// these to their own wire codes.
const (
	ExchangeNSE = "NSE"
	ExchangeNFO = "NFO"
)

// Session is the identity a broker hands back after a successful login.
// It lives for the trading day and is never persisted.
type Session struct {
	Broker  string
	UserID  string
	Token   string
	LoginAt time.Time
}

// Valid reports whether the session carries a usable token.
func (s Session) Valid() bool { return s.Token != "" }

// Tick is a single last-traded-price update from a streaming connection.
type Tick struct {
	Time  time.Time
	Token uint32
	LTP   float64
}

// Candle is one OHLC bar. Ts is the bar's open time in epoch seconds.
type Candle struct {
	Ts                     int64
	Open, High, Low, Close float64
}

type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// OrderStatus is the state reported by a broker for a placed order.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderRejected OrderStatus = "REJECTED"
	OrderFilled   OrderStatus = "COMPLETE"
)
