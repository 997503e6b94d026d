package interfaces

import (
	"context"
	"time"

	"breakout-bot/internal/types"
)

// OrderPlacer is the narrow slice of a brokerage a strategy needs to trade.
type OrderPlacer interface {
	Buy(ctx context.Context, symbol string, qty int) (bool, float64)
	Sell(ctx context.Context, symbol string, qty int) (bool, float64)
}

// Broker is the capability set a strategy or portfolio caller needs from a
// brokerage, polymorphic over the concrete wire protocol.
type Broker interface {
	// Authenticate performs the brokerage login and returns the session.
	// Calling it again on an authenticated client is a programming error
	// and returns ErrAlreadyAuthenticated.
	Authenticate(ctx context.Context) (types.Session, error)

	// GetOHLC fetches minute-granularity history resampled to the requested
	// timeframe. A failed fetch surfaces as an error the caller treats as
	// "no data this cycle", never as fatal.
	GetOHLC(ctx context.Context, exchange, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Candle, error)

	// Buy and Sell place a market order and block until the confirmation
	// poll resolves it. A (false, 0) result means no trade happened.
	Buy(ctx context.Context, symbol string, qty int) (bool, float64)
	Sell(ctx context.Context, symbol string, qty int) (bool, float64)

	// LookupToken resolves a trading symbol to the broker's instrument token.
	LookupToken(symbol string) (uint32, error)

	// Subscribe registers a listener for an instrument token. Multiple
	// listeners per token are legal and all receive every tick.
	Subscribe(token uint32, listener TickListener)

	// StartStreaming opens the persistent tick connection and blocks for its
	// lifetime, reconnecting with a fixed delay on unexpected closure and
	// resubscribing every registered token.
	StartStreaming(ctx context.Context) error
}
