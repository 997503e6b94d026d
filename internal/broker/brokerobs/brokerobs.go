// Package brokerobs wraps a Broker with tracing spans and call logging.
// The wrapped client stays unaware of observability concerns.
package brokerobs

import (
	"context"
	"time"

	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/trace"
	"breakout-bot/internal/types"
)

type observableBroker struct {
	broker interfaces.Broker
}

var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware.
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

func (ob *observableBroker) Authenticate(ctx context.Context) (types.Session, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Authenticate")
	defer span.End()

	session, err := ob.broker.Authenticate(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Authentication failed", err)
		return types.Session{}, err
	}
	logger.InfoSkip(ctx, 1, "Authenticated", "broker", session.Broker, "user_id", session.UserID)
	return session, nil
}

func (ob *observableBroker) GetOHLC(ctx context.Context, exchange, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetOHLC")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching candles", "symbol", symbol)
	cs, err := ob.broker.GetOHLC(ctx, exchange, symbol, start, end, timeframe)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "symbol", symbol)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Candles fetched", "symbol", symbol, "count", len(cs))
	return cs, nil
}

func (ob *observableBroker) Buy(ctx context.Context, symbol string, qty int) (bool, float64) {
	ctx, span := trace.StartSpan(ctx, "broker.Buy")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Buy requested", "symbol", symbol, "qty", qty)
	filled, price := ob.broker.Buy(ctx, symbol, qty)
	logger.InfoSkip(ctx, 1, "Buy resolved", "symbol", symbol, "filled", filled, "price", price)
	return filled, price
}

func (ob *observableBroker) Sell(ctx context.Context, symbol string, qty int) (bool, float64) {
	ctx, span := trace.StartSpan(ctx, "broker.Sell")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Sell requested", "symbol", symbol, "qty", qty)
	filled, price := ob.broker.Sell(ctx, symbol, qty)
	logger.InfoSkip(ctx, 1, "Sell resolved", "symbol", symbol, "filled", filled, "price", price)
	return filled, price
}

func (ob *observableBroker) LookupToken(symbol string) (uint32, error) {
	return ob.broker.LookupToken(symbol)
}

func (ob *observableBroker) Subscribe(token uint32, listener interfaces.TickListener) {
	ob.broker.Subscribe(token, listener)
}

func (ob *observableBroker) StartStreaming(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "broker.StartStreaming")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Streaming starting")
	err := ob.broker.StartStreaming(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Streaming stopped", err)
	}
	return err
}
