package zerodha

import (
	"context"
	"time"

	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"breakout-bot/internal/broker"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/types"
)

// StartStreaming serves Kite ticker events into the tick registry until the
// context is cancelled. The SDK owns reconnection, so unlike the Noren
// clients there is no reconnect loop here.
func (c *Client) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	ok := c.session.Valid()
	c.mu.Unlock()
	if !ok {
		return broker.ErrNotAuthenticated
	}

	ticker := kiteticker.New(c.p.APIKey, c.p.AccessToken)
	ticker.OnConnect(func() {
		logger.Info(ctx, "stream connected", "broker", brokerName)
		tokens := c.registry.Tokens()
		if err := ticker.Subscribe(tokens); err != nil {
			logger.ErrorWithErr(ctx, "subscribe failed", err, "broker", brokerName)
			return
		}
		if err := ticker.SetMode(kiteticker.ModeLTP, tokens); err != nil {
			logger.ErrorWithErr(ctx, "set mode failed", err, "broker", brokerName)
			return
		}
		logger.Info(ctx, "subscribed", "broker", brokerName, "tokens", len(tokens))
	})
	ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "stream error", err, "broker", brokerName)
	})
	ticker.OnClose(func(code int, reason string) {
		logger.Warn(ctx, "stream closed", "broker", brokerName, "code", code, "reason", reason)
	})
	ticker.OnReconnect(func(attempt int, delay time.Duration) {
		metrics.StreamReconnect(brokerName)
		logger.Info(ctx, "stream reconnecting", "broker", brokerName,
			"attempt", attempt, "delay", delay)
	})
	ticker.OnNoReconnect(func(attempt int) {
		logger.Error(ctx, "stream gave up reconnecting", "broker", brokerName, "attempt", attempt)
	})
	ticker.OnTick(func(tick models.Tick) {
		metrics.TickReceived(brokerName)
		c.registry.Dispatch(types.Tick{
			Time:  tick.Timestamp.Time,
			Token: tick.InstrumentToken,
			LTP:   tick.LastPrice,
		})
	})

	go func() {
		<-ctx.Done()
		ticker.Stop()
	}()
	ticker.Serve()
	return ctx.Err()
}
