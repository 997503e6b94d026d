// Package execution implements the order confirmation sub-protocol shared
// by the broker clients: place, then poll order status a bounded number of
// times until a terminal fill or rejection.
package execution

import (
	"context"
	"time"

	"breakout-bot/internal/logger"
	"breakout-bot/internal/types"
)

const (
	defaultAttempts = 3
	defaultInterval = time.Second
)

// StatusFunc fetches the current status of a placed order. avgPrice is
// meaningful only for a filled order. An error is treated the same as a
// pending status.
type StatusFunc func(ctx context.Context) (types.OrderStatus, float64, error)

// Poller resolves placed orders to a terminal fill or rejection.
type Poller struct {
	attempts int
	interval time.Duration
}

func NewPoller() *Poller {
	return &Poller{attempts: defaultAttempts, interval: defaultInterval}
}

// NewPollerWithInterval is used by tests to avoid real sleeps.
func NewPollerWithInterval(attempts int, interval time.Duration) *Poller {
	return &Poller{attempts: attempts, interval: interval}
}

// Confirm polls the order status up to the attempt bound with a fixed pause
// between fetches. The first rejection terminates with (false, 0); the first
// completed status terminates with (true, avgPrice). Exhausting the bound
// without a terminal status is a failure: no order is assumed filled.
func (p *Poller) Confirm(ctx context.Context, orderID string, fetch StatusFunc) (bool, float64) {
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.interval):
			case <-ctx.Done():
				return false, 0
			}
		}

		status, avgPrice, err := fetch(ctx)
		if err != nil {
			logger.Debug(ctx, "order status fetch failed", "order_id", orderID, "error", err)
			continue
		}
		switch status {
		case types.OrderRejected:
			logger.Debug(ctx, "order rejected", "order_id", orderID)
			return false, 0
		case types.OrderFilled:
			logger.Debug(ctx, "order complete", "order_id", orderID, "avg_price", avgPrice)
			return true, avgPrice
		}
	}
	logger.Debug(ctx, "order confirmation exhausted", "order_id", orderID)
	return false, 0
}
