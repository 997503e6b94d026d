// Package engine runs the trading day: it wakes at minute boundaries,
// fetches the universe's 1-minute bars while the portfolio gate still
// admits entries, drives each strategy's bar-close hook, and shuts the day
// down at the configured close time.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/portfolio"
	"breakout-bot/internal/strategy"
	"breakout-bot/internal/types"
)

const (
	fetchConcurrency = 5
	fetchRetries     = 3
	timeframe        = time.Minute
)

var ist = time.FixedZone("IST", 19800)

type Params struct {
	DataBroker  interfaces.Broker
	Gate        *portfolio.Manager
	Strategies  []*strategy.Breakout
	DayCloseMin int // minutes since midnight IST, process stops after this
}

type Engine struct {
	data        interfaces.Broker
	gate        *portfolio.Manager
	strategies  []*strategy.Breakout
	dayCloseMin int
}

func New(p Params) *Engine {
	return &Engine{
		data:        p.DataBroker,
		gate:        p.Gate,
		strategies:  p.Strategies,
		dayCloseMin: p.DayCloseMin,
	}
}

// Run blocks until the day close time or context cancellation. On day
// close every strategy force-liquidates before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	logger.Info(ctx, "engine started", "symbols", len(e.strategies))
	for {
		now := time.Now().In(ist)
		if now.Hour()*60+now.Minute() >= e.dayCloseMin {
			logger.Info(ctx, "day close triggered")
			e.closeDay()
			return nil
		}

		// Wake just past the next minute boundary.
		sleep := time.Duration(60-now.Second()) * time.Second
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			e.closeDay()
			return ctx.Err()
		}

		metrics.SetOpenPositions(e.gate.OpenPositions())
		metrics.SetRealizedPnL(e.gate.TotalProfit())

		if e.gate.OpenPositions() == e.gate.MaxOpen() || !e.gate.CanEnter() {
			continue
		}
		e.cycle(ctx)
	}
}

// cycle fetches the day's 1-minute bars for every symbol and hands them to
// the strategies. Fetches run concurrently with a bounded group; strategy
// callbacks run sequentially with per-symbol panic isolation.
func (e *Engine) cycle(ctx context.Context) {
	now := time.Now().In(ist)
	start := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, ist)
	end := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, ist)

	candles := make([][]types.Candle, len(e.strategies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, s := range e.strategies {
		g.Go(func() error {
			cs, err := e.fetch(gctx, s.Symbol(), start, end)
			if err != nil {
				logger.Warn(gctx, "no data this cycle", "symbol", s.Symbol(), "error", err)
				return nil
			}
			candles[i] = cs
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range e.strategies {
		if candles[i] == nil {
			continue
		}
		e.dispatch(ctx, s, now, candles[i])
	}
}

func (e *Engine) fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < fetchRetries; attempt++ {
		cs, err := e.data.GetOHLC(ctx, types.ExchangeNSE, symbol, start, end, timeframe)
		if err == nil {
			return cs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", fetchRetries, lastErr)
}

// dispatch isolates one strategy's bar-close handling so a panic in one
// symbol cannot take the loop down.
func (e *Engine) dispatch(ctx context.Context, s *strategy.Breakout, now time.Time, cs []types.Candle) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "strategy panicked on bar close",
				"symbol", s.Symbol(), "panic", fmt.Sprint(r))
		}
	}()
	s.OnBarClose(now, cs)
}

func (e *Engine) closeDay() {
	for _, s := range e.strategies {
		s.DayClose()
	}
}
