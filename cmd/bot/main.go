package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breakout-bot/internal/broker"
	"breakout-bot/internal/calendar"
	"breakout-bot/internal/engine"
	"breakout-bot/internal/eod"
	"breakout-bot/internal/instruments"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/portfolio"
	"breakout-bot/internal/store"
	"breakout-bot/internal/strategy"
	"breakout-bot/internal/trace"
)

var ist = time.FixedZone("IST", 19800)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = trace.Shutdown(shutdownCtx)
	}()

	cfg, err := store.LoadConfig("config.yaml")
	must(err)

	compressOldLogs(ctx)
	savePID(ctx)

	cal, err := calendar.Load(cfg.HolidaysFile)
	must(err)
	today := time.Now().In(ist)
	if !cal.IsTradingDay(today) {
		logger.Info(ctx, "market closed today, nothing to do", "date", today.Format("2006-01-02"))
		return
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info(ctx, "signal received, shutting down", "signal", s.String())
		cancel()
	}()

	inst, err := instruments.Open(cfg.InstrumentDB)
	must(err)
	defer inst.Close()

	dataAcct := cfg.AccountByName(cfg.Strategy.DataAccount)
	tradeAcct := cfg.AccountByName(cfg.Strategy.TradingAccount)

	dataBroker, err := buildBroker(dataAcct, inst)
	must(err)
	tradeBroker := dataBroker
	if dataAcct.Name != tradeAcct.Name {
		tradeBroker, err = buildBroker(tradeAcct, inst)
		must(err)
	}

	authenticate(ctx, dataBroker, dataAcct.Name)
	if tradeBroker != dataBroker {
		authenticate(ctx, tradeBroker, tradeAcct.Name)
	}

	gate := portfolio.New(cfg.Portfolio.MaxOpen, cfg.Portfolio.MaxTrades, cfg.Portfolio.MaxSlHits)
	params := strategy.ParamsFromConfig(cfg)

	strategies := make([]*strategy.Breakout, 0, len(cfg.Strategy.Symbols))
	for _, symbol := range cfg.Strategy.Symbols {
		token, err := dataBroker.LookupToken(symbol)
		if err != nil {
			logger.Warn(ctx, "symbol skipped, token lookup failed", "symbol", symbol, "error", err)
			continue
		}
		s := strategy.New(ctx, symbol, tradeBroker, gate, params)
		dataBroker.Subscribe(token, s)
		strategies = append(strategies, s)
	}
	if len(strategies) == 0 {
		log.Fatal("no tradable symbols after token resolution")
	}

	go func() {
		if err := dataBroker.StartStreaming(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorWithErr(ctx, "streaming stopped", err)
		}
	}()

	startMetrics(ctx, cfg.MetricsAddr)

	eng := engine.New(engine.Params{
		DataBroker:  dataBroker,
		Gate:        gate,
		Strategies:  strategies,
		DayCloseMin: parseClock(cfg.DayCloseTime, 15*60+35),
	})
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorWithErr(ctx, "engine stopped", err)
	}

	if due, _ := eod.ShouldRunNow(); due {
		if p, err := eod.SummarizeToday(); err == nil && p != "" {
			logger.Info(ctx, "EOD CSV written", "path", p)
		}
	}
	logger.Info(ctx, "bot stopped")
}

// authenticate logs the account in or exits. The protocol clients retry
// internally; an error here means retries are exhausted.
func authenticate(ctx context.Context, b interfaces.Broker, name string) {
	session, err := b.Authenticate(ctx)
	var authErr *broker.AuthError
	if errors.As(err, &authErr) {
		log.Fatalf("account %s: login failed: %s", name, authErr.Msg)
	}
	if err != nil {
		log.Fatalf("account %s: login failed: %v", name, err)
	}
	logger.Info(ctx, "account ready", "account", name, "broker", session.Broker, "user_id", session.UserID)
}
