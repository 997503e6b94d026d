package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"breakout-bot/internal/broker/brokerobs"
	"breakout-bot/internal/broker/dhan"
	"breakout-bot/internal/broker/finvasia"
	"breakout-bot/internal/broker/flattrade"
	"breakout-bot/internal/broker/zebu"
	"breakout-bot/internal/broker/zerodha"
	"breakout-bot/internal/instruments"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/store"
	"breakout-bot/internal/trace"
	"breakout-bot/internal/tradelog"
)

// initializeSystem loads the environment and initializes logger and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// compressOldLogs compresses old tradelog files if retention is configured.
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// savePID writes the process id to pid.txt for external kill scripts.
func savePID(ctx context.Context) {
	if err := os.WriteFile("pid.txt", []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		logger.Warn(ctx, "Failed to write pid file", "error", err)
	}
}

// buildBroker constructs the protocol client for one configured account,
// wrapped with the observability middleware.
func buildBroker(acct *store.Account, inst *instruments.Store) (interfaces.Broker, error) {
	b, err := newBroker(acct, inst)
	if err != nil {
		return nil, err
	}
	return brokerobs.Wrap(b), nil
}

func newBroker(acct *store.Account, inst *instruments.Store) (interfaces.Broker, error) {
	switch acct.Broker {
	case "finvasia":
		return finvasia.New(finvasia.Params{
			UserID:     acct.UserID,
			Password:   acct.Password,
			TOTPSecret: acct.TOTPSecret,
			IMEI:       acct.IMEI,
			VendorCode: acct.VendorCode,
			APIKey:     acct.APIKey,
		}, inst), nil
	case "zebu":
		return zebu.New(zebu.Params{
			UserID:   acct.UserID,
			Password: acct.Password,
			Factor2:  acct.Factor2,
			APIKey:   acct.APIKey,
		}, inst), nil
	case "flattrade":
		return flattrade.New(flattrade.Params{
			UserID:     acct.UserID,
			Password:   acct.Password,
			APIKey:     acct.APIKey,
			APISecret:  acct.APISecret,
			TOTPSecret: acct.TOTPSecret,
		}, inst), nil
	case "dhan":
		return dhan.New(dhan.Params{
			ClientID:    acct.ClientID,
			AccessToken: acct.AccessToken,
		}), nil
	case "zerodha":
		return zerodha.New(zerodha.Params{
			APIKey:      acct.APIKey,
			AccessToken: acct.AccessToken,
		}), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", acct.Broker)
	}
}

// startMetrics serves the Prometheus endpoint when an address is configured.
func startMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info(ctx, "metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorWithErr(ctx, "metrics server failed", err)
		}
	}()
}

// parseClock parses "HH:MM" into minutes since midnight, with a fallback.
func parseClock(s string, fallback int) int {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return fallback
	}
	return t.Hour()*60 + t.Minute()
}
