// Package portfolio tracks process-wide risk counters shared by every
// strategy instance and arbitrates whether a new entry is allowed.
package portfolio

import (
	"context"
	"sync"

	"breakout-bot/internal/logger"
)

// Manager is the portfolio risk gate. All methods are safe for concurrent
// use from strategy instances ticking on different goroutines.
type Manager struct {
	mu sync.Mutex

	maxOpen   int
	maxTrades int
	maxSlHits int

	openPositions int
	trades        int
	slHits        int

	totalProfit float64
}

func New(maxOpen, maxTrades, maxSlHits int) *Manager {
	return &Manager{
		maxOpen:   maxOpen,
		maxTrades: maxTrades,
		maxSlHits: maxSlHits,
	}
}

// CanEnter reports whether a new entry is currently allowed.
func (m *Manager) CanEnter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions < m.maxOpen && m.trades < m.maxTrades && m.slHits < m.maxSlHits
}

// Entered records a new open position.
func (m *Manager) Entered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions++
	m.trades++
	logger.Debug(context.Background(), "position entered",
		"open_positions", m.openPositions, "trades", m.trades, "sl_hits", m.slHits)
}

// Exited records a closed (or partially closed) position's outcome. slHit is
// true only for an unshifted stop-loss exit.
func (m *Manager) Exited(profit float64, slHit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions--
	m.totalProfit += profit
	if slHit {
		m.slHits++
	}
	logger.Debug(context.Background(), "position exited",
		"open_positions", m.openPositions, "trades", m.trades,
		"sl_hits", m.slHits, "total_profit", m.totalProfit)
}

// OpenPositions returns the current open-position count.
func (m *Manager) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions
}

// MaxOpen returns the configured open-position cap.
func (m *Manager) MaxOpen() int { return m.maxOpen }

// TotalProfit returns the realized profit accumulated across all exits.
func (m *Manager) TotalProfit() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalProfit
}

// SlHits returns the portfolio-wide stop-loss hit count.
func (m *Manager) SlHits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slHits
}
