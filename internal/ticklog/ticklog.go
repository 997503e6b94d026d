// Package ticklog records raw ticks per symbol into daily CSV files under
// the tickdata directory. Writes are buffered and flushed every flushEvery
// ticks so a crash loses at most a few seconds of data.
package ticklog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const flushEvery = 30

// Logger buffers ticks for one symbol and appends them to the symbol's
// daily file on each flush.
type Logger struct {
	symbol string
	dir    string

	mu      sync.Mutex
	pending [][]string
	total   int
	wrote   bool
}

func New(symbol string) *Logger {
	return &Logger{symbol: symbol, dir: "tickdata"}
}

// NewInDir is used by tests to redirect output.
func NewInDir(symbol, dir string) *Logger {
	return &Logger{symbol: symbol, dir: dir}
}

// Record buffers one tick. Every flushEvery ticks the buffer is appended
// to disk. A failed flush keeps the rows buffered for the next attempt.
func (l *Logger) Record(ts time.Time, ltp float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, []string{
		ts.Format("15:04:05.000"),
		fmt.Sprintf("%.2f", ltp),
	})
	l.total++
	if l.total%flushEvery != 0 {
		return nil
	}
	return l.flushLocked()
}

// Flush writes any buffered rows, for use at shutdown.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	return l.flushLocked()
}

func (l *Logger) flushLocked() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.csv", l.symbol, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !l.wrote {
		if err := w.Write([]string{"time", "price"}); err != nil {
			return err
		}
	}
	if err := w.WriteAll(l.pending); err != nil {
		return err
	}
	l.pending = l.pending[:0]
	l.wrote = true
	return nil
}
