// Package calendar answers trading-day questions for NSE: exchange
// holidays come from a plain text file of ISO dates, weekends are
// always closed.
package calendar

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// Calendar holds the exchange holiday set for the running year.
type Calendar struct {
	holidays map[string]struct{}
}

// Load reads a holidays file with one YYYY-MM-DD date per line. Blank
// lines are skipped.
func Load(path string) (*Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("holidays file: %w", err)
	}
	defer f.Close()

	holidays := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", line); err != nil {
			return nil, fmt.Errorf("holidays file: bad date %q: %w", line, err)
		}
		holidays[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("holidays file: %w", err)
	}
	return &Calendar{holidays: holidays}, nil
}

func (c *Calendar) IsHoliday(day time.Time) bool {
	_, ok := c.holidays[day.Format("2006-01-02")]
	return ok
}

// IsTradingDay reports whether the exchange is open on the given day.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(day)
}

// PrevTradingDay walks back from the given day, skipping weekends and
// holidays, and returns the previous session date at midnight.
func (c *Calendar) PrevTradingDay(from time.Time) time.Time {
	day := from
	for {
		day = day.AddDate(0, 0, -1)
		if !c.IsTradingDay(day) {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	}
}
