package bars

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-bot/internal/types"
)

var ist = time.FixedZone("IST", 19800)

func minuteCandle(day time.Time, h, m int, o, hi, lo, c float64) types.Candle {
	t := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, ist)
	return types.Candle{Ts: t.Unix(), Open: o, High: hi, Low: lo, Close: c}
}

func TestResampleFiveMinute(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, ist)
	start := time.Date(2026, 8, 28, 9, 15, 0, 0, ist)

	cs := []types.Candle{
		minuteCandle(day, 9, 15, 100, 101, 99, 100.5),
		minuteCandle(day, 9, 16, 100.5, 102, 100, 101),
		minuteCandle(day, 9, 19, 101, 101.5, 100.2, 100.4),
		// gap, next bucket
		minuteCandle(day, 9, 21, 100.4, 103, 100.4, 102.9),
	}

	out := Resample(cs, start, 5*time.Minute)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, start.Unix(), first.Ts)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 102.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 100.4, first.Close)

	second := out[1]
	assert.Equal(t, start.Add(5*time.Minute).Unix(), second.Ts)
	assert.Equal(t, 102.9, second.Close)
}

func TestResampleDropsPreSessionRows(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, ist)
	start := time.Date(2026, 8, 28, 9, 15, 0, 0, ist)

	cs := []types.Candle{
		minuteCandle(day, 9, 0, 90, 91, 89, 90),
		minuteCandle(day, 9, 15, 100, 101, 99, 100.5),
	}
	out := Resample(cs, start, time.Minute)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Open)
}

func TestResampleEmpty(t *testing.T) {
	start := time.Date(2026, 8, 28, 9, 15, 0, 0, ist)
	assert.Nil(t, Resample(nil, start, time.Minute))
}

func TestWindow(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, ist)
	cs := []types.Candle{
		minuteCandle(day, 9, 15, 100, 101, 99, 100),
		minuteCandle(day, 9, 19, 100, 105, 98, 104),
		minuteCandle(day, 9, 20, 104, 110, 104, 109),
	}

	// Range end bar (09:20) is excluded.
	w := Window(cs, ist, 9*60+15, 9*60+20)
	require.Len(t, w, 2)

	high, low, ok := HighLow(w)
	require.True(t, ok)
	assert.Equal(t, 105.0, high)
	assert.Equal(t, 98.0, low)
}

func TestHighLowEmpty(t *testing.T) {
	_, _, ok := HighLow(nil)
	assert.False(t, ok)
}
