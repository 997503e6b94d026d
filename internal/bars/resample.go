// Package bars holds OHLC series helpers shared by the broker clients and
// the strategy's breakout-range calculation.
package bars

import (
	"sort"
	"time"

	"breakout-bot/internal/types"
)

// Resample aggregates candles into non-overlapping buckets of the given
// width aligned to start: open is the first value in the bucket, high the
// max, low the min, close the last. Buckets with no data are dropped.
func Resample(cs []types.Candle, start time.Time, width time.Duration) []types.Candle {
	if len(cs) == 0 || width <= 0 {
		return nil
	}

	sorted := make([]types.Candle, len(cs))
	copy(sorted, cs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts < sorted[j].Ts })

	origin := start.Unix()
	w := int64(width / time.Second)

	var out []types.Candle
	var cur *types.Candle
	var curBucket int64
	for _, c := range sorted {
		if c.Ts < origin {
			continue
		}
		bucket := origin + (c.Ts-origin)/w*w
		if cur == nil || bucket != curBucket {
			if cur != nil {
				out = append(out, *cur)
			}
			nc := types.Candle{Ts: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
			cur = &nc
			curBucket = bucket
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// Window returns the candles whose bar time-of-day falls in [from, to),
// where from and to are minutes since midnight in loc.
func Window(cs []types.Candle, loc *time.Location, from, to int) []types.Candle {
	var out []types.Candle
	for _, c := range cs {
		t := time.Unix(c.Ts, 0).In(loc)
		m := t.Hour()*60 + t.Minute()
		if m >= from && m < to {
			out = append(out, c)
		}
	}
	return out
}

// HighLow returns the max high and min low over the series. ok is false for
// an empty series.
func HighLow(cs []types.Candle) (high, low float64, ok bool) {
	if len(cs) == 0 {
		return 0, 0, false
	}
	high, low = cs[0].High, cs[0].Low
	for _, c := range cs[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low, true
}
