package strategy

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-bot/internal/portfolio"
	"breakout-bot/internal/types"
)

type orderCall struct {
	side types.Side
	qty  int
}

// fakeBroker records orders and fills every one at the configured price
// unless reject is set.
type fakeBroker struct {
	reject bool
	fill   float64
	calls  []orderCall
}

func (b *fakeBroker) Buy(_ context.Context, _ string, qty int) (bool, float64) {
	b.calls = append(b.calls, orderCall{types.SideBuy, qty})
	return !b.reject, b.fill
}

func (b *fakeBroker) Sell(_ context.Context, _ string, qty int) (bool, float64) {
	b.calls = append(b.calls, orderCall{types.SideSell, qty})
	return !b.reject, b.fill
}

func testParams() Params {
	p := DefaultParams()
	p.CashToTrade = 100000
	p.BreakoutMarginPct = 0 // thresholds equal the range extremes
	p.StopLossPct = 1
	return p
}

func newTestStrategy(t *testing.T, b *fakeBroker, p Params) (*Breakout, *portfolio.Manager) {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(old) })

	gate := portfolio.New(5, 100, 10)
	return New(context.Background(), "RELIANCE", b, gate, p), gate
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 8, 31, hh, mm, ss, 0, ist)
}

// seedRange installs a 100/98 opening range via a single 09:15 bar.
func seedRange(s *Breakout) {
	cs := []types.Candle{{Ts: at(9, 15, 0).Unix(), Open: 99, High: 100, Low: 98, Close: 99.5}}
	s.OnBarClose(at(9, 21, 0), cs)
}

func TestRangeNotSeededBeforeWindowEnds(t *testing.T) {
	b := &fakeBroker{fill: 105}
	s, _ := newTestStrategy(t, b, testParams())

	cs := []types.Candle{{Ts: at(9, 15, 0).Unix(), Open: 99, High: 100, Low: 98, Close: 99.5}}
	s.OnBarClose(at(9, 18, 0), cs)

	s.Tick(types.Tick{Time: at(9, 19, 0), Token: 1, LTP: 105})
	assert.Empty(t, b.calls, "no entries until the range is seeded")
}

func TestRangeSeededOnce(t *testing.T) {
	b := &fakeBroker{fill: 100.70}
	s, _ := newTestStrategy(t, b, testParams())
	seedRange(s)

	// A later bar-close with a wider range must not move the thresholds.
	wider := []types.Candle{{Ts: at(9, 15, 0).Unix(), Open: 99, High: 110, Low: 90, Close: 99.5}}
	s.OnBarClose(at(9, 25, 0), wider)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 100.70})
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.SideBuy, b.calls[0].side)
}

func TestBreakoutMarginWidensThresholds(t *testing.T) {
	p := testParams()
	p.BreakoutMarginPct = 0.65 // 100 high becomes 100.65
	b := &fakeBroker{fill: 100.70}
	s, _ := newTestStrategy(t, b, p)
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 100.64})
	assert.Empty(t, b.calls)

	s.Tick(types.Tick{Time: at(9, 31, 0), Token: 1, LTP: 100.70})
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.SideBuy, b.calls[0].side)
}

func TestLongEntrySizesByCash(t *testing.T) {
	b := &fakeBroker{fill: 100.70}
	s, gate := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 100.70})
	require.Len(t, b.calls, 1)
	assert.Equal(t, orderCall{types.SideBuy, 993}, b.calls[0]) // floor(100000/100.70)
	assert.Equal(t, 1, gate.OpenPositions())
}

func TestShortEntryBelowRangeLow(t *testing.T) {
	b := &fakeBroker{fill: 97.5}
	s, _ := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 97.5})
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.SideSell, b.calls[0].side)
}

func TestEntryRejectionRetiresSymbol(t *testing.T) {
	b := &fakeBroker{reject: true, fill: 101}
	s, gate := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101})
	require.Len(t, b.calls, 1)
	assert.True(t, s.NoMoreTrades())
	assert.Equal(t, 0, gate.OpenPositions())

	s.Tick(types.Tick{Time: at(9, 31, 0), Token: 1, LTP: 102})
	assert.Len(t, b.calls, 1, "retired symbol places no further orders")
}

func TestStopLossExitWidensBreakout(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, gate := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101}) // long at 101, stop 99.99
	require.Len(t, b.calls, 1)

	s.Tick(types.Tick{Time: at(9, 35, 0), Token: 1, LTP: 99.50})
	require.Len(t, b.calls, 2)
	assert.Equal(t, orderCall{types.SideSell, 990}, b.calls[1])
	assert.Equal(t, 1, gate.SlHits())
	assert.InDelta(t, (99.50-101)*990, s.Profit(), 1e-6)

	// Threshold widened by 0.35% to 100.35; the old trigger no longer fires.
	s.Tick(types.Tick{Time: at(9, 40, 0), Token: 1, LTP: 100.30})
	assert.Len(t, b.calls, 2)
	s.Tick(types.Tick{Time: at(9, 41, 0), Token: 1, LTP: 100.40})
	assert.Len(t, b.calls, 3, "re-entry above the widened threshold")
}

func TestBreakevenShiftSparesSlHitBudget(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, gate := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101})
	// 0.99% favorable move shifts the stop to 101 + 0.05%.
	s.Tick(types.Tick{Time: at(9, 40, 0), Token: 1, LTP: 102})
	// Falling back through the shifted stop exits flat with no stop-hit.
	s.Tick(types.Tick{Time: at(9, 45, 0), Token: 1, LTP: 101.02})

	require.Len(t, b.calls, 2)
	assert.Equal(t, types.SideSell, b.calls[1].side)
	assert.Equal(t, 0, gate.SlHits())
	assert.False(t, s.NoMoreTrades())
	assert.InDelta(t, (101.02-101)*990, s.Profit(), 1e-6)
}

func TestPartialTargetExitTurnsOnTrailing(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, _ := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101}) // qty 990, target 101*1.02 = 103.02
	s.Tick(types.Tick{Time: at(10, 0, 0), Token: 1, LTP: 103.10})
	require.Len(t, b.calls, 2)
	assert.Equal(t, orderCall{types.SideSell, 594}, b.calls[1]) // 60% booked
	assert.InDelta(t, (103.10-101)*594, s.Profit(), 1e-6)

	// The trailing stop now follows the day high at 0.75%: after a push to
	// 104 the remainder exits when price gives back past 104 - 0.78.
	s.Tick(types.Tick{Time: at(10, 5, 0), Token: 1, LTP: 104})
	assert.Len(t, b.calls, 2)
	s.Tick(types.Tick{Time: at(10, 10, 0), Token: 1, LTP: 103.10})
	require.Len(t, b.calls, 3)
	assert.Equal(t, orderCall{types.SideSell, 396}, b.calls[2])
	assert.InDelta(t, (103.10-101)*594+(103.10-101)*396, s.Profit(), 1e-6)
}

func TestNoEntryAfterCutoff(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, _ := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(15, 0, 0), Token: 1, LTP: 101}) // cutoff is 14:55
	assert.Empty(t, b.calls)
}

func TestEODExitFlattensAndRetires(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, gate := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101})
	s.Tick(types.Tick{Time: at(15, 10, 0), Token: 1, LTP: 100.50})

	require.Len(t, b.calls, 2)
	assert.Equal(t, orderCall{types.SideSell, 990}, b.calls[1])
	assert.True(t, s.NoMoreTrades())
	assert.Equal(t, 0, gate.OpenPositions())
	assert.InDelta(t, (100.50-101)*990, s.Profit(), 1e-6)
}

func TestMaxSlHitsRetiresSymbol(t *testing.T) {
	p := testParams()
	p.MaxSlHits = 1
	b := &fakeBroker{fill: 101}
	s, _ := newTestStrategy(t, b, p)
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101})
	s.Tick(types.Tick{Time: at(9, 35, 0), Token: 1, LTP: 99}) // stop hit, budget spent
	require.Len(t, b.calls, 2)

	s.Tick(types.Tick{Time: at(9, 40, 0), Token: 1, LTP: 105})
	assert.True(t, s.NoMoreTrades())
	assert.Len(t, b.calls, 2)
}

func TestDayCloseBooksNoProfit(t *testing.T) {
	b := &fakeBroker{fill: 101}
	s, _ := newTestStrategy(t, b, testParams())
	seedRange(s)

	s.Tick(types.Tick{Time: at(9, 30, 0), Token: 1, LTP: 101})
	before := s.Profit()

	s.DayClose()
	require.Len(t, b.calls, 2)
	assert.Equal(t, orderCall{types.SideSell, 990}, b.calls[1])
	assert.Equal(t, before, s.Profit())

	s.DayClose()
	assert.Len(t, b.calls, 2, "already flat, nothing to do")
}
