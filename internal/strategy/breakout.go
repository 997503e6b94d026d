// Package strategy implements the intraday opening-range breakout. Each
// symbol gets one Breakout instance; ticks drive entries and exits, the
// engine's bar-close hook seeds the breakout range once per day.
package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"breakout-bot/internal/bars"
	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/portfolio"
	"breakout-bot/internal/ticklog"
	"breakout-bot/internal/tradelog"
	"breakout-bot/internal/types"
)

type Position int

const (
	NoPosition Position = 0
	Long       Position = 1
	Short      Position = -1
)

// Exit reasons recorded in the trade log and metrics.
const (
	ReasonBreakout = "BREAKOUT"
	ReasonStopLoss = "STOP_LOSS"
	ReasonTarget   = "TARGET"
	ReasonEODExit  = "EOD_EXIT"
	ReasonDayClose = "DAY_CLOSE"
)

var ist = time.FixedZone("IST", 19800)

const sessionOpenMin = 9*60 + 15

// Breakout is the per-symbol state machine. All mutable state is guarded
// by mu: ticks arrive on the stream goroutine, bar closes on the engine
// loop.
type Breakout struct {
	symbol string
	broker interfaces.OrderPlacer
	gate   *portfolio.Manager
	params Params
	ticks  *ticklog.Logger
	ctx    context.Context

	mu sync.Mutex

	position     Position
	noMoreTrades bool
	orderedQty   int

	breakoutCalculated bool
	breakoutHigh       float64
	breakoutLow        float64
	dayHigh            float64
	dayLow             float64

	buyPrice  float64
	sellPrice float64
	entryTime time.Time

	ltp       float64
	tickOfDay int // seconds since midnight of the last tick

	stopLoss         float64
	slShifted        bool
	trailing         bool
	currentTargetPct float64

	profit      float64
	nrTrades    int
	slhitCount  int
	targetCount int
}

// New builds the state machine for one symbol. ctx is used for the broker
// calls made from tick handling.
func New(ctx context.Context, symbol string, broker interfaces.OrderPlacer, gate *portfolio.Manager, params Params) *Breakout {
	return &Breakout{
		symbol:       symbol,
		broker:       broker,
		gate:         gate,
		params:       params,
		ticks:        ticklog.New(symbol),
		ctx:          ctx,
		breakoutHigh: math.Inf(1),
		breakoutLow:  math.Inf(-1),
		dayHigh:      math.Inf(-1),
		dayLow:       math.Inf(1),
	}
}

var _ interfaces.TickListener = (*Breakout)(nil)

// OnBarClose seeds the breakout range once the range window has fully
// elapsed: the high/low of the 1-minute bars in [session open, range end),
// widened by the breakout margin on each side.
func (s *Breakout) OnBarClose(now time.Time, cs []types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMin := now.In(ist).Hour()*60 + now.In(ist).Minute()
	if nowMin < s.params.RangeEndMin || s.breakoutCalculated {
		return
	}

	window := bars.Window(cs, ist, sessionOpenMin, s.params.RangeEndMin)
	high, low, ok := bars.HighLow(window)
	if !ok {
		logger.Warn(s.ctx, "no bars in breakout range yet", "symbol", s.symbol)
		return
	}
	logger.Info(s.ctx, "breakout range", "symbol", s.symbol, "high", high, "low", low)

	s.breakoutHigh = high + high*s.params.BreakoutMarginPct/100
	s.breakoutLow = low - low*s.params.BreakoutMarginPct/100
	s.breakoutCalculated = true
	logger.Info(s.ctx, "breakout thresholds", "symbol", s.symbol,
		"high", s.breakoutHigh, "low", s.breakoutLow)
}

// Tick drives the state machine. Ordering mirrors the priority of
// concerns: terminal stop-hit count, range readiness, day extremes,
// trailing stop, then entry or exit.
func (s *Breakout) Tick(tick types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ticks.Record(tick.Time, tick.LTP); err != nil {
		logger.Debug(s.ctx, "tick log write failed", "symbol", s.symbol, "error", err)
	}
	t := tick.Time.In(ist)
	s.tickOfDay = t.Hour()*3600 + t.Minute()*60 + t.Second()
	ltp := tick.LTP
	s.ltp = ltp

	if s.slhitCount == s.params.MaxSlHits {
		if !s.noMoreTrades {
			logger.Risk(s.ctx, s.symbol, "max_stop_hits_reached", "count", s.slhitCount)
		}
		s.noMoreTrades = true
		return
	}
	if !s.breakoutCalculated {
		return
	}

	s.dayLow = math.Min(s.dayLow, ltp)
	s.dayHigh = math.Max(s.dayHigh, ltp)

	if s.trailing {
		switch s.position {
		case Long:
			s.stopLoss = s.dayHigh - s.dayHigh*s.params.TrailSlPct/100
		case Short:
			s.stopLoss = s.dayLow + s.dayLow*s.params.TrailSlPct/100
		}
	}

	targetsDone := s.targetCount == s.params.MaxTargets && s.profit > 0
	if s.position == NoPosition && s.tickOfDay < s.params.MaxEntryMin*60 &&
		!s.noMoreTrades && s.slhitCount < s.params.MaxSlHits && !targetsDone {
		s.checkToEnter(ltp)
	} else {
		s.checkToExit(ltp)
	}
}

func (s *Breakout) checkToEnter(ltp float64) {
	switch {
	case ltp > s.breakoutHigh:
		s.enter(ltp, types.SideBuy)
	case ltp < s.breakoutLow:
		s.enter(ltp, types.SideSell)
	}
}

func (s *Breakout) enter(ltp float64, side types.Side) {
	qty := int(s.params.CashToTrade / ltp)
	if qty <= 0 {
		return
	}

	var filled bool
	var price float64
	if side == types.SideBuy {
		filled, price = s.broker.Buy(s.ctx, s.symbol, qty)
	} else {
		filled, price = s.broker.Sell(s.ctx, s.symbol, qty)
	}
	if !filled {
		s.noMoreTrades = true
		logger.Info(s.ctx, "entry rejected, no more trades", "symbol", s.symbol)
		return
	}

	s.gate.Entered()
	s.orderedQty = qty
	s.nrTrades++
	s.entryTime = time.Now().In(ist)
	s.slShifted = false
	s.trailing = false
	s.currentTargetPct = s.params.Target1Pct

	var target float64
	if side == types.SideBuy {
		s.buyPrice = price
		s.position = Long
		s.stopLoss = ltp - ltp*s.params.StopLossPct/100
		target = price + price*s.currentTargetPct/100
	} else {
		s.sellPrice = price
		s.position = Short
		s.stopLoss = ltp + ltp*s.params.StopLossPct/100
		target = price - price*s.currentTargetPct/100
	}
	logger.Info(s.ctx, "entry triggered", "symbol", s.symbol, "side", side,
		"ltp", ltp, "qty", qty, "stop_loss", s.stopLoss, "target", target)
	s.appendTrade(side, qty, price, ReasonBreakout)
}

func (s *Breakout) checkToExit(ltp float64) {
	switch s.position {
	case Long:
		s.exitLong(ltp)
	case Short:
		s.exitShort(ltp)
	}
	if s.position != NoPosition {
		s.closeEODPosition(ltp)
	}
}

func (s *Breakout) exitLong(ltp float64) {
	pc := math.Abs((ltp - s.buyPrice) / math.Abs(s.buyPrice) * 100)
	if pc > s.params.SlShiftAfterPct && ltp > s.buyPrice && !s.slShifted {
		s.stopLoss = s.buyPrice + s.buyPrice*s.params.BreakevenPct/100
		s.slShifted = true
		logger.Info(s.ctx, "stop shifted to breakeven", "symbol", s.symbol, "stop_loss", s.stopLoss)
	}

	if ltp < s.stopLoss {
		filled, _ := s.broker.Sell(s.ctx, s.symbol, s.orderedQty)
		if !filled {
			return
		}
		curProfit := (ltp - s.buyPrice) * float64(s.orderedQty)
		s.profit += curProfit
		s.gate.Exited(curProfit, !s.slShifted)
		s.position = NoPosition
		if !s.slShifted {
			s.slhitCount++
			logger.Risk(s.ctx, s.symbol, "stop_loss_hit", "count", s.slhitCount, "profit", curProfit)
		}
		s.breakoutHigh += s.breakoutHigh * s.params.BreakoutWidenPct / 100
		metrics.ExitRecorded(ReasonStopLoss, "long")
		s.appendTrade(types.SideSell, s.orderedQty, ltp, ReasonStopLoss)
		logger.Info(s.ctx, "stop triggered", "symbol", s.symbol, "ltp", ltp,
			"breakout_high", s.breakoutHigh, "qty", s.orderedQty,
			"profit", curProfit, "total_mtm", s.profit)
	} else if ltp > s.buyPrice+s.buyPrice*s.currentTargetPct/100 {
		exitQty := s.orderedQty * s.params.PartialExitPct / 100
		filled, _ := s.broker.Sell(s.ctx, s.symbol, exitQty)
		if !filled {
			return
		}
		s.orderedQty -= exitQty
		curProfit := (ltp - s.buyPrice) * float64(exitQty)
		s.profit += curProfit
		s.gate.Exited(curProfit, false)
		s.targetCount++
		s.currentTargetPct = s.params.Target2Pct
		s.stopLoss = ltp - ltp*s.params.TrailSlPct/100
		s.trailing = true
		s.breakoutHigh = s.dayHigh
		metrics.ExitRecorded(ReasonTarget, "long")
		s.appendTrade(types.SideSell, exitQty, ltp, ReasonTarget)
		logger.Info(s.ctx, "target achieved", "symbol", s.symbol, "ltp", ltp,
			"exit_qty", exitQty, "profit", curProfit, "total_mtm", s.profit)
	}
}

func (s *Breakout) exitShort(ltp float64) {
	pc := math.Abs((ltp - s.sellPrice) / math.Abs(s.sellPrice) * 100)
	if pc > s.params.SlShiftAfterPct && ltp < s.sellPrice && !s.slShifted {
		s.stopLoss = s.sellPrice - s.sellPrice*s.params.BreakevenPct/100
		s.slShifted = true
		logger.Info(s.ctx, "stop shifted to breakeven", "symbol", s.symbol, "stop_loss", s.stopLoss)
	}

	if ltp > s.stopLoss {
		filled, _ := s.broker.Buy(s.ctx, s.symbol, s.orderedQty)
		if !filled {
			return
		}
		curProfit := (s.sellPrice - ltp) * float64(s.orderedQty)
		s.profit += curProfit
		s.gate.Exited(curProfit, !s.slShifted)
		s.position = NoPosition
		if !s.slShifted {
			s.slhitCount++
			logger.Risk(s.ctx, s.symbol, "stop_loss_hit", "count", s.slhitCount, "profit", curProfit)
		}
		s.breakoutLow -= s.breakoutLow * s.params.BreakoutWidenPct / 100
		metrics.ExitRecorded(ReasonStopLoss, "short")
		s.appendTrade(types.SideBuy, s.orderedQty, ltp, ReasonStopLoss)
		logger.Info(s.ctx, "stop triggered", "symbol", s.symbol, "ltp", ltp,
			"breakout_low", s.breakoutLow, "qty", s.orderedQty,
			"profit", curProfit, "total_mtm", s.profit)
	} else if ltp < s.sellPrice-s.sellPrice*s.currentTargetPct/100 {
		exitQty := s.orderedQty * s.params.PartialExitPct / 100
		filled, _ := s.broker.Buy(s.ctx, s.symbol, exitQty)
		if !filled {
			return
		}
		s.orderedQty -= exitQty
		curProfit := (s.sellPrice - ltp) * float64(exitQty)
		s.profit += curProfit
		s.gate.Exited(curProfit, false)
		s.targetCount++
		s.currentTargetPct = s.params.Target2Pct
		s.stopLoss = ltp + ltp*s.params.TrailSlPct/100
		s.trailing = true
		s.breakoutLow = s.dayLow
		metrics.ExitRecorded(ReasonTarget, "short")
		s.appendTrade(types.SideBuy, exitQty, ltp, ReasonTarget)
		logger.Info(s.ctx, "target achieved", "symbol", s.symbol, "ltp", ltp,
			"exit_qty", exitQty, "profit", curProfit, "total_mtm", s.profit)
	}
}

// closeEODPosition liquidates at or after the EOD exit time and retires
// the symbol for the day.
func (s *Breakout) closeEODPosition(ltp float64) {
	if s.tickOfDay < s.params.EODExitMin*60 {
		return
	}
	switch s.position {
	case Long:
		filled, _ := s.broker.Sell(s.ctx, s.symbol, s.orderedQty)
		if !filled {
			logger.Error(s.ctx, "end of day sell failed", "symbol", s.symbol)
			return
		}
		s.sellPrice = ltp
		curProfit := (ltp - s.buyPrice) * float64(s.orderedQty)
		s.profit += curProfit
		s.position = NoPosition
		s.noMoreTrades = true
		s.gate.Exited(curProfit, false)
		metrics.ExitRecorded(ReasonEODExit, "long")
		s.appendTrade(types.SideSell, s.orderedQty, ltp, ReasonEODExit)
		logger.Info(s.ctx, "end of day exit", "symbol", s.symbol, "ltp", ltp,
			"profit", curProfit, "total_mtm", s.profit)
	case Short:
		filled, _ := s.broker.Buy(s.ctx, s.symbol, s.orderedQty)
		if !filled {
			logger.Error(s.ctx, "end of day buy failed", "symbol", s.symbol)
			return
		}
		s.buyPrice = ltp
		curProfit := (s.sellPrice - ltp) * float64(s.orderedQty)
		s.profit += curProfit
		s.position = NoPosition
		s.noMoreTrades = true
		s.gate.Exited(curProfit, false)
		metrics.ExitRecorded(ReasonEODExit, "short")
		s.appendTrade(types.SideBuy, s.orderedQty, ltp, ReasonEODExit)
		logger.Info(s.ctx, "end of day exit", "symbol", s.symbol, "ltp", ltp,
			"profit", curProfit, "total_mtm", s.profit)
	}
}

// DayClose force-closes whatever is still open at process shutdown time.
// Unlike the EOD exit this books no P&L; it exists so no intraday position
// survives the process.
func (s *Breakout) DayClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.position {
	case Long:
		if filled, _ := s.broker.Sell(s.ctx, s.symbol, s.orderedQty); filled {
			s.sellPrice = s.ltp
			s.position = NoPosition
			s.appendTrade(types.SideSell, s.orderedQty, s.ltp, ReasonDayClose)
			logger.Info(s.ctx, "day close exit", "symbol", s.symbol, "ltp", s.ltp)
		}
	case Short:
		if filled, _ := s.broker.Buy(s.ctx, s.symbol, s.orderedQty); filled {
			s.buyPrice = s.ltp
			s.position = NoPosition
			s.appendTrade(types.SideBuy, s.orderedQty, s.ltp, ReasonDayClose)
			logger.Info(s.ctx, "day close exit", "symbol", s.symbol, "ltp", s.ltp)
		}
	}
	if err := s.ticks.Flush(); err != nil {
		logger.Debug(s.ctx, "tick log flush failed", "symbol", s.symbol, "error", err)
	}
}

func (s *Breakout) appendTrade(side types.Side, qty int, price float64, reason string) {
	err := tradelog.Append(tradelog.Entry{
		Symbol: s.symbol,
		Side:   string(side),
		Qty:    qty,
		Price:  price,
		Reason: reason,
	})
	if err != nil {
		logger.Warn(s.ctx, "trade log append failed", "symbol", s.symbol, "error", err)
	}
}

// Symbol returns the instrument this strategy trades.
func (s *Breakout) Symbol() string { return s.symbol }

// Profit returns the realized P&L so far today.
func (s *Breakout) Profit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profit
}

// NoMoreTrades reports whether the symbol is retired for the day.
func (s *Breakout) NoMoreTrades() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noMoreTrades
}
