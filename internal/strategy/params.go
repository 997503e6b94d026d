package strategy

import (
	"time"

	"breakout-bot/internal/store"
)

// Params are the breakout strategy knobs. All percentages are in percent
// units, for example StopLossPct 0.95 means 0.95%.
type Params struct {
	CashToTrade float64

	BreakoutMarginPct float64
	StopLossPct       float64
	SlShiftAfterPct   float64
	BreakevenPct      float64
	Target1Pct        float64
	Target2Pct        float64
	TrailSlPct        float64
	BreakoutWidenPct  float64
	PartialExitPct    int
	MaxSlHits         int
	MaxTargets        int

	// Minutes since midnight IST.
	RangeEndMin int
	MaxEntryMin int
	EODExitMin  int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		BreakoutMarginPct: 0.65,
		StopLossPct:       0.95,
		SlShiftAfterPct:   0.8,
		BreakevenPct:      0.05,
		Target1Pct:        2.0,
		Target2Pct:        25,
		TrailSlPct:        0.75,
		BreakoutWidenPct:  0.35,
		PartialExitPct:    60,
		MaxSlHits:         3,
		MaxTargets:        15,
		RangeEndMin:       9*60 + 20,
		MaxEntryMin:       14*60 + 55,
		EODExitMin:        15*60 + 10,
	}
}

// ParamsFromConfig overlays configured values onto the defaults. Zero
// values keep the default.
func ParamsFromConfig(cfg *store.Config) Params {
	p := DefaultParams()
	s := cfg.Strategy
	p.CashToTrade = s.CashToTrade
	if s.BreakoutMarginPct != 0 {
		p.BreakoutMarginPct = s.BreakoutMarginPct
	}
	if s.StopLossPct != 0 {
		p.StopLossPct = s.StopLossPct
	}
	if s.SlShiftAfterPct != 0 {
		p.SlShiftAfterPct = s.SlShiftAfterPct
	}
	if s.Target1Pct != 0 {
		p.Target1Pct = s.Target1Pct
	}
	if s.Target2Pct != 0 {
		p.Target2Pct = s.Target2Pct
	}
	if s.TrailSlPct != 0 {
		p.TrailSlPct = s.TrailSlPct
	}
	if s.BreakoutWidenPct != 0 {
		p.BreakoutWidenPct = s.BreakoutWidenPct
	}
	if s.PartialExitPct != 0 {
		p.PartialExitPct = s.PartialExitPct
	}
	if s.MaxSlHits != 0 {
		p.MaxSlHits = s.MaxSlHits
	}
	if s.MaxTargets != 0 {
		p.MaxTargets = s.MaxTargets
	}
	if m, ok := parseClock(s.RangeEndTime); ok {
		p.RangeEndMin = m
	}
	if m, ok := parseClock(s.MaxEntryTime); ok {
		p.MaxEntryMin = m
	}
	if m, ok := parseClock(s.EODExitTime); ok {
		p.EODExitMin = m
	}
	return p
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
