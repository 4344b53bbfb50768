package usecase_test

import (
	"testing"
	"time"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"github.com/vitos/intraday_ladder_bot/internal/usecase"
)

func newEngine(t *testing.T) *usecase.DecisionEngine {
	t.Helper()
	engine, err := usecase.NewDecisionEngine("15:15", "UTC")
	if err != nil {
		t.Fatalf("NewDecisionEngine: %v", err)
	}
	return engine
}

// buyLadder is an active BUY ladder at level 1 with entry 100 and fixed
// 10-lot sizing. TSL and increase are both 1%.
func buyLadder() domain.Ladder {
	return domain.Ladder{
		ID:              "lad-1",
		ClientID:        "client-1",
		InstrumentToken: 1001,
		Mode:            domain.ModeBuy,
		IsActive:        true,
		EntryPrice:      100,
		LastAddPrice:    100,
		ExtremePrice:    100,
		CurrentQty:      10,
		LevelCount:      1,
		IncreasePct:     1.0,
		TSLPct:          1.0,
		MaxLevels:       5,
		Sizing:          domain.EntrySizing{Type: domain.SizingQuantity, Quantity: 10},
	}
}

func sellLadder() domain.Ladder {
	l := buyLadder()
	l.Mode = domain.ModeSell
	return l
}

func tickAt(price float64) domain.PriceTick {
	return domain.PriceTick{InstrumentToken: 1001, LastPrice: price, ReceivedAt: time.Now()}
}

// Well before the 15:15 square-off.
var tradingHours = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestEvaluate_TrailingStopReverses(t *testing.T) {
	engine := newEngine(t)

	// BUY with extreme 100. 98.9 has given back 1.1% >= 1% TSL.
	l := buyLadder()
	dec := engine.Evaluate(l, tickAt(98.9), tradingHours)

	if dec.Action != usecase.ActionReverse {
		t.Fatalf("Action = %v, want REVERSE", dec.Action)
	}
	if dec.ExitTag != domain.TagTSLExit {
		t.Errorf("ExitTag = %v, want TSL_EXIT", dec.ExitTag)
	}
	if dec.CloseQty != 10 {
		t.Errorf("CloseQty = %d, want 10", dec.CloseQty)
	}
	if dec.OpenQty != 10 {
		t.Errorf("OpenQty = %d, want 10", dec.OpenQty)
	}

	after := dec.After
	if after.Mode != domain.ModeSell {
		t.Errorf("After.Mode = %v, want SELL", after.Mode)
	}
	if !after.IsActive {
		t.Error("After.IsActive = false, want true")
	}
	if after.EntryPrice != 98.9 || after.LastAddPrice != 98.9 || after.ExtremePrice != 98.9 {
		t.Errorf("After prices = %v/%v/%v, want all 98.9",
			after.EntryPrice, after.LastAddPrice, after.ExtremePrice)
	}
	if after.LevelCount != 1 {
		t.Errorf("After.LevelCount = %d, want 1", after.LevelCount)
	}
	if after.CurrentQty != 10 {
		t.Errorf("After.CurrentQty = %d, want 10", after.CurrentQty)
	}
}

func TestEvaluate_TrailingStopBelowThresholdHolds(t *testing.T) {
	engine := newEngine(t)

	// 99.01 is a 0.99% retracement, just under the 1% TSL.
	dec := engine.Evaluate(buyLadder(), tickAt(99.01), tradingHours)
	if dec.Action != usecase.ActionNone {
		t.Fatalf("Action = %v, want NONE", dec.Action)
	}

	// Exactly 1% triggers.
	dec = engine.Evaluate(buyLadder(), tickAt(99.0), tradingHours)
	if dec.Action != usecase.ActionReverse {
		t.Fatalf("Action = %v, want REVERSE at exact threshold", dec.Action)
	}
}

func TestEvaluate_PyramidAdd(t *testing.T) {
	engine := newEngine(t)

	// 101.2 is 1.2% above the last add price of 100.
	l := buyLadder()
	dec := engine.Evaluate(l, tickAt(101.2), tradingHours)

	if dec.Action != usecase.ActionPyramidAdd {
		t.Fatalf("Action = %v, want PYRAMID_ADD", dec.Action)
	}
	if dec.OpenQty != 10 {
		t.Errorf("OpenQty = %d, want 10", dec.OpenQty)
	}
	if !dec.ExtremeMoved {
		t.Error("ExtremeMoved = false, want true (101.2 > 100)")
	}

	after := dec.After
	if after.LevelCount != 2 {
		t.Errorf("After.LevelCount = %d, want 2", after.LevelCount)
	}
	if after.CurrentQty != 20 {
		t.Errorf("After.CurrentQty = %d, want 20", after.CurrentQty)
	}
	if after.LastAddPrice != 101.2 {
		t.Errorf("After.LastAddPrice = %v, want 101.2", after.LastAddPrice)
	}
	if after.ExtremePrice != 101.2 {
		t.Errorf("After.ExtremePrice = %v, want 101.2", after.ExtremePrice)
	}
	// Entry price never moves after the leg starts.
	if after.EntryPrice != 100 {
		t.Errorf("After.EntryPrice = %v, want 100", after.EntryPrice)
	}
}

func TestEvaluate_PyramidStopsAtMaxLevels(t *testing.T) {
	engine := newEngine(t)

	l := buyLadder()
	l.LevelCount = 5 // at the ceiling

	dec := engine.Evaluate(l, tickAt(101.2), tradingHours)
	if dec.Action != usecase.ActionNone {
		t.Fatalf("Action = %v, want NONE at max levels", dec.Action)
	}
	// The extreme still refreshes.
	if !dec.ExtremeMoved || dec.Refreshed.ExtremePrice != 101.2 {
		t.Errorf("extreme = %v moved=%v, want 101.2 moved", dec.Refreshed.ExtremePrice, dec.ExtremeMoved)
	}
}

func TestEvaluate_SellMirrors(t *testing.T) {
	engine := newEngine(t)

	// SELL pyramids on falls and reverses on rises.
	l := sellLadder()
	dec := engine.Evaluate(l, tickAt(98.8), tradingHours)
	if dec.Action != usecase.ActionPyramidAdd {
		t.Fatalf("Action = %v, want PYRAMID_ADD on 1.2%% fall", dec.Action)
	}
	if dec.Refreshed.ExtremePrice != 98.8 {
		t.Errorf("extreme = %v, want 98.8 (new floor)", dec.Refreshed.ExtremePrice)
	}

	dec = engine.Evaluate(l, tickAt(101.0), tradingHours)
	if dec.Action != usecase.ActionReverse {
		t.Fatalf("Action = %v, want REVERSE on 1%% rise", dec.Action)
	}
	if dec.After.Mode != domain.ModeBuy {
		t.Errorf("After.Mode = %v, want BUY", dec.After.Mode)
	}
}

func TestEvaluate_SellFirstTickSeedsFloor(t *testing.T) {
	engine := newEngine(t)

	// A SELL ladder with no recorded floor must not compare against 0,
	// which would read as a huge adverse move.
	l := sellLadder()
	l.ExtremePrice = 0

	dec := engine.Evaluate(l, tickAt(100), tradingHours)
	if dec.Action == usecase.ActionReverse {
		t.Fatal("reversed against a zero floor")
	}
	if !dec.ExtremeMoved || dec.Refreshed.ExtremePrice != 100 {
		t.Errorf("extreme = %v moved=%v, want first price to seed the floor", dec.Refreshed.ExtremePrice, dec.ExtremeMoved)
	}
}

func TestEvaluate_ExtremeOnlyMovesFavorably(t *testing.T) {
	engine := newEngine(t)

	l := buyLadder()
	dec := engine.Evaluate(l, tickAt(100.5), tradingHours)
	if !dec.ExtremeMoved || dec.Refreshed.ExtremePrice != 100.5 {
		t.Fatalf("extreme = %v moved=%v, want 100.5", dec.Refreshed.ExtremePrice, dec.ExtremeMoved)
	}

	// A pullback that stays inside the TSL leaves the extreme alone.
	l = dec.Refreshed
	dec = engine.Evaluate(l, tickAt(100.1), tradingHours)
	if dec.ExtremeMoved {
		t.Error("ExtremeMoved = true on a pullback")
	}
	if dec.Refreshed.ExtremePrice != 100.5 {
		t.Errorf("extreme = %v, want 100.5 retained", dec.Refreshed.ExtremePrice)
	}
}

func TestEvaluate_SquareOffBeatsEverything(t *testing.T) {
	engine := newEngine(t)
	afterClose := time.Date(2025, 1, 15, 15, 15, 0, 0, time.UTC)

	// 98.9 would also trip the TSL; the time exit must win.
	dec := engine.Evaluate(buyLadder(), tickAt(98.9), afterClose)
	if dec.Action != usecase.ActionTimeExit {
		t.Fatalf("Action = %v, want TIME_EXIT", dec.Action)
	}
	if dec.ExitTag != domain.TagTimeExit {
		t.Errorf("ExitTag = %v, want TIME_EXIT", dec.ExitTag)
	}
	if dec.CloseQty != 10 {
		t.Errorf("CloseQty = %d, want 10", dec.CloseQty)
	}
	after := dec.After
	if after.IsActive || after.Mode != domain.ModeStopped || after.CurrentQty != 0 {
		t.Errorf("After = %+v, want stopped and flat", after)
	}
}

func TestEvaluate_CircuitExitBeatsPyramid(t *testing.T) {
	engine := newEngine(t)

	// 110 is both 10% favorable and pinned at the upper band.
	l := buyLadder()
	tick := tickAt(110)
	tick.UpperCircuit = 110
	tick.LowerCircuit = 90

	dec := engine.Evaluate(l, tick, tradingHours)
	if dec.Action != usecase.ActionCircuitExit {
		t.Fatalf("Action = %v, want CIRCUIT_EXIT", dec.Action)
	}
	if dec.ExitTag != domain.TagUCExit {
		t.Errorf("ExitTag = %v, want UC_EXIT", dec.ExitTag)
	}

	// Mirror: SELL pinned at the lower band.
	s := sellLadder()
	tick = tickAt(90)
	tick.UpperCircuit = 110
	tick.LowerCircuit = 90

	dec = engine.Evaluate(s, tick, tradingHours)
	if dec.Action != usecase.ActionCircuitExit {
		t.Fatalf("Action = %v, want CIRCUIT_EXIT", dec.Action)
	}
	if dec.ExitTag != domain.TagLCExit {
		t.Errorf("ExitTag = %v, want LC_EXIT", dec.ExitTag)
	}
}

func TestEvaluate_NoCircuitBandsNoCircuitExit(t *testing.T) {
	engine := newEngine(t)

	// Feeds that omit bands send 0; that must never read as "pinned".
	l := sellLadder()
	tick := tickAt(98.8) // favorable for SELL

	dec := engine.Evaluate(l, tick, tradingHours)
	if dec.Action == usecase.ActionCircuitExit {
		t.Fatal("circuit exit fired with no band data")
	}
}

func TestEvaluate_InactiveLadderDoesNothing(t *testing.T) {
	engine := newEngine(t)

	l := buyLadder()
	l.IsActive = false

	dec := engine.Evaluate(l, tickAt(50), tradingHours)
	if dec.Action != usecase.ActionNone {
		t.Fatalf("Action = %v, want NONE for inactive ladder", dec.Action)
	}
}

func TestAfterSquareOff(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"one minute before", time.Date(2025, 1, 15, 15, 14, 59, 0, time.UTC), false},
		{"exactly at", time.Date(2025, 1, 15, 15, 15, 0, 0, time.UTC), true},
		{"after", time.Date(2025, 1, 15, 15, 40, 0, 0, time.UTC), true},
		{"morning", time.Date(2025, 1, 15, 9, 15, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := engine.AfterSquareOff(tt.now); got != tt.want {
			t.Errorf("%s: AfterSquareOff() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewDecisionEngine_Invalid(t *testing.T) {
	if _, err := usecase.NewDecisionEngine("25:99", "UTC"); err == nil {
		t.Error("expected error for bad time")
	}
	if _, err := usecase.NewDecisionEngine("15:15", "Not/AZone"); err == nil {
		t.Error("expected error for bad timezone")
	}
}

func TestQuantityAt(t *testing.T) {
	capital := domain.EntrySizing{Type: domain.SizingCapital, Capital: 10000}

	if got := capital.QuantityAt(98.9); got != 101 {
		t.Errorf("QuantityAt(98.9) = %d, want 101", got)
	}
	if got := capital.QuantityAt(9999); got != 1 {
		t.Errorf("QuantityAt(9999) = %d, want floor of 1", got)
	}
	// Price above the whole capital still buys one share.
	if got := capital.QuantityAt(25000); got != 1 {
		t.Errorf("QuantityAt(25000) = %d, want minimum 1", got)
	}

	fixed := domain.EntrySizing{Type: domain.SizingQuantity, Quantity: 7}
	if got := fixed.QuantityAt(123.45); got != 7 {
		t.Errorf("QuantityAt(123.45) = %d, want 7", got)
	}
}
