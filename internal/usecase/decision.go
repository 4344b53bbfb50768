package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

type Action string

const (
	ActionNone        Action = "NONE"
	ActionTimeExit    Action = "TIME_EXIT"
	ActionCircuitExit Action = "CIRCUIT_EXIT"
	ActionReverse     Action = "REVERSE"
	ActionPyramidAdd  Action = "PYRAMID_ADD"
)

// Decision is the outcome of evaluating one tick against one ladder.
//
// Refreshed carries only the extreme-price refresh and is always safe to
// persist, even when order placement fails. After is the full state once
// every order of the action has been confirmed; it must not be persisted
// before the gateway succeeds.
type Decision struct {
	Action       Action
	ExitTag      domain.OrderTag
	CloseQty     int64
	OpenQty      int64
	ExtremeMoved bool
	Refreshed    domain.Ladder
	After        domain.Ladder
}

// DecisionEngine is the pure transition logic of a ladder. It holds no
// mutable state; callers must hold the ladder's lock around Evaluate and
// the commit that follows it.
type DecisionEngine struct {
	squareOffMin int // minutes since midnight, engine timezone
	loc          *time.Location
}

// NewDecisionEngine parses squareOff as "HH:MM" wall-clock time in tz.
func NewDecisionEngine(squareOff, tz string) (*DecisionEngine, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	t, err := time.Parse("15:04", squareOff)
	if err != nil {
		return nil, fmt.Errorf("parse square-off time %q: %w", squareOff, err)
	}
	return &DecisionEngine{
		squareOffMin: t.Hour()*60 + t.Minute(),
		loc:          loc,
	}, nil
}

// AfterSquareOff reports whether now has crossed the square-off time.
func (e *DecisionEngine) AfterSquareOff(now time.Time) bool {
	local := now.In(e.loc)
	return local.Hour()*60+local.Minute() >= e.squareOffMin
}

// Evaluate runs the checks in fixed order: time exit, circuit exit,
// extreme refresh, trailing stop, pyramid add. The first check that fires
// wins; nothing after it is considered for this tick.
func (e *DecisionEngine) Evaluate(l domain.Ladder, tick domain.PriceTick, now time.Time) Decision {
	ltp := tick.LastPrice

	if !l.IsActive || l.Mode == domain.ModeStopped {
		return Decision{Action: ActionNone, Refreshed: l, After: l}
	}

	// 1. Square-off beats everything, including a TSL hit on the same tick.
	if e.AfterSquareOff(now) {
		return exitDecision(l, ActionTimeExit, domain.TagTimeExit)
	}

	// 2. Price pinned at a circuit band cannot move further our way.
	if l.Mode == domain.ModeBuy && tick.UpperCircuit > 0 && ltp >= tick.UpperCircuit {
		return exitDecision(l, ActionCircuitExit, domain.TagUCExit)
	}
	if l.Mode == domain.ModeSell && tick.LowerCircuit > 0 && ltp <= tick.LowerCircuit {
		return exitDecision(l, ActionCircuitExit, domain.TagLCExit)
	}

	// 3. Refresh the extreme toward the favorable direction. In SELL mode
	// an extreme of 0 means no floor has been recorded yet, so the first
	// real price becomes the floor instead of comparing against 0.
	refreshed := l
	moved := false
	switch l.Mode {
	case domain.ModeBuy:
		if ltp > refreshed.ExtremePrice {
			refreshed.ExtremePrice = ltp
			moved = true
		}
	case domain.ModeSell:
		if refreshed.ExtremePrice == 0 || ltp < refreshed.ExtremePrice {
			refreshed.ExtremePrice = ltp
			moved = true
		}
	}

	// 4. Trailing stop: retracement from the extreme flips the ladder.
	// E.g. BUY with extreme 100 and ltp 98.9 has given back 1.1%.
	if refreshed.ExtremePrice > 0 {
		var adversePct float64
		if l.Mode == domain.ModeBuy {
			adversePct = (refreshed.ExtremePrice - ltp) / refreshed.ExtremePrice * 100
		} else {
			adversePct = (ltp - refreshed.ExtremePrice) / refreshed.ExtremePrice * 100
		}
		if adversePct >= l.TSLPct {
			qty := l.Sizing.QuantityAt(ltp)
			return Decision{
				Action:       ActionReverse,
				ExitTag:      domain.TagTSLExit,
				CloseQty:     l.CurrentQty,
				OpenQty:      qty,
				ExtremeMoved: moved,
				Refreshed:    refreshed,
				After:        refreshed.StartLeg(l.Mode.Opposite(), ltp, qty),
			}
		}
	}

	// 5. Pyramid: add on a favorable move from the last add price, while
	// below the level ceiling.
	if refreshed.LastAddPrice > 0 && refreshed.LevelCount < refreshed.MaxLevels {
		var favorablePct float64
		if l.Mode == domain.ModeBuy {
			favorablePct = (ltp - refreshed.LastAddPrice) / refreshed.LastAddPrice * 100
		} else {
			favorablePct = (refreshed.LastAddPrice - ltp) / refreshed.LastAddPrice * 100
		}
		if favorablePct >= l.IncreasePct {
			qty := l.Sizing.QuantityAt(ltp)
			after := refreshed
			after.CurrentQty += qty
			after.LevelCount++
			after.LastAddPrice = ltp
			return Decision{
				Action:       ActionPyramidAdd,
				OpenQty:      qty,
				ExtremeMoved: moved,
				Refreshed:    refreshed,
				After:        after,
			}
		}
	}

	return Decision{Action: ActionNone, ExtremeMoved: moved, Refreshed: refreshed, After: refreshed}
}

func exitDecision(l domain.Ladder, action Action, tag domain.OrderTag) Decision {
	return Decision{
		Action:    action,
		ExitTag:   tag,
		CloseQty:  l.CurrentQty,
		Refreshed: l,
		After:     l.Flattened(),
	}
}
