package domain

import (
	"math"
	"time"
)

// Mode is the trading direction of a ladder. STOPPED means not trading.
type Mode string

const (
	ModeBuy     Mode = "BUY"
	ModeSell    Mode = "SELL"
	ModeStopped Mode = "STOPPED"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeBuy, ModeSell, ModeStopped:
		return true
	}
	return false
}

// EntrySide is the order side that grows a position in this mode.
func (m Mode) EntrySide() Side {
	if m == ModeSell {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that flattens a position in this mode.
func (m Mode) ExitSide() Side {
	if m == ModeSell {
		return SideBuy
	}
	return SideSell
}

func (m Mode) Opposite() Mode {
	switch m {
	case ModeBuy:
		return ModeSell
	case ModeSell:
		return ModeBuy
	}
	return ModeStopped
}

type SizingType string

const (
	SizingQuantity SizingType = "QUANTITY"
	SizingCapital  SizingType = "CAPITAL"
)

// EntrySizing controls how order quantities are derived for entries,
// pyramid adds and reversal re-entries.
type EntrySizing struct {
	Type     SizingType `json:"type"`
	Quantity int64      `json:"quantity,omitempty"`
	Capital  float64    `json:"capital,omitempty"`
}

// QuantityAt returns the order size at the given price, never below 1.
func (s EntrySizing) QuantityAt(price float64) int64 {
	var qty int64
	switch s.Type {
	case SizingQuantity:
		qty = s.Quantity
	case SizingCapital:
		if price > 0 {
			qty = int64(math.Floor(s.Capital / price))
		}
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}

// Ladder is a pyramiding/trailing-stop strategy instance for one
// (client, instrument) pair. One row per pair; the decision pass holding
// the ladder's lock is the only writer while it is active.
type Ladder struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"client_id"`
	InstrumentToken int64       `json:"instrument_token"`
	Mode            Mode        `json:"mode"`
	IsActive        bool        `json:"is_active"`
	EntryPrice      float64     `json:"entry_price"`
	LastAddPrice    float64     `json:"last_add_price"`
	ExtremePrice    float64     `json:"extreme_price"`
	CurrentQty      int64       `json:"current_qty"`
	LevelCount      int         `json:"level_count"`
	IncreasePct     float64     `json:"increase_pct"`
	TSLPct          float64     `json:"tsl_pct"`
	MaxLevels       int         `json:"max_levels"`
	Sizing          EntrySizing `json:"sizing"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// StartLeg returns a copy of l repositioned at the start of a fresh leg:
// entry, last-add and extreme prices seeded from ltp, level count 1.
// Used both for activation and for the re-entry half of a reversal.
func (l Ladder) StartLeg(mode Mode, ltp float64, qty int64) Ladder {
	l.Mode = mode
	l.IsActive = true
	l.EntryPrice = ltp
	l.LastAddPrice = ltp
	l.ExtremePrice = ltp
	l.CurrentQty = qty
	l.LevelCount = 1
	return l
}

// Flattened returns a copy of l with the position closed. Prices and
// level count keep their last values for inspection; only the live
// fields are cleared.
func (l Ladder) Flattened() Ladder {
	l.Mode = ModeStopped
	l.IsActive = false
	l.CurrentQty = 0
	return l
}
