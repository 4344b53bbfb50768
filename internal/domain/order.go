package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderTag labels why an order was sent. Tags travel to the broker and
// into the trade log, so post-session analysis can attribute every fill.
type OrderTag string

const (
	TagLadderStart  OrderTag = "LADDER_START"
	TagPyramidAdd   OrderTag = "PYRAMID_ADD"
	TagTSLExit      OrderTag = "TSL_EXIT"
	TagReverseEntry OrderTag = "REVERSE_ENTRY"
	TagTimeExit     OrderTag = "TIME_EXIT"
	TagUCExit       OrderTag = "UC_EXIT"
	TagLCExit       OrderTag = "LC_EXIT"
	TagManualStop   OrderTag = "MANUAL_STOP"
)

// OrderRequest is the abstract order the engine hands to a gateway.
type OrderRequest struct {
	ClientOrderID string
	Instrument    Instrument
	Side          Side
	Quantity      int64
	Tag           OrderTag
}

// Trade is one confirmed placement, appended to the trade log after the
// gateway returns an order id.
type Trade struct {
	ID              string    `json:"id"`
	LadderID        string    `json:"ladder_id"`
	ClientID        string    `json:"client_id"`
	InstrumentToken int64     `json:"instrument_token"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Quantity        int64     `json:"quantity"`
	Price           float64   `json:"price"`
	Tag             OrderTag  `json:"tag"`
	BrokerOrderID   string    `json:"broker_order_id"`
	PlacedAt        time.Time `json:"placed_at"`
}
