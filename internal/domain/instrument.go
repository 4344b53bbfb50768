package domain

// Instrument resolves a feed token to the venue details the order
// gateway needs. The master list is maintained externally; this registry
// holds only the instruments the engine trades.
type Instrument struct {
	Token    int64  `json:"token"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"` // "NSE" or "BSE"
	Segment  string `json:"segment"`  // "EQ", "FUT", "OPT"
}
