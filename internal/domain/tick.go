package domain

import "time"

// PriceTick is one normalized price update from the feed. Circuit limits
// are optional; 0 means the feed did not supply a band.
type PriceTick struct {
	InstrumentToken int64
	LastPrice       float64
	UpperCircuit    float64
	LowerCircuit    float64
	ReceivedAt      time.Time
}

func (t PriceTick) Valid() bool {
	return t.InstrumentToken > 0 && t.LastPrice > 0
}
