package domain

import "context"

// OrderGateway places abstract orders with the broker. A failed Place
// must leave the caller free to retry on a later tick; the gateway owns
// idempotency and retry toward the venue itself.
type OrderGateway interface {
	Place(ctx context.Context, req *OrderRequest) (orderID string, err error)
}

// LadderRepository defines storage operations for ladders. Apply and
// Activate write a single row identified by ladder id; callers must hold
// the ladder's lock before applying a tick mutation.
type LadderRepository interface {
	GetOrCreate(ctx context.Context, clientID string, token int64) (*Ladder, error)
	Get(ctx context.Context, id string) (*Ladder, error)
	GetByClientInstrument(ctx context.Context, clientID string, token int64) (*Ladder, error)
	List(ctx context.Context) ([]*Ladder, error)
	ActiveByInstrument(ctx context.Context, token int64) ([]*Ladder, error)

	// Activate persists the seeded leg and flips is_active, failing with
	// ErrAlreadyActive when the row is already active.
	Activate(ctx context.Context, l *Ladder) error
	Apply(ctx context.Context, l *Ladder) error
}

// TradeRepository defines storage operations for the trade log.
type TradeRepository interface {
	SaveTrade(ctx context.Context, t *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
}

// InstrumentRepository defines storage operations for the instrument
// registry.
type InstrumentRepository interface {
	UpsertInstrument(ctx context.Context, ins *Instrument) error
	GetInstrument(ctx context.Context, token int64) (*Instrument, error)
	ListInstruments(ctx context.Context) ([]*Instrument, error)
}
