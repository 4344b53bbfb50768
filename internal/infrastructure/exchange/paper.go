package exchange

import (
	"context"
	"log"
	"sync"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

// PaperGateway accepts every order without routing it anywhere. It is
// the default gateway so a fresh checkout can never reach a real broker.
type PaperGateway struct {
	mu     sync.Mutex
	placed int64
}

func NewPaperGateway() *PaperGateway {
	return &PaperGateway{}
}

// PlacedCount returns how many orders this gateway has accepted.
func (p *PaperGateway) PlacedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placed
}

func (p *PaperGateway) Place(ctx context.Context, req *domain.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.placed++
	n := p.placed
	p.mu.Unlock()
	log.Printf("PAPER order #%d: %s %d x %s (%s) tag=%s",
		n, req.Side, req.Quantity, req.Instrument.Symbol, req.Instrument.Exchange, req.Tag)
	// The client order id doubles as the fill id on paper.
	return req.ClientOrderID, nil
}
