package main

import (
	"context"
	"fmt"
	"log"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/storage"
)

// Seeds a test instrument into the local database and prints the curl to
// activate a ladder on it against a running bot.

func main() {
	store, err := storage.NewSQLiteStore("ladder.db")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	ins := &domain.Instrument{
		Token:    738561,
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Segment:  "EQ",
	}
	if err := store.UpsertInstrument(ctx, ins); err != nil {
		log.Fatalf("Failed to save instrument: %v", err)
	}

	lad, err := store.GetOrCreate(ctx, "test", ins.Token)
	if err != nil {
		log.Fatalf("Failed to create placeholder ladder: %v", err)
	}

	fmt.Printf("✅ Instrument seeded: %s (token %d)\n", ins.Symbol, ins.Token)
	fmt.Printf("✅ Ladder %s ready for client %q (stopped)\n\n", lad.ID, lad.ClientID)
	fmt.Println("Activate a ladder on it:")
	fmt.Printf(`curl -X POST http://localhost:8080/api/ladders/activate \
  -H 'Content-Type: application/json' \
  -d '{"client_id":"test","instrument_token":%d,"mode":"BUY","increase_pct":1.0,"tsl_pct":1.0,"max_levels":5,"sizing_type":"CAPITAL","capital":10000}'
`, ins.Token)
	fmt.Println("\nStop it:")
	fmt.Printf(`curl -X POST http://localhost:8080/api/ladders/stop \
  -H 'Content-Type: application/json' \
  -d '{"client_id":"test","instrument_token":%d}'
`, ins.Token)
}
