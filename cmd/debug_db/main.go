package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/storage"
)

func main() {
	dbPath := "ladder.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	ladders, err := store.List(ctx)
	if err != nil {
		fmt.Printf("Failed to list ladders: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d ladders:\n", len(ladders))
	for _, l := range ladders {
		state := "stopped"
		if l.IsActive {
			state = "ACTIVE"
		}
		fmt.Printf("- Ladder %s [%s]: client=%s token=%d mode=%s qty=%d level=%d/%d\n",
			l.ID, state, l.ClientID, l.InstrumentToken, l.Mode, l.CurrentQty, l.LevelCount, l.MaxLevels)
		fmt.Printf("  entry=%.2f last_add=%.2f extreme=%.2f increase=%.2f%% tsl=%.2f%%\n",
			l.EntryPrice, l.LastAddPrice, l.ExtremePrice, l.IncreasePct, l.TSLPct)
	}

	trades, err := store.ListTrades(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nLast %d trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s %s qty=%d @ %.2f tag=%s order=%s\n",
			t.PlacedAt.Format(time.RFC3339), t.ClientID, t.Symbol, t.Side, t.Quantity, t.Price, t.Tag, t.BrokerOrderID)
	}
}
