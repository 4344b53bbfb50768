package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// mockfeed serves random-walk ticks over the feed protocol so the bot can
// run end to end without a market data vendor.

var (
	addr     = flag.String("addr", ":9001", "listen address")
	interval = flag.Duration("interval", 500*time.Millisecond, "tick interval per instrument")
	drift    = flag.Float64("drift", 0.004, "max relative price step per tick")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	flag.Parse()

	http.HandleFunc("/ticks", handleTicks)
	log.Printf("mockfeed: listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("mockfeed: %v", err)
	}
}

func handleTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mockfeed: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("mockfeed: client connected from %s", conn.RemoteAddr())

	var (
		mu     sync.Mutex
		tokens []int64
	)
	go func() {
		for {
			var msg struct {
				Action string  `json:"action"`
				Tokens []int64 `json:"tokens"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				conn.Close()
				return
			}
			if msg.Action == "subscribe" {
				mu.Lock()
				tokens = msg.Tokens
				mu.Unlock()
				log.Printf("mockfeed: subscribed %v", msg.Tokens)
			}
		}
	}()

	// Each instrument walks from a random opening price. Circuit bands
	// are fixed at ±10% of the open, as on NSE equities.
	prices := make(map[int64]float64)
	opens := make(map[int64]float64)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		mu.Lock()
		subscribed := append([]int64(nil), tokens...)
		mu.Unlock()

		for _, token := range subscribed {
			p, ok := prices[token]
			if !ok {
				p = 100 + rand.Float64()*900
				opens[token] = p
			}
			p *= 1 + (rand.Float64()-0.5)*2*(*drift)
			prices[token] = p

			open := opens[token]
			err := conn.WriteJSON(map[string]interface{}{
				"instrument_token":    token,
				"last_price":          round2(p),
				"upper_circuit_limit": round2(open * 1.10),
				"lower_circuit_limit": round2(open * 0.90),
			})
			if err != nil {
				log.Printf("mockfeed: client gone: %v", err)
				return
			}
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
