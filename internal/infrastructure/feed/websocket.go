package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// frame is the wire shape of one tick.
type frame struct {
	InstrumentToken int64   `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
	UpperCircuit    float64 `json:"upper_circuit_limit"`
	LowerCircuit    float64 `json:"lower_circuit_limit"`
}

type subscribeMsg struct {
	Action string  `json:"action"`
	Tokens []int64 `json:"tokens"`
}

type Config struct {
	URL          string
	InitialDelay time.Duration // reconnect backoff floor
	MaxDelay     time.Duration // reconnect backoff cap
}

// Client consumes the tick WebSocket and fans ticks out to callbacks.
// Callbacks run on the read loop goroutine; the per-ladder lock makes
// that safe against the sweeper and the control API.
type Client struct {
	cfg       Config
	connected atomic.Bool

	mu        sync.Mutex
	conn      *websocket.Conn
	tokens    []int64
	callbacks []func(domain.PriceTick)
}

func NewClient(cfg Config) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) OnTick(cb func(domain.PriceTick)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, cb)
	c.mu.Unlock()
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SetTokens replaces the subscription set. Takes effect immediately on a
// live connection and again after every reconnect.
func (c *Client) SetTokens(tokens []int64) error {
	c.mu.Lock()
	c.tokens = append([]int64(nil), tokens...)
	c.mu.Unlock()
	return c.subscribe()
}

// Run dials and consumes the feed until ctx is cancelled, reconnecting
// with capped exponential backoff. The backoff resets after a successful
// connect.
func (c *Client) Run(ctx context.Context) {
	delay := c.cfg.InitialDelay
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = c.cfg.InitialDelay
		}
		if err != nil {
			log.Printf("Feed: connection lost: %v", err)
		}
		log.Printf("Feed: reconnecting in %s", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}
}

func (c *Client) runOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.subscribe(); err != nil {
		return true, err
	}
	log.Printf("Feed: connected to %s", c.cfg.URL)

	// Unblock ReadMessage on shutdown by closing the socket.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		c.dispatch(message)
	}
}

// subscribe writes the current token set on the live connection. The
// mutex also serializes writers; gorilla allows only one at a time.
func (c *Client) subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || len(c.tokens) == 0 {
		return nil
	}
	return c.conn.WriteJSON(subscribeMsg{Action: "subscribe", Tokens: c.tokens})
}

func (c *Client) dispatch(message []byte) {
	tick, ok := parseTick(message)
	if !ok {
		return
	}
	c.mu.Lock()
	callbacks := c.callbacks
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb(tick)
	}
}

// parseTick decodes one frame. Non-tick frames (acks, malformed payloads,
// non-positive prices) report ok=false and are dropped by the caller.
func parseTick(data []byte) (domain.PriceTick, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.PriceTick{}, false
	}
	t := domain.PriceTick{
		InstrumentToken: f.InstrumentToken,
		LastPrice:       f.LastPrice,
		UpperCircuit:    f.UpperCircuit,
		LowerCircuit:    f.LowerCircuit,
		ReceivedAt:      time.Now(),
	}
	return t, t.Valid()
}
