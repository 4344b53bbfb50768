package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"go.uber.org/zap"
)

// LadderServiceConfig tunes the orchestration around the decision engine.
// Zero values fall back to the defaults applied in NewLadderService.
type LadderServiceConfig struct {
	LockTTL       time.Duration // per-ladder processing lock
	SweepEvery    time.Duration // square-off sweeper interval
	PriceMaxAge   time.Duration // how old a cached price may be for activation
	PriceRetries  int           // bounded wait for a first price at activation
	PriceBackoff  time.Duration // initial backoff between those retries
	StopRetries   int           // bounded lock wait for Stop
	StopBackoff   time.Duration
	IncreasePct   float64 // defaults for activation requests that omit them
	TSLPct        float64
	MaxLevels     int
	Capital       float64
}

// ActivateRequest carries everything needed to start a ladder.
type ActivateRequest struct {
	ClientID        string
	InstrumentToken int64
	Mode            domain.Mode
	Sizing          domain.EntrySizing
	IncreasePct     float64
	TSLPct          float64
	MaxLevels       int
}

// LadderService orchestrates ticks through locks, the decision engine,
// the order gateway and the store. State tied to an order is committed
// only after the gateway confirms; the extreme-price refresh is the one
// mutation that persists regardless.
type LadderService struct {
	ladderRepo domain.LadderRepository
	tradeRepo  domain.TradeRepository
	instRepo   domain.InstrumentRepository
	gateway    domain.OrderGateway
	engine     *DecisionEngine
	locks      *LockManager
	cfg        LadderServiceConfig
	logger     *zap.Logger

	// Now is the service clock, replaceable in tests.
	Now func() time.Time

	mu         sync.RWMutex
	lastPrices map[int64]pricePoint // instrument token -> last seen price
}

type pricePoint struct {
	price float64
	at    time.Time
}

func NewLadderService(
	ladderRepo domain.LadderRepository,
	tradeRepo domain.TradeRepository,
	instRepo domain.InstrumentRepository,
	gateway domain.OrderGateway,
	engine *DecisionEngine,
	locks *LockManager,
	cfg LadderServiceConfig,
	logger *zap.Logger,
) *LadderService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Second
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 5 * time.Second
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 30 * time.Second
	}
	if cfg.PriceRetries <= 0 {
		cfg.PriceRetries = 5
	}
	if cfg.PriceBackoff <= 0 {
		cfg.PriceBackoff = 100 * time.Millisecond
	}
	if cfg.StopRetries <= 0 {
		cfg.StopRetries = 5
	}
	if cfg.StopBackoff <= 0 {
		cfg.StopBackoff = 50 * time.Millisecond
	}
	if cfg.IncreasePct <= 0 {
		cfg.IncreasePct = 1.0
	}
	if cfg.TSLPct <= 0 {
		cfg.TSLPct = 1.0
	}
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = 5
	}
	if cfg.Capital <= 0 {
		cfg.Capital = 10000
	}
	return &LadderService{
		ladderRepo: ladderRepo,
		tradeRepo:  tradeRepo,
		instRepo:   instRepo,
		gateway:    gateway,
		engine:     engine,
		locks:      locks,
		cfg:        cfg,
		logger:     logger,
		Now:        time.Now,
		lastPrices: make(map[int64]pricePoint),
	}
}

// LastPrice returns the most recent price seen for a token, if any.
func (s *LadderService) LastPrice(token int64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.lastPrices[token]
	return p.price, ok
}

// ProcessTick runs one lock-guarded decision pass for every active ladder
// bound to the tick's instrument. Per-ladder failures are logged and do
// not stop the remaining ladders; a store failure aborts this tick only.
func (s *LadderService) ProcessTick(ctx context.Context, tick domain.PriceTick) error {
	if !tick.Valid() {
		TicksDropped.WithLabelValues("invalid").Inc()
		s.logger.Debug("Dropping invalid tick",
			zap.Int64("token", tick.InstrumentToken),
			zap.Float64("ltp", tick.LastPrice))
		return nil
	}
	TicksTotal.Inc()

	at := tick.ReceivedAt
	if at.IsZero() {
		at = s.Now()
	}
	s.mu.Lock()
	s.lastPrices[tick.InstrumentToken] = pricePoint{price: tick.LastPrice, at: at}
	s.mu.Unlock()

	ladders, err := s.ladderRepo.ActiveByInstrument(ctx, tick.InstrumentToken)
	if err != nil {
		return fmt.Errorf("load active ladders for token %d: %w", tick.InstrumentToken, err)
	}
	for _, lad := range ladders {
		s.processLadder(ctx, lad.ID, tick)
	}
	return nil
}

func (s *LadderService) processLadder(ctx context.Context, ladderID string, tick domain.PriceTick) {
	if !s.locks.TryAcquire(ladderID, s.cfg.LockTTL) {
		LockSkips.Inc()
		s.logger.Debug("Skipping tick, pass already in flight", zap.String("ladder_id", ladderID))
		return
	}
	defer s.locks.Release(ladderID)

	// Re-read under the lock; the pre-lock listing may be stale.
	lad, err := s.ladderRepo.Get(ctx, ladderID)
	if err != nil {
		s.logger.Error("Ladder load failed", zap.String("ladder_id", ladderID), zap.Error(err))
		return
	}
	if !lad.IsActive {
		return
	}

	dec := s.engine.Evaluate(*lad, tick, s.Now())
	DecisionsTotal.WithLabelValues(string(dec.Action)).Inc()

	switch dec.Action {
	case ActionNone:
		if dec.ExtremeMoved {
			if err := s.ladderRepo.Apply(ctx, &dec.Refreshed); err != nil {
				s.logger.Error("Extreme refresh failed", zap.String("ladder_id", ladderID), zap.Error(err))
			}
		}
	case ActionTimeExit, ActionCircuitExit:
		s.closeOut(ctx, lad, dec, tick.LastPrice)
	case ActionReverse:
		s.reverse(ctx, lad, dec, tick.LastPrice)
	case ActionPyramidAdd:
		s.pyramid(ctx, lad, dec, tick.LastPrice)
	}
}

// closeOut flattens for a time or circuit exit. If the flatten order is
// rejected nothing is committed; the next tick hits the same exit check.
func (s *LadderService) closeOut(ctx context.Context, lad *domain.Ladder, dec Decision, ltp float64) {
	if dec.CloseQty > 0 {
		if _, ok := s.place(ctx, lad, lad.Mode.ExitSide(), dec.CloseQty, dec.ExitTag, ltp); !ok {
			return
		}
	}
	if err := s.ladderRepo.Apply(ctx, &dec.After); err != nil {
		s.logger.Error("Exit commit failed", zap.String("ladder_id", lad.ID), zap.Error(err))
		return
	}
	ActiveLadders.Dec()
	s.logger.Info("Ladder flattened",
		zap.String("ladder_id", lad.ID),
		zap.String("tag", string(dec.ExitTag)),
		zap.Float64("ltp", ltp))
}

// reverse closes the current leg and opens the opposite one. The close
// must confirm before anything is committed. If the close fills but the
// re-entry is rejected, the position is genuinely flat at the broker, so
// the ladder is committed STOPPED rather than pretending either leg exists.
func (s *LadderService) reverse(ctx context.Context, lad *domain.Ladder, dec Decision, ltp float64) {
	if dec.CloseQty > 0 {
		if _, ok := s.place(ctx, lad, lad.Mode.ExitSide(), dec.CloseQty, dec.ExitTag, ltp); !ok {
			return
		}
	}
	if _, ok := s.place(ctx, lad, dec.After.Mode.EntrySide(), dec.OpenQty, domain.TagReverseEntry, ltp); !ok {
		stopped := lad.Flattened()
		if err := s.ladderRepo.Apply(ctx, &stopped); err != nil {
			s.logger.Error("Stop commit after failed re-entry", zap.String("ladder_id", lad.ID), zap.Error(err))
			return
		}
		ActiveLadders.Dec()
		s.logger.Warn("Reversal re-entry rejected, ladder stopped",
			zap.String("ladder_id", lad.ID),
			zap.Float64("ltp", ltp))
		return
	}
	if err := s.ladderRepo.Apply(ctx, &dec.After); err != nil {
		s.logger.Error("Reversal commit failed", zap.String("ladder_id", lad.ID), zap.Error(err))
		return
	}
	s.logger.Info("Ladder reversed",
		zap.String("ladder_id", lad.ID),
		zap.String("mode", string(dec.After.Mode)),
		zap.Int64("qty", dec.After.CurrentQty),
		zap.Float64("ltp", ltp))
}

func (s *LadderService) pyramid(ctx context.Context, lad *domain.Ladder, dec Decision, ltp float64) {
	if dec.ExtremeMoved {
		if err := s.ladderRepo.Apply(ctx, &dec.Refreshed); err != nil {
			s.logger.Error("Extreme refresh failed", zap.String("ladder_id", lad.ID), zap.Error(err))
			return
		}
	}
	if _, ok := s.place(ctx, lad, lad.Mode.EntrySide(), dec.OpenQty, domain.TagPyramidAdd, ltp); !ok {
		return
	}
	if err := s.ladderRepo.Apply(ctx, &dec.After); err != nil {
		s.logger.Error("Pyramid commit failed", zap.String("ladder_id", lad.ID), zap.Error(err))
		return
	}
	s.logger.Info("Pyramid add",
		zap.String("ladder_id", lad.ID),
		zap.Int("level", dec.After.LevelCount),
		zap.Int64("qty", dec.After.CurrentQty),
		zap.Float64("ltp", ltp))
}

// place resolves the instrument, sends one order and records the trade.
// Returns ok=false on any failure; callers decide what that means for
// state. The ltp is recorded for the trade log only, market orders carry
// no price.
func (s *LadderService) place(ctx context.Context, lad *domain.Ladder, side domain.Side, qty int64, tag domain.OrderTag, ltp float64) (string, bool) {
	ins, err := s.instRepo.GetInstrument(ctx, lad.InstrumentToken)
	if err != nil {
		OrdersTotal.WithLabelValues(string(tag), "failed").Inc()
		s.logger.Error("Instrument lookup failed",
			zap.String("ladder_id", lad.ID),
			zap.Int64("token", lad.InstrumentToken),
			zap.Error(err))
		return "", false
	}

	req := &domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Instrument:    *ins,
		Side:          side,
		Quantity:      qty,
		Tag:           tag,
	}
	start := time.Now()
	orderID, err := s.gateway.Place(ctx, req)
	OrderPlaceSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		OrdersTotal.WithLabelValues(string(tag), "failed").Inc()
		s.logger.Error("Order placement failed",
			zap.String("ladder_id", lad.ID),
			zap.String("symbol", ins.Symbol),
			zap.String("side", string(side)),
			zap.Int64("qty", qty),
			zap.String("tag", string(tag)),
			zap.Error(err))
		return "", false
	}
	OrdersTotal.WithLabelValues(string(tag), "placed").Inc()

	trade := &domain.Trade{
		ID:              uuid.NewString(),
		LadderID:        lad.ID,
		ClientID:        lad.ClientID,
		InstrumentToken: lad.InstrumentToken,
		Symbol:          ins.Symbol,
		Side:            side,
		Quantity:        qty,
		Price:           ltp,
		Tag:             tag,
		BrokerOrderID:   orderID,
		PlacedAt:        s.Now(),
	}
	if err := s.tradeRepo.SaveTrade(ctx, trade); err != nil {
		s.logger.Error("Trade log write failed", zap.String("ladder_id", lad.ID), zap.Error(err))
	}

	s.logger.Info("Order placed",
		zap.String("ladder_id", lad.ID),
		zap.String("order_id", orderID),
		zap.String("symbol", ins.Symbol),
		zap.String("side", string(side)),
		zap.Int64("qty", qty),
		zap.String("tag", string(tag)))
	return orderID, true
}

// Activate starts a BUY or SELL leg for (client, instrument). The entry
// order is placed first; the activation is committed only after the
// gateway confirms, and the store rejects a concurrent double activation.
func (s *LadderService) Activate(ctx context.Context, req ActivateRequest) (*domain.Ladder, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if req.InstrumentToken <= 0 {
		return nil, fmt.Errorf("instrument_token is required")
	}
	if req.Mode != domain.ModeBuy && req.Mode != domain.ModeSell {
		return nil, fmt.Errorf("mode must be BUY or SELL, got %q", req.Mode)
	}
	s.applyDefaults(&req)

	if _, err := s.instRepo.GetInstrument(ctx, req.InstrumentToken); err != nil {
		return nil, err
	}

	ltp, err := s.waitForPrice(ctx, req.InstrumentToken)
	if err != nil {
		return nil, err
	}

	lad, err := s.ladderRepo.GetOrCreate(ctx, req.ClientID, req.InstrumentToken)
	if err != nil {
		return nil, fmt.Errorf("load ladder: %w", err)
	}

	if !s.locks.TryAcquire(lad.ID, s.cfg.LockTTL) {
		return nil, domain.ErrLadderBusy
	}
	defer s.locks.Release(lad.ID)

	fresh, err := s.ladderRepo.Get(ctx, lad.ID)
	if err != nil {
		return nil, fmt.Errorf("load ladder: %w", err)
	}
	if fresh.IsActive {
		return nil, domain.ErrAlreadyActive
	}

	fresh.Sizing = req.Sizing
	fresh.IncreasePct = req.IncreasePct
	fresh.TSLPct = req.TSLPct
	fresh.MaxLevels = req.MaxLevels
	qty := fresh.Sizing.QuantityAt(ltp)
	next := fresh.StartLeg(req.Mode, ltp, qty)

	if _, ok := s.place(ctx, fresh, req.Mode.EntrySide(), qty, domain.TagLadderStart, ltp); !ok {
		return nil, fmt.Errorf("%w: entry for ladder %s", domain.ErrOrderRejected, fresh.ID)
	}
	if err := s.ladderRepo.Activate(ctx, &next); err != nil {
		return nil, err
	}
	ActiveLadders.Inc()
	s.logger.Info("Ladder activated",
		zap.String("ladder_id", next.ID),
		zap.String("client_id", next.ClientID),
		zap.Int64("token", next.InstrumentToken),
		zap.String("mode", string(next.Mode)),
		zap.Int64("qty", qty),
		zap.Float64("entry", ltp))
	return &next, nil
}

func (s *LadderService) applyDefaults(req *ActivateRequest) {
	if req.IncreasePct <= 0 {
		req.IncreasePct = s.cfg.IncreasePct
	}
	if req.TSLPct <= 0 {
		req.TSLPct = s.cfg.TSLPct
	}
	if req.MaxLevels <= 0 {
		req.MaxLevels = s.cfg.MaxLevels
	}
	if req.Sizing.Type == "" {
		req.Sizing.Type = domain.SizingCapital
	}
	if req.Sizing.Type == domain.SizingCapital && req.Sizing.Capital <= 0 {
		req.Sizing.Capital = s.cfg.Capital
	}
}

// waitForPrice waits for the feed to deliver a usable price for the
// token, retrying a bounded number of times with growing backoff.
func (s *LadderService) waitForPrice(ctx context.Context, token int64) (float64, error) {
	backoff := s.cfg.PriceBackoff
	for attempt := 0; attempt < s.cfg.PriceRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		s.mu.RLock()
		p, ok := s.lastPrices[token]
		s.mu.RUnlock()
		if ok && s.Now().Sub(p.at) <= s.cfg.PriceMaxAge {
			return p.price, nil
		}
	}
	return 0, domain.ErrNoPrice
}

// Stop is the administrative flatten: kill switch and operator override.
// It bypasses the decision engine's exit checks but not the lock.
func (s *LadderService) Stop(ctx context.Context, clientID string, token int64) (*domain.Ladder, error) {
	lad, err := s.ladderRepo.GetByClientInstrument(ctx, clientID, token)
	if err != nil {
		return nil, err
	}

	// Stops should win against a stream of tick passes, so retry the
	// lock a few times instead of failing on first contention.
	acquired := false
	backoff := s.cfg.StopBackoff
	for attempt := 0; attempt < s.cfg.StopRetries; attempt++ {
		if s.locks.TryAcquire(lad.ID, s.cfg.LockTTL) {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if !acquired {
		return nil, domain.ErrLadderBusy
	}
	defer s.locks.Release(lad.ID)

	fresh, err := s.ladderRepo.Get(ctx, lad.ID)
	if err != nil {
		return nil, fmt.Errorf("load ladder: %w", err)
	}
	if !fresh.IsActive {
		return nil, domain.ErrNotActive
	}
	return s.forceExit(ctx, fresh, domain.TagManualStop)
}

// forceExit flattens regardless of engine conditions. Caller holds the
// lock and has verified the ladder is active.
func (s *LadderService) forceExit(ctx context.Context, lad *domain.Ladder, tag domain.OrderTag) (*domain.Ladder, error) {
	ltp, _ := s.LastPrice(lad.InstrumentToken)
	if lad.CurrentQty > 0 {
		if _, ok := s.place(ctx, lad, lad.Mode.ExitSide(), lad.CurrentQty, tag, ltp); !ok {
			return nil, fmt.Errorf("%w: flatten for ladder %s", domain.ErrOrderRejected, lad.ID)
		}
	}
	stopped := lad.Flattened()
	if err := s.ladderRepo.Apply(ctx, &stopped); err != nil {
		return nil, fmt.Errorf("commit stop: %w", err)
	}
	ActiveLadders.Dec()
	s.logger.Info("Ladder stopped",
		zap.String("ladder_id", lad.ID),
		zap.String("tag", string(tag)))
	return &stopped, nil
}

// RunSquareOffSweeper flattens active ladders once wall clock passes the
// square-off time, so positions close even if their instruments stop
// ticking. Runs until ctx is cancelled.
func (s *LadderService) RunSquareOffSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.engine.AfterSquareOff(s.Now()) {
				continue
			}
			s.sweepOnce(ctx)
		}
	}
}

func (s *LadderService) sweepOnce(ctx context.Context) {
	ladders, err := s.ladderRepo.List(ctx)
	if err != nil {
		s.logger.Error("Sweep: list ladders", zap.Error(err))
		return
	}
	for _, lad := range ladders {
		if !lad.IsActive {
			continue
		}
		if !s.locks.TryAcquire(lad.ID, s.cfg.LockTTL) {
			continue // a tick pass has it; it will hit the time exit itself
		}
		fresh, err := s.ladderRepo.Get(ctx, lad.ID)
		if err == nil && fresh.IsActive {
			if _, err := s.forceExit(ctx, fresh, domain.TagTimeExit); err != nil {
				s.logger.Error("Sweep: flatten failed", zap.String("ladder_id", lad.ID), zap.Error(err))
			}
		}
		s.locks.Release(lad.ID)
	}
}
