package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"github.com/vitos/intraday_ladder_bot/internal/usecase"
	"go.uber.org/zap"
)

// FeedStatus is the slice of the tick feed the status endpoint reads.
type FeedStatus interface {
	Connected() bool
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	ladderRepo domain.LadderRepository
	tradeRepo  domain.TradeRepository
	instRepo   domain.InstrumentRepository
	service    *usecase.LadderService
	feed       FeedStatus
	logger     *zap.Logger
	startedAt  time.Time
}

func NewServer(
	port int,
	ladderRepo domain.LadderRepository,
	tradeRepo domain.TradeRepository,
	instRepo domain.InstrumentRepository,
	service *usecase.LadderService,
	feed FeedStatus,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		ladderRepo: ladderRepo,
		tradeRepo:  tradeRepo,
		instRepo:   instRepo,
		service:    service,
		feed:       feed,
		logger:     logger,
		startedAt:  time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Ladders
	s.router.HandleFunc("POST /api/ladders/activate", s.handleActivateLadder)
	s.router.HandleFunc("POST /api/ladders/stop", s.handleStopLadder)
	s.router.HandleFunc("GET /api/ladders", s.handleListLadders)

	// Trades
	s.router.HandleFunc("GET /api/trades", s.handleListTrades)

	// Instruments
	s.router.HandleFunc("GET /api/instruments", s.handleListInstruments)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /healthz", s.handleHealthz)

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
