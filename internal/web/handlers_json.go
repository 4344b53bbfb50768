package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"github.com/vitos/intraday_ladder_bot/internal/usecase"
	"go.uber.org/zap"
)

func (s *Server) handleActivateLadder(w http.ResponseWriter, r *http.Request) {
	type ActivateLadderRequest struct {
		ClientID        string  `json:"client_id"`
		InstrumentToken int64   `json:"instrument_token"`
		Mode            string  `json:"mode"`
		IncreasePct     float64 `json:"increase_pct"`
		TSLPct          float64 `json:"tsl_pct"`
		MaxLevels       int     `json:"max_levels"`
		SizingType      string  `json:"sizing_type"`
		Quantity        int64   `json:"quantity"`
		Capital         float64 `json:"capital"`
	}

	var req ActivateLadderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Validate required fields
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	if req.InstrumentToken <= 0 {
		http.Error(w, "instrument_token must be greater than 0", http.StatusBadRequest)
		return
	}
	mode := domain.Mode(req.Mode)
	if mode != domain.ModeBuy && mode != domain.ModeSell {
		http.Error(w, "mode must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if domain.SizingType(req.SizingType) == domain.SizingQuantity && req.Quantity <= 0 {
		http.Error(w, "quantity must be greater than 0 for QUANTITY sizing", http.StatusBadRequest)
		return
	}

	lad, err := s.service.Activate(r.Context(), usecase.ActivateRequest{
		ClientID:        req.ClientID,
		InstrumentToken: req.InstrumentToken,
		Mode:            mode,
		Sizing: domain.EntrySizing{
			Type:     domain.SizingType(req.SizingType),
			Quantity: req.Quantity,
			Capital:  req.Capital,
		},
		IncreasePct: req.IncreasePct,
		TSLPct:      req.TSLPct,
		MaxLevels:   req.MaxLevels,
	})
	if err != nil {
		s.writeServiceError(w, "Failed to activate ladder", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(lad)
}

func (s *Server) handleStopLadder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID        string `json:"client_id"`
		InstrumentToken int64  `json:"instrument_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	if req.InstrumentToken <= 0 {
		http.Error(w, "instrument_token must be greater than 0", http.StatusBadRequest)
		return
	}

	lad, err := s.service.Stop(r.Context(), req.ClientID, req.InstrumentToken)
	if err != nil {
		s.writeServiceError(w, "Failed to stop ladder", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lad)
}

func (s *Server) handleListLadders(w http.ResponseWriter, r *http.Request) {
	ladders, err := s.ladderRepo.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list ladders", zap.Error(err))
		http.Error(w, "Failed to list ladders", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ladders); err != nil {
		s.logger.Error("Failed to encode ladders", zap.Error(err))
	}
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.tradeRepo.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		s.logger.Error("Failed to encode trades", zap.Error(err))
	}
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.instRepo.ListInstruments(r.Context())
	if err != nil {
		s.logger.Error("Failed to list instruments", zap.Error(err))
		http.Error(w, "Failed to list instruments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(instruments); err != nil {
		s.logger.Error("Failed to encode instruments", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ladders, err := s.ladderRepo.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to read status", zap.Error(err))
		http.Error(w, "Failed to read status", http.StatusInternalServerError)
		return
	}
	active := 0
	for _, l := range ladders {
		if l.IsActive {
			active++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"feed_connected": s.feed.Connected(),
		"active_ladders": active,
		"uptime_sec":     int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeServiceError maps the service sentinels onto HTTP statuses.
// Anything unexpected is logged and reported as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyActive), errors.Is(err, domain.ErrLadderBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrLadderNotFound), errors.Is(err, domain.ErrInstrumentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNotActive), errors.Is(err, domain.ErrNoPrice):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrOrderRejected):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error(msg, zap.Error(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
