// Package api serves the operator HTTP API: read-only status views, synchronous
// candidate submission and the risk overrides.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/engine"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/risk"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	Status() engine.Status
	Risk() domain.RiskState
	Positions() []position.View
	Position(id string) (position.View, bool)
	Evaluate(ctx context.Context, c *domain.TokenCandidate, aux domain.AuxSignals) (domain.Decision, error)
	Resume(ctx context.Context) (domain.RiskState, error)
	ClosePosition(ctx context.Context, id string) error
	CloseAll(ctx context.Context) error
}

var _ Engine = (*engine.Engine)(nil)

// Server holds the API dependencies.
type Server struct {
	engine Engine
	jwt    *JWTManager
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a server.
func New(e Engine, jwt *JWTManager, log zerolog.Logger) *Server {
	return &Server{
		engine: e,
		jwt:    jwt,
		log:    log.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// Handler returns the routed handler. Mutating routes require a bearer token.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/risk", s.handleRisk)
		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{id}", s.handlePosition)

		r.Group(func(r chi.Router) {
			r.Use(RequireJWT(s.jwt))
			r.Post("/candidates", s.handleCandidate)
			r.Post("/risk/resume", s.handleResume)
			r.Post("/positions/close-all", s.handleCloseAll)
			r.Post("/positions/{id}/close", s.handleClose)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatus(s.engine.Status(), s.now()))
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toRisk(s.engine.Risk()))
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	views := s.engine.Positions()
	out := make([]positionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toPosition(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	v, ok := s.engine.Position(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, toPosition(v))
}

func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	c, aux := req.candidate(s.now().UnixMilli())
	d, err := s.engine.Evaluate(r.Context(), c, aux)
	if err != nil {
		s.log.Error().Err(err).Str("token", c.Address).Msg("candidate evaluation failed")
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrEntryFailed) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDecision(d))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Resume(r.Context())
	if errors.Is(err, risk.ErrDailyLossLocked) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Warn().Str("operator", operatorFrom(r.Context())).Msg("resume requested")
	writeJSON(w, http.StatusOK, toRisk(st))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.engine.ClosePosition(r.Context(), id)
	if errors.Is(err, position.ErrUnknownPosition) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.log.Warn().Str("operator", operatorFrom(r.Context())).Str("position_id", id).Msg("manual close")

	v, ok := s.engine.Position(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(domain.StateClosed)})
		return
	}
	writeJSON(w, http.StatusOK, toPosition(v))
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	before := len(s.engine.Positions())
	if err := s.engine.CloseAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.log.Warn().Str("operator", operatorFrom(r.Context())).Int("positions", before).Msg("emergency close")
	writeJSON(w, http.StatusOK, map[string]int{"requested": before, "remaining": len(s.engine.Positions())})
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}
