package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/engine"
	"github.com/emily-flambe/get-money-get-paid/internal/execution"
)

// EngineState is the realtime engine surface behind the status server.
type EngineState interface {
	Status() engine.Status
	Positions() []execution.Position
	RecentFills(limit int) []execution.Fill
	EmergencyStop() bool
	SetEmergencyStop(stop bool)
}

const defaultFillsLimit = 50

// EngineServer serves the realtime engine status and the emergency stop.
type EngineServer struct {
	state      EngineState
	log        *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

func NewEngineServer(addr string, state EngineState, log *zap.Logger) *EngineServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &EngineServer{state: state, log: log.Named("status_api")}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(recoverJSON(s.log))
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/fills", s.handleFills)
		r.Get("/emergency-stop", s.handleGetEmergencyStop)
		r.Post("/emergency-stop", s.handleSetEmergencyStop)
		r.NotFound(notFoundJSON)
		r.MethodNotAllowed(notFoundJSON)
	})
	r.NotFound(notFoundJSON)

	s.router = r
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *EngineServer) Handler() http.Handler { return s.router }

func (s *EngineServer) Start(_ context.Context) error {
	return start(s.httpServer, s.log)
}

func (s *EngineServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *EngineServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.state.Status()
	status := "ok"
	if !st.Running || !st.StreamConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"running":          st.Running,
		"stream_connected": st.StreamConnected,
		"emergency_stop":   s.state.EmergencyStop(),
	})
}

func (s *EngineServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Status())
}

func (s *EngineServer) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.state.Positions()
	if positions == nil {
		positions = []execution.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *EngineServer) handleFills(w http.ResponseWriter, r *http.Request) {
	limit := defaultFillsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	fills := s.state.RecentFills(limit)
	if fills == nil {
		fills = []execution.Fill{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fills": fills})
}

func (s *EngineServer) handleGetEmergencyStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.state.EmergencyStop()})
}

// handleSetEmergencyStop activates the stop unless the body says
// {"active": false}.
func (s *EngineServer) handleSetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	s.state.SetEmergencyStop(active)
	s.log.Warn("emergency stop set via api", zap.Bool("active", active))
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.state.EmergencyStop()})
}
