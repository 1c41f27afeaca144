// ============================================================================
// lapboard Server - HTTP control API and gRPC health
// ============================================================================
//
// Package: internal/server
// File: server.go
// Function: Exposes the scheduler and the latest leaderboard over HTTP
//
// Routes (gorilla/mux):
//   GET  /api/leaderboard      latest board, last error, loading flag
//   GET  /api/status           running, generation, input
//   PUT  /api/input            replace the refresh input (JSON Input)
//   POST /api/refresh/start    start periodic refresh
//   POST /api/refresh/stop     stop periodic refresh
//   POST /api/refresh          run one cycle now
//   GET  /healthz              liveness
//   GET  /metrics              Prometheus
//
// Status codes:
//   400 invalid input, 409 cycle already in flight, 503 scheduler closed
//
// ============================================================================

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/health"

	"github.com/ChuLiYu/lapboard/internal/metrics"
	"github.com/ChuLiYu/lapboard/internal/scheduler"
	"github.com/ChuLiYu/lapboard/internal/sink"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Controls is the part of the scheduler the API drives.
type Controls interface {
	Start() error
	Stop()
	RefreshNow() error
	SetInput(in types.Input)
	Input() types.Input
	Running() bool
	Generation() uint64
}

// BoardReader exposes the latest cycle outcome.
type BoardReader interface {
	Snapshot() sink.BoardState
}

// Status is the body of /api/status.
type Status struct {
	Running    bool        `json:"running"`
	State      string      `json:"state"`
	Generation uint64      `json:"generation"`
	Input      types.Input `json:"input"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server serves the control API.
type Server struct {
	ctl    Controls
	board  BoardReader
	health *health.Server
	router *mux.Router
	log    *slog.Logger
}

// New builds the router. logger may be nil.
func New(ctl Controls, board BoardReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctl:    ctl,
		board:  board,
		health: health.NewServer(),
		router: mux.NewRouter(),
		log:    logger,
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/input", s.handleInput).Methods(http.MethodPut)
	api.HandleFunc("/refresh/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/refresh/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.SyncHealth()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves HTTP on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var in types.Input
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed input: " + err.Error()})
		return
	}
	if _, err := in.Parse(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	s.ctl.SetInput(in)
	s.log.Info("refresh input updated",
		"event", in.EventID,
		"session", in.SessionID,
		"laps", in.Laps,
		"method", in.Method)
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctl.Start()
	s.SyncHealth()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop()
	s.SyncHealth()
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.RefreshNow(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) status() Status {
	running := s.ctl.Running()
	state := scheduler.Stopped
	if running {
		state = scheduler.Running
	}
	return Status{
		Running:    running,
		State:      state.String(),
		Generation: s.ctl.Generation(),
		Input:      s.ctl.Input(),
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, scheduler.ErrCycleInFlight):
		code = http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed):
		code = http.StatusServiceUnavailable
	default:
		s.log.Error("control request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
