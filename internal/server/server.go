// Package server exposes the lock engine over HTTP: gestures, status and the
// websocket render stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/ledger"
	"github.com/dokzlo13/lockd/internal/machine"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrUnknownLock is returned by Locks for an id that is not configured.
var ErrUnknownLock = errors.New("unknown lock")

// Locks is the engine surface the server drives.
type Locks interface {
	Interact(ctx context.Context, id string, hold bool) (gate.Decision, error)
	Status(ctx context.Context, id string) (machine.Status, error)
	List(ctx context.Context) ([]machine.Status, error)
}

// History reads a lock's ledger entries, newest first.
type History interface {
	GetByLock(lockID string, limit int) ([]*ledger.Entry, error)
}

// InteractionResponse is the body returned for tap and hold.
type InteractionResponse struct {
	Allowed bool        `json:"allowed"`
	Reason  gate.Reason `json:"reason,omitempty"`
	Action  string      `json:"action,omitempty"`
}

// Server is the lock API server.
type Server struct {
	addr       string
	locks      Locks
	stream     http.Handler
	history    History
	routes     []route
	httpServer *http.Server
}

// NewServer creates a server. stream serves GET /ws and may be nil.
func NewServer(host string, port int, locks Locks, stream http.Handler) *Server {
	s := &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		locks:  locks,
		stream: stream,
	}
	s.routes = []route{
		{http.MethodGet, "/locks", s.handleList},
		{http.MethodGet, "/locks/{id}", s.handleStatus},
		{http.MethodPost, "/locks/{id}/tap", s.handleInteraction(false)},
		{http.MethodPost, "/locks/{id}/hold", s.handleInteraction(true)},
		{http.MethodGet, "/locks/{id}/history", s.handleHistory},
	}
	return s
}

// WithHistory enables GET /locks/{id}/history.
func (s *Server) WithHistory(h History) *Server {
	s.history = h
	return s
}

// Handler returns the server's request handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.stream != nil {
		mux.Handle("/ws", s.stream)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		dispatch(s.routes, w, r)
	})
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting lock API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Lock API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	statuses, err := s.locks.List(r.Context())
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	status, err := s.locks.Status(r.Context(), params["id"])
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	id := params["id"]
	if _, err := s.locks.Status(r.Context(), id); err != nil {
		writeLockError(w, err)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.GetByLock(id, limit)
	if err != nil {
		writeLockError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleInteraction(hold bool) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id := params["id"]
		decision, err := s.locks.Interact(r.Context(), id, hold)
		if err != nil {
			writeLockError(w, err)
			return
		}

		log.Debug().
			Str("lock_id", id).
			Bool("hold", hold).
			Bool("allowed", decision.Allowed).
			Str("reason", string(decision.Reason)).
			Msg("Interaction received")

		resp := InteractionResponse{
			Allowed: decision.Allowed,
			Reason:  decision.Reason,
			Action:  string(decision.Action.Kind),
		}
		if !decision.Allowed {
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeLockError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownLock):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Lock API request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
