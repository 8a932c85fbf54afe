package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/coordinator"
	"github.com/hyperai/phoenix/go/orchestrator/internal/db"
	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
)

// ResultStore serves persisted directive outcomes. Optional; implemented by
// the database client.
type ResultStore interface {
	RecentResults(ctx context.Context, limit int) ([]db.DirectiveRecord, error)
}

// Server exposes the orchestrator over HTTP: directive submission, result
// retrieval, system status, and a websocket event stream.
type Server struct {
	coord   *coordinator.Coordinator
	events  *events.Manager
	results ResultStore
	logger  *zap.Logger

	// DefaultResultWait bounds how long GET /directives/{id}/result blocks.
	defaultResultWait time.Duration
}

// NewServer creates the API server.
func NewServer(coord *coordinator.Coordinator, ev *events.Manager, logger *zap.Logger) *Server {
	return &Server{
		coord:             coord,
		events:            ev,
		logger:            logger,
		defaultResultWait: 30 * time.Second,
	}
}

// SetResultStore enables the recent-results endpoint. Must be called before
// Register.
func (s *Server) SetResultStore(store ResultStore) {
	s.results = store
}

// Register attaches all API routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/directives", s.submitDirective)
	mux.HandleFunc("GET /api/v1/directives/{id}/result", s.getResult)
	mux.HandleFunc("GET /api/v1/messages", s.getMessage)
	mux.HandleFunc("GET /api/v1/status", s.getStatus)
	mux.HandleFunc("GET /api/v1/events/stream", s.streamEvents)
	mux.HandleFunc("GET /api/v1/events/recent", s.recentEvents)
	mux.HandleFunc("GET /api/v1/results/recent", s.recentResults)
}

type submitRequest struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Priority int    `json:"priority"`
}

type submitResponse struct {
	DirectiveID string `json:"directive_id"`
}

func (s *Server) submitDirective(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	id, err := s.coord.SubmitDirective(req.Content, req.Source, req.Priority)
	if err != nil {
		switch err {
		case coordinator.ErrEmptyDirective:
			writeError(w, http.StatusBadRequest, err.Error())
		case coordinator.ErrInboundFull:
			writeError(w, http.StatusTooManyRequests, err.Error())
		case coordinator.ErrShuttingDown:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{DirectiveID: id})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing directive id")
		return
	}

	wait := s.defaultResultWait
	if q := r.URL.Query().Get("timeout"); q != "" {
		if d, err := time.ParseDuration(q); err == nil && d > 0 && d < 5*time.Minute {
			wait = d
		}
	}

	res := s.coord.GetResult(id, wait)
	if res == nil {
		writeError(w, http.StatusNotFound, "no result within timeout")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	wait := 5 * time.Second
	if q := r.URL.Query().Get("timeout"); q != "" {
		if d, err := time.ParseDuration(q); err == nil && d > 0 && d < time.Minute {
			wait = d
		}
	}

	msg := s.coord.GetSystemMessage(wait)
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.events.History(r.Context(), limitParam(r, 100)))
}

func (s *Server) recentResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "result persistence not configured")
		return
	}
	recs, err := s.results.RecentResults(r.Context(), limitParam(r, 50))
	if err != nil {
		s.logger.Error("Recent results query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if recs == nil {
		recs = []db.DirectiveRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func limitParam(r *http.Request, def int) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
