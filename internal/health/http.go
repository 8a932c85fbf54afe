package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves health endpoints for probes and dashboards.
type Handler struct {
	manager *Manager
}

// NewHandler wraps the manager for HTTP exposure.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Register attaches /health, /health/live and /health/ready to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.detailed)
	mux.HandleFunc("/health/live", h.live)
	mux.HandleFunc("/health/ready", h.ready)
}

func (h *Handler) detailed(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !overall.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(overall)
}

// live reports process liveness only; a stuck loop is a readiness concern.
func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.Check(r.Context())
	if !overall.Ready {
		http.Error(w, overall.Status.String(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
