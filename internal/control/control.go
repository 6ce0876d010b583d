// Package control implements the agent-facing diagnostics HTTP surface
// on port 8877: liveness, stats, a directory listing, and the
// scan/cache admin actions. One Handler struct holds every
// collaborator; all handlers are non-blocking with respect to the scan
// pipeline except the admin actions, which coordinate through the
// orchestrator and store.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/medialib/agent/internal/agentstate"
	"github.com/medialib/agent/internal/config"
	"github.com/medialib/agent/internal/store"
)

// Orchestrator is the subset of *orchestrator.Orchestrator the control
// surface drives directly. Declared locally to avoid control importing
// orchestrator's full dependency graph.
type Orchestrator interface {
	ScanNow() agentstate.Phase
}

// UploadStats is the subset of *uploader.Uploader the /agent/stats
// handler reads.
type UploadStats interface {
	Stats() (uploaded, outboxed, errorCount int64)
	Batches() int64
}

// Handler serves the /agent/* endpoints.
type Handler struct {
	state   *agentstate.AgentState
	store   store.Store
	orch    Orchestrator
	uploads UploadStats
	fetcher *config.Fetcher
}

// NewHandler wires a Handler from its collaborators.
func NewHandler(state *agentstate.AgentState, st store.Store, orch Orchestrator, uploads UploadStats, fetcher *config.Fetcher) *Handler {
	return &Handler{state: state, store: st, orch: orch, uploads: uploads, fetcher: fetcher}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Ping handles GET /agent/ping.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
