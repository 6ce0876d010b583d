package control

import (
	"net/http"

	"github.com/dustin/go-humanize"
)

// statsResponse answers GET /agent/stats:
// {active, uploaded, batches, errors, rate_files_per_s, totals, phase, counters}.
type statsResponse struct {
	Active        int64            `json:"active"`
	Uploaded      int64            `json:"uploaded"`
	Batches       int64            `json:"batches"`
	Errors        int64            `json:"errors"`
	RateFilesPerS float64          `json:"rate_files_per_s"`
	Phase         string           `json:"phase"`
	Totals        map[string]int64 `json:"totals"`
	Counters      map[string]int64 `json:"counters"`
}

// Stats handles GET /agent/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	uploaded, outboxed, errs := h.uploads.Stats()
	filesSeen := h.state.FilesSeen()

	resp := statsResponse{
		Active:        h.state.Active(),
		Uploaded:      uploaded,
		Batches:       h.uploads.Batches(),
		Errors:        h.state.Errors() + errs,
		RateFilesPerS: h.state.RateFilesPerSecond(),
		Phase:         string(h.state.Phase()),
		Totals: map[string]int64{
			"files_seen": filesSeen,
			"uploaded":   uploaded,
			"outboxed":   outboxed,
		},
		Counters: map[string]int64{
			"active_tasks":  h.state.Active(),
			"errors":        h.state.Errors(),
			"upload_errors": errs,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// CacheInfo handles GET /agent/cache_info.
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.CacheInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"db_path":    info.DBPath,
		"exists":     info.Exists,
		"size_bytes": info.SizeBytes,
		"human_size": humanize.Bytes(uint64(info.SizeBytes)),
		"rows":       info.Rows,
		"last":       nil,
		"ts":         nowRFC3339(),
	})
}

// ClearCache handles POST /agent/clear_cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearCache(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "cleared": true})
}

// CompactCache handles POST /agent/compact_cache.
func (h *Handler) CompactCache(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CompactCache(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// ScanNow handles POST /agent/scan_now.
func (h *Handler) ScanNow(w http.ResponseWriter, r *http.Request) {
	phase := h.orch.ScanNow()
	writeJSON(w, http.StatusOK, map[string]string{"phase": string(phase)})
}
