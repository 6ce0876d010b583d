package control

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/medialib/agent/internal/classify"
)

// lsEntry is one row of a GET /agent/ls directory listing.
type lsEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir"`
}

// Ls handles GET /agent/ls?path=<dir>, a read-only directory listing
// used by operators to sanity-check a root before trusting the scanner
// against it.
func (h *Handler) Ls(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		writeError(w, http.StatusBadRequest, "missing path query parameter")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules := h.fetcher.Get().ClassifyRules()

	out := make([]lsEntry, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		var size int64
		if ierr == nil {
			size = info.Size()
		}
		kind := "dir"
		if !e.IsDir() {
			result := classify.Classify(filepath.Join(dir, e.Name()), size, rules)
			kind = string(result.Kind)
		}
		out = append(out, lsEntry{Name: e.Name(), Kind: kind, Size: size, Dir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{"path": dir, "entries": out})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
