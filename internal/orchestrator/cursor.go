package orchestrator

import (
	"sync"

	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/model"
	"github.com/medialib/agent/internal/store"
)

// cursorTracker persists last_path as the longest lexicographically
// contiguous prefix of dispatched paths that has fully completed, not
// merely the latest path to finish. Within a phase and root the cursor
// must only ever advance lexicographically, which a raw max-seen-so-far
// cursor violates once fan-out lets completion order run ahead of
// dispatch order (a small file finishes before a bigger one dispatched
// earlier). Persisting past a still in-flight file would lose it
// forever on a crash: it was never uploaded, only buffered in the
// uploader's channel, and the saved cursor would resume after it.
type cursorTracker struct {
	mu    sync.Mutex
	store store.Store
	root  string
	phase model.Phase

	order []string
	done  map[string]bool
	head  int
}

func newCursorTracker(st store.Store, root string, phase model.Phase) *cursorTracker {
	return &cursorTracker{store: st, root: root, phase: phase, done: make(map[string]bool)}
}

// dispatch records path as the next file handed off for processing.
// Callers must call it synchronously from the walk callback, in the
// same lexicographic order the scanner yields paths, before any
// goroutine for that path can call complete.
func (c *cursorTracker) dispatch(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, path)
}

// complete marks path finished — its record, if any, is already queued
// for upload — and advances the persisted cursor to the longest
// contiguous completed prefix of dispatched paths.
func (c *cursorTracker) complete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[path] = true

	advanced := ""
	for c.head < len(c.order) && c.done[c.order[c.head]] {
		advanced = c.order[c.head]
		delete(c.done, c.order[c.head])
		c.head++
	}
	if advanced == "" {
		return
	}
	if c.head > 0 {
		c.order = c.order[c.head:]
		c.head = 0
	}

	row := &model.CursorRow{Root: c.root, Phase: c.phase, LastPath: advanced}
	if err := c.store.SaveCursor(row); err != nil {
		logger.Error("orchestrator: cursor save failed", "root", c.root, "phase", c.phase, "path", advanced, "error", err)
	}
}
