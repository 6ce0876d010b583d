package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/medialib/agent/internal/logger"
)

// debounceWindow coalesces the burst of write/rename events a single
// save can produce (temp-file write followed by rename into place).
const debounceWindow = 500 * time.Millisecond

// Holder gives the rest of the agent atomic, lock-free access to the
// current Local config and reloads it from disk on change: watch the
// directory (so atomic temp+rename writes are seen), debounce, reload,
// swap.
type Holder struct {
	path      string
	current   atomic.Pointer[Local]
	watcher   *fsnotify.Watcher
	listeners []chan<- *Local
}

// NewHolder wraps an already-loaded Local config.
func NewHolder(path string, initial *Local) *Holder {
	h := &Holder{path: path}
	h.current.Store(initial)
	return h
}

// Get returns the current config. Safe for concurrent use.
func (h *Holder) Get() *Local {
	return h.current.Load()
}

// RegisterListener registers a channel notified with the new config on
// every successful reload. Sends are non-blocking; a full channel is
// skipped and logged rather than stalling the watch loop.
func (h *Holder) RegisterListener(ch chan<- *Local) {
	h.listeners = append(h.listeners, ch)
}

// Reload re-reads the config file and swaps it in. On error the
// previous config is kept.
func (h *Holder) Reload() error {
	next, err := LoadLocal(h.path)
	if err != nil {
		return fmt.Errorf("reload local config: %w", err)
	}
	h.current.Store(next)
	for _, ch := range h.listeners {
		select {
		case ch <- next:
		default:
			logger.Warn("config: reload listener channel full, skipping notify")
		}
	}
	return nil
}

// Watch starts watching the config file's directory for changes and
// reloads on Write/Create/Rename, debounced. It blocks until ctx is
// done, so call it in its own goroutine.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	h.watcher = watcher
	defer watcher.Close()

	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				if err := h.Reload(); err != nil {
					logger.Error("config: hot-reload failed", "error", err)
				} else {
					logger.Info("config: reloaded from disk")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "error", err)
		}
	}
}
