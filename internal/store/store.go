// Package store persists the three durable tables the agent relies on
// across restarts: the Reuse Cache (per-path hash/probe state), the
// Outbox (batch payloads awaiting upload), and the Cursor Store
// (per-root-per-phase traversal resume points). One embedded SQLite
// database backs all three, with a single writer serialized behind a
// mutex.
package store

import "github.com/medialib/agent/internal/model"

// Store is the persistence interface the rest of the agent depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetCacheEntry looks up path's Reuse Cache row. ok is false if no
	// row exists yet.
	GetCacheEntry(path string) (entry *model.CacheEntry, ok bool, err error)

	// UpsertCacheEntry creates or replaces the row for entry.Path.
	UpsertCacheEntry(entry *model.CacheEntry) error

	// Touch records that path was observed again without altering its
	// probe/hash state — the Reuse Cache's touch(path, stat) operation,
	// called on every cache-hit so last_seen doesn't stay frozen at the
	// row's last hash/probe time.
	Touch(path string, st model.Stat) error

	// ClearCache deletes every Reuse Cache row. Used by the
	// /agent/clear_cache control endpoint.
	ClearCache() error

	// CacheInfo reports the on-disk state of the cache database.
	CacheInfo() (CacheInfo, error)

	// CompactCache runs VACUUM against the database file.
	CompactCache() error

	// EnqueueOutbox durably queues a batch payload that failed to
	// upload. CreatedAt and ID are assigned by the store.
	EnqueueOutbox(batchID string, payloadJSON []byte) error

	// NextOutboxItem returns the oldest queued item, or ok=false if the
	// outbox is empty.
	NextOutboxItem() (item *model.OutboxItem, ok bool, err error)

	// DeleteOutboxItem removes an item after a successful replay.
	DeleteOutboxItem(id int64) error

	// OutboxSize reports the number of items currently queued.
	OutboxSize() (int, error)

	// GetCursor returns the checkpoint for (root, phase), or ok=false if
	// no checkpoint has been saved yet (fresh root/phase pair).
	GetCursor(root string, phase model.Phase) (row *model.CursorRow, ok bool, err error)

	// SaveCursor upserts the checkpoint for (row.Root, row.Phase).
	SaveCursor(row *model.CursorRow) error

	// ClearCursor removes the checkpoint for (root, phase), signaling
	// that the phase completed and the next run starts from scratch.
	ClearCursor(root string, phase model.Phase) error

	// Close releases the underlying database handle.
	Close() error
}

// CacheInfo answers the /agent/cache_info control endpoint.
type CacheInfo struct {
	DBPath    string `json:"db_path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
	Rows      int    `json:"rows"`
}
