package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/medialib/agent/internal/model"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS agent_index (
	path TEXT PRIMARY KEY,
	inode_key TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime REAL NOT NULL,
	ctime REAL NOT NULL,
	probed INTEGER NOT NULL DEFAULT 0,
	hashed INTEGER NOT NULL DEFAULT 0,
	hash_algo TEXT DEFAULT '',
	hash_sample_size INTEGER DEFAULT 0,
	sample_hash TEXT DEFAULT '',
	full_hash TEXT DEFAULT '',
	last_seen TEXT NOT NULL,
	last_hashed_at TEXT
);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	payload_json BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_progress (
	root TEXT NOT NULL,
	phase TEXT NOT NULL,
	last_path TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (root, phase)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outbox_id ON outbox(id);
`

// SQLiteStore implements Store on an embedded modernc.org/sqlite
// database in WAL mode. All writes serialize through mu.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	// lookups collapses concurrent GetCacheEntry calls for the same
	// path into a single DB round trip, so simultaneous callers share
	// one answer instead of each querying SQLite separately.
	lookups singleflight.Group
}

// Open creates or opens the SQLite-backed store at dbPath, creating its
// parent directory and schema as needed, and runs any pending
// migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// migrate brings a database forward to schemaVersion. A fresh database
// has no schema_version row and is stamped at the current version with
// no ALTERs to run. Future schema changes add `if version < N` blocks
// here.
func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		return err
	case err != nil:
		return err
	case version < schemaVersion:
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		return err
	default:
		return nil
	}
}

type cacheLookup struct {
	entry *model.CacheEntry
	found bool
}

func (s *SQLiteStore) GetCacheEntry(path string) (*model.CacheEntry, bool, error) {
	v, err, _ := s.lookups.Do(path, func() (interface{}, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		row := s.db.QueryRow(`
			SELECT path, inode_key, size, mtime, ctime, probed, hashed,
				hash_algo, hash_sample_size, sample_hash, full_hash, last_seen, last_hashed_at
			FROM agent_index WHERE path = ?
		`, path)

		entry, serr := scanCacheEntry(row)
		if serr == sql.ErrNoRows {
			return cacheLookup{}, nil
		}
		if serr != nil {
			return nil, serr
		}
		return cacheLookup{entry: entry, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	lookup := v.(cacheLookup)
	return lookup.entry, lookup.found, nil
}

func (s *SQLiteStore) UpsertCacheEntry(e *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO agent_index (
			path, inode_key, size, mtime, ctime, probed, hashed,
			hash_algo, hash_sample_size, sample_hash, full_hash, last_seen, last_hashed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Path, e.InodeKey, e.Size, e.MTime, e.CTime, boolToInt(e.Probed), boolToInt(e.Hashed),
		e.HashAlgo, e.HashSampleSize, e.SampleHash, e.FullHash,
		formatTime(e.LastSeen), formatTimePtr(e.LastHashedAt),
	)
	return err
}

// Touch updates last_seen for path's existing row without touching its
// probed/hashed bits or digests. A no-op if the path has no row yet —
// the caller only touches rows it already decided to cache-skip on.
func (s *SQLiteStore) Touch(path string, st model.Stat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE agent_index SET last_seen = ? WHERE path = ?",
		formatTime(time.Now()), path,
	)
	return err
}

func (s *SQLiteStore) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM agent_index")
	return err
}

func (s *SQLiteStore) CacheInfo() (CacheInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := CacheInfo{DBPath: s.path}
	stat, err := os.Stat(s.path)
	if err == nil {
		info.Exists = true
		info.SizeBytes = stat.Size()
	} else if !os.IsNotExist(err) {
		return info, err
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM agent_index").Scan(&info.Rows); err != nil {
		return info, err
	}
	return info, nil
}

func (s *SQLiteStore) CompactCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("VACUUM")
	return err
}

func (s *SQLiteStore) EnqueueOutbox(batchID string, payloadJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO outbox (batch_id, payload_json, created_at) VALUES (?, ?, ?)",
		batchID, payloadJSON, formatTime(time.Now()),
	)
	return err
}

func (s *SQLiteStore) NextOutboxItem() (*model.OutboxItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, batch_id, payload_json, created_at FROM outbox ORDER BY id ASC LIMIT 1
	`)

	var item model.OutboxItem
	var createdAt string
	err := row.Scan(&item.ID, &item.BatchID, &item.PayloadJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	item.CreatedAt = parseTime(createdAt)
	return &item, true, nil
}

func (s *SQLiteStore) DeleteOutboxItem(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM outbox WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) OutboxSize() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM outbox").Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetCursor(root string, phase model.Phase) (*model.CursorRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT root, phase, last_path, updated_at FROM scan_progress WHERE root = ? AND phase = ?
	`, root, string(phase))

	var r model.CursorRow
	var p, updatedAt string
	err := row.Scan(&r.Root, &p, &r.LastPath, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.Phase = model.Phase(p)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, true, nil
}

func (s *SQLiteStore) SaveCursor(row *model.CursorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scan_progress (root, phase, last_path, updated_at)
		VALUES (?, ?, ?, ?)
	`, row.Root, string(row.Phase), row.LastPath, formatTime(time.Now()))
	return err
}

func (s *SQLiteStore) ClearCursor(root string, phase model.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM scan_progress WHERE root = ? AND phase = ?", root, string(phase))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCacheEntry(row rowScanner) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var probed, hashed int
	var lastSeen string
	var lastHashedAt sql.NullString

	err := row.Scan(
		&e.Path, &e.InodeKey, &e.Size, &e.MTime, &e.CTime, &probed, &hashed,
		&e.HashAlgo, &e.HashSampleSize, &e.SampleHash, &e.FullHash, &lastSeen, &lastHashedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Probed = probed != 0
	e.Hashed = hashed != 0
	e.LastSeen = parseTime(lastSeen)
	e.LastHashedAt = parseTime(lastHashedAt.String)
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
