// Package agenterr defines the agent's error taxonomy. Every per-file
// error is recoverable and countable; only startup errors (unwritable
// state dir, control-port bind failure) are fatal, and those are plain
// wrapped errors returned from cmd/agent without a sentinel here.
package agenterr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the per-file/per-batch error taxonomy.
// Check with errors.Is().
var (
	ErrHash               = errors.New("hash error")
	ErrProbe              = errors.New("probe error")
	ErrTransientTransport = errors.New("transient transport error")
	ErrPermanentTransport = errors.New("permanent transport error")
	ErrFilesystem         = errors.New("filesystem error")
	ErrCacheStore         = errors.New("cache store error")
	ErrConfigFetch        = errors.New("config fetch error")
)

// Hash wraps an I/O failure encountered while hashing path. The caller
// treats the file as un-hashable and still emits the base record.
func Hash(path string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrHash, path, cause)
}

// Probe wraps a subprocess failure (non-zero exit or timeout) for path.
// No record enrichment is emitted for it.
func Probe(path string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrProbe, path, cause)
}

// TransientTransport wraps an HTTP timeout, 5xx, or connection-refused
// outcome. The batch is outboxed and the scan continues.
func TransientTransport(cause error) error {
	return fmt.Errorf("%w: %w", ErrTransientTransport, cause)
}

// PermanentTransport wraps a non-429 4xx response. The payload is still
// outboxed so no data is silently lost pending operator attention.
func PermanentTransport(status int) error {
	return fmt.Errorf("%w: host returned %d", ErrPermanentTransport, status)
}

// Filesystem wraps a permission or gone-file error. The path is skipped
// and traversal continues.
func Filesystem(path string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrFilesystem, path, cause)
}

// CacheStore wraps a local store failure. Retried once by the caller;
// if persistent, the caller degrades to no-cache mode.
func CacheStore(cause error) error {
	return fmt.Errorf("%w: %w", ErrCacheStore, cause)
}

// ConfigFetch wraps a failure to retrieve /ingest/config. The agent
// proceeds on last-known config if any is cached.
func ConfigFetch(cause error) error {
	return fmt.Errorf("%w: %w", ErrConfigFetch, cause)
}
