package orchestrator

import (
	"time"

	"github.com/medialib/agent/internal/config"
	"github.com/medialib/agent/internal/hashing"
	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/model"
)

// getCacheEntry wraps Store.GetCacheEntry with the cache-degradation
// policy: a failed lookup is retried once, and if the error persists the
// agent degrades to no-cache mode for this file and logs loudly, rather
// than letting a flaky store abort the scan.
func (o *Orchestrator) getCacheEntry(path string) (entry *model.CacheEntry, ok bool) {
	entry, ok, err := o.store.GetCacheEntry(path)
	if err == nil {
		return entry, ok
	}

	entry, ok, err = o.store.GetCacheEntry(path)
	if err != nil {
		logger.Error("orchestrator: cache lookup failed twice, degrading to no-cache for this file", "path", path, "error", err)
		return nil, false
	}
	return entry, ok
}

// cacheSkipHash implements the skip-hashing policy: honor a cached
// hashed=true row only when the inode identity and the configured
// (algo, sample_size) both still match.
func (o *Orchestrator) cacheSkipHash(path string, st model.Stat, remote *config.Remote) bool {
	entry, ok := o.getCacheEntry(path)
	if !ok || !entry.Hashed {
		return false
	}
	return entry.InodeKey == st.InodeKey &&
		entry.HashAlgo == remote.HashAlgo &&
		entry.HashSampleSize == remote.HashSampleSize
}

// cacheSkipProbe implements the skip-probing policy: honor a cached
// probed=true row only when the inode identity still matches.
func (o *Orchestrator) cacheSkipProbe(path string, st model.Stat) bool {
	entry, ok := o.getCacheEntry(path)
	if !ok || !entry.Probed {
		return false
	}
	return entry.InodeKey == st.InodeKey
}

// freshEntry returns the existing cache row to update in place, or a
// blank one keyed only by path if the file's identity changed (or it
// was never observed before) — a changed inode invalidates both the
// hashed and probed bits.
func (o *Orchestrator) freshEntry(path string, st model.Stat) *model.CacheEntry {
	existing, ok := o.getCacheEntry(path)
	if ok && existing.InodeKey == st.InodeKey {
		cp := *existing
		return &cp
	}
	return &model.CacheEntry{Path: path}
}

func (o *Orchestrator) recordHashed(path string, st model.Stat, remote *config.Remote, res hashing.Result) error {
	e := o.freshEntry(path, st)
	now := time.Now()
	e.InodeKey = st.InodeKey
	e.Size = st.Size
	e.MTime = unixSeconds(st.MTime)
	e.CTime = unixSeconds(st.CTime)
	e.Hashed = true
	e.HashAlgo = remote.HashAlgo
	e.HashSampleSize = remote.HashSampleSize
	e.SampleHash = res.SampleHash
	if res.FullHash != "" {
		e.FullHash = res.FullHash
	}
	e.LastSeen = now
	e.LastHashedAt = now
	return o.store.UpsertCacheEntry(e)
}

func (o *Orchestrator) recordProbed(path string, st model.Stat) error {
	e := o.freshEntry(path, st)
	e.InodeKey = st.InodeKey
	e.Size = st.Size
	e.MTime = unixSeconds(st.MTime)
	e.CTime = unixSeconds(st.CTime)
	e.Probed = true
	e.LastSeen = time.Now()
	return o.store.UpsertCacheEntry(e)
}
