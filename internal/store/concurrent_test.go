package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/medialib/agent/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentCacheWriters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent_cache.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	const workers = 20
	const opsPerWorker = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers*opsPerWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				entry := &model.CacheEntry{
					Path:     fmt.Sprintf("/media/w%d/f%d.mkv", id, i),
					InodeKey: fmt.Sprintf("2049:%d%d", id, i),
					Size:     int64(1000 + i),
					LastSeen: time.Now(),
				}
				if err := s.UpsertCacheEntry(entry); err != nil {
					errs <- fmt.Errorf("worker %d entry %d: %w", id, i, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	info, err := s.CacheInfo()
	require.NoError(t, err)
	assert.Equal(t, workers*opsPerWorker, info.Rows)
}

func TestConcurrentOutboxEnqueueAndDrain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent_cache.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.EnqueueOutbox(fmt.Sprintf("batch-%d", i), []byte("{}")))
		}(i)
	}
	wg.Wait()

	size, err := s.OutboxSize()
	require.NoError(t, err)
	assert.Equal(t, n, size)

	drained := 0
	for {
		item, ok, err := s.NextOutboxItem()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, s.DeleteOutboxItem(item.ID))
		drained++
	}
	assert.Equal(t, n, drained)
}
