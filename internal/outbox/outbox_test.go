package outbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medialib/agent/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent_cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDrainOnceEmptyOutbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called for an empty outbox")
	}))
	defer srv.Close()

	st := openTestStore(t)
	d := New(st, srv.URL, srv.Client())

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrainOnceReplaysInFIFOOrder(t *testing.T) {
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		order = append(order, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := openTestStore(t)
	require.NoError(t, st.EnqueueOutbox("batch-1", []byte("first")))
	require.NoError(t, st.EnqueueOutbox("batch-2", []byte("second")))

	d := New(st, srv.URL, srv.Client())
	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, order)

	size, err := st.OutboxSize()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestDrainOnceStopsOnFailurePreservingOrder(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := openTestStore(t)
	require.NoError(t, st.EnqueueOutbox("batch-1", []byte("first")))
	require.NoError(t, st.EnqueueOutbox("batch-2", []byte("second")))
	require.NoError(t, st.EnqueueOutbox("batch-3", []byte("third")))

	d := New(st, srv.URL, srv.Client())
	n, err := d.DrainOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	size, err := st.OutboxSize()
	require.NoError(t, err)
	assert.Equal(t, 2, size, "the two undelivered items must remain queued in order")

	item, ok, err := st.NextOutboxItem()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "batch-2", item.BatchID)
}

func TestDrainOnceStopsOnPermanentClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := openTestStore(t)
	require.NoError(t, st.EnqueueOutbox("batch-1", []byte("first")))

	d := New(st, srv.URL, srv.Client())
	n, err := d.DrainOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	size, err := st.OutboxSize()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := openTestStore(t)
	d := New(st, srv.URL, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunDrainsQueuedItemsEventually(t *testing.T) {
	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := openTestStore(t)
	require.NoError(t, st.EnqueueOutbox("batch-1", []byte("first")))

	d := New(st, srv.URL, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&delivered) == 1
	}, time.Second, 10*time.Millisecond)
}
