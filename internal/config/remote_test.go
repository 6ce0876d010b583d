package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medialib/agent/internal/agenterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherStartsWithDefaults(t *testing.T) {
	f := NewFetcher("http://unused", http.DefaultClient)
	assert.Equal(t, "blake3", f.Get().HashAlgo)
	assert.NotEmpty(t, f.Get().MediaExtensions.Video)
}

func TestFetcherRefreshSwapsInNewPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ingest/config", r.URL.Path)
		remote := Remote{
			RemoteRoots:     []string{"/media"},
			HashAlgo:        "xxhash64",
			HashSampleSize:  1 << 20,
			AgentBatchSize:  50,
			AgentMaxWorkers: 2,
		}
		_ = json.NewEncoder(w).Encode(remote)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client())
	require.NoError(t, f.Refresh(context.Background()))

	got := f.Get()
	assert.Equal(t, []string{"/media"}, got.RemoteRoots)
	assert.Equal(t, "xxhash64", got.HashAlgo)
	assert.Equal(t, 50, got.AgentBatchSize)
}

func TestFetcherKeepsLastKnownOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client())
	before := f.Get()

	err := f.Refresh(context.Background())
	assert.ErrorIs(t, err, agenterr.ErrConfigFetch)
	assert.Same(t, before, f.Get(), "a failed refresh must not disturb the cached policy")
}

func TestFetcherRefreshIsRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(DefaultRemote())
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, f.Refresh(context.Background()))
	assert.Equal(t, int32(1), calls)

	// A second refresh within the same rate-limit window should block
	// until ctx expires rather than hitting the host again.
	err := f.Refresh(ctx)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls, "the rate limiter must suppress the second fetch")
}

func TestClassifyRulesProjection(t *testing.T) {
	r := DefaultRemote()
	rules := r.ClassifyRules()
	assert.Equal(t, r.MediaExtensions.Video, rules.Media.Video)
	assert.Equal(t, r.JunkPatterns, rules.JunkPatterns)
}
