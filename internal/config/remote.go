package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/medialib/agent/internal/agenterr"
	"github.com/medialib/agent/internal/classify"
	"github.com/medialib/agent/internal/logger"
)

// RefreshInterval is how often Remote re-fetches policy from the host
// in steady state. scan_now additionally triggers an immediate refresh
// outside this cadence.
const RefreshInterval = 5 * time.Minute

// Remote is the ingest policy delivered by the host's /ingest/config
// and refreshed periodically. Every field here is named directly after
// the configuration keys the host is contracted to serve.
type Remote struct {
	RemoteRoots []string `json:"remote_roots"`

	HashAlgo       string `json:"hash_algo"`
	HashSampleSize int64  `json:"hash_sample_size"`
	DoFullHash     bool   `json:"do_full_hash"`

	AgentBatchSize    int  `json:"agent_batch_size"`
	AgentMaxWorkers   int  `json:"agent_max_workers"`
	AgentGzip         bool `json:"agent_gzip"`
	AgentAdaptive     bool `json:"agent_adaptive"`
	AgentOffpeakStart int  `json:"agent_offpeak_start"`
	AgentOffpeakEnd   int  `json:"agent_offpeak_end"`

	FollowSymlinks        bool     `json:"follow_symlinks"`
	JunkPatterns          []string `json:"junk_patterns"`
	JunkExcludeExtensions []string `json:"junk_exclude_extensions"`

	MediaExtensions struct {
		Video    []string `json:"video"`
		Image    []string `json:"image"`
		Subtitle []string `json:"subtitle"`
		XML      []string `json:"xml"`
	} `json:"media_extensions"`
}

// ClassifyRules projects the media/junk fields of Remote into the shape
// classify.Classify expects.
func (r *Remote) ClassifyRules() classify.Rules {
	return classify.Rules{
		Media: classify.MediaExtensions{
			Video:    r.MediaExtensions.Video,
			Image:    r.MediaExtensions.Image,
			Subtitle: r.MediaExtensions.Subtitle,
			XML:      r.MediaExtensions.XML,
		},
		JunkPatterns:          r.JunkPatterns,
		JunkExcludeExtensions: r.JunkExcludeExtensions,
	}
}

// DefaultRemote is used before the first successful fetch, and again if
// a fetch fails with nothing cached to fall back on.
func DefaultRemote() *Remote {
	r := &Remote{
		HashAlgo:          "blake3",
		HashSampleSize:    4 << 20,
		DoFullHash:        false,
		AgentBatchSize:    100,
		AgentMaxWorkers:   4,
		AgentGzip:         true,
		AgentAdaptive:     true,
		AgentOffpeakStart: 22,
		AgentOffpeakEnd:   6,
		FollowSymlinks:    false,
	}
	r.MediaExtensions.Video = []string{"mkv", "mp4", "avi", "mov", "m4v", "wmv", "flv", "webm"}
	r.MediaExtensions.Image = []string{"jpg", "jpeg", "png", "gif", "webp"}
	r.MediaExtensions.Subtitle = []string{"srt", "sub", "ass", "vtt"}
	r.MediaExtensions.XML = []string{"xml", "nfo"}
	r.JunkPatterns = []string{".ds_store", "thumbs.db", "*.part", "*.tmp"}
	return r
}

// Fetcher periodically GETs policy from <host>/ingest/config and holds
// the last-known-good Remote for atomic, lock-free reads.
type Fetcher struct {
	host    string
	client  *http.Client
	limiter *rate.Limiter

	current atomic.Pointer[Remote]
}

// NewFetcher returns a Fetcher seeded with DefaultRemote, rate-limited
// so a misbehaving caller (e.g. a burst of scan_now requests) can't
// hammer the host's config endpoint faster than once every 10 seconds.
func NewFetcher(host string, client *http.Client) *Fetcher {
	f := &Fetcher{
		host:    host,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	f.current.Store(DefaultRemote())
	return f
}

// Get returns the last successfully fetched Remote (or DefaultRemote
// if none has ever succeeded).
func (f *Fetcher) Get() *Remote {
	return f.current.Load()
}

// Refresh fetches policy from the host now, subject to the internal
// rate limiter, and swaps it in on success. On failure the previously
// held Remote (cached or default) is kept and the error is returned for
// the caller to log.
func (f *Fetcher) Refresh(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.host+"/ingest/config", nil)
	if err != nil {
		return agenterr.ConfigFetch(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return agenterr.ConfigFetch(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return agenterr.ConfigFetch(fmt.Errorf("host returned %d", resp.StatusCode))
	}

	var next Remote
	if err := json.NewDecoder(resp.Body).Decode(&next); err != nil {
		return agenterr.ConfigFetch(err)
	}

	applyRemoteDefaults(&next)
	f.current.Store(&next)
	return nil
}

func applyRemoteDefaults(r *Remote) {
	d := DefaultRemote()
	if r.HashAlgo == "" {
		r.HashAlgo = d.HashAlgo
	}
	if r.HashSampleSize <= 0 {
		r.HashSampleSize = d.HashSampleSize
	}
	if r.AgentBatchSize <= 0 {
		r.AgentBatchSize = d.AgentBatchSize
	}
	if r.AgentMaxWorkers <= 0 {
		r.AgentMaxWorkers = d.AgentMaxWorkers
	}
	if r.AgentOffpeakStart == 0 && r.AgentOffpeakEnd == 0 {
		r.AgentOffpeakStart, r.AgentOffpeakEnd = d.AgentOffpeakStart, d.AgentOffpeakEnd
	}
}

// Run refreshes on RefreshInterval until ctx is done, logging (not
// failing) any fetch error so the agent keeps serving /agent/ping and
// /agent/stats on cached config.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				logger.Warn("config: remote refresh failed, keeping last-known config", "error", err)
			}
		}
	}
}
