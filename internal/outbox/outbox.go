// Package outbox drains durably-queued batch payloads back to the host.
// Drain order is strict FIFO; a failed POST stops the drain attempt
// (preserving order) and backs off before retrying.
package outbox

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/medialib/agent/internal/agenterr"
	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/store"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 60 * time.Second
)

// Drainer replays queued OutboxItems to <host>/ingest/batch. DrainOnce
// is safe to call concurrently with Run (the orchestrator fires it
// out-of-band after a successful live upload); backoff state lives in
// Run's own frame, so the two never share anything mutable.
type Drainer struct {
	store  store.Store
	host   string
	client *http.Client
}

// New returns a Drainer. client should carry the same bounded timeout
// used by the Uploader.
func New(st store.Store, host string, client *http.Client) *Drainer {
	return &Drainer{store: st, host: host, client: client}
}

// DrainOnce attempts to replay the outbox oldest-first until the queue
// is empty or one item fails, in which case it stops immediately
// (preserving FIFO order for the next attempt) and returns the count
// successfully replayed so far.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	replayed := 0
	for {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}

		item, ok, err := d.store.NextOutboxItem()
		if err != nil {
			return replayed, agenterr.CacheStore(err)
		}
		if !ok {
			return replayed, nil
		}

		if err := d.post(ctx, item.PayloadJSON); err != nil {
			logger.Warn("outbox: replay failed, stopping drain", "batch_id", item.BatchID, "error", err)
			return replayed, err
		}

		if err := d.store.DeleteOutboxItem(item.ID); err != nil {
			return replayed, agenterr.CacheStore(err)
		}
		replayed++
	}
}

// Run repeatedly drains the outbox, sleeping with exponential backoff
// (base 1s, cap 60s) between failed attempts and immediately retrying
// after any attempt that replayed at least one item, until ctx is done.
func (d *Drainer) Run(ctx context.Context, idleInterval time.Duration) {
	backoff := baseBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		replayed, err := d.DrainOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case replayed > 0:
			wait = 0
			backoff = baseBackoff
		default:
			wait = idleInterval
			backoff = baseBackoff
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (d *Drainer) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+"/ingest/batch", bytes.NewReader(payload))
	if err != nil {
		return agenterr.TransientTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return agenterr.TransientTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		return agenterr.TransientTransport(errStatus(resp.StatusCode))
	}
	return agenterr.PermanentTransport(resp.StatusCode)
}

type statusError int

func (e statusError) Error() string { return "host returned non-2xx status" }

func errStatus(code int) error { return statusError(code) }
