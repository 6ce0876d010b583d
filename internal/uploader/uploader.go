// Package uploader batches emitted FileRecords and ships them to the
// host, falling back to the outbox on any non-2xx or transport failure.
// Its run loop is a single select-driven consumer: one goroutine owning
// the buffer, driven by incoming records, a flush timer, and explicit
// flush requests.
package uploader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/medialib/agent/internal/agenterr"
	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/model"
	"github.com/medialib/agent/internal/store"
)

// Uploader buffers FileRecords and flushes them as gzip-optional JSON
// batches to <host>/ingest/batch.
type Uploader struct {
	host          string
	client        *http.Client
	batchSize     int
	flushInterval time.Duration
	useGzip       bool
	store         store.Store

	recordsCh chan *model.FileRecord
	flushCh   chan chan error
	done      chan struct{}

	uploaded atomic.Int64
	outboxed atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64

	// drainNotify, when set, receives a non-blocking signal after every
	// successful live upload, so the outbox gets an immediate drain
	// attempt the moment connectivity is proven back.
	drainNotify chan<- struct{}
}

// SetDrainNotify registers ch to be signaled (non-blockingly) after
// every successful live upload, so the caller can trigger an immediate
// outbox drain attempt.
func (u *Uploader) SetDrainNotify(ch chan<- struct{}) {
	u.drainNotify = ch
}

// New returns an Uploader. client should carry a bounded per-request
// timeout (30s is the usual choice); host is the bare origin, e.g.
// "http://catalog.example.com:9000".
func New(host string, client *http.Client, batchSize int, flushInterval time.Duration, useGzip bool, st store.Store) *Uploader {
	return &Uploader{
		host:          host,
		client:        client,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		useGzip:       useGzip,
		store:         st,
		recordsCh:     make(chan *model.FileRecord, 64),
		flushCh:       make(chan chan error),
		done:          make(chan struct{}),
	}
}

// Add queues rec for upload. It blocks briefly if the internal channel
// is full, applying natural backpressure to the scan pipeline. A record
// added after Run has exited (a worker finishing inside the shutdown
// grace period) is sealed straight into the outbox so it is not lost —
// its cache row is already marked hashed/probed by then, so dropping it
// would mean the host never sees it.
func (u *Uploader) Add(rec *model.FileRecord) {
	select {
	case u.recordsCh <- rec:
	case <-u.done:
		u.sealToOutbox([]*model.FileRecord{rec})
	}
}

// Flush forces out every record added before the call (the end-of-phase
// flush) and waits for the attempt to finish. After
// Run has exited the buffer is already settled, so Flush returns nil
// instead of blocking on a loop that is no longer listening.
func (u *Uploader) Flush() error {
	reply := make(chan error, 1)
	select {
	case u.flushCh <- reply:
	case <-u.done:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-u.done:
		return nil
	}
}

// Run owns the buffer and blocks until ctx is done, sealing whatever
// remains into the outbox before returning so a partial batch survives
// termination.
func (u *Uploader) Run(ctx context.Context) {
	defer close(u.done)

	var buf []*model.FileRecord
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	doFlush := func() {
		if len(buf) == 0 {
			return
		}
		u.upload(ctx, buf)
		buf = nil
		stopTimer()
	}

	for {
		select {
		case <-ctx.Done():
			// Drain whatever was already queued before the cancellation
			// was observed so a record Add()ed just before shutdown
			// isn't silently dropped, then seal the remainder straight
			// into the outbox — the host may be the reason we're slow to
			// shut down, and the outbox drain on next startup will
			// deliver it.
			for drained := false; !drained; {
				select {
				case rec := <-u.recordsCh:
					buf = append(buf, rec)
				default:
					drained = true
				}
			}
			if len(buf) > 0 {
				u.sealToOutbox(buf)
			}
			stopTimer()
			return

		case rec := <-u.recordsCh:
			buf = append(buf, rec)
			if len(buf) == 1 {
				timer = time.NewTimer(u.flushInterval)
				timerC = timer.C
			}
			if len(buf) >= u.batchSize {
				doFlush()
			}

		case <-timerC:
			doFlush()

		case reply := <-u.flushCh:
			// Records Add()ed before Flush may still sit in recordsCh
			// when the select picks the flush request; pull them in
			// first so the flush covers them.
			for drained := false; !drained; {
				select {
				case rec := <-u.recordsCh:
					buf = append(buf, rec)
					if len(buf) >= u.batchSize {
						doFlush()
					}
				default:
					drained = true
				}
			}
			doFlush()
			reply <- nil
		}
	}
}

// Stats returns running upload/outbox/error counters for /agent/stats.
func (u *Uploader) Stats() (uploaded, outboxed, errorCount int64) {
	return u.uploaded.Load(), u.outboxed.Load(), u.errors.Load()
}

// Batches returns the number of batches sealed so far, uploaded or
// outboxed.
func (u *Uploader) Batches() int64 {
	return u.batches.Load()
}

func (u *Uploader) upload(ctx context.Context, records []*model.FileRecord) {
	u.batches.Add(1)
	batchID := uuid.NewString()
	payload := model.BatchPayload{BatchID: batchID, Files: records}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("uploader: marshal batch failed", "batch_id", batchID, "error", err)
		u.errors.Add(1)
		return
	}

	// The wire body may be gzipped, but the outbox always stores the
	// plain JSON: the drainer replays payloads without a
	// Content-Encoding header.
	wire := body
	contentEncoding := ""
	if u.useGzip {
		var compressed bytes.Buffer
		gw := gzip.NewWriter(&compressed)
		if _, err := gw.Write(body); err == nil && gw.Close() == nil {
			wire = compressed.Bytes()
			contentEncoding = "gzip"
		}
	}

	if err := u.post(ctx, wire, contentEncoding); err != nil {
		u.errors.Add(1)
		logger.Warn("uploader: batch failed, outboxing", "batch_id", batchID, "error", err)
		if oerr := u.store.EnqueueOutbox(batchID, body); oerr != nil {
			logger.Error("uploader: outbox enqueue failed", "batch_id", batchID, "error", oerr)
			return
		}
		u.outboxed.Add(1)
		return
	}

	u.uploaded.Add(int64(len(records)))
	if u.drainNotify != nil {
		select {
		case u.drainNotify <- struct{}{}:
		default:
		}
	}
}

// sealToOutbox assigns records a batch_id and enqueues the payload
// durably without attempting a POST. Used on shutdown, where the
// partial batch belongs in the outbox rather than in a live upload
// racing the grace period.
func (u *Uploader) sealToOutbox(records []*model.FileRecord) {
	u.batches.Add(1)
	batchID := uuid.NewString()
	body, err := json.Marshal(model.BatchPayload{BatchID: batchID, Files: records})
	if err != nil {
		logger.Error("uploader: marshal batch failed", "batch_id", batchID, "error", err)
		u.errors.Add(1)
		return
	}
	if err := u.store.EnqueueOutbox(batchID, body); err != nil {
		logger.Error("uploader: outbox enqueue failed", "batch_id", batchID, "error", err)
		u.errors.Add(1)
		return
	}
	u.outboxed.Add(1)
}

// post sends one already-serialized payload. It never sets
// authentication headers.
func (u *Uploader) post(ctx context.Context, body []byte, contentEncoding string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.host+"/ingest/batch", bytes.NewReader(body))
	if err != nil {
		return agenterr.TransientTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return agenterr.TransientTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return agenterr.TransientTransport(fmt.Errorf("host returned %d", resp.StatusCode))
	default:
		return agenterr.PermanentTransport(resp.StatusCode)
	}
}
