// Package orchestrator runs the agent's two-pass scan cycle: the
// IDLE → PASS1_HASH → PASS2_PROBE → IDLE state machine, with the outbox
// drained opportunistically throughout and the permit pool adapting in
// the background.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medialib/agent/internal/agentstate"
	"github.com/medialib/agent/internal/classify"
	"github.com/medialib/agent/internal/config"
	"github.com/medialib/agent/internal/hashing"
	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/model"
	"github.com/medialib/agent/internal/outbox"
	"github.com/medialib/agent/internal/permits"
	"github.com/medialib/agent/internal/probe"
	"github.com/medialib/agent/internal/scanner"
	"github.com/medialib/agent/internal/store"
	"github.com/medialib/agent/internal/uploader"
)

const (
	drainInterval = 30 * time.Second
	adaptInterval = 5 * time.Second

	// outboxHighWatermark and errorRateThreshold feed the adaptation
	// rule: shrink the permit pool when the outbox is backing up or
	// uploads are failing too often.
	outboxHighWatermark = 50
	errorRateThreshold  = 0.10
)

// Orchestrator owns the scan cycle. Exactly one should run per agent
// process; it is the sole writer of AgentState's phase.
type Orchestrator struct {
	scanner  *scanner.Scanner
	fetcher  *config.Fetcher
	store    store.Store
	pool     *permits.Pool
	prober   *probe.Prober
	uploader *uploader.Uploader
	drainer  *outbox.Drainer
	state    *agentstate.AgentState

	drainSignal chan struct{}
	scanning    atomic.Bool

	// Adaptation-window baselines, read and written only by the adapt
	// loop goroutine (decide is its sole caller).
	winTotal     int64
	winErrs      int64
	winTaskNanos int64
	winTaskCount int64

	mu  sync.Mutex
	ctx context.Context
}

// New wires an Orchestrator from its already-constructed collaborators.
// It registers itself as the uploader's drain-notify target.
func New(
	sc *scanner.Scanner,
	fetcher *config.Fetcher,
	st store.Store,
	pool *permits.Pool,
	prober *probe.Prober,
	up *uploader.Uploader,
	drainer *outbox.Drainer,
	state *agentstate.AgentState,
) *Orchestrator {
	o := &Orchestrator{
		scanner:     sc,
		fetcher:     fetcher,
		store:       st,
		pool:        pool,
		prober:      prober,
		uploader:    up,
		drainer:     drainer,
		state:       state,
		drainSignal: make(chan struct{}, 1),
	}
	up.SetDrainNotify(o.drainSignal)
	return o
}

// Run is the agent's main loop. It drains the outbox once immediately,
// starts the background drain and adapt loops, runs one full scan
// cycle, and then blocks until ctx is done — subsequent cycles only
// start via ScanNow (e.g. from the control surface), since scan_now's
// IDLE transition would be meaningless if the agent were always
// scanning.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	o.tryDrain(ctx)

	go o.drainLoop(ctx)
	go o.pool.RunAdaptLoop(ctx, adaptInterval, o.decide)

	o.runCycle(ctx)

	<-ctx.Done()
}

// ScanNow implements the scan_now control: if the orchestrator
// is idle, it starts a new cycle and returns the phase it entered; if a
// cycle is already running, it is a no-op that returns the current
// phase. A fresh cycle also refreshes the remote policy first, so a
// config change on the host takes effect without waiting out the
// periodic refresh interval.
func (o *Orchestrator) ScanNow() agentstate.Phase {
	if o.state.Phase() != agentstate.PhaseIdle {
		return o.state.Phase()
	}

	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if err := o.fetcher.Refresh(ctx); err != nil {
			logger.Warn("orchestrator: config refresh on scan_now failed, using last-known", "error", err)
		}
		o.runCycle(ctx)
	}()
	return agentstate.PhaseHash
}

// runCycle runs one PASS1_HASH → PASS2_PROBE sweep. The CAS guarantees
// at most one cycle runs at a time per process regardless of how many scan_now
// requests race each other past the phase check.
func (o *Orchestrator) runCycle(ctx context.Context) {
	if !o.scanning.CompareAndSwap(false, true) {
		return
	}
	defer o.scanning.Store(false)

	o.state.SetPhase(agentstate.PhaseHash)
	for _, root := range o.fetcher.Get().RemoteRoots {
		if err := o.pass1Root(ctx, root); err != nil {
			logger.Warn("orchestrator: pass1 aborted for root", "root", root, "error", err)
		}
	}
	if err := o.uploader.Flush(); err != nil {
		logger.Warn("orchestrator: pass1 flush failed", "error", err)
	}

	o.state.SetPhase(agentstate.PhaseProbe)
	for _, root := range o.fetcher.Get().RemoteRoots {
		if err := o.pass2Root(ctx, root); err != nil {
			logger.Warn("orchestrator: pass2 aborted for root", "root", root, "error", err)
		}
	}
	if err := o.uploader.Flush(); err != nil {
		logger.Warn("orchestrator: pass2 flush failed", "error", err)
	}

	o.state.SetPhase(agentstate.PhaseIdle)
}

// pass1Root walks root once, classifying every file and hashing
// whatever the reuse cache doesn't already cover. Junk files are
// emitted immediately without a permit.
func (o *Orchestrator) pass1Root(ctx context.Context, root string) error {
	resumeAfter := o.cursorStart(root, model.PhaseHash)
	cursor := newCursorTracker(o.store, root, model.PhaseHash)

	g, gctx := errgroup.WithContext(ctx)

	walkErr := o.scanner.Walk(ctx, root, resumeAfter, func(path string, st model.Stat) error {
		cursor.dispatch(path)

		remote := o.fetcher.Get()
		result := classify.Classify(path, st.Size, remote.ClassifyRules())
		o.state.IncFilesSeen()

		if result.Kind == model.KindJunk {
			o.uploader.Add(baseRecord(path, st, result))
			cursor.complete(path)
			return nil
		}

		if o.cacheSkipHash(path, st, remote) {
			if err := o.store.Touch(path, st); err != nil {
				logger.Warn("orchestrator: cache touch failed", "path", path, "error", err)
			}
			cursor.complete(path)
			return nil
		}

		// Acquiring here, in the walk callback, makes the scanner the
		// backpressure point: at most pool-capacity hash goroutines
		// exist at once, instead of one per enumerated file.
		if err := o.pool.Acquire(gctx); err != nil {
			return err
		}
		o.state.IncActive()
		g.Go(func() error {
			defer func() {
				o.state.DecActive()
				o.pool.Release()
			}()
			o.hashOne(path, st, result, cursor)
			return nil
		})
		return nil
	})
	if walkErr != nil {
		_ = g.Wait()
		return walkErr
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return o.store.ClearCursor(root, model.PhaseHash)
}

// hashOne runs with a permit already held by the caller. Every outcome
// is recovered locally: a hash failure still emits the base record.
func (o *Orchestrator) hashOne(path string, st model.Stat, result classify.Result, cursor *cursorTracker) {
	start := time.Now()
	defer func() { o.state.ObserveTask(time.Since(start)) }()

	remote := o.fetcher.Get()
	doFull := remote.DoFullHash && permits.InOffPeakWindow(time.Now(), remote.AgentOffpeakStart, remote.AgentOffpeakEnd)

	rec := baseRecord(path, st, result)
	res, err := hashing.Hash(path, hashing.Algo(remote.HashAlgo), remote.HashSampleSize, doFull)
	if err != nil {
		o.state.IncErrors()
		logger.Warn("orchestrator: hash failed, emitting base record", "path", path, "error", err)
		o.uploader.Add(rec)
		cursor.complete(path)
		return
	}

	rec.Hashes = &model.Hashes{
		Algo:       remote.HashAlgo,
		SampleSize: remote.HashSampleSize,
		SampleHash: res.SampleHash,
		FullHash:   res.FullHash,
	}
	o.uploader.Add(rec)
	if err := o.recordHashed(path, st, remote, res); err != nil {
		logger.Error("orchestrator: cache update failed after hash", "path", path, "error", err)
	}
	cursor.complete(path)
}

// pass2Root walks root again, this time restricted to video files, and
// probes whatever the reuse cache doesn't already cover. Cache-skippable
// videos emit nothing, avoiding needless server writes.
func (o *Orchestrator) pass2Root(ctx context.Context, root string) error {
	resumeAfter := o.cursorStart(root, model.PhaseProbe)
	cursor := newCursorTracker(o.store, root, model.PhaseProbe)

	g, gctx := errgroup.WithContext(ctx)

	walkErr := o.scanner.Walk(ctx, root, resumeAfter, func(path string, st model.Stat) error {
		cursor.dispatch(path)

		remote := o.fetcher.Get()
		result := classify.Classify(path, st.Size, remote.ClassifyRules())

		if result.Kind != model.KindVideo {
			cursor.complete(path)
			return nil
		}

		if o.cacheSkipProbe(path, st) {
			if err := o.store.Touch(path, st); err != nil {
				logger.Warn("orchestrator: cache touch failed", "path", path, "error", err)
			}
			cursor.complete(path)
			return nil
		}

		if err := o.pool.Acquire(gctx); err != nil {
			return err
		}
		o.state.IncActive()
		g.Go(func() error {
			defer func() {
				o.state.DecActive()
				o.pool.Release()
			}()
			o.probeOne(gctx, path, st, result, cursor)
			return nil
		})
		return nil
	})
	if walkErr != nil {
		_ = g.Wait()
		return walkErr
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return o.store.ClearCursor(root, model.PhaseProbe)
}

// probeOne runs with a permit already held by the caller. A probe
// failure emits nothing for the file; Pass 1 already delivered its base
// record.
func (o *Orchestrator) probeOne(ctx context.Context, path string, st model.Stat, result classify.Result, cursor *cursorTracker) {
	start := time.Now()
	defer func() { o.state.ObserveTask(time.Since(start)) }()

	meta, err := o.prober.Probe(ctx, path)
	if err != nil {
		o.state.IncErrors()
		logger.Warn("orchestrator: probe failed", "path", path, "error", err)
		cursor.complete(path)
		return
	}

	rec := &model.FileRecord{
		Kind:      model.KindVideo,
		Path:      path,
		Size:      st.Size,
		MTime:     unixSeconds(st.MTime),
		CTime:     unixSeconds(st.CTime),
		InodeKey:  st.InodeKey,
		Ext:       result.Ext,
		VideoMeta: meta,
	}
	o.uploader.Add(rec)
	if err := o.recordProbed(path, st); err != nil {
		logger.Error("orchestrator: cache update failed after probe", "path", path, "error", err)
	}
	cursor.complete(path)
}

func (o *Orchestrator) cursorStart(root string, phase model.Phase) string {
	row, ok, err := o.store.GetCursor(root, phase)
	if err != nil || !ok {
		return ""
	}
	return row.LastPath
}

func baseRecord(path string, st model.Stat, result classify.Result) *model.FileRecord {
	return &model.FileRecord{
		Kind:     result.Kind,
		Path:     path,
		Size:     st.Size,
		MTime:    unixSeconds(st.MTime),
		CTime:    unixSeconds(st.CTime),
		InodeKey: st.InodeKey,
		Ext:      result.Ext,
		Reason:   result.Reason,
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
