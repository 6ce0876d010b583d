package orchestrator

import (
	"context"
	"time"

	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/permits"
)

// latencyTarget is the average per-task duration under which the pool
// is allowed to grow — above it the workers are already saturating
// disk or ffprobe and more permits would only add contention.
const latencyTarget = 2 * time.Second

// drainLoop delegates steady-state draining to the Drainer's own
// backoff-aware Run loop, and additionally fires an out-of-band
// DrainOnce the instant a live upload succeeds (via drainSignal), on
// top of the regular idle-interval sweep.
func (o *Orchestrator) drainLoop(ctx context.Context) {
	go o.drainer.Run(ctx, drainInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.drainSignal:
			o.tryDrain(ctx)
		}
	}
}

func (o *Orchestrator) tryDrain(ctx context.Context) {
	n, err := o.drainer.DrainOnce(ctx)
	switch {
	case err != nil:
		logger.Warn("orchestrator: outbox drain stopped early", "replayed", n, "error", err)
	case n > 0:
		logger.Info("orchestrator: drained outbox", "replayed", n)
	}
}

// decide implements the adaptation rule for the permit pool:
// shrink under outbox backlog or an elevated upload error rate in the
// last window, grow when the outbox is empty and the average task
// latency over the window is under target. The window is one adapt
// interval: each evaluation differences the cumulative counters against
// the baselines saved by the previous one.
func (o *Orchestrator) decide() permits.Adjustment {
	if !o.fetcher.Get().AgentAdaptive {
		return permits.Hold
	}

	size, err := o.store.OutboxSize()
	if err != nil {
		size = 0
	}

	uploaded, outboxed, errs := o.uploader.Stats()
	total := uploaded + outboxed + errs
	winTotal, winErrs := total-o.winTotal, errs-o.winErrs
	o.winTotal, o.winErrs = total, errs

	var errRate float64
	if winTotal > 0 {
		errRate = float64(winErrs) / float64(winTotal)
	}

	nanos, count := o.state.TaskTotals()
	winNanos, winCount := nanos-o.winTaskNanos, count-o.winTaskCount
	o.winTaskNanos, o.winTaskCount = nanos, count

	var avgLatency time.Duration
	if winCount > 0 {
		avgLatency = time.Duration(winNanos / winCount)
	}

	switch {
	case size > outboxHighWatermark || errRate > errorRateThreshold:
		return permits.Decrease
	case size == 0 && avgLatency < latencyTarget:
		return permits.Increase
	default:
		return permits.Hold
	}
}
