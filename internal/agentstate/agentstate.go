// Package agentstate holds the single mutable status object threaded by
// reference through the orchestrator and the control surface,
// instead of ambient package-level globals. Every field is backed by an
// atomic so readers (the control surface) never contend with writers
// (the orchestrator's worker goroutines).
package agentstate

import (
	"sync/atomic"
	"time"
)

// Phase names where the orchestrator's state machine currently sits.
// Unlike model.Phase (which only distinguishes the two scan passes),
// Phase also carries the idle state between cycles.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseHash  Phase = "hash"
	PhaseProbe Phase = "probe"
)

// AgentState is the agent-wide counters and phase marker. The uploader
// remains the source of truth for upload/outbox/error counts on the
// wire path; AgentState tracks what's specific to the scan pipeline
// itself: current phase, in-flight permit-gated tasks, files observed,
// and per-file recoverable errors.
type AgentState struct {
	phase atomic.Value // Phase

	active    atomic.Int64
	filesSeen atomic.Int64
	errors    atomic.Int64

	taskNanos atomic.Int64
	taskCount atomic.Int64

	startedAt time.Time
}

// New returns an AgentState in PhaseIdle, the cold-start state.
func New() *AgentState {
	s := &AgentState{startedAt: time.Now()}
	s.phase.Store(PhaseIdle)
	return s
}

// Phase returns the current orchestrator phase.
func (s *AgentState) Phase() Phase {
	return s.phase.Load().(Phase)
}

// SetPhase records a state machine transition.
func (s *AgentState) SetPhase(p Phase) {
	s.phase.Store(p)
}

// IncActive records one more permit-gated task starting.
func (s *AgentState) IncActive() {
	s.active.Add(1)
}

// DecActive records one permit-gated task finishing.
func (s *AgentState) DecActive() {
	s.active.Add(-1)
}

// Active returns the number of hash/probe tasks currently holding a
// permit, bounded by the permit pool's capacity.
func (s *AgentState) Active() int64 {
	return s.active.Load()
}

// IncFilesSeen records one more path classified during a scan.
func (s *AgentState) IncFilesSeen() {
	s.filesSeen.Add(1)
}

// FilesSeen returns the running count of classified paths.
func (s *AgentState) FilesSeen() int64 {
	return s.filesSeen.Load()
}

// IncErrors records one recoverable per-file error (HashError or
// ProbeError).
func (s *AgentState) IncErrors() {
	s.errors.Add(1)
}

// Errors returns the running per-file error count.
func (s *AgentState) Errors() int64 {
	return s.errors.Load()
}

// ObserveTask records the wall-clock duration of one finished hash or
// probe task. The adaptation loop reads these totals to compute the
// average task latency over its evaluation window.
func (s *AgentState) ObserveTask(d time.Duration) {
	s.taskNanos.Add(int64(d))
	s.taskCount.Add(1)
}

// TaskTotals returns the cumulative task duration (in nanoseconds) and
// task count since startup. Callers compute windowed averages by
// differencing successive reads.
func (s *AgentState) TaskTotals() (nanos, count int64) {
	return s.taskNanos.Load(), s.taskCount.Load()
}

// Uptime returns how long the agent has been running.
func (s *AgentState) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// RateFilesPerSecond is the average classify throughput since startup,
// reported by /agent/stats.
func (s *AgentState) RateFilesPerSecond() float64 {
	secs := s.Uptime().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.FilesSeen()) / secs
}
