package control

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medialib/agent/internal/agentstate"
)

var registerOnce sync.Once

// RegisterMetrics mirrors the /agent/stats counters into Prometheus
// gauges served at /agent/metrics. Safe to call more than once per
// process; only the first call registers collectors against the
// default registry.
func RegisterMetrics(state *agentstate.AgentState, uploads UploadStats) {
	registerOnce.Do(func() { registerMetrics(state, uploads) })
}

func registerMetrics(state *agentstate.AgentState, uploads UploadStats) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "medialib_agent_active_tasks",
		Help: "Hash/probe tasks currently holding a permit.",
	}, func() float64 { return float64(state.Active()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "medialib_agent_files_seen_total",
		Help: "Files classified since agent startup.",
	}, func() float64 { return float64(state.FilesSeen()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "medialib_agent_errors_total",
		Help: "Per-file hash/probe errors since agent startup.",
	}, func() float64 { return float64(state.Errors()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "medialib_agent_uploaded_files_total",
		Help: "Files successfully delivered to the host.",
	}, func() float64 { uploaded, _, _ := uploads.Stats(); return float64(uploaded) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "medialib_agent_outboxed_batches_total",
		Help: "Batches that fell back to the durable outbox.",
	}, func() float64 { _, outboxed, _ := uploads.Stats(); return float64(outboxed) })
}
