package sync

import (
	metricsUtil "github.com/Conflux-Chain/go-conflux-util/metrics"
	"github.com/rcrowley/go-metrics"
)

var (
	syncMetrics Metrics
)

type Metrics struct{}

// Qps returns a timer for measuring the number of sync iterations per second.
func (m *Metrics) Qps() metrics.Timer {
	return metricsUtil.GetOrRegisterTimer("sync/once")
}

// Availability returns a percentage for measuring the availability of block queries.
func (m *Metrics) Availability() metricsUtil.Percentage {
	return metricsUtil.GetOrRegisterTimeWindowPercentageDefault("sync/query/availability")
}

// Latency returns a histogram for measuring the latency of block queries.
func (m *Metrics) Latency(success bool) metrics.Histogram {
	if success {
		return metricsUtil.GetOrRegisterHistogram("sync/query/latency/success")
	}
	return metricsUtil.GetOrRegisterHistogram("sync/query/latency/failure")
}

// ReorgDepth returns a histogram for measuring the depth of chain reorganizations.
func (m *Metrics) ReorgDepth() metrics.Histogram {
	return metricsUtil.GetOrRegisterHistogram("sync/reorg/depth")
}
