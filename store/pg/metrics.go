package pg

import (
	metricsUtil "github.com/Conflux-Chain/go-conflux-util/metrics"
	"github.com/rcrowley/go-metrics"
)

type Metrics struct{}

func (m *Metrics) Latest() metrics.Gauge {
	return metricsUtil.GetOrRegisterGauge("store/pg/latest")
}

func (m *Metrics) Write() metrics.Timer {
	return metricsUtil.GetOrRegisterTimer("store/pg/write")
}

func (m *Metrics) NumTxs() metrics.Histogram {
	return metricsUtil.GetOrRegisterHistogram("store/pg/num/txs")
}
