package teller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation names used in logs and metric labels.
const (
	opGenerate   = "generate"
	opImport     = "import"
	opExport     = "export"
	opExportAll  = "export_all"
	opLookup     = "lookup"
	opLookupAll  = "lookup_all"
	opSignTx     = "sign_tx"
	opSignHash   = "sign_hash"
	opSignDigest = "sign_digest"
)

type metrics struct {
	operations            *prometheus.CounterVec
	indexPersistFailures  prometheus.Counter
	indexPersistReordered prometheus.Counter
	diagnosticsDropped    prometheus.Counter
	indexSize             prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_operations_total",
				Help: "Total vault operations by operation and result",
			},
			[]string{"op", "result"},
		),
		indexPersistFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teller_index_persist_failures_total",
				Help: "Key index writes that failed after an import",
			},
		),
		indexPersistReordered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teller_index_persist_reordered_total",
				Help: "Key index writes that completed after a newer snapshot had already been written",
			},
		),
		diagnosticsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teller_diagnostics_dropped_total",
				Help: "Diagnostics discarded because the channel buffer was full",
			},
		),
		indexSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teller_index_size",
				Help: "Number of key ids in the in-memory index",
			},
		),
	}
}

// observe records the outcome of one operation.
func (m *metrics) observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}
