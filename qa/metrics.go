package qa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qa",
		Subsystem: "workflow",
		Name:      "operations_total",
		Help:      "Workflow executions by operation and outcome",
	}, []string{"operation", "outcome"})

	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qa",
		Subsystem: "workflow",
		Name:      "duration_seconds",
		Help:      "Workflow latency including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	txRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qa",
		Subsystem: "workflow",
		Name:      "tx_retries_total",
		Help:      "Transactions re-run after a transient failure",
	}, []string{"operation"})

	// anomalies counts states the invariants say cannot happen but that the
	// workflows tolerate, such as an accepted answer id pointing nowhere.
	anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qa",
		Subsystem: "workflow",
		Name:      "anomalies_total",
		Help:      "Tolerated data anomalies by kind",
	}, []string{"kind"})
)
