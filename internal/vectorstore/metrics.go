package vectorstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OperationsTotal counts index operations.
	// Labels: provider (chromem, qdrant), operation (list, remove, backup), result (success, error)
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks how long index operations take.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memsync",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// SkippedIDsTotal counts index entries whose identifier is not an int64.
	// Labels: provider, reason (non_numeric, uuid)
	SkippedIDsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Subsystem: "vectorstore",
			Name:      "skipped_ids_total",
			Help:      "Index entries skipped because their id is not a 64-bit integer",
		},
		[]string{"provider", "reason"},
	)
)

// RegisterMetrics registers the vectorstore collectors with reg. Registering
// the same collectors twice on one registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{OperationsTotal, OperationDuration, SkippedIDsTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// observe records one operation's outcome and latency.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
