package reconcile

import (
	"fmt"

	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "memsync"

// NewMetricsRegistry returns a registry holding the report as gauges plus
// the vector index operation metrics of this process. Go runtime and
// process collectors are not registered.
func NewMetricsRegistry(r *Report) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "records",
		Help:      "Metadata records remaining after each reconcile stage",
	}, []string{"stage"})
	dropped := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "dropped_records",
		Help:      "Metadata records dropped by the last run, by reason",
	}, []string{"reason"})
	removals := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "index_removals",
		Help:      "Identifiers scheduled for removal from the index, by set",
	}, []string{"set"})
	removed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "index_removed",
		Help:      "Vectors the index reported deleting in the last run",
	})
	indexSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "index_size",
		Help:      "Identifiers listed by the index at the start of the last run",
	})
	coerced := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "coerced_fields",
		Help:      "Malformed numeric fields replaced by their default",
	})
	flags := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "run_info",
		Help:      "Boolean properties of the last run (1 = true)",
	}, []string{"property"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Wall time of the last run",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "reconcile",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run started",
	})

	for _, c := range []prometheus.Collector{records, dropped, removals, removed, indexSize, coerced, flags, duration, lastRun} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering report metrics: %w", err)
		}
	}
	if err := vectorstore.RegisterMetrics(reg); err != nil {
		return nil, fmt.Errorf("registering index metrics: %w", err)
	}

	records.WithLabelValues("loaded").Set(float64(r.Loaded))
	records.WithLabelValues("after_filter").Set(float64(r.AfterFilter))
	records.WithLabelValues("after_dedup").Set(float64(r.AfterDedup))
	records.WithLabelValues("after_cap").Set(float64(r.AfterCap))

	dropped.WithLabelValues("low_confidence").Set(float64(r.LowConfidence))
	dropped.WithLabelValues("invalid_id").Set(float64(r.InvalidID))
	dropped.WithLabelValues("orphan").Set(float64(r.OrphanRecords))
	dropped.WithLabelValues("exact_drop").Set(float64(r.ExactDrop))
	dropped.WithLabelValues("duplicate").Set(float64(r.Duplicates))
	dropped.WithLabelValues("capped").Set(float64(r.Capped))

	removals.WithLabelValues("stale").Set(float64(r.StaleRemovals))
	removals.WithLabelValues("orphan").Set(float64(r.OrphanRemovals))
	removals.WithLabelValues("total").Set(float64(r.TotalRemovals))

	removed.Set(float64(r.Removed))
	indexSize.Set(float64(r.IndexSize))
	coerced.Set(float64(r.Coerced))

	flags.WithLabelValues("dry_run").Set(boolGauge(r.DryRun))
	flags.WithLabelValues("committed").Set(boolGauge(r.Committed))
	flags.WithLabelValues("existence_check").Set(boolGauge(r.ExistenceCheck))
	flags.WithLabelValues("in_sync").Set(boolGauge(r.InSync()))

	duration.Set(r.Duration.Seconds())
	if !r.StartedAt.IsZero() {
		lastRun.Set(float64(r.StartedAt.UnixNano()) / 1e9)
	}
	return reg, nil
}

// WriteMetrics writes the report to path in the Prometheus text format,
// replacing the file atomically, for the node_exporter textfile collector.
func WriteMetrics(path string, r *Report) error {
	reg, err := NewMetricsRegistry(r)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
