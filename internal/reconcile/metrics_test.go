package reconcile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	return &Report{
		RunID:          "run-1",
		StartedAt:      time.Unix(1700000000, 0),
		Committed:      true,
		ExistenceCheck: true,
		Loaded:         10,
		LowConfidence:  1,
		InvalidID:      2,
		AfterFilter:    7,
		Duplicates:     2,
		AfterDedup:     5,
		CapApplied:     true,
		Capped:         1,
		AfterCap:       4,
		IndexSize:      9,
		StaleRemovals:  3,
		OrphanRemovals: 5,
		TotalRemovals:  6,
		Removed:        6,
		Duration:       1500 * time.Millisecond,
	}
}

func TestNewMetricsRegistry(t *testing.T) {
	reg, err := NewMetricsRegistry(sampleReport())
	require.NoError(t, err)

	expected := `
# HELP memsync_reconcile_records Metadata records remaining after each reconcile stage
# TYPE memsync_reconcile_records gauge
memsync_reconcile_records{stage="after_cap"} 4
memsync_reconcile_records{stage="after_dedup"} 5
memsync_reconcile_records{stage="after_filter"} 7
memsync_reconcile_records{stage="loaded"} 10
# HELP memsync_reconcile_index_removals Identifiers scheduled for removal from the index, by set
# TYPE memsync_reconcile_index_removals gauge
memsync_reconcile_index_removals{set="orphan"} 5
memsync_reconcile_index_removals{set="stale"} 3
memsync_reconcile_index_removals{set="total"} 6
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"memsync_reconcile_records", "memsync_reconcile_index_removals"))

	flags := `
# HELP memsync_reconcile_run_info Boolean properties of the last run (1 = true)
# TYPE memsync_reconcile_run_info gauge
memsync_reconcile_run_info{property="committed"} 1
memsync_reconcile_run_info{property="dry_run"} 0
memsync_reconcile_run_info{property="existence_check"} 1
memsync_reconcile_run_info{property="in_sync"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(flags), "memsync_reconcile_run_info"))
}

func TestWriteMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memsync.prom")
	require.NoError(t, WriteMetrics(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `memsync_reconcile_dropped_records{reason="invalid_id"} 2`)
	assert.Contains(t, text, "memsync_reconcile_index_removed 6")
	assert.Contains(t, text, "memsync_reconcile_duration_seconds 1.5")
	assert.Contains(t, text, "memsync_reconcile_last_run_timestamp_seconds 1.7e+09")
	assert.NotContains(t, text, "go_goroutines")
}

func TestWriteMetrics_BadPath(t *testing.T) {
	err := WriteMetrics(filepath.Join(t.TempDir(), "missing", "dir", "m.prom"), sampleReport())
	assert.Error(t, err)
}
