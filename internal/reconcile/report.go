package reconcile

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// sampleSize bounds the ids listed by Render for a dry run.
const sampleSize = 10

// Report summarizes one run: the record count after every stage and the
// size of each removal set. Dry runs and commits fill it the same way;
// only Removed, backup paths and Committed depend on writing.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	DryRun    bool      `json:"dry_run"`
	Committed bool      `json:"committed"`

	MetadataLocation string `json:"metadata_location,omitempty"`
	IndexLocation    string `json:"index_location,omitempty"`

	// ExistenceCheck is false when the index could not list its ids.
	ExistenceCheck bool `json:"existence_check"`

	Loaded          int  `json:"loaded"`
	LowConfidence   int  `json:"low_confidence"`
	InvalidID       int  `json:"invalid_id"`
	OrphanRecords   int  `json:"orphan_records"`
	AfterValidation int  `json:"after_validation"`
	ExactDrop       int  `json:"exact_drop"`
	AfterFilter     int  `json:"after_filter"`
	Duplicates      int  `json:"duplicates"`
	AfterDedup      int  `json:"after_dedup"`
	CapApplied      bool `json:"cap_applied"`
	SubjectCap      int  `json:"subject_cap"`
	Capped          int  `json:"capped"`
	AfterCap        int  `json:"after_cap"`

	// Coerced counts numeric fields that fell back to their default.
	Coerced int `json:"coerced"`

	IndexSize      int `json:"index_size"`
	KeepIDs        int `json:"keep_ids"`
	StaleRemovals  int `json:"stale_removals"`
	OrphanRemovals int `json:"orphan_removals"`
	TotalRemovals  int `json:"total_removals"`

	// Removed is what the index reported deleting. Zero for dry runs.
	Removed int `json:"removed"`

	MetadataBackup string `json:"metadata_backup,omitempty"`
	IndexBackup    string `json:"index_backup,omitempty"`

	Duration time.Duration `json:"duration_ns"`

	// Samples of the removal sets, ascending.
	StaleSample  []int64 `json:"stale_sample,omitempty"`
	OrphanSample []int64 `json:"orphan_sample,omitempty"`
}

func newReport(runID string, opts Options, start time.Time) *Report {
	return &Report{
		RunID:      runID,
		StartedAt:  start,
		DryRun:     opts.DryRun,
		SubjectCap: opts.SubjectCap,
	}
}

// InSync reports whether the run found nothing to drop or remove.
func (r *Report) InSync() bool {
	return r.LowConfidence == 0 &&
		r.InvalidID == 0 &&
		r.OrphanRecords == 0 &&
		r.ExactDrop == 0 &&
		r.Duplicates == 0 &&
		r.Capped == 0 &&
		r.TotalRemovals == 0
}

// Render writes the human-readable summary.
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Reconcile Summary (run %s)\n", r.RunID)
	fmt.Fprintf(&b, "=========================\n\n")
	if r.MetadataLocation != "" {
		fmt.Fprintf(&b, "Metadata: %s\n", r.MetadataLocation)
	}
	if r.IndexLocation != "" {
		fmt.Fprintf(&b, "Index:    %s\n\n", r.IndexLocation)
	}

	fmt.Fprintf(&b, "Records loaded:                 %d\n", r.Loaded)
	fmt.Fprintf(&b, "  Below min confidence:         %d\n", r.LowConfidence)
	fmt.Fprintf(&b, "  Invalid or missing vector id: %d\n", r.InvalidID)
	if r.ExistenceCheck {
		fmt.Fprintf(&b, "  No matching vector in index:  %d\n", r.OrphanRecords)
	} else {
		fmt.Fprintf(&b, "  Index id listing unavailable; existence check skipped\n")
	}
	fmt.Fprintf(&b, "  Exact text dropped:           %d\n", r.ExactDrop)
	fmt.Fprintf(&b, "After filters:                  %d\n", r.AfterFilter)
	fmt.Fprintf(&b, "After dedup:                    %d (%d merged)\n", r.AfterDedup, r.Duplicates)
	if r.CapApplied {
		fmt.Fprintf(&b, "After subject cap (%d/subject):  %d (%d evicted)\n", r.SubjectCap, r.AfterCap, r.Capped)
	}
	if r.Coerced > 0 {
		fmt.Fprintf(&b, "Malformed numeric fields:       %d (defaulted)\n", r.Coerced)
	}
	fmt.Fprintln(&b)

	if r.ExistenceCheck {
		fmt.Fprintf(&b, "Index vectors present:          %d\n", r.IndexSize)
	}
	fmt.Fprintf(&b, "Final keep ids:                 %d\n", r.KeepIDs)
	fmt.Fprintf(&b, "Remove stale ids from index:    %d\n", r.StaleRemovals)
	if r.ExistenceCheck {
		fmt.Fprintf(&b, "Remove orphan ids from index:   %d\n", r.OrphanRemovals)
	}
	fmt.Fprintf(&b, "Total index removals:           %d\n", r.TotalRemovals)

	if r.DryRun {
		fmt.Fprintf(&b, "\n-- DRY RUN: no changes written --\n")
		fmt.Fprintf(&b, "Sample stale ids (first %d): %v\n", sampleSize, r.StaleSample)
		if r.ExistenceCheck {
			fmt.Fprintf(&b, "Sample orphan ids (first %d): %v\n", sampleSize, r.OrphanSample)
		}
	} else if r.Committed {
		fmt.Fprintln(&b)
		if r.MetadataBackup != "" {
			fmt.Fprintf(&b, "Backed up metadata -> %s\n", r.MetadataBackup)
		}
		if r.IndexBackup != "" {
			fmt.Fprintf(&b, "Backed up index -> %s\n", r.IndexBackup)
		}
		fmt.Fprintf(&b, "Wrote %d records\n", r.AfterCap)
		fmt.Fprintf(&b, "Removed %d vectors from the index\n", r.Removed)
	}
	fmt.Fprintf(&b, "\nCompleted in %s\n", r.Duration.Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}

func sample(ids []int64) []int64 {
	if len(ids) > sampleSize {
		ids = ids[:sampleSize]
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}
