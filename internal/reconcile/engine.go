// Package reconcile brings the metadata store and the vector index of a
// hybrid memory back into agreement.
//
// A run loads both stores, filters and deduplicates the records, applies
// the per-subject retention cap, and computes which identifiers to delete
// from the index so that afterwards every record has a vector and every
// vector has a record. Plan does the computation on an in-memory snapshot;
// Run wraps it with loading, backups and the writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/logging"
	"github.com/fyrsmithlabs/memsync/internal/metastore"
	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "memsync.reconcile"

// Engine reconciles one metadata store with one index. It holds no state
// between runs and provides no locking; callers serialize runs.
type Engine struct {
	meta    metastore.Store
	index   vectorstore.IDIndex
	backups *backup.Manager
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewEngine creates an Engine. backups may be nil, in which case backups
// are written next to each store.
func NewEngine(meta metastore.Store, index vectorstore.IDIndex, backups *backup.Manager, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("reconcile")
	if backups == nil {
		backups = backup.New(backup.Options{}, logger.Underlying())
	}
	return &Engine{
		meta:    meta,
		index:   index,
		backups: backups,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Run loads both stores, plans, and unless opts.DryRun commits the plan.
//
// Load failures return ErrPrecondition before anything is written. With
// opts.Backup set, both stores are backed up before the first write and a
// failed backup aborts the run. The metadata is written before the index
// is trimmed.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	start := e.now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	ctx, span := e.tracer.Start(ctx, "Engine.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("dry_run", opts.DryRun),
	)
	fail := func(err error) (*Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return fail(err)
	}

	e.logger.Info(ctx, "reconcile run starting",
		zap.String("metadata", e.meta.Location()),
		zap.String("index", e.index.Location()),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("subject_cap", opts.SubjectCap),
		zap.Float64("min_confidence", opts.MinConfidence),
	)

	records, err := e.meta.Load(logging.WithStage(ctx, "load_metadata"))
	if err != nil {
		return fail(fmt.Errorf("%w: loading metadata from %s: %w", ErrPrecondition, e.meta.Location(), err))
	}

	indexIDs, err := e.listIndex(ctx)
	if err != nil {
		return fail(err)
	}

	plan, err := e.Plan(ctx, records, indexIDs, opts)
	if err != nil {
		return fail(err)
	}
	report := plan.Report
	report.StartedAt = start
	report.MetadataLocation = e.meta.Location()
	report.IndexLocation = e.index.Location()

	if err := plan.Verify(); err != nil {
		e.logger.Error(ctx, "plan failed verification; nothing written", zap.Error(err))
		return fail(err)
	}

	if opts.DryRun {
		report.Duration = elapsed(start, e.now())
		e.logger.Info(ctx, "dry run complete; no changes written",
			zap.Int("would_keep", report.AfterCap),
			zap.Int("would_remove", report.TotalRemovals),
		)
		span.SetStatus(codes.Ok, "dry run")
		return report, nil
	}

	if err := e.commit(ctx, plan, opts); err != nil {
		return fail(err)
	}

	report.Duration = elapsed(start, e.now())
	e.logger.Info(ctx, "reconcile run complete",
		zap.Int("kept", report.AfterCap),
		zap.Int("removed", report.Removed),
		zap.Duration("duration", report.Duration),
	)
	span.SetAttributes(attribute.Int("removed", report.Removed))
	span.SetStatus(codes.Ok, "committed")
	return report, nil
}

// listIndex reads the index listing. An index that cannot enumerate its
// ids yields a nil set, which disables the existence check.
func (e *Engine) listIndex(ctx context.Context) (vectorstore.IDSet, error) {
	ctx = logging.WithStage(ctx, "list_index")
	ids, err := e.index.ListIDs(ctx)
	switch {
	case errors.Is(err, vectorstore.ErrListingUnsupported):
		e.logger.Warn(ctx, "index cannot list its ids", zap.String("index", e.index.Location()))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: listing index %s: %w", ErrPrecondition, e.index.Location(), err)
	}
	return ids, nil
}

// commit backs up both stores, then writes the records, then removes ids.
func (e *Engine) commit(ctx context.Context, plan *Plan, opts Options) error {
	report := plan.Report

	if opts.Backup {
		bctx := logging.WithStage(ctx, "backup")
		dest, err := e.meta.Backup(bctx, e.backups)
		if err != nil {
			return fmt.Errorf("backing up metadata: %w", err)
		}
		report.MetadataBackup = dest

		dest, err = e.index.Backup(bctx, e.backups)
		if err != nil {
			return fmt.Errorf("backing up index: %w", err)
		}
		report.IndexBackup = dest
		e.logger.Info(bctx, "stores backed up",
			zap.String("metadata_backup", report.MetadataBackup),
			zap.String("index_backup", report.IndexBackup),
		)
	}

	wctx := logging.WithStage(ctx, "write_metadata")
	if err := e.meta.Save(wctx, plan.Keep); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	e.logger.Info(wctx, "wrote metadata", zap.Int("records", len(plan.Keep)))

	if len(plan.RemoveIDs) > 0 {
		rctx := logging.WithStage(ctx, "remove_ids")
		removed, err := e.index.RemoveIDs(rctx, plan.RemoveIDs)
		report.Removed = removed
		if err != nil {
			return fmt.Errorf("removing %d ids from index: %w", len(plan.RemoveIDs), err)
		}
		e.logger.Info(rctx, "removed ids from index",
			zap.Int("requested", len(plan.RemoveIDs)),
			zap.Int("removed", removed),
		)
	}

	report.Committed = true
	return nil
}
