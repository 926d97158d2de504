package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/memsync/internal/logging"
	"github.com/fyrsmithlabs/memsync/internal/memory"
	"github.com/fyrsmithlabs/memsync/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Plan is the outcome of the decision stages: what to write and what to
// remove. It is computed the same way for dry runs and commits.
type Plan struct {
	// Keep is the record collection to write, in retention order.
	Keep []memory.Record

	// KeepIDs holds the identifiers of Keep.
	KeepIDs vectorstore.IDSet

	// StaleIDs are identifiers that were valid in the loaded records but
	// did not survive.
	StaleIDs []int64

	// OrphanIDs are index identifiers without a surviving record. Empty
	// when the existence check is disabled.
	OrphanIDs []int64

	// RemoveIDs is StaleIDs ∪ OrphanIDs, ascending.
	RemoveIDs []int64

	// ExistenceCheck reports whether records were checked against the index.
	ExistenceCheck bool

	Report *Report

	indexIDs vectorstore.IDSet
	validIDs vectorstore.IDSet
	opts     Options
	logger   *logging.Logger
}

// dedupKey groups records by normalized text. Records without text are
// keyed by their own identifier so they never merge with other records.
type dedupKey struct {
	text  string
	empty bool
	id    int64
}

// Plan runs the decision stages over a snapshot. indexIDs is the index
// listing; nil or empty means the listing is unavailable and the existence
// check is skipped. records is not modified.
func (e *Engine) Plan(ctx context.Context, records []memory.Record, indexIDs vectorstore.IDSet, opts Options) (*Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "Engine.Plan")
	defer span.End()
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}

	report := newReport(logging.RunIDFromContext(ctx), opts, e.now())
	p := &Plan{
		Report:         report,
		indexIDs:       indexIDs,
		ExistenceCheck: indexIDs.Len() > 0,
		opts:           opts,
		logger:         e.logger,
	}
	report.ExistenceCheck = p.ExistenceCheck
	report.IndexSize = indexIDs.Len()
	report.Loaded = len(records)

	if !p.ExistenceCheck {
		e.logger.Warn(logging.WithStage(ctx, "existence_check"),
			"index id listing unavailable; skipping existence filter")
	}

	filtered := p.filter(logging.WithStage(ctx, "filter"), records)
	report.AfterValidation = len(filtered)
	e.logger.Debug(logging.WithStage(ctx, "filter"), "filtered records",
		zap.Int("low_confidence", report.LowConfidence),
		zap.Int("invalid_id", report.InvalidID),
		zap.Int("orphan_records", report.OrphanRecords),
		zap.Int("remaining", len(filtered)),
	)

	filtered = p.dropExact(logging.WithStage(ctx, "exact_drop"), filtered)
	report.AfterFilter = len(filtered)

	deduped := p.dedup(logging.WithStage(ctx, "dedup"), filtered)
	report.AfterDedup = len(deduped)

	kept := p.applyCap(logging.WithStage(ctx, "cap"), deduped)
	report.AfterCap = len(kept)
	p.Keep = kept

	p.computeRemovals(records)
	report.KeepIDs = p.KeepIDs.Len()
	report.StaleRemovals = len(p.StaleIDs)
	report.OrphanRemovals = len(p.OrphanIDs)
	report.TotalRemovals = len(p.RemoveIDs)
	report.StaleSample = sample(p.StaleIDs)
	report.OrphanSample = sample(p.OrphanIDs)

	for _, r := range records {
		report.Coerced += r.CoercedFields()
	}

	span.SetAttributes(
		attribute.Int("loaded", report.Loaded),
		attribute.Int("kept", report.AfterCap),
		attribute.Int("remove_ids", report.TotalRemovals),
		attribute.Bool("existence_check", p.ExistenceCheck),
	)
	span.SetStatus(codes.Ok, "planned")
	e.logger.Info(logging.WithStage(ctx, "plan"), "reconcile plan computed",
		zap.Int("loaded", report.Loaded),
		zap.Int("kept", report.AfterCap),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("capped", report.Capped),
		zap.Int("stale_removals", report.StaleRemovals),
		zap.Int("orphan_removals", report.OrphanRemovals),
	)
	return p, nil
}

// filter applies the confidence, identifier and existence checks, in that
// order, counting each drop once.
func (p *Plan) filter(ctx context.Context, records []memory.Record) []memory.Record {
	out := make([]memory.Record, 0, len(records))
	for _, r := range records {
		if r.Confidence() < p.opts.MinConfidence {
			p.Report.LowConfidence++
			p.traceDrop(ctx, r, "low_confidence")
			continue
		}
		if !r.HasValidVectorID() {
			p.Report.InvalidID++
			p.traceDrop(ctx, r, "invalid_id")
			continue
		}
		if p.ExistenceCheck && !p.indexIDs.Has(r.VectorID()) {
			p.Report.OrphanRecords++
			p.traceDrop(ctx, r, "not_in_index")
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *Plan) traceDrop(ctx context.Context, r memory.Record, reason string) {
	if !p.logger.Enabled(logging.TraceLevel) {
		return
	}
	p.logger.Trace(ctx, "dropped record",
		zap.Int64("vector_id", r.VectorID()),
		zap.String("reason", reason),
	)
}

func (p *Plan) dropExact(ctx context.Context, records []memory.Record) []memory.Record {
	drop := p.opts.dropSet()
	if drop == nil {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if _, ok := drop[memory.NormalizeText(r.Original())]; ok {
			p.Report.ExactDrop++
			p.traceDrop(ctx, r, "exact_text")
			continue
		}
		out = append(out, r)
	}
	return out
}

// dedup reduces each text group to one record with ChooseBetter, the
// running winner as a and the newcomer as b. Groups keep the position of
// their first member.
func (p *Plan) dedup(ctx context.Context, records []memory.Record) []memory.Record {
	index := make(map[dedupKey]int, len(records))
	out := make([]memory.Record, 0, len(records))
	for _, r := range records {
		key := dedupKey{text: memory.NormalizeText(r.Original())}
		if key.text == "" {
			key = dedupKey{empty: true, id: r.VectorID()}
		}
		if i, ok := index[key]; ok {
			first := out[i].VectorID()
			out[i] = memory.ChooseBetter(out[i], r)
			p.Report.Duplicates++
			if p.logger.Enabled(logging.TraceLevel) {
				p.logger.Trace(ctx, "merged duplicate",
					zap.Int64("group_id", first),
					zap.Int64("candidate_id", r.VectorID()),
					zap.Int64("winner_id", out[i].VectorID()),
				)
			}
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// applyCap ranks records newest and most confident first and keeps at
// most SubjectCap per subject. Equal ranks keep their dedup order.
func (p *Plan) applyCap(ctx context.Context, records []memory.Record) []memory.Record {
	if p.opts.SubjectCap <= 0 {
		return records
	}
	p.Report.CapApplied = true

	keys := make([]memory.RankKey, len(records))
	for i, r := range records {
		keys[i] = memory.Rank(r)
	}
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return keys[order[i]].Before(keys[order[j]])
	})

	counts := make(map[string]int)
	out := make([]memory.Record, 0, len(records))
	for _, i := range order {
		r := records[i]
		subject := memory.NormalizeSubject(r.Subject())
		if counts[subject] >= p.opts.SubjectCap {
			p.Report.Capped++
			if p.logger.Enabled(logging.TraceLevel) {
				p.logger.Trace(ctx, "evicted by subject cap",
					zap.Int64("vector_id", r.VectorID()),
					zap.String("subject", subject),
					zap.Int("cap", p.opts.SubjectCap),
				)
			}
			continue
		}
		counts[subject]++
		out = append(out, r)
	}
	return out
}

// computeRemovals derives the index removal set. Stale ids come from every
// loaded record with a valid identifier, not just the filtered ones.
func (p *Plan) computeRemovals(loaded []memory.Record) {
	p.KeepIDs = vectorstore.NewIDSet()
	for _, r := range p.Keep {
		p.KeepIDs.Add(r.VectorID())
	}

	p.validIDs = vectorstore.NewIDSet()
	for _, r := range loaded {
		if r.HasValidVectorID() {
			p.validIDs.Add(r.VectorID())
		}
	}

	p.StaleIDs = p.validIDs.Difference(p.KeepIDs)
	p.OrphanIDs = []int64{}
	if p.ExistenceCheck {
		p.OrphanIDs = p.indexIDs.Difference(p.KeepIDs)
	}

	p.RemoveIDs = vectorstore.NewIDSet(p.StaleIDs...).
		Union(vectorstore.NewIDSet(p.OrphanIDs...)).
		Sorted()
}

// InSync reports whether the plan changes nothing.
func (p *Plan) InSync() bool {
	return p.Report.InSync()
}

// Verify checks the plan against the properties every run must satisfy:
// kept identifiers are valid, kept texts are unique, no subject exceeds the
// cap, and the removal set covers every identifier that will have no record.
func (p *Plan) Verify() error {
	var errs []error

	texts := make(map[string]int64, len(p.Keep))
	subjects := make(map[string]int)
	for _, r := range p.Keep {
		id := r.VectorID()
		if !r.HasValidVectorID() {
			errs = append(errs, fmt.Errorf("kept record has invalid id %d", id))
		}
		if text := memory.NormalizeText(r.Original()); text != "" {
			if other, dup := texts[text]; dup {
				errs = append(errs, fmt.Errorf("ids %d and %d share text %q", other, id, text))
			}
			texts[text] = id
		}
		subjects[memory.NormalizeSubject(r.Subject())]++
	}
	if p.opts.SubjectCap > 0 {
		for subject, n := range subjects {
			if n > p.opts.SubjectCap {
				errs = append(errs, fmt.Errorf("subject %q keeps %d records, cap %d", subject, n, p.opts.SubjectCap))
			}
		}
	}

	remove := vectorstore.NewIDSet(p.RemoveIDs...)
	for _, id := range p.RemoveIDs {
		if p.KeepIDs.Has(id) {
			errs = append(errs, fmt.Errorf("id %d is both kept and removed", id))
		}
	}
	for _, id := range p.validIDs.Difference(p.KeepIDs) {
		if !remove.Has(id) {
			errs = append(errs, fmt.Errorf("stale id %d not scheduled for removal", id))
		}
	}
	if p.ExistenceCheck {
		for _, id := range p.indexIDs.Difference(p.KeepIDs) {
			if !remove.Has(id) {
				errs = append(errs, fmt.Errorf("orphan id %d not scheduled for removal", id))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	return nil
}

func elapsed(start time.Time, now time.Time) time.Duration {
	if now.Before(start) {
		return 0
	}
	return now.Sub(start)
}
