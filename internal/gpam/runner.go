package gpam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/ledger"
)

type Clock func() time.Time

// ResultSink persists aggregates staged by the runner. The runner has already written them
// into the in-memory ledger rows when WriteResults is called. results is reused after the
// call returns; implementations must copy what they keep.
type ResultSink interface {
	WriteResults(ctx context.Context, runID string, results []Aggregate) error
}

// MedianStore persists the median cache between runs.
type MedianStore interface {
	LoadMedians(ctx context.Context) (map[ledger.CourseKey]decimal.Decimal, error)
	SaveMedians(ctx context.Context, medians map[ledger.CourseKey]decimal.Decimal) error
}

// Report summarizes one pass.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Rows               int `json:"rows"`                 // rows visited
	Computed           int `json:"computed"`             // aggregates computed
	Written            int `json:"written"`              // ledger cells filled
	AlreadyPresent     int `json:"already_present"`      // (student, term) pairs with both outputs set
	DuplicateRows      int `json:"duplicate_rows"`       // rows of an already handled (student, term)
	SkippedNotAdmitted int `json:"skipped_not_admitted"` // distinct students
	SkippedZeroUnits   int `json:"skipped_zero_units"`   // (student, scope)
	MedianComputed     int `json:"median_computed"`
	MedianCached       int `json:"median_cached"`

	Interrupted bool `json:"interrupted"`
}

func (r Report) Outcome() string {
	if r.Interrupted {
		return "interrupted"
	}
	return "completed"
}

// Runner drives one pass over the ledger.
type Runner struct {
	idx     *CourseIndex
	medians *MedianCache
	engine  *Engine
	filter  *AdmittanceFilter

	sink            ResultSink
	medianStore     MedianStore
	log             *slog.Logger
	now             Clock
	runID           string
	checkpointEvery int

	pending []Aggregate
}

type Option func(*Runner)

func WithResultSink(s ResultSink) Option   { return func(r *Runner) { r.sink = s } }
func WithMedianStore(s MedianStore) Option { return func(r *Runner) { r.medianStore = s } }
func WithLogger(l *slog.Logger) Option     { return func(r *Runner) { r.log = l } }
func WithClock(c Clock) Option             { return func(r *Runner) { r.now = c } }
func WithRunID(id string) Option           { return func(r *Runner) { r.runID = id } }

// WithCheckpointEvery flushes after every n staged aggregates. 0 flushes only at the end.
func WithCheckpointEvery(n int) Option { return func(r *Runner) { r.checkpointEvery = n } }

func NewRunner(idx *CourseIndex, medians *MedianCache, engine *Engine, filter *AdmittanceFilter, opts ...Option) *Runner {
	r := &Runner{idx: idx, medians: medians, engine: engine, filter: filter}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	return r
}

func (r *Runner) RunID() string { return r.runID }

type pair struct{ student, term string }

// Run visits every ledger row once. Cancellation of ctx is checked at the top of each row;
// staged results and the median cache are flushed before Run returns, whether it completed,
// was interrupted (Report.Interrupted, nil error) or hit a fatal error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: r.runID, StartedAt: r.now()}
	seen := make(map[pair]struct{})
	cumulativeDone := make(map[string]struct{})
	notAdmitted := make(map[string]struct{})

	r.log.Info("run started", "run_id", r.runID, "rows", len(r.idx.Records()), "students", len(r.idx.Students()))

	for _, row := range r.idx.Records() {
		if ctx.Err() != nil {
			rep.Interrupted = true
			r.log.Warn("run interrupted, flushing", "run_id", r.runID, "rows_done", rep.Rows)
			break
		}
		rep.Rows++

		p := pair{row.StudentID, row.TermKey()}
		if _, dup := seen[p]; dup {
			rep.DuplicateRows++
			continue
		}
		seen[p] = struct{}{}

		if row.CumulativeGPAM.Valid && row.TermGPAM.Valid {
			rep.AlreadyPresent++
			continue
		}
		if !r.filter.IsAdmitted(row.StudentID) {
			if _, ok := notAdmitted[row.StudentID]; !ok {
				notAdmitted[row.StudentID] = struct{}{}
				rep.SkippedNotAdmitted++
				r.log.Debug("student not admitted", "student", row.StudentID)
			}
			continue
		}

		if !row.CumulativeGPAM.Valid {
			if _, done := cumulativeDone[row.StudentID]; !done {
				cumulativeDone[row.StudentID] = struct{}{}
				if err := r.apply(&rep, row.StudentID, Cumulative); err != nil {
					return r.fail(ctx, rep, err)
				}
			}
		}
		if !row.TermGPAM.Valid {
			if err := r.apply(&rep, row.StudentID, TermScope(row.Term)); err != nil {
				return r.fail(ctx, rep, err)
			}
		}

		if r.checkpointEvery > 0 && len(r.pending) >= r.checkpointEvery {
			if err := r.flush(context.WithoutCancel(ctx)); err != nil {
				return r.fail(ctx, rep, err)
			}
		}
	}

	if err := r.flush(context.WithoutCancel(ctx)); err != nil {
		rep.FinishedAt = r.now()
		return rep, err
	}
	r.finish(&rep)
	r.log.Info("run finished",
		"run_id", r.runID,
		"outcome", rep.Outcome(),
		"computed", rep.Computed,
		"written", rep.Written,
		"skipped_not_admitted", rep.SkippedNotAdmitted,
		"skipped_zero_units", rep.SkippedZeroUnits,
		"already_present", rep.AlreadyPresent,
		"medians_computed", rep.MedianComputed,
	)
	return rep, nil
}

// apply computes one aggregate and fills it into every row of the scope that lacks it.
func (r *Runner) apply(rep *Report, studentID string, scope Scope) error {
	agg, err := r.engine.Compute(studentID, scope)
	if errors.Is(err, ErrZeroUnits) {
		rep.SkippedZeroUnits++
		r.log.Info("zero units, skipping", "student", studentID, "scope", scope.String())
		return nil
	}
	if err != nil {
		return err
	}
	rep.Computed++

	val := decimal.NewNullDecimal(agg.GPAM)
	for _, rec := range r.idx.ByStudent(studentID) {
		field := &rec.CumulativeGPAM
		if !scope.IsCumulative() {
			if rec.TermKey() != scope.Term {
				continue
			}
			field = &rec.TermGPAM
		}
		if field.Valid {
			continue
		}
		*field = val
		rep.Written++
	}
	r.pending = append(r.pending, agg)
	r.log.Debug("computed", "student", studentID, "scope", scope.String(), "gpam", agg.GPAM.StringFixed(2))
	return nil
}

// flush hands staged aggregates to the sink and persists the median cache if it changed.
func (r *Runner) flush(ctx context.Context) error {
	if r.medianStore != nil && r.medians.Dirty() {
		if err := r.medianStore.SaveMedians(ctx, r.medians.Snapshot()); err != nil {
			return fmt.Errorf("flush medians: %w", err)
		}
		r.medians.MarkClean()
	}
	if len(r.pending) == 0 {
		return nil
	}
	if r.sink != nil {
		if err := r.sink.WriteResults(ctx, r.runID, r.pending); err != nil {
			return fmt.Errorf("flush results: %w", err)
		}
	}
	r.log.Debug("flushed", "run_id", r.runID, "aggregates", len(r.pending))
	r.pending = r.pending[:0]
	return nil
}

func (r *Runner) fail(ctx context.Context, rep Report, cause error) (Report, error) {
	r.log.Error("run aborted", "run_id", r.runID, "error", cause)
	if err := r.flush(context.WithoutCancel(ctx)); err != nil {
		r.log.Error("flush after abort failed", "run_id", r.runID, "error", err)
	}
	r.finish(&rep)
	return rep, cause
}

func (r *Runner) finish(rep *Report) {
	rep.FinishedAt = r.now()
	rep.MedianComputed = r.medians.Computed()
	rep.MedianCached = r.medians.Len()
}
