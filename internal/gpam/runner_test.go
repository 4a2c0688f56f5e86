package gpam_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/ledger"
)

/* ---------------- In-memory fakes for gpam.ResultSink & gpam.MedianStore ---------------- */

type fakeSink struct {
	calls   int
	results []gpam.Aggregate
	err     error
	onWrite func()
}

func (s *fakeSink) WriteResults(_ context.Context, _ string, results []gpam.Aggregate) error {
	if s.err != nil {
		return s.err
	}
	s.calls++
	s.results = append(s.results, results...)
	if s.onWrite != nil {
		s.onWrite()
	}
	return nil
}

type fakeMedianStore struct {
	saved map[ledger.CourseKey]decimal.Decimal
	saves int
}

func (m *fakeMedianStore) LoadMedians(context.Context) (map[ledger.CourseKey]decimal.Decimal, error) {
	out := map[ledger.CourseKey]decimal.Decimal{}
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *fakeMedianStore) SaveMedians(_ context.Context, medians map[ledger.CourseKey]decimal.Decimal) error {
	m.saved = medians
	m.saves++
	return nil
}

/* ------------------------------------------ Helpers ------------------------------------------ */

func row(student, term, subj string, units int64, gp string) *ledger.CourseRecord {
	r := &ledger.CourseRecord{
		StudentID: student, Term: term, Subject: subj, CourseNumber: "100", SectionID: "01",
		Units: decimal.NewFromInt(units),
	}
	if gp != "" {
		r.GradePoint = decimal.NewNullDecimal(decimal.RequireFromString(gp))
	}
	return r
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixedClock() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

type harness struct {
	records []*ledger.CourseRecord
	sink    *fakeSink
	store   *fakeMedianStore
}

func (h *harness) runner(t *testing.T, roster []string, opts ...gpam.Option) *gpam.Runner {
	t.Helper()
	seed, err := h.store.LoadMedians(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var adm []ledger.AdmittanceRecord
	for _, id := range roster {
		adm = append(adm, ledger.AdmittanceRecord{StudentID: id})
	}
	idx := gpam.NewCourseIndex(h.records)
	medians := gpam.NewMedianCache(idx, seed)
	base := []gpam.Option{
		gpam.WithResultSink(h.sink),
		gpam.WithMedianStore(h.store),
		gpam.WithLogger(quietLogger()),
		gpam.WithClock(fixedClock),
		gpam.WithRunID("run-1"),
	}
	return gpam.NewRunner(idx, medians, gpam.NewEngine(idx, medians), gpam.NewAdmittanceFilter(adm), append(base, opts...)...)
}

func seedLedger() *harness {
	return &harness{
		records: []*ledger.CourseRecord{
			row("s1", "202010", "MATH", 3, "2.0"),
			row("s1", "202010", "PE", 1, ""),
			row("s2", "202010", "MATH", 3, "4.0"),
			row("s1", "202020", "CHEM", 4, "4.0"),
			row("s3", "202010", "MATH", 3, "3.0"),
			row("s4", "202010", "SEM", 0, ""),
		},
		sink:  &fakeSink{},
		store: &fakeMedianStore{},
	}
}

/* ------------------------------------------ Tests ------------------------------------------ */

func TestRunner_ComputesAndWritesBack(t *testing.T) {
	h := seedLedger()
	rep, err := h.runner(t, []string{"s1", "s2", "s4"}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// MATH 202010 median is 3.0 (2,3,4); CHEM median 4.0.
	// s1 cumulative: (3*3 + 4*4) / (3+1+4) = 25/8 = 3.125 -> 3.13
	s1 := h.records[0]
	if got := s1.CumulativeGPAM.Decimal.StringFixed(2); !s1.CumulativeGPAM.Valid || got != "3.13" {
		t.Fatalf("s1 cumulative: got %q", got)
	}
	// s1 202010: 3*3 / 4 = 2.25
	if got := h.records[1].TermGPAM.Decimal.StringFixed(2); got != "2.25" {
		t.Fatalf("s1 202010 term: got %q", got)
	}
	if got := h.records[3].TermGPAM.Decimal.StringFixed(2); got != "4.00" {
		t.Fatalf("s1 202020 term: got %q", got)
	}
	if got := h.records[3].CumulativeGPAM.Decimal.StringFixed(2); got != "3.13" {
		t.Fatalf("cumulative must be applied to every row of the student, got %q", got)
	}

	if rep.Computed != 5 { // s1 cum + 2 terms, s2 cum + term
		t.Fatalf("computed: got %d", rep.Computed)
	}
	if rep.Written != 8 { // s1: 3 cum + 3 term cells, s2: 2
		t.Fatalf("written: got %d", rep.Written)
	}
	if rep.SkippedNotAdmitted != 1 || rep.SkippedZeroUnits != 2 || rep.DuplicateRows != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Interrupted || rep.Outcome() != "completed" {
		t.Fatalf("expected completed run")
	}
	if h.sink.calls != 1 || len(h.sink.results) != 5 {
		t.Fatalf("expected one flush of 5 aggregates, got calls=%d results=%d", h.sink.calls, len(h.sink.results))
	}
	// Only graded offerings need a median: MATH and CHEM.
	if h.store.saves != 1 || len(h.store.saved) != 2 {
		t.Fatalf("expected medians persisted once with 2 keys, got saves=%d keys=%d", h.store.saves, len(h.store.saved))
	}
	if !rep.FinishedAt.Equal(fixedClock()) {
		t.Fatalf("clock not used")
	}
}

func TestRunner_NotAdmittedNeverGetsAggregate(t *testing.T) {
	h := seedLedger()
	if _, err := h.runner(t, []string{"s1"}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, r := range h.records {
		if r.StudentID != "s1" && (r.CumulativeGPAM.Valid || r.TermGPAM.Valid) {
			t.Fatalf("student %s is not on the roster but got an aggregate", r.StudentID)
		}
	}
}

func TestRunner_SecondRunWritesNothing(t *testing.T) {
	h := seedLedger()
	roster := []string{"s1", "s2", "s3"}
	if _, err := h.runner(t, roster).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := h.sink.calls
	savesAfterFirst := h.store.saves

	rep, err := h.runner(t, roster).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Computed != 0 || rep.Written != 0 {
		t.Fatalf("second run must not write, got %+v", rep)
	}
	if rep.AlreadyPresent != 4 { // (s1,202010) (s2,202010) (s1,202020) (s3,202010)
		t.Fatalf("already present: got %d", rep.AlreadyPresent)
	}
	if rep.MedianComputed != 0 {
		t.Fatalf("medians must come from the persisted cache, computed %d", rep.MedianComputed)
	}
	if h.sink.calls != callsAfterFirst || h.store.saves != savesAfterFirst {
		t.Fatalf("second run must not touch the sinks")
	}
}

func TestRunner_EmptyTermRowDoesNotBreakIdempotence(t *testing.T) {
	in := "PIDM,TERM,SUBJ,CRSE,CLASS_ID,UNITS,GRADE,GRADE_PT,GPAM,TERM_GPAM\n" +
		"1,,MATH,1,A,3,A,4.0,,\n" +
		"1,202010,MATH,1,A,3,A,4.0,,\n"
	l, faults, err := ledger.ReadLedger(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(faults) != 1 {
		t.Fatalf("empty term must be a row fault, got %+v", faults)
	}
	h := &harness{records: l.Records, sink: &fakeSink{}, store: &fakeMedianStore{}}

	rep, err := h.runner(t, []string{"1"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Computed != 2 || rep.Written != 2 {
		t.Fatalf("first run: %+v", rep)
	}
	for _, a := range h.sink.results {
		if !a.Scope.IsCumulative() && a.Scope.Term != "202010" {
			t.Fatalf("unexpected scope %s", a.Scope)
		}
	}
	calls := h.sink.calls

	rep, err = h.runner(t, []string{"1"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Computed != 0 || rep.Written != 0 || h.sink.calls != calls {
		t.Fatalf("second run must not compute or flush: %+v, sink calls %d -> %d", rep, calls, h.sink.calls)
	}
}

func TestRunner_TermsDifferingOnlyByCaseShareOneAggregate(t *testing.T) {
	h := &harness{
		records: []*ledger.CourseRecord{
			row("s1", "fa20", "MATH", 3, "4.0"),
			row("s1", " FA20", "CHEM", 1, "2.0"),
			row("s1", "SP21", "BIO", 2, ""),
		},
		sink:  &fakeSink{},
		store: &fakeMedianStore{},
	}
	rep, err := h.runner(t, []string{"s1"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// cumulative, FA20, SP21
	if rep.Computed != 3 || rep.DuplicateRows != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	// FA20: (3*4 + 1*2) / 4 = 3.50
	for _, r := range h.records[:2] {
		if got := r.TermGPAM.Decimal.StringFixed(2); !r.TermGPAM.Valid || got != "3.50" {
			t.Fatalf("term %q: got %q", r.Term, got)
		}
	}
	if got := h.records[2].TermGPAM.Decimal.StringFixed(2); got != "0.00" {
		t.Fatalf("SP21 has units but no grades, got %q", got)
	}
}

func TestRunner_ReusesPersistedMedianVerbatim(t *testing.T) {
	h := seedLedger()
	sentinel := decimal.RequireFromString("1.11")
	h.store.saved = map[ledger.CourseKey]decimal.Decimal{
		ledger.NewCourseKey("202010", "math", "100", "01"): sentinel,
	}

	rep, err := h.runner(t, []string{"s3"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// s3 only took MATH: GPAM equals the stale median, not the recomputed 3.0.
	if got := h.records[4].CumulativeGPAM.Decimal.StringFixed(2); got != "1.11" {
		t.Fatalf("expected persisted median reused, got %s", got)
	}
	if rep.MedianComputed != 0 {
		t.Fatalf("persisted key must not be recomputed, computed %d", rep.MedianComputed)
	}
}

func TestRunner_InterruptFlushesStagedState(t *testing.T) {
	h := seedLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sink.onWrite = cancel // the first checkpoint "receives" the interrupt

	rep, err := h.runner(t, []string{"s1", "s2", "s3"}, gpam.WithCheckpointEvery(1)).Run(ctx)
	if err != nil {
		t.Fatalf("interruption is not an error: %v", err)
	}
	if !rep.Interrupted || rep.Outcome() != "interrupted" {
		t.Fatalf("expected interrupted report, got %+v", rep)
	}
	if rep.Rows != 1 || rep.Computed != 2 {
		t.Fatalf("expected only the first row processed, got rows=%d computed=%d", rep.Rows, rep.Computed)
	}
	if h.sink.calls != 1 || len(h.sink.results) != 2 {
		t.Fatalf("staged aggregates must be flushed, got calls=%d results=%d", h.sink.calls, len(h.sink.results))
	}
	if h.store.saves == 0 {
		t.Fatalf("median cache must be flushed on interruption")
	}
	if h.records[2].CumulativeGPAM.Valid {
		t.Fatalf("s2 must not be computed after the interrupt")
	}

	// Resume: the next run picks up where the first stopped.
	h.sink.onWrite = nil
	rep, err = h.runner(t, []string{"s1", "s2", "s3"}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// s1's cumulative and 202010 term survived; s1 202020, s2 x2 and s3 x2 remain.
	if rep.Interrupted || rep.Computed != 5 {
		t.Fatalf("resume computed %d aggregates, want 5 (%+v)", rep.Computed, rep)
	}
}

func TestRunner_SinkFailureIsReturned(t *testing.T) {
	h := seedLedger()
	h.sink.err = errors.New("disk full")
	_, err := h.runner(t, []string{"s1"}).Run(context.Background())
	if err == nil {
		t.Fatalf("expected flush error")
	}
}

func TestRunner_InconsistencyIsFatal(t *testing.T) {
	records := []*ledger.CourseRecord{row("s1", "202010", "MATH", 3, "4.0")}
	idx := gpam.NewCourseIndex(records)
	// Cache over an empty index: the engine cannot resolve s1's course.
	medians := gpam.NewMedianCache(gpam.NewCourseIndex(nil), nil)
	r := gpam.NewRunner(idx, medians, gpam.NewEngine(idx, medians),
		gpam.NewAdmittanceFilter([]ledger.AdmittanceRecord{{StudentID: "s1"}}),
		gpam.WithLogger(quietLogger()))

	_, err := r.Run(context.Background())
	if !errors.Is(err, gpam.ErrInternalInconsistency) {
		t.Fatalf("expected ErrInternalInconsistency, got %v", err)
	}
}
