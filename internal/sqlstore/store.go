// Package sqlstore persists medians, computed aggregates and run reports in the SQL database
// opened by internal/db. Queries use $n placeholders, which both modernc sqlite and pgx accept.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/db"
	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/ledger"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(d *sql.DB) *Store { return &Store{DB: d, Now: time.Now} }

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

/* ---------------- gpam.MedianStore ---------------- */

func (s *Store) LoadMedians(ctx context.Context) (map[ledger.CourseKey]decimal.Decimal, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT term, subj, crse, class_id, median FROM course_medians`)
	if err != nil {
		return nil, fmt.Errorf("medians: query: %w", err)
	}
	defer rows.Close()

	out := map[ledger.CourseKey]decimal.Decimal{}
	for rows.Next() {
		var term, subj, crse, class string
		var m decimal.Decimal
		if err := rows.Scan(&term, &subj, &crse, &class, &m); err != nil {
			return nil, fmt.Errorf("medians: scan: %w", err)
		}
		out[ledger.NewCourseKey(term, subj, crse, class)] = m
	}
	return out, rows.Err()
}

// SaveMedians upserts the whole snapshot in one transaction.
func (s *Store) SaveMedians(ctx context.Context, medians map[ledger.CourseKey]decimal.Decimal) error {
	ts := s.now().Unix()
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO course_medians (term, subj, crse, class_id, median, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (term, subj, crse, class_id)
			DO UPDATE SET median=EXCLUDED.median, updated_at=EXCLUDED.updated_at`)
		if err != nil {
			return fmt.Errorf("medians: prepare: %w", err)
		}
		defer stmt.Close()
		for k, v := range medians {
			if _, err := stmt.ExecContext(ctx, k.Term, k.Subject, k.CourseNumber, k.SectionID, v.String(), ts); err != nil {
				return fmt.Errorf("medians: upsert %s: %w", k, err)
			}
		}
		return nil
	})
}

/* ---------------- gpam.ResultSink ---------------- */

func (s *Store) WriteResults(ctx context.Context, runID string, results []gpam.Aggregate) error {
	if len(results) == 0 {
		return nil
	}
	ts := s.now().Unix()
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO gpam_results (student_id, scope_term, gpam, total_units, graded, run_id, computed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (student_id, scope_term)
			DO UPDATE SET
				gpam=EXCLUDED.gpam,
				total_units=EXCLUDED.total_units,
				graded=EXCLUDED.graded,
				run_id=EXCLUDED.run_id,
				computed_at=EXCLUDED.computed_at`)
		if err != nil {
			return fmt.Errorf("results: prepare: %w", err)
		}
		defer stmt.Close()
		for _, a := range results {
			if _, err := stmt.ExecContext(ctx, a.StudentID, a.Scope.Term, a.GPAM.StringFixed(2), a.TotalUnits.String(), a.Graded, runID, ts); err != nil {
				return fmt.Errorf("results: upsert %s %s: %w", a.StudentID, a.Scope, err)
			}
		}
		return nil
	})
}

/* ---------------- runs ---------------- */

// RecordRun stores the final report of a run. Recording the same run twice keeps the last one.
func (s *Store) RecordRun(ctx context.Context, rep gpam.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO gpam_runs (run_id, started_at, finished_at, outcome, report_json)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (run_id)
		DO UPDATE SET finished_at=EXCLUDED.finished_at, outcome=EXCLUDED.outcome, report_json=EXCLUDED.report_json`,
		rep.RunID, rep.StartedAt.Unix(), rep.FinishedAt.Unix(), rep.Outcome(), string(body))
	if err != nil {
		return fmt.Errorf("runs: record %s: %w", rep.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]gpam.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT report_json FROM gpam_runs ORDER BY started_at DESC, run_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs: query: %w", err)
	}
	defer rows.Close()
	out := []gpam.Report{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rep gpam.Report
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			return nil, fmt.Errorf("runs: decode: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (s *Store) GetRun(ctx context.Context, runID string) (gpam.Report, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT report_json FROM gpam_runs WHERE run_id=$1`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return gpam.Report{}, ErrNotFound
	}
	if err != nil {
		return gpam.Report{}, err
	}
	var rep gpam.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return gpam.Report{}, fmt.Errorf("runs: decode: %w", err)
	}
	return rep, nil
}

/* ---------------- reads for the report API ---------------- */

// Result is one stored aggregate. Term is empty for the cumulative GPAM.
type Result struct {
	StudentID  string    `json:"student_id"`
	Term       string    `json:"term,omitempty"`
	GPAM       string    `json:"gpam"`
	TotalUnits string    `json:"total_units"`
	Graded     int       `json:"graded"`
	RunID      string    `json:"run_id"`
	ComputedAt time.Time `json:"computed_at"`
}

func (r Result) Cumulative() bool { return r.Term == "" }

// StudentResults returns the cumulative aggregate first, then terms in order.
func (s *Store) StudentResults(ctx context.Context, studentID string) ([]Result, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT student_id, scope_term, gpam, total_units, graded, run_id, computed_at
		FROM gpam_results WHERE student_id=$1 ORDER BY scope_term`, studentID)
	if err != nil {
		return nil, fmt.Errorf("results: query: %w", err)
	}
	defer rows.Close()
	out := []Result{}
	for rows.Next() {
		var (
			r          Result
			gpa, units decimal.Decimal
			at         int64
		)
		if err := rows.Scan(&r.StudentID, &r.Term, &gpa, &units, &r.Graded, &r.RunID, &at); err != nil {
			return nil, fmt.Errorf("results: scan: %w", err)
		}
		r.GPAM = gpa.StringFixed(2)
		r.TotalUnits = units.String()
		r.ComputedAt = time.Unix(at, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Median is one persisted median row.
type Median struct {
	Term         string `json:"term"`
	Subject      string `json:"subj"`
	CourseNumber string `json:"crse"`
	SectionID    string `json:"class_id"`
	Median       string `json:"median"`
}

// ListMedians lists persisted medians, optionally limited to one term.
func (s *Store) ListMedians(ctx context.Context, term string) ([]Median, error) {
	q := `SELECT term, subj, crse, class_id, median FROM course_medians`
	var args []any
	if term != "" {
		q += ` WHERE term=$1`
		args = append(args, ledger.NewCourseKey(term, "", "", "").Term)
	}
	q += ` ORDER BY term, subj, crse, class_id`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("medians: query: %w", err)
	}
	defer rows.Close()
	out := []Median{}
	for rows.Next() {
		var m Median
		var v decimal.Decimal
		if err := rows.Scan(&m.Term, &m.Subject, &m.CourseNumber, &m.SectionID, &v); err != nil {
			return nil, fmt.Errorf("medians: scan: %w", err)
		}
		m.Median = v.String()
		out = append(out, m)
	}
	return out, rows.Err()
}
