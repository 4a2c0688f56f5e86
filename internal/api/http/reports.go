package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/rbac"
	"github.com/mind-engage/gpam/internal/sqlstore"
)

// ReportStore is the read side of sqlstore.Store.
type ReportStore interface {
	StudentResults(ctx context.Context, studentID string) ([]sqlstore.Result, error)
	ListMedians(ctx context.Context, term string) ([]sqlstore.Median, error)
	ListRuns(ctx context.Context, limit int) ([]gpam.Report, error)
	GetRun(ctx context.Context, runID string) (gpam.Report, error)
}

// MountReports registers the read-only report routes. The router must already carry
// the JWT middleware so that the caller's rbac.Principal is in the request context.
func MountReports(r chi.Router, store ReportStore, policy *rbac.Policy, log *slog.Logger) {
	addressed := func(r *http.Request) string { return chi.URLParam(r, "studentID") }
	r.With(policy.RequireStudentAccess(addressed)).
		Get("/students/{studentID}/gpam", StudentGPAMHandler(store, log))
	r.With(policy.Require(rbac.PermMedianView)).
		Get("/medians", ListMediansHandler(store, log))
	r.With(policy.Require(rbac.PermRunView)).
		Get("/runs", ListRunsHandler(store, log))
	r.With(policy.Require(rbac.PermRunView)).
		Get("/runs/{runID}", GetRunHandler(store, log))
}

type studentGPAM struct {
	StudentID  string            `json:"student_id"`
	Cumulative *sqlstore.Result  `json:"cumulative"`
	Terms      []sqlstore.Result `json:"terms"`
}

func StudentGPAMHandler(store ReportStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "studentID")
		res, err := store.StudentResults(r.Context(), id)
		if err != nil {
			serverError(w, log, err)
			return
		}
		if len(res) == 0 {
			http.Error(w, "no gpam recorded for student", http.StatusNotFound)
			return
		}
		out := studentGPAM{StudentID: id, Terms: []sqlstore.Result{}}
		for i := range res {
			if res[i].Cumulative() {
				out.Cumulative = &res[i]
				continue
			}
			out.Terms = append(out.Terms, res[i])
		}
		writeJSON(w, out)
	}
}

// GET /medians?term=202010
func ListMediansHandler(store ReportStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := store.ListMedians(r.Context(), r.URL.Query().Get("term"))
		if err != nil {
			serverError(w, log, err)
			return
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

// GET /runs?limit=20
func ListRunsHandler(store ReportStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				http.Error(w, "limit must be 1..500", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := store.ListRuns(r.Context(), limit)
		if err != nil {
			serverError(w, log, err)
			return
		}
		writeJSON(w, map[string]any{"items": runs})
	}
}

func GetRunHandler(store ReportStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := store.GetRun(r.Context(), chi.URLParam(r, "runID"))
		if errors.Is(err, sqlstore.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			serverError(w, log, err)
			return
		}
		writeJSON(w, rep)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func serverError(w http.ResponseWriter, log *slog.Logger, err error) {
	log.Error("report query failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
