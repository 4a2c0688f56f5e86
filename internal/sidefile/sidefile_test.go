package sidefile_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/ledger"
	"github.com/mind-engage/gpam/internal/sidefile"
	"github.com/mind-engage/gpam/internal/storage"
)

const rosterCSV = `"PIDM","TERM"
"1001","200810"
"1002","200910"
`

const ledgerCSV = `"PIDM","TERM","SUBJ","CRSE","CLASS_ID","UNITS","GRADE","GRADE_PT","GPAM","TERM_GPAM"
"1001","202010","MATH","101","A1","3","B","3.0","",""
"1002","202010","MATH","101","A1","3","A","4.0","",""
"1003","202010","MATH","101","A1","3","C","2.0","",""
"1001","202020","CHEM","200","B1","4","A","4.0","",""
"1001","202020","PE","1","X","2","P","","",""
`

func newStore(t *testing.T) (*storage.FSStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewFSStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestMedianFile_RoundTrip(t *testing.T) {
	s, _ := newStore(t)
	mf := &sidefile.MedianFile{Store: s, Key: sidefile.DefaultMediansName}
	ctx := context.Background()

	empty, err := mf.LoadMedians(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	in := map[ledger.CourseKey]decimal.Decimal{
		ledger.NewCourseKey("202010", "math", "101", "a1"): decimal.RequireFromString("3.5"),
		ledger.NewCourseKey("202020", "PE", "1", "X"):      decimal.Zero,
	}
	require.NoError(t, mf.SaveMedians(ctx, in))

	out, err := mf.LoadMedians(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.True(t, out[ledger.NewCourseKey("202010", "MATH", "101", "A1")].Equal(decimal.RequireFromString("3.5")))
}

func TestMedianFile_ReadsLegacyFile(t *testing.T) {
	s, dir := newStore(t)
	legacy := "TERM,SUBJ,CRSE,CLASS_ID,MEDIAN\n202010,MATH,101,A1,2.85\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "course_medians.csv"), []byte(legacy), 0o644))

	out, err := (&sidefile.MedianFile{Store: s, Key: "course_medians.csv"}).LoadMedians(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2.85", out[ledger.NewCourseKey("202010", "math", "101", "a1")].String())
}

func runOnce(t *testing.T, s *storage.FSStore) gpam.Report {
	t.Helper()
	ctx := context.Background()
	roster, _, err := sidefile.ReadRoster(s, "roster.csv")
	require.NoError(t, err)
	l, faults, err := sidefile.ReadLedger(s, "ledger.csv")
	require.NoError(t, err)
	require.Empty(t, faults)

	mf := &sidefile.MedianFile{Store: s, Key: sidefile.DefaultMediansName}
	seed, err := mf.LoadMedians(ctx)
	require.NoError(t, err)

	idx := gpam.NewCourseIndex(l.Records)
	medians := gpam.NewMedianCache(idx, seed)
	r := gpam.NewRunner(idx, medians, gpam.NewEngine(idx, medians), gpam.NewAdmittanceFilter(roster),
		gpam.WithResultSink(sidefile.Sinks{&sidefile.LedgerFile{Ledger: l, Store: s, Key: "ledger.csv"}}),
		gpam.WithMedianStore(mf),
		gpam.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	rep, err := r.Run(ctx)
	require.NoError(t, err)
	return rep
}

func TestLedgerFile_EndToEnd(t *testing.T) {
	s, dir := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roster.csv"), []byte(rosterCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.csv"), []byte(ledgerCSV), 0o644))

	rep := runOnce(t, s)
	require.Equal(t, 5, rep.Computed) // 1001: cum + 2 terms; 1002: cum + term

	got, err := os.ReadFile(filepath.Join(dir, "ledger.csv"))
	require.NoError(t, err)
	// MATH median 3.0, CHEM 4.0; 1001 cumulative = (9 + 16) / 9 = 2.78
	want := "PIDM,TERM,SUBJ,CRSE,CLASS_ID,UNITS,GRADE,GRADE_PT,GPAM,TERM_GPAM\n" +
		"1001,202010,MATH,101,A1,3,B,3.0,2.78,3.00\n" +
		"1002,202010,MATH,101,A1,3,A,4.0,3.00,3.00\n" +
		"1003,202010,MATH,101,A1,3,C,2.0,,\n" +
		"1001,202020,CHEM,200,B1,4,A,4.0,2.78,2.67\n" +
		"1001,202020,PE,1,X,2,P,,2.78,2.67\n"
	require.Equal(t, want, string(got))

	_, err = os.Stat(filepath.Join(dir, sidefile.DefaultMediansName))
	require.NoError(t, err, "median snapshot must be written")

	// Rerun: nothing new is computed and the file is left as it was.
	rep = runOnce(t, s)
	require.Zero(t, rep.Computed)
	require.Zero(t, rep.Written)
	require.Zero(t, rep.MedianComputed)
	again, err := os.ReadFile(filepath.Join(dir, "ledger.csv"))
	require.NoError(t, err)
	require.Equal(t, string(got), string(again))
}
