package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mind-engage/gpam/internal/db"
	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/ledger"
	"github.com/mind-engage/gpam/internal/sidefile"
	"github.com/mind-engage/gpam/internal/sqlstore"
	"github.com/mind-engage/gpam/internal/storage"
)

type runOptions struct {
	rosterPath      string
	ledgerPath      string
	outPath         string // empty: rewrite the ledger in place
	mediansPath     string // empty: course_medians.csv next to the ledger
	warmMedians     bool
	checkpointEvery int
	dbDriver        string
	dbDSN           string
	jsonReport      bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run ROSTER LEDGER",
		Short: "Fill GPAM and TERM_GPAM for every admitted student in the ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.rosterPath, opts.ledgerPath = args[0], args[1]
			fl := cmd.Flags()
			if !fl.Changed("medians") {
				opts.mediansPath = a.cfg.MediansPath
			}
			if !fl.Changed("checkpoint-every") {
				opts.checkpointEvery = a.cfg.CheckpointEvery
			}
			if !fl.Changed("warm-medians") {
				opts.warmMedians = a.cfg.WarmMedians
			}
			if !fl.Changed("db-driver") {
				opts.dbDriver = a.cfg.DBDriver
			}
			if !fl.Changed("db-dsn") {
				opts.dbDSN = a.cfg.DBDSN
			}

			rep, err := runBatch(cmd.Context(), a.log, opts)
			if err != nil {
				return err
			}
			if err := printReport(cmd.OutOrStdout(), rep, opts.jsonReport); err != nil {
				return err
			}
			if rep.Interrupted {
				return withCode(exitInterrupted, errInterrupted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.outPath, "out", "", "Write the updated ledger here instead of in place")
	cmd.Flags().StringVar(&opts.mediansPath, "medians", "", "Median cache file (default: course_medians.csv next to the ledger)")
	cmd.Flags().BoolVar(&opts.warmMedians, "warm-medians", false, "Compute every course median before the pass")
	cmd.Flags().IntVar(&opts.checkpointEvery, "checkpoint-every", 0, "Flush after this many aggregates (0: only at the end)")
	cmd.Flags().StringVar(&opts.dbDriver, "db-driver", "", "sqlite|postgres: also record medians, results and the run in SQL")
	cmd.Flags().StringVar(&opts.dbDSN, "db-dsn", "", "Database DSN")
	cmd.Flags().BoolVar(&opts.jsonReport, "json", false, "Print the run report as JSON")
	return cmd
}

// runBatch loads the inputs, runs one pass and records it. An interrupted pass is returned
// with Report.Interrupted set and a nil error.
func runBatch(ctx context.Context, log *slog.Logger, opts runOptions) (gpam.Report, error) {
	rosterStore, rosterKey, err := storage.ForPath(opts.rosterPath)
	if err != nil {
		return gpam.Report{}, err
	}
	roster, faults, err := sidefile.ReadRoster(rosterStore, rosterKey)
	if err != nil {
		return gpam.Report{}, err
	}
	logFaults(log, opts.rosterPath, faults)

	ledgerStore, ledgerKey, err := storage.ForPath(opts.ledgerPath)
	if err != nil {
		return gpam.Report{}, err
	}
	l, faults, err := sidefile.ReadLedger(ledgerStore, ledgerKey)
	if err != nil {
		return gpam.Report{}, err
	}
	logFaults(log, opts.ledgerPath, faults)
	log.Info("inputs loaded", "roster", len(roster), "ledger_rows", len(l.Records), "faults", len(faults))

	out := &sidefile.LedgerFile{Ledger: l, Store: ledgerStore, Key: ledgerKey}
	if opts.outPath != "" {
		if out.Store, out.Key, err = storage.ForPath(opts.outPath); err != nil {
			return gpam.Report{}, err
		}
	}

	mediansPath := opts.mediansPath
	if mediansPath == "" {
		mediansPath = filepath.Join(filepath.Dir(opts.ledgerPath), sidefile.DefaultMediansName)
	}
	mStore, mKey, err := storage.ForPath(mediansPath)
	if err != nil {
		return gpam.Report{}, err
	}
	var (
		medianStore gpam.MedianStore = &sidefile.MedianFile{Store: mStore, Key: mKey}
		sinks                        = sidefile.Sinks{out}
		sqlStore    *sqlstore.Store
	)
	if opts.dbDriver != "" {
		drv, err := db.ParseDriver(opts.dbDriver)
		if err != nil {
			return gpam.Report{}, err
		}
		dbh, err := db.Open(ctx, drv, opts.dbDSN)
		if err != nil {
			return gpam.Report{}, err
		}
		defer dbh.Close()
		sqlStore = sqlstore.New(dbh)
		medianStore = sqlStore
		sinks = append(sinks, sqlStore)
	}

	seed, err := medianStore.LoadMedians(ctx)
	if err != nil {
		return gpam.Report{}, err
	}
	log.Info("median cache loaded", "entries", len(seed))

	idx := gpam.NewCourseIndex(l.Records)
	medians := gpam.NewMedianCache(idx, seed)
	runner := gpam.NewRunner(idx, medians, gpam.NewEngine(idx, medians), gpam.NewAdmittanceFilter(roster),
		gpam.WithResultSink(sinks),
		gpam.WithMedianStore(medianStore),
		gpam.WithLogger(log),
		gpam.WithCheckpointEvery(opts.checkpointEvery),
	)

	if opts.warmMedians {
		if err := medians.Warm(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return gpam.Report{}, err
		}
		log.Info("median cache warmed", "entries", medians.Len(), "computed", medians.Computed())
	}

	rep, runErr := runner.Run(ctx)
	if sqlStore != nil {
		if err := sqlStore.RecordRun(context.WithoutCancel(ctx), rep); err != nil {
			log.Error("record run failed", "run_id", rep.RunID, "error", err)
		}
	}
	return rep, runErr
}

func logFaults(log *slog.Logger, path string, faults []ledger.RowFault) {
	for _, f := range faults {
		log.Warn("skipping malformed row", "file", path, "line", f.Line, "error", f.Err)
	}
}

func printReport(w io.Writer, rep gpam.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	_, err := fmt.Fprintf(w,
		"run %s %s: %d computed, %d rows written, %d already present, %d not admitted, %d zero units, %d medians computed\n",
		rep.RunID, rep.Outcome(), rep.Computed, rep.Written, rep.AlreadyPresent,
		rep.SkippedNotAdmitted, rep.SkippedZeroUnits, rep.MedianComputed)
	return err
}
