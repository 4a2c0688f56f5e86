package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mind-engage/gpam/internal/config"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

var errInterrupted = errors.New("interrupted")

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error { return &exitError{code: code, err: err} }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// app carries what every subcommand needs once the root pre-run has loaded the config.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	var (
		configPath string
		logLevel   string
	)
	root := &cobra.Command{
		Use:           "gpam",
		Short:         "Compute median-weighted grade point averages over a registrar ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(a.log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (environment variables override it)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (default from LOG_LEVEL)")

	root.AddCommand(newRunCmd(a), newServeCmd(a), newHashPasswordCmd(), newIssueTokenCmd(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, errInterrupted) {
		fmt.Fprintln(os.Stderr, "gpam:", err)
	}
	os.Exit(exitCode(err))
}
