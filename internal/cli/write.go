package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/harness"
	"github.com/szaiser/m8190a/internal/journal"
	"github.com/szaiser/m8190a/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Setup         string
	Journal       string
	MetricsListen string
}

// WriteResult holds the write command output.
type WriteResult struct {
	Programs  []ProgramSummary                  `json:"programs"`
	Directory map[string][]harness.DirectoryRow `json:"directory"`

	// ReplayedOps counts the ledger operations replayed to continue an
	// earlier session. Zero for a fresh ledger.
	ReplayedOps int `json:"replayed_ops,omitempty"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <program.yaml> [program.yaml ...]",
		Short: "Compile programs and write them into device memory",
		Long: `Compile waveform programs and write the synthesized sample blocks and
sequencer tables into (simulated) device memory.

With --journal every memory operation is recorded in a SQLite ledger before
the directory commits; pointing a later write or delete at the same ledger
continues the session where it left off. The final memory directory and the
fleet start/stop plan are printed after the writes.

With --metrics-listen the command keeps running after the writes and serves
Prometheus metrics on /metrics until interrupted.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Setup, "setup", "s", os.Getenv("AWGCTL_SETUP"), "setup directory (CUE)")
	cmd.Flags().StringVar(&opts.Journal, "journal", os.Getenv("AWGCTL_JOURNAL"), "path to the SQLite operation ledger")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address after writing")

	return cmd
}

func runWrite(opts *WriteOptions, files []string, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadSetupDir(opts.Setup)
	if err != nil {
		return outputWriteError(formatter, ErrCodeSetup, err.Error())
	}

	var allocOpts []devmem.AllocatorOption

	var ledger *journal.Journal
	if opts.Journal != "" {
		ledger, err = journal.Open(opts.Journal)
		if err != nil {
			return outputWriteError(formatter, ErrCodeLedger, err.Error())
		}
		defer ledger.Close()
		allocOpts = append(allocOpts, devmem.WithJournal(ledger))
	}

	var met *metrics.Metrics
	if opts.MetricsListen != "" {
		met = metrics.New()
		allocOpts = append(allocOpts, devmem.WithMetrics(met))
	}

	alloc := devmem.NewAllocator(cfg, devmem.NewSimWriter(cfg.Capacities()), allocOpts...)

	result := &WriteResult{}
	if ledger != nil {
		replayed, err := restoreSession(ctx, cfg, ledger, alloc)
		if err != nil {
			return outputWriteError(formatter, ErrCodeLedger, fmt.Sprintf("continuing ledger session: %v", err))
		}
		result.ReplayedOps = replayed
		if replayed > 0 {
			formatter.VerboseLog("Replayed %d ledger operation(s) from %s", replayed, opts.Journal)
		}
	}

	for _, file := range files {
		formatter.VerboseLog("Writing program: %s", file)

		s, report, err := compileProgram(cfg, file)
		if err != nil {
			return outputWriteError(formatter, issueCode(err), fmt.Sprintf("%s: %v", file, err))
		}
		if err := alloc.Insert(ctx, s); err != nil {
			return outputWriteError(formatter, pipelineCode(err), fmt.Sprintf("%s: %v", file, err))
		}

		sum := summarize(s, report)
		sum.File = file
		attachPlans(&sum, s, cfg)
		if met != nil {
			for _, ch := range sum.Channels {
				met.AddIdleSamples(ch.IdleSamples)
			}
		}
		result.Programs = append(result.Programs, sum)
	}

	result.Directory = directoryRows(alloc)

	if err := outputWriteSuccess(formatter, result, alloc); err != nil {
		return err
	}

	if opts.MetricsListen != "" {
		return serveMetrics(formatter, opts.MetricsListen, met, alloc)
	}
	return nil
}

// outputWriteSuccess outputs the written programs and the directory state.
func outputWriteSuccess(formatter *OutputFormatter, result *WriteResult, alloc *devmem.Allocator) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	if result.ReplayedOps > 0 {
		fmt.Fprintf(formatter.Writer, "Continued ledger session (%d operation(s) replayed)\n\n", result.ReplayedOps)
	}
	for _, sum := range result.Programs {
		fmt.Fprintf(formatter.Writer, "✓ Wrote %s (%s)\n", sum.Name, sum.File)
		writeSummaryText(formatter.Writer, sum)
		fmt.Fprintln(formatter.Writer)
	}
	writeDirectoryText(formatter.Writer, alloc)

	return nil
}

// outputWriteError outputs a single write failure.
func outputWriteError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// serveMetrics blocks serving /metrics until the process is interrupted.
// Memory gauges are refreshed from the allocator on every scrape.
func serveMetrics(formatter *OutputFormatter, addr string, met *metrics.Metrics, alloc *devmem.Allocator) error {
	updateGauges := func() {
		for _, dev := range alloc.Devices() {
			used, capacity, err := alloc.Usage(dev)
			if err == nil {
				met.SetMemoryUsage(dev, used, capacity)
			}
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler(updateGauges))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	fmt.Fprintf(formatter.GetErrWriter(), "Serving /metrics on %s, interrupt to stop\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(formatter.GetErrWriter(), "Received %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return WrapExitError(ExitCommandError, "metrics server shutdown", err)
		}
		return nil
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "metrics server", err)
	}
}
