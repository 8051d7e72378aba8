package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/harness"
	"github.com/szaiser/m8190a/internal/journal"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Setup   string
	Journal string
}

// DeleteResult holds the delete command output.
type DeleteResult struct {
	Sequence string `json:"sequence"`

	// FreedBytes is the per-device memory released by the delete.
	FreedBytes map[string]int64 `json:"freed_bytes"`

	Directory   map[string][]harness.DirectoryRow `json:"directory"`
	ReplayedOps int                               `json:"replayed_ops"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <sequence-name>",
		Short: "Delete a sequence from device memory and compact",
		Long: `Delete a resident sequence on every device holding its blocks, then
compact the remaining blocks down to close the gap.

The command continues the journaled session at --journal: the ledger is
replayed to recover the memory directory, the delete and every compaction
move are recorded, and the resulting directory is printed.

Exit codes:
  0 - sequence deleted
  2 - command error (sequence not resident, bad setup, ledger problems)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Setup, "setup", "s", os.Getenv("AWGCTL_SETUP"), "setup directory (CUE)")
	cmd.Flags().StringVar(&opts.Journal, "journal", os.Getenv("AWGCTL_JOURNAL"), "path to the SQLite operation ledger")

	return cmd
}

func runDelete(opts *DeleteOptions, name string, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadSetupDir(opts.Setup)
	if err != nil {
		return outputDeleteError(formatter, ErrCodeSetup, err.Error())
	}

	if err := requireLedgerFile(opts.Journal); err != nil {
		return outputDeleteError(formatter, ErrCodeLedger, err.Error())
	}
	ledger, err := journal.Open(opts.Journal)
	if err != nil {
		return outputDeleteError(formatter, ErrCodeLedger, err.Error())
	}
	defer ledger.Close()

	alloc := devmem.NewAllocator(cfg, devmem.NewSimWriter(cfg.Capacities()), devmem.WithJournal(ledger))

	replayed, err := restoreSession(ctx, cfg, ledger, alloc)
	if err != nil {
		return outputDeleteError(formatter, ErrCodeLedger, fmt.Sprintf("continuing ledger session: %v", err))
	}
	formatter.VerboseLog("Replayed %d ledger operation(s) from %s", replayed, opts.Journal)

	freed := usageSnapshot(alloc)
	if err := alloc.Delete(ctx, name); err != nil {
		return outputDeleteError(formatter, pipelineCode(err), err.Error())
	}
	for dev, used := range usageSnapshot(alloc) {
		freed[dev] -= used
	}

	result := &DeleteResult{
		Sequence:    name,
		FreedBytes:  freed,
		Directory:   directoryRows(alloc),
		ReplayedOps: replayed,
	}
	return outputDeleteSuccess(formatter, result, alloc)
}

// usageSnapshot captures the used bytes of every device.
func usageSnapshot(alloc *devmem.Allocator) map[string]int64 {
	out := make(map[string]int64)
	for _, dev := range alloc.Devices() {
		used, _, err := alloc.Usage(dev)
		if err == nil {
			out[dev] = used
		}
	}
	return out
}

// outputDeleteSuccess outputs the delete result and the compacted directory.
func outputDeleteSuccess(formatter *OutputFormatter, result *DeleteResult, alloc *devmem.Allocator) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Deleted %s\n", result.Sequence)
	for _, dev := range sortedDevices(result.FreedBytes) {
		if result.FreedBytes[dev] > 0 {
			fmt.Fprintf(formatter.Writer, "  %s: freed %d bytes\n", dev, result.FreedBytes[dev])
		}
	}
	fmt.Fprintln(formatter.Writer)
	writeDirectoryText(formatter.Writer, alloc)

	return nil
}

// outputDeleteError outputs a single delete failure.
func outputDeleteError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
