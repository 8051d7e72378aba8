package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/harness"
	"github.com/szaiser/m8190a/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Setup   string
	Journal string
}

// DeviceReplay holds the replay result for a single device.
type DeviceReplay struct {
	Device        string                 `json:"device"`
	Inserts       int                    `json:"inserts"`
	Deletes       int                    `json:"deletes"`
	Rewrites      int                    `json:"rewrites"`
	UsedBytes     int64                  `json:"used_bytes"`
	CapacityBytes int64                  `json:"capacity_bytes"`
	Entries       []harness.DirectoryRow `json:"entries,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	TotalOps int            `json:"total_ops"`
	Devices  []DeviceReplay `json:"devices"`
	Verified bool           `json:"verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the operation ledger and verify it",
		Long: `Replay the operation ledger in order and verify that it rebuilds a
consistent memory directory: blocks packed from byte zero, no overlaps,
nothing past a device's capacity.

This is the crash-recovery path run by hand: it reports per-device
operation counts and the directory state the ledger ends in.

Exit codes:
  0 - ledger replays cleanly
  1 - replay verification failed (the ledger contradicts itself)
  2 - command error (ledger not found, bad setup, etc.)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Setup, "setup", "s", os.Getenv("AWGCTL_SETUP"), "setup directory (CUE)")
	cmd.Flags().StringVar(&opts.Journal, "journal", os.Getenv("AWGCTL_JOURNAL"), "path to the SQLite operation ledger")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadSetupDir(opts.Setup)
	if err != nil {
		return outputReplayError(formatter, ErrCodeSetup, err.Error())
	}

	if err := requireLedgerFile(opts.Journal); err != nil {
		return outputReplayError(formatter, ErrCodeLedger, err.Error())
	}
	ledger, err := journal.Open(opts.Journal)
	if err != nil {
		return outputReplayError(formatter, ErrCodeLedger, err.Error())
	}
	defer ledger.Close()

	ops, err := ledger.List(ctx)
	if err != nil {
		return outputReplayError(formatter, ErrCodeLedger, err.Error())
	}

	if len(ops) == 0 {
		if opts.Format == "json" {
			return formatter.Success(ReplayResult{Devices: []DeviceReplay{}, Verified: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No operations recorded in ledger.")
		return nil
	}

	formatter.VerboseLog("Replaying %d ledger operation(s)", len(ops))

	dirs, err := devmem.Rebuild(cfg, ops)
	if err != nil {
		return outputReplayFailure(formatter, len(ops), err)
	}

	result := ReplayResult{
		TotalOps: len(ops),
		Verified: true,
	}
	counts := countOps(ops)
	for _, dev := range sortedDevices(dirs) {
		dir := dirs[dev]
		dr := DeviceReplay{
			Device:        dev,
			Inserts:       counts[dev][journal.KindInsert],
			Deletes:       counts[dev][journal.KindDelete],
			Rewrites:      counts[dev][journal.KindRewrite],
			UsedBytes:     dir.UsedBytes(),
			CapacityBytes: dir.CapacityBytes(),
		}
		for _, e := range dir.Entries() {
			dr.Entries = append(dr.Entries, harness.DirectoryRow{
				Sequence:    e.Sequence,
				Channel:     e.Channel,
				OffsetBytes: e.OffsetBytes,
				LengthBytes: e.LengthBytes,
			})
		}
		result.Devices = append(result.Devices, dr)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputReplayText(formatter, result)
}

// countOps tallies ops per device and kind.
func countOps(ops []journal.Op) map[string]map[journal.Kind]int {
	counts := make(map[string]map[journal.Kind]int)
	for _, op := range ops {
		if counts[op.Device] == nil {
			counts[op.Device] = make(map[journal.Kind]int)
		}
		counts[op.Device][op.Kind]++
	}
	return counts
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay: %d operation(s)\n", result.TotalOps)
	fmt.Fprintln(w)

	for _, dev := range result.Devices {
		fmt.Fprintf(w, "✓ %s: %d insert(s), %d delete(s), %d rewrite(s)\n",
			dev.Device, dev.Inserts, dev.Deletes, dev.Rewrites)
		for _, e := range dev.Entries {
			fmt.Fprintf(w, "    %s ch%d @%d +%d\n", e.Sequence, e.Channel, e.OffsetBytes, e.LengthBytes)
		}
		fmt.Fprintf(w, "    used %d of %d bytes\n", dev.UsedBytes, dev.CapacityBytes)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "✓ Ledger replay verified")
	return nil
}

// outputReplayFailure reports a ledger that does not rebuild consistently.
func outputReplayFailure(formatter *OutputFormatter, totalOps int, cause error) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ReplayResult{TotalOps: totalOps, Verified: false},
			Error: &CLIError{
				Code:    ErrCodeReplay,
				Message: cause.Error(),
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Replay verification failure = exit code 1
		return NewExitError(ExitFailure, "ledger replay verification failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Ledger replay failed")
	fmt.Fprintf(formatter.Writer, "  %v\n", cause)

	// Replay verification failure = exit code 1
	return NewExitError(ExitFailure, "ledger replay verification failed")
}

// outputReplayError outputs a single command-level error.
func outputReplayError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
