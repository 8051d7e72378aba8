package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/harness"
	"github.com/szaiser/m8190a/internal/journal"
	"github.com/szaiser/m8190a/internal/seq"
	"github.com/szaiser/m8190a/internal/setup"
	"github.com/szaiser/m8190a/internal/wave"
)

// CLI-level error code constants, used where a failure happens before the
// pipeline produces its own coded error (CONFIGURATION, MEMORY_OVERFLOW,
// DUTY_CYCLE, ...).
const (
	ErrCodeSetup      = "E_SETUP"       // setup directory missing or failed to compile
	ErrCodeProgram    = "E_PROGRAM"     // program YAML missing or malformed
	ErrCodeLedger     = "E_LEDGER"      // operation ledger missing or unreadable
	ErrCodeOutput     = "E_OUTPUT"      // output file write error
	ErrCodePipeline   = "E_PIPELINE"    // pipeline failure without a coded error
	ErrCodeTestFailed = "E_TEST_FAILED" // scenario test failures
	ErrCodeReplay     = "E_REPLAY"      // ledger replay verification failed
)

// pipelineCode maps a build/finalize/insert error onto its pipeline error
// code, or ErrCodePipeline when the error carries none.
func pipelineCode(err error) string {
	if code := harness.ErrorCode(err); code != "" {
		return code
	}
	return ErrCodePipeline
}

// loadSetupDir loads the CUE setup the command operates on. An empty path
// means neither -s nor AWGCTL_SETUP was given.
func loadSetupDir(path string) (*setup.Setup, error) {
	if path == "" {
		return nil, fmt.Errorf("setup directory required (use -s or AWGCTL_SETUP)")
	}
	return setup.Load(path)
}

// requireLedgerFile verifies an existing ledger, so inspection and delete
// commands don't create empty ledgers as a side effect of opening one.
func requireLedgerFile(path string) error {
	if path == "" {
		return fmt.Errorf("operation ledger required (use --journal or AWGCTL_JOURNAL)")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("operation ledger %s: %w", path, err)
	}
	return nil
}

// compileProgram loads a program file, builds its sequence against the setup
// and finalizes it: duty-cycle limiting, trigger injection, granularity
// padding. The returned sequence is sealed.
func compileProgram(cfg *setup.Setup, path string, opts ...coord.FinalizeOption) (*seq.Sequence, coord.Report, error) {
	prog, err := harness.LoadProgram(path)
	if err != nil {
		return nil, coord.Report{}, err
	}
	s, err := prog.Build(cfg)
	if err != nil {
		return nil, coord.Report{}, err
	}
	report, err := coord.Finalize(s, cfg, opts...)
	if err != nil {
		return nil, coord.Report{}, err
	}
	return s, report, nil
}

// ChannelSummary describes one channel of a compiled program.
type ChannelSummary struct {
	Channel     string  `json:"channel"`
	Segments    int     `json:"segments"`
	Samples     int64   `json:"samples"`
	Bytes       int64   `json:"bytes"`
	DurationMus float64 `json:"duration_mus"`

	// IdleSamples counts what the duty-cycle limiter inserted.
	IdleSamples int64 `json:"idle_samples,omitempty"`
}

// ProgramSummary describes one compiled program.
type ProgramSummary struct {
	Name            string           `json:"name"`
	File            string           `json:"file,omitempty"`
	TriggerInjected bool             `json:"trigger_injected"`
	Channels        []ChannelSummary `json:"channels"`

	// StartPlan and StopPlan are only populated once the sequence is
	// resident in device memory (the write command).
	StartPlan []string `json:"start_plan,omitempty"`
	StopPlan  []string `json:"stop_plan,omitempty"`
}

// summarize collapses a finalized sequence into its per-channel numbers.
func summarize(s *seq.Sequence, report coord.Report) ProgramSummary {
	sum := ProgramSummary{
		Name:            s.Name,
		TriggerInjected: report.TriggerInjected,
	}
	for _, ch := range s.Channels() {
		sum.Channels = append(sum.Channels, ChannelSummary{
			Channel:     ch.String(),
			Segments:    s.SegmentCount(ch),
			Samples:     s.RepeatedLengthSmpl(ch),
			Bytes:       wave.ChannelByteLength(s, ch),
			DurationMus: s.LengthMus(ch),
			IdleSamples: report.Power.InsertedSamples(ch),
		})
	}
	return sum
}

// attachPlans fills in the fleet start/stop plans. Plans are advisory: a
// sequence on a masterless multi-device fleet is resident but cannot be
// planned, so the summary simply carries none.
func attachPlans(sum *ProgramSummary, s *seq.Sequence, cfg *setup.Setup) {
	start, err := coord.StartPlan(s, cfg)
	if err != nil {
		return
	}
	stop, err := coord.StopPlan(s, cfg)
	if err != nil {
		return
	}
	sum.StartPlan = planStrings(start)
	sum.StopPlan = planStrings(stop)
}

func planStrings(ops []coord.Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// restoreSession continues a journaled session: replay the ledger into
// per-device directories and adopt them in the allocator. Returns the number
// of replayed operations; zero means a fresh ledger.
func restoreSession(ctx context.Context, cfg *setup.Setup, ledger *journal.Journal, alloc *devmem.Allocator) (int, error) {
	ops, err := ledger.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}
	dirs, err := devmem.Rebuild(cfg, ops)
	if err != nil {
		return 0, err
	}
	if err := alloc.Restore(dirs); err != nil {
		return 0, err
	}
	return len(ops), nil
}

// directoryRows snapshots the non-empty device directories.
func directoryRows(alloc *devmem.Allocator) map[string][]harness.DirectoryRow {
	out := make(map[string][]harness.DirectoryRow)
	for _, dev := range alloc.Devices() {
		entries, err := alloc.Entries(dev)
		if err != nil || len(entries) == 0 {
			continue
		}
		rows := make([]harness.DirectoryRow, len(entries))
		for i, e := range entries {
			rows[i] = harness.DirectoryRow{
				Sequence:    e.Sequence,
				Channel:     e.Channel,
				OffsetBytes: e.OffsetBytes,
				LengthBytes: e.LengthBytes,
			}
		}
		out[dev] = rows
	}
	return out
}

// writeDirectoryText renders the memory directory for human output.
func writeDirectoryText(w io.Writer, alloc *devmem.Allocator) {
	fmt.Fprintln(w, "Memory directory:")
	for _, dev := range alloc.Devices() {
		used, capacity, err := alloc.Usage(dev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %s: %d of %d bytes\n", dev, used, capacity)
		entries, err := alloc.Entries(dev)
		if err != nil {
			continue
		}
		for _, e := range entries {
			fmt.Fprintf(w, "    %s ch%d @%d +%d\n", e.Sequence, e.Channel, e.OffsetBytes, e.LengthBytes)
		}
	}
}

// sortedDevices returns the map's device names in order.
func sortedDevices[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
