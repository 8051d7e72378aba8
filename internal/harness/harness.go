package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/journal"
	"github.com/szaiser/m8190a/internal/setup"
	"github.com/szaiser/m8190a/internal/testutil"
)

// Run executes a scenario against the full pipeline and returns the result.
//
// Each scenario runs against a fresh in-memory ledger and a fresh simulated
// device memory for isolation; deterministic token minting keeps repeated
// runs identical.
//
// Execution flow:
// 1. Load the setup (scenario path or built-in default)
// 2. Build the program and finalize it (limiter, trigger, compile)
// 3. Insert the sequence into simulated device memory
// 4. Replay the ledger and cross-check it against the live directory
// 5. Evaluate the expect block against what happened
//
// A pipeline error is part of the scenario outcome, matched against
// expect.error. Run itself only fails on harness plumbing: an unreadable
// setup or a ledger that cannot be opened.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := loadSetup(scenario.Setup)
	if err != nil {
		return nil, fmt.Errorf("failed to load setup: %w", err)
	}

	ledger, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory ledger: %w", err)
	}
	defer ledger.Close()

	result := NewResult(scenario.Name)
	runErr := execute(ctx, scenario, cfg, ledger, result)
	if runErr != nil {
		result.ErrorCode = ErrorCode(runErr)
	}
	evaluate(scenario, result, runErr)
	return result, nil
}

// loadSetup opens the scenario's setup directory, or falls back to the
// built-in two-device setup when the scenario names none.
func loadSetup(path string) (*setup.Setup, error) {
	if path == "" {
		return testutil.DefaultSetup(), nil
	}
	return setup.Load(path)
}

// execute drives the pipeline and fills the result with observations as far
// as the run gets. The returned error is the pipeline failure, if any.
func execute(ctx context.Context, scenario *Scenario, cfg *setup.Setup, ledger *journal.Journal, result *Result) error {
	s, err := scenario.Program.Build(cfg)
	if err != nil {
		return err
	}

	report, err := coord.Finalize(s, cfg)
	if err != nil {
		return err
	}
	result.TriggerInjected = report.TriggerInjected

	result.Segments = make(map[string][]int64, len(s.Channels()))
	for _, ch := range s.Channels() {
		segs, err := s.Segments(ch)
		if err != nil {
			return err
		}
		lengths := make([]int64, len(segs))
		for i, g := range segs {
			lengths[i] = g.CompiledLengthSmpl()
		}
		result.Segments[ch.String()] = lengths

		if n := report.Power.InsertedSamples(ch); n > 0 {
			if result.InsertedSamples == nil {
				result.InsertedSamples = make(map[string]int64)
			}
			result.InsertedSamples[ch.String()] = n
		}
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	alloc := devmem.NewAllocator(cfg, devmem.NewSimWriter(cfg.Capacities()),
		devmem.WithJournal(ledger),
		devmem.WithTokenSource(testutil.NewTokenCounter("scenario")),
		devmem.WithLogger(quiet),
	)
	if err := alloc.Insert(ctx, s); err != nil {
		return err
	}

	result.Directory = make(map[string][]DirectoryRow)
	for _, dev := range alloc.Devices() {
		entries, err := alloc.Entries(dev)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		rows := make([]DirectoryRow, len(entries))
		for i, e := range entries {
			rows[i] = DirectoryRow{
				Sequence:    e.Sequence,
				Channel:     e.Channel,
				OffsetBytes: e.OffsetBytes,
				LengthBytes: e.LengthBytes,
			}
		}
		result.Directory[dev] = rows
	}

	crossCheckLedger(ctx, cfg, ledger, alloc, result)

	// Plans are advisory: a multi-device program without its master still
	// compiles and writes, it just cannot be started as a fleet.
	if ops, err := coord.StartPlan(s, cfg); err == nil {
		result.StartPlan = formatPlan(ops)
	}
	if ops, err := coord.StopPlan(s, cfg); err == nil {
		result.StopPlan = formatPlan(ops)
	}

	return nil
}

// crossCheckLedger replays the run's ledger from scratch and verifies that
// the rebuilt directories match the live ones. A divergence means the ledger
// would lie after a crash, which fails the scenario regardless of its
// expectations.
func crossCheckLedger(ctx context.Context, cfg *setup.Setup, ledger *journal.Journal, alloc *devmem.Allocator, result *Result) {
	ops, err := ledger.List(ctx)
	if err != nil {
		result.AddError("ledger replay: list ops: %v", err)
		return
	}
	dirs, err := devmem.Rebuild(cfg, ops)
	if err != nil {
		result.AddError("ledger replay: %v", err)
		return
	}
	for _, dev := range alloc.Devices() {
		live, err := alloc.Entries(dev)
		if err != nil {
			result.AddError("ledger replay: %v", err)
			return
		}
		if !reflect.DeepEqual(dirs[dev].Entries(), live) {
			result.AddError("ledger replay diverges from live directory on device %s", dev)
		}
	}
}

// formatPlan renders fleet ops as "action device" strings.
func formatPlan(ops []coord.Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// evaluate holds the scenario's expect block against the result.
func evaluate(scenario *Scenario, result *Result, runErr error) {
	expect := scenario.Expect

	if expect.Error != "" {
		if runErr == nil {
			result.AddError("expected error %s, but the run succeeded", expect.Error)
		} else if result.ErrorCode != expect.Error {
			result.AddError("expected error %s, got %s (%v)", expect.Error, orUncoded(result.ErrorCode), runErr)
		}
		// An expected failure aborts the pipeline early; the remaining
		// expectations have nothing to match against.
		return
	}
	if runErr != nil {
		result.AddError("run failed with %s: %v", orUncoded(result.ErrorCode), runErr)
		return
	}

	if expect.TriggerInjected != nil && result.TriggerInjected != *expect.TriggerInjected {
		result.AddError("trigger_injected: expected %t, got %t", *expect.TriggerInjected, result.TriggerInjected)
	}

	for _, ch := range sortedKeys(expect.Segments) {
		want := expect.Segments[ch]
		got, ok := result.Segments[ch]
		if !ok {
			result.AddError("segments[%s]: channel not in program", ch)
			continue
		}
		if !reflect.DeepEqual(want, got) {
			result.AddError("segments[%s]: expected %v, got %v", ch, want, got)
		}
	}

	for _, ch := range sortedKeys(expect.InsertedSamples) {
		want := expect.InsertedSamples[ch]
		if got := result.InsertedSamples[ch]; got != want {
			result.AddError("inserted_samples[%s]: expected %d, got %d", ch, want, got)
		}
	}

	for _, dev := range sortedKeys(expect.Directory) {
		want := expect.Directory[dev]
		got, ok := result.Directory[dev]
		if !ok {
			result.AddError("directory[%s]: device holds no blocks", dev)
			continue
		}
		if !reflect.DeepEqual(want, got) {
			result.AddError("directory[%s]: expected %v, got %v", dev, want, got)
		}
	}

	if expect.StartPlan != nil && !reflect.DeepEqual(expect.StartPlan, result.StartPlan) {
		result.AddError("start_plan: expected %v, got %v", expect.StartPlan, result.StartPlan)
	}
	if expect.StopPlan != nil && !reflect.DeepEqual(expect.StopPlan, result.StopPlan) {
		result.AddError("stop_plan: expected %v, got %v", expect.StopPlan, result.StopPlan)
	}
}

// orUncoded names errors outside the pipeline taxonomy in messages.
func orUncoded(code string) string {
	if code == "" {
		return "an uncoded error"
	}
	return code
}

// sortedKeys returns the map's keys in sorted order so expectation errors
// come out in a stable order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
