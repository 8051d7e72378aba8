package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares the full result against a
// golden file at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files snapshot the whole observable outcome of a run: compiled
// segment lengths, limiter insertions, the directory after the insert and
// the fleet plans. They catch drift anywhere in the pipeline, not just in
// the fields a scenario's expect block happens to name.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}

	// encoding/json sorts map keys, so the rendering is deterministic.
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result
}
