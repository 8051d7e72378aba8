package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one pipeline test case: a program to run and the
// expectations to hold against the run.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup is an optional path to a CUE setup directory, resolved
	// relative to the scenario file. Empty runs against the built-in
	// two-device setup.
	Setup string `yaml:"setup,omitempty"`

	// Program is the waveform program to build and write.
	Program Program `yaml:"program"`

	// Expect holds the checks to run against the result.
	Expect Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome a scenario demands. Every field is optional;
// an empty Expect only demands that the run succeeds.
type Expect struct {
	// Error is the pipeline error code the run must fail with, e.g.
	// DUTY_CYCLE or MEMORY_OVERFLOW. When set, the run failing with any
	// other code (or succeeding) fails the scenario.
	Error string `yaml:"error,omitempty"`

	// TriggerInjected, when set, demands that the trigger handshake
	// segments were (or were not) spliced in.
	TriggerInjected *bool `yaml:"trigger_injected,omitempty"`

	// Segments maps "device/channel" keys to the compiled segment lengths
	// expected on that channel, in order. Channels not named are not
	// checked.
	Segments map[string][]int64 `yaml:"segments,omitempty"`

	// InsertedSamples maps "device/channel" keys to the total idle
	// samples the duty-cycle limiter must have inserted there.
	InsertedSamples map[string]int64 `yaml:"inserted_samples,omitempty"`

	// Directory maps device names to the exact directory listing expected
	// after the insert. Devices not named are not checked.
	Directory map[string][]DirectoryRow `yaml:"directory,omitempty"`

	// StartPlan and StopPlan are the exact ordered fleet plans, as
	// "action device" strings like "arm 128m".
	StartPlan []string `yaml:"start_plan,omitempty"`
	StopPlan  []string `yaml:"stop_plan,omitempty"`
}

// DirectoryRow is one directory entry in scenario and result form.
type DirectoryRow struct {
	Sequence    string `yaml:"sequence" json:"sequence"`
	Channel     int    `yaml:"channel" json:"channel"`
	OffsetBytes int64  `yaml:"offset_bytes" json:"offset_bytes"`
	LengthBytes int64  `yaml:"length_bytes" json:"length_bytes"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected (catches typos like "expects:" vs "expect:"), the setup path is
// resolved relative to the scenario file, and required fields are validated.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the setup path before validation so error messages carry the
	// path that will actually be opened.
	if scenario.Setup != "" && !filepath.IsAbs(scenario.Setup) {
		scenario.Setup = filepath.Join(filepath.Dir(path), scenario.Setup)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// knownErrorCodes are the pipeline error codes an expect.error may name.
var knownErrorCodes = map[string]struct{}{
	CodeConfiguration: {},
	CodeDuplicateName: {},
	CodeNotFound:      {},
	CodeSealed:        {},
	CodeChannelSync:   {},
	CodeDutyCycle:     {},
	CodeOverflow:      {},
	CodeDuplicate:     {},
	CodeNotFinalized:  {},
	CodeIO:            {},
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if err := validateProgram(&s.Program); err != nil {
		return fmt.Errorf("program: %w", err)
	}
	if s.Expect.Error != "" {
		if _, ok := knownErrorCodes[s.Expect.Error]; !ok {
			return fmt.Errorf("expect.error: unknown error code %q", s.Expect.Error)
		}
	}
	for ch := range s.Expect.Segments {
		if _, err := parseChannel(ch); err != nil {
			return fmt.Errorf("expect.segments: %w", err)
		}
	}
	for ch := range s.Expect.InsertedSamples {
		if _, err := parseChannel(ch); err != nil {
			return fmt.Errorf("expect.inserted_samples: %w", err)
		}
	}
	return nil
}
