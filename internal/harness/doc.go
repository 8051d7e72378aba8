// Package harness runs declarative scenario files against the full
// compilation and memory pipeline.
//
// A scenario holds a waveform program plus a set of expectations. Running it
// builds the program with seq, finalizes it with coord (duty-cycle limiting,
// trigger injection, granularity compile, alignment check), writes it into a
// simulated device memory through a fresh devmem allocator, and replays the
// run's ledger to cross-check the resulting directory. Expectations are then
// evaluated against what actually happened.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	setup: path/to/setup-dir        # optional; built-in two-device setup if omitted
//	program:
//	  name: rabi
//	  channels: { 2g: [1, 2] }
//	  segments:
//	    - name: drive
//	      loop: 3
//	      steps:
//	        - name: pulse
//	          length_smpl: 384
//	          channels:
//	            2g/1: { kind: sine, components: [{ frequency_mhz: 100, amplitude: 0.4 }] }
//	expect:
//	  trigger_injected: false
//	  segments: { 2g/1: [384] }
//	  directory: { 2g: [{ sequence: rabi, channel: 1, offset_bytes: 0, length_bytes: 768 }] }
//	  start_plan: [start 2g]
//
// Every expect block is optional and matches a subset: segments and
// inserted_samples check only the channels they name, directory checks only
// the devices it names (but a named device's listing must match row for row).
// An expect.error names the pipeline error code the run must fail with.
//
// # Deterministic Execution
//
// Every run is hermetic. The ledger lives in an in-memory SQLite database,
// ledger tokens come from a counting token source (testutil.TokenCounter),
// and the device writer is the in-process simulator, so two runs of the same
// scenario produce identical results. That determinism is what makes golden
// file comparison (RunWithGolden) possible.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/rabi.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(context.Background(), scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
