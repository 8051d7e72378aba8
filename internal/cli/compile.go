package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/seq"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Setup          string
	Output         string // output file path
	Tree           bool
	SkipPowerLimit bool
}

// CompilationResult holds the compiled program summaries.
type CompilationResult struct {
	Programs []ProgramSummary `json:"programs"`
}

// CompileIssue is one program that failed to compile.
type CompileIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program.yaml> [program.yaml ...]",
		Short: "Compile waveform programs without writing to memory",
		Long: `Compile waveform programs against a setup: build every channel's
segment run, apply the duty-cycle limiter, inject the cross-device trigger
handshake, and pad segments to sequencer granularity.

Nothing is written anywhere; this is the dry run that shows what write
would put into device memory.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Setup, "setup", "s", os.Getenv("AWGCTL_SETUP"), "setup directory (CUE)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON summary to a file")
	cmd.Flags().BoolVar(&opts.Tree, "tree", false, "print the full sequence tree per program")
	cmd.Flags().BoolVar(&opts.SkipPowerLimit, "skip-power-limit", false, "compile without the duty-cycle limiter")

	return cmd
}

func runCompile(opts *CompileOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadSetupDir(opts.Setup)
	if err != nil {
		return outputCompileError(formatter, ErrCodeSetup, err.Error())
	}

	var finalizeOpts []coord.FinalizeOption
	if opts.SkipPowerLimit {
		finalizeOpts = append(finalizeOpts, coord.IgnorePowerLimit())
	}

	result := &CompilationResult{}
	var trees []string
	var issues []CompileIssue

	for _, file := range files {
		formatter.VerboseLog("Compiling program: %s", file)

		s, report, err := compileProgram(cfg, file, finalizeOpts...)
		if err != nil {
			issues = append(issues, CompileIssue{
				File:    file,
				Code:    issueCode(err),
				Message: err.Error(),
			})
			continue
		}

		sum := summarize(s, report)
		sum.File = file
		result.Programs = append(result.Programs, sum)

		if opts.Tree {
			var b strings.Builder
			if err := seq.WriteInfo(&b, s); err != nil {
				return outputCompileError(formatter, ErrCodeOutput, err.Error())
			}
			trees = append(trees, b.String())
		}
	}

	if len(issues) > 0 {
		return outputCompileIssues(formatter, issues)
	}

	if opts.Output != "" {
		if err := writeSummaryFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeOutput, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, trees, opts.Output)
}

// issueCode picks the error code for a failed program: the program loader's
// own failures are E_PROGRAM, everything past that carries a pipeline code.
func issueCode(err error) string {
	if code := pipelineCode(err); code != ErrCodePipeline {
		return code
	}
	return ErrCodeProgram
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, trees []string, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	for i, sum := range result.Programs {
		fmt.Fprintf(formatter.Writer, "✓ Compiled %s (%s)\n", sum.Name, sum.File)
		writeSummaryText(formatter.Writer, sum)
		if len(trees) > 0 {
			fmt.Fprintln(formatter.Writer)
			fmt.Fprint(formatter.Writer, trees[i])
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote summary to %s\n", outputFile)
	}

	return nil
}

// writeSummaryText renders one program summary's channel lines.
func writeSummaryText(w io.Writer, sum ProgramSummary) {
	if sum.TriggerInjected {
		fmt.Fprintln(w, "  trigger handshake injected")
	}
	for _, ch := range sum.Channels {
		fmt.Fprintf(w, "  %s: %d segment(s), %d samples, %d bytes, %.3f µs\n",
			ch.Channel, ch.Segments, ch.Samples, ch.Bytes, ch.DurationMus)
		if ch.IdleSamples > 0 {
			fmt.Fprintf(w, "  %s: limiter inserted %d idle samples\n", ch.Channel, ch.IdleSamples)
		}
	}
	if len(sum.StartPlan) > 0 {
		fmt.Fprintf(w, "  start plan: %s\n", strings.Join(sum.StartPlan, ", "))
	}
	if len(sum.StopPlan) > 0 {
		fmt.Fprintf(w, "  stop plan: %s\n", strings.Join(sum.StopPlan, ", "))
	}
}

// outputCompileError outputs a single command-level error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileIssues outputs the collected per-program failures.
func outputCompileIssues(formatter *OutputFormatter, issues []CompileIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
			Data: issues, // Include all issues in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		fmt.Fprintln(formatter.Writer, issue.File)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(issues)))
}

// writeSummaryFile writes the compilation result to a file as indented JSON.
func writeSummaryFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
