package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/setup"
)

// ValidationIssue is one rejected setup directory.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`

	// Position is "file:line:col" when the CUE compiler pinned one down.
	Position string `json:"position,omitempty"`
}

// ValidationResult holds validation results across all checked setups.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Checked int               `json:"checked"`
	Issues  []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <setup-dir> [setup-dir ...]",
		Short: "Validate setup directories without touching any device",
		Long: `Compile and cross-check CUE setup directories.

Every directory is checked: device capacities, channel tables, amplifier
power limits, marker aliases, master trigger wiring. All problems are
collected and reported together.

Exit codes:
  0 - all setups valid
  2 - at least one setup invalid, or a directory could not be read`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dirs []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true, Checked: len(dirs)}
	for _, dir := range dirs {
		formatter.VerboseLog("Validating setup: %s", dir)

		s, err := setup.Load(dir)
		if err != nil {
			result.Valid = false
			result.Issues = append(result.Issues, validationIssue(dir, err))
			continue
		}
		formatter.VerboseLog("  %d device(s), %d marker alias(es)", len(s.Devices), len(s.Aliases))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validationIssue converts a load error, keeping the CUE source position
// when the compiler reports one.
func validationIssue(dir string, err error) ValidationIssue {
	issue := ValidationIssue{Path: dir, Message: err.Error()}
	var compileErr *setup.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		issue.Message = fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message)
		issue.Position = fmt.Sprintf("%s:%d:%d",
			compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
	}
	return issue
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All setups valid (%d checked)\n", result.Checked)
	return nil
}

// outputValidationErrors outputs the collected validation issues.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeSetup,
				Message: result.Issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d issue(s)", len(result.Issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Issues {
		if issue.Position != "" {
			fmt.Fprintln(formatter.Writer, issue.Position)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Path, issue.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d issue(s)", len(result.Issues)))
}
