package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaiser/m8190a/internal/seq"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Setup string
}

// ProgramInfo is the rendered tree of one program.
type ProgramInfo struct {
	Name string `json:"name"`
	File string `json:"file"`
	Tree string `json:"tree"`
}

// InfoResult holds the info command output.
type InfoResult struct {
	Programs []ProgramInfo `json:"programs"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info <program.yaml> [program.yaml ...]",
		Short: "Print the compiled sequence tree of a program",
		Long: `Compile a program and print its full sequence tree: every channel,
each segment with loop count and advance mode, and every step with its
duration, payload and marker state.

The tree shows the sequence as it would play, after limiter insertions,
trigger injection and granularity padding.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Setup, "setup", "s", os.Getenv("AWGCTL_SETUP"), "setup directory (CUE)")

	return cmd
}

func runInfo(opts *InfoOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := loadSetupDir(opts.Setup)
	if err != nil {
		return outputInfoError(formatter, ErrCodeSetup, err.Error())
	}

	result := &InfoResult{}
	for _, file := range files {
		s, _, err := compileProgram(cfg, file)
		if err != nil {
			return outputInfoError(formatter, issueCode(err), fmt.Sprintf("%s: %v", file, err))
		}

		var b strings.Builder
		if err := seq.WriteInfo(&b, s); err != nil {
			return outputInfoError(formatter, ErrCodeOutput, err.Error())
		}
		result.Programs = append(result.Programs, ProgramInfo{
			Name: s.Name,
			File: file,
			Tree: b.String(),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for i, info := range result.Programs {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprint(formatter.Writer, info.Tree)
	}
	return nil
}

// outputInfoError outputs a single command-level error.
func outputInfoError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
