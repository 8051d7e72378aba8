package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the awgctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "awgctl",
		Short: "awgctl - AWG sequence compiler and memory manager",
		Long: `Compile multi-channel waveform programs for M8190A arbitrary waveform
generators, manage onboard segment memory, and keep a replayable ledger of
every memory operation.

Setup directories (-s) describe the device fleet in CUE; programs are YAML
files mapping segments and steps onto device channels. Environment defaults
are read from AWGCTL_SETUP, AWGCTL_JOURNAL and AWGCTL_LOG_LEVEL (a local
.env file is honored).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level, err := logLevel(opts.Verbose)
			if err != nil {
				return err
			}
			// Logs go to stderr so JSON output on stdout stays parseable.
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logLevel resolves the slog level: --verbose wins, then AWGCTL_LOG_LEVEL,
// then warn. Idle-CLI default stays quiet; write sessions can turn on the
// allocator's info logs with AWGCTL_LOG_LEVEL=info.
func logLevel(verbose bool) (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	v := os.Getenv("AWGCTL_LOG_LEVEL")
	if v == "" {
		return slog.LevelWarn, nil
	}
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid AWGCTL_LOG_LEVEL %q: must be debug, info, warn or error", v)
	}
}
