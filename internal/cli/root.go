package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-inspector/internal/logging"
	"github.com/coral-mesh/coral-inspector/pkg/version"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coral-inspector",
		Short: "Coral inspector - console and heap diagnostics for a live runtime",
		Long: `Attach to a running process and watch what it is doing.

The inspector exposes two channels over a single observer connection:
- Console: buffered log messages, timers and counters from the runtime
- Heap: garbage collection events, heap snapshots and object previews

Only one observer can be attached to a runtime at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAttachCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			of, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			if of == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), version.Get())
			}
			info := version.Get()
			cmd.Printf("Coral inspector version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(FormatText), "Output format (text, json)")
	return cmd
}

// cliLogger builds the logger of client-side commands. They stay quiet
// unless --log-level asks otherwise.
func cliLogger(cmd *cobra.Command) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = "warn"
	}
	return logging.New(logging.Config{
		Level:  level,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
}

// signalContext is cancelled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
