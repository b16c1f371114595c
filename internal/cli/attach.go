package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-inspector/internal/constants"
	"github.com/coral-mesh/coral-inspector/internal/frontend"
)

func defaultURL() string {
	return "ws://" + constants.DefaultListenAddr + constants.DefaultEndpointPath
}

func newAttachCmd() *cobra.Command {
	var (
		url         string
		consoleOn   bool
		heapOn      bool
		track       bool
		format      string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to an inspector endpoint and print its events",
		Long: `Connects as the observer of a runtime, enables the requested channels and
prints every event until interrupted.

With --interactive, commands are read from the prompt as
  Domain.method {"param": "value"}
and their results are printed along with the event stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			of, err := parseOutputFormat(format)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			logger := cliLogger(cmd)
			client, err := frontend.Dial(ctx, frontend.ClientConfig{URL: url}, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Debug().Err(err).Msg("Failed to close inspector connection")
				}
			}()

			var setup []string
			if consoleOn {
				setup = append(setup, "Console.enable")
			}
			if heapOn || track {
				setup = append(setup, "Heap.enable")
			}
			if track {
				setup = append(setup, "Heap.startTracking")
			}

			formatter := NewFormatter(of)
			out := cmd.OutOrStdout()
			if interactive {
				return runInteractive(ctx, client, formatter, setup)
			}

			// Events emitted by the setup commands are already queued on the
			// client, so streaming afterwards loses nothing.
			for _, method := range setup {
				if err := client.Call(ctx, method, nil, nil); err != nil {
					return fmt.Errorf("%s failed: %w", method, err)
				}
			}
			return streamEvents(ctx, client, formatter, out)
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL(), "Inspector endpoint URL")
	cmd.Flags().BoolVar(&consoleOn, "console", true, "Enable the console channel")
	cmd.Flags().BoolVar(&heapOn, "heap", false, "Enable the heap channel")
	cmd.Flags().BoolVar(&track, "track", false, "Enable the heap channel and start GC tracking")
	cmd.Flags().StringVar(&format, "format", string(FormatText), "Output format (text, json)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read commands from an interactive prompt")
	return cmd
}

// streamEvents prints events until ctx is done or the connection ends.
func streamEvents(ctx context.Context, client *frontend.Client, f EventFormatter, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil && !errors.Is(err, frontend.ErrClosed) {
					return fmt.Errorf("inspector connection lost: %w", err)
				}
				return nil
			}
			line, err := f.FormatEvent(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
}
