package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-inspector/internal/errors"
	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/safe"
)

const (
	snapshotFormatJSON  = "json"
	snapshotFormatPprof = "pprof"
)

func newSnapshotCmd() *cobra.Command {
	var (
		url    string
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a heap snapshot",
		Long: `Connects to an inspector endpoint, captures one heap snapshot and writes it
out, either as the inspector's JSON graph or as a pprof heap profile
(go tool pprof -sample_index=inuse_space <file>).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != snapshotFormatJSON && format != snapshotFormatPprof {
				return fmt.Errorf("unsupported format %q (want json or pprof)", format)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			logger := cliLogger(cmd)
			client, err := frontend.Dial(ctx, frontend.ClientConfig{URL: url}, logger)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, client, "Failed to close inspector connection")

			var res inspector.SnapshotResult
			if err := client.Call(ctx, "Heap.snapshot", nil, &res); err != nil {
				return fmt.Errorf("Heap.snapshot failed: %w", err)
			}

			if out == "" {
				return writeSnapshot(cmd.OutOrStdout(), res, format)
			}

			err = safe.WriteFile(out, 0o644, func(w io.Writer) error {
				return writeSnapshot(w, res, format)
			})
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			cmd.PrintErrf("Wrote heap snapshot to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL(), "Inspector endpoint URL")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (defaults to stdout)")
	cmd.Flags().StringVar(&format, "format", snapshotFormatJSON, "Output format (json, pprof)")
	return cmd
}

func writeSnapshot(w io.Writer, res inspector.SnapshotResult, format string) error {
	if format == snapshotFormatJSON {
		_, err := io.WriteString(w, string(res.SnapshotData))
		return err
	}

	snap, err := heap.Decode(res.SnapshotData)
	if err != nil {
		return err
	}
	return snap.WriteProfile(w)
}
