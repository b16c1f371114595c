package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/config"
	"github.com/coral-mesh/coral-inspector/internal/constants"
	"github.com/coral-mesh/coral-inspector/internal/errors"
	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/logging"
	"github.com/coral-mesh/coral-inspector/internal/objheap"
	"github.com/coral-mesh/coral-inspector/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		noWorkload bool
		printCfg   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo runtime and serve its inspector endpoint",
		Long: `Runs a small managed heap with a synthetic workload that logs, times,
counts, allocates and collects, and serves the inspector endpoint so an
observer can attach with 'coral-inspector attach'.

Configuration is read from --config, or from the file named by
` + constants.ConfigEnvVar + `, and can be overridden with CORAL_INSPECTOR_* variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv(constants.ConfigEnvVar)
			}
			cfg, err := config.NewLoader().Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Logging.Level = level
			}

			if printCfg {
				return config.Write(cmd.OutOrStdout(), cfg)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()
			return runServe(ctx, cfg, !noWorkload)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (overrides server.listen_addr)")
	cmd.Flags().BoolVar(&noWorkload, "no-workload", false, "Serve an idle heap without the demo workload")
	cmd.Flags().BoolVar(&printCfg, "print-config", false, "Print the effective configuration and exit")
	errors.Must(cmd.MarkFlagFilename("config", "yaml", "yml"), "failed to mark config flag")
	return cmd
}

func runServe(ctx context.Context, cfg *config.InspectorConfig, workload bool) error {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	h := objheap.New(logger)
	session := inspector.NewSession(cfg.SessionConfig(), h, clock.NewMonotonic(), logger)
	server := frontend.NewServer(frontend.ServerConfig{
		Path:         cfg.Server.Path,
		EventBuffer:  cfg.Server.EventBuffer,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, session, logger)

	logger.Info().
		Str("version", version.Get().String()).
		Str("listen_addr", cfg.Server.ListenAddr).
		Msg("Starting inspector")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Server.ListenAddr, nil)
	})
	if workload {
		host := logging.NewWithComponent(logging.Config{
			Level:  cfg.Logging.Level,
			Pretty: cfg.Logging.Pretty,
			Output: os.Stderr,
		}, "workload").Hook(logging.NewConsoleHook(session))
		w := NewWorkload(h, session, host, constants.DefaultFullCollectionEvery)
		g.Go(func() error {
			return w.Run(ctx, constants.DefaultWorkloadInterval)
		})
	}

	err := g.Wait()
	logger.Info().
		Uint64("dropped_events", server.Dropped()).
		Msg("Inspector stopped")
	return err
}
