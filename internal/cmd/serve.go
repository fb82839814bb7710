package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/internal/server"
	"github.com/3leaps/nimbusfs/internal/server/handlers"
	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Run an HTTP gateway exposing the filesystem over REST:
object download, upload, metadata and deletion plus listings, health
and Prometheus metrics.

The listen address, timeouts and storage connection come from the
configuration file and NIMBUSFS_* environment variables.

Examples:
  nimbusfs serve
  nimbusfs serve --host 0.0.0.0 --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	log := observability.CLILogger
	handlers.SetVersion(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := fsOptions(cfg)
	opts.Logger = log
	opts.MetricsRegisterer = registry

	fs, err := s3fs.New(ctx, opts)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	srv := server.New(cfg, handlers.FSStore{FS: fs}, log, registry)

	log.Info("Starting gateway",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
	)

	err = srv.Start(ctx)

	// Drain in-flight S3 work before exit; every later call fails fast.
	s3fs.Finalize()

	if err != nil {
		return cliError("gateway", err)
	}
	return nil
}
