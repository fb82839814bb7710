// Package cmd implements the nimbusfs command line interface.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/observability"
)

// VersionInfo holds build metadata injected at link time.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "nimbusfs",
	Short: "Filesystem-style access to S3 object storage",
	Long: `nimbusfs presents S3 and S3-compatible object stores as a
hierarchical filesystem: stat, list, read, write, copy, move and delete
by path, with directories inferred from key prefixes.

Paths are written as s3://bucket/key or bucket/key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		overrides := map[string]any{}
		flags := cmd.Flags()
		if flags.Changed("region") {
			overrides["s3.region"] = rootRegion
		}
		if flags.Changed("endpoint") {
			overrides["s3.endpoint"] = rootEndpoint
		}
		if flags.Changed("path-style") {
			overrides["s3.path_style"] = rootPathStyle
		}
		if flags.Changed("anonymous") {
			overrides["s3.anonymous"] = rootAnonymous
		}
		if flags.Changed("log-level") {
			overrides["logging.level"] = rootLogLevel
		}

		cfg, err := config.Load(rootConfigFile, overrides)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		if _, err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
}

var (
	rootConfigFile string
	rootLogLevel   string
	rootRegion     string
	rootEndpoint   string
	rootPathStyle  bool
	rootAnonymous  bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootConfigFile, "config", "", "Config file (default: ./nimbusfs.yaml)")
	pf.StringVar(&rootLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVarP(&rootRegion, "region", "r", "", "AWS region")
	pf.StringVar(&rootEndpoint, "endpoint", "", "Custom S3 endpoint (host[:port])")
	pf.BoolVar(&rootPathStyle, "path-style", false, "Use path-style addressing with a custom endpoint")
	pf.BoolVar(&rootAnonymous, "anonymous", false, "Skip request signing (public buckets)")
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// cliError wraps err with a short operator-facing message. Execute
// logs the final error once.
func cliError(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
