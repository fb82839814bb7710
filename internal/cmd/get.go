package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/match"
)

var getCmd = &cobra.Command{
	Use:   "get <uri> [dest]",
	Short: "Download an object",
	Long: `Download an object to a local file. With no destination the
object's base name is used; "-" writes to stdout.

Examples:
  nimbusfs get s3://bucket/data/report.csv
  nimbusfs get s3://bucket/data/report.csv /tmp/report.csv
  nimbusfs get s3://bucket/data/report.csv -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() || parsed.IsPrefix() {
		return cliError("invalid URI", fmt.Errorf("get takes an exact object path (no glob, no trailing /)"))
	}

	dest := path.Base(parsed.Key)
	if len(args) == 2 {
		dest = args[1]
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	in, err := fs.OpenInputFile(ctx, parsed.Path())
	if err != nil {
		return cliError("open "+parsed.Path(), err)
	}
	defer func() { _ = in.Close() }()

	var out io.Writer
	if dest == "-" {
		out = cmd.OutOrStdout()
	} else {
		f, err := os.Create(dest)
		if err != nil {
			return cliError("create "+dest, err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	start := time.Now()
	written, err := io.Copy(out, in)
	if err != nil {
		return cliError("download "+parsed.Path(), err)
	}

	observability.CLILogger.Info("Downloaded",
		zap.String("path", parsed.Path()),
		zap.String("dest", dest),
		zap.String("size", match.FormatSize(written)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
