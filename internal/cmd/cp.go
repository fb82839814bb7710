package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
)

var cpCmd = &cobra.Command{
	Use:   "cp <src-uri> <dest-uri>",
	Short: "Copy an object",
	Long: `Copy an object server-side, without downloading the data.
Works across buckets in the same region.

Examples:
  nimbusfs cp s3://bucket/a.txt s3://bucket/backup/a.txt
  nimbusfs cp s3://bucket-a/data.bin s3://bucket-b/data.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runCp,
}

func init() {
	rootCmd.AddCommand(cpCmd)
}

func runCp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, dest, err := parseSrcDest(args[0], args[1])
	if err != nil {
		return err
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	if err := fs.CopyFile(ctx, src.Path(), dest.Path()); err != nil {
		return cliError("copy "+src.Path(), err)
	}

	observability.CLILogger.Info("Copied",
		zap.String("src", src.Path()),
		zap.String("dest", dest.Path()),
	)
	return nil
}
