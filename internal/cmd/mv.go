package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
)

var mvCmd = &cobra.Command{
	Use:   "mv <src-uri> <dest-uri>",
	Short: "Move or rename an object",
	Long: `Move an object to a new path: a server-side copy followed by
a delete of the source. Works across buckets.

Examples:
  nimbusfs mv s3://bucket/a.txt s3://bucket/b.txt
  nimbusfs mv s3://bucket-a/data.bin s3://bucket-b/data.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runMv,
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func runMv(cmd *cobra.Command, args []string) error {
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

	if err := fs.Move(ctx, src.Path(), dest.Path()); err != nil {
		return cliError("move "+src.Path(), err)
	}

	observability.CLILogger.Info("Moved",
		zap.String("src", src.Path()),
		zap.String("dest", dest.Path()),
	)
	return nil
}

func parseSrcDest(srcArg, destArg string) (*ObjectURI, *ObjectURI, error) {
	src, err := ParseURI(srcArg)
	if err != nil {
		return nil, nil, cliError("invalid source URI", err)
	}
	dest, err := ParseURI(destArg)
	if err != nil {
		return nil, nil, cliError("invalid destination URI", err)
	}
	if src.IsPattern() || dest.IsPattern() {
		return nil, nil, cliError("invalid URI", fmt.Errorf("exact object paths required, not patterns"))
	}
	if src.IsPrefix() || dest.IsPrefix() {
		return nil, nil, cliError("invalid URI", fmt.Errorf("exact object paths required, not prefixes"))
	}
	return src, dest, nil
}
