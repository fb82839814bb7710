package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <uri>",
	Short: "Create a directory",
	Long: `Create a directory marker at the given path.

Creating a bucket-level path requires allow_bucket_creation in the
configuration.

Examples:
  nimbusfs mkdir s3://bucket/new/dir/
  nimbusfs mkdir -p s3://bucket/a/b/c/`,
	Args: cobra.ExactArgs(1),
	RunE: runMkdir,
}

var mkdirParents bool

func init() {
	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parent directories")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() {
		return cliError("invalid URI", fmt.Errorf("mkdir takes an exact path, not a pattern"))
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	if err := fs.CreateDir(ctx, parsed.Path(), mkdirParents); err != nil {
		return cliError("mkdir "+parsed.Path(), err)
	}

	observability.CLILogger.Info("Directory created", zap.String("path", parsed.Path()))
	return nil
}
