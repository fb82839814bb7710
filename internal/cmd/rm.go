package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
)

var rmCmd = &cobra.Command{
	Use:   "rm <uri>",
	Short: "Delete an object or directory",
	Long: `Delete an object, or with --recursive a directory and
everything under it. --contents empties a directory but keeps it.

Deleting a bucket-level path requires allow_bucket_deletion in the
configuration.

Examples:
  nimbusfs rm s3://bucket/old/file.txt
  nimbusfs rm -R s3://bucket/old/
  nimbusfs rm --contents s3://bucket/scratch/`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

var (
	rmRecursive bool
	rmContents  bool
	rmMissingOK bool
)

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "R", false, "Delete a directory and its contents")
	rmCmd.Flags().BoolVar(&rmContents, "contents", false, "Delete a directory's contents but keep the directory")
	rmCmd.Flags().BoolVar(&rmMissingOK, "missing-ok", false, "Succeed when the directory does not exist (with --contents)")
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() {
		return cliError("invalid URI", fmt.Errorf("rm takes an exact path, not a pattern"))
	}
	if rmRecursive && rmContents {
		return cliError("invalid flags", fmt.Errorf("--recursive and --contents are mutually exclusive"))
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	path := parsed.Path()
	switch {
	case rmContents:
		err = fs.DeleteDirContents(ctx, path, rmMissingOK)
	case rmRecursive:
		err = fs.DeleteDir(ctx, path)
	default:
		err = fs.DeleteFile(ctx, path)
	}
	if err != nil {
		return cliError("rm "+path, err)
	}

	observability.CLILogger.Info("Deleted", zap.String("path", path))
	return nil
}
