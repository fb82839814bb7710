package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head <uri>",
	Short: "Print the leading bytes of an object",
	Long: `Print the first N bytes of an object. Only the requested
range is fetched.

Examples:
  nimbusfs head s3://bucket/logs/app.log
  nimbusfs head s3://bucket/data/big.parquet --bytes 64`,
	Args: cobra.ExactArgs(1),
	RunE: runHead,
}

var headBytes int64

func init() {
	rootCmd.AddCommand(headCmd)
	headCmd.Flags().Int64VarP(&headBytes, "bytes", "c", 1024, "Number of leading bytes to print")
}

func runHead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() || parsed.IsPrefix() {
		return cliError("invalid URI", fmt.Errorf("head takes an exact object path (no glob, no trailing /)"))
	}
	if headBytes < 0 {
		return cliError("invalid --bytes value", fmt.Errorf("bytes must be >= 0"))
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

	n := headBytes
	if size := in.Size(); size >= 0 && size < n {
		n = size
	}
	if n == 0 {
		return nil
	}

	buf := make([]byte, n)
	read, err := in.ReadAtContext(ctx, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return cliError("read "+parsed.Path(), err)
	}

	_, err = cmd.OutOrStdout().Write(buf[:read])
	return err
}
