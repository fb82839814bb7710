package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/match"
)

var putCmd = &cobra.Command{
	Use:   "put <source> <uri>",
	Short: "Upload an object",
	Long: `Upload a local file to an object path. A source of "-" reads
from stdin. Small payloads go out as a single PUT; larger ones use a
multipart upload.

Examples:
  nimbusfs put report.csv s3://bucket/data/report.csv
  nimbusfs put - s3://bucket/data/notes.txt < notes.txt
  nimbusfs put big.bin s3://bucket/data/big.bin --metadata Content-Type=application/octet-stream`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

var putMetadata []string

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().StringArrayVar(&putMetadata, "metadata", nil, "Object metadata as Key=Value (repeatable)")
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source := args[0]

	parsed, err := ParseURI(args[1])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() || parsed.IsPrefix() {
		return cliError("invalid URI", fmt.Errorf("put takes an exact object path (no glob, no trailing /)"))
	}

	metadata, err := parseMetadataFlags(putMetadata)
	if err != nil {
		return cliError("invalid --metadata value", err)
	}

	var in io.Reader
	if source == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(source)
		if err != nil {
			return cliError("open "+source, err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	out, err := fs.OpenOutputStream(ctx, parsed.Path(), metadata)
	if err != nil {
		return cliError("open "+parsed.Path(), err)
	}

	start := time.Now()
	written, err := io.Copy(out, in)
	if err != nil {
		_ = out.Abort()
		return cliError("upload "+parsed.Path(), err)
	}
	if err := out.Close(); err != nil {
		return cliError("finalize "+parsed.Path(), err)
	}

	observability.CLILogger.Info("Uploaded",
		zap.String("path", parsed.Path()),
		zap.String("size", match.FormatSize(written)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func parseMetadataFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected Key=Value, got %q", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}
