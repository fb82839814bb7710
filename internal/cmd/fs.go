package cmd

import (
	"context"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

// fsOptions maps the s3 section of the loaded configuration onto
// filesystem options.
func fsOptions(cfg *config.Config) s3fs.Options {
	s := cfg.S3
	return s3fs.Options{
		Region:           s.Region,
		Scheme:           s.Scheme,
		EndpointOverride: s.Endpoint,
		AccessKey:        s.AccessKey,
		SecretKey:        s.SecretKey,
		SessionToken:     s.SessionToken,
		Anonymous:        s.Anonymous,
		// path_style false asks for virtual-host addressing on custom
		// endpoints. Irrelevant without an endpoint override.
		ForceVirtualAddressing:                !s.PathStyle,
		RequestTimeout:                        s.RequestTimeout,
		ConnectTimeout:                        s.ConnectTimeout,
		AllowBucketCreation:                   s.AllowBucketCreate,
		AllowBucketDeletion:                   s.AllowBucketDelete,
		BackgroundWrites:                      s.BackgroundWrites,
		AllowDelayedOpen:                      s.AllowDelayedOpen,
		CheckDirectoryExistenceBeforeCreation: s.CheckDirExistence,
		SSECustomerKey:                        s.SSECustomerKey,
		IOConcurrency:                         s.MaxConnections,
		ListRateLimit:                         s.ListRateLimit,
		Logger:                                observability.CLILogger,
	}
}

// newFileSystem opens a FileSystem from the loaded configuration.
func newFileSystem(ctx context.Context) (*s3fs.FileSystem, error) {
	return s3fs.New(ctx, fsOptions(config.GetConfig()))
}
