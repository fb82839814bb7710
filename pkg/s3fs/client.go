package s3fs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client surface the filesystem calls.
// Tests substitute a fake; production wires *s3.Client.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// minConnections is the floor for the HTTP connection pool regardless of
// the configured I/O concurrency.
const minConnections = 25

// buildClient assembles a configured *s3.Client from user options and
// reports the resolved region.
func buildClient(ctx context.Context, opts *Options) (*s3.Client, string, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error

	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Anonymous {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	} else if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken)))
	}

	transport, err := buildTransport(opts)
	if err != nil {
		return nil, "", err
	}
	httpClient := &http.Client{Transport: transport}
	if opts.RequestTimeout > 0 {
		httpClient.Timeout = opts.RequestTimeout
	}
	loadOpts = append(loadOpts, awsconfig.WithHTTPClient(httpClient))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, "", fmt.Errorf("load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = opts.Region
	}
	if awsCfg.Region == "" && opts.EndpointOverride == "" {
		awsCfg.Region = DefaultRegion
	}

	resolver := globalEndpointCache.resolverFor(endpointConfigKey{
		region:            awsCfg.Region,
		scheme:            opts.scheme(),
		endpointOverride:  opts.EndpointOverride,
		virtualAddressing: opts.useVirtualAddressing(),
	})

	retryer := newRetryAdapter(opts.retryStrategy())

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.EndpointResolverV2 = resolver
		o.UsePathStyle = !opts.useVirtualAddressing()
		o.Retryer = retryer
		if opts.EndpointOverride != "" {
			o.BaseEndpoint = aws.String(opts.scheme() + "://" + opts.EndpointOverride)
		}
	})
	return client, awsCfg.Region, nil
}

// buildTransport derives an HTTP transport from the TLS, proxy and
// timeout options. The connection pool is sized to the background I/O
// concurrency with a floor of minConnections.
func buildTransport(opts *Options) (*http.Transport, error) {
	maxConns := opts.ioConcurrency()
	if maxConns < minConnections {
		maxConns = minConnections
	}

	dialer := &net.Dialer{}
	if opts.ConnectTimeout > 0 {
		dialer.Timeout = opts.ConnectTimeout
	} else {
		dialer.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", opts.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsConfig

	return transport, nil
}

func buildTLSConfig(opts *Options) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !opts.tlsVerify()} //nolint:gosec // user opt-in

	if opts.TLSCAFile == "" && opts.TLSCADir == "" {
		return cfg, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if opts.TLSCAFile != "" {
		pem, err := os.ReadFile(opts.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.TLSCAFile)
		}
	}
	if opts.TLSCADir != "" {
		entries, err := os.ReadDir(opts.TLSCADir)
		if err != nil {
			return nil, fmt.Errorf("read CA dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(opts.TLSCADir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read CA dir entry: %w", err)
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	cfg.RootCAs = pool
	return cfg, nil
}
