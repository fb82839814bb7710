package s3fs

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Backend identifies the concrete S3 implementation behind the endpoint.
// A few code paths branch on this to paper over backend quirks.
type Backend int

const (
	// BackendOther is any unrecognized S3-compatible backend.
	BackendOther Backend = iota

	// BackendAWS is Amazon S3 proper.
	BackendAWS

	// BackendMinio is a MinIO server. MinIO requires a trailing-slash
	// HEAD to probe empty directories and a pre-check on directory
	// creation.
	BackendMinio
)

// Scheme values accepted by Options.Scheme.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DefaultRegion is used for AWS S3 when no region can be resolved.
const DefaultRegion = "us-east-1"

// Options configures a FileSystem.
type Options struct {
	// Region is the AWS region. Empty resolves through the SDK default
	// chain, falling back to us-east-1 when no endpoint override is set.
	Region string

	// Scheme is the connection scheme, "http" or "https" (default).
	Scheme string

	// EndpointOverride points the client at an S3-compatible server
	// instead of AWS.
	EndpointOverride string

	// Backend selects quirk handling. Left at BackendOther it resolves to
	// BackendAWS when EndpointOverride is empty and stays BackendOther
	// otherwise; MinIO is never inferred.
	Backend Backend

	// AccessKey and SecretKey are explicit credentials. Both must be set
	// together; when empty the SDK default chain applies.
	AccessKey    string
	SecretKey    string
	SessionToken string

	// Anonymous disables request signing for public buckets. Mutually
	// exclusive with explicit credentials.
	Anonymous bool

	// RequestTimeout bounds each S3 round trip. Zero leaves the SDK
	// default in place.
	RequestTimeout time.Duration

	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// RetryStrategy overrides the SDK retry behavior for every request
	// issued by the filesystem. Nil uses NewDefaultRetryStrategy.
	RetryStrategy RetryStrategy

	// TLSCAFile and TLSCADir point at extra CA material for https
	// endpoints.
	TLSCAFile string
	TLSCADir  string

	// TLSVerify controls server certificate validation. Default true.
	TLSVerify *bool

	// ProxyURL routes requests through an HTTP proxy.
	ProxyURL string

	// AllowBucketCreation permits CreateDir on a bucket-only path.
	AllowBucketCreation bool

	// AllowBucketDeletion permits DeleteDir on a bucket-only path.
	AllowBucketDeletion bool

	// BackgroundWrites dispatches multipart part uploads to background
	// workers instead of uploading inline on Write.
	BackgroundWrites bool

	// AllowDelayedOpen defers multipart creation until a write overflows
	// the part buffer, letting small files go out as a single PUT. When
	// false, the multipart upload is created at open time so permission
	// errors surface early.
	AllowDelayedOpen bool

	// CheckDirectoryExistenceBeforeCreation forces CreateDir to probe the
	// path first and fail if a non-directory entry occupies it. Implied
	// for BackendMinio.
	CheckDirectoryExistenceBeforeCreation bool

	// ForceVirtualAddressing enables virtual-host addressing even when an
	// endpoint override is set.
	ForceVirtualAddressing bool

	// DefaultMetadata is merged under per-stream metadata on every write.
	DefaultMetadata map[string]string

	// SSECustomerKey is a 32-byte SSE-C key passed on reads, writes and
	// copies. Empty disables SSE-C.
	SSECustomerKey string

	// IOConcurrency bounds background part uploads and parallel bucket
	// listings. Zero defaults to 8.
	IOConcurrency int

	// ListRateLimit caps ListObjectsV2 pages per second across a single
	// listing. Zero means unlimited.
	ListRateLimit float64

	// Logger receives structured diagnostics. Nil defaults to zap.NewNop.
	Logger *zap.Logger

	// MetricsRegisterer, when non-nil, gets the filesystem's prometheus
	// collectors registered on it.
	MetricsRegisterer prometheus.Registerer
}

// DefaultIOConcurrency bounds background work when Options.IOConcurrency
// is left at zero.
const DefaultIOConcurrency = 8

// Validate checks option consistency.
func (o *Options) Validate() error {
	switch o.Scheme {
	case "", SchemeHTTP, SchemeHTTPS:
	default:
		return fmt.Errorf("invalid scheme %q (expected http or https)", o.Scheme)
	}
	if (o.AccessKey != "") != (o.SecretKey != "") {
		return errors.New("access key and secret key must be provided together")
	}
	if o.Anonymous && o.AccessKey != "" {
		return errors.New("anonymous access excludes explicit credentials")
	}
	if o.SSECustomerKey != "" && len(o.SSECustomerKey) != 32 {
		return fmt.Errorf("SSE customer key must be 32 bytes, got %d", len(o.SSECustomerKey))
	}
	return nil
}

func (o *Options) scheme() string {
	if o.Scheme == "" {
		return SchemeHTTPS
	}
	return o.Scheme
}

func (o *Options) ioConcurrency() int {
	if o.IOConcurrency <= 0 {
		return DefaultIOConcurrency
	}
	return o.IOConcurrency
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) retryStrategy() RetryStrategy {
	if o.RetryStrategy == nil {
		return NewDefaultRetryStrategy()
	}
	return o.RetryStrategy
}

func (o *Options) tlsVerify() bool {
	if o.TLSVerify == nil {
		return true
	}
	return *o.TLSVerify
}

// backend resolves the effective backend. When unset it is BackendAWS
// without an endpoint override and BackendOther with one; BackendMinio
// applies only when set explicitly.
func (o *Options) backend() Backend {
	if o.Backend != BackendOther {
		return o.Backend
	}
	if o.EndpointOverride == "" {
		return BackendAWS
	}
	return BackendOther
}

// checkDirectoryExistence reports whether CreateDir must pre-probe.
func (o *Options) checkDirectoryExistence() bool {
	return o.CheckDirectoryExistenceBeforeCreation || o.backend() == BackendMinio
}

// useVirtualAddressing reports whether virtual-host addressing applies:
// enabled unless an endpoint override is set, overridable by
// ForceVirtualAddressing.
func (o *Options) useVirtualAddressing() bool {
	if o.ForceVirtualAddressing {
		return true
	}
	return o.EndpointOverride == ""
}

// sseCustomerHeaders derives the SSE-C algorithm/key/MD5 triple, or ok
// false when SSE-C is disabled.
func (o *Options) sseCustomerHeaders() (alg, key, keyMD5 string, ok bool) {
	if o.SSECustomerKey == "" {
		return "", "", "", false
	}
	sum := md5.Sum([]byte(o.SSECustomerKey))
	return "AES256",
		base64.StdEncoding.EncodeToString([]byte(o.SSECustomerKey)),
		base64.StdEncoding.EncodeToString(sum[:]),
		true
}
