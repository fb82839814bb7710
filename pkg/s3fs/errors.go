package s3fs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Sentinel errors for filesystem operations.
var (
	// ErrNotFound indicates the bucket or object does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrNotAFile indicates a file operation was attempted on a directory.
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory indicates a directory operation hit a regular object.
	ErrNotADirectory = errors.New("not a directory")

	// ErrAlreadyExists indicates a non-directory entry occupies the path.
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotImplemented indicates an operation S3 cannot express.
	ErrNotImplemented = errors.New("operation not implemented")

	// ErrFinalized indicates the S3 subsystem has been finalized and no
	// further client calls may be issued.
	ErrFinalized = errors.New("S3 subsystem finalized")

	// ErrInvalidState indicates an operation on a closed stream.
	ErrInvalidState = errors.New("invalid stream state")
)

// FSError wraps a failed S3 call with the operation name and the
// bucket/key it targeted.
type FSError struct {
	// Op is the S3 operation that failed (e.g. "HeadBucket",
	// "CompleteMultipartUpload").
	Op string

	// Bucket and Key locate the path the operation targeted.
	Bucket string
	Key    string

	// Err is the underlying error.
	Err error
}

func (e *FSError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("s3fs %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("s3fs %s: %s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("s3fs %s: %v", e.Op, e.Err)
	}
}

func (e *FSError) Unwrap() error { return e.Err }

// opError builds an FSError, mapping well-known S3 error shapes onto the
// package sentinels so callers can use errors.Is.
func opError(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFoundErr(err) {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &FSError{Op: op, Bucket: bucket, Key: key, Err: err}
}

// IsNotFound reports whether err indicates a missing bucket or object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isNotFoundErr(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func isAlreadyExistsErr(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return true
		}
	}
	return false
}

// ErrorDetail is the abstract error shape handed to retry strategies.
type ErrorDetail struct {
	// Code is the S3/SDK error code, e.g. "SlowDown" or "InternalError".
	Code string

	// Message is the human-readable error message.
	Message string

	// Transient reports that the failure looks retryable: a server fault,
	// a throttling or timeout code, or a connection error.
	Transient bool
}

// errorDetailOf extracts an ErrorDetail from an SDK error.
func errorDetailOf(err error) ErrorDetail {
	d := ErrorDetail{Message: err.Error()}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		d.Code = apiErr.ErrorCode()
		d.Message = apiErr.ErrorMessage()
		d.Transient = apiErr.ErrorFault() == smithy.FaultServer
	}
	switch d.Code {
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded",
		"RequestTimeout", "InternalError", "ServiceUnavailable":
		d.Transient = true
	}
	if d.Code == "" && isConnectionErr(err) {
		d.Transient = true
	}
	return d
}

func isConnectionErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "timeout")
}
