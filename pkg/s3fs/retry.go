package s3fs

import (
	"context"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// RetryStrategy decides whether and when failed S3 calls are retried.
//
// Implementations receive an abstract ErrorDetail rather than SDK error
// types so strategies stay decoupled from the wire layer. The same
// strategy drives both the per-request SDK retries and the
// CompleteMultipartUpload 200-with-embedded-error loop.
type RetryStrategy interface {
	// ShouldRetry reports whether the attempt (0-based) should be retried.
	ShouldRetry(detail ErrorDetail, attempt int) bool

	// RetryDelay returns how long to wait before the next attempt.
	RetryDelay(detail ErrorDetail, attempt int) time.Duration
}

// defaultRetryStrategy retries transient errors a fixed number of times
// with constant backoff.
type defaultRetryStrategy struct {
	maxAttempts int
	delay       time.Duration
}

// NewDefaultRetryStrategy retries transient errors up to 3 times with a
// constant 1s delay.
func NewDefaultRetryStrategy() RetryStrategy {
	return &defaultRetryStrategy{maxAttempts: 3, delay: time.Second}
}

func (s *defaultRetryStrategy) ShouldRetry(detail ErrorDetail, attempt int) bool {
	return detail.Transient && attempt < s.maxAttempts
}

func (s *defaultRetryStrategy) RetryDelay(ErrorDetail, int) time.Duration {
	return s.delay
}

// exponentialRetryStrategy doubles the delay on every attempt with
// full jitter.
type exponentialRetryStrategy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryStrategy retries transient errors with exponential
// backoff and full jitter, starting from baseDelay and capping at 20s.
func NewExponentialRetryStrategy(maxAttempts int, baseDelay time.Duration) RetryStrategy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &exponentialRetryStrategy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    20 * time.Second,
	}
}

func (s *exponentialRetryStrategy) ShouldRetry(detail ErrorDetail, attempt int) bool {
	return detail.Transient && attempt < s.maxAttempts
}

func (s *exponentialRetryStrategy) RetryDelay(_ ErrorDetail, attempt int) time.Duration {
	d := s.baseDelay << uint(attempt)
	if d > s.maxDelay || d <= 0 {
		d = s.maxDelay
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// retryAdapter bridges a RetryStrategy onto the SDK's aws.Retryer
// interface so every request issued by the configured client consults
// the user strategy.
type retryAdapter struct {
	strategy RetryStrategy
}

var _ aws.RetryerV2 = (*retryAdapter)(nil)

func newRetryAdapter(strategy RetryStrategy) *retryAdapter {
	return &retryAdapter{strategy: strategy}
}

func (r *retryAdapter) IsErrorRetryable(err error) bool {
	// Attempt counting happens in RetryDelay; the SDK asks retryability
	// first with no attempt context, so consult the strategy at attempt 0.
	return r.strategy.ShouldRetry(errorDetailOf(err), 0)
}

func (r *retryAdapter) MaxAttempts() int {
	// The strategy owns the cutoff through ShouldRetry; report a high
	// bound so the SDK defers to it.
	const sdkAttemptCeiling = 10
	for attempt := 0; attempt < sdkAttemptCeiling; attempt++ {
		if !r.strategy.ShouldRetry(ErrorDetail{Transient: true}, attempt) {
			return attempt + 1
		}
	}
	return sdkAttemptCeiling
}

func (r *retryAdapter) RetryDelay(attempt int, err error) (time.Duration, error) {
	return r.strategy.RetryDelay(errorDetailOf(err), attempt), nil
}

func (r *retryAdapter) GetRetryToken(context.Context, error) (func(error) error, error) {
	return func(error) error { return nil }, nil
}

func (r *retryAdapter) GetInitialToken() func(error) error {
	return func(error) error { return nil }
}

func (r *retryAdapter) GetAttemptToken(context.Context) (func(error) error, error) {
	return func(error) error { return nil }, nil
}
