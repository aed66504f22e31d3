package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// RetryPolicy decides how often and how long to wait before re-running a
// failed chunk.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// Backoff returns a fresh schedule for each chunk. Returning
	// backoff.Stop from NextBackOff ends retries early.
	Backoff func() backoff.BackOff
	// Retryable classifies errors. Nil means IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries three times with jittered exponential backoff
// from one second up to thirty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    ExponentialBackoff(time.Second, 30*time.Second),
		Retryable:  IsRetryable,
	}
}

// ExponentialBackoff returns a factory for doubling, jittered backoff
// between initial and maxInterval.
func ExponentialBackoff(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.Reset()
		return b
	}
}

func (p RetryPolicy) newBackoff() backoff.BackOff {
	if p.Backoff == nil {
		return backoff.NewExponentialBackOff()
	}
	return p.Backoff()
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRetryable(err)
	}
	return p.Retryable(err)
}

// IsRetryable treats provider 5xx, 408, 429, per-call timeouts and
// transport failures as transient. Cancellation, configuration errors and
// other 4xx responses are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, transcript.ErrInvalidConfig) || errors.Is(err, transcript.ErrUnsupportedMedia) {
		return false
	}

	var (
		rl *transcript.RateLimitedError
		te *transcript.TimeoutError
		se *transcript.ServiceError
	)
	switch {
	case errors.As(err, &rl), errors.As(err, &te):
		return true
	case errors.As(err, &se):
		return se.Temporary()
	}
	return true
}
