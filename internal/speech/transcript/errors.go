package transcript

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Fatal errors raised before any transcription work starts.
var (
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrSourceNotFound   = errors.New("source not found")
	ErrInvalidConfig    = errors.New("invalid config")
)

// ErrTranscriptionFailed is wrapped by TranscriptionFailedError.
var ErrTranscriptionFailed = errors.New("transcription failed")

// ServiceError is a non-2xx response from the speech-to-text provider.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("transcription service: HTTP %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *ServiceError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
}

// RateLimitedError is returned on HTTP 429. RetryAfter is zero when the
// provider sent no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transcription service: rate limited, retry after %s", e.RetryAfter)
	}
	return "transcription service: rate limited"
}

// TimeoutError is returned when a single call exceeds its time budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transcription service: call timed out after %s", e.After)
}

// PartialTranscriptionError lists chunks excluded after exhausting retries.
// It annotates a result, it is not returned as a fatal error.
type PartialTranscriptionError struct {
	FailedChunks []int
	Total        int
}

func (e *PartialTranscriptionError) Error() string {
	parts := make([]string, len(e.FailedChunks))
	for i, idx := range e.FailedChunks {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("partial transcription: %d of %d chunks failed [%s]",
		len(e.FailedChunks), e.Total, strings.Join(parts, ","))
}

// TranscriptionFailedError is returned when no chunk could be transcribed.
type TranscriptionFailedError struct {
	Failures []Warning
}

func (e *TranscriptionFailedError) Error() string {
	if len(e.Failures) == 0 {
		return ErrTranscriptionFailed.Error()
	}
	return fmt.Sprintf("%s: all %d chunks failed, last error: %s",
		ErrTranscriptionFailed, len(e.Failures), e.Failures[len(e.Failures)-1].Error)
}

func (e *TranscriptionFailedError) Unwrap() error {
	return ErrTranscriptionFailed
}

// AssemblyError reports structurally impossible segment timing.
type AssemblyError struct {
	SegmentIndex int
	Start        float64
	End          float64
	Reason       string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("sentence assembly: segment %d [%.3f, %.3f]: %s", e.SegmentIndex, e.Start, e.End, e.Reason)
}
