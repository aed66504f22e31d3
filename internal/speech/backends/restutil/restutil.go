package restutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 120 * time.Second

var client = &http.Client{}

// Request describes one provider call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    io.Reader
	Timeout time.Duration
}

// DoJSON sends a JSON request and decodes the JSON response into dest.
func DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, dest any, timeout time.Duration) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	h := make(map[string]string, len(headers)+1)
	if body != nil {
		h["Content-Type"] = "application/json"
	}
	for k, v := range headers {
		h[k] = v
	}

	return Do(ctx, Request{Method: method, URL: url, Headers: h, Body: bodyReader, Timeout: timeout}, dest)
}

// Do sends req and decodes a JSON response into dest. Non-2xx responses
// become *transcript.ServiceError, 429 becomes *transcript.RateLimitedError,
// and exceeding req.Timeout becomes *transcript.TimeoutError.
func Do(ctx context.Context, req Request, dest any) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, req.Body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return classify(ctx, callCtx, err, timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp, strings.TrimSpace(string(respBody)))
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			if callCtx.Err() != nil {
				return classify(ctx, callCtx, err, timeout)
			}
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classify turns a transport failure into a TimeoutError when only the
// per-call deadline fired, and passes parent cancellation through.
func classify(parent, call context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &transcript.TimeoutError{After: timeout}
	}
	return fmt.Errorf("do request: %w", err)
}

func statusError(resp *http.Response, body string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &transcript.RateLimitedError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    body,
		}
	}
	return &transcript.ServiceError{Status: resp.StatusCode, Message: body}
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ParseTimeout reads a duration from backend config, falling back to def.
func ParseTimeout(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
