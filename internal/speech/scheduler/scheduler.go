package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// ChunkAudio renders a time range of the source as a WAV payload.
type ChunkAudio interface {
	WAV(start, end float64) ([]byte, error)
}

// RunOptions are per-run settings.
type RunOptions struct {
	// ConcurrencyLimit caps in-flight provider calls. Zero or less uses
	// DefaultConcurrency.
	ConcurrencyLimit int
	// ASR is forwarded to every Transcribe call.
	ASR asr.Options
	// OnChunkDone is called once per chunk after its final attempt, from
	// the worker goroutine. err is nil on success.
	OnChunkDone func(index int, err error)
}

// DefaultConcurrency returns min(NumCPU, 8), at least 1.
func DefaultConcurrency() int {
	return max(1, min(runtime.NumCPU(), 8))
}

// Outcome holds per-chunk results addressed by chunk index.
type Outcome struct {
	// Results[i] holds chunk i's segments. Nil for failed chunks.
	Results [][]transcript.RawSegment
	// Succeeded[i] reports whether chunk i produced a result, which may be
	// empty for silent audio.
	Succeeded []bool
	// Failures lists chunks that exhausted retries, ordered by index.
	Failures []transcript.Warning
	// Completed counts chunks that reached a final state.
	Completed int
}

// SucceededCount returns the number of chunks with a result.
func (o *Outcome) SucceededCount() int {
	n := 0
	for _, ok := range o.Succeeded {
		if ok {
			n++
		}
	}
	return n
}

// ByIndex returns successful results keyed by chunk index.
func (o *Outcome) ByIndex() map[int][]transcript.RawSegment {
	out := make(map[int][]transcript.RawSegment, len(o.Results))
	for i, segs := range o.Results {
		if o.Succeeded[i] {
			out[i] = segs
		}
	}
	return out
}

type slot struct {
	written  atomic.Bool
	segments []transcript.RawSegment
	err      error
	attempts int
}

// Scheduler fans chunks out to a transcription client with bounded
// parallelism, retries and an optional request rate limit.
type Scheduler struct {
	retry   RetryPolicy
	limiter *rate.Limiter
}

// New creates a Scheduler. A nil limiter disables rate limiting.
func New(retry RetryPolicy, limiter *rate.Limiter) *Scheduler {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	return &Scheduler{retry: retry, limiter: limiter}
}

// PerMinuteLimiter returns a limiter allowing rpm requests per minute, or
// nil when rpm is not positive.
func PerMinuteLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// RunAll transcribes every chunk and returns results in chunk order,
// independent of completion order. Chunk failures are reported in the
// Outcome. The returned error is non-nil only when ctx ends first.
func (s *Scheduler) RunAll(ctx context.Context, chunks []transcript.Chunk, src ChunkAudio, client asr.Client, opts RunOptions) (*Outcome, error) {
	limit := opts.ConcurrencyLimit
	if limit <= 0 {
		limit = DefaultConcurrency()
	}

	slots := make([]slot, len(chunks))
	var completed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(limit)

	for i := range chunks {
		if ctx.Err() != nil {
			break
		}
		c := chunks[i]
		g.Go(func() error {
			segs, attempts, err := s.runChunk(ctx, c, src, client, opts.ASR)

			sl := &slots[i]
			if !sl.written.CompareAndSwap(false, true) {
				slog.ErrorContext(ctx, "chunk result written twice", slog.Int("chunk", c.Index))
				return nil
			}
			sl.segments, sl.err, sl.attempts = segs, err, attempts
			completed.Add(1)

			if opts.OnChunkDone != nil && ctx.Err() == nil {
				opts.OnChunkDone(c.Index, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{
		Results:   make([][]transcript.RawSegment, len(chunks)),
		Succeeded: make([]bool, len(chunks)),
		Completed: int(completed.Load()),
	}
	for i := range slots {
		sl := &slots[i]
		if sl.err == nil && sl.written.Load() {
			out.Results[i] = sl.segments
			out.Succeeded[i] = true
			continue
		}
		msg := "not attempted"
		if sl.err != nil {
			msg = sl.err.Error()
		}
		out.Failures = append(out.Failures, transcript.Warning{
			ChunkIndex: chunks[i].Index,
			Start:      chunks[i].Start,
			End:        chunks[i].End,
			Attempts:   sl.attempts,
			Error:      msg,
		})
	}
	return out, nil
}

func (s *Scheduler) runChunk(ctx context.Context, c transcript.Chunk, src ChunkAudio, client asr.Client, opts asr.Options) ([]transcript.RawSegment, int, error) {
	wav, err := src.WAV(c.Start, c.End)
	if err != nil {
		return nil, 0, err
	}

	b := s.retry.newBackoff()
	for attempt := 1; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				// Wait fails early when the next token lies past the
				// deadline; report that as the deadline itself.
				if _, ok := ctx.Deadline(); ok {
					<-ctx.Done()
					return nil, attempt - 1, ctx.Err()
				}
				return nil, attempt - 1, err
			}
		}

		segs, err := client.Transcribe(ctx, wav, opts)
		if err == nil {
			return segs, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}
		if attempt > s.retry.MaxRetries || !s.retry.retryable(err) {
			return nil, attempt, err
		}

		delay := b.NextBackOff()
		var rl *transcript.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		} else if delay == backoff.Stop {
			return nil, attempt, err
		}

		slog.WarnContext(ctx, "chunk transcription failed, retrying",
			slog.Int("chunk", c.Index),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
