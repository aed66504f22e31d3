package asr

import (
	"context"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Options are per-request hints for the recognizer.
type Options struct {
	Language string // ISO-639-1, empty for auto-detect
	Prompt   string // optional vocabulary hint
	Model    string // overrides the backend's configured model
}

// Client transcribes one WAV-encoded chunk. Returned timestamps are relative
// to the start of the chunk. Implementations do not retry; a silent chunk
// yields no segments and a nil error.
type Client interface {
	Transcribe(ctx context.Context, wav []byte, opts Options) ([]transcript.RawSegment, error)
}

// DurationLimiter is implemented by clients whose provider rejects audio
// longer than a fixed number of seconds per request.
type DurationLimiter interface {
	MaxChunkDuration() float64
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, wav []byte, opts Options) ([]transcript.RawSegment, error)

// Transcribe calls f.
func (f ClientFunc) Transcribe(ctx context.Context, wav []byte, opts Options) ([]transcript.RawSegment, error) {
	return f(ctx, wav, opts)
}
