package engine

import (
	"fmt"

	"github.com/voicetyped/transcriber/internal/speech/audio"
	"github.com/voicetyped/transcriber/internal/speech/chunk"
	"github.com/voicetyped/transcriber/internal/speech/scheduler"
	"github.com/voicetyped/transcriber/internal/speech/sentence"
	"github.com/voicetyped/transcriber/internal/speech/stitch"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Config is the complete, explicit configuration of an Engine. Nothing
// inside the engine reads the environment.
type Config struct {
	Chunking  chunk.Config
	Stitching stitch.Config
	Assembly  sentence.Config
	Retry     scheduler.RetryPolicy

	// RequestsPerMinute throttles provider calls across all workers.
	// Zero disables throttling.
	RequestsPerMinute int
	// Concurrency is used when a run does not set its own limit.
	Concurrency int

	FFmpegPath string
	TempDir    string
	SampleRate int

	// Language and Prompt are forwarded to the provider when a run does
	// not override them.
	Language string
	Prompt   string
	Model    string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Chunking:          chunk.DefaultConfig(),
		Stitching:         stitch.DefaultConfig(),
		Assembly:          sentence.DefaultConfig(),
		Retry:             scheduler.DefaultRetryPolicy(),
		RequestsPerMinute: 25,
		Concurrency:       scheduler.DefaultConcurrency(),
		FFmpegPath:        "ffmpeg",
		SampleRate:        audio.DefaultSampleRate,
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	switch {
	case c.Stitching.Tolerance < 0:
		return fmt.Errorf("%w: stitch tolerance must not be negative", transcript.ErrInvalidConfig)
	case c.Stitching.SimilarityThreshold < 0 || c.Stitching.SimilarityThreshold > 1:
		return fmt.Errorf("%w: similarity threshold %v outside [0, 1]", transcript.ErrInvalidConfig, c.Stitching.SimilarityThreshold)
	case c.Assembly.MaxIntraSentenceGap < 0:
		return fmt.Errorf("%w: max intra-sentence gap must not be negative", transcript.ErrInvalidConfig)
	case c.Retry.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", transcript.ErrInvalidConfig)
	case c.RequestsPerMinute < 0:
		return fmt.Errorf("%w: requests per minute must not be negative", transcript.ErrInvalidConfig)
	case c.Concurrency < 0:
		return fmt.Errorf("%w: concurrency must not be negative", transcript.ErrInvalidConfig)
	case c.SampleRate < 0:
		return fmt.Errorf("%w: sample rate must not be negative", transcript.ErrInvalidConfig)
	}
	return nil
}
