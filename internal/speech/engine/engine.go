package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/audio"
	"github.com/voicetyped/transcriber/internal/speech/chunk"
	"github.com/voicetyped/transcriber/internal/speech/scheduler"
	"github.com/voicetyped/transcriber/internal/speech/sentence"
	"github.com/voicetyped/transcriber/internal/speech/stitch"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Source is decoded audio the engine can plan and slice.
type Source interface {
	Duration() float64
	SilenceWindows(cfg audio.SilenceConfig) []audio.Window
	WAV(start, end float64) ([]byte, error)
}

// Options are per-run settings.
type Options struct {
	// SentenceLevel runs the sentence assembler. When false only merged
	// segments are returned.
	SentenceLevel bool
	// ConcurrencyLimit caps in-flight provider calls. Zero uses the
	// engine's configured concurrency.
	ConcurrencyLimit int
	// Language overrides the configured recognition language.
	Language string
	// Progress receives pipeline milestones.
	Progress ProgressFunc
}

// DefaultOptions returns sentence-level output with configured concurrency.
func DefaultOptions() Options {
	return Options{SentenceLevel: true}
}

// Engine runs the full transcription pipeline for one file at a time per
// call. An Engine is safe for concurrent use.
type Engine struct {
	cfg       Config
	client    asr.Client
	extractor *audio.Extractor
	planner   *chunk.Planner
	scheduler *scheduler.Scheduler
	stitcher  *stitch.Stitcher
	assembler *sentence.Assembler
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExtractor replaces the ffmpeg-backed extractor built from Config.
func WithExtractor(x *audio.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// New validates cfg and wires the pipeline around client. A client that
// implements asr.DurationLimiter bounds Chunking.MaxChunkDuration.
func New(cfg Config, client asr.Client, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: transcription client is required", transcript.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l, ok := client.(asr.DurationLimiter); ok && cfg.Chunking.MaxChunkDuration > l.MaxChunkDuration() {
		return nil, fmt.Errorf("%w: max chunk duration %vs exceeds the backend limit of %vs",
			transcript.ErrInvalidConfig, cfg.Chunking.MaxChunkDuration, l.MaxChunkDuration())
	}
	planner, err := chunk.NewPlanner(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		client: client,
		extractor: audio.NewExtractor(
			audio.WithFFmpegPath(cfg.FFmpegPath),
			audio.WithTempDir(cfg.TempDir),
			audio.WithSampleRate(cfg.SampleRate),
		),
		planner:   planner,
		scheduler: scheduler.New(cfg.Retry, scheduler.PerMinuteLimiter(cfg.RequestsPerMinute)),
		stitcher:  stitch.New(cfg.Stitching),
		assembler: sentence.New(cfg.Assembly),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe extracts audio from the media file at path and transcribes it. Chunks that fail
// after retries are listed in Metadata.Warnings; if every chunk fails the
// error is a *transcript.TranscriptionFailedError.
func (e *Engine) Transcribe(ctx context.Context, path string, opts Options) (*transcript.Result, error) {
	rep := &reporter{fn: opts.Progress}

	src, err := e.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "audio extracted",
		slog.String("source", path),
		slog.Float64("duration", src.Duration()))
	rep.emit(MilestoneExtractionDone)

	return e.run(ctx, src, opts, rep)
}

// TranscribeSource transcribes audio that is already decoded.
func (e *Engine) TranscribeSource(ctx context.Context, src Source, opts Options) (*transcript.Result, error) {
	return e.run(ctx, src, opts, &reporter{fn: opts.Progress})
}

func (e *Engine) run(ctx context.Context, src Source, opts Options, rep *reporter) (*transcript.Result, error) {
	chunks, err := e.planner.Plan(src)
	if err != nil {
		return nil, err
	}
	rep.chunking(len(chunks))
	if len(chunks) == 0 {
		return &transcript.Result{Metadata: transcript.Metadata{Duration: src.Duration()}}, nil
	}
	slog.InfoContext(ctx, "chunks planned", slog.Int("chunks", len(chunks)))

	limit := opts.ConcurrencyLimit
	if limit <= 0 {
		limit = e.cfg.Concurrency
	}
	asrOpts := asr.Options{Language: e.cfg.Language, Prompt: e.cfg.Prompt, Model: e.cfg.Model}
	if opts.Language != "" {
		asrOpts.Language = opts.Language
	}

	outcome, err := e.scheduler.RunAll(ctx, chunks, src, e.client, scheduler.RunOptions{
		ConcurrencyLimit: limit,
		ASR:              asrOpts,
		OnChunkDone: func(index int, err error) {
			if err != nil {
				return
			}
			rep.chunkDone(index)
		},
	})
	if err != nil {
		return nil, err
	}

	for _, f := range outcome.Failures {
		slog.WarnContext(ctx, "chunk excluded from transcript",
			slog.Int("chunk", f.ChunkIndex),
			slog.Int("attempts", f.Attempts),
			slog.String("error", f.Error))
	}
	if outcome.SucceededCount() == 0 {
		return nil, &transcript.TranscriptionFailedError{Failures: outcome.Failures}
	}

	stitched := e.stitcher.Stitch(ctx, chunks, outcome.ByIndex())
	rep.emit(MilestoneStitchingDone)
	if err := transcript.Validate(stitched.Segments); err != nil {
		return nil, err
	}

	var sentences []transcript.Sentence
	if opts.SentenceLevel {
		sentences, err = e.assembler.Assemble(stitched.Segments)
		if err != nil {
			slog.ErrorContext(ctx, "sentence assembly failed", slog.String("error", err.Error()))
			return nil, err
		}
		rep.emit(MilestoneAssemblyDone)
	}

	result := buildResult(src.Duration(), chunks, outcome, stitched, sentences, opts.SentenceLevel)
	slog.InfoContext(ctx, "transcription complete",
		slog.Int("chunks", len(chunks)),
		slog.Int("failed_chunks", len(outcome.Failures)),
		slog.Int("segments", len(result.Segments)),
		slog.Int("sentences", len(result.Sentences)))
	return result, nil
}

func buildResult(duration float64, chunks []transcript.Chunk, outcome *scheduler.Outcome, stitched stitch.Stitched, sentences []transcript.Sentence, sentenceLevel bool) *transcript.Result {
	texts := make([]string, 0, len(stitched.Segments))
	words := 0
	for _, s := range stitched.Segments {
		text := strings.TrimSpace(s.Text)
		texts = append(texts, text)
		words += len(strings.Fields(text))
	}

	perChunk := make([]transcript.ChunkTranscript, len(chunks))
	for i, c := range chunks {
		perChunk[i] = transcript.ChunkTranscript{Chunk: c, Segments: outcome.Results[i]}
	}

	meta := transcript.Metadata{
		Duration:        duration,
		SegmentCount:    len(stitched.Segments),
		SentenceCount:   len(sentences),
		ChunkCount:      len(chunks),
		SucceededChunks: outcome.SucceededCount(),
		TotalWords:      words,
		Confidence:      weightedConfidence(stitched.Segments),
		Warnings:        outcome.Failures,
		Seams:           stitched.Seams,
	}
	if sentenceLevel {
		meta.SegmentCount = len(sentences)
	}
	if len(sentences) > 0 {
		var total float64
		for _, s := range sentences {
			total += s.Duration
		}
		meta.AvgSentenceDuration = total / float64(len(sentences))
	}

	return &transcript.Result{
		FullText:  strings.Join(texts, " "),
		Sentences: sentences,
		Segments:  stitched.Segments,
		Chunks:    perChunk,
		Metadata:  meta,
	}
}

// weightedConfidence averages segment confidence weighted by duration,
// falling back to a plain mean when every segment is instantaneous.
func weightedConfidence(segments []transcript.GlobalSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum, total, plain float64
	for _, s := range segments {
		d := s.Duration()
		sum += s.Confidence * d
		total += d
		plain += s.Confidence
	}
	if total > 0 {
		return sum / total
	}
	return plain / float64(len(segments))
}
