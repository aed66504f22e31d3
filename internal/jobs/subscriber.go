package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/pitabwire/util"

	"github.com/voicetyped/transcriber/internal/speech/engine"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
	"github.com/voicetyped/transcriber/pkg/events"
	"github.com/voicetyped/transcriber/pkg/profiles"
	"github.com/voicetyped/transcriber/pkg/store"
)

// Transcriber runs one transcription. *engine.Engine implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, opts engine.Options) (*transcript.Result, error)
}

// EngineFactory builds a Transcriber for a job's effective configuration.
type EngineFactory func(cfg engine.Config) (Transcriber, error)

// Emitter publishes job events. *events.Publisher implements it.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, jobID string, data any) error
}

// Store persists finished transcripts. *store.Repository implements it.
type Store interface {
	Save(ctx context.Context, rec *store.TranscriptRecord) error
}

// Profiles looks up named overrides. *profiles.Loader implements it.
type Profiles interface {
	Get(name string) (*profiles.Profile, bool)
}

// Pool runs submitted jobs. frame's workerpool.WorkerPool implements it.
type Pool interface {
	Submit(ctx context.Context, task func()) error
}

// Subscriber implements queue.SubscribeWorker for transcription.requested
// envelopes. Each job runs on the worker pool.
type Subscriber struct {
	Config    engine.Config
	NewEngine EngineFactory
	Profiles  Profiles
	Store     Store
	Events    Emitter
	Pool      Pool
	// CaptureError reports unexpected failures. Defaults to Sentry.
	CaptureError func(error)
}

// Handle is called by frame's pub/sub for each job message. Malformed jobs
// are rejected with a transcription.failed event and not redelivered.
func (s *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("transcription jobs: unmarshal envelope")
		return nil
	}
	if env.Type != events.TranscriptionRequested {
		return nil
	}

	jobID := env.JobID
	if jobID == "" {
		jobID = env.ID
	}

	var req events.TranscriptionRequestedData
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.fail(ctx, jobID, req, fmt.Errorf("decode job: %w", err), reasonInvalidRequest)
		return nil
	}
	if req.SourcePath == "" {
		s.fail(ctx, jobID, req, errors.New("source_path is required"), reasonInvalidRequest)
		return nil
	}

	if s.Pool != nil {
		if err := s.Pool.Submit(ctx, func() { s.Run(ctx, jobID, req) }); err != nil {
			slog.WarnContext(ctx, "transcription pool full", slog.String("job_id", jobID))
			return err
		}
		return nil
	}
	go s.Run(ctx, jobID, req)
	return nil
}

// Run executes one job synchronously.
func (s *Subscriber) Run(ctx context.Context, jobID string, req events.TranscriptionRequestedData) {
	cfg := s.Config
	if req.Profile != "" {
		var p *profiles.Profile
		ok := false
		if s.Profiles != nil {
			p, ok = s.Profiles.Get(req.Profile)
		}
		if !ok {
			s.fail(ctx, jobID, req, fmt.Errorf("%w: unknown profile %q", transcript.ErrInvalidConfig, req.Profile), reasonInvalidConfig)
			return
		}
		cfg = p.Apply(cfg)
	}

	eng, err := s.NewEngine(cfg)
	if err != nil {
		s.fail(ctx, jobID, req, err, reasonFor(err))
		return
	}

	slog.InfoContext(ctx, "transcription job started",
		slog.String("job_id", jobID),
		slog.String("source", req.SourcePath),
		slog.String("profile", req.Profile))

	res, err := eng.Transcribe(ctx, req.SourcePath, engine.Options{
		SentenceLevel:    req.WantsSentences(),
		ConcurrencyLimit: req.Concurrency,
		Language:         req.Language,
		Progress: func(p engine.Progress) {
			s.emit(ctx, events.TranscriptionProgress, jobID, progressData(p))
		},
	})
	if err != nil {
		s.fail(ctx, jobID, req, err, reasonFor(err))
		return
	}

	language := req.Language
	if language == "" {
		language = cfg.Language
	}
	rec := store.NewRecord(jobID, req.SourcePath, language, req.Profile, res)
	if s.Store != nil {
		if err := s.Store.Save(ctx, rec); err != nil {
			s.fail(ctx, jobID, req, fmt.Errorf("save transcript: %w", err), reasonInternal)
			return
		}
	}

	s.emit(ctx, events.TranscriptionProgress, jobID, events.TranscriptionProgressData{Milestone: "completed", Percent: 100})
	s.emit(ctx, events.TranscriptionCompleted, jobID, events.TranscriptionCompletedData{
		TranscriptID:    rec.ID,
		SourcePath:      req.SourcePath,
		Duration:        res.Metadata.Duration,
		SentenceCount:   res.Metadata.SentenceCount,
		ChunkCount:      res.Metadata.ChunkCount,
		SucceededChunks: res.Metadata.SucceededChunks,
		Warnings:        res.Metadata.Warnings,
	})
	slog.InfoContext(ctx, "transcription job completed",
		slog.String("job_id", jobID),
		slog.String("transcript_id", rec.ID),
		slog.Int("failed_chunks", len(res.Metadata.Warnings)))
}

func (s *Subscriber) fail(ctx context.Context, jobID string, req events.TranscriptionRequestedData, err error, reason string) {
	util.Log(ctx).WithError(err).Error("transcription job failed")
	if reason == reasonInternal || reason == reasonTranscription {
		s.capture(err)
	}
	s.emit(ctx, events.TranscriptionFailed, jobID, events.TranscriptionFailedData{
		SourcePath: req.SourcePath,
		Error:      err.Error(),
		Reason:     reason,
	})
}

func (s *Subscriber) capture(err error) {
	if s.CaptureError != nil {
		s.CaptureError(err)
		return
	}
	sentry.CaptureException(err)
}

func (s *Subscriber) emit(ctx context.Context, eventType events.EventType, jobID string, data any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Emit(ctx, eventType, jobID, data); err != nil {
		util.Log(ctx).WithError(err).Error("transcription jobs: emit " + string(eventType))
	}
}

const (
	reasonInvalidRequest = "invalid_request"
	reasonUnsupported    = "unsupported_media"
	reasonNotFound       = "source_not_found"
	reasonInvalidConfig  = "invalid_config"
	reasonTranscription  = "transcription_failed"
	reasonCanceled       = "canceled"
	reasonInternal       = "internal"
)

func reasonFor(err error) string {
	switch {
	case errors.Is(err, transcript.ErrUnsupportedMedia):
		return reasonUnsupported
	case errors.Is(err, transcript.ErrSourceNotFound):
		return reasonNotFound
	case errors.Is(err, transcript.ErrInvalidConfig):
		return reasonInvalidConfig
	case errors.Is(err, transcript.ErrTranscriptionFailed):
		return reasonTranscription
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonCanceled
	}
	return reasonInternal
}

// progressData maps engine milestones onto a job percentage. Chunk
// transcription spans 15% to 85%.
func progressData(p engine.Progress) events.TranscriptionProgressData {
	d := events.TranscriptionProgressData{
		Milestone:  string(p.Milestone),
		ChunksDone: p.ChunksDone,
		ChunkCount: p.ChunkCount,
	}
	switch p.Milestone {
	case engine.MilestoneExtractionDone:
		d.Percent = 10
	case engine.MilestoneChunkingDone:
		d.Percent = 15
	case engine.MilestoneChunkTranscribed:
		idx := p.ChunkIndex
		d.ChunkIndex = &idx
		d.Percent = 15
		if p.ChunkCount > 0 {
			d.Percent += 70 * p.ChunksDone / p.ChunkCount
		}
	case engine.MilestoneStitchingDone:
		d.Percent = 90
	case engine.MilestoneAssemblyDone:
		d.Percent = 95
	}
	return d
}
