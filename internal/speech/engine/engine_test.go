package engine

import (
	"context"
	"errors"
	"math"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/audio"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// fakeSource encodes each chunk's start time as its payload.
type fakeSource struct {
	duration float64
	silences []audio.Window
}

func (f fakeSource) Duration() float64 { return f.duration }

func (f fakeSource) SilenceWindows(audio.SilenceConfig) []audio.Window { return f.silences }

func (f fakeSource) WAV(start, _ float64) ([]byte, error) {
	return []byte(strconv.FormatFloat(start, 'f', -1, 64)), nil
}

func startOf(wav []byte) float64 {
	v, _ := strconv.ParseFloat(string(wav), 64)
	return v
}

// scripted answers by chunk start time.
type scripted map[float64]func() ([]transcript.RawSegment, error)

func (s scripted) client() asr.Client {
	return asr.ClientFunc(func(ctx context.Context, wav []byte, _ asr.Options) ([]transcript.RawSegment, error) {
		if fn, ok := s[startOf(wav)]; ok {
			return fn()
		}
		return nil, nil
	})
}

func segs(list ...transcript.RawSegment) func() ([]transcript.RawSegment, error) {
	return func() ([]transcript.RawSegment, error) { return list, nil }
}

func fail(err error) func() ([]transcript.RawSegment, error) {
	return func() ([]transcript.RawSegment, error) { return nil, err }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 0
	cfg.Retry.MaxRetries = 1
	cfg.Retry.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return cfg
}

func newEngine(t *testing.T, cfg Config, client asr.Client) *Engine {
	t.Helper()
	e, err := New(cfg, client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) record(ev Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *progressLog) milestones() []Milestone {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Milestone, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Milestone
	}
	return out
}

func TestTranscribeSourceSplitsAtSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.MaxChunkDuration = 200
	src := fakeSource{duration: 300, silences: []audio.Window{{Start: 149, End: 151}}}

	client := scripted{
		0: segs(
			transcript.RawSegment{Text: "Welcome to the show.", Start: 1, End: 3, Confidence: 0.9},
			transcript.RawSegment{Text: "Today we talk budgets.", Start: 4, End: 7, Confidence: 0.7},
		),
		150: segs(transcript.RawSegment{Text: "Thanks for listening.", Start: 2, End: 4, Confidence: 0.8}),
	}.client()

	var log progressLog
	opts := DefaultOptions()
	opts.Progress = log.record
	res, err := newEngine(t, cfg, client).TranscribeSource(t.Context(), src, opts)
	if err != nil {
		t.Fatalf("TranscribeSource: %v", err)
	}

	if len(res.Chunks) != 2 || res.Chunks[1].Chunk.Start != 150 {
		t.Fatalf("chunks = %+v", res.Chunks)
	}
	if len(res.Sentences) != 3 {
		t.Fatalf("sentences = %+v", res.Sentences)
	}
	if s := res.Sentences[2]; s.Start != 152 || s.End != 154 || s.ID != "1_0" {
		t.Errorf("last sentence = %+v", s)
	}
	if res.FullText != "Welcome to the show. Today we talk budgets. Thanks for listening." {
		t.Errorf("FullText = %q", res.FullText)
	}

	m := res.Metadata
	if m.ChunkCount != 2 || m.SucceededChunks != 2 || m.SentenceCount != 3 || m.SegmentCount != 3 {
		t.Errorf("metadata = %+v", m)
	}
	if m.TotalWords != 11 || m.Duration != 300 || len(m.Warnings) != 0 {
		t.Errorf("metadata = %+v", m)
	}
	if want := (0.9*2 + 0.7*3 + 0.8*2) / 7; math.Abs(m.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", m.Confidence, want)
	}
	if math.Abs(m.AvgSentenceDuration-7.0/3) > 1e-9 {
		t.Errorf("avg sentence duration = %v", m.AvgSentenceDuration)
	}
	if res.Partial() != nil {
		t.Error("complete run should not be partial")
	}

	got := log.milestones()
	want := []Milestone{MilestoneChunkingDone, MilestoneChunkTranscribed, MilestoneChunkTranscribed, MilestoneStitchingDone, MilestoneAssemblyDone}
	if !slices.Equal(got, want) {
		t.Errorf("milestones = %v, want %v", got, want)
	}
	if log.events[0].ChunkCount != 2 || log.events[2].ChunksDone != 2 {
		t.Errorf("progress counters = %+v", log.events)
	}
}

func TestTranscribeSourcePartialFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.MaxChunkDuration = 100
	cfg.Chunking.MinChunkDuration = 50
	src := fakeSource{
		duration: 300,
		silences: []audio.Window{{Start: 99, End: 101}, {Start: 199, End: 201}},
	}

	var calls sync.Map
	client := asr.ClientFunc(func(ctx context.Context, wav []byte, _ asr.Options) ([]transcript.RawSegment, error) {
		start := startOf(wav)
		n, _ := calls.LoadOrStore(start, new(int))
		*n.(*int)++
		if start == 100 {
			return nil, &transcript.ServiceError{Status: 503, Message: "overloaded"}
		}
		return []transcript.RawSegment{{Text: "Chunk text.", Start: 1, End: 2, Confidence: 1}}, nil
	})

	res, err := newEngine(t, cfg, client).TranscribeSource(t.Context(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("partial failure should not be fatal: %v", err)
	}
	if len(res.Metadata.Warnings) != 1 {
		t.Fatalf("warnings = %+v", res.Metadata.Warnings)
	}
	w := res.Metadata.Warnings[0]
	if w.ChunkIndex != 1 || w.Attempts != 2 {
		t.Errorf("warning = %+v", w)
	}
	if res.Metadata.SucceededChunks != 2 || len(res.Sentences) != 2 {
		t.Errorf("metadata = %+v, sentences = %+v", res.Metadata, res.Sentences)
	}
	p := res.Partial()
	if p == nil || !slices.Equal(p.FailedChunks, []int{1}) || p.Total != 3 {
		t.Errorf("Partial() = %+v", p)
	}
	if n, _ := calls.Load(100.0); *n.(*int) != 2 {
		t.Errorf("failing chunk attempted %d times", *n.(*int))
	}
}

func TestTranscribeSourceAllChunksFail(t *testing.T) {
	client := asr.ClientFunc(func(ctx context.Context, wav []byte, _ asr.Options) ([]transcript.RawSegment, error) {
		return nil, &transcript.ServiceError{Status: 401, Message: "invalid key"}
	})

	_, err := newEngine(t, testConfig(), client).TranscribeSource(t.Context(), fakeSource{duration: 30}, DefaultOptions())
	if !errors.Is(err, transcript.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	var tf *transcript.TranscriptionFailedError
	if !errors.As(err, &tf) || len(tf.Failures) != 1 {
		t.Errorf("failures = %+v", tf)
	}
}

func TestTranscribeSourceSilentChunk(t *testing.T) {
	res, err := newEngine(t, testConfig(), scripted{}.client()).TranscribeSource(t.Context(), fakeSource{duration: 45}, DefaultOptions())
	if err != nil {
		t.Fatalf("silent audio should not fail: %v", err)
	}
	if len(res.Sentences) != 0 || len(res.Segments) != 0 || res.FullText != "" {
		t.Errorf("expected empty transcript, got %+v", res)
	}
	if res.Metadata.SucceededChunks != 1 {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestTranscribeSourceSegmentsOnly(t *testing.T) {
	client := scripted{
		0: segs(
			transcript.RawSegment{Text: "first part. second", Start: 0, End: 2},
			transcript.RawSegment{Text: "part.", Start: 2, End: 3},
		),
	}.client()

	var log progressLog
	res, err := newEngine(t, testConfig(), client).TranscribeSource(t.Context(), fakeSource{duration: 10}, Options{Progress: log.record})
	if err != nil {
		t.Fatalf("TranscribeSource: %v", err)
	}
	if res.Sentences != nil || len(res.Segments) != 2 || res.Metadata.SegmentCount != 2 {
		t.Errorf("result = %+v", res)
	}
	if slices.Contains(log.milestones(), MilestoneAssemblyDone) {
		t.Error("assembly should be skipped")
	}
}

func TestTranscribeSourceSentenceAcrossForcedCut(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.MaxChunkDuration = 100
	cfg.Chunking.MinChunkDuration = 30
	cfg.Chunking.OverlapSeconds = 1

	words := func(start float64, texts ...string) []transcript.Word {
		out := make([]transcript.Word, len(texts))
		for i, t := range texts {
			out[i] = transcript.Word{Text: t, Start: start + float64(i)*0.4, End: start + float64(i)*0.4 + 0.3}
		}
		return out
	}
	client := scripted{
		0: segs(transcript.RawSegment{
			Text: "The quick brown fox jumps over", Start: 97.6, End: 99.9, Confidence: 0.9,
			Words: words(97.6, "The", "quick", "brown", "fox", "jumps", "over"),
		}),
		99: segs(transcript.RawSegment{
			Text: "over the lazy sleeping dog.", Start: 0.5, End: 2.5, Confidence: 0.9,
			Words: words(0.5, "over", "the", "lazy", "sleeping", "dog."),
		}),
	}.client()

	res, err := newEngine(t, cfg, client).TranscribeSource(t.Context(), fakeSource{duration: 150}, DefaultOptions())
	if err != nil {
		t.Fatalf("TranscribeSource: %v", err)
	}
	if len(res.Sentences) != 1 {
		t.Fatalf("sentences = %+v", res.Sentences)
	}
	s := res.Sentences[0]
	if s.WordCount != 10 || s.Text != "The quick brown fox jumps over the lazy sleeping dog." {
		t.Errorf("sentence = %+v", s)
	}
}

func TestTranscribeSourceEmptyAudio(t *testing.T) {
	res, err := newEngine(t, testConfig(), scripted{}.client()).TranscribeSource(t.Context(), fakeSource{}, DefaultOptions())
	if err != nil || res == nil || res.Metadata.ChunkCount != 0 {
		t.Errorf("expected empty result, got %+v, %v", res, err)
	}
}

func TestTranscribeSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	client := asr.ClientFunc(func(ctx context.Context, wav []byte, _ asr.Options) ([]transcript.RawSegment, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := newEngine(t, testConfig(), client).TranscribeSource(ctx, fakeSource{duration: 30}, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := newEngine(t, testConfig(), scripted{}.client()).Transcribe(t.Context(), "/no/such/file.mp4", DefaultOptions())
	if !errors.Is(err, transcript.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.MinChunkDuration = cfg.Chunking.MaxChunkDuration + 1
	if _, err := New(cfg, scripted{}.client()); !errors.Is(err, transcript.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = testConfig()
	cfg.Stitching.SimilarityThreshold = 1.5
	if _, err := New(cfg, scripted{}.client()); !errors.Is(err, transcript.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	if _, err := New(testConfig(), nil); !errors.Is(err, transcript.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil client, got %v", err)
	}
}

type limitedClient struct {
	asr.Client
	limit float64
}

func (c limitedClient) MaxChunkDuration() float64 { return c.limit }

func TestNewEnforcesBackendDurationLimit(t *testing.T) {
	client := limitedClient{Client: scripted{}.client(), limit: 60}

	cfg := testConfig()
	cfg.Chunking.MaxChunkDuration = 120
	if _, err := New(cfg, client); !errors.Is(err, transcript.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for 120s chunks, got %v", err)
	}

	cfg.Chunking.MaxChunkDuration = 60
	if _, err := New(cfg, client); err != nil {
		t.Errorf("60s chunks should be accepted: %v", err)
	}
}

func TestTranscribeSourceForwardsLanguage(t *testing.T) {
	var got asr.Options
	client := asr.ClientFunc(func(ctx context.Context, wav []byte, opts asr.Options) ([]transcript.RawSegment, error) {
		got = opts
		return nil, nil
	})
	cfg := testConfig()
	cfg.Language = "en"
	cfg.Prompt = "glossary"

	opts := DefaultOptions()
	opts.Language = "es"
	if _, err := newEngine(t, cfg, client).TranscribeSource(t.Context(), fakeSource{duration: 5}, opts); err != nil {
		t.Fatalf("TranscribeSource: %v", err)
	}
	if got.Language != "es" || got.Prompt != "glossary" {
		t.Errorf("asr options = %+v", got)
	}
}
