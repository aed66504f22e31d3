package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/voicetyped/transcriber/internal/speech/engine"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
	"github.com/voicetyped/transcriber/pkg/events"
	"github.com/voicetyped/transcriber/pkg/profiles"
	"github.com/voicetyped/transcriber/pkg/store"
)

type emitted struct {
	Type  events.EventType
	JobID string
	Data  any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, et events.EventType, jobID string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Type: et, JobID: jobID, Data: data})
	return nil
}

func (f *fakeEmitter) ofType(et events.EventType) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	saved []*store.TranscriptRecord
	err   error
}

func (f *fakeStore) Save(_ context.Context, rec *store.TranscriptRecord) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, rec)
	return nil
}

type inlinePool struct{}

func (inlinePool) Submit(_ context.Context, task func()) error {
	task()
	return nil
}

type fakeTranscriber struct {
	result *transcript.Result
	err    error
	opts   engine.Options
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, opts engine.Options) (*transcript.Result, error) {
	f.opts = opts
	if opts.Progress != nil {
		opts.Progress(engine.Progress{Milestone: engine.MilestoneExtractionDone})
		opts.Progress(engine.Progress{Milestone: engine.MilestoneChunkingDone, ChunkCount: 2})
		opts.Progress(engine.Progress{Milestone: engine.MilestoneChunkTranscribed, ChunkCount: 2, ChunkIndex: 1, ChunksDone: 1})
	}
	return f.result, f.err
}

type profileMap map[string]*profiles.Profile

func (m profileMap) Get(name string) (*profiles.Profile, bool) {
	p, ok := m[name]
	return p, ok
}

type harness struct {
	sub      *Subscriber
	emitter  *fakeEmitter
	store    *fakeStore
	engine   *fakeTranscriber
	captured []error
	config   engine.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		emitter: &fakeEmitter{},
		store:   &fakeStore{},
		engine: &fakeTranscriber{result: &transcript.Result{
			FullText: "Hello.",
			Metadata: transcript.Metadata{Duration: 30, ChunkCount: 2, SucceededChunks: 2, SentenceCount: 1},
		}},
	}
	h.sub = &Subscriber{
		Config: engine.DefaultConfig(),
		NewEngine: func(cfg engine.Config) (Transcriber, error) {
			h.config = cfg
			return h.engine, nil
		},
		Store:        h.store,
		Events:       h.emitter,
		Pool:         inlinePool{},
		CaptureError: func(err error) { h.captured = append(h.captured, err) },
	}
	return h
}

func request(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	msg, err := json.Marshal(events.Envelope{ID: "evt-1", Type: events.TranscriptionRequested, JobID: "job-1", Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return msg
}

func failure(t *testing.T, h *harness) events.TranscriptionFailedData {
	t.Helper()
	failed := h.emitter.ofType(events.TranscriptionFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one failed event, got %+v", h.emitter.events)
	}
	return failed[0].Data.(events.TranscriptionFailedData)
}

func TestHandleCompletesJob(t *testing.T) {
	h := newHarness(t)

	msg := request(t, events.TranscriptionRequestedData{SourcePath: "/media/talk.mp4", Language: "en", Concurrency: 2})
	if err := h.sub.Handle(t.Context(), nil, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(h.store.saved) != 1 {
		t.Fatalf("saved %d records", len(h.store.saved))
	}
	rec := h.store.saved[0]
	if rec.JobID != "job-1" || rec.SourcePath != "/media/talk.mp4" || rec.Language != "en" {
		t.Errorf("record = %+v", rec)
	}

	if !h.engine.opts.SentenceLevel || h.engine.opts.ConcurrencyLimit != 2 || h.engine.opts.Language != "en" {
		t.Errorf("engine options = %+v", h.engine.opts)
	}

	progress := h.emitter.ofType(events.TranscriptionProgress)
	var percents []int
	for _, p := range progress {
		percents = append(percents, p.Data.(events.TranscriptionProgressData).Percent)
	}
	want := []int{10, 15, 50, 100}
	if len(percents) != len(want) {
		t.Fatalf("percents = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("percents = %v, want %v", percents, want)
			break
		}
	}

	completed := h.emitter.ofType(events.TranscriptionCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected completed event, got %+v", h.emitter.events)
	}
	data := completed[0].Data.(events.TranscriptionCompletedData)
	if data.TranscriptID != rec.ID || data.ChunkCount != 2 || completed[0].JobID != "job-1" {
		t.Errorf("completed = %+v", data)
	}
	if len(h.captured) != 0 {
		t.Errorf("unexpected captured errors: %v", h.captured)
	}
}

func TestHandleAppliesProfile(t *testing.T) {
	h := newHarness(t)
	maxChunk := 240.0
	h.sub.Profiles = profileMap{"podcast": {
		Name:     "podcast",
		Language: "de",
		Chunking: profiles.ChunkingOverrides{MaxChunkDuration: &maxChunk},
	}}

	no := false
	msg := request(t, events.TranscriptionRequestedData{SourcePath: "a.mp3", Profile: "podcast", SentenceLevel: &no})
	if err := h.sub.Handle(t.Context(), nil, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if h.config.Chunking.MaxChunkDuration != 240 || h.config.Language != "de" {
		t.Errorf("engine config = %+v", h.config)
	}
	if h.engine.opts.SentenceLevel {
		t.Error("sentence level should be off")
	}
	if rec := h.store.saved[0]; rec.Language != "de" || rec.Profile != "podcast" {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandleUnknownProfile(t *testing.T) {
	h := newHarness(t)

	msg := request(t, events.TranscriptionRequestedData{SourcePath: "a.mp3", Profile: "missing"})
	if err := h.sub.Handle(t.Context(), nil, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f := failure(t, h); f.Reason != "invalid_config" {
		t.Errorf("failure = %+v", f)
	}
	if len(h.captured) != 0 {
		t.Error("configuration errors should not be reported")
	}
}

func TestHandleTranscriptionFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.result = nil
	h.engine.err = &transcript.TranscriptionFailedError{Failures: []transcript.Warning{{ChunkIndex: 0, Error: "503"}}}

	if err := h.sub.Handle(t.Context(), nil, request(t, events.TranscriptionRequestedData{SourcePath: "a.mp3"})); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f := failure(t, h); f.Reason != "transcription_failed" || f.SourcePath != "a.mp3" {
		t.Errorf("failure = %+v", f)
	}
	if len(h.captured) != 1 {
		t.Errorf("captured = %v", h.captured)
	}
	if len(h.store.saved) != 0 {
		t.Error("nothing should be saved")
	}
}

func TestHandleSourceErrors(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{transcript.ErrSourceNotFound, "source_not_found"},
		{transcript.ErrUnsupportedMedia, "unsupported_media"},
		{context.Canceled, "canceled"},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.engine.result, h.engine.err = nil, tt.err

		if err := h.sub.Handle(t.Context(), nil, request(t, events.TranscriptionRequestedData{SourcePath: "a.mp3"})); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if f := failure(t, h); f.Reason != tt.reason {
			t.Errorf("%v: reason = %q, want %q", tt.err, f.Reason, tt.reason)
		}
		if len(h.captured) != 0 {
			t.Errorf("%v: should not be reported", tt.err)
		}
	}
}

func TestHandleStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("db down")

	if err := h.sub.Handle(t.Context(), nil, request(t, events.TranscriptionRequestedData{SourcePath: "a.mp3"})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f := failure(t, h); f.Reason != "internal" {
		t.Errorf("failure = %+v", f)
	}
	if len(h.captured) != 1 {
		t.Errorf("captured = %v", h.captured)
	}
	if len(h.emitter.ofType(events.TranscriptionCompleted)) != 0 {
		t.Error("job must not complete")
	}
}

func TestHandleRejectsMissingSource(t *testing.T) {
	h := newHarness(t)

	if err := h.sub.Handle(t.Context(), nil, request(t, events.TranscriptionRequestedData{})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f := failure(t, h); f.Reason != "invalid_request" {
		t.Errorf("failure = %+v", f)
	}
}

func TestHandleIgnoresOtherMessages(t *testing.T) {
	h := newHarness(t)

	other, _ := json.Marshal(events.Envelope{ID: "x", Type: events.TranscriptionCompleted})
	for _, msg := range [][]byte{other, []byte("not json")} {
		if err := h.sub.Handle(t.Context(), nil, msg); err != nil {
			t.Errorf("Handle(%q): %v", msg, err)
		}
	}
	if len(h.emitter.events) != 0 {
		t.Errorf("unexpected events %+v", h.emitter.events)
	}
}

func TestProgressData(t *testing.T) {
	tests := []struct {
		in      engine.Progress
		percent int
	}{
		{engine.Progress{Milestone: engine.MilestoneExtractionDone}, 10},
		{engine.Progress{Milestone: engine.MilestoneChunkingDone, ChunkCount: 4}, 15},
		{engine.Progress{Milestone: engine.MilestoneChunkTranscribed, ChunkCount: 4, ChunksDone: 1}, 32},
		{engine.Progress{Milestone: engine.MilestoneChunkTranscribed, ChunkCount: 4, ChunksDone: 4}, 85},
		{engine.Progress{Milestone: engine.MilestoneStitchingDone}, 90},
		{engine.Progress{Milestone: engine.MilestoneAssemblyDone}, 95},
	}
	for _, tt := range tests {
		if got := progressData(tt.in); got.Percent != tt.percent {
			t.Errorf("progressData(%+v).Percent = %d, want %d", tt.in, got.Percent, tt.percent)
		}
	}

	d := progressData(engine.Progress{Milestone: engine.MilestoneChunkTranscribed, ChunkIndex: 3, ChunkCount: 4, ChunksDone: 2})
	if d.ChunkIndex == nil || *d.ChunkIndex != 3 {
		t.Errorf("chunk index = %v", d.ChunkIndex)
	}
}
