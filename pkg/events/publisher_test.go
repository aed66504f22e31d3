package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakeQueue struct {
	mu        sync.Mutex
	refs      []string
	envelopes []Envelope
	err       error
}

func (f *fakeQueue) Publish(_ context.Context, ref string, payload any, _ ...map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	f.envelopes = append(f.envelopes, payload.(Envelope))
	return f.err
}

func TestEmitPublishesEnvelope(t *testing.T) {
	q := &fakeQueue{}
	pub := NewPublisher(q, "transcriber", "events")

	data := TranscriptionProgressData{Milestone: "chunking_done", Percent: 15, ChunkCount: 4}
	if err := pub.Emit(t.Context(), TranscriptionProgress, "job-1", data); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if len(q.envelopes) != 1 || q.refs[0] != "events" {
		t.Fatalf("published %d envelopes to %v", len(q.envelopes), q.refs)
	}
	env := q.envelopes[0]
	if env.ID == "" || env.Type != TranscriptionProgress || env.Source != "transcriber" || env.JobID != "job-1" {
		t.Errorf("envelope = %+v", env)
	}

	var payload TranscriptionProgressData
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Percent != 15 || payload.ChunkCount != 4 || payload.ChunkIndex != nil {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEmitFansOutLocally(t *testing.T) {
	pub := NewPublisher(nil, "transcriber", "")
	ch := pub.Subscribe("watcher", 1)

	if err := pub.Emit(t.Context(), TranscriptionFailed, "job-2", TranscriptionFailedData{Error: "boom", Reason: "internal"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	// Buffer is full; the second event is dropped rather than blocking.
	if err := pub.Emit(t.Context(), TranscriptionFailed, "job-3", TranscriptionFailedData{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	env := <-ch
	if env.JobID != "job-2" || env.Type != TranscriptionFailed {
		t.Errorf("local envelope = %+v", env)
	}

	pub.Unsubscribe("watcher")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestEmitReturnsQueueError(t *testing.T) {
	want := errors.New("queue down")
	pub := NewPublisher(&fakeQueue{err: want}, "transcriber", "events")

	if err := pub.Emit(t.Context(), TranscriptionCompleted, "job", TranscriptionCompletedData{}); !errors.Is(err, want) {
		t.Errorf("expected queue error, got %v", err)
	}
}

func TestEmitRejectsUnencodablePayload(t *testing.T) {
	q := &fakeQueue{}
	pub := NewPublisher(q, "transcriber", "events")

	if err := pub.Emit(t.Context(), TranscriptionProgress, "job", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(q.envelopes) != 0 {
		t.Error("nothing should be published")
	}
}

func TestRequestedDefaultsToSentences(t *testing.T) {
	var req TranscriptionRequestedData
	if err := json.Unmarshal([]byte(`{"source_path":"talk.mp4"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.WantsSentences() {
		t.Error("sentence level should default to true")
	}

	if err := json.Unmarshal([]byte(`{"source_path":"talk.mp4","sentence_level":false}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.WantsSentences() {
		t.Error("explicit false should disable sentences")
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []EventType{
		TranscriptionRequested, TranscriptionProgress,
		TranscriptionCompleted, TranscriptionFailed,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("empty event type constant")
		}
		if seen[et] {
			t.Errorf("duplicate event type: %q", et)
		}
		seen[et] = true
	}
}
