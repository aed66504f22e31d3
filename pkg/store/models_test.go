package store

import (
	"testing"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

func sampleResult() *transcript.Result {
	return &transcript.Result{
		FullText: "Hello there.",
		Sentences: []transcript.Sentence{
			{ID: "0_0", ChunkIndex: 0, Text: "Hello there.", Start: 0.5, End: 1.5, Duration: 1, WordCount: 2, Confidence: 0.9},
		},
		Metadata: transcript.Metadata{
			Duration:        300,
			SentenceCount:   1,
			ChunkCount:      3,
			SucceededChunks: 2,
			Warnings:        []transcript.Warning{{ChunkIndex: 2, Attempts: 4, Error: "timeout"}},
		},
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("job-1", "/media/talk.mp4", "en", "podcast", sampleResult())

	if rec.ID == "" {
		t.Error("record should get an ID")
	}
	if rec.SourcePath != "/media/talk.mp4" || rec.JobID != "job-1" || rec.Profile != "podcast" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ChunkCount != 3 || rec.SucceededChunks != 2 || !rec.Partial {
		t.Errorf("counts = %d/%d partial=%v", rec.SucceededChunks, rec.ChunkCount, rec.Partial)
	}
	if rec.FullText != "Hello there." || rec.SentenceCount != 1 {
		t.Errorf("text = %q, sentences = %d", rec.FullText, rec.SentenceCount)
	}
}

func TestResultJSONRoundTrip(t *testing.T) {
	v, err := ResultJSON{Result: sampleResult()}.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var got ResultJSON
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got.Result == nil || len(got.Sentences) != 1 || got.Sentences[0].ID != "0_0" {
		t.Fatalf("scanned = %+v", got.Result)
	}
	if len(got.Metadata.Warnings) != 1 || got.Metadata.Warnings[0].ChunkIndex != 2 {
		t.Errorf("warnings = %+v", got.Metadata.Warnings)
	}

	if err := got.Scan(string(v.([]byte))); err != nil {
		t.Errorf("Scan string: %v", err)
	}
}

func TestResultJSONNull(t *testing.T) {
	v, err := ResultJSON{}.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v", v, err)
	}

	got := ResultJSON{Result: sampleResult()}
	if err := got.Scan(nil); err != nil || got.Result != nil {
		t.Errorf("Scan(nil) = %+v, %v", got.Result, err)
	}
	if err := got.Scan(42); err == nil {
		t.Error("expected error for unsupported type")
	}
}
