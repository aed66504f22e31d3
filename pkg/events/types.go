package events

import (
	"encoding/json"
	"time"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	TranscriptionRequested EventType = "transcription.requested"
	TranscriptionProgress  EventType = "transcription.progress"
	TranscriptionCompleted EventType = "transcription.completed"
	TranscriptionFailed    EventType = "transcription.failed"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	JobID     string            `json:"job_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TranscriptionRequestedData is the payload for transcription.requested events.
type TranscriptionRequestedData struct {
	SourcePath string `json:"source_path"`
	Language   string `json:"language,omitempty"`
	// SentenceLevel defaults to true when omitted.
	SentenceLevel *bool  `json:"sentence_level,omitempty"`
	Concurrency   int    `json:"concurrency,omitempty"`
	Profile       string `json:"profile,omitempty"`
}

// WantsSentences reports whether sentence assembly was requested.
func (d TranscriptionRequestedData) WantsSentences() bool {
	return d.SentenceLevel == nil || *d.SentenceLevel
}

// TranscriptionProgressData is the payload for transcription.progress events.
type TranscriptionProgressData struct {
	Milestone  string `json:"milestone"`
	Percent    int    `json:"percent"`
	ChunkIndex *int   `json:"chunk_id,omitempty"`
	ChunksDone int    `json:"chunks_done,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}

// TranscriptionCompletedData is the payload for transcription.completed events.
type TranscriptionCompletedData struct {
	TranscriptID    string               `json:"transcript_id"`
	SourcePath      string               `json:"source_path"`
	Duration        float64              `json:"duration"`
	SentenceCount   int                  `json:"sentence_count"`
	ChunkCount      int                  `json:"total_chunks"`
	SucceededChunks int                  `json:"successful_chunks"`
	Warnings        []transcript.Warning `json:"warnings,omitempty"`
}

// TranscriptionFailedData is the payload for transcription.failed events.
type TranscriptionFailedData struct {
	SourcePath string `json:"source_path"`
	Error      string `json:"error"`
	// Reason classifies the failure: invalid_request, unsupported_media,
	// source_not_found, invalid_config, transcription_failed, canceled or
	// internal.
	Reason string `json:"reason"`
}
