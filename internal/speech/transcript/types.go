package transcript

import (
	"math"
	"strings"
)

// Word is a single recognized word with timing in seconds.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Chunk is a bounded window of the source audio transcribed as one unit.
type Chunk struct {
	Index        int     `json:"chunk_id"`
	Start        float64 `json:"start_time"`
	End          float64 `json:"end_time"`
	OverlapsPrev bool    `json:"has_overlap_with_prev"`
}

// Duration returns the length of the chunk in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

// RawSegment is recognizer output with timestamps local to one chunk.
type RawSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// GlobalSegment is a RawSegment remapped onto the source timeline.
type GlobalSegment struct {
	ChunkIndex int     `json:"chunk_id"`
	Text       string  `json:"text"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Duration returns the length of the segment in seconds.
func (s GlobalSegment) Duration() float64 {
	return s.End - s.Start
}

// Sentence is a sentence-level unit of the final transcript.
type Sentence struct {
	ID         string  `json:"sentence_id"`
	ChunkIndex int     `json:"chunk_id"`
	Text       string  `json:"text"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	WordCount  int     `json:"word_count"`
	Confidence float64 `json:"confidence"`
}

// ChunkTranscript keeps one chunk's raw recognizer output for diagnostics.
type ChunkTranscript struct {
	Chunk    Chunk        `json:"chunk"`
	Segments []RawSegment `json:"segments"`
}

// Warning describes a chunk that was excluded after exhausting retries.
type Warning struct {
	ChunkIndex int     `json:"chunk_id"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Attempts   int     `json:"attempts"`
	Error      string  `json:"error"`
}

// Seam is a chunk boundary where overlapping content could not be
// classified as a duplicate; both sides were kept.
type Seam struct {
	ChunkIndex int     `json:"chunk_id"`
	At         float64 `json:"at"`
	TailText   string  `json:"tail_text"`
	HeadText   string  `json:"head_text"`
}

// Metadata summarizes a transcription run.
type Metadata struct {
	Duration            float64   `json:"duration"`
	SegmentCount        int       `json:"segment_count"`
	SentenceCount       int       `json:"total_sentences"`
	ChunkCount          int       `json:"total_chunks"`
	SucceededChunks     int       `json:"successful_chunks"`
	TotalWords          int       `json:"total_words"`
	AvgSentenceDuration float64   `json:"avg_sentence_duration"`
	Confidence          float64   `json:"confidence"`
	Warnings            []Warning `json:"warnings,omitempty"`
	Seams               []Seam    `json:"seams,omitempty"`
}

// Result is the terminal artifact of a transcription run.
type Result struct {
	FullText  string            `json:"full_text"`
	Sentences []Sentence        `json:"sentence_segments,omitempty"`
	Segments  []GlobalSegment   `json:"segments"`
	Chunks    []ChunkTranscript `json:"chunks"`
	Metadata  Metadata          `json:"metadata"`
}

// Partial returns a PartialTranscriptionError when some chunks were
// excluded from the result, or nil when coverage is complete.
func (r *Result) Partial() *PartialTranscriptionError {
	if r == nil || len(r.Metadata.Warnings) == 0 {
		return nil
	}
	indices := make([]int, 0, len(r.Metadata.Warnings))
	for _, w := range r.Metadata.Warnings {
		indices = append(indices, w.ChunkIndex)
	}
	return &PartialTranscriptionError{FailedChunks: indices, Total: r.Metadata.ChunkCount}
}

// SimpleSegment is the compact view consumed by topic segmentation.
type SimpleSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
}

// SimplifiedSegments returns sentences (or segments when no sentence pass
// ran) with times rounded to centiseconds.
func (r *Result) SimplifiedSegments() []SimpleSegment {
	if r == nil {
		return nil
	}
	var out []SimpleSegment
	if len(r.Sentences) > 0 {
		out = make([]SimpleSegment, 0, len(r.Sentences))
		for i, s := range r.Sentences {
			out = append(out, SimpleSegment{ID: i, Text: s.Text, Start: round2(s.Start), End: round2(s.End)})
		}
		return out
	}
	out = make([]SimpleSegment, 0, len(r.Segments))
	for i, s := range r.Segments {
		out = append(out, SimpleSegment{ID: i, Text: strings.TrimSpace(s.Text), Start: round2(s.Start), End: round2(s.End)})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
