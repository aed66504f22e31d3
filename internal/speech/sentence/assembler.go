package sentence

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Config holds sentence assembly parameters.
type Config struct {
	// MaxIntraSentenceGap in seconds; a longer pause between two tokens
	// starts a new sentence even without punctuation.
	MaxIntraSentenceGap float64
}

// DefaultConfig returns a 1.5 second gap limit.
func DefaultConfig() Config {
	return Config{MaxIntraSentenceGap: 1.5}
}

// Assembler regroups timed segments into sentences.
type Assembler struct {
	cfg Config
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	if cfg.MaxIntraSentenceGap <= 0 {
		cfg.MaxIntraSentenceGap = DefaultConfig().MaxIntraSentenceGap
	}
	return &Assembler{cfg: cfg}
}

// token is one whitespace-delimited word with its estimated timing.
type token struct {
	text    string
	start   float64
	end     float64
	segment int
}

// Assemble splits segments into sentences. Segments must be ordered by
// start time, as produced by the stitcher. Sentences never overlap; each
// starts no earlier than its predecessor ends.
func (a *Assembler) Assemble(segments []transcript.GlobalSegment) ([]transcript.Sentence, error) {
	if err := transcript.Validate(segments); err != nil {
		return nil, err
	}

	var (
		out      []transcript.Sentence
		current  []token
		counters = make(map[int]int)
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		s := a.build(current, segments)
		n := counters[s.ChunkIndex]
		counters[s.ChunkIndex] = n + 1
		s.ID = fmt.Sprintf("%d_%d", s.ChunkIndex, n)

		if len(out) > 0 {
			prev := out[len(out)-1]
			s.Start = math.Max(s.Start, prev.End)
			s.End = math.Max(s.End, s.Start)
			s.Duration = s.End - s.Start
		}
		out = append(out, s)
		current = current[:0]
	}

	for i, seg := range segments {
		for _, tok := range tokenize(i, seg) {
			if len(current) > 0 && tok.start-current[len(current)-1].end > a.cfg.MaxIntraSentenceGap {
				flush()
			}
			current = append(current, tok)
			if endsSentence(tok.text) {
				flush()
			}
		}
	}
	flush()

	return out, nil
}

// build turns a token run into a sentence. Confidence is the mean of the
// contributing segments weighted by the time each contributes.
func (a *Assembler) build(tokens []token, segments []transcript.GlobalSegment) transcript.Sentence {
	texts := make([]string, len(tokens))
	weights := make(map[int]float64)
	order := make([]int, 0, 2)
	for i, t := range tokens {
		texts[i] = t.text
		if _, ok := weights[t.segment]; !ok {
			order = append(order, t.segment)
		}
		weights[t.segment] += t.end - t.start
	}

	var sum, total float64
	for _, idx := range order {
		sum += segments[idx].Confidence * weights[idx]
		total += weights[idx]
	}
	var confidence float64
	if total > 0 {
		confidence = sum / total
	} else {
		for _, idx := range order {
			confidence += segments[idx].Confidence
		}
		confidence /= float64(len(order))
	}

	first, last := tokens[0], tokens[len(tokens)-1]
	return transcript.Sentence{
		ChunkIndex: segments[first.segment].ChunkIndex,
		Text:       strings.Join(texts, " "),
		Start:      first.start,
		End:        last.end,
		Duration:   last.end - first.start,
		WordCount:  len(tokens),
		Confidence: confidence,
	}
}

// tokenize splits a segment into tokens. Word timestamps are used when they
// line up one-to-one with the text; otherwise each token gets a share of
// the segment proportional to its length in characters.
func tokenize(index int, seg transcript.GlobalSegment) []token {
	fields := strings.Fields(seg.Text)
	if len(fields) == 0 {
		return nil
	}
	out := make([]token, len(fields))

	if len(seg.Words) == len(fields) {
		for i, f := range fields {
			w := seg.Words[i]
			out[i] = token{text: f, start: w.Start, end: w.End, segment: index}
		}
		return out
	}

	totalChars := 0
	for _, f := range fields {
		totalChars += utf8.RuneCountInString(f)
	}
	span := seg.End - seg.Start
	at := seg.Start
	for i, f := range fields {
		share := span * float64(utf8.RuneCountInString(f)) / float64(totalChars)
		end := at + share
		if i == len(fields)-1 {
			end = seg.End
		}
		out[i] = token{text: f, start: at, end: end, segment: index}
		at = end
	}
	return out
}

var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"st.": true, "vs.": true, "jr.": true, "sr.": true,
	"e.g.": true, "i.e.": true,
}

// endsSentence reports whether a token closes a sentence: it ends in
// terminal punctuation, possibly followed by closing quotes or brackets,
// and is not a known abbreviation.
func endsSentence(tok string) bool {
	trimmed := strings.TrimRight(tok, "\"'”’)]}»")
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?', '…':
	default:
		return false
	}
	if last == '.' && abbreviations[strings.ToLower(trimmed)] {
		return false
	}
	return true
}
