package stitch

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Config holds overlap resolution parameters.
type Config struct {
	// Tolerance in seconds below which two segments are not considered
	// overlapping.
	Tolerance float64
	// SimilarityThreshold in [0, 1] above which an overlapping segment is
	// treated as a repeat of the retained tail.
	SimilarityThreshold float64
}

// DefaultConfig returns a 250ms tolerance and a 0.6 similarity threshold.
func DefaultConfig() Config {
	return Config{Tolerance: 0.25, SimilarityThreshold: 0.6}
}

// Stitched is the merged global timeline.
type Stitched struct {
	Segments []transcript.GlobalSegment
	Seams    []transcript.Seam
}

// Stitcher merges per-chunk results onto one timeline.
type Stitcher struct {
	cfg Config
}

// New creates a Stitcher.
func New(cfg Config) *Stitcher {
	return &Stitcher{cfg: cfg}
}

// Stitch remaps every chunk's segments to source time and resolves content
// duplicated by overlapping chunks. Chunks missing from results are
// skipped. The output is ordered by start time and no segment starts before
// its predecessor ends.
func (s *Stitcher) Stitch(ctx context.Context, chunks []transcript.Chunk, results map[int][]transcript.RawSegment) Stitched {
	ordered := slices.Clone(chunks)
	slices.SortFunc(ordered, func(a, b transcript.Chunk) int { return a.Index - b.Index })

	var out Stitched
	seen := make(map[dedupeKey]bool)

	for _, c := range ordered {
		raw, ok := results[c.Index]
		if !ok {
			continue
		}
		for _, orig := range remap(c, raw) {
			if seen[keyOf(orig)] {
				continue
			}
			g, keep := s.resolve(ctx, &out, orig)
			if !keep || seen[keyOf(g)] {
				continue
			}
			seen[keyOf(orig)], seen[keyOf(g)] = true, true
			out.Segments = append(out.Segments, g)
		}
	}
	return out
}

type dedupeKey struct {
	text  string
	start float64
}

func keyOf(g transcript.GlobalSegment) dedupeKey {
	return dedupeKey{text: g.Text, start: math.Round(g.Start * 1000)}
}

// remap shifts chunk-local segments to source time, sorted by start and
// clamped to the chunk window.
func remap(c transcript.Chunk, raw []transcript.RawSegment) []transcript.GlobalSegment {
	out := make([]transcript.GlobalSegment, 0, len(raw))
	for _, r := range raw {
		g := transcript.GlobalSegment{
			ChunkIndex: c.Index,
			Text:       r.Text,
			Start:      clamp(c.Start+r.Start, c.Start, c.End),
			End:        clamp(c.Start+r.End, c.Start, c.End),
			Confidence: r.Confidence,
		}
		g.End = math.Max(g.End, g.Start)
		if len(r.Words) > 0 {
			g.Words = make([]transcript.Word, 0, len(r.Words))
			for _, w := range r.Words {
				gw := transcript.Word{
					Text:  w.Text,
					Start: clamp(c.Start+w.Start, c.Start, c.End),
					End:   clamp(c.Start+w.End, c.Start, c.End),
				}
				gw.End = math.Max(gw.End, gw.Start)
				g.Words = append(g.Words, gw)
			}
		}
		out = append(out, g)
	}
	slices.SortStableFunc(out, func(a, b transcript.GlobalSegment) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

// resolve decides what to do with g given the retained timeline. It may
// drop g, trim its repeated head, or keep it as a seam.
func (s *Stitcher) resolve(ctx context.Context, out *Stitched, g transcript.GlobalSegment) (transcript.GlobalSegment, bool) {
	if len(normalize(g.Text)) == 0 {
		return g, false
	}
	if len(out.Segments) == 0 {
		return g, true
	}
	tail := out.Segments[len(out.Segments)-1]

	if g.Start >= tail.End-s.cfg.Tolerance {
		return clampStart(g, tail.End), true
	}

	if g.ChunkIndex == tail.ChunkIndex {
		return clampStart(g, tail.End), true
	}

	tailTokens := s.overlappingTokens(out.Segments, g.Start)
	headTokens := normalize(g.Text)

	if k := repeatedPrefix(tailTokens, headTokens); k > 0 {
		if k == len(headTokens) {
			return g, false
		}
		return trimHead(g, k, tail.End), true
	}

	if g.End <= tail.End+s.cfg.Tolerance &&
		bestWindowSimilarity(headTokens, tailTokens) >= s.cfg.SimilarityThreshold {
		return g, false
	}

	seam := transcript.Seam{
		ChunkIndex: g.ChunkIndex,
		At:         tail.End,
		TailText:   tail.Text,
		HeadText:   g.Text,
	}
	out.Seams = append(out.Seams, seam)
	slog.WarnContext(ctx, "unresolved overlap at chunk seam, keeping both sides",
		slog.Int("chunk", g.ChunkIndex),
		slog.Float64("at", tail.End),
		slog.String("tail", tail.Text),
		slog.String("head", g.Text))

	return clampStart(g, tail.End), true
}

// overlappingTokens returns the normalized tokens of retained segments that
// end after from, oldest first.
func (s *Stitcher) overlappingTokens(retained []transcript.GlobalSegment, from float64) []string {
	i := len(retained)
	for i > 0 && retained[i-1].End > from-s.cfg.Tolerance {
		i--
	}
	var tokens []string
	for _, r := range retained[i:] {
		tokens = append(tokens, normalize(r.Text)...)
	}
	return tokens
}

// trimHead drops the first k tokens of g and moves its start past them.
func trimHead(g transcript.GlobalSegment, k int, floor float64) transcript.GlobalSegment {
	g.Text = dropTokens(g.Text, k)

	if len(g.Words) > 0 {
		if len(g.Words) == len(normalize(joinWords(g.Words))) && k <= len(g.Words) {
			g.Words = g.Words[k:]
		} else {
			g.Words = slices.DeleteFunc(slices.Clone(g.Words), func(w transcript.Word) bool {
				return (w.Start+w.End)/2 < floor
			})
		}
		if len(g.Words) > 0 {
			g.Start = math.Max(g.Start, g.Words[0].Start)
		} else {
			g.Words = nil
		}
	}
	return clampStart(g, floor)
}

// clampStart moves g (and its words) so nothing starts before floor.
func clampStart(g transcript.GlobalSegment, floor float64) transcript.GlobalSegment {
	if g.Start < floor {
		g.Start = floor
	}
	g.End = math.Max(g.End, g.Start)

	if len(g.Words) == 0 {
		return g
	}
	words := make([]transcript.Word, 0, len(g.Words))
	for _, w := range g.Words {
		w.Start = math.Max(w.Start, g.Start)
		w.End = math.Max(w.End, w.Start)
		words = append(words, w)
	}
	g.Words = words
	return g
}

func joinWords(words []transcript.Word) string {
	n := 0
	for _, w := range words {
		n += len(w.Text) + 1
	}
	b := make([]byte, 0, n)
	for i, w := range words {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, w.Text...)
	}
	return string(b)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
