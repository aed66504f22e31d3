package chunk

import (
	"fmt"
	"math"

	"github.com/voicetyped/transcriber/internal/speech/audio"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Config holds chunk planning parameters. Durations are in seconds.
type Config struct {
	MaxChunkDuration   float64
	MinChunkDuration   float64
	SilenceThresholdDB float64
	OverlapSeconds     float64
	MinSilenceDuration float64
}

// DefaultConfig returns 120s chunks with a 30s floor, -40 dBFS silence of at
// least one second, and a one second overlap on forced cuts.
func DefaultConfig() Config {
	return Config{
		MaxChunkDuration:   120,
		MinChunkDuration:   30,
		SilenceThresholdDB: -40,
		OverlapSeconds:     1,
		MinSilenceDuration: 1,
	}
}

// Validate rejects configurations that cannot produce a valid plan.
func (c Config) Validate() error {
	switch {
	case c.MaxChunkDuration <= 0:
		return fmt.Errorf("%w: max chunk duration must be positive, got %v", transcript.ErrInvalidConfig, c.MaxChunkDuration)
	case c.MinChunkDuration <= 0:
		return fmt.Errorf("%w: min chunk duration must be positive, got %v", transcript.ErrInvalidConfig, c.MinChunkDuration)
	case c.MinChunkDuration > c.MaxChunkDuration:
		return fmt.Errorf("%w: min chunk duration %v exceeds max %v", transcript.ErrInvalidConfig, c.MinChunkDuration, c.MaxChunkDuration)
	case c.OverlapSeconds < 0:
		return fmt.Errorf("%w: overlap must not be negative, got %v", transcript.ErrInvalidConfig, c.OverlapSeconds)
	case c.OverlapSeconds >= c.MinChunkDuration:
		return fmt.Errorf("%w: overlap %v must be shorter than min chunk duration %v", transcript.ErrInvalidConfig, c.OverlapSeconds, c.MinChunkDuration)
	case c.MinSilenceDuration < 0:
		return fmt.Errorf("%w: min silence duration must not be negative, got %v", transcript.ErrInvalidConfig, c.MinSilenceDuration)
	}
	return nil
}

// Analyzer exposes what the planner needs from decoded audio.
type Analyzer interface {
	Duration() float64
	SilenceWindows(cfg audio.SilenceConfig) []audio.Window
}

// Planner splits a source into chunks, cutting in silence where possible.
type Planner struct {
	cfg Config
}

// NewPlanner validates cfg and returns a Planner.
func NewPlanner(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg}, nil
}

// Plan returns chunks that together cover [0, Duration] in order. A chunk
// that starts at a silence cut does not overlap its predecessor. A chunk
// that follows a forced cut starts OverlapSeconds early.
func (p *Planner) Plan(src Analyzer) ([]transcript.Chunk, error) {
	total := src.Duration()
	if total <= 0 {
		return nil, nil
	}
	if total <= p.cfg.MaxChunkDuration {
		return []transcript.Chunk{{Index: 0, Start: 0, End: total}}, nil
	}

	silences := src.SilenceWindows(audio.SilenceConfig{
		ThresholdDB: p.cfg.SilenceThresholdDB,
		MinSilence:  p.cfg.MinSilenceDuration,
		FrameSizeMs: 30,
	})
	return p.plan(total, silences), nil
}

func (p *Planner) plan(total float64, silences []audio.Window) []transcript.Chunk {
	var (
		chunks   []transcript.Chunk
		start    float64
		overlaps bool
	)
	for total-start > p.cfg.MaxChunkDuration {
		nominal := start + p.cfg.MaxChunkDuration
		lo := start + p.cfg.MinChunkDuration

		cut, found := bestCut(silences, lo, nominal)
		if !found {
			cut = nominal
		}
		chunks = append(chunks, transcript.Chunk{
			Index:        len(chunks),
			Start:        start,
			End:          cut,
			OverlapsPrev: overlaps,
		})

		if found {
			start, overlaps = cut, false
		} else {
			start, overlaps = cut-p.cfg.OverlapSeconds, p.cfg.OverlapSeconds > 0
		}
	}

	return append(chunks, transcript.Chunk{
		Index:        len(chunks),
		Start:        start,
		End:          total,
		OverlapsPrev: overlaps,
	})
}

// bestCut picks, among silence windows touching [lo, hi], the one whose
// midpoint clamped into range lies closest to hi.
func bestCut(silences []audio.Window, lo, hi float64) (float64, bool) {
	best, found := 0.0, false
	for _, w := range silences {
		if w.End < lo || w.Start > hi {
			continue
		}
		cut := math.Max(lo, math.Min(hi, w.Mid()))
		if !found || hi-cut < hi-best {
			best, found = cut, true
		}
	}
	return best, found
}
