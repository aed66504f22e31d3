package profiles

import (
	"github.com/voicetyped/transcriber/internal/speech/engine"
)

// Profile overrides engine settings for a class of jobs. Unset fields keep
// the service defaults.
type Profile struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language,omitempty"`
	Prompt   string `yaml:"prompt,omitempty"`
	Model    string `yaml:"model,omitempty"`

	Chunking  ChunkingOverrides  `yaml:"chunking,omitempty"`
	Stitching StitchingOverrides `yaml:"stitching,omitempty"`
	Assembly  AssemblyOverrides  `yaml:"assembly,omitempty"`

	MaxRetries        *int `yaml:"max_retries,omitempty"`
	RequestsPerMinute *int `yaml:"requests_per_minute,omitempty"`
	Concurrency       *int `yaml:"concurrency,omitempty"`
}

// ChunkingOverrides mirrors chunk.Config.
type ChunkingOverrides struct {
	MaxChunkDuration   *float64 `yaml:"max_chunk_duration,omitempty"`
	MinChunkDuration   *float64 `yaml:"min_chunk_duration,omitempty"`
	SilenceThresholdDB *float64 `yaml:"silence_threshold_db,omitempty"`
	OverlapSeconds     *float64 `yaml:"overlap_seconds,omitempty"`
	MinSilenceDuration *float64 `yaml:"min_silence_duration,omitempty"`
}

// StitchingOverrides mirrors stitch.Config.
type StitchingOverrides struct {
	Tolerance           *float64 `yaml:"tolerance,omitempty"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold,omitempty"`
}

// AssemblyOverrides mirrors sentence.Config.
type AssemblyOverrides struct {
	MaxIntraSentenceGap *float64 `yaml:"max_intra_sentence_gap,omitempty"`
}

// Apply returns base with the profile's overrides applied.
func (p *Profile) Apply(base engine.Config) engine.Config {
	cfg := base
	if p == nil {
		return cfg
	}
	if p.Language != "" {
		cfg.Language = p.Language
	}
	if p.Prompt != "" {
		cfg.Prompt = p.Prompt
	}
	if p.Model != "" {
		cfg.Model = p.Model
	}

	set(&cfg.Chunking.MaxChunkDuration, p.Chunking.MaxChunkDuration)
	set(&cfg.Chunking.MinChunkDuration, p.Chunking.MinChunkDuration)
	set(&cfg.Chunking.SilenceThresholdDB, p.Chunking.SilenceThresholdDB)
	set(&cfg.Chunking.OverlapSeconds, p.Chunking.OverlapSeconds)
	set(&cfg.Chunking.MinSilenceDuration, p.Chunking.MinSilenceDuration)
	set(&cfg.Stitching.Tolerance, p.Stitching.Tolerance)
	set(&cfg.Stitching.SimilarityThreshold, p.Stitching.SimilarityThreshold)
	set(&cfg.Assembly.MaxIntraSentenceGap, p.Assembly.MaxIntraSentenceGap)

	set(&cfg.Retry.MaxRetries, p.MaxRetries)
	set(&cfg.RequestsPerMinute, p.RequestsPerMinute)
	set(&cfg.Concurrency, p.Concurrency)
	return cfg
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
