package config

import (
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/voicetyped/transcriber/internal/speech/chunk"
	"github.com/voicetyped/transcriber/internal/speech/engine"
	"github.com/voicetyped/transcriber/internal/speech/scheduler"
	"github.com/voicetyped/transcriber/internal/speech/sentence"
	"github.com/voicetyped/transcriber/internal/speech/stitch"
)

// TranscriberConfig holds configuration for the transcription service.
type TranscriberConfig struct {
	config.ConfigurationDefault

	// Speech-to-text provider
	STTBackend     string `envDefault:"groq"             env:"STT_BACKEND"`
	STTTimeout     string `envDefault:"120s"             env:"STT_TIMEOUT"`
	STTLanguage    string `envDefault:""                 env:"STT_LANGUAGE"`
	STTPrompt      string `envDefault:""                 env:"STT_PROMPT"`
	GroqAPIKey     string `envDefault:""                 env:"GROQ_API_KEY"`
	GroqBaseURL    string `envDefault:""                 env:"GROQ_BASE_URL"`
	GroqModel      string `envDefault:"whisper-large-v3" env:"GROQ_MODEL"`
	OpenAIAPIKey   string `envDefault:""                 env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envDefault:""                 env:"OPENAI_BASE_URL"`
	OpenAIModel    string `envDefault:"whisper-1"        env:"OPENAI_MODEL"`
	DeepgramAPIKey string `envDefault:""                 env:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envDefault:"nova-2"           env:"DEEPGRAM_MODEL"`
	GoogleAPIKey   string `envDefault:""                 env:"GOOGLE_API_KEY"`
	GoogleModel    string `envDefault:"latest_long"      env:"GOOGLE_MODEL"`

	// Chunking
	MaxChunkSeconds     float64 `envDefault:"120" env:"MAX_CHUNK_SECONDS"`
	MinChunkSeconds     float64 `envDefault:"30"  env:"MIN_CHUNK_SECONDS"`
	OverlapSeconds      float64 `envDefault:"1"   env:"CHUNK_OVERLAP_SECONDS"`
	SilenceThresholdDB  float64 `envDefault:"-40" env:"SILENCE_THRESHOLD_DB"`
	MinSilenceSeconds   float64 `envDefault:"1"   env:"MIN_SILENCE_SECONDS"`
	StitchToleranceSec  float64 `envDefault:"0.25" env:"STITCH_TOLERANCE_SECONDS"`
	SimilarityThreshold float64 `envDefault:"0.6" env:"STITCH_SIMILARITY_THRESHOLD"`
	MaxSentenceGapSec   float64 `envDefault:"1.5" env:"MAX_INTRA_SENTENCE_GAP_SECONDS"`

	// Scheduling
	Concurrency       int `envDefault:"0"  env:"TRANSCRIBE_CONCURRENCY"`
	MaxRetries        int `envDefault:"3"  env:"TRANSCRIBE_MAX_RETRIES"`
	BackoffInitialSec int `envDefault:"1"  env:"TRANSCRIBE_BACKOFF_INITIAL_SEC"`
	BackoffMaxSec     int `envDefault:"30" env:"TRANSCRIBE_BACKOFF_MAX_SEC"`
	RequestsPerMinute int `envDefault:"25" env:"STT_REQUESTS_PER_MINUTE"`

	// Media
	FFmpegPath  string `envDefault:"ffmpeg"     env:"FFMPEG_PATH"`
	TempDir     string `envDefault:""           env:"TRANSCRIBE_TEMP_DIR"`
	SampleRate  int    `envDefault:"16000"      env:"TRANSCRIBE_SAMPLE_RATE"`
	ProfilesDir string `envDefault:"./profiles" env:"PROFILES_DIR"`

	// Jobs
	JobsQueueName string `envDefault:"transcription.jobs" env:"JOBS_QUEUE_NAME"`
	JobsQueueURL  string `envDefault:"mem://transcription.jobs" env:"JOBS_QUEUE_URL"`

	SentryDSN string `envDefault:"" env:"SENTRY_DSN"`
}

// EngineConfig builds the explicit engine configuration.
func (c *TranscriberConfig) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Chunking = chunk.Config{
		MaxChunkDuration:   c.MaxChunkSeconds,
		MinChunkDuration:   c.MinChunkSeconds,
		SilenceThresholdDB: c.SilenceThresholdDB,
		OverlapSeconds:     c.OverlapSeconds,
		MinSilenceDuration: c.MinSilenceSeconds,
	}
	cfg.Stitching = stitch.Config{
		Tolerance:           c.StitchToleranceSec,
		SimilarityThreshold: c.SimilarityThreshold,
	}
	cfg.Assembly = sentence.Config{MaxIntraSentenceGap: c.MaxSentenceGapSec}

	cfg.Retry = scheduler.RetryPolicy{
		MaxRetries: c.MaxRetries,
		Backoff: scheduler.ExponentialBackoff(
			time.Duration(c.BackoffInitialSec)*time.Second,
			time.Duration(c.BackoffMaxSec)*time.Second,
		),
	}

	cfg.RequestsPerMinute = c.RequestsPerMinute
	if c.Concurrency > 0 {
		cfg.Concurrency = c.Concurrency
	}
	if c.FFmpegPath != "" {
		cfg.FFmpegPath = c.FFmpegPath
	}
	cfg.TempDir = c.TempDir
	if c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	cfg.Language = c.STTLanguage
	cfg.Prompt = c.STTPrompt
	return cfg
}

// BackendConfig returns the key/value map handed to speech backend
// factories.
func (c *TranscriberConfig) BackendConfig() map[string]string {
	return map[string]string{
		"timeout":          c.STTTimeout,
		"language":         c.STTLanguage,
		"groq_api_key":     c.GroqAPIKey,
		"groq_base_url":    c.GroqBaseURL,
		"groq_model":       c.GroqModel,
		"openai_api_key":   c.OpenAIAPIKey,
		"openai_base_url":  c.OpenAIBaseURL,
		"openai_model":     c.OpenAIModel,
		"deepgram_api_key": c.DeepgramAPIKey,
		"deepgram_model":   c.DeepgramModel,
		"google_api_key":   c.GoogleAPIKey,
		"google_model":     c.GoogleModel,
	}
}
