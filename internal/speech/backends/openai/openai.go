package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/backends/restutil"
	"github.com/voicetyped/transcriber/internal/speech/registry"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	groqBaseURL   = "https://api.groq.com/openai/v1"
)

func init() {
	registry.ASR.Register("openai", func(config map[string]string) (asr.Client, error) {
		return newFromConfig(config, "openai", openAIBaseURL, "whisper-1")
	})
	registry.ASR.Register("groq", func(config map[string]string) (asr.Client, error) {
		return newFromConfig(config, "groq", groqBaseURL, "whisper-large-v3")
	})
}

func newFromConfig(config map[string]string, prefix, defaultURL, defaultModel string) (*WhisperASR, error) {
	apiKey := config[prefix+"_api_key"]
	if apiKey == "" {
		apiKey = config["api_key"]
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key required (set %s_api_key in config)",
			transcript.ErrInvalidConfig, prefix, prefix)
	}
	baseURL := config[prefix+"_base_url"]
	if baseURL == "" {
		baseURL = config["base_url"]
	}
	if baseURL == "" {
		baseURL = defaultURL
	}
	model := config[prefix+"_model"]
	if model == "" {
		model = config["model"]
	}
	if model == "" {
		model = defaultModel
	}
	return &WhisperASR{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: restutil.ParseTimeout(config["timeout"], restutil.DefaultTimeout),
	}, nil
}

// WhisperASR implements asr.Client against an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI, Groq).
type WhisperASR struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
	Words    []verboseWord    `json:"words"`
}

type verboseSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type verboseWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcribe uploads one WAV chunk and returns its timed segments.
func (o *WhisperASR) Transcribe(ctx context.Context, wav []byte, opts asr.Options) ([]transcript.RawSegment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, fmt.Errorf("openai ASR: create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("openai ASR: write form file: %w", err)
	}

	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}
	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("temperature", "0")
	_ = writer.WriteField("timestamp_granularities[]", "word")
	_ = writer.WriteField("timestamp_granularities[]", "segment")
	if opts.Language != "" {
		_ = writer.WriteField("language", opts.Language)
	}
	if opts.Prompt != "" {
		_ = writer.WriteField("prompt", opts.Prompt)
	}
	writer.Close()

	var resp verboseResponse
	err = restutil.Do(ctx, restutil.Request{
		Method: http.MethodPost,
		URL:    o.baseURL + "/audio/transcriptions",
		Headers: map[string]string{
			"Authorization": "Bearer " + o.apiKey,
			"Content-Type":  writer.FormDataContentType(),
		},
		Body:    &body,
		Timeout: o.timeout,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("openai ASR: %w", err)
	}

	return toSegments(resp), nil
}

// toSegments attaches each word to the segment containing its midpoint.
func toSegments(resp verboseResponse) []transcript.RawSegment {
	if len(resp.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil
		}
		seg := transcript.RawSegment{Text: text, End: resp.Duration, Words: toWords(resp.Words)}
		if n := len(seg.Words); n > 0 {
			seg.Start, seg.End = seg.Words[0].Start, seg.Words[n-1].End
		}
		return []transcript.RawSegment{seg}
	}

	out := make([]transcript.RawSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, transcript.RawSegment{
			Text:       text,
			Start:      s.Start,
			End:        s.End,
			Confidence: confidence(s.AvgLogprob),
		})
	}
	if len(out) == 0 {
		return nil
	}

	for _, w := range resp.Words {
		mid := (w.Start + w.End) / 2
		idx := 0
		for j := range out {
			if out[j].Start <= mid {
				idx = j
			}
		}
		out[idx].Words = append(out[idx].Words, transcript.Word{
			Text:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		})
	}
	return out
}

func toWords(in []verboseWord) []transcript.Word {
	if len(in) == 0 {
		return nil
	}
	out := make([]transcript.Word, 0, len(in))
	for _, w := range in {
		out = append(out, transcript.Word{Text: strings.TrimSpace(w.Word), Start: w.Start, End: w.End})
	}
	return out
}

// confidence maps Whisper's average token log-probability onto [0, 1].
func confidence(avgLogprob float64) float64 {
	return math.Max(0, math.Min(1, math.Exp(avgLogprob)))
}
