package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/backends/restutil"
	"github.com/voicetyped/transcriber/internal/speech/registry"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

func init() {
	registry.ASR.Register("deepgram", func(config map[string]string) (asr.Client, error) {
		apiKey := config["deepgram_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: deepgram API key required (set deepgram_api_key in config)", transcript.ErrInvalidConfig)
		}
		baseURL := config["deepgram_base_url"]
		if baseURL == "" {
			baseURL = "https://api.deepgram.com"
		}
		model := config["deepgram_model"]
		if model == "" {
			model = "nova-2"
		}
		lang := config["language"]
		if lang == "" {
			lang = "en"
		}
		return &DeepgramASR{
			apiKey:   apiKey,
			baseURL:  strings.TrimRight(baseURL, "/"),
			model:    model,
			language: lang,
			timeout:  restutil.ParseTimeout(config["timeout"], restutil.DefaultTimeout),
		}, nil
	})
}

type deepgramWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string         `json:"transcript"`
				Confidence float64        `json:"confidence"`
				Words      []deepgramWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64        `json:"start"`
			End        float64        `json:"end"`
			Confidence float64        `json:"confidence"`
			Transcript string         `json:"transcript"`
			Words      []deepgramWord `json:"words"`
		} `json:"utterances"`
	} `json:"results"`
}

// DeepgramASR implements asr.Client using the Deepgram pre-recorded API.
type DeepgramASR struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Transcribe posts one WAV chunk. Utterances become segments; without
// utterances the first alternative is returned as a single segment.
func (d *DeepgramASR) Transcribe(ctx context.Context, wav []byte, opts asr.Options) ([]transcript.RawSegment, error) {
	params := url.Values{}
	params.Set("model", d.model)
	if opts.Model != "" {
		params.Set("model", opts.Model)
	}
	params.Set("language", d.language)
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	params.Set("utterances", "true")

	var resp deepgramResponse
	err := restutil.Do(ctx, restutil.Request{
		Method: http.MethodPost,
		URL:    d.baseURL + "/v1/listen?" + params.Encode(),
		Headers: map[string]string{
			"Authorization": "Token " + d.apiKey,
			"Content-Type":  "audio/wav",
		},
		Body:    bytes.NewReader(wav),
		Timeout: d.timeout,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("deepgram API: %w", err)
	}

	var out []transcript.RawSegment
	for _, u := range resp.Results.Utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		out = append(out, transcript.RawSegment{
			Text:       text,
			Start:      u.Start,
			End:        u.End,
			Confidence: u.Confidence,
			Words:      toWords(u.Words),
		})
	}
	if len(out) > 0 || len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return out, nil
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil, nil
	}
	seg := transcript.RawSegment{Text: text, Confidence: alt.Confidence, Words: toWords(alt.Words)}
	if n := len(seg.Words); n > 0 {
		seg.Start, seg.End = seg.Words[0].Start, seg.Words[n-1].End
	}
	return []transcript.RawSegment{seg}, nil
}

func toWords(in []deepgramWord) []transcript.Word {
	if len(in) == 0 {
		return nil
	}
	out := make([]transcript.Word, 0, len(in))
	for _, w := range in {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		out = append(out, transcript.Word{Text: text, Start: w.Start, End: w.End})
	}
	return out
}
