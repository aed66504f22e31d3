package google

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voicetyped/transcriber/internal/speech/asr"
	"github.com/voicetyped/transcriber/internal/speech/backends/restutil"
	"github.com/voicetyped/transcriber/internal/speech/registry"
	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

func init() {
	registry.ASR.Register("google", func(config map[string]string) (asr.Client, error) {
		apiKey := config["google_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: google API key required (set google_api_key in config)", transcript.ErrInvalidConfig)
		}
		baseURL := config["google_base_url"]
		if baseURL == "" {
			baseURL = "https://speech.googleapis.com"
		}
		model := config["google_model"]
		if model == "" {
			model = "latest_long"
		}
		lang := config["language"]
		if lang == "" {
			lang = "en-US"
		}
		return &GoogleASR{
			apiKey:   apiKey,
			baseURL:  strings.TrimRight(baseURL, "/"),
			model:    model,
			language: lang,
			timeout:  restutil.ParseTimeout(config["timeout"], restutil.DefaultTimeout),
		}, nil
	})
}

// MaxAudioSeconds is the longest audio the synchronous recognize method
// accepts in one request.
const MaxAudioSeconds = 60.0

type googleRecognizeRequest struct {
	Config googleRecognizeConfig `json:"config"`
	Audio  googleRecognizeAudio  `json:"audio"`
}

type googleRecognizeConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model"`
	EnableWordTimeOffsets      bool   `json:"enableWordTimeOffsets"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type googleRecognizeAudio struct {
	Content string `json:"content"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				StartTime string `json:"startTime"`
				EndTime   string `json:"endTime"`
				Word      string `json:"word"`
			} `json:"words"`
		} `json:"alternatives"`
		ResultEndTime string `json:"resultEndTime"`
	} `json:"results"`
}

// GoogleASR implements asr.Client using the Google Cloud Speech-to-Text v1
// REST API.
type GoogleASR struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// MaxChunkDuration reports the synchronous recognize limit.
func (g *GoogleASR) MaxChunkDuration() float64 { return MaxAudioSeconds }

// Transcribe sends one WAV chunk; each recognition result becomes a segment.
func (g *GoogleASR) Transcribe(ctx context.Context, wav []byte, opts asr.Options) ([]transcript.RawSegment, error) {
	lang := g.language
	if opts.Language != "" {
		lang = opts.Language
	}
	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := googleRecognizeRequest{
		Config: googleRecognizeConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            wavSampleRate(wav),
			LanguageCode:               lang,
			Model:                      model,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: googleRecognizeAudio{
			Content: base64.StdEncoding.EncodeToString(wav),
		},
	}

	var resp googleRecognizeResponse
	apiURL := g.baseURL + "/v1/speech:recognize?key=" + g.apiKey
	if err := restutil.DoJSON(ctx, http.MethodPost, apiURL, nil, req, &resp, g.timeout); err != nil {
		return nil, fmt.Errorf("google ASR: %w", err)
	}

	var (
		out  []transcript.RawSegment
		prev float64
	)
	for _, r := range resp.Results {
		resultEnd := offset(r.ResultEndTime)
		if len(r.Alternatives) == 0 {
			prev = max(prev, resultEnd)
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			prev = max(prev, resultEnd)
			continue
		}

		seg := transcript.RawSegment{Text: text, Start: prev, End: resultEnd, Confidence: alt.Confidence}
		for _, w := range alt.Words {
			seg.Words = append(seg.Words, transcript.Word{
				Text:  w.Word,
				Start: offset(w.StartTime),
				End:   offset(w.EndTime),
			})
		}
		if n := len(seg.Words); n > 0 {
			seg.Start = seg.Words[0].Start
			seg.End = max(seg.End, seg.Words[n-1].End)
		}
		seg.End = max(seg.End, seg.Start)
		out = append(out, seg)
		prev = seg.End
	}
	return out, nil
}

// offset parses protobuf Duration JSON such as "1.300s".
func offset(v string) float64 {
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d.Seconds()
}

func wavSampleRate(wav []byte) int {
	if len(wav) >= 44 && string(wav[0:4]) == "RIFF" {
		if rate := int(binary.LittleEndian.Uint32(wav[24:28])); rate > 0 {
			return rate
		}
	}
	return 16000
}
