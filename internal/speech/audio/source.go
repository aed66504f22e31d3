package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// DefaultSampleRate is the rate audio is decoded to for transcription.
const DefaultSampleRate = 16000

// Source is a decoded mono PCM16 stream. Samples are never mutated after
// construction, so slices may be read from many goroutines.
type Source struct {
	samples    []int16
	sampleRate int
}

// NewSource wraps in-memory samples.
func NewSource(samples []int16, sampleRate int) *Source {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Source{samples: samples, sampleRate: sampleRate}
}

// Load decodes a WAV file into a mono Source. Multi-channel input is
// downmixed by averaging. A positive rate that differs from the file's
// resamples the stream to that rate.
func Load(path string, rate int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", transcript.ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wav %s: %v", transcript.ErrUnsupportedMedia, path, err)
	}
	defer streamer.Close()

	var stream beep.Streamer = streamer
	outRate := int(format.SampleRate)
	capacity := streamer.Len()
	if rate > 0 && rate != outRate {
		stream = beep.Resample(4, format.SampleRate, beep.SampleRate(rate), streamer)
		capacity = int(int64(capacity) * int64(rate) / int64(outRate))
		outRate = rate
	}

	samples := make([]int16, 0, capacity)
	buf := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(buf)
		for i := 0; i < n; i++ {
			mono := buf[i][0]
			if format.NumChannels > 1 {
				mono = (buf[i][0] + buf[i][1]) / 2
			}
			samples = append(samples, toPCM16(mono))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: read wav %s: %v", transcript.ErrUnsupportedMedia, path, err)
	}

	return NewSource(samples, outRate), nil
}

// toPCM16 inverts the decoder's int16/32768 scaling.
func toPCM16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v*(1<<15)))))
}

// SampleRate returns the sample rate in Hz.
func (s *Source) SampleRate() int { return s.sampleRate }

// Channels is always 1.
func (s *Source) Channels() int { return 1 }

// Duration returns the total length in seconds.
func (s *Source) Duration() float64 {
	return float64(len(s.samples)) / float64(s.sampleRate)
}

func (s *Source) sampleIndex(t float64) int {
	idx := int(math.Round(t * float64(s.sampleRate)))
	return max(0, min(idx, len(s.samples)))
}

// PCM returns little-endian 16-bit samples for [start, end) seconds.
func (s *Source) PCM(start, end float64) []byte {
	from, to := s.sampleIndex(start), s.sampleIndex(end)
	if to <= from {
		return nil
	}
	out := make([]byte, (to-from)*2)
	for i, v := range s.samples[from:to] {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// WAV returns [start, end) seconds wrapped as a WAV file.
func (s *Source) WAV(start, end float64) ([]byte, error) {
	pcm := s.PCM(start, end)
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := writeWAVHeader(&buf, len(pcm), s.sampleRate); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
