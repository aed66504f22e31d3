package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// supportedExtensions lists the container formats accepted for extraction.
var supportedExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
	".m4v": true, ".flv": true, ".wav": true, ".mp3": true, ".m4a": true,
	".aac": true, ".flac": true, ".ogg": true, ".opus": true,
}

// commandRunner runs an external command. Tests swap it for a fake.
type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

type osCommandRunner struct{}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Extractor decodes the audio track of a media file into mono PCM16 using
// ffmpeg. Intermediate files live in a per-call temporary directory that
// is removed on every exit path, or by Source.Close on success.
type Extractor struct {
	ffmpegPath string
	tempDir    string
	sampleRate int
	cmd        commandRunner
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithFFmpegPath sets the ffmpeg binary. Defaults to "ffmpeg" on PATH.
func WithFFmpegPath(path string) ExtractorOption {
	return func(e *Extractor) { e.ffmpegPath = path }
}

// WithTempDir sets the parent directory for intermediate files.
func WithTempDir(dir string) ExtractorOption {
	return func(e *Extractor) { e.tempDir = dir }
}

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(rate int) ExtractorOption {
	return func(e *Extractor) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

func withCommandRunner(r commandRunner) ExtractorOption {
	return func(e *Extractor) { e.cmd = r }
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		ffmpegPath: "ffmpeg",
		sampleRate: DefaultSampleRate,
		cmd:        osCommandRunner{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract decodes path into an in-memory Source. The intermediate WAV is
// removed before Extract returns.
func (e *Extractor) Extract(ctx context.Context, path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", transcript.ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", transcript.ErrUnsupportedMedia, path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: extension %q", transcript.ErrUnsupportedMedia, ext)
	}

	dir, err := os.MkdirTemp(e.tempDir, "transcriber-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.WarnContext(ctx, "remove temporary audio failed",
				slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}()

	return e.decode(ctx, path, dir)
}

func (e *Extractor) decode(ctx context.Context, path, dir string) (*Source, error) {
	out := filepath.Join(dir, "audio.wav")
	args := []string{
		"-nostdin", "-y",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(e.sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		out,
	}

	output, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg failed on %s: %v\nOutput: %s",
			transcript.ErrUnsupportedMedia, path, err, lastLines(output, 5))
	}

	src, err := Load(out, e.sampleRate)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return src, nil
}

func lastLines(b []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
