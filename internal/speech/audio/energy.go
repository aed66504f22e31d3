package audio

import (
	"math"
)

// SilenceConfig holds energy-based silence detection parameters.
type SilenceConfig struct {
	ThresholdDB float64 // frames quieter than this (dBFS) are silent
	MinSilence  float64 // minimum run of silence in seconds
	FrameSizeMs int     // analysis frame size in milliseconds
}

// DefaultSilenceConfig returns -40 dBFS, one second, 30ms frames.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		ThresholdDB: -40,
		MinSilence:  1.0,
		FrameSizeMs: 30,
	}
}

// Window is a [Start, End] span in seconds.
type Window struct {
	Start float64
	End   float64
}

// Mid returns the midpoint of the window.
func (w Window) Mid() float64 {
	return (w.Start + w.End) / 2
}

// SilenceWindows scans the whole source and returns every run of frames
// below the threshold lasting at least MinSilence, in ascending order.
func (s *Source) SilenceWindows(cfg SilenceConfig) []Window {
	if cfg.FrameSizeMs <= 0 {
		cfg.FrameSizeMs = 30
	}
	frame := s.sampleRate * cfg.FrameSizeMs / 1000
	if frame <= 0 || len(s.samples) == 0 {
		return nil
	}

	var (
		windows []Window
		runFrom = -1
	)
	flush := func(to int) {
		if runFrom < 0 {
			return
		}
		start := float64(runFrom) / float64(s.sampleRate)
		end := float64(to) / float64(s.sampleRate)
		if end-start >= cfg.MinSilence {
			windows = append(windows, Window{Start: start, End: end})
		}
		runFrom = -1
	}

	for off := 0; off < len(s.samples); off += frame {
		end := min(off+frame, len(s.samples))
		if dbfs(rmsEnergy(s.samples[off:end])) < cfg.ThresholdDB {
			if runFrom < 0 {
				runFrom = off
			}
			continue
		}
		flush(off)
	}
	flush(len(s.samples))

	return windows
}

// rmsEnergy computes the root-mean-square energy of 16-bit signed samples.
func rmsEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, v := range samples {
		sumSquares += float64(v) * float64(v)
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// dbfs converts an RMS amplitude to decibels relative to full scale.
func dbfs(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/math.MaxInt16)
}
