package audio

import (
	"encoding/binary"
	"io"
)

// writeWAVHeader writes a minimal 44-byte WAV header for 16-bit mono PCM.
func writeWAVHeader(w io.Writer, dataSize, sampleRate int) error {
	totalSize := 36 + dataSize

	// RIFF header
	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(totalSize)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}

	// fmt sub-chunk
	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	fields := []any{
		uint32(16),             // sub-chunk size
		uint16(1),              // PCM format
		uint16(1),              // mono
		uint32(sampleRate),     // sample rate
		uint32(sampleRate * 2), // byte rate
		uint16(2),              // block align
		uint16(16),             // bits per sample
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}

	// data sub-chunk
	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(dataSize))
}

// WriteWAV writes samples as a complete 16-bit mono WAV stream.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	if err := writeWAVHeader(w, len(samples)*2, sampleRate); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, samples)
}
