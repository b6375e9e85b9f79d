// Package audio converts captured PCM into the normalized mono float32
// buffers the recognizer engine expects.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-whisper/internal/native"
)

// LoadWAV decodes a WAV file into normalized mono float32 samples. Multi-
// channel input is downmixed by averaging; the sample rate must already be
// the engine rate; resampling belongs to the capture pipeline.
func LoadWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("wav %s: missing format information", path)
	}
	if buf.Format.SampleRate != native.SampleRate {
		return nil, fmt.Errorf("wav %s: sample rate %d, engine expects %d", path, buf.Format.SampleRate, native.SampleRate)
	}
	if dec.BitDepth == 0 {
		return nil, fmt.Errorf("wav %s: unknown bit depth", path)
	}

	channels := buf.Format.NumChannels
	scale := float32(int64(1) << (dec.BitDepth - 1))
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return samples, nil
}

// PCM16ToFloat32 converts little-endian 16-bit PCM frames into normalized
// float32 samples, downmixing the given channel count to mono.
func PCM16ToFloat32(pcm []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("pcm payload not aligned to %d-channel 16-bit frames", channels)
	}

	frames := len(pcm) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			raw := int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:]))
			sum += float32(raw) / 32768
		}
		samples[i] = sum / float32(channels)
	}
	return samples, nil
}
