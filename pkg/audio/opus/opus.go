// Package opus provides an [audio.Decoder] backed by layeh.com/gopus.
//
// Discord voice carries 48 kHz stereo Opus at 20 ms frame size. The decoder
// decodes at the native rate, then downmixes and resamples to the 16 kHz mono
// PCM format the transcription pipeline expects.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/voxlog/voxlog/pkg/audio"
)

const (
	nativeSampleRate = 48000
	nativeChannels   = 2
	frameSizeMs      = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = nativeSampleRate * frameSizeMs / 1000 // 960

	// OutputSampleRate and OutputChannels describe the PCM format produced
	// by [Decoder.Decode].
	OutputSampleRate = 16000
	OutputChannels   = 1
)

// Compile-time interface assertion.
var _ audio.Decoder = (*Decoder)(nil)

// Decoder wraps a gopus Opus decoder for a single speaker stream. Each
// subscription gets its own Decoder to maintain codec state correctly across
// consecutive frames.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a new Opus decoder configured for Discord audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(nativeSampleRate, nativeChannels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes an Opus packet and returns 16 kHz mono little-endian int16
// PCM bytes.
func (d *Decoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	mono := audio.StereoToMono(int16sToBytes(pcm))
	return audio.ResampleMono16(mono, nativeSampleRate, OutputSampleRate), nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
