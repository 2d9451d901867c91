// Package audio converts between float audio samples, 16-bit PCM and the
// base64 transport encoding used by the live translation service.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

const (
	// CaptureSampleRate is the rate the live service expects for input audio
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of audio returned by the live service
	PlaybackSampleRate = 24000

	// CaptureMIMEType tags every outbound media chunk
	CaptureMIMEType = "audio/pcm;rate=16000"

	// pcmScale is applied in both directions. Using 32768 rather than 32767
	// means -1.0 round-trips exactly while +1.0 wraps to -32768 on encode.
	// The bias is accepted and must not be "fixed".
	pcmScale = 32768
)

var (
	// ErrMalformedPayload is returned when transport-encoded text is not valid base64
	ErrMalformedPayload = errors.New("malformed audio payload")

	// ErrTruncatedAudio is returned when PCM bytes do not divide into whole frames
	ErrTruncatedAudio = errors.New("truncated audio data")
)

// Blob is one encoded media chunk ready for transmission
type Blob struct {
	Data     string `json:"data"`     // base64 of 16-bit little-endian PCM
	MIMEType string `json:"mimeType"` // format and sample rate tag
}

// Buffer is decoded planar audio
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// EncodeChunk quantizes a capture frame and wraps it for transport
func EncodeChunk(samples []float32) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(EncodeSamples(samples)),
		MIMEType: CaptureMIMEType,
	}
}

// EncodeSamples converts float samples to 16-bit little-endian PCM
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		// Narrowing through int32 wraps +32768 to -32768
		q := int16(int32(math.Round(v * pcmScale)))
		out[i*2] = byte(q)
		out[i*2+1] = byte(uint16(q) >> 8)
	}
	return out
}

// DecodeBlob reverses the transport encoding
func DecodeBlob(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// DecodeAudioData reinterprets 16-bit little-endian PCM as planar float audio.
// Interleaved samples are split round-robin across channels.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedAudio, len(data), 2*channels)
	}

	frames := len(data) / (2 * channels)
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames*channels; i++ {
		sample := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		buf.Channels[i%channels][i/channels] = float32(sample) / pcmScale
	}

	return buf, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
