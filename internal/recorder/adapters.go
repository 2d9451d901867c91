package recorder

import (
	"context"
	"io"
	"time"

	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/live"
	"github.com/lexiqai/live-translator/internal/playback"
)

// BackendMicrophone opens capture streams on a malgo backend
type BackendMicrophone struct {
	Backend *capture.Backend
}

func (m BackendMicrophone) Devices() ([]capture.Device, error) {
	return m.Backend.Devices()
}

func (m BackendMicrophone) Open(deviceID string, frameSize int, onFrame func([]float32)) (io.Closer, error) {
	stream, err := m.Backend.Open(deviceID, frameSize, onFrame)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// OtoSpeaker opens the default output device through oto
type OtoSpeaker struct {
	BufferSize time.Duration
}

func (s OtoSpeaker) OpenSpeaker(sampleRate int) (Output, error) {
	sp, err := playback.OpenSpeaker(sampleRate, s.BufferSize)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// LiveConnector starts sessions on a live client
type LiveConnector struct {
	Client *live.Client
}

func (c LiveConnector) Connect(ctx context.Context, source, target string, h live.Handler) LiveSession {
	return c.Client.Connect(ctx, source, target, h)
}
