package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/observability"
)

// Backend owns the process audio context used for enumeration and capture
type Backend struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger
	mu     sync.Mutex
	closed bool
}

// NewBackend initializes the platform audio context
func NewBackend(logger zerolog.Logger) (*Backend, error) {
	logger = observability.Component(logger, "capture")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("message", message).Msg("miniaudio")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	return &Backend{ctx: ctx, logger: logger}, nil
}

// Devices lists the capture devices currently present
func (b *Backend) Devices() ([]Device, error) {
	infos, err := b.deviceInfos()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:        info.ID.String(),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func (b *Backend) deviceInfos() ([]malgo.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: audio backend closed", ErrDeviceUnavailable)
	}
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	return infos, nil
}

// Healthy reports whether device enumeration works
func (b *Backend) Healthy() error {
	_, err := b.deviceInfos()
	return err
}

// Open starts capturing from deviceID and calls onFrame with every full frame
func (b *Backend) Open(deviceID string, frameSize int, onFrame func([]float32)) (*Stream, error) {
	infos, err := b.deviceInfos()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &Stream{logger: b.logger.With().Str("device_id", deviceID).Logger()}
	found := false
	for _, info := range infos {
		if info.ID.String() == deviceID {
			s.deviceID = info.ID
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: device %q not found", ErrDeviceUnavailable, deviceID)
	}

	s.framer = audio.NewFramer(frameSize, onFrame)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.Capture.DeviceID = s.deviceID.Pointer()
	cfg.SampleRate = audio.CaptureSampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			s.handleInput(input)
		},
	}

	b.mu.Lock()
	device, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.logger.Info().
		Int("frame_size", s.framer.Size()).
		Int("sample_rate", audio.CaptureSampleRate).
		Msg("Capture started")

	return s, nil
}

// Close releases the audio context
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	_ = b.ctx.Uninit()
	b.ctx.Free()
}

// Stream is one open capture device
type Stream struct {
	device   *malgo.Device
	deviceID malgo.DeviceID
	framer   *audio.Framer
	logger   zerolog.Logger

	closeOnce sync.Once
	samples   []float32
}

// handleInput runs on the audio thread
func (s *Stream) handleInput(input []byte) {
	n := len(input) / 4
	if cap(s.samples) < n {
		s.samples = make([]float32, n)
	}
	samples := s.samples[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[4*i:]))
	}
	s.framer.Write(samples)
}

// Close stops the device and releases it. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.device.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop capture device")
		}
		s.device.Uninit()
		dropped := s.framer.Buffered()
		s.framer.Reset()
		s.logger.Info().Int("dropped_samples", dropped).Msg("Capture stopped")
	})
	return nil
}
