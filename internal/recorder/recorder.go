// Package recorder is the recording state machine. It owns the one live
// session and the audio devices for the length of a recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/lang"
	"github.com/lexiqai/live-translator/internal/live"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/transcript"
)

var (
	// ErrNoDeviceSelected is returned by Start when no input device is selected
	ErrNoDeviceSelected = errors.New("no input device selected")

	// ErrAlreadyRecording is returned by Start unless the recorder is stopped
	ErrAlreadyRecording = errors.New("already recording")

	// ErrUnsupportedLanguage is returned for a language code outside the table
	ErrUnsupportedLanguage = lang.ErrUnsupportedLanguage
)

// State is the recorder lifecycle state
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Microphone opens capture streams. Frames are delivered on the audio thread.
type Microphone interface {
	Devices() ([]capture.Device, error)
	Open(deviceID string, frameSize int, onFrame func([]float32)) (io.Closer, error)
}

// Output is an open speaker with its output clock
type Output interface {
	playback.Output
	Close() error
}

// Speaker opens the playback device
type Speaker interface {
	OpenSpeaker(sampleRate int) (Output, error)
}

// LiveSession is the part of a live session the recorder drives
type LiveSession interface {
	ID() string
	Send(blob audio.Blob)
	Close() error
}

// Connector starts live sessions
type Connector interface {
	Connect(ctx context.Context, source, target string, h live.Handler) LiveSession
}

// TurnExporter receives each completed turn. It must return immediately.
type TurnExporter interface {
	ExportTurn(sessionID string, startedAt time.Time, turn transcript.Turn)
}

// Config tunes the recorder
type Config struct {
	FrameSize int
	Limits    transcript.Limits
}

// Status is a snapshot of the recorder
type Status struct {
	State           string             `json:"state"`
	SessionID       string             `json:"sessionId,omitempty"`
	Source          string             `json:"source,omitempty"`
	Target          string             `json:"target,omitempty"`
	SelectedDevice  string             `json:"selectedDevice"`
	Connected       bool               `json:"connected"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	PendingPlayback int                `json:"pendingPlayback"`
	LateBuffers     int                `json:"lateBuffers"`
	PlaybackCursor  float64            `json:"playbackCursor"`
	Turns           int                `json:"turns"`
	Partial         transcript.Partial `json:"partial"`
}

// Recorder runs at most one recording at a time
type Recorder struct {
	cfg       Config
	mic       Microphone
	speaker   Speaker
	connector Connector
	exporter  TurnExporter
	publisher Publisher
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	devices  []capture.Device
	selected string
	current  *run

	// transcript of the latest recording, kept after it stops
	transcript *transcript.Reconciler
}

// New creates a stopped recorder. exporter and publisher may be nil.
func New(cfg Config, mic Microphone, speaker Speaker, connector Connector, exporter TurnExporter, publisher Publisher, logger zerolog.Logger) *Recorder {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Recorder{
		cfg:        cfg,
		mic:        mic,
		speaker:    speaker,
		connector:  connector,
		exporter:   exporter,
		publisher:  publisher,
		logger:     observability.Component(logger, "recorder"),
		transcript: transcript.NewReconciler(cfg.Limits),
	}
}

// Start opens the speaker, connects the live session and starts capture.
// It returns once everything is wired; the session may still be connecting.
func (r *Recorder) Start(source, target string) error {
	if err := lang.ValidatePair(source, target); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped || r.current != nil {
		return ErrAlreadyRecording
	}
	if r.selected == "" {
		return ErrNoDeviceSelected
	}
	return r.startLocked(source, target)
}

func (r *Recorder) startLocked(source, target string) error {
	r.setStateLocked(StateStarting)

	rn := newRun(r, source, target)

	out, err := r.speaker.OpenSpeaker(audio.PlaybackSampleRate)
	if err != nil {
		r.abortLocked(rn, "speaker", err)
		return fmt.Errorf("failed to open speaker: %w", err)
	}
	rn.output = out
	rn.scheduler = playback.NewScheduler(out)

	r.current = rn
	rn.active.Store(true)
	rn.metrics.RecordSessionStart()
	rn.session = r.connector.Connect(context.Background(), source, target, rn)

	mic, err := r.mic.Open(r.selected, r.cfg.FrameSize, rn.onFrame)
	if err != nil {
		r.abortLocked(rn, "capture", err)
		return err
	}
	rn.mic = mic
	r.transcript = rn.reconciler

	rn.logger.Info().
		Str("live_session_id", rn.session.ID()).
		Str("source", source).
		Str("target", target).
		Str("device", r.selected).
		Int("frame_size", r.cfg.FrameSize).
		Msg("Recording started")
	r.setStateLocked(StateRecording)
	return nil
}

// abortLocked releases whatever a failed start had opened
func (r *Recorder) abortLocked(rn *run, stage string, err error) {
	rn.logger.Error().Err(err).Str("stage", stage).Msg("Failed to start recording")
	rn.teardown("error")
	if r.current == rn {
		r.current = nil
	}
	r.setStateLocked(StateStopped)
}

// Stop ends the current recording. Stopping when stopped is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn := r.current
	if rn == nil {
		return nil
	}
	r.stopLocked(rn, "stopped")
	return nil
}

func (r *Recorder) stopLocked(rn *run, outcome string) {
	r.current = nil
	r.setStateLocked(StateStopping)
	rn.teardown(outcome)
	rn.logger.Info().Str("outcome", outcome).Msg("Recording stopped")
	r.setStateLocked(StateStopped)
}

// end is called from session callbacks. A run that is no longer current is ignored.
func (r *Recorder) end(rn *run, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != rn {
		return
	}
	r.stopLocked(rn, outcome)
}

// SelectDevice changes the input device. While recording the session is
// restarted on the new device with the same languages.
func (r *Recorder) SelectDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !capture.Contains(r.devices, id) {
		return fmt.Errorf("%w: unknown device %q", capture.ErrDeviceUnavailable, id)
	}
	if id == r.selected {
		return nil
	}

	r.selected = id
	r.publishDevicesLocked()

	rn := r.current
	if rn == nil {
		return nil
	}

	r.logger.Info().Str("device", id).Msg("Input device changed while recording, restarting")
	r.stopLocked(rn, "restart")
	return r.startLocked(rn.source, rn.target)
}

// DevicesChanged replaces the known device list. If the selection vanished or
// nothing is selected, the default device is picked. Losing the device of an
// active recording stops it.
func (r *Recorder) DevicesChanged(devices []capture.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = append([]capture.Device(nil), devices...)

	if r.selected != "" && !capture.Contains(devices, r.selected) {
		if rn := r.current; rn != nil {
			err := fmt.Errorf("%w: %q was removed", capture.ErrDeviceUnavailable, r.selected)
			rn.publishError("device", err)
			r.stopLocked(rn, "error")
		}
		r.selected = ""
	}

	if r.selected == "" {
		if d, ok := capture.PickDefault(devices); ok {
			r.selected = d.ID
			r.logger.Info().Str("device", d.ID).Str("name", d.Name).Msg("Input device selected")
		}
	}

	r.publishDevicesLocked()
}

// RefreshDevices enumerates devices now and applies the result
func (r *Recorder) RefreshDevices() ([]capture.Device, error) {
	devices, err := r.mic.Devices()
	if err != nil {
		return nil, err
	}
	r.DevicesChanged(devices)
	return devices, nil
}

// Devices returns the last known device list and the selection
func (r *Recorder) Devices() ([]capture.Device, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capture.Device(nil), r.devices...), r.selected
}

// Status returns a snapshot for the UI
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:          r.state.String(),
		SelectedDevice: r.selected,
		Turns:          r.transcript.Turns(),
		Partial:        r.transcript.Partial(),
	}
	if rn := r.current; rn != nil {
		started := rn.startedAt
		st.SessionID = rn.id
		st.Source = rn.source
		st.Target = rn.target
		st.StartedAt = &started
		st.Connected = rn.connected.Load()
		if rn.scheduler != nil {
			st.PendingPlayback = rn.scheduler.Pending()
			st.LateBuffers = rn.scheduler.CatchUps()
			st.PlaybackCursor = rn.scheduler.NextStartTime()
		}
	}
	return st
}

// History returns the finalized transcript of the latest recording
func (r *Recorder) History() []transcript.Entry {
	r.mu.Lock()
	rec := r.transcript
	r.mu.Unlock()
	return rec.History()
}

// TranscriptText renders the history as plain text
func (r *Recorder) TranscriptText() string {
	return transcript.FormatText(r.History())
}

// Publish forwards an event, used for export warnings
func (r *Recorder) Publish(ev Event) {
	r.publisher.Publish(ev)
}

func (r *Recorder) setStateLocked(s State) {
	if r.state == s {
		return
	}
	r.state = s
	r.publisher.Publish(newEvent(EventState, map[string]string{"state": s.String()}))
}

func (r *Recorder) publishDevicesLocked() {
	r.publisher.Publish(newEvent(EventDevices, DevicesPayload{
		Devices:  append([]capture.Device(nil), r.devices...),
		Selected: r.selected,
	}))
}
