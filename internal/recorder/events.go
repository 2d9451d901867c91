package recorder

import (
	"time"

	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/transcript"
)

// EventType names a UI event
type EventType string

const (
	EventState      EventType = "state"
	EventPartial    EventType = "partial"
	EventTranscript EventType = "transcript"
	EventDevices    EventType = "devices"
	EventError      EventType = "error"
	EventWarning    EventType = "warning"
)

// Event is pushed to the UI as it happens
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Publisher fans events out to listeners. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// TranscriptPayload is the data of a transcript event
type TranscriptPayload struct {
	SessionID string             `json:"sessionId"`
	Turn      transcript.Turn    `json:"turn"`
	History   []transcript.Entry `json:"history"`
}

// DevicesPayload is the data of a devices event
type DevicesPayload struct {
	Devices  []capture.Device `json:"devices"`
	Selected string           `json:"selected"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

func newEvent(t EventType, data any) Event {
	return Event{Type: t, Time: time.Now().UTC(), Data: data}
}
