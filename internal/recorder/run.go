package recorder

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/live"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/transcript"
)

// run holds everything owned by one recording. It is the live session
// handler; once active is cleared every callback is a no-op.
type run struct {
	rec       *Recorder
	id        string
	source    string
	target    string
	startedAt time.Time

	active    atomic.Bool
	connected atomic.Bool

	output     Output
	scheduler  *playback.Scheduler
	session    LiveSession
	mic        io.Closer
	reconciler *transcript.Reconciler

	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

func newRun(rec *Recorder, source, target string) *run {
	id := observability.NewCorrelationID()
	return &run{
		rec:        rec,
		id:         id,
		source:     source,
		target:     target,
		startedAt:  time.Now().UTC(),
		reconciler: transcript.NewReconciler(rec.cfg.Limits),
		metrics:    observability.NewSessionMetrics(id),
		logger:     observability.WithCorrelationID(rec.logger, id),
	}
}

// teardown runs in a fixed order: mark inactive, close the session, release
// capture, then playback. Each step runs regardless of earlier failures.
func (rn *run) teardown(outcome string) {
	rn.active.Store(false)

	if rn.session != nil {
		if err := rn.session.Close(); err != nil {
			rn.logger.Warn().Err(err).Msg("Failed to close live session")
		}
	}
	if rn.mic != nil {
		if err := rn.mic.Close(); err != nil {
			rn.logger.Warn().Err(err).Msg("Failed to close capture stream")
		}
	}
	if rn.scheduler != nil {
		rn.scheduler.Interrupt()
	}
	if rn.output != nil {
		if err := rn.output.Close(); err != nil {
			rn.logger.Warn().Err(err).Msg("Failed to close speaker")
		}
	}
	if rn.session != nil {
		rn.metrics.RecordSessionEnd(outcome)
	}
}

// onFrame runs on the audio thread and must not block
func (rn *run) onFrame(samples []float32) {
	if !rn.active.Load() {
		return
	}
	rn.metrics.RecordInputLevel(audio.CalculateRMS(samples))
	rn.session.Send(audio.EncodeChunk(samples))
	rn.metrics.RecordFrameSent(len(samples) * 2)
}

func (rn *run) OnOpen() {
	if !rn.active.Load() {
		return
	}
	rn.connected.Store(true)
	rn.metrics.RecordConnected()
	rn.rec.publisher.Publish(newEvent(EventState, map[string]string{
		"state":     StateRecording.String(),
		"sessionId": rn.id,
		"live":      "open",
	}))
}

func (rn *run) OnMessage(msg *live.ServerMessage) {
	if !rn.active.Load() {
		return
	}
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted {
		n := rn.scheduler.Interrupt()
		rn.metrics.RecordInterruption()
		rn.logger.Debug().Int("stopped", n).Msg("Playback interrupted")
	}

	for _, blob := range msg.AudioPayloads() {
		rn.play(blob)
	}

	changed := false
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		rn.reconciler.AppendInput(sc.InputTranscription.Text)
		changed = true
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		rn.reconciler.AppendOutput(sc.OutputTranscription.Text)
		changed = true
	}
	if changed {
		rn.rec.publisher.Publish(newEvent(EventPartial, rn.reconciler.Partial()))
	}
}

// play decodes one audio payload and schedules it. Bad payloads are dropped.
func (rn *run) play(blob audio.Blob) {
	data, err := audio.DecodeBlob(blob.Data)
	if err != nil {
		observability.RecordDrop("malformed_payload")
		rn.logger.Warn().Err(err).Msg("Dropping audio chunk")
		return
	}
	buf, err := audio.DecodeAudioData(data, live.PayloadSampleRate(blob.MIMEType), 1)
	if err != nil {
		observability.RecordDrop("truncated_audio")
		rn.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping audio chunk")
		return
	}

	_, late := rn.scheduler.Enqueue(buf)
	rn.metrics.RecordPlayback(late)
	rn.metrics.RecordAudioBytes("out", int64(len(data)))
}

// OnTurnComplete finalizes the turn from the reconciler, which has seen the
// same fragments as the session accumulators.
func (rn *run) OnTurnComplete(input, output string) {
	if !rn.active.Load() {
		return
	}
	turn := rn.reconciler.CompleteTurn()
	if turn.Number == 0 {
		return
	}

	rn.metrics.RecordTurn()
	rn.logger.Debug().Int("turn", turn.Number).Int("input_chars", len(input)).Int("output_chars", len(output)).Msg("Turn complete")
	rn.rec.publisher.Publish(newEvent(EventTranscript, TranscriptPayload{
		SessionID: rn.id,
		Turn:      turn,
		History:   rn.reconciler.History(),
	}))

	if rn.rec.exporter != nil {
		rn.rec.exporter.ExportTurn(rn.id, rn.startedAt, turn)
	}
}

func (rn *run) OnError(err error) {
	if !rn.active.Load() {
		return
	}
	rn.publishError("transport", err)
	rn.rec.end(rn, "error")
}

func (rn *run) OnClose(ev live.CloseEvent) {
	if !rn.active.Load() {
		return
	}
	if !ev.Local {
		err := fmt.Errorf("%w: code %d", live.ErrSessionClosed, ev.Code)
		if ev.Reason != "" {
			err = fmt.Errorf("%w: code %d: %s", live.ErrSessionClosed, ev.Code, ev.Reason)
		}
		rn.publishError("remote_close", err)
	}
	rn.rec.end(rn, "remote_close")
}

func (rn *run) publishError(kind string, err error) {
	var te *live.TransportError
	if errors.As(err, &te) {
		kind = "transport"
	}
	rn.metrics.RecordError(kind, "recorder")
	rn.rec.publisher.Publish(newEvent(EventError, ErrorPayload{
		Kind:      kind,
		Message:   err.Error(),
		SessionID: rn.id,
	}))
}
