// Package live manages one bidirectional streaming session with the live
// translation service over a WebSocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/observability"
)

const (
	defaultSendQueueSize = 256
	defaultCloseGrace    = 2 * time.Second
	writeTimeout         = 10 * time.Second
)

// ErrSessionClosed is reported when an operation needs a session that has already ended
var ErrSessionClosed = errors.New("live session closed")

// TransportError is a failure to open, send on or receive from the session
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// State is the session lifecycle state
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseEvent describes how a session ended
type CloseEvent struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	Local  bool   `json:"local"`
}

// Handler receives session events. Calls are made one at a time from the
// session's own goroutine and must not block for long.
type Handler interface {
	OnOpen()
	OnMessage(msg *ServerMessage)
	OnError(err error)
	OnClose(ev CloseEvent)
}

// TurnCompleteHandler is implemented by handlers that want the accumulated
// input and output transcription of each turn.
type TurnCompleteHandler interface {
	OnTurnComplete(input, output string)
}

// Config configures the live client
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	Voice          string
	ConnectTimeout time.Duration // bounds dial and setup handshake; 0 disables
	SendQueueSize  int
	CloseGrace     time.Duration
}

// Client opens live sessions
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewClient creates a client for the configured endpoint
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
		},
		logger: observability.Component(logger, "live"),
	}
}

// Session is one live connection. It is never reused after it closes.
type Session struct {
	id      string
	cfg     Config
	dialer  *websocket.Dialer
	handler Handler
	logger  zerolog.Logger

	state    atomic.Int32
	outbound chan audio.Blob
	ready    chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	failure    error
	forceClose *time.Timer

	finishOnce sync.Once

	// Owned by the read goroutine
	inputText  strings.Builder
	outputText strings.Builder
}

// Connect starts a session and returns immediately in the connecting state.
// Sends made before the handshake completes are queued and flushed in order.
func (c *Client) Connect(ctx context.Context, source, target string, h Handler) *Session {
	id := uuid.New().String()
	s := &Session{
		id:       id,
		cfg:      c.cfg,
		dialer:   c.dialer,
		handler:  h,
		logger:   c.logger.With().Str("session_id", id).Logger(),
		outbound: make(chan audio.Blob, c.cfg.SendQueueSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx, source, target)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has fully ended and OnClose has returned
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send queues one media chunk. It never blocks: chunks sent after Close are
// dropped silently and chunks that overflow the queue are dropped with a warning.
func (s *Session) Send(blob audio.Blob) {
	if s.State() >= StateClosing {
		return
	}
	select {
	case s.outbound <- blob:
	default:
		observability.RecordDrop("send_queue_full")
		s.logger.Warn().Int("queue_size", cap(s.outbound)).Msg("Send queue full, dropping audio chunk")
	}
}

// Close starts a graceful shutdown and returns without waiting for it.
// Closing an already closed session only logs.
func (s *Session) Close() error {
	for {
		st := s.State()
		if st >= StateClosing {
			s.logger.Debug().Str("state", st.String()).Msg("Close on session that is already closing")
			return nil
		}
		if s.state.CompareAndSwap(int32(st), int32(StateClosing)) {
			break
		}
	}

	s.logger.Info().Msg("Closing live session")
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	if conn != nil {
		s.forceClose = time.AfterFunc(s.cfg.CloseGrace, func() { conn.Close() })
	}
	s.mu.Unlock()

	if conn != nil {
		go func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseGrace)); err != nil {
				conn.Close()
			}
		}()
	}
	return nil
}

func (s *Session) run(ctx context.Context, source, target string) {
	defer s.cancel()

	conn, deadline, err := s.dial(ctx, source, target)
	if err != nil {
		if s.State() == StateClosing {
			s.finish(nil, CloseEvent{Code: websocket.CloseNormalClosure, Reason: "closed while connecting", Local: true})
			return
		}
		s.finish(err, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	s.mu.Lock()
	if s.State() == StateClosing {
		s.mu.Unlock()
		conn.Close()
		s.finish(nil, CloseEvent{Code: websocket.CloseNormalClosure, Reason: "closed while connecting", Local: true})
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if !deadline.IsZero() {
		conn.SetReadDeadline(deadline)
	}

	go s.writeLoop(conn)
	s.readLoop(conn)
}

func (s *Session) dial(ctx context.Context, source, target string) (*websocket.Conn, time.Time, error) {
	var deadline time.Time
	if s.cfg.ConnectTimeout > 0 {
		deadline = time.Now().Add(s.cfg.ConnectTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	endpoint, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return nil, deadline, &TransportError{Op: "dial", Err: err}
	}
	if s.cfg.APIKey != "" {
		q := endpoint.Query()
		q.Set("key", s.cfg.APIKey)
		endpoint.RawQuery = q.Encode()
	}

	start := time.Now()
	conn, resp, err := s.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, deadline, &TransportError{Op: "dial", Err: err}
	}

	setup := newSetupMessage(s.cfg.Model, s.cfg.Voice, SystemInstruction(source, target))
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, deadline, &TransportError{Op: "setup", Err: err}
	}
	conn.SetWriteDeadline(time.Time{})

	s.logger.Info().
		Str("source", source).
		Str("target", target).
		Str("model", s.cfg.Model).
		Dur("dial_time", time.Since(start)).
		Msg("Live connection established, waiting for setup complete")

	return conn, deadline, nil
}

func (s *Session) writeLoop(conn *websocket.Conn) {
	select {
	case <-s.ready:
	case <-s.done:
		return
	}

	for {
		select {
		case <-s.done:
			return
		case blob := <-s.outbound:
			if s.State() != StateOpen {
				return
			}
			msg := realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []audio.Blob{blob}}}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.fail(&TransportError{Op: "send", Err: err}, conn)
				return
			}
		}
	}
}

// fail records the first transport failure and tears the connection down so
// the read loop ends
func (s *Session) fail(err error, conn *websocket.Conn) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(s.closeReason(err))
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Skipping unparseable server message")
			continue
		}
		s.dispatch(conn, &msg)
	}
}

func (s *Session) dispatch(conn *websocket.Conn, msg *ServerMessage) {
	if msg.SetupComplete != nil {
		if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
			// Closed during the handshake, never report open
			return
		}
		conn.SetReadDeadline(time.Time{})
		close(s.ready)
		s.logger.Info().Msg("Live session open")
		s.handler.OnOpen()
	}

	if s.State() != StateOpen {
		return
	}

	if msg.GoAway != nil {
		s.logger.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("Server will close the session soon")
	}

	s.handler.OnMessage(msg)

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.InputTranscription != nil {
		s.inputText.WriteString(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil {
		s.outputText.WriteString(sc.OutputTranscription.Text)
	}
	if sc.TurnComplete {
		input, output := s.inputText.String(), s.outputText.String()
		s.inputText.Reset()
		s.outputText.Reset()
		if tc, ok := s.handler.(TurnCompleteHandler); ok {
			tc.OnTurnComplete(input, output)
		}
	}
}

func (s *Session) closeReason(err error) (error, CloseEvent) {
	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		return failure, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: failure.Error()}
	}

	local := s.State() == StateClosing

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		ev := CloseEvent{Code: closeErr.Code, Reason: closeErr.Text, Local: local}
		if local || closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return nil, ev
		}
		return &TransportError{Op: "receive", Err: err}, ev
	}

	if local {
		return nil, CloseEvent{Code: websocket.CloseNormalClosure, Reason: "closed locally", Local: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && s.State() == StateConnecting {
		err = fmt.Errorf("no setup complete within %s", s.cfg.ConnectTimeout)
		return &TransportError{Op: "handshake", Err: err}, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	}

	return &TransportError{Op: "receive", Err: err}, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// finish ends the session exactly once: OnError (if any) then OnClose
func (s *Session) finish(err error, ev CloseEvent) {
	s.finishOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		s.mu.Lock()
		if s.forceClose != nil {
			s.forceClose.Stop()
		}
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		if err != nil {
			observability.RecordError("transport", "live")
			s.logger.Error().Err(err).Int("code", ev.Code).Msg("Live session failed")
			s.handler.OnError(err)
		} else {
			s.logger.Info().Int("code", ev.Code).Bool("local", ev.Local).Msg("Live session closed")
		}
		s.handler.OnClose(ev)
		close(s.done)
	})
}
