package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
)

type recordingHandler struct {
	mu       sync.Mutex
	opened   int
	messages []*ServerMessage
	errs     []error
	closes   []CloseEvent
	turns    [][2]string

	openCh  chan struct{}
	closeCh chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		openCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}, 1),
	}
}

func (h *recordingHandler) OnOpen() {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
	h.openCh <- struct{}{}
}

func (h *recordingHandler) OnMessage(msg *ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnClose(ev CloseEvent) {
	h.mu.Lock()
	h.closes = append(h.closes, ev)
	h.mu.Unlock()
	h.closeCh <- struct{}{}
}

func (h *recordingHandler) OnTurnComplete(input, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, [2]string{input, output})
}

func (h *recordingHandler) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-h.openCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for OnOpen")
	}
}

func (h *recordingHandler) waitClose(t *testing.T) {
	t.Helper()
	select {
	case <-h.closeCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for OnClose")
	}
}

func newLiveTestServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(r, conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	return wsURL, server.Close
}

func newTestClient(endpoint string) *Client {
	return NewClient(Config{
		Endpoint:       endpoint,
		APIKey:         "test-key",
		Model:          "models/test-live",
		Voice:          "Zephyr",
		ConnectTimeout: 2 * time.Second,
		CloseGrace:     200 * time.Millisecond,
	}, zerolog.Nop())
}

func readRealtimeChunks(conn *websocket.Conn, n int) []string {
	var chunks []string
	for len(chunks) < n {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg realtimeInputMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return chunks
		}
		for _, c := range msg.RealtimeInput.MediaChunks {
			chunks = append(chunks, c.Data)
		}
	}
	return chunks
}

func TestSession_SetupMessage(t *testing.T) {
	setupCh := make(chan map[string]any, 1)
	keyCh := make(chan string, 1)

	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		keyCh <- r.URL.Query().Get("key")

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		setupCh <- setup
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		conn.ReadMessage()
	})
	defer closeServer()

	h := newRecordingHandler()
	s := newTestClient(endpoint).Connect(context.Background(), "de", "en", h)
	h.waitOpen(t)

	if key := <-keyCh; key != "test-key" {
		t.Errorf("Expected api key in query, got '%s'", key)
	}

	setup := (<-setupCh)["setup"].(map[string]any)
	if setup["model"] != "models/test-live" {
		t.Errorf("Expected model 'models/test-live', got %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	modalities := gen["responseModalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "AUDIO" {
		t.Errorf("Expected AUDIO modality, got %v", modalities)
	}
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Zephyr" {
		t.Errorf("Expected voice Zephyr, got %v", voice)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("Expected input transcription to be enabled")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("Expected output transcription to be enabled")
	}
	instruction := setup["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(instruction, "German") || !strings.Contains(instruction, "English") {
		t.Errorf("Expected instruction to name both languages, got %q", instruction)
	}

	if s.State() != StateOpen {
		t.Errorf("Expected state open, got %s", s.State())
	}
	s.Close()
	h.waitClose(t)
}

func TestSession_SendQueuedUntilOpenInOrder(t *testing.T) {
	release := make(chan struct{})
	chunksCh := make(chan []string, 1)

	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var setup json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		<-release
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		chunksCh <- readRealtimeChunks(conn, 3)
	})
	defer closeServer()

	h := newRecordingHandler()
	s := newTestClient(endpoint).Connect(context.Background(), "en", "es", h)

	if s.State() != StateConnecting {
		t.Errorf("Expected connecting state right after Connect, got %s", s.State())
	}
	for _, data := range []string{"AQ==", "Ag==", "Aw=="} {
		s.Send(audio.Blob{Data: data, MIMEType: audio.CaptureMIMEType})
	}
	close(release)
	h.waitOpen(t)

	chunks := <-chunksCh
	expected := []string{"AQ==", "Ag==", "Aw=="}
	if len(chunks) != len(expected) {
		t.Fatalf("Expected %d chunks, got %v", len(expected), chunks)
	}
	for i := range expected {
		if chunks[i] != expected[i] {
			t.Errorf("Chunk %d: expected %s, got %s", i, expected[i], chunks[i])
		}
	}

	s.Close()
	h.waitClose(t)
}

func TestSession_CloseWhileConnectingSuppressesOpen(t *testing.T) {
	setupRead := make(chan struct{})
	received := make(chan int, 1)

	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var setup json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		close(setupRead)

		// Late handshake after the client asked to close
		time.Sleep(50 * time.Millisecond)
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		count := 0
		for {
			conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if strings.Contains(string(data), "realtimeInput") {
				count++
			}
		}
		received <- count
	})
	defer closeServer()

	h := newRecordingHandler()
	s := newTestClient(endpoint).Connect(context.Background(), "en", "fr", h)
	s.Send(audio.Blob{Data: "AQ==", MIMEType: audio.CaptureMIMEType})

	<-setupRead
	if err := s.Close(); err != nil {
		t.Errorf("Expected Close to succeed, got %v", err)
	}
	s.Send(audio.Blob{Data: "Ag==", MIMEType: audio.CaptureMIMEType})
	h.waitClose(t)

	if n := <-received; n != 0 {
		t.Errorf("Expected no audio to reach the service, got %d chunks", n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opened != 0 {
		t.Errorf("Expected OnOpen to be suppressed, got %d calls", h.opened)
	}
	if len(h.errs) != 0 {
		t.Errorf("Expected no errors for a local close, got %v", h.errs)
	}
	if len(h.closes) != 1 || !h.closes[0].Local {
		t.Errorf("Expected one local close event, got %v", h.closes)
	}
	if s.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", s.State())
	}
}

func TestSession_TransportErrorThenSingleClose(t *testing.T) {
	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		var setup json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			conn.Close()
			return
		}
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		// Drop the connection without a close frame
		conn.Close()
	})
	defer closeServer()

	h := newRecordingHandler()
	s := newTestClient(endpoint).Connect(context.Background(), "en", "de", h)
	h.waitOpen(t)
	h.waitClose(t)

	// A second close after the session ended is a no-op
	s.Close()
	<-s.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(h.errs))
	}
	var transportErr *TransportError
	if !errors.As(h.errs[0], &transportErr) {
		t.Errorf("Expected TransportError, got %T", h.errs[0])
	}
	if len(h.closes) != 1 {
		t.Errorf("Expected exactly 1 close event, got %d", len(h.closes))
	}
}

func TestSession_RemoteNormalCloseIsNotAnError(t *testing.T) {
	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var setup json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		conn.ReadMessage()
	})
	defer closeServer()

	h := newRecordingHandler()
	newTestClient(endpoint).Connect(context.Background(), "en", "de", h)
	h.waitClose(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 0 {
		t.Errorf("Expected no error on normal remote close, got %v", h.errs)
	}
	if h.closes[0].Code != websocket.CloseNormalClosure || h.closes[0].Local {
		t.Errorf("Expected remote normal close, got %+v", h.closes[0])
	}
}

func TestSession_HandshakeTimeout(t *testing.T) {
	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	client := newTestClient(endpoint)
	client.cfg.ConnectTimeout = 100 * time.Millisecond

	h := newRecordingHandler()
	client.Connect(context.Background(), "en", "ja", h)
	h.waitClose(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(h.errs))
	}
	var transportErr *TransportError
	if !errors.As(h.errs[0], &transportErr) || transportErr.Op != "handshake" {
		t.Errorf("Expected handshake TransportError, got %v", h.errs[0])
	}
	if h.opened != 0 {
		t.Error("Expected no OnOpen after handshake timeout")
	}
}

func TestSession_DialFailure(t *testing.T) {
	h := newRecordingHandler()
	newTestClient("ws://127.0.0.1:1/ws").Connect(context.Background(), "en", "es", h)
	h.waitClose(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	var transportErr *TransportError
	if len(h.errs) != 1 || !errors.As(h.errs[0], &transportErr) || transportErr.Op != "dial" {
		t.Errorf("Expected dial TransportError, got %v", h.errs)
	}
}

func TestSession_TurnCompleteAccumulatesAndSkipsBadFrames(t *testing.T) {
	endpoint, closeServer := newLiveTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var setup json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"inputTranscription": map[string]any{"text": "Hel"}}})
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"inputTranscription": map[string]any{"text": "lo"}}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Hola"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
			}},
		}})
		// Binary frames carry JSON too
		conn.WriteMessage(websocket.BinaryMessage, []byte(`{"serverContent":{"turnComplete":true}}`))
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.ReadMessage()
	})
	defer closeServer()

	h := newRecordingHandler()
	newTestClient(endpoint).Connect(context.Background(), "en", "es", h)
	h.waitClose(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) != 1 {
		t.Fatalf("Expected 1 turn, got %d", len(h.turns))
	}
	if h.turns[0][0] != "Hello" || h.turns[0][1] != "Hola" {
		t.Errorf("Expected turn (Hello, Hola), got %v", h.turns[0])
	}

	// setupComplete + 2 input + output/audio + turnComplete
	if len(h.messages) != 5 {
		t.Errorf("Expected 5 dispatched messages, got %d", len(h.messages))
	}
	var payloads []audio.Blob
	for _, m := range h.messages {
		payloads = append(payloads, m.AudioPayloads()...)
	}
	if len(payloads) != 1 || payloads[0].Data != "AAA=" {
		t.Errorf("Expected one audio payload, got %v", payloads)
	}
}

func TestPayloadSampleRate(t *testing.T) {
	if rate := PayloadSampleRate("audio/pcm;rate=24000"); rate != 24000 {
		t.Errorf("Expected 24000, got %d", rate)
	}
	if rate := PayloadSampleRate("audio/pcm; rate=16000"); rate != 16000 {
		t.Errorf("Expected 16000, got %d", rate)
	}
	if rate := PayloadSampleRate("audio/pcm"); rate != audio.PlaybackSampleRate {
		t.Errorf("Expected default playback rate, got %d", rate)
	}
}

func TestSystemInstruction(t *testing.T) {
	text := SystemInstruction("ja", "ko")
	if !strings.Contains(text, "from Japanese into Korean") {
		t.Errorf("Expected instruction to translate Japanese into Korean, got %q", text)
	}
}
