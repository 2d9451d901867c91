// Package server exposes the recorder, text translation and settings over
// HTTP, plus a WebSocket stream of recorder events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/lang"
	"github.com/lexiqai/live-translator/internal/live"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/recorder"
	"github.com/lexiqai/live-translator/internal/settings"
	"github.com/lexiqai/live-translator/internal/transcript"
	"github.com/lexiqai/live-translator/internal/translate"
)

// Recorder is the recording state machine as seen by the API
type Recorder interface {
	Start(source, target string) error
	Stop() error
	SelectDevice(id string) error
	RefreshDevices() ([]capture.Device, error)
	Devices() ([]capture.Device, string)
	Status() recorder.Status
	History() []transcript.Entry
	TranscriptText() string
}

// Translator translates one text
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Deps are the services the router serves
type Deps struct {
	Recorder       Recorder
	Translator     Translator
	Favorites      settings.Store
	Events         http.HandlerFunc
	ReadyChecks    map[string]observability.HealthCheckFunc
	MetricsEnabled bool
	Logger         zerolog.Logger
}

type api struct {
	Deps
}

// NewRouter builds the HTTP handler
func NewRouter(d Deps) http.Handler {
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(d.ReadyChecks))
	if d.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", a.languages)

		r.Get("/devices", a.devices)
		r.Post("/devices/refresh", a.refreshDevices)
		r.Put("/devices/selected", a.selectDevice)

		r.Post("/live/start", a.startLive)
		r.Post("/live/stop", a.stopLive)
		r.Get("/live/status", a.liveStatus)

		r.Get("/transcript", a.transcriptJSON)
		r.Get("/transcript.txt", a.transcriptText)

		r.Post("/translate", a.translate)

		r.Get("/favorites", a.getFavorites)
		r.Put("/favorites", a.putFavorites)

		if d.Events != nil {
			r.Get("/events", d.Events)
		}
	})

	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	})
}

func (a *api) languages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": lang.Supported})
}

func (a *api) writeDevices(w http.ResponseWriter) {
	devices, selected := a.Recorder.Devices()
	if devices == nil {
		devices = []capture.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "selected": selected})
}

func (a *api) devices(w http.ResponseWriter, _ *http.Request) {
	a.writeDevices(w)
}

func (a *api) refreshDevices(w http.ResponseWriter, _ *http.Request) {
	if _, err := a.Recorder.RefreshDevices(); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeDevices(w)
}

func (a *api) selectDevice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	if err := a.Recorder.SelectDevice(in.ID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeDevices(w)
}

func (a *api) startLive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := a.Recorder.Start(in.Source, in.Target); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Recorder.Status())
}

func (a *api) stopLive(w http.ResponseWriter, _ *http.Request) {
	if err := a.Recorder.Stop(); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Recorder.Status())
}

func (a *api) liveStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Recorder.Status())
}

func (a *api) transcriptJSON(w http.ResponseWriter, _ *http.Request) {
	entries := a.Recorder.History()
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *api) transcriptText(w http.ResponseWriter, _ *http.Request) {
	text := a.Recorder.TranscriptText()
	if text == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transcript is empty"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transcript.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (a *api) translate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text   string `json:"text"`
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	out, err := a.Translator.Translate(r.Context(), in.Text, in.Source, in.Target)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"translation": out})
}

func (a *api) getFavorites(w http.ResponseWriter, r *http.Request) {
	pairs, err := a.Favorites.LoadFavorites(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": pairs})
}

func (a *api) putFavorites(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Favorites []settings.LanguagePair `json:"favorites"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if in.Favorites == nil {
		in.Favorites = []settings.LanguagePair{}
	}
	if err := settings.Validate(in.Favorites); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.Favorites.SaveFavorites(r.Context(), in.Favorites); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": in.Favorites})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var transportErr *live.TransportError
	switch {
	case errors.Is(err, lang.ErrUnsupportedLanguage), errors.Is(err, settings.ErrInvalidPair):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNoDeviceSelected),
		errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusConflict
	case errors.Is(err, translate.ErrTranslationFailed), errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
