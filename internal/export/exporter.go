// Package export writes each completed turn to external storage in the
// background. Failures become warnings and never reach the live session.
package export

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/resilience"
	"github.com/lexiqai/live-translator/internal/transcript"
)

// Sink stores one text file at a slash-separated path
type Sink interface {
	Name() string
	Write(ctx context.Context, path string, content []byte) error
	Healthy(ctx context.Context) error
}

// Error is an export write that failed after retries
type Error struct {
	Sink string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export to %s failed for %s: %v", e.Sink, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Warning is a soft, dismissible export failure notice
type Warning struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"sessionId"`
	Turn      int       `json:"turn"`
	Path      string    `json:"path"`
	Sink      string    `json:"sink"`
	Message   string    `json:"message"`
}

// Options tunes the exporter
type Options struct {
	Timeout       time.Duration
	Retry         *resilience.RetryConfig
	Breaker       *resilience.CircuitBreaker
	WarningBuffer int
}

// Exporter runs detached turn exports
type Exporter struct {
	sink     Sink
	opts     Options
	warnings chan Warning
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewExporter creates an exporter writing to sink
func NewExporter(sink Sink, opts Options, logger zerolog.Logger) *Exporter {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("export_"+sink.Name(), 5, 30*time.Second)
	}
	if opts.WarningBuffer <= 0 {
		opts.WarningBuffer = 32
	}
	return &Exporter{
		sink:     sink,
		opts:     opts,
		warnings: make(chan Warning, opts.WarningBuffer),
		logger:   observability.Component(logger, "export").With().Str("sink", sink.Name()).Logger(),
	}
}

// SessionPrefix is the folder for all files of one session
func SessionPrefix(sessionID string, startedAt time.Time) string {
	return startedAt.UTC().Format("20060102T150405Z") + "-" + sessionID
}

// TurnPaths returns the input and output file paths of a turn
func TurnPaths(sessionID string, startedAt time.Time, turn int) (input, output string) {
	prefix := SessionPrefix(sessionID, startedAt)
	return path.Join(prefix, fmt.Sprintf("turn-%03d-input.txt", turn)),
		path.Join(prefix, fmt.Sprintf("turn-%03d-output.txt", turn))
}

// ExportTurn writes the non-empty sides of turn in the background and returns immediately
func (e *Exporter) ExportTurn(sessionID string, startedAt time.Time, turn transcript.Turn) {
	if turn.Number == 0 {
		return
	}

	inputPath, outputPath := TurnPaths(sessionID, startedAt, turn.Number)
	type file struct {
		path    string
		content string
	}
	var files []file
	if turn.Input != "" {
		files = append(files, file{inputPath, turn.Input})
	}
	if turn.Output != "" {
		files = append(files, file{outputPath, turn.Output})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, f := range files {
			e.write(sessionID, turn.Number, f.path, []byte(f.content+"\n"))
		}
	}()
}

func (e *Exporter) write(sessionID string, turn int, p string, content []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return e.opts.Breaker.Call(func() error {
			return e.sink.Write(ctx, p, content)
		})
	}, e.opts.Retry, resilience.IsRetryableNetworkError)
	observability.RecordExportWrite(err == nil)

	if err == nil {
		e.logger.Debug().
			Str("session_id", sessionID).
			Str("path", p).
			Dur("latency", time.Since(start)).
			Msg("Turn exported")
		return
	}

	exportErr := &Error{Sink: e.sink.Name(), Path: p, Err: err}
	e.logger.Warn().
		Err(exportErr).
		Str("session_id", sessionID).
		Int("turn", turn).
		Str("breaker", e.opts.Breaker.GetState().String()).
		Msg("Turn export failed")
	e.emit(Warning{
		Time:      time.Now().UTC(),
		SessionID: sessionID,
		Turn:      turn,
		Path:      p,
		Sink:      e.sink.Name(),
		Message:   exportErr.Error(),
	})
}

func (e *Exporter) emit(w Warning) {
	select {
	case e.warnings <- w:
	default:
		e.logger.Warn().Str("path", w.Path).Msg("Warning channel full, dropping export warning")
	}
}

// Warnings delivers export failures. Unread warnings are dropped once the buffer is full.
func (e *Exporter) Warnings() <-chan Warning {
	return e.warnings
}

// Healthy fails while the breaker rejects writes, then checks the sink
func (e *Exporter) Healthy(ctx context.Context) error {
	state, requests, failures, rate := e.opts.Breaker.GetStats()
	if state == resilience.StateOpen {
		return fmt.Errorf("export circuit open: %d of %d writes failed (%.1f%%)", failures, requests, rate)
	}
	return e.sink.Healthy(ctx)
}

// Wait blocks until every started export has finished
func (e *Exporter) Wait() {
	e.wg.Wait()
}
