// Package transcript turns streamed transcription fragments and turn signals
// into an ordered, optionally bounded history.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies which side of the conversation an entry belongs to
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Entry is one finalized line of the transcript
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Turn is the result of finalizing one turn
type Turn struct {
	Number  int     `json:"number"`
	Input   string  `json:"input"`
	Output  string  `json:"output"`
	Entries []Entry `json:"entries"`
}

// Partial is the in-flight text of the current turn
type Partial struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Limits bounds retained history. Zero means unbounded.
type Limits struct {
	MaxEntries int
	MaxChars   int
}

// Reconciler appends fragments per side and finalizes them on turn boundaries.
// Fragments are deltas; the full text of a side is the concatenation of its
// fragments since the last boundary.
type Reconciler struct {
	mu      sync.Mutex
	limits  Limits
	input   strings.Builder
	output  strings.Builder
	history []Entry
	chars   int
	turns   int
}

// NewReconciler creates an empty reconciler
func NewReconciler(limits Limits) *Reconciler {
	return &Reconciler{limits: limits}
}

// AppendInput adds a user-side fragment
func (r *Reconciler) AppendInput(fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input.WriteString(fragment)
}

// AppendOutput adds a model-side fragment
func (r *Reconciler) AppendOutput(fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.WriteString(fragment)
}

// Partial returns the accumulated text of the current turn
func (r *Reconciler) Partial() Partial {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Partial{Input: r.input.String(), Output: r.output.String()}
}

// CompleteTurn finalizes both accumulators into history, user first, and
// resets them. Sides with only whitespace produce no entry. The turn number
// advances only when at least one entry was produced.
func (r *Reconciler) CompleteTurn() Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn := Turn{
		Input:  strings.TrimSpace(r.input.String()),
		Output: strings.TrimSpace(r.output.String()),
	}
	r.input.Reset()
	r.output.Reset()

	if turn.Input != "" {
		turn.Entries = append(turn.Entries, Entry{Speaker: SpeakerUser, Text: turn.Input})
	}
	if turn.Output != "" {
		turn.Entries = append(turn.Entries, Entry{Speaker: SpeakerModel, Text: turn.Output})
	}
	if len(turn.Entries) == 0 {
		return turn
	}

	r.turns++
	turn.Number = r.turns
	for _, e := range turn.Entries {
		r.history = append(r.history, e)
		r.chars += len(e.Text)
	}
	r.trim()

	return turn
}

// trim drops the oldest entries until within limits, always keeping the newest
func (r *Reconciler) trim() {
	drop := 0
	for drop < len(r.history)-1 {
		remaining := len(r.history) - drop
		overEntries := r.limits.MaxEntries > 0 && remaining > r.limits.MaxEntries
		overChars := r.limits.MaxChars > 0 && r.chars > r.limits.MaxChars
		if !overEntries && !overChars {
			break
		}
		r.chars -= len(r.history[drop].Text)
		drop++
	}
	if drop > 0 {
		r.history = append([]Entry(nil), r.history[drop:]...)
	}
}

// History returns a copy of the finalized entries, oldest first
func (r *Reconciler) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.history...)
}

// Turns returns the number of turns finalized so far
func (r *Reconciler) Turns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turns
}

// Reset clears history and accumulators
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input.Reset()
	r.output.Reset()
	r.history = nil
	r.chars = 0
	r.turns = 0
}
