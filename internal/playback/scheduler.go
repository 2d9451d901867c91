// Package playback schedules decoded model audio on an output clock so that
// consecutive buffers play back to back.
package playback

import (
	"sync"

	"github.com/lexiqai/live-translator/internal/audio"
)

// Clock reports the output clock in seconds
type Clock interface {
	CurrentTime() float64
}

// Voice is one scheduled buffer that can be cancelled before it finishes
type Voice interface {
	Stop()
}

// Output plays buffers at exact positions on its own clock.
// Implementations must not call onEnded from inside Schedule, and must not
// call it for a voice that was stopped.
type Output interface {
	Clock
	Schedule(buf *audio.Buffer, at float64, onEnded func()) Voice
}

// Scheduler places buffers on an Output in arrival order with no gap and no overlap
type Scheduler struct {
	mu            sync.Mutex
	out           Output
	nextStartTime float64
	active        map[uint64]Voice
	seq           uint64
	scheduled     int
	catchUps      int
}

// NewScheduler creates a scheduler with the cursor at 0
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[uint64]Voice),
	}
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by its duration.
// late reports that the buffer arrived after audio already queued had run out.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (startAt float64, late bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.CurrentTime()
	startAt = s.nextStartTime
	if now > startAt {
		startAt = now
		late = s.scheduled > 0
	}
	if late {
		s.catchUps++
	}

	s.seq++
	id := s.seq
	s.active[id] = s.out.Schedule(buf, startAt, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	})
	s.scheduled++
	s.nextStartTime = startAt + buf.Duration()

	return startAt, late
}

// Interrupt stops every buffer not yet finished and resets the cursor to 0.
// It returns the number of voices stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.active))
	for id, v := range s.active {
		voices = append(voices, v)
		delete(s.active, id)
	}
	s.nextStartTime = 0
	s.scheduled = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Pending returns the number of scheduled buffers that have not finished
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the cursor
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStartTime
}

// CatchUps returns how many buffers were scheduled late
func (s *Scheduler) CatchUps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catchUps
}
