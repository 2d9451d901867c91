package playback

import (
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/lexiqai/live-translator/internal/audio"
)

// Mixer renders scheduled voices into 16-bit little-endian mono PCM.
// Its clock is the number of samples read so far, so it advances only as
// fast as the audio device pulls from it.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	position   int64
	voices     []*mixerVoice
	closed     bool
	scratch    []float32
}

type mixerVoice struct {
	mixer   *Mixer
	start   int64
	samples []float32
	onEnded func()
}

// NewMixer creates a mixer for the given output sample rate
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

// CurrentTime returns the output clock in seconds
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.position) / float64(m.sampleRate)
}

// Schedule places buf at the given clock time. A time already rendered
// starts at the current position. Once closed, buffers are ignored.
func (m *Mixer) Schedule(buf *audio.Buffer, at float64, onEnded func()) Voice {
	v := &mixerVoice{
		mixer:   m,
		samples: toMono(buf, m.sampleRate),
		onEnded: onEnded,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return v
	}
	v.start = int64(math.Round(at * float64(m.sampleRate)))
	if v.start < m.position {
		v.start = m.position
	}
	m.voices = append(m.voices, v)
	return v
}

// pending returns the number of voices that have not finished
func (m *Mixer) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Read renders the next len(p)/2 samples. Silence fills any gap.
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}

	n := len(p) / 2
	if n == 0 {
		m.mu.Unlock()
		return 0, nil
	}
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	mix := m.scratch[:n]
	for i := range mix {
		mix[i] = 0
	}

	from, to := m.position, m.position+int64(n)
	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for pos := lo; pos < hi; pos++ {
			mix[pos-from] += v.samples[pos-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.position = to

	for i, s := range mix {
		binary.LittleEndian.PutUint16(p[2*i:], uint16(toInt16(s)))
	}
	m.mu.Unlock()

	// Callbacks run without the lock so they may call back into the mixer
	for _, fn := range ended {
		fn()
	}
	return n * 2, nil
}

// Close silences the mixer. Pending voices are dropped without callbacks.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = nil
}

// Stop removes the voice without calling onEnded
func (v *mixerVoice) Stop() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// toMono downmixes buf and resamples it linearly to rate when needed
func toMono(buf *audio.Buffer, rate int) []float32 {
	frames := buf.Frames()
	if frames == 0 {
		return nil
	}

	mono := buf.Channels[0]
	if len(buf.Channels) > 1 {
		mono = make([]float32, frames)
		scale := 1 / float32(len(buf.Channels))
		for _, ch := range buf.Channels {
			for i, s := range ch {
				mono[i] += s * scale
			}
		}
	}

	if buf.SampleRate == rate || buf.SampleRate <= 0 {
		return mono
	}

	ratio := float64(buf.SampleRate) / float64(rate)
	out := make([]float32, int(math.Round(float64(frames)/ratio)))
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= frames-1 {
			out[i] = mono[frames-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = mono[j]*(1-frac) + mono[j+1]*frac
	}
	return out
}

func toInt16(s float32) int16 {
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16
	}
	return int16(math.Round(float64(s) * 32767))
}
