package playback

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/lexiqai/live-translator/internal/audio"
)

func constBuffer(rate, n int, v float32) *audio.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return &audio.Buffer{SampleRate: rate, Channels: [][]float32{samples}}
}

func readSamples(t *testing.T, m *Mixer, n int) []int16 {
	t.Helper()
	p := make([]byte, n*2)
	got, err := m.Read(p)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != n*2 {
		t.Fatalf("Expected %d bytes, got %d", n*2, got)
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return out
}

func TestMixer_ClockAdvancesWithReads(t *testing.T) {
	m := NewMixer(1000)
	if m.CurrentTime() != 0 {
		t.Errorf("Expected clock 0, got %f", m.CurrentTime())
	}
	readSamples(t, m, 500)
	if m.CurrentTime() != 0.5 {
		t.Errorf("Expected clock 0.5, got %f", m.CurrentTime())
	}
}

func TestMixer_PlaysAtScheduledPosition(t *testing.T) {
	m := NewMixer(1000)
	ended := 0
	m.Schedule(constBuffer(1000, 2, 0.5), 0.003, func() { ended++ })

	out := readSamples(t, m, 6)
	expected := []int16{0, 0, 0, 16384, 16384, 0}
	for i, v := range expected {
		if out[i] != v {
			t.Errorf("Sample %d: expected %d, got %d", i, v, out[i])
		}
	}
	if ended != 1 {
		t.Errorf("Expected onEnded once, got %d", ended)
	}
	if m.pending() != 0 {
		t.Errorf("Expected no pending voices, got %d", m.pending())
	}
}

func TestMixer_PastStartClampsToPosition(t *testing.T) {
	m := NewMixer(1000)
	readSamples(t, m, 10)

	m.Schedule(constBuffer(1000, 1, 0.5), 0.001, nil)
	out := readSamples(t, m, 2)
	if out[0] != 16384 || out[1] != 0 {
		t.Errorf("Expected voice at current position, got %v", out)
	}
}

func TestMixer_StopSuppressesOnEnded(t *testing.T) {
	m := NewMixer(1000)
	ended := false
	v := m.Schedule(constBuffer(1000, 4, 0.5), 0, func() { ended = true })

	readSamples(t, m, 2)
	v.Stop()
	out := readSamples(t, m, 4)

	for i, s := range out {
		if s != 0 {
			t.Errorf("Expected silence after stop at %d, got %d", i, s)
		}
	}
	if ended {
		t.Error("Expected onEnded not to be called for a stopped voice")
	}
}

func TestMixer_OnEndedMayReenter(t *testing.T) {
	m := NewMixer(1000)
	s := NewScheduler(m)

	s.Enqueue(constBuffer(1000, 2, 0.25))
	readSamples(t, m, 4)

	if s.Pending() != 0 {
		t.Errorf("Expected scheduler to observe completion, got %d pending", s.Pending())
	}
}

func TestMixer_DownmixesStereo(t *testing.T) {
	m := NewMixer(1000)
	buf := &audio.Buffer{SampleRate: 1000, Channels: [][]float32{{0.5}, {0}}}
	m.Schedule(buf, 0, nil)

	out := readSamples(t, m, 1)
	if out[0] != 8192 {
		t.Errorf("Expected downmixed 0.25 (8192), got %d", out[0])
	}
}

func TestMixer_ClosedReturnsEOF(t *testing.T) {
	m := NewMixer(1000)
	m.Close()

	_, err := m.Read(make([]byte, 4))
	if err != io.EOF {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}

	m.Schedule(constBuffer(1000, 1, 0.5), 0, nil)
	if m.pending() != 0 {
		t.Errorf("Expected closed mixer to ignore buffers, got %d pending", m.pending())
	}
}
