package audio

import (
	"sync"
)

// Framer regroups device callbacks of arbitrary length into fixed-size frames
type Framer struct {
	buffer []float32
	size   int
	fill   int
	emit   func([]float32)
	mu     sync.Mutex
}

// NewFramer creates a framer that calls emit once per complete frame of size samples.
// emit receives a fresh slice it may retain.
func NewFramer(size int, emit func([]float32)) *Framer {
	if size <= 0 {
		size = 1
	}
	return &Framer{
		buffer: make([]float32, size),
		size:   size,
		emit:   emit,
	}
}

// Write appends samples and emits every frame they complete, in order.
// Returns the number of frames emitted.
func (f *Framer) Write(samples []float32) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	emitted := 0
	for len(samples) > 0 {
		n := copy(f.buffer[f.fill:], samples)
		f.fill += n
		samples = samples[n:]

		if f.fill == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.buffer)
			f.fill = 0
			if f.emit != nil {
				f.emit(frame)
			}
			emitted++
		}
	}

	return emitted
}

// Buffered returns the number of samples waiting for a full frame
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fill
}

// Size returns the frame size in samples
func (f *Framer) Size() int {
	return f.size
}

// Reset discards any partial frame
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fill = 0
}
