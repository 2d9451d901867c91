package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func otoContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio output context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio output already running at %d Hz, requested %d Hz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// Speaker plays a Mixer on the default output device
type Speaker struct {
	*Mixer
	player    *oto.Player
	closeOnce sync.Once
	closeErr  error
}

// OpenSpeaker starts a player pulling from a fresh mixer
func OpenSpeaker(sampleRate int, bufferSize time.Duration) (*Speaker, error) {
	ctx, err := otoContext(sampleRate, bufferSize)
	if err != nil {
		return nil, err
	}

	mixer := NewMixer(sampleRate)
	player := ctx.NewPlayer(mixer)
	player.Play()

	return &Speaker{Mixer: mixer, player: player}, nil
}

// Close stops playback and releases the player. Safe to call more than once.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.Mixer.Close()
		s.closeErr = s.player.Close()
	})
	return s.closeErr
}
