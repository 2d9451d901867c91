package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/observability"
)

// Watcher polls a Lister and reports the device list whenever it changes
type Watcher struct {
	lister   Lister
	interval time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a watcher polling at interval
func NewWatcher(lister Lister, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		lister:   lister,
		interval: interval,
		logger:   observability.Component(logger, "device_watcher"),
	}
}

// Run reports the first listing immediately and then every change until ctx is done
func (w *Watcher) Run(ctx context.Context, onChange func([]Device)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last []Device
	reported := false

	poll := func() {
		devices, err := w.lister.Devices()
		if err != nil {
			w.logger.Warn().Err(err).Msg("Device enumeration failed")
			return
		}
		if reported && SameDevices(last, devices) {
			return
		}
		last, reported = devices, true
		w.logger.Debug().Int("count", len(devices)).Msg("Capture devices changed")
		onChange(devices)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			poll()
		}
	}
}
