// Package capture opens microphones through miniaudio and delivers fixed-size
// 16 kHz mono frames in capture order.
package capture

import (
	"errors"
	"slices"
)

// ErrDeviceUnavailable is returned when a device is missing, denied or fails to start
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Device is one enumerated audio input
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Lister enumerates capture devices
type Lister interface {
	Devices() ([]Device, error)
}

// SameDevices reports whether two listings are identical in order and content
func SameDevices(a, b []Device) bool {
	return slices.Equal(a, b)
}

// PickDefault returns the default device, else the first, else false
func PickDefault(devices []Device) (Device, bool) {
	for _, d := range devices {
		if d.IsDefault {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return Device{}, false
}

// Contains reports whether id is in the listing
func Contains(devices []Device, id string) bool {
	return slices.ContainsFunc(devices, func(d Device) bool { return d.ID == id })
}
