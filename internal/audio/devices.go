// Package audio handles device discovery, PCM capture streams, and chunk buffering.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Device describes one input source surfaced by a capture backend.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// Describe formats device metadata for logs and run results.
func (d Device) Describe() string {
	description := strings.TrimSpace(d.Description)
	id := strings.TrimSpace(d.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func (d Device) usable() bool {
	return d.Available && !d.Muted
}

func (d Device) condition() string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// selectDeviceFromList resolves input, and fallback when input is muted or
// unavailable. A fallback that is itself unusable is an error.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	primary, err := findDevice(devices, input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input: %w", err)
	}
	if primary.usable() {
		return Selection{Device: primary}, nil
	}

	alt, err := findDevice(devices, fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, primary.condition(), err)
	}
	if !alt.usable() {
		return Selection{}, fmt.Errorf("audio fallback device %q is %s", alt.ID, alt.condition())
	}

	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primary.condition(), alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

// findDevice resolves one configured term. Empty and "default" mean the
// system default source.
func findDevice(devices []Device, term string) (Device, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || term == "default" {
		for _, dev := range devices {
			if dev.Default {
				return dev, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}
	for _, dev := range devices {
		if deviceMatches(dev, term) {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%q did not match any device", term)
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// decodeInt16LE converts little-endian s16 bytes into samples. len(raw) must be even.
func decodeInt16LE(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return samples
}
