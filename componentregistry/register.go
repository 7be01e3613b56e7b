// Package componentregistry registers every built-in listener type with an
// input registry.
package componentregistry

import (
	"errors"

	pkgerrors "github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/input/bluecats"
	"github.com/reelyactive/barnowl/input/event"
	"github.com/reelyactive/barnowl/input/hci"
	"github.com/reelyactive/barnowl/input/serial"
	"github.com/reelyactive/barnowl/input/simulated"
	"github.com/reelyactive/barnowl/input/udp"
)

// Register registers the built-in listeners with the provided registry:
//
// Network:
//   - UDP (reels behind a networked forwarder)
//   - BlueCats (edge relays sending JSON over UDP)
//
// Local devices:
//   - Serial (reel on a USB serial adapter)
//   - HCI (local Bluetooth adapter)
//
// In-process:
//   - Simulated (four-receiver demo reel)
//   - Event (bytes published by embedding code)
func Register(registry *input.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	registrations := []struct {
		name     string
		register func(*input.Registry) error
	}{
		{"UDP listener", udp.Register},
		{"BlueCats listener", bluecats.Register},
		{"Serial listener", serial.Register},
		{"HCI listener", hci.Register},
		{"Simulated listener", simulated.Register},
		{"Event listener", event.Register},
	}

	for _, r := range registrations {
		if err := r.register(registry); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", r.name+" registration")
		}
	}
	return nil
}

// NewRegistry returns an input registry with every built-in listener
func NewRegistry() (*input.Registry, error) {
	registry := input.NewRegistry()
	if err := Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
