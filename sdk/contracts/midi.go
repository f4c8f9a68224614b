package contracts

import (
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// EventReceived is raised by an input device for every incoming message.
type EventReceived struct {
	Message   midi.Message // Message is the raw MIDI message.
	Timestamp time.Time    // Timestamp is the time the message was received.
}

// OutputDevice is the sink a playback sends its events to.
type OutputDevice interface {
	// PrepareForEventsSending is called every time playback starts.
	PrepareForEventsSending() error
	// SendEvent transmits a single message. It runs while the playback is
	// locked, under the same rules as the playback callbacks.
	SendEvent(msg midi.Message) error
}

// InputDevice is a source of MIDI messages.
type InputDevice interface {
	StartEventsListening(handler func(EventReceived)) error
	StopEventsListening() error
}

// OutputClient is a platform output device that can be enumerated and selected.
type OutputClient interface {
	OutputDevice
	ListDevices() ([]DeviceInfo, error) // Lists all available MIDI destinations.
	SelectDevice(deviceID int) error    // Selects a destination by its index.
	Close() error                       // Releases the device.
}

// InputClient is a platform input device that can be enumerated and selected.
type InputClient interface {
	InputDevice
	ListDevices() ([]DeviceInfo, error) // Lists all available MIDI sources.
	SelectDevice(deviceID int) error    // Selects a source by its index.
	Close() error                       // Releases the device.
}
