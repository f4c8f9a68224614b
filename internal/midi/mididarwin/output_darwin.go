//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/youpy/go-coremidi"
	"gitlab.com/gomidi/midi/v2"
)

// Error definitions for MIDI connection and handling issues.
var (
	ErrNoMIDIDevices       = errors.New("no MIDI devices found")
	ErrInvalidMIDIDevice   = errors.New("invalid MIDI device")
	ErrMIDIConnectionError = errors.New("error connecting to MIDI device")
	ErrCreateInputPort     = errors.New("error creating input port")
	ErrCreateOutputPort    = errors.New("error creating output port")
	ErrNoDeviceSelected    = errors.New("no MIDI device selected")
	ErrEmptyMIDIPacket     = errors.New("empty MIDI packet")
	ErrClientClosed        = errors.New("MIDI client is closed")
)

// OutputClient sends playback events to a CoreMIDI destination.
type OutputClient struct {
	logger      contracts.Logger
	client      coremidi.Client
	mu          sync.Mutex
	port        *coremidi.OutputPort
	destination *coremidi.Destination
	closed      bool
}

// NewOutputClient creates a CoreMIDI client for sending events.
func NewOutputClient(options *contracts.ClientOptions) (contracts.OutputClient, error) {
	client, err := coremidi.NewClient(options.CoreMIDIConfig.ClientName)
	if err != nil {
		return nil, err
	}
	options.Logger.Info("MIDI output client successfully created")

	return &OutputClient{logger: options.Logger, client: client}, nil
}

// ListDevices retrieves the available MIDI destinations.
func (m *OutputClient) ListDevices() ([]contracts.DeviceInfo, error) {
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI destinations: %w", err)
	}
	if len(destinations) == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, len(destinations))
	for i, destination := range destinations {
		entity := destination.Entity()
		devices[i] = contracts.DeviceInfo{
			Index:        i,
			Name:         destination.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
		}
	}
	return devices, nil
}

// SelectDevice selects a destination by its index. The output port is
// created on first use and shared by later selections.
func (m *OutputClient) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClientClosed
	}

	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return fmt.Errorf("error retrieving MIDI destinations: %w", err)
	}
	if deviceID < 0 || deviceID >= len(destinations) {
		m.logger.Error(ErrInvalidMIDIDevice.Error(), m.logger.Field().Int("deviceID", deviceID))
		return ErrInvalidMIDIDevice
	}

	if m.port == nil {
		port, err := coremidi.NewOutputPort(m.client, "Output Port")
		if err != nil {
			m.logger.Error(ErrCreateOutputPort.Error(), m.logger.Field().Error("error", err))
			return fmt.Errorf("%w: %v", ErrCreateOutputPort, err)
		}
		m.port = &port
	}

	destination := destinations[deviceID]
	m.destination = &destination
	m.logger.Info("MIDI output device selected",
		m.logger.Field().Int("deviceID", deviceID),
		m.logger.Field().String("deviceName", destination.Name()))
	return nil
}

// PrepareForEventsSending checks that a destination is selected.
func (m *OutputClient) PrepareForEventsSending() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClientClosed
	case m.destination == nil:
		return ErrNoDeviceSelected
	}
	return nil
}

// SendEvent sends msg to the selected destination immediately.
func (m *OutputClient) SendEvent(msg midi.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClientClosed
	case m.destination == nil:
		return ErrNoDeviceSelected
	}

	packet := coremidi.NewPacket(msg.Bytes(), 0)
	if err := packet.Send(m.port, m.destination); err != nil {
		return fmt.Errorf("%w: %v", ErrMIDIConnectionError, err)
	}
	return nil
}

// Close forgets the selected destination. Further sends fail.
func (m *OutputClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		m.destination = nil
		m.logger.Info("MIDI output client closed")
	}
	return nil
}
