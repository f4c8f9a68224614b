//go:build darwin
// +build darwin

package mididarwin

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/youpy/go-coremidi"
	"gitlab.com/gomidi/midi/v2"
)

// internalPortConnection is an interface for handling disconnection from a MIDI port.
type internalPortConnection interface {
	Disconnect()
}

// InputClient receives MIDI messages from a CoreMIDI source.
type InputClient struct {
	logger          contracts.Logger
	handler         atomic.Pointer[func(contracts.EventReceived)]
	client          coremidi.Client
	inputPort       coremidi.InputPort
	portConn        internalPortConnection
	midiEventFilter *contracts.MIDIEventFilter
	mu              sync.Mutex
	wg              sync.WaitGroup // In-flight message deliveries.
	closeOnce       sync.Once
}

// NewInputClient creates a CoreMIDI client for receiving events.
func NewInputClient(options *contracts.ClientOptions) (contracts.InputClient, error) {
	client, err := coremidi.NewClient(options.CoreMIDIConfig.ClientName)
	if err != nil {
		return nil, err
	}
	options.Logger.Info("MIDI input client successfully created")

	return &InputClient{
		logger:          options.Logger,
		client:          client,
		midiEventFilter: options.MIDIEventFilter,
	}, nil
}

// ListDevices retrieves the available MIDI sources.
func (m *InputClient) ListDevices() ([]contracts.DeviceInfo, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}
	if len(sources) == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, len(sources))
	for i, source := range sources {
		sourceEntity := source.Entity()
		devices[i] = contracts.DeviceInfo{
			Index:        i,
			Name:         source.Name(),
			EntityName:   sourceEntity.Name(),
			Manufacturer: sourceEntity.Manufacturer(),
		}
	}
	return devices, nil
}

// SelectDevice selects a MIDI source by ID and connects to it.
// If a source is already connected, it disconnects first.
func (m *InputClient) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources, err := coremidi.AllSources()
	if err != nil {
		return fmt.Errorf("error retrieving MIDI sources: %w", err)
	}
	if deviceID < 0 || deviceID >= len(sources) {
		m.logger.Error(ErrInvalidMIDIDevice.Error())
		return ErrInvalidMIDIDevice
	}

	if m.portConn != nil {
		m.portConn.Disconnect()
		m.portConn = nil
	}

	source := sources[deviceID]
	m.logger.Info("MIDI input device selected",
		m.logger.Field().Int("deviceID", deviceID),
		m.logger.Field().String("deviceName", source.Name()))

	m.inputPort, err = coremidi.NewInputPort(m.client, "Input Port", m.handleMIDIMessage)
	if err != nil {
		m.logger.Error(ErrCreateInputPort.Error())
		return fmt.Errorf("%w: %v", ErrCreateInputPort, err)
	}

	m.portConn, err = m.inputPort.Connect(source)
	if err != nil {
		m.logger.Error(ErrMIDIConnectionError.Error())
		return fmt.Errorf("%w: %v", ErrMIDIConnectionError, err)
	}

	m.logger.Info("MIDI input device successfully connected")
	return nil
}

// handleMIDIMessage filters an incoming packet and hands it to the listener.
func (m *InputClient) handleMIDIMessage(_ coremidi.Source, packet coremidi.Packet) {
	m.wg.Add(1)
	defer m.wg.Done()

	handler := m.handler.Load()
	if handler == nil {
		return
	}
	if len(packet.Data) == 0 {
		m.logger.Warn(ErrEmptyMIDIPacket.Error())
		return
	}
	if !m.midiEventFilter.Allows(packet.Data[0]) {
		return
	}

	(*handler)(contracts.EventReceived{
		Message:   midi.Message(packet.Data),
		Timestamp: time.Now().UTC(),
	})
}

// StartEventsListening delivers every received message to handler,
// replacing any previous listener.
func (m *InputClient) StartEventsListening(handler func(contracts.EventReceived)) error {
	if handler == nil {
		return fmt.Errorf("nil MIDI event handler")
	}
	m.logger.Info("Starting MIDI event capture")
	m.handler.Store(&handler)
	return nil
}

// StopEventsListening stops delivering messages and waits for the ones in flight.
func (m *InputClient) StopEventsListening() error {
	if m.handler.Swap(nil) != nil {
		m.wg.Wait()
		m.logger.Info("MIDI capture stopped")
	}
	return nil
}

// Close stops listening and disconnects from the source.
func (m *InputClient) Close() error {
	m.closeOnce.Do(func() {
		_ = m.StopEventsListening()

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.portConn != nil {
			m.portConn.Disconnect()
			m.portConn = nil
		}
	})
	return nil
}
