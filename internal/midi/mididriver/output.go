// Package mididriver sends playback events through the gomidi driver layer.
// The application registers a driver by importing it, for example
// gitlab.com/gomidi/midi/v2/drivers/rtmididrv.
package mididriver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Error definitions for driver based output.
var (
	ErrNoMIDIDevices     = errors.New("no MIDI output ports found")
	ErrInvalidMIDIDevice = errors.New("invalid MIDI device")
	ErrNoDeviceSelected  = errors.New("no MIDI device selected")
	ErrClientClosed      = errors.New("MIDI client is closed")
)

// OutputClient sends events to an output port of the registered driver.
type OutputClient struct {
	logger   contracts.Logger
	portName string
	mu       sync.Mutex
	out      drivers.Out
	send     func(midi.Message) error
	closed   bool
}

// NewOutputClient creates a driver based output client. When the options name
// a port, it is opened on the first PrepareForEventsSending unless another
// device was selected.
func NewOutputClient(options *contracts.ClientOptions) (contracts.OutputClient, error) {
	options.Logger.Info("MIDI driver output client created", options.Logger.Field().String("port", options.OutputPortName))
	return &OutputClient{logger: options.Logger, portName: options.OutputPortName}, nil
}

// ListDevices lists the output ports of the registered driver.
func (c *OutputClient) ListDevices() ([]contracts.DeviceInfo, error) {
	ports := midi.GetOutPorts()
	if len(ports) == 0 {
		c.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, len(ports))
	for i, port := range ports {
		devices[i] = contracts.DeviceInfo{Index: i, Name: port.String(), EntityName: port.String()}
	}
	return devices, nil
}

// SelectDevice opens the output port with the given index.
func (c *OutputClient) SelectDevice(deviceID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	out, err := midi.OutPort(deviceID)
	if err != nil {
		c.logger.Error(ErrInvalidMIDIDevice.Error(), c.logger.Field().Int("deviceID", deviceID), c.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrInvalidMIDIDevice, err)
	}
	return c.connect(out)
}

// connect opens out and makes it the current port. The caller holds c.mu.
func (c *OutputClient) connect(out drivers.Out) error {
	send, err := midi.SendTo(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMIDIDevice, err)
	}
	if c.out != nil && c.out != out {
		if err := c.out.Close(); err != nil {
			c.logger.Warn("Failed to close previous MIDI port", c.logger.Field().Error("error", err))
		}
	}
	c.out, c.send = out, send
	c.logger.Info("MIDI output port connected", c.logger.Field().String("port", out.String()))
	return nil
}

// PrepareForEventsSending opens the configured port if nothing is selected yet.
func (c *OutputClient) PrepareForEventsSending() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClientClosed
	case c.send != nil:
		return nil
	case c.portName == "":
		return ErrNoDeviceSelected
	}

	out, err := midi.FindOutPort(c.portName)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMIDIDevice, c.portName, err)
	}
	return c.connect(out)
}

// SendEvent sends msg to the current port.
func (c *OutputClient) SendEvent(msg midi.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send == nil {
		return ErrNoDeviceSelected
	}
	return c.send(msg)
}

// Close closes the current port. The driver itself stays registered.
func (c *OutputClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.send = nil
	if c.out == nil {
		return nil
	}
	err := c.out.Close()
	c.out = nil
	return err
}
