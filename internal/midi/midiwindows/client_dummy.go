//go:build !windows
// +build !windows

package midiwindows

import (
	"errors"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
)

// ErrUnavailable is returned by every operation of the dummy clients.
var ErrUnavailable = errors.New("winmm is not available on this platform")

type dummyClient struct {
	logger contracts.Logger
}

// NewOutputClient returns a client whose operations fail on non-Windows systems.
func NewOutputClient(options *contracts.ClientOptions) (contracts.OutputClient, error) {
	options.Logger.Info("Using dummy MIDI output client for non-Windows system")
	return &dummyClient{logger: options.Logger}, nil
}

// NewInputClient returns a client whose operations fail on non-Windows systems.
func NewInputClient(options *contracts.ClientOptions) (contracts.InputClient, error) {
	options.Logger.Info("Using dummy MIDI input client for non-Windows system")
	return &dummyClient{logger: options.Logger}, nil
}

// ListDevices logs a warning and returns ErrUnavailable.
func (m *dummyClient) ListDevices() ([]contracts.DeviceInfo, error) {
	m.logger.Warn("ListDevices called on dummy MIDI client")
	return nil, ErrUnavailable
}

// SelectDevice logs a warning and returns ErrUnavailable.
func (m *dummyClient) SelectDevice(int) error {
	m.logger.Warn("SelectDevice called on dummy MIDI client")
	return ErrUnavailable
}

func (m *dummyClient) PrepareForEventsSending() error { return ErrUnavailable }

func (m *dummyClient) SendEvent(midi.Message) error { return ErrUnavailable }

func (m *dummyClient) StartEventsListening(func(contracts.EventReceived)) error {
	m.logger.Warn("StartEventsListening called on dummy MIDI client")
	return ErrUnavailable
}

func (m *dummyClient) StopEventsListening() error { return nil }

func (m *dummyClient) Close() error { return nil }
