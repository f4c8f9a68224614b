//go:build windows
// +build windows

package midiwindows

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sys/windows"
)

// Type definitions for MIDI handles
type HMIDIIN windows.Handle

// Struct representing MIDI input device capabilities
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// inCallback is shared by every input client; winmm keeps the pointer.
var inCallback = windows.NewCallback(midiInCallback)

// InputClient receives MIDI messages through winmm.
type InputClient struct {
	logger          contracts.Logger
	handler         atomic.Pointer[func(contracts.EventReceived)]
	handle          HMIDIIN
	portConn        bool
	started         bool
	mu              sync.Mutex
	midiEventFilter *contracts.MIDIEventFilter
}

// NewInputClient creates a MIDI input client for Windows.
func NewInputClient(options *contracts.ClientOptions) (contracts.InputClient, error) {
	options.Logger.Info("MIDI input client created for Windows")

	return &InputClient{
		logger:          options.Logger,
		midiEventFilter: options.MIDIEventFilter,
	}, nil
}

// ListDevices lists the available MIDI input devices.
func (m *InputClient) ListDevices() ([]contracts.DeviceInfo, error) {
	r0, _, _ := procMidiInGetNumDevs.Call()
	numDevices := uint32(r0)
	if numDevices == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(
			uintptr(i),
			uintptr(unsafe.Pointer(&caps)),
			unsafe.Sizeof(caps),
		)
		if r1 != 0 {
			m.logger.Warn("Failed to get information for MIDI device", m.logger.Field().Int("deviceID", int(i)))
			continue
		}
		devices[i] = deviceInfo(i, caps.szPname, caps.wMid, caps.wPid)
	}
	return devices, nil
}

// SelectDevice opens a MIDI input device, closing the previous one.
func (m *InputClient) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.portConn {
		if err := m.closeDevice(); err != nil {
			return fmt.Errorf("failed to close previous MIDI device: %w", err)
		}
	}

	r1, _, err := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&m.handle)),
		uintptr(deviceID),
		inCallback,
		uintptr(unsafe.Pointer(m)),
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if err := mmResult("midiInOpen", r1, err); err != nil {
		m.logger.Error("Failed to open MIDI device", m.logger.Field().Int("deviceID", deviceID), m.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrInvalidMIDIDevice, err)
	}

	m.portConn = true
	m.logger.Info("MIDI input device connected", m.logger.Field().Int("deviceID", deviceID))
	if m.handler.Load() != nil {
		return m.startDevice()
	}
	return nil
}

// StartEventsListening delivers every received message to handler. Without a
// selected device, capture starts on the next SelectDevice.
func (m *InputClient) StartEventsListening(handler func(contracts.EventReceived)) error {
	if handler == nil {
		return fmt.Errorf("nil MIDI event handler")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler.Store(&handler)
	if !m.portConn {
		m.logger.Info("MIDI capture starts once a device is selected")
		return nil
	}
	return m.startDevice()
}

func (m *InputClient) startDevice() error {
	if m.started {
		return nil
	}
	r1, _, err := procMidiInStart.Call(uintptr(m.handle))
	if err := mmResult("midiInStart", r1, err); err != nil {
		m.logger.Error("Failed to start MIDI capture", m.logger.Field().Error("error", err))
		return err
	}
	m.started = true
	m.logger.Info("MIDI capture started")
	return nil
}

// midiInCallback processes incoming MIDI messages
func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	m := (*InputClient)(unsafe.Pointer(dwInstance))

	switch wMsg {
	case MIM_OPEN:
		m.logger.Debug("MIDI device opened")
	case MIM_CLOSE:
		m.logger.Debug("MIDI device closed")
	case MIM_DATA:
		status := byte(dwParam1 & 0xFF)
		if !m.midiEventFilter.Allows(status) {
			m.logger.Debug("MIDI command filtered out", m.logger.Field().Uint8("status", status))
			return 0
		}

		msg := shortMessage(status, byte((dwParam1>>8)&0xFF), byte((dwParam1>>16)&0xFF))
		if handler := m.handler.Load(); handler != nil {
			(*handler)(contracts.EventReceived{Message: msg, Timestamp: time.Now().UTC()})
		}
	case MIM_ERROR, MIM_LONGERROR:
		m.logger.Error("MIDI error", m.logger.Field().Uint64("msg", uint64(wMsg)))
	case MIM_MOREDATA:
		m.logger.Debug("Received MIM_MOREDATA message; ignored")
	default:
		m.logger.Warn("Unknown MIDI message", m.logger.Field().Uint64("msg", uint64(wMsg)))
	}

	return 0
}

// shortMessage trims the packed winmm message to the length its status implies.
func shortMessage(status, data1, data2 byte) midi.Message {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return midi.Message{status, data1}
	default:
		return midi.Message{status, data1, data2}
	}
}

// StopEventsListening stops the capture; the device stays open.
func (m *InputClient) StopEventsListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler.Store(nil)
	if !m.started {
		return nil
	}
	r1, _, err := procMidiInStop.Call(uintptr(m.handle))
	if err := mmResult("midiInStop", r1, err); err != nil {
		m.logger.Error("Failed to stop MIDI capture", m.logger.Field().Error("error", err))
		return err
	}
	m.started = false
	m.logger.Info("MIDI capture stopped")
	return nil
}

// Close stops the capture and releases the device.
func (m *InputClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler.Store(nil)
	if !m.portConn {
		return nil
	}
	return m.closeDevice()
}

func (m *InputClient) closeDevice() error {
	if m.started {
		r1, _, err := procMidiInStop.Call(uintptr(m.handle))
		if err := mmResult("midiInStop", r1, err); err != nil {
			return err
		}
		m.started = false
	}

	r1, _, err := procMidiInClose.Call(uintptr(m.handle))
	if err := mmResult("midiInClose", r1, err); err != nil {
		m.logger.Error("Failed to close MIDI device", m.logger.Field().Error("error", err))
		return err
	}

	m.portConn = false
	m.handle = 0
	return nil
}
