//go:build windows
// +build windows

package midiwindows

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sys/windows"
)

// Type definitions for MIDI handles
type HMIDIOUT windows.Handle

// Struct representing MIDI output device capabilities
type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// OutputClient sends playback events through winmm short messages.
type OutputClient struct {
	logger   contracts.Logger
	handle   HMIDIOUT
	portConn bool
	closed   bool
	mu       sync.Mutex
}

// NewOutputClient creates a MIDI output client for Windows.
func NewOutputClient(options *contracts.ClientOptions) (contracts.OutputClient, error) {
	options.Logger.Info("MIDI output client created for Windows")
	return &OutputClient{logger: options.Logger}, nil
}

// ListDevices lists the available MIDI output devices.
func (m *OutputClient) ListDevices() ([]contracts.DeviceInfo, error) {
	r0, _, _ := procMidiOutGetNumDevs.Call()
	numDevices := uint32(r0)
	if numDevices == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiOutCaps
		r1, _, _ := procMidiOutGetDevCaps.Call(
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

// SelectDevice opens a MIDI output device, closing the previous one.
func (m *OutputClient) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClientClosed
	}
	if m.portConn {
		if err := m.closeDevice(); err != nil {
			return fmt.Errorf("failed to close previous MIDI device: %w", err)
		}
	}

	r1, _, err := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&m.handle)),
		uintptr(deviceID),
		0,
		0,
		uintptr(CALLBACK_NULL),
	)
	if err := mmResult("midiOutOpen", r1, err); err != nil {
		m.logger.Error("Failed to open MIDI device", m.logger.Field().Int("deviceID", deviceID), m.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrInvalidMIDIDevice, err)
	}

	m.portConn = true
	m.logger.Info("MIDI output device connected", m.logger.Field().Int("deviceID", deviceID))
	return nil
}

// PrepareForEventsSending checks that a device is open.
func (m *OutputClient) PrepareForEventsSending() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClientClosed
	case !m.portConn:
		return ErrNoDeviceSelected
	}
	return nil
}

// SendEvent packs msg into a short message and sends it.
// System exclusive messages are rejected with ErrLongMessage.
func (m *OutputClient) SendEvent(msg midi.Message) error {
	packed, err := packShortMessage(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.portConn {
		return ErrNoDeviceSelected
	}
	r1, _, callErr := procMidiOutShortMsg.Call(uintptr(m.handle), uintptr(packed))
	return mmResult("midiOutShortMsg", r1, callErr)
}

// packShortMessage packs a message of up to three bytes as status | data1<<8 | data2<<16.
func packShortMessage(msg midi.Message) (uint32, error) {
	if len(msg) == 0 || len(msg) > 3 || msg[0] == 0xF0 {
		return 0, fmt.Errorf("%w: % X", ErrLongMessage, []byte(msg))
	}
	var packed uint32
	for i, b := range msg {
		packed |= uint32(b) << (8 * i)
	}
	return packed, nil
}

// Close silences and releases the device.
func (m *OutputClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if !m.portConn {
		return nil
	}
	return m.closeDevice()
}

func (m *OutputClient) closeDevice() error {
	r1, _, err := procMidiOutReset.Call(uintptr(m.handle))
	if err := mmResult("midiOutReset", r1, err); err != nil {
		m.logger.Warn("Failed to reset MIDI device", m.logger.Field().Error("error", err))
	}

	r1, _, err = procMidiOutClose.Call(uintptr(m.handle))
	if err := mmResult("midiOutClose", r1, err); err != nil {
		m.logger.Error("Failed to close MIDI device", m.logger.Field().Error("error", err))
		return err
	}

	m.portConn = false
	m.handle = 0
	return nil
}
