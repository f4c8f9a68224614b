//go:build windows
// +build windows

package midiwindows

import (
	"testing"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sys/windows"
)

func TestPackShortMessage(t *testing.T) {
	packed, err := packShortMessage(midi.NoteOn(1, 60, 100))
	require.NoError(t, err)
	require.Equal(t, uint32(0x643C91), packed)

	packed, err = packShortMessage(midi.ProgramChange(0, 5))
	require.NoError(t, err)
	require.Equal(t, uint32(0x05C0), packed)

	_, err = packShortMessage(midi.Message{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7})
	require.ErrorIs(t, err, ErrLongMessage)
	_, err = packShortMessage(nil)
	require.ErrorIs(t, err, ErrLongMessage)
}

func TestShortMessageLength(t *testing.T) {
	require.Equal(t, midi.Message{0xC2, 7}, shortMessage(0xC2, 7, 0))
	require.Equal(t, midi.Message{0x90, 60, 0}, shortMessage(0x90, 60, 0))
}

func TestDeviceInfo(t *testing.T) {
	encoded, err := windows.UTF16FromString("Microsoft GS Wavetable Synth")
	require.NoError(t, err)
	var pname [32]uint16
	copy(pname[:], encoded)

	require.Equal(t, contracts.DeviceInfo{
		Index:        3,
		Name:         "Microsoft GS Wavetable Synth",
		EntityName:   "Microsoft GS Wavetable Synth",
		Manufacturer: "MID: 1 PID: 27",
	}, deviceInfo(3, pname, 1, 27))
}
