package midi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/leandrodaf/midiplayback/internal/midi/mididarwin"
	"github.com/leandrodaf/midiplayback/internal/midi/mididriver"
	"github.com/leandrodaf/midiplayback/internal/midi/midiwindows"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
)

// ErrUnsupportedOS is returned when the operating system has no native MIDI input client.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// outputInitializers maps OS names to native output client initializers.
var outputInitializers = map[string]func(*contracts.ClientOptions) (contracts.OutputClient, error){
	"darwin":  mididarwin.NewOutputClient,  // macOS (Darwin) CoreMIDI destinations.
	"windows": midiwindows.NewOutputClient, // Windows winmm output devices.
}

// inputInitializers maps OS names to native input client initializers.
var inputInitializers = map[string]func(*contracts.ClientOptions) (contracts.InputClient, error){
	"darwin":  mididarwin.NewInputClient,  // macOS (Darwin) CoreMIDI sources.
	"windows": midiwindows.NewInputClient, // Windows winmm input devices.
}

// NewOutput initializes an output client based on the current operating
// system. Other systems get the gomidi driver based client.
func NewOutput(opts *contracts.ClientOptions) (contracts.OutputClient, error) {
	if initializer, exists := outputInitializers[runtime.GOOS]; exists {
		return initializer(opts)
	}
	return mididriver.NewOutputClient(opts)
}

// NewInput initializes an input client based on the current operating system.
// It supports macOS (Darwin) and Windows, returning ErrUnsupportedOS otherwise.
func NewInput(opts *contracts.ClientOptions) (contracts.InputClient, error) {
	if initializer, exists := inputInitializers[runtime.GOOS]; exists {
		return initializer(opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, runtime.GOOS)
}
