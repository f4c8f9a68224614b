package midi

import (
	"github.com/leandrodaf/midiplayback/internal/midi/mididriver"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
)

// NewOutputClient creates the output client for the current operating system
// with the specified options. It can be passed to a playback as its device.
func NewOutputClient(opts ...contracts.Option) (contracts.OutputClient, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}
	return NewOutput(&options)
}

// NewInputClient creates the input client for the current operating system
// with the specified options.
func NewInputClient(opts ...contracts.Option) (contracts.InputClient, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}
	return NewInput(&options)
}

// NewDriverOutputClient creates an output client over the gomidi driver the
// application registered, on any operating system.
func NewDriverOutputClient(opts ...contracts.Option) (contracts.OutputClient, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}
	return mididriver.NewOutputClient(&options)
}
