package playback

import (
	"errors"
	"fmt"

	"github.com/leandrodaf/midiplayback/internal/clock"
	"github.com/leandrodaf/midiplayback/sdk/events"
)

// Error definitions for playback control.
var (
	ErrClosed           = errors.New("playback is closed")
	ErrClockNotManual   = errors.New("clock is not driven by a manual tick generator")
	ErrInvalidBounds    = errors.New("playback start must not be after playback end")
	ErrNilTempoMap      = errors.New("tempo map is required")
	ErrCallbackPanic    = errors.New("callback panicked")
	ErrInvalidGrid      = errors.New("invalid snap grid")
	ErrForeignSnapPoint = errors.New("snap point does not belong to this playback")

	ErrInvalidSpeed    = clock.ErrInvalidSpeed
	ErrInvalidInterval = clock.ErrInvalidInterval
)

// Site names the place a dispatch fault came from.
type Site int

const (
	SiteEventCallback Site = iota
	SiteNoteCallback
	SiteOutputDevice
	SiteHandler
)

func (s Site) String() string {
	switch s {
	case SiteEventCallback:
		return "event callback"
	case SiteNoteCallback:
		return "note callback"
	case SiteOutputDevice:
		return "output device"
	case SiteHandler:
		return "handler"
	default:
		return fmt.Sprintf("site(%d)", int(s))
	}
}

// DispatchError is a fault raised while playing an event.
type DispatchError struct {
	Site  Site
	Event events.TimedEvent
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s failed at tick %d: %v", e.Site, e.Event.Tick, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// recovered converts a recovered panic value into an error.
func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrCallbackPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrCallbackPanic, r)
}
