package playback

import (
	"fmt"
	"time"

	"github.com/leandrodaf/midiplayback/internal/clock"
	"github.com/leandrodaf/midiplayback/internal/logger"
	"github.com/leandrodaf/midiplayback/internal/tracker"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	k8sclock "k8s.io/utils/clock"
)

// DefaultClockInterval is the tick interval used when none is configured.
const DefaultClockInterval = time.Millisecond

// applyDefaultOptions sets default values for PlaybackOptions if not explicitly provided.
//
// opts ...contracts.PlaybackOption: A variadic list of option functions that can modify PlaybackOptions.
//
// Returns:
//   - contracts.PlaybackOptions: A structure containing the finalized playback options with defaults applied.
//   - error: An error if an option holds an invalid value.
func applyDefaultOptions(opts ...contracts.PlaybackOption) (contracts.PlaybackOptions, error) {
	options := &contracts.PlaybackOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	if options.TickGenerator == nil {
		options.TickGenerator = HighPrecisionTickGenerator
	}
	if options.ClockInterval == 0 {
		options.ClockInterval = DefaultClockInterval
	}
	if options.ClockInterval < 0 {
		return contracts.PlaybackOptions{}, fmt.Errorf("%w: %s", clock.ErrInvalidInterval, options.ClockInterval)
	}
	if options.TimeSource == nil {
		options.TimeSource = k8sclock.RealClock{}
	}
	if options.NoteDetector == nil {
		options.NoteDetector = events.StandardNoteDetector{}
	}
	if options.Speed == 0 {
		options.Speed = 1
	}
	if options.Speed < 0 {
		return contracts.PlaybackOptions{}, fmt.Errorf("%w: %v", clock.ErrInvalidSpeed, options.Speed)
	}
	if options.Tracking == nil {
		// Restarting notes mid-way is opt-in; value kinds are replayed by default.
		options.Tracking = &contracts.TrackingOptions{ControlValues: true, Program: true, PitchValue: true}
	}

	options.Logger.SetLevel(options.LogLevel)
	return *options, nil
}

func trackedKinds(t contracts.TrackingOptions) tracker.Kinds {
	var kinds tracker.Kinds
	if t.Notes {
		kinds |= tracker.Notes
	}
	if t.ControlValues {
		kinds |= tracker.ControlValues
	}
	if t.Program {
		kinds |= tracker.Program
	}
	if t.PitchValue {
		kinds |= tracker.PitchBend
	}
	return kinds
}
