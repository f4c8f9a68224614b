package contracts

import (
	"time"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"k8s.io/utils/clock"
)

// NoteStopPolicy decides what happens to sounding notes when playback stops.
type NoteStopPolicy int

const (
	// Interrupt sends a note-off for every sounding note when playback stops.
	Interrupt NoteStopPolicy = iota
	// Hold sends nothing; notes keep sounding on the device until their note-off is played.
	Hold
	// Split sends a note-off on stop and a new note-on for the same notes when playback resumes.
	Split
)

func (p NoteStopPolicy) String() string {
	switch p {
	case Interrupt:
		return "interrupt"
	case Hold:
		return "hold"
	case Split:
		return "split"
	default:
		return "unknown"
	}
}

// TrackingOptions toggles sustained state tracking per data kind.
type TrackingOptions struct {
	Notes         bool // Restart notes spanning the new position after a jump.
	ControlValues bool // Replay the last control value per controller.
	Program       bool // Replay the last program per channel.
	PitchValue    bool // Replay the last pitch bend per channel.
}

// PlaybackOptions defines the configuration of a playback session.
type PlaybackOptions struct {
	Logger               Logger               // Logger for lifecycle and dispatch messages.
	LogLevel             LogLevel             // Level of logging to use.
	OutputDevice         OutputDevice         // Device events are sent to; may be set later.
	TickGenerator        TickGeneratorFactory // Creates the clock's tick generator.
	ClockInterval        time.Duration        // Interval between ticks.
	TimeSource           clock.Clock          // Source of wall-clock time.
	NoteDetector         events.NoteDetector  // Strategy building notes from events.
	NoteStopPolicy       NoteStopPolicy       // What to do with sounding notes on stop.
	SplitRestartVelocity uint8                // Velocity of notes restarted by Split; 0 keeps the original velocity.
	Loop                 bool                 // Restart from the beginning when the end is reached.
	Speed                float64              // Playback speed multiplier; 0 means 1.
	Tracking             *TrackingOptions     // Sustained state tracking; nil means defaults.
}

// PlaybackOption is a function that modifies PlaybackOptions.
type PlaybackOption func(*PlaybackOptions)

// WithPlaybackLogger sets the logger for the playback.
func WithPlaybackLogger(l Logger) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.Logger = l
	}
}

// WithPlaybackLogLevel sets the logging level for the playback.
func WithPlaybackLogLevel(level LogLevel) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.LogLevel = level
	}
}

// WithOutputDevice sets the device events are sent to.
func WithOutputDevice(device OutputDevice) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.OutputDevice = device
	}
}

// WithTickGenerator sets the factory creating the clock's tick generator.
func WithTickGenerator(factory TickGeneratorFactory) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.TickGenerator = factory
	}
}

// WithClockInterval sets the interval between clock ticks.
func WithClockInterval(interval time.Duration) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.ClockInterval = interval
	}
}

// WithTimeSource replaces the wall clock, mostly for tests.
func WithTimeSource(source clock.Clock) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.TimeSource = source
	}
}

// WithNoteDetector sets the strategy used to build notes from events.
func WithNoteDetector(detector events.NoteDetector) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.NoteDetector = detector
	}
}

// WithNoteStopPolicy sets what happens to sounding notes when playback stops.
func WithNoteStopPolicy(policy NoteStopPolicy) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.NoteStopPolicy = policy
	}
}

// WithSplitRestartVelocity sets the velocity used when Split restarts notes.
func WithSplitRestartVelocity(velocity uint8) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.SplitRestartVelocity = velocity
	}
}

// WithLoop enables or disables looping.
func WithLoop(loop bool) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.Loop = loop
	}
}

// WithSpeed sets the initial playback speed.
func WithSpeed(speed float64) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.Speed = speed
	}
}

// WithTracking sets which kinds of sustained state are tracked.
func WithTracking(tracking TrackingOptions) PlaybackOption {
	return func(opts *PlaybackOptions) {
		opts.Tracking = &tracking
	}
}
