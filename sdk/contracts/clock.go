package contracts

import (
	"time"

	"k8s.io/utils/clock"
)

// TickGenerator produces periodic tick notifications for a playback clock.
type TickGenerator interface {
	// Start begins calling tick roughly every interval until Stop is called.
	Start(interval time.Duration, tick func()) error
	// Stop halts tick delivery. It never waits for an in-flight tick.
	Stop()
	// Close stops the generator and releases its resources.
	Close() error
}

// TickGeneratorFactory creates a tick generator for a playback session.
// source is the session's time source.
type TickGeneratorFactory func(source clock.Clock) TickGenerator
