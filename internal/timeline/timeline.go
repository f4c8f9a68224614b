// Package timeline provides a read cursor over a sorted event sequence.
package timeline

import (
	"sort"

	"github.com/leandrodaf/midiplayback/sdk/events"
)

// Timeline is a cursor over events sorted by tick. The events are never
// modified. A Timeline is not safe for concurrent use; the owner serializes
// access.
type Timeline struct {
	events []events.TimedEvent
	cursor int
}

// New creates a timeline over evts, which must already be sorted by tick.
func New(evts []events.TimedEvent) *Timeline {
	return &Timeline{events: evts}
}

// Due returns the events from the cursor up to and including uptoTick and
// moves the cursor past them. Events sharing a tick are always returned
// together.
func (t *Timeline) Due(uptoTick int64) []events.TimedEvent {
	from := t.cursor
	for t.cursor < len(t.events) && t.events[t.cursor].Tick <= uptoTick {
		t.cursor++
	}
	return t.events[from:t.cursor:t.cursor]
}

// Reset moves the cursor to the first event at or after toTick.
func (t *Timeline) Reset(toTick int64) {
	t.cursor = sort.Search(len(t.events), func(i int) bool {
		return t.events[i].Tick >= toTick
	})
}

// Position returns the index of the next unread event.
func (t *Timeline) Position() int {
	return t.cursor
}

// SetPosition moves the cursor to index i, clamped to the sequence.
func (t *Timeline) SetPosition(i int) {
	t.cursor = min(max(i, 0), len(t.events))
}

// Done reports whether every event has been read.
func (t *Timeline) Done() bool {
	return t.cursor >= len(t.events)
}

// Len returns the number of events.
func (t *Timeline) Len() int {
	return len(t.events)
}

// Events returns the underlying sequence. Callers must not modify it.
func (t *Timeline) Events() []events.TimedEvent {
	return t.events
}

// LastTick returns the tick of the last event, or 0 for an empty timeline.
func (t *Timeline) LastTick() int64 {
	if len(t.events) == 0 {
		return 0
	}
	return t.events[len(t.events)-1].Tick
}
