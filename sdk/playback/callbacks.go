package playback

import (
	"time"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"gitlab.com/gomidi/midi/v2"
)

// EventResult is the decision of an EventCallback. The zero value keeps the event.
type EventResult struct {
	action  action
	message midi.Message
}

// NoteResult is the decision of a NoteCallback. The zero value keeps the note.
type NoteResult struct {
	action action
	note   events.Note
}

type action int

const (
	keep action = iota
	replace
	skip
)

// KeepEvent plays the event unchanged.
func KeepEvent() EventResult { return EventResult{} }

// SkipEvent drops the event.
func SkipEvent() EventResult { return EventResult{action: skip} }

// ReplaceEvent plays msg instead of the event.
func ReplaceEvent(msg midi.Message) EventResult { return EventResult{action: replace, message: msg} }

// KeepNote plays the note unchanged.
func KeepNote() NoteResult { return NoteResult{} }

// SkipNote drops both the note-on and the note-off of the note.
func SkipNote() NoteResult { return NoteResult{action: skip} }

// ReplaceNote plays n instead of the note. The position of the original is kept.
func ReplaceNote(n events.Note) NoteResult { return NoteResult{action: replace, note: n} }

// EventCallback decides how a non-note event is played. rawTick and rawTime
// give the event's place in the unmodified sequence.
//
// Callbacks run while the playback is locked. Of the playback's methods they
// may only call GetCurrentTime, GetDuration, CurrentTick, DurationTicks,
// IsRunning, Speed, SetSpeed and ClockInterval; any other method deadlocks.
type EventCallback func(e events.TimedEvent, rawTick int64, rawTime time.Duration) EventResult

// NoteCallback decides how a note is played. It is called once at the
// note-on; the decision also applies to the matching note-off. It is bound
// by the same locking rules as EventCallback.
type NoteCallback func(n events.Note, rawTick int64, rawTime time.Duration) NoteResult
