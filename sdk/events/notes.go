package events

import (
	"slices"

	"gitlab.com/gomidi/midi/v2"
)

// NoteID identifies a sounding note on the device.
type NoteID struct {
	Channel uint8
	Key     uint8
}

// Note is a matched note-on/note-off pair covering [Start, End).
//
// OnIndex and OffIndex are positions in the sorted event sequence. OffIndex
// is -1 when the note never ends; End is then the last tick of the sequence.
type Note struct {
	Channel     uint8
	Key         uint8
	Velocity    uint8
	OffVelocity uint8
	Start       int64
	End         int64
	OnIndex     int
	OffIndex    int
}

// ID returns the channel and key of the note.
func (n Note) ID() NoteID {
	return NoteID{Channel: n.Channel, Key: n.Key}
}

// Length returns the note length in ticks.
func (n Note) Length() int64 {
	return n.End - n.Start
}

// SoundingAt reports whether the note is held strictly across tick.
func (n Note) SoundingAt(tick int64) bool {
	return n.Start < tick && tick < n.End
}

// OnMessage returns the note-on message for the note.
func (n Note) OnMessage() midi.Message {
	return midi.NoteOn(n.Channel, n.Key, n.Velocity)
}

// OffMessage returns the note-off message for the note.
func (n Note) OffMessage() midi.Message {
	return NoteOffMessage(n.Channel, n.Key, n.OffVelocity)
}

// NoteDetector builds notes from a sorted event sequence.
type NoteDetector interface {
	Detect(evts []TimedEvent) []Note
}

// NoteSearchPolicy decides which pending note-on a note-off closes when
// several notes with the same channel and key overlap.
type NoteSearchPolicy int

const (
	// FirstNoteOn closes the earliest pending note-on.
	FirstNoteOn NoteSearchPolicy = iota
	// LastNoteOn closes the latest pending note-on.
	LastNoteOn
)

// StandardNoteDetector pairs note-on and note-off events by channel and key.
type StandardNoteDetector struct {
	Policy NoteSearchPolicy
}

// Detect implements NoteDetector. Notes are ordered by start tick, then by
// the position of their note-on.
func (d StandardNoteDetector) Detect(evts []TimedEvent) []Note {
	var (
		notes    []Note
		pending  = make(map[NoteID][]Note)
		lastTick int64
	)
	for i, e := range evts {
		lastTick = e.Tick
		decoded := Decode(e.Message)
		id := NoteID{Channel: decoded.Channel, Key: decoded.Number}

		switch decoded.Kind {
		case NoteOn:
			pending[id] = append(pending[id], Note{
				Channel:  decoded.Channel,
				Key:      decoded.Number,
				Velocity: decoded.Value,
				Start:    e.Tick,
				OnIndex:  i,
				OffIndex: -1,
			})
		case NoteOff:
			open := pending[id]
			if len(open) == 0 {
				continue
			}
			at := 0
			if d.Policy == LastNoteOn {
				at = len(open) - 1
			}
			note := open[at]
			note.End = e.Tick
			note.OffIndex = i
			note.OffVelocity = decoded.Value
			notes = append(notes, note)
			pending[id] = slices.Delete(open, at, at+1)
		}
	}

	for _, open := range pending {
		for _, note := range open {
			note.End = lastTick
			notes = append(notes, note)
		}
	}

	slices.SortFunc(notes, func(a, b Note) int {
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		return a.OnIndex - b.OnIndex
	})
	return notes
}
