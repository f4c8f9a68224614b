// Package events holds the timed MIDI events a playback consumes and the
// notes derived from them.
package events

import (
	"slices"

	"gitlab.com/gomidi/midi/v2"
)

// Kind is the closed set of event kinds the playback distinguishes.
type Kind int

const (
	Other Kind = iota
	NoteOn
	NoteOff
	ControlChange
	ProgramChange
	PitchBend
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "note-on"
	case NoteOff:
		return "note-off"
	case ControlChange:
		return "control-change"
	case ProgramChange:
		return "program-change"
	case PitchBend:
		return "pitch-bend"
	default:
		return "other"
	}
}

// TimedEvent is a MIDI message placed at an absolute tick.
type TimedEvent struct {
	Message midi.Message
	Tick    int64
}

// At builds a TimedEvent.
func At(tick int64, msg midi.Message) TimedEvent {
	return TimedEvent{Message: msg, Tick: tick}
}

// Kind returns the kind of the event's message.
func (e TimedEvent) Kind() Kind {
	return Decode(e.Message).Kind
}

// Decoded is a message split into its kind and channel data.
//
// Number is the key for notes, the controller for control changes and the
// program for program changes. Value is the velocity for notes and the value
// for control changes. Bend is the relative pitch bend (-8192..8191).
type Decoded struct {
	Kind    Kind
	Channel uint8
	Number  uint8
	Value   uint8
	Bend    int16
}

// Decode classifies msg. A note-on with velocity 0 is a note-off.
func Decode(msg midi.Message) Decoded {
	var (
		d   Decoded
		abs uint16
	)
	switch {
	case msg.GetNoteStart(&d.Channel, &d.Number, &d.Value):
		d.Kind = NoteOn
	case msg.GetNoteOff(&d.Channel, &d.Number, &d.Value):
		d.Kind = NoteOff
	case msg.GetNoteEnd(&d.Channel, &d.Number):
		d.Kind = NoteOff
		d.Value = 0
	case msg.GetControlChange(&d.Channel, &d.Number, &d.Value):
		d.Kind = ControlChange
	case msg.GetProgramChange(&d.Channel, &d.Number):
		d.Kind = ProgramChange
	case msg.GetPitchBend(&d.Channel, &d.Bend, &abs):
		d.Kind = PitchBend
	default:
		return Decoded{Kind: Other}
	}
	return d
}

// Sorted returns a copy of evts ordered by tick. Events sharing a tick keep
// their original order.
func Sorted(evts []TimedEvent) []TimedEvent {
	sorted := slices.Clone(evts)
	slices.SortStableFunc(sorted, func(a, b TimedEvent) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// ProgramChangeMessage builds a program change message.
func ProgramChangeMessage(channel, program uint8) midi.Message {
	return midi.ProgramChange(channel, program)
}

// ControlChangeMessage builds a control change message.
func ControlChangeMessage(channel, controller, value uint8) midi.Message {
	return midi.ControlChange(channel, controller, value)
}

// PitchBendMessage builds a pitch bend message from a relative value.
func PitchBendMessage(channel uint8, bend int16) midi.Message {
	return midi.Pitchbend(channel, bend)
}

// NoteOnMessage builds a note-on message.
func NoteOnMessage(channel, key, velocity uint8) midi.Message {
	return midi.NoteOn(channel, key, velocity)
}

// NoteOffMessage builds a note-off message carrying a release velocity.
func NoteOffMessage(channel, key, velocity uint8) midi.Message {
	return midi.Message{0x80 | channel&0x0F, key & 0x7F, velocity & 0x7F}
}
