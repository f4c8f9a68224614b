package tracker

import (
	"cmp"
	"maps"
	"slices"
	"sort"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"gitlab.com/gomidi/midi/v2"
)

// Correction is an event that moves a device from one state towards another.
// Note is set for note corrections: Kind NoteOff stops it, NoteOn starts it.
type Correction struct {
	Kind    events.Kind
	Message midi.Message
	Note    *events.Note
}

// Tracker rebuilds sustained state for any position of an immutable event
// sequence and mirrors the state of the output device. It is not safe for
// concurrent use.
type Tracker struct {
	events []events.TimedEvent
	notes  []events.Note
	sent   State
}

// New creates a tracker over sorted events and the notes detected from them.
func New(evts []events.TimedEvent, notes []events.Note) *Tracker {
	return &Tracker{events: evts, notes: notes, sent: NewState()}
}

// RebuildUpTo replays every event strictly before tick and returns the
// resulting state for the requested kinds. Notes are those held across tick.
// Nothing is sent anywhere.
func (t *Tracker) RebuildUpTo(tick int64, kinds Kinds) State {
	state := NewState()
	for _, e := range t.events {
		if e.Tick >= tick {
			break
		}
		d := events.Decode(e.Message)
		switch {
		case d.Kind == events.ControlChange && kinds.Has(ControlValues),
			d.Kind == events.ProgramChange && kinds.Has(Program),
			d.Kind == events.PitchBend && kinds.Has(PitchBend):
			state.apply(d)
		}
	}
	if kinds.Has(Notes) {
		for _, n := range t.notes {
			if n.Start >= tick {
				break
			}
			if n.SoundingAt(tick) {
				state.Notes[n.ID()] = n
			}
		}
	}
	return state
}

// KeepChangedAt sets in target the mirrored values of the controls, programs
// and pitch bends that have an event exactly at tick. Those events are played
// right after a jump to tick, so no correction is needed for them.
func (t *Tracker) KeepChangedAt(target State, tick int64) {
	i := sort.Search(len(t.events), func(i int) bool { return t.events[i].Tick >= tick })
	for ; i < len(t.events) && t.events[i].Tick == tick; i++ {
		d := events.Decode(t.events[i].Message)
		switch d.Kind {
		case events.ControlChange:
			k := ControlKey{Channel: d.Channel, Controller: d.Number}
			keepSent(target.Controls, t.sent.Controls, k)
		case events.ProgramChange:
			keepSent(target.Programs, t.sent.Programs, d.Channel)
		case events.PitchBend:
			keepSent(target.Pitch, t.sent.Pitch, d.Channel)
		}
	}
}

func keepSent[K comparable, V any](target, sent map[K]V, k K) {
	if v, ok := sent[k]; ok {
		target[k] = v
		return
	}
	delete(target, k)
}

// Diff returns the corrections that turn a device in state from into state
// to, for the given kinds. Sounding notes missing from to are always stopped;
// notes missing from from are started only when Notes is tracked. The order is
// programs, pitch bends, control values, note-offs, note-ons.
func Diff(from, to State, kinds Kinds) []Correction {
	var out []Correction

	if kinds.Has(Program) {
		for _, ch := range sortedKeys(from.Programs, to.Programs, cmp.Compare[uint8]) {
			if v := valueOr(to.Programs, ch, DefaultProgram); v != valueOr(from.Programs, ch, DefaultProgram) {
				out = append(out, Correction{Kind: events.ProgramChange, Message: events.ProgramChangeMessage(ch, v)})
			}
		}
	}
	if kinds.Has(PitchBend) {
		for _, ch := range sortedKeys(from.Pitch, to.Pitch, cmp.Compare[uint8]) {
			if v := valueOr(to.Pitch, ch, DefaultPitchBend); v != valueOr(from.Pitch, ch, DefaultPitchBend) {
				out = append(out, Correction{Kind: events.PitchBend, Message: events.PitchBendMessage(ch, v)})
			}
		}
	}
	if kinds.Has(ControlValues) {
		for _, k := range sortedKeys(from.Controls, to.Controls, compareControlKeys) {
			if v := valueOr(to.Controls, k, DefaultControlValue); v != valueOr(from.Controls, k, DefaultControlValue) {
				out = append(out, Correction{Kind: events.ControlChange, Message: events.ControlChangeMessage(k.Channel, k.Controller, v)})
			}
		}
	}

	for _, n := range from.SoundingNotes() {
		if _, ok := to.Notes[n.ID()]; !ok {
			n := n
			out = append(out, Correction{Kind: events.NoteOff, Message: n.OffMessage(), Note: &n})
		}
	}
	if kinds.Has(Notes) {
		starts := slices.Collect(maps.Values(to.Notes))
		slices.SortFunc(starts, func(a, b events.Note) int {
			if c := cmp.Compare(a.Start, b.Start); c != 0 {
				return c
			}
			return cmp.Compare(a.OnIndex, b.OnIndex)
		})
		for _, n := range starts {
			if _, ok := from.Notes[n.ID()]; !ok {
				n := n
				out = append(out, Correction{Kind: events.NoteOn, Message: n.OnMessage(), Note: &n})
			}
		}
	}
	return out
}

// Resync returns the corrections bringing the device from its mirrored state
// to the state at tick.
func (t *Tracker) Resync(tick int64, kinds Kinds) []Correction {
	return Diff(t.sent, t.RebuildUpTo(tick, kinds), kinds)
}

// Sent returns the mirrored device state. The caller must not modify it.
func (t *Tracker) Sent() State {
	return t.sent
}

// Record mirrors a control, program or pitch bend message sent to the device.
// Note messages are ignored; use NoteStarted and NoteFinished.
func (t *Tracker) Record(msg midi.Message) {
	t.sent.apply(events.Decode(msg))
}

// Commit mirrors a correction sent to the device.
func (t *Tracker) Commit(c Correction) {
	switch {
	case c.Note != nil && c.Kind == events.NoteOn:
		t.NoteStarted(*c.Note)
	case c.Note != nil:
		t.NoteFinished(c.Note.ID())
	default:
		t.Record(c.Message)
	}
}

// NoteStarted mirrors a note that is now sounding on the device.
func (t *Tracker) NoteStarted(n events.Note) {
	t.sent.Notes[n.ID()] = n
}

// NoteFinished mirrors a note that stopped sounding on the device.
func (t *Tracker) NoteFinished(id events.NoteID) (events.Note, bool) {
	n, ok := t.sent.Notes[id]
	delete(t.sent.Notes, id)
	return n, ok
}

// ActiveNote returns the sounding note with the given identity.
func (t *Tracker) ActiveNote(id events.NoteID) (events.Note, bool) {
	n, ok := t.sent.Notes[id]
	return n, ok
}

// ActiveNotes returns the sounding notes ordered by channel and key.
func (t *Tracker) ActiveNotes() []events.Note {
	return t.sent.SoundingNotes()
}

// ForgetNotes clears the sounding notes without sending anything.
func (t *Tracker) ForgetNotes() {
	clear(t.sent.Notes)
}

func sortedKeys[K comparable, V any](a, b map[K]V, compare func(K, K) int) []K {
	keys := make([]K, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, compare)
	return keys
}

func compareControlKeys(a, b ControlKey) int {
	if c := cmp.Compare(a.Channel, b.Channel); c != 0 {
		return c
	}
	return cmp.Compare(a.Controller, b.Controller)
}
