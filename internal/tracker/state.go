// Package tracker keeps the sustained MIDI state implied by an event history:
// sounding notes, control values, programs and pitch bends.
package tracker

import (
	"cmp"
	"maps"
	"slices"

	"github.com/leandrodaf/midiplayback/sdk/events"
)

// Kinds is a set of tracked data kinds.
type Kinds uint8

const (
	Notes Kinds = 1 << iota
	ControlValues
	Program
	PitchBend

	AllKinds = Notes | ControlValues | Program | PitchBend
)

// Has reports whether every kind in k2 is in k.
func (k Kinds) Has(k2 Kinds) bool {
	return k&k2 == k2
}

// Defaults assumed for a channel nothing was sent to.
const (
	DefaultProgram      uint8 = 0
	DefaultControlValue uint8 = 0
	DefaultPitchBend    int16 = 0
)

// ControlKey identifies a controller on a channel.
type ControlKey struct {
	Channel    uint8
	Controller uint8
}

// State is a snapshot of sustained state. A missing value means the default.
type State struct {
	Notes    map[events.NoteID]events.Note
	Controls map[ControlKey]uint8
	Programs map[uint8]uint8
	Pitch    map[uint8]int16
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Notes:    make(map[events.NoteID]events.Note),
		Controls: make(map[ControlKey]uint8),
		Programs: make(map[uint8]uint8),
		Pitch:    make(map[uint8]int16),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{
		Notes:    maps.Clone(s.Notes),
		Controls: maps.Clone(s.Controls),
		Programs: maps.Clone(s.Programs),
		Pitch:    maps.Clone(s.Pitch),
	}
}

// Equal compares two states, treating missing values as defaults. Notes are
// compared by identity only.
func (s State) Equal(o State) bool {
	if len(s.Notes) != len(o.Notes) {
		return false
	}
	for id := range s.Notes {
		if _, ok := o.Notes[id]; !ok {
			return false
		}
	}
	return equalWithDefault(s.Controls, o.Controls, DefaultControlValue) &&
		equalWithDefault(s.Programs, o.Programs, DefaultProgram) &&
		equalWithDefault(s.Pitch, o.Pitch, DefaultPitchBend)
}

func equalWithDefault[K comparable, V comparable](a, b map[K]V, def V) bool {
	for k, v := range a {
		if valueOr(b, k, def) != v {
			return false
		}
	}
	for k, v := range b {
		if valueOr(a, k, def) != v {
			return false
		}
	}
	return true
}

func valueOr[K comparable, V any](m map[K]V, k K, def V) V {
	if v, ok := m[k]; ok {
		return v
	}
	return def
}

// SoundingNotes returns the sounding notes ordered by channel and key.
func (s State) SoundingNotes() []events.Note {
	notes := slices.Collect(maps.Values(s.Notes))
	slices.SortFunc(notes, compareNoteIDs)
	return notes
}

func compareNoteIDs(a, b events.Note) int {
	if c := cmp.Compare(a.Channel, b.Channel); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// apply updates the value kinds of s with a message. Notes are not touched.
func (s State) apply(d events.Decoded) {
	switch d.Kind {
	case events.ControlChange:
		s.Controls[ControlKey{Channel: d.Channel, Controller: d.Number}] = d.Value
	case events.ProgramChange:
		s.Programs[d.Channel] = d.Number
	case events.PitchBend:
		s.Pitch[d.Channel] = d.Bend
	}
}
