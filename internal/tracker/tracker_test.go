package tracker

import (
	"reflect"
	"testing"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
)

// buildEvents turns random seeds into a sorted event sequence on two channels.
func buildEvents(seeds []int) []events.TimedEvent {
	evts := make([]events.TimedEvent, 0, len(seeds))
	var tick int64
	for _, s := range seeds {
		tick += int64(s % 3 * 10)
		ch := uint8(s>>2) % 2
		num := uint8(s>>3) % 4
		val := uint8(s>>5) % 128
		var msg midi.Message
		switch s % 5 {
		case 0:
			msg = midi.NoteOn(ch, 60+num, val|1)
		case 1:
			msg = midi.NoteOff(ch, 60+num)
		case 2:
			msg = midi.ControlChange(ch, num, val)
		case 3:
			msg = midi.ProgramChange(ch, val)
		default:
			msg = midi.Pitchbend(ch, int16(val)*64-4096)
		}
		evts = append(evts, events.At(tick, msg))
	}
	return evts
}

func newTracker(evts []events.TimedEvent) *Tracker {
	return New(evts, events.StandardNoteDetector{}.Detect(evts))
}

// replay is a straightforward from-zero replay of the value kinds.
func replay(evts []events.TimedEvent, tick int64) State {
	s := NewState()
	for _, e := range evts {
		if e.Tick >= tick {
			continue
		}
		var ch, num, val uint8
		var bend int16
		var abs uint16
		switch {
		case e.Message.GetControlChange(&ch, &num, &val):
			s.Controls[ControlKey{ch, num}] = val
		case e.Message.GetProgramChange(&ch, &num):
			s.Programs[ch] = num
		case e.Message.GetPitchBend(&ch, &bend, &abs):
			s.Pitch[ch] = bend
		}
	}
	return s
}

func commitAll(tr *Tracker, corrections []Correction) {
	for _, c := range corrections {
		tr.Commit(c)
	}
}

func TestTrackerProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	seeds := gen.SliceOfN(60, gen.IntRange(0, 1<<16))
	position := gen.Int64Range(0, 700)

	properties.Property("rebuild is deterministic", prop.ForAll(
		func(s []int, tick int64) bool {
			tr := newTracker(buildEvents(s))
			return reflect.DeepEqual(tr.RebuildUpTo(tick, AllKinds), tr.RebuildUpTo(tick, AllKinds))
		},
		seeds, position,
	))

	properties.Property("rebuild equals a from-zero replay", prop.ForAll(
		func(s []int, tick int64) bool {
			evts := buildEvents(s)
			got := newTracker(evts).RebuildUpTo(tick, ControlValues|Program|PitchBend)
			return reflect.DeepEqual(got, replay(evts, tick))
		},
		seeds, position,
	))

	properties.Property("A -> B -> A ends in the state of a direct seek to A", prop.ForAll(
		func(s []int, a, b int64) bool {
			evts := buildEvents(s)

			direct := newTracker(evts)
			commitAll(direct, direct.Resync(a, AllKinds))

			roundTrip := newTracker(evts)
			commitAll(roundTrip, roundTrip.Resync(a, AllKinds))
			commitAll(roundTrip, roundTrip.Resync(b, AllKinds))
			commitAll(roundTrip, roundTrip.Resync(a, AllKinds))

			return roundTrip.Sent().Equal(direct.Sent()) &&
				roundTrip.Sent().Equal(roundTrip.RebuildUpTo(a, AllKinds)) &&
				len(roundTrip.Resync(a, AllKinds)) == 0
		},
		seeds, position, position,
	))

	properties.Property("disabled kinds produce no corrections", prop.ForAll(
		func(s []int, tick int64) bool {
			tr := newTracker(buildEvents(s))
			for _, c := range tr.Resync(tick, Notes|Program) {
				if c.Kind == events.ControlChange || c.Kind == events.PitchBend {
					return false
				}
			}
			return true
		},
		seeds, position,
	))

	properties.TestingRun(t)
}

func TestRebuildExcludesEventsAtTarget(t *testing.T) {
	t.Parallel()

	evts := []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 100, 70)),
		events.At(0, midi.NoteOn(0, 60, 90)),
		events.At(500, midi.ControlChange(0, 100, 20)),
		events.At(1000, midi.NoteOff(0, 60)),
	}
	tr := newTracker(evts)

	require.True(t, tr.RebuildUpTo(0, AllKinds).Equal(NewState()))

	at500 := tr.RebuildUpTo(500, AllKinds)
	require.Equal(t, uint8(70), at500.Controls[ControlKey{0, 100}])
	require.Contains(t, at500.Notes, events.NoteID{Channel: 0, Key: 60})

	at1000 := tr.RebuildUpTo(1000, AllKinds)
	require.Equal(t, uint8(20), at1000.Controls[ControlKey{0, 100}])
	require.Empty(t, at1000.Notes)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	from := NewState()
	from.Programs[0] = 5
	from.Controls[ControlKey{1, 7}] = 100
	from.Pitch[2] = 300
	from.Notes[events.NoteID{Channel: 0, Key: 60}] = events.Note{Channel: 0, Key: 60, Velocity: 90}

	to := NewState()
	to.Programs[0] = 5
	to.Programs[3] = 10
	to.Controls[ControlKey{1, 7}] = 0
	to.Notes[events.NoteID{Channel: 1, Key: 64}] = events.Note{Channel: 1, Key: 64, Velocity: 70, Start: 10}

	got := Diff(from, to, AllKinds)
	require.Len(t, got, 5)
	require.Equal(t, midi.ProgramChange(3, 10), got[0].Message)
	require.Equal(t, midi.Pitchbend(2, 0), got[1].Message)
	require.Equal(t, midi.ControlChange(1, 7, 0), got[2].Message)
	require.Equal(t, events.NoteOff, got[3].Kind)
	require.Equal(t, uint8(60), got[3].Note.Key)
	require.Equal(t, events.NoteOn, got[4].Kind)
	require.Equal(t, midi.NoteOn(1, 64, 70), got[4].Message)

	withoutNotes := Diff(from, to, ControlValues)
	require.Len(t, withoutNotes, 2, "note-offs are always emitted, note-ons only when tracked")
	require.Equal(t, events.ControlChange, withoutNotes[0].Kind)
	require.Equal(t, events.NoteOff, withoutNotes[1].Kind)
}

func TestSentStateMirrorsDevice(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	tr.Record(midi.ControlChange(0, 100, 70))
	tr.Record(midi.NoteOn(0, 60, 100))
	require.Equal(t, uint8(70), tr.Sent().Controls[ControlKey{0, 100}])
	require.Empty(t, tr.ActiveNotes(), "note messages go through NoteStarted")

	n := events.Note{Channel: 0, Key: 60, Velocity: 100}
	tr.NoteStarted(n)
	got, ok := tr.ActiveNote(n.ID())
	require.True(t, ok)
	require.Equal(t, n, got)

	_, ok = tr.NoteFinished(n.ID())
	require.True(t, ok)
	_, ok = tr.NoteFinished(n.ID())
	require.False(t, ok)

	tr.NoteStarted(n)
	tr.ForgetNotes()
	require.Empty(t, tr.ActiveNotes())
}

func TestKeepChangedAtSkipsValuesAboutToBePlayed(t *testing.T) {
	t.Parallel()

	evts := []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 100, 70)),
		events.At(0, midi.ProgramChange(1, 4)),
		events.At(200, midi.ControlChange(0, 7, 90)),
		events.At(300, midi.ControlChange(0, 7, 10)),
	}
	tr := newTracker(evts)
	commitAll(tr, tr.Resync(500, AllKinds))
	require.Equal(t, uint8(70), tr.Sent().Controls[ControlKey{0, 100}])

	target := tr.RebuildUpTo(0, AllKinds)
	tr.KeepChangedAt(target, 0)
	got := Diff(tr.Sent(), target, AllKinds)
	require.Len(t, got, 1, "controller 100 and program 1 are replayed by their events at 0")
	require.Equal(t, midi.ControlChange(0, 7, 0), got[0].Message)

	target = tr.RebuildUpTo(300, AllKinds)
	tr.KeepChangedAt(target, 300)
	got = Diff(tr.Sent(), target, AllKinds)
	require.Empty(t, got, "controller 7 keeps its mirrored value until its event at 300 plays")
}
