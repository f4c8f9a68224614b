package timeline

import (
	"testing"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
)

func sample() []events.TimedEvent {
	return []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(0, midi.ControlChange(0, 2, 2)),
		events.At(100, midi.NoteOn(0, 60, 100)),
		events.At(100, midi.ControlChange(0, 3, 3)),
		events.At(100, midi.ControlChange(0, 4, 4)),
		events.At(250, midi.NoteOff(0, 60)),
	}
}

func numbers(evts []events.TimedEvent) []uint8 {
	out := make([]uint8, 0, len(evts))
	for _, e := range evts {
		out = append(out, events.Decode(e.Message).Number)
	}
	return out
}

func TestDueReturnsWholeTicks(t *testing.T) {
	t.Parallel()

	tl := New(sample())

	require.Equal(t, []uint8{1, 2}, numbers(tl.Due(99)))
	require.Empty(t, tl.Due(99))

	due := tl.Due(100)
	require.Len(t, due, 3)
	require.Equal(t, []uint8{60, 3, 4}, numbers(due))
	require.False(t, tl.Done())

	require.Len(t, tl.Due(1000), 1)
	require.True(t, tl.Done())
	require.Empty(t, tl.Due(2000))
}

func TestDueResultCannotClobberEvents(t *testing.T) {
	t.Parallel()

	tl := New(sample())
	due := tl.Due(0)
	_ = append(due, events.At(5, midi.ControlChange(0, 9, 9)))
	require.Equal(t, int64(100), tl.Events()[2].Tick)
}

func TestReset(t *testing.T) {
	t.Parallel()

	tl := New(sample())
	tl.Due(1000)

	tl.Reset(100)
	require.Equal(t, 2, tl.Position())
	require.Len(t, tl.Due(100), 3)

	tl.Reset(101)
	require.Equal(t, 5, tl.Position())

	tl.Reset(0)
	require.Equal(t, 0, tl.Position())

	tl.Reset(251)
	require.True(t, tl.Done())
}

func TestPositionAndBounds(t *testing.T) {
	t.Parallel()

	tl := New(sample())
	require.Equal(t, 6, tl.Len())
	require.Equal(t, int64(250), tl.LastTick())

	tl.SetPosition(-3)
	require.Equal(t, 0, tl.Position())
	tl.SetPosition(99)
	require.Equal(t, 6, tl.Position())

	empty := New(nil)
	require.True(t, empty.Done())
	require.Equal(t, int64(0), empty.LastTick())
	require.Empty(t, empty.Due(10))
}
