package main

import (
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	ticksPerQuarter = 480
	bar             = 4 * ticksPerQuarter
	bars            = 8

	chordChannel  = 0
	bassChannel   = 1
	melodyChannel = 2
	drumChannel   = 9
)

// progression is one chord per bar, as keys of the middle octave.
var progression = [bars][]uint8{
	{60, 64, 67}, {57, 60, 64}, {53, 57, 60}, {55, 59, 62},
	{60, 64, 67}, {57, 60, 64}, {53, 57, 60}, {55, 59, 62, 65},
}

var melody = []struct {
	beat int64
	key  uint8
	len  int64
}{
	{0, 72, 2}, {2, 74, 1}, {3, 76, 1},
	{4, 72, 4},
	{8, 69, 2}, {10, 71, 2},
	{12, 74, 4},
	{16, 76, 1}, {17, 77, 1}, {18, 79, 2},
	{20, 76, 4},
	{24, 77, 2}, {26, 76, 1}, {27, 74, 1},
	{28, 72, 4},
}

// demoSong builds an eight bar piece with chords, bass, melody and drums.
// The tempo rises from bar five, and the melody bends into its last note.
func demoSong(bpm float64) ([]events.TimedEvent, *tempo.Map, error) {
	tempoMap, err := tempo.NewMap(smf.MetricTicks(ticksPerQuarter),
		tempo.BPM(0, bpm),
		tempo.BPM(4*bar, bpm*1.15),
		tempo.TimeSignature{Numerator: 4, Denominator: 4},
	)
	if err != nil {
		return nil, nil, err
	}

	evts := []events.TimedEvent{
		events.At(0, midi.ProgramChange(chordChannel, 4)),
		events.At(0, midi.ProgramChange(bassChannel, 33)),
		events.At(0, midi.ProgramChange(melodyChannel, 73)),
		events.At(0, midi.ControlChange(chordChannel, 7, 70)),
		events.At(0, midi.ControlChange(bassChannel, 7, 100)),
		events.At(0, midi.ControlChange(melodyChannel, 7, 95)),
		events.At(4*bar, midi.ControlChange(chordChannel, 7, 85)),
	}

	for b, chord := range progression {
		start := int64(b) * bar
		for _, key := range chord {
			evts = append(evts, note(chordChannel, key, 70, start, bar-30)...)
		}
		for beat := int64(0); beat < 4; beat++ {
			evts = append(evts, note(bassChannel, chord[0]-24, 100, start+beat*ticksPerQuarter, ticksPerQuarter-40)...)
		}
		for eighth := int64(0); eighth < 8; eighth++ {
			at := start + eighth*ticksPerQuarter/2
			evts = append(evts, note(drumChannel, 42, 60, at, 60)...)
			switch eighth {
			case 0, 4:
				evts = append(evts, note(drumChannel, 36, 110, at, 60)...)
			case 2, 6:
				evts = append(evts, note(drumChannel, 38, 100, at, 60)...)
			}
		}
	}

	for _, m := range melody {
		evts = append(evts, note(melodyChannel, m.key, 90, m.beat*ticksPerQuarter, m.len*ticksPerQuarter-20)...)
	}
	bendStart := int64(7*bar - ticksPerQuarter)
	for i := int64(0); i < 8; i++ {
		evts = append(evts, events.At(bendStart+i*ticksPerQuarter/8, midi.Pitchbend(melodyChannel, int16(-2048+i*256))))
	}
	evts = append(evts, events.At(7*bar, midi.Pitchbend(melodyChannel, 0)))

	return events.Sorted(evts), tempoMap, nil
}

func note(channel, key, velocity uint8, start, length int64) []events.TimedEvent {
	return []events.TimedEvent{
		events.At(start, midi.NoteOn(channel, key, velocity)),
		events.At(start+length, midi.NoteOff(channel, key)),
	}
}
