package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/midiplayback/internal/logger"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/midi"
	"github.com/leandrodaf/midiplayback/sdk/playback"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const ticksPerQuarter = 480

// arpeggio builds two bars of a C major arpeggio on a piano with a volume swell.
func arpeggio() []events.TimedEvent {
	evts := []events.TimedEvent{
		events.At(0, gomidi.ProgramChange(0, 0)),
		events.At(0, gomidi.ControlChange(0, 7, 80)),
		events.At(4*ticksPerQuarter, gomidi.ControlChange(0, 7, 110)),
	}
	keys := []uint8{60, 64, 67, 72, 67, 64, 60, 55}
	for i, key := range keys {
		start := int64(i * ticksPerQuarter)
		evts = append(evts,
			events.At(start, gomidi.NoteOn(0, key, 96)),
			events.At(start+ticksPerQuarter-20, gomidi.NoteOff(0, key)),
		)
	}
	return evts
}

func main() {
	log := logger.NewZapLogger()

	client, err := midi.NewOutputClient(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
	)
	if err != nil {
		log.Error("Failed to initialize MIDI client", log.Field().Error("error", err))
		return
	}
	defer client.Close()

	devices, err := client.ListDevices()
	if err != nil || len(devices) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
		return
	}
	fmt.Println("Available MIDI devices:", devices)

	if err = client.SelectDevice(0); err != nil {
		log.Error("Failed to select MIDI device", log.Field().Error("error", err))
		return
	}

	tempoMap, err := tempo.NewMap(smf.MetricTicks(ticksPerQuarter), tempo.BPM(0, 100))
	if err != nil {
		log.Error("Failed to build tempo map", log.Field().Error("error", err))
		return
	}

	p, err := playback.New(arpeggio(), tempoMap,
		contracts.WithPlaybackLogger(log),
		contracts.WithOutputDevice(client),
		contracts.WithTracking(contracts.TrackingOptions{Notes: true, ControlValues: true, Program: true}),
	)
	if err != nil {
		log.Error("Failed to create playback", log.Field().Error("error", err))
		return
	}
	defer p.Close()

	p.Subscribe(playback.Handlers{
		NotesPlaybackStarted: func(notes []events.Note) {
			for _, n := range notes {
				log.Info("Note", log.Field().Uint8("key", n.Key), log.Field().Uint8("velocity", n.Velocity))
			}
		},
		ErrorOccurred: func(err error) {
			log.Error("Playback error", log.Field().Error("error", err))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Playing... Press Ctrl+C to stop.")
	if err := p.Play(ctx); err != nil && ctx.Err() == nil {
		log.Error("Playback failed", log.Field().Error("error", err))
	}
}
