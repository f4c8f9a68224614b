// Command midiplay plays a demo song to a MIDI output device and controls
// the playback from the terminal.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/leandrodaf/midiplayback/internal/logger"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/midi"
	"github.com/leandrodaf/midiplayback/sdk/playback"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	"go.uber.org/multierr"
)

type config struct {
	list    bool
	device  int
	driver  bool
	bpm     float64
	loop    bool
	policy  string
	logFile string
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("midiplay", flag.ContinueOnError)
	fs.BoolVar(&cfg.list, "list", false, "list output devices and exit")
	fs.IntVar(&cfg.device, "device", 0, "index of the output device")
	fs.BoolVar(&cfg.driver, "driver", false, "use the registered gomidi driver instead of the native client")
	fs.Float64Var(&cfg.bpm, "bpm", 110, "initial tempo of the demo song")
	fs.BoolVar(&cfg.loop, "loop", false, "restart at the end")
	fs.StringVar(&cfg.policy, "policy", contracts.Interrupt.String(), "note stop policy: interrupt, hold or split")
	fs.StringVar(&cfg.logFile, "log", "", "write logs to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.bpm <= 0 {
		return config{}, fmt.Errorf("invalid -bpm %v", cfg.bpm)
	}
	return cfg, nil
}

func parsePolicy(s string) (contracts.NoteStopPolicy, error) {
	for _, p := range []contracts.NoteStopPolicy{contracts.Interrupt, contracts.Hold, contracts.Split} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown note stop policy %q", s)
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err == nil {
		err = run(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "midiplay: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) (err error) {
	policy, err := parsePolicy(cfg.policy)
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs only go to a file.
	log := logger.NewNopLogger()
	clientOpts := []contracts.Option{contracts.WithLogger(log)}
	if cfg.logFile != "" {
		log = logger.NewZapLogger()
		clientOpts = []contracts.Option{contracts.WithLogger(log), contracts.WithLogFile(cfg.logFile)}
	}

	newClient := midi.NewOutputClient
	if cfg.driver {
		newClient = midi.NewDriverOutputClient
	}
	client, err := newClient(clientOpts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, client.Close()) }()

	devices, err := client.ListDevices()
	if err != nil {
		return err
	}
	if cfg.list {
		for _, d := range devices {
			fmt.Println(d)
		}
		return nil
	}
	if err := client.SelectDevice(cfg.device); err != nil {
		return err
	}

	evts, tempoMap, err := demoSong(cfg.bpm)
	if err != nil {
		return err
	}
	p, err := playback.New(evts, tempoMap,
		contracts.WithPlaybackLogger(log),
		contracts.WithOutputDevice(client),
		contracts.WithLoop(cfg.loop),
		contracts.WithNoteStopPolicy(policy),
		contracts.WithTracking(contracts.TrackingOptions{Notes: true, ControlValues: true, Program: true, PitchValue: true}),
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	b := newBridge()
	p.Subscribe(b.handlers())

	w, err := playback.NewWatcher(
		playback.WithWatcherLogger(log),
		playback.WithPollingInterval(50*time.Millisecond),
		playback.WithOnlyChangedTimes(true),
		playback.WithCurrentTimeChanged(b.positions),
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, w.Close()) }()
	if err := w.AddSession(p, tempo.UnitTicks); err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	m, err := newModel(fmt.Sprintf("midiplay  %s", devices[cfg.device].Name), p, b)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
