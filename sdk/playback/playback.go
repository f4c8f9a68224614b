// Package playback plays a sorted MIDI event sequence to an output device in
// real time. It supports seeking, looping, speed changes, sustained state
// recovery after jumps, snap points and hot-swapping of the tick generator.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midiplayback/internal/clock"
	"github.com/leandrodaf/midiplayback/internal/timeline"
	"github.com/leandrodaf/midiplayback/internal/tracker"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	"go.uber.org/multierr"
	k8sclock "k8s.io/utils/clock"
)

// decision remembers how a note was played at its note-on, so that the
// note-off follows it. A note has a decision while it is logically sounding.
type decision struct {
	skipped bool
	played  events.Note
}

// run is one Running period, from Start to the stop that ends it.
type run struct {
	done chan struct{}
	err  error
}

// Playback plays events to an output device. All methods are safe for
// concurrent use.
type Playback struct {
	mu sync.Mutex

	log      contracts.Logger
	tempoMap *tempo.Map
	events   []events.TimedEvent
	notes    []events.Note
	noteOn   map[int]int // event index of a note-on to note index
	noteOff  map[int]int // event index of a note-off to note index
	duration int64

	timeline  *timeline.Timeline
	tracker   *tracker.Tracker
	clock     *clock.Clock
	source    k8sclock.Clock
	output    contracts.OutputDevice
	snapping  *Snapping
	decisions map[int]decision
	split     []events.Note

	kinds                  tracker.Kinds
	loop                   bool
	stopPolicy             contracts.NoteStopPolicy
	splitVelocity          uint8
	sendNoteOnForActive    bool
	sendNoteOffForInactive bool
	eventCallback          EventCallback
	noteCallback           NoteCallback

	startTick, endTick int64
	hasStart, hasEnd   bool
	limit              atomic.Int64 // largest reportable tick, read without mu

	started     bool
	finished    bool
	current     *run
	closed      atomic.Bool
	dispatching atomic.Bool
	pending     []notification

	handlersMu       sync.Mutex
	subscriptions    []subscription
	nextSubscription uint64
}

// New creates a stopped playback of evts, positioned at tick 0. The events
// are sorted by tick, keeping the order of events sharing a tick, and are
// never modified afterwards.
func New(evts []events.TimedEvent, tempoMap *tempo.Map, opts ...contracts.PlaybackOption) (*Playback, error) {
	if tempoMap == nil {
		return nil, ErrNilTempoMap
	}
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	sorted := events.Sorted(evts)
	notes := options.NoteDetector.Detect(sorted)

	p := &Playback{
		log:                    options.Logger,
		tempoMap:               tempoMap,
		events:                 sorted,
		notes:                  notes,
		noteOn:                 make(map[int]int, len(notes)),
		noteOff:                make(map[int]int, len(notes)),
		timeline:               timeline.New(sorted),
		tracker:                tracker.New(sorted, notes),
		source:                 options.TimeSource,
		output:                 options.OutputDevice,
		decisions:              make(map[int]decision),
		kinds:                  trackedKinds(*options.Tracking),
		loop:                   options.Loop,
		stopPolicy:             options.NoteStopPolicy,
		splitVelocity:          options.SplitRestartVelocity,
		sendNoteOffForInactive: true,
	}
	p.duration = p.timeline.LastTick()
	p.limit.Store(p.duration)
	p.indexNotes()

	p.clock, err = clock.New(options.TimeSource, options.TickGenerator(options.TimeSource), options.ClockInterval, p.onTick)
	if err != nil {
		return nil, err
	}
	if err := p.clock.SetSpeed(options.Speed); err != nil {
		return nil, multierr.Append(err, p.clock.Close())
	}
	p.snapping = newSnapping(tempoMap, p.duration, notes)

	p.log.Debug("Playback created",
		p.log.Field().Int("events", len(sorted)),
		p.log.Field().Int("notes", len(notes)),
		p.log.Field().Int64("duration", p.duration))
	return p, nil
}

// indexNotes maps note-on and note-off event positions to notes. Entries a
// custom detector gets wrong are left out and played as plain events.
func (p *Playback) indexNotes() {
	for i, n := range p.notes {
		if n.OnIndex >= 0 && n.OnIndex < len(p.events) {
			p.noteOn[n.OnIndex] = i
		}
		if n.OffIndex >= 0 && n.OffIndex < len(p.events) {
			p.noteOff[n.OffIndex] = i
		}
	}
}

// Start starts or resumes playback from the current position. Before the
// first event is played, the sustained state at the position is sent to the
// device. Starting a running playback does nothing.
func (p *Playback) Start() error {
	_, err := p.start()
	return err
}

func (p *Playback) start() (*run, error) {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	if p.closed.Load() {
		return nil, ErrClosed
	}
	if p.clock.IsRunning() {
		return p.current, nil
	}

	if !p.started && p.hasStart {
		p.seekLocked(p.startTick)
	}
	if p.finished {
		p.seekLocked(p.firstTickLocked())
	}
	if p.output != nil {
		if err := p.output.PrepareForEventsSending(); err != nil {
			return nil, fmt.Errorf("prepare output device: %w", err)
		}
	}

	var started, finished []events.Note
	err := p.restartSplitNotes()
	if err == nil {
		err = p.resync(p.currentTickLocked(), p.kinds, &started, &finished)
	}
	p.emitNotes(started, finished)
	if err != nil {
		p.log.Error("Failed to restore playback state", p.log.Field().Error("error", err))
		p.emitError(err)
		return nil, err
	}

	if err := p.clock.Start(); err != nil {
		p.log.Error("Failed to start playback clock", p.log.Field().Error("error", err))
		return nil, err
	}

	r := &run{done: make(chan struct{})}
	p.current = r
	p.log.Info("Playback started", p.log.Field().Int64("tick", p.currentTickLocked()))
	p.emitSignal(func(h Handlers) func() { return h.Started })

	if !p.started {
		p.started = true
		p.dispatchLocked()
	}
	return r, nil
}

// Stop pauses playback, keeping the position. Sounding notes are handled
// according to the note stop policy. Stopping a stopped playback does nothing.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	if p.closed.Load() {
		return ErrClosed
	}
	if !p.clock.IsRunning() {
		return nil
	}
	p.stopLocked(p.stopPolicy)
	p.log.Info("Playback stopped", p.log.Field().Int64("tick", p.currentTickLocked()))
	p.emitSignal(func(h Handlers) func() { return h.Stopped })
	p.endRun(nil)
	return nil
}

// stopLocked stops the clock and applies policy to sounding notes. Failures
// to silence notes are reported and do not prevent the stop.
func (p *Playback) stopLocked(policy contracts.NoteStopPolicy) {
	p.clock.Stop()

	switch policy {
	case contracts.Hold:
		return
	case contracts.Split:
		p.split = p.tracker.ActiveNotes()
	}

	var finished []events.Note
	for _, n := range p.tracker.ActiveNotes() {
		if err := p.send(n.OffMessage()); err != nil {
			p.log.Warn("Failed to silence note", p.log.Field().Uint8("key", n.Key), p.log.Field().Error("error", err))
			p.emitError(&DispatchError{Site: SiteOutputDevice, Event: events.At(p.currentTickLocked(), n.OffMessage()), Err: err})
			continue
		}
		p.tracker.NoteFinished(n.ID())
		if policy != contracts.Split {
			finished = append(finished, n)
		}
	}
	p.emitNotes(nil, finished)
}

// restartSplitNotes starts again the notes split by the last stop that are
// still logically sounding.
func (p *Playback) restartSplitNotes() error {
	split := p.split
	p.split = nil

	for _, n := range split {
		if !p.isLive(n) {
			continue
		}
		if _, sounding := p.tracker.ActiveNote(n.ID()); sounding {
			continue
		}
		restart := n
		if p.splitVelocity > 0 {
			restart.Velocity = p.splitVelocity
		}
		if err := p.send(restart.OnMessage()); err != nil {
			return &DispatchError{Site: SiteOutputDevice, Event: events.At(p.currentTickLocked(), restart.OnMessage()), Err: err}
		}
		p.tracker.NoteStarted(restart)
	}
	return nil
}

// Play starts playback and blocks until it stops, finishes or faults, or ctx
// is done. It returns the fault that stopped playback, if any.
func (p *Playback) Play(ctx context.Context) error {
	r, err := p.start()
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		if err := p.Stop(); err != nil && !errors.Is(err, ErrClosed) {
			return multierr.Append(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

// endRun completes the current Running period.
func (p *Playback) endRun(err error) {
	if p.current == nil {
		return
	}
	p.current.err = err
	close(p.current.done)
	p.current = nil
}

// fail stops playback after a dispatch fault.
func (p *Playback) fail(err error) {
	p.log.Error("Playback fault", p.log.Field().Error("error", err))
	p.stopLocked(p.stopPolicy)
	p.emitError(err)
	p.emitSignal(func(h Handlers) func() { return h.Stopped })
	p.endRun(err)
}

// Close stops playback and releases the clock. A tick in progress stops
// before its next event. Close must not be called from a handler running on
// the tick goroutine.
func (p *Playback) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	if p.clock.IsRunning() {
		p.stopLocked(p.stopPolicy)
		p.emitSignal(func(h Handlers) func() { return h.Stopped })
	}
	p.endRun(nil)
	p.unlockAndDeliver()

	p.log.Debug("Playback closed")
	return p.clock.Close()
}

// TickClock advances a playback driven by the manual tick generator by one
// tick. Events due at the current clock position are played synchronously.
func (p *Playback) TickClock() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.clock.IsManual() {
		return ErrClockNotManual
	}
	p.clock.Tick()
	return nil
}

// SetTickGenerator replaces the tick generator without changing the position
// or the running state. The previous generator is closed.
func (p *Playback) SetTickGenerator(factory contracts.TickGeneratorFactory) error {
	if p.closed.Load() {
		return ErrClosed
	}
	g := factory(p.source)
	old, err := p.clock.SetGenerator(g)
	if err != nil {
		return multierr.Append(err, g.Close())
	}
	p.log.Debug("Tick generator replaced")
	return old.Close()
}

// IsRunning reports whether playback is running.
func (p *Playback) IsRunning() bool {
	return p.clock.IsRunning()
}

// Speed returns the speed multiplier.
func (p *Playback) Speed() float64 {
	return p.clock.Speed()
}

// SetSpeed changes the speed multiplier. The position already reached is kept.
// Only the clock holds the speed, so the clock's own lock covers it.
func (p *Playback) SetSpeed(speed float64) error {
	return p.clock.SetSpeed(speed)
}

// ClockInterval returns the interval between ticks.
func (p *Playback) ClockInterval() time.Duration {
	return p.clock.Interval()
}

// SetClockInterval changes the interval between ticks. Only the clock holds
// the interval, so the clock's own lock covers it.
func (p *Playback) SetClockInterval(interval time.Duration) error {
	return p.clock.SetInterval(interval)
}

// Loop reports whether playback restarts at the end.
func (p *Playback) Loop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

// SetLoop enables or disables looping.
func (p *Playback) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = loop
}

// OutputDevice returns the device events are sent to, or nil.
func (p *Playback) OutputDevice() contracts.OutputDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// SetOutputDevice changes the device events are sent to. Nil plays silently.
// The sustained state mirrored so far is assumed to apply to the new device.
func (p *Playback) SetOutputDevice(device contracts.OutputDevice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = device
}

// NoteStopPolicy returns what happens to sounding notes on stop.
func (p *Playback) NoteStopPolicy() contracts.NoteStopPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopPolicy
}

// SetNoteStopPolicy changes what happens to sounding notes on stop.
func (p *Playback) SetNoteStopPolicy(policy contracts.NoteStopPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopPolicy = policy
}

// InterruptNotesOnStop reports whether the note stop policy is Interrupt.
func (p *Playback) InterruptNotesOnStop() bool {
	return p.NoteStopPolicy() == contracts.Interrupt
}

// SetInterruptNotesOnStop sets the note stop policy to Interrupt, or to Hold
// when interrupt is false.
func (p *Playback) SetInterruptNotesOnStop(interrupt bool) {
	if interrupt {
		p.SetNoteStopPolicy(contracts.Interrupt)
		return
	}
	p.SetNoteStopPolicy(contracts.Hold)
}

// SplitRestartVelocity returns the velocity of notes restarted by the Split
// policy. Zero means the original velocity.
func (p *Playback) SplitRestartVelocity() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.splitVelocity
}

// SetSplitRestartVelocity changes the velocity of notes restarted by the Split policy.
func (p *Playback) SetSplitRestartVelocity(velocity uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.splitVelocity = velocity
}

// SetEventCallback sets the callback deciding how non-note events are played.
func (p *Playback) SetEventCallback(cb EventCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventCallback = cb
}

// SetNoteCallback sets the callback deciding how notes are played.
func (p *Playback) SetNoteCallback(cb NoteCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noteCallback = cb
}

// SetSendNoteOnEventsForActiveNotes controls whether a note-on is sent for a
// note whose channel and key is already sounding. It is off by default.
func (p *Playback) SetSendNoteOnEventsForActiveNotes(send bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendNoteOnForActive = send
}

// SetSendNoteOffEventsForNonActiveNotes controls whether a note-off is sent
// for a note that is not sounding, such as one interrupted by a stop. It is
// on by default.
func (p *Playback) SetSendNoteOffEventsForNonActiveNotes(send bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendNoteOffForInactive = send
}

// Tracking returns which kinds of sustained state are tracked.
func (p *Playback) Tracking() contracts.TrackingOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return contracts.TrackingOptions{
		Notes:         p.kinds.Has(tracker.Notes),
		ControlValues: p.kinds.Has(tracker.ControlValues),
		Program:       p.kinds.Has(tracker.Program),
		PitchValue:    p.kinds.Has(tracker.PitchBend),
	}
}

// SetTracking changes which kinds of sustained state are tracked. Kinds
// enabled while running are brought up to date immediately.
func (p *Playback) SetTracking(t contracts.TrackingOptions) error {
	p.mu.Lock()
	defer p.unlockAndDeliver()
	return p.setKindsLocked(trackedKinds(t))
}

// TrackNotes reports whether notes spanning the position are restarted after a jump.
func (p *Playback) TrackNotes() bool { return p.tracks(tracker.Notes) }

// SetTrackNotes toggles note tracking.
func (p *Playback) SetTrackNotes(on bool) error { return p.setTracks(tracker.Notes, on) }

// TrackControlValue reports whether control values are replayed after a jump.
func (p *Playback) TrackControlValue() bool { return p.tracks(tracker.ControlValues) }

// SetTrackControlValue toggles control value tracking.
func (p *Playback) SetTrackControlValue(on bool) error { return p.setTracks(tracker.ControlValues, on) }

// TrackProgram reports whether programs are replayed after a jump.
func (p *Playback) TrackProgram() bool { return p.tracks(tracker.Program) }

// SetTrackProgram toggles program tracking.
func (p *Playback) SetTrackProgram(on bool) error { return p.setTracks(tracker.Program, on) }

// TrackPitchValue reports whether pitch bends are replayed after a jump.
func (p *Playback) TrackPitchValue() bool { return p.tracks(tracker.PitchBend) }

// SetTrackPitchValue toggles pitch bend tracking.
func (p *Playback) SetTrackPitchValue(on bool) error { return p.setTracks(tracker.PitchBend, on) }

func (p *Playback) tracks(kind tracker.Kinds) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kinds.Has(kind)
}

func (p *Playback) setTracks(kind tracker.Kinds, on bool) error {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	if on {
		return p.setKindsLocked(p.kinds | kind)
	}
	return p.setKindsLocked(p.kinds &^ kind)
}

func (p *Playback) setKindsLocked(kinds tracker.Kinds) error {
	if p.closed.Load() {
		return ErrClosed
	}
	enabled := kinds &^ p.kinds
	p.kinds = kinds
	if enabled == 0 || !p.clock.IsRunning() {
		return nil
	}

	var started, finished []events.Note
	err := p.resync(p.currentTickLocked(), enabled, &started, &finished)
	p.emitNotes(started, finished)
	if err != nil {
		p.fail(err)
	}
	return err
}

// Snapping returns the snap point registry of the playback.
func (p *Playback) Snapping() *Snapping {
	return p.snapping
}

// TempoMap returns the tempo map used for time conversions.
func (p *Playback) TempoMap() *tempo.Map {
	return p.tempoMap
}

// DurationTicks returns the tick of the last event.
func (p *Playback) DurationTicks() int64 {
	return p.duration
}

// CurrentTick returns the position in ticks.
func (p *Playback) CurrentTick() int64 {
	return p.tempoMap.FromMetric(p.clock.CurrentTime())
}

// Events returns a copy of the sorted event sequence.
func (p *Playback) Events() []events.TimedEvent {
	return append([]events.TimedEvent(nil), p.events...)
}

// Notes returns a copy of the notes detected in the sequence.
func (p *Playback) Notes() []events.Note {
	return append([]events.Note(nil), p.notes...)
}
