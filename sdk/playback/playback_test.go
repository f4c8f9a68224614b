package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leandrodaf/midiplayback/internal/logger"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type sentMessage struct {
	msg midi.Message
	at  time.Duration
}

// recorder is an output device capturing what it is sent.
type recorder struct {
	mu       sync.Mutex
	source   *clocktesting.FakeClock
	sent     []sentMessage
	prepared int
	failWith func(midi.Message) error
}

func (r *recorder) PrepareForEventsSending() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepared++
	return nil
}

func (r *recorder) SendEvent(msg midi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		if err := r.failWith(msg); err != nil {
			return err
		}
	}
	r.sent = append(r.sent, sentMessage{msg: msg, at: r.source.Since(epoch)})
	return nil
}

func (r *recorder) messages() []midi.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]midi.Message, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.msg)
	}
	return out
}

func (r *recorder) times() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.at)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type harness struct {
	t      *testing.T
	p      *Playback
	source *clocktesting.FakeClock
	device *recorder
}

// newHarness creates a manually ticked playback where one tick lasts one
// millisecond of metric time.
func newHarness(t *testing.T, evts []events.TimedEvent, opts ...contracts.PlaybackOption) *harness {
	t.Helper()

	source := clocktesting.NewFakeClock(epoch)
	device := &recorder{source: source}
	tempoMap, err := tempo.NewMap(smf.MetricTicks(500))
	require.NoError(t, err)

	base := []contracts.PlaybackOption{
		contracts.WithPlaybackLogger(logger.NewNopLogger()),
		contracts.WithTickGenerator(ManualTickGenerator),
		contracts.WithTimeSource(source),
		contracts.WithOutputDevice(device),
	}
	p, err := New(evts, tempoMap, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return &harness{t: t, p: p, source: source, device: device}
}

// advance moves wall time forward and delivers one tick.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.source.Step(d)
	require.NoError(h.t, h.p.TickClock())
}

func (h *harness) tick() int64 {
	h.t.Helper()
	span, err := h.p.GetCurrentTime(tempo.UnitTicks)
	require.NoError(h.t, err)
	return int64(span.(tempo.Ticks))
}

type signals struct {
	mu                                   sync.Mutex
	started, stopped, finished, repeated int
	played                               []events.TimedEvent
	notesStarted, notesFinished          []events.Note
	errs                                 []error
}

func (s *signals) handlers() Handlers {
	count := func(n *int) func() {
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			*n++
		}
	}
	return Handlers{
		Started:       count(&s.started),
		Stopped:       count(&s.stopped),
		Finished:      count(&s.finished),
		RepeatStarted: count(&s.repeated),
		EventPlayed: func(e events.TimedEvent) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.played = append(s.played, e)
		},
		NotesPlaybackStarted: func(n []events.Note) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.notesStarted = append(s.notesStarted, n...)
		},
		NotesPlaybackFinished: func(n []events.Note) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.notesFinished = append(s.notesFinished, n...)
		},
		ErrorOccurred: func(err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.errs = append(s.errs, err)
		},
	}
}

func TestInterruptOnStopAndResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(500, midi.NoteOff(0, 60)),
	}, contracts.WithNoteStopPolicy(contracts.Interrupt))
	var s signals
	h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Start())
	h.advance(250 * time.Millisecond)
	require.NoError(t, h.p.Stop())

	h.source.Step(100 * time.Millisecond)
	require.NoError(t, h.p.Start())
	require.Equal(t, int64(250), h.tick())

	h.advance(250 * time.Millisecond)

	require.Equal(t, []midi.Message{
		midi.NoteOn(0, 60, 100),
		events.NoteOffMessage(0, 60, 0),
		events.NoteOffMessage(0, 60, 0),
	}, h.device.messages())
	require.Equal(t, []time.Duration{0, 250 * time.Millisecond, 600 * time.Millisecond}, h.device.times())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 2, s.started)
	require.Equal(t, 1, s.stopped)
	require.Equal(t, 1, s.finished)
	require.Len(t, s.notesStarted, 1)
	require.Len(t, s.notesFinished, 1, "the note is reported finished once, at the interrupt")
	require.False(t, h.p.IsRunning())
}

func TestControlValueReplayedAfterMoveToStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 100, 70)),
		events.At(2000, midi.NoteOff(0, 60)),
	})

	require.NoError(t, h.p.Start())
	h.advance(500 * time.Millisecond)
	require.NoError(t, h.p.Stop())
	require.NoError(t, h.p.MoveToStart())
	h.device.reset()

	require.NoError(t, h.p.Start())
	require.Empty(t, h.device.messages(), "the controller event at the target replays the value")
	h.advance(0)
	require.Equal(t, []midi.Message{midi.ControlChange(0, 100, 70)}, h.device.messages())

	h.advance(2 * time.Second)
	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 100, 70),
		events.NoteOffMessage(0, 60, 0),
	}, h.device.messages())
	require.Equal(t, 2*time.Second+500*time.Millisecond, h.device.times()[1])
}

func TestForwardSeekSendsSustainedState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(100, midi.ProgramChange(1, 12)),
		events.At(150, midi.ControlChange(0, 7, 90)),
		events.At(200, midi.Pitchbend(2, 1000)),
		events.At(250, midi.NoteOn(0, 64, 80)),
		events.At(800, midi.NoteOff(0, 64)),
		events.At(1000, midi.ControlChange(0, 7, 10)),
	})

	require.NoError(t, h.p.Start())
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(500)))
	require.Equal(t, []midi.Message{
		midi.ProgramChange(1, 12),
		midi.Pitchbend(2, 1000),
		midi.ControlChange(0, 7, 90),
	}, h.device.messages(), "notes are not restarted unless tracked")

	h.device.reset()
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(50)))
	require.Equal(t, []midi.Message{
		midi.ProgramChange(1, 0),
		midi.Pitchbend(2, 0),
		midi.ControlChange(0, 7, 0),
	}, h.device.messages(), "a backward seek restores the defaults")
}

func TestTrackedNotesRestartAfterSeek(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(400, midi.NoteOff(0, 60)),
		events.At(600, midi.NoteOn(0, 62, 90)),
		events.At(900, midi.NoteOff(0, 62)),
	}, contracts.WithTracking(contracts.TrackingOptions{Notes: true}))
	var s signals
	h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Start())
	h.advance(100 * time.Millisecond)
	h.device.reset()

	require.NoError(t, h.p.MoveToTime(tempo.Ticks(700)))
	require.Equal(t, []midi.Message{
		events.NoteOffMessage(0, 60, 0),
		midi.NoteOn(0, 62, 90),
	}, h.device.messages())

	h.device.reset()
	h.advance(200 * time.Millisecond)
	require.Equal(t, []midi.Message{events.NoteOffMessage(0, 62, 0)}, h.device.messages())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.notesStarted, 2)
	require.Len(t, s.notesFinished, 2)
}

func TestHoldKeepsNotesSounding(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(500, midi.NoteOff(0, 60)),
		events.At(1000, midi.ControlChange(0, 1, 1)),
	}, contracts.WithNoteStopPolicy(contracts.Hold))

	require.NoError(t, h.p.Start())
	h.advance(200 * time.Millisecond)
	require.NoError(t, h.p.Stop())
	require.Equal(t, []midi.Message{midi.NoteOn(0, 60, 100)}, h.device.messages())

	require.NoError(t, h.p.Start())
	require.Len(t, h.device.messages(), 1, "a held note is still logically on when resuming in place")

	require.NoError(t, h.p.Stop())
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(600)))
	require.NoError(t, h.p.Start())
	require.Equal(t, events.NoteOffMessage(0, 60, 0), h.device.messages()[1], "a held note past its end is stopped on resume")
}

func TestSplitRestartsNotesOnResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(500, midi.NoteOff(0, 60)),
	}, contracts.WithNoteStopPolicy(contracts.Split), contracts.WithSplitRestartVelocity(40))
	var s signals
	h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Start())
	h.advance(200 * time.Millisecond)
	require.NoError(t, h.p.Stop())
	require.NoError(t, h.p.Start())
	h.advance(300 * time.Millisecond)

	require.Equal(t, []midi.Message{
		midi.NoteOn(0, 60, 100),
		events.NoteOffMessage(0, 60, 0),
		midi.NoteOn(0, 60, 40),
		events.NoteOffMessage(0, 60, 0),
	}, h.device.messages())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.notesStarted, 1, "a split note keeps its identity")
	require.Len(t, s.notesFinished, 1)
}

func TestLoopRepeatsUntilDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(100, midi.NoteOff(0, 60)),
	}, contracts.WithLoop(true))
	var s signals
	h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Start())
	for range 3 {
		h.advance(100 * time.Millisecond)
	}
	require.True(t, h.p.IsRunning())

	h.p.SetLoop(false)
	h.advance(100 * time.Millisecond)
	require.False(t, h.p.IsRunning())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 3, s.repeated, "four passes repeat three times")
	require.Equal(t, 1, s.finished)
	require.Len(t, h.device.messages(), 8)
}

func TestSpeedScalesWallTime(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(1000, midi.ControlChange(0, 1, 1)),
		events.At(2000, midi.ControlChange(0, 1, 2)),
	}, contracts.WithSpeed(2))

	require.NoError(t, h.p.Start())
	h.advance(500 * time.Millisecond)
	require.Len(t, h.device.messages(), 1)

	require.NoError(t, h.p.SetSpeed(0.5))
	h.advance(1000 * time.Millisecond)
	require.Len(t, h.device.messages(), 1, "speed changes do not apply retroactively")
	h.advance(1000 * time.Millisecond)
	require.Len(t, h.device.messages(), 2)

	require.Error(t, h.p.SetSpeed(0))
	require.Error(t, h.p.SetSpeed(-1))
}

func TestPlaybackBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(100, midi.ControlChange(0, 1, 2)),
		events.At(200, midi.ControlChange(0, 1, 3)),
		events.At(300, midi.ControlChange(0, 1, 4)),
	}, contracts.WithTracking(contracts.TrackingOptions{}))

	require.NoError(t, h.p.SetPlaybackStart(tempo.Ticks(100)))
	require.NoError(t, h.p.SetPlaybackEnd(tempo.Ticks(300)))
	require.ErrorIs(t, h.p.SetPlaybackEnd(tempo.Ticks(50)), ErrInvalidBounds)

	require.NoError(t, h.p.Start())
	require.Equal(t, int64(100), h.tick())
	h.advance(time.Second)

	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 1, 2),
		midi.ControlChange(0, 1, 3),
	}, h.device.messages(), "events at the end are not played")
	require.False(t, h.p.IsRunning())

	require.NoError(t, h.p.Start())
	require.Equal(t, int64(100), h.tick(), "a finished playback starts over")
}

func TestNoteCallbackDecisionAppliesToNoteOff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(0, midi.NoteOn(0, 61, 100)),
		events.At(100, midi.NoteOff(0, 60)),
		events.At(100, midi.NoteOff(0, 61)),
	})
	h.p.SetNoteCallback(func(n events.Note, rawTick int64, _ time.Duration) NoteResult {
		require.Equal(t, int64(0), rawTick)
		if n.Key == 61 {
			return SkipNote()
		}
		n.Key += 12
		return ReplaceNote(n)
	})

	require.NoError(t, h.p.Start())
	h.advance(100 * time.Millisecond)

	require.Equal(t, []midi.Message{
		midi.NoteOn(0, 72, 100),
		events.NoteOffMessage(0, 72, 0),
	}, h.device.messages())
}

func TestEventCallbackReplacesAndSkips(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 10)),
		events.At(0, midi.ControlChange(0, 2, 20)),
		events.At(0, midi.ProgramChange(0, 3)),
	})
	var s signals
	h.p.Subscribe(s.handlers())
	h.p.SetEventCallback(func(e events.TimedEvent, _ int64, _ time.Duration) EventResult {
		d := events.Decode(e.Message)
		switch {
		case d.Kind == events.ProgramChange:
			return SkipEvent()
		case d.Number == 2:
			return ReplaceEvent(midi.ControlChange(0, 2, 99))
		default:
			return KeepEvent()
		}
	})

	require.NoError(t, h.p.Start())
	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 1, 10),
		midi.ControlChange(0, 2, 99),
	}, h.device.messages())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.played, 2)
	require.Equal(t, midi.ControlChange(0, 2, 99), s.played[1].Message)
}

func TestDeviceFaultStopsPlayback(t *testing.T) {
	t.Parallel()

	boom := errors.New("device unplugged")
	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(0, midi.ControlChange(0, 2, 2)),
		events.At(0, midi.ControlChange(0, 3, 3)),
	})
	h.device.failWith = func(msg midi.Message) error {
		if events.Decode(msg).Number == 2 {
			return boom
		}
		return nil
	}
	var s signals
	h.p.Subscribe(s.handlers())

	err := h.p.Play(context.Background())
	require.ErrorIs(t, err, boom)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	require.Equal(t, SiteOutputDevice, dispatchErr.Site)
	require.False(t, h.p.IsRunning())
	require.Len(t, h.device.messages(), 1)

	h.device.failWith = nil
	require.NoError(t, h.p.Start())
	require.Len(t, h.device.messages(), 1, "the faulted event is consumed")
	h.advance(0)
	require.Equal(t, midi.ControlChange(0, 3, 3), h.device.messages()[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.errs, 1)
}

func TestCallbackPanicBecomesError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{events.At(0, midi.ControlChange(0, 1, 1))})
	h.p.SetEventCallback(func(events.TimedEvent, int64, time.Duration) EventResult {
		panic("bad callback")
	})

	err := h.p.Play(context.Background())
	require.ErrorIs(t, err, ErrCallbackPanic)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	require.Equal(t, SiteEventCallback, dispatchErr.Site)
	require.Empty(t, h.device.messages())
}

func TestHandlersMayControlPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(100, midi.ControlChange(0, 1, 2)),
	})
	h.p.Subscribe(Handlers{
		EventPlayed: func(events.TimedEvent) { require.NoError(t, h.p.Stop()) },
	})

	require.NoError(t, h.p.Start())
	require.False(t, h.p.IsRunning())
	require.Len(t, h.device.messages(), 1)
}

func TestHandlerPanicIsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{events.At(0, midi.ControlChange(0, 1, 1))})
	var s signals
	h.p.Subscribe(Handlers{Started: func() { panic("handler failed") }})
	unsubscribe := h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Start())

	s.mu.Lock()
	require.Len(t, s.errs, 1)
	require.ErrorIs(t, s.errs[0], ErrCallbackPanic)
	require.Len(t, s.played, 1)
	s.mu.Unlock()

	unsubscribe()
	require.NoError(t, h.p.Stop())
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Zero(t, s.stopped)
}

func TestPlayReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{events.At(1000, midi.ControlChange(0, 1, 1))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, h.p.Play(ctx), context.Canceled)
	require.False(t, h.p.IsRunning())
}

func TestTickGeneratorHotSwap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{events.At(10_000, midi.ControlChange(0, 1, 1))})

	require.NoError(t, h.p.Start())
	h.advance(300 * time.Millisecond)

	require.NoError(t, h.p.SetTickGenerator(RegularTickGenerator))
	require.True(t, h.p.IsRunning())
	require.Equal(t, int64(300), h.tick())
	require.ErrorIs(t, h.p.TickClock(), ErrClockNotManual)

	require.NoError(t, h.p.SetTickGenerator(ManualTickGenerator))
	h.advance(200 * time.Millisecond)
	require.Equal(t, int64(500), h.tick())
	require.True(t, h.p.IsRunning())
}

func TestClosedPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.NoteOn(0, 60, 100)),
		events.At(500, midi.NoteOff(0, 60)),
	})
	require.NoError(t, h.p.Start())
	require.NoError(t, h.p.Close())
	require.NoError(t, h.p.Close())

	require.Equal(t, events.NoteOffMessage(0, 60, 0), h.device.messages()[1], "closing silences sounding notes")
	require.ErrorIs(t, h.p.Start(), ErrClosed)
	require.ErrorIs(t, h.p.Stop(), ErrClosed)
	require.ErrorIs(t, h.p.TickClock(), ErrClosed)
	require.ErrorIs(t, h.p.MoveToStart(), ErrClosed)
}

func TestDurationAndUnits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{events.At(2000, midi.ControlChange(0, 1, 1))})

	d, err := h.p.GetDuration(tempo.UnitMetric)
	require.NoError(t, err)
	require.Equal(t, tempo.Metric(2*time.Second), d)

	d, err = h.p.GetDuration(tempo.UnitBarBeat)
	require.NoError(t, err)
	require.Equal(t, tempo.BarBeat{Bars: 1}, d)

	require.NoError(t, h.p.MoveForward(tempo.Musical{Num: 1, Den: 4}))
	require.Equal(t, int64(500), h.tick())
	require.NoError(t, h.p.MoveBack(tempo.Metric(time.Second)))
	require.Equal(t, int64(0), h.tick())
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(99_999)))
	require.Equal(t, int64(2000), h.tick(), "moves are clamped to the duration")
}

func TestInvalidOptions(t *testing.T) {
	t.Parallel()

	tempoMap, err := tempo.NewMap(smf.MetricTicks(96))
	require.NoError(t, err)

	_, err = New(nil, nil)
	require.ErrorIs(t, err, ErrNilTempoMap)

	_, err = New(nil, tempoMap, contracts.WithPlaybackLogger(logger.NewNopLogger()), contracts.WithSpeed(-1))
	require.Error(t, err)

	_, err = New(nil, tempoMap, contracts.WithPlaybackLogger(logger.NewNopLogger()), contracts.WithClockInterval(-time.Second))
	require.Error(t, err)
}

func TestEmptySequenceFinishesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var s signals
	h.p.Subscribe(s.handlers())

	require.NoError(t, h.p.Play(context.Background()))
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, s.finished)
}

func TestTrackingTogglesResyncWhileRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(100, midi.ControlChange(0, 7, 90)),
		events.At(300, midi.NoteOn(0, 60, 100)),
		events.At(900, midi.NoteOff(0, 60)),
	})
	require.False(t, h.p.TrackNotes())
	require.True(t, h.p.TrackProgram())
	require.True(t, h.p.TrackPitchValue())
	require.NoError(t, h.p.SetTrackControlValue(false))

	require.NoError(t, h.p.Start())
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(500)))
	require.Empty(t, h.device.messages())
	require.Equal(t, int64(500), h.p.CurrentTick())
	require.Equal(t, int64(900), h.p.DurationTicks())

	require.NoError(t, h.p.SetTrackControlValue(true))
	require.NoError(t, h.p.SetTrackNotes(true))
	require.True(t, h.p.TrackControlValue())
	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 7, 90),
		midi.NoteOn(0, 60, 100),
	}, h.device.messages())

	h.device.reset()
	h.advance(400 * time.Millisecond)
	require.Equal(t, []midi.Message{events.NoteOffMessage(0, 60, 0)}, h.device.messages())
}

func TestStopPolicyAccessors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.True(t, h.p.InterruptNotesOnStop())
	h.p.SetInterruptNotesOnStop(false)
	require.Equal(t, contracts.Hold, h.p.NoteStopPolicy())
	h.p.SetNoteStopPolicy(contracts.Split)
	require.False(t, h.p.InterruptNotesOnStop())
	h.p.SetInterruptNotesOnStop(true)
	require.Equal(t, contracts.Interrupt, h.p.NoteStopPolicy())

	require.Zero(t, h.p.SplitRestartVelocity())
	h.p.SetSplitRestartVelocity(64)
	require.Equal(t, uint8(64), h.p.SplitRestartVelocity())
}

func TestCallbacksMayReadPosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(100, midi.NoteOn(0, 60, 100)),
		events.At(200, midi.NoteOff(0, 60)),
	})
	require.NoError(t, h.p.SetPlaybackEnd(tempo.Ticks(150)))

	position := func() int64 {
		span, err := h.p.GetCurrentTime(tempo.UnitTicks)
		if err != nil {
			return -1
		}
		return int64(span.(tempo.Ticks))
	}
	var eventTicks, noteTicks []int64
	h.p.SetEventCallback(func(events.TimedEvent, int64, time.Duration) EventResult {
		eventTicks = append(eventTicks, position())
		return KeepEvent()
	})
	h.p.SetNoteCallback(func(events.Note, int64, time.Duration) NoteResult {
		noteTicks = append(noteTicks, position())
		return KeepNote()
	})

	done := make(chan error, 1)
	go func() {
		err := h.p.Start()
		if err == nil {
			h.source.Step(0)
			err = h.p.TickClock()
		}
		if err == nil {
			h.source.Step(100 * time.Millisecond)
			err = h.p.TickClock()
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reading the position from a callback blocked the playback")
	}
	require.Equal(t, []int64{0}, eventTicks)
	require.Equal(t, []int64{100}, noteTicks)

	require.NoError(t, h.p.Stop())
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(400)))
	require.Equal(t, int64(150), h.tick(), "the position stops at the playback end")
	require.NoError(t, h.p.SetPlaybackEnd(nil))
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(400)))
	require.Equal(t, int64(200), h.tick())
}

func TestOutputDeviceSwapWhileRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 10)),
		events.At(100, midi.NoteOn(0, 60, 100)),
		events.At(100, midi.ControlChange(0, 1, 20)),
		events.At(200, midi.ControlChange(0, 1, 30)),
		events.At(300, midi.NoteOff(0, 60)),
		events.At(300, midi.ControlChange(0, 1, 40)),
	})
	first := h.device
	second := &recorder{source: h.source}

	require.NoError(t, h.p.Start())
	h.advance(0)
	h.advance(100 * time.Millisecond)

	h.p.SetOutputDevice(second)
	require.Same(t, second, h.p.OutputDevice())

	h.advance(100 * time.Millisecond)
	h.advance(100 * time.Millisecond)

	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 1, 10),
		midi.NoteOn(0, 60, 100),
		midi.ControlChange(0, 1, 20),
	}, first.messages())
	require.Equal(t, []midi.Message{
		midi.ControlChange(0, 1, 30),
		events.NoteOffMessage(0, 60, 0),
		midi.ControlChange(0, 1, 40),
	}, second.messages())
	require.Equal(t, []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}, second.times())
}

func TestHugeStepsClampToBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(800, midi.ControlChange(0, 1, 2)),
	})
	require.NoError(t, h.p.MoveToTime(tempo.Ticks(100)))

	require.NoError(t, h.p.MoveForward(tempo.Ticks(math.MaxInt64)))
	require.Equal(t, int64(800), h.tick())
	require.NoError(t, h.p.MoveBack(tempo.Ticks(math.MaxInt64)))
	require.Equal(t, int64(0), h.tick())
}

func TestCallbackMayChangeSpeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []events.TimedEvent{
		events.At(0, midi.ControlChange(0, 1, 1)),
		events.At(1000, midi.ControlChange(0, 1, 2)),
	})
	h.p.SetEventCallback(func(e events.TimedEvent, _ int64, _ time.Duration) EventResult {
		if e.Tick == 0 {
			_ = h.p.SetSpeed(2)
		}
		return KeepEvent()
	})

	require.NoError(t, h.p.Start())
	h.advance(0)
	require.Equal(t, 2.0, h.p.Speed())

	h.advance(100 * time.Millisecond)
	require.Equal(t, int64(200), h.tick())
}
