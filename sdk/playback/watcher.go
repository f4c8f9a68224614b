package playback

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/leandrodaf/midiplayback/internal/clock"
	"github.com/leandrodaf/midiplayback/internal/logger"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
	k8sclock "k8s.io/utils/clock"
)

// DefaultPollingInterval is the watcher polling interval used when none is configured.
const DefaultPollingInterval = 100 * time.Millisecond

// ErrAlreadyWatched is returned when a playback is added to a watcher twice.
var ErrAlreadyWatched = errors.New("playback is already watched")

// CurrentTime is the position of a watched playback.
type CurrentTime struct {
	Playback *Playback
	Time     tempo.Span
}

type watcherOptions struct {
	logger        contracts.Logger
	interval      time.Duration
	generator     contracts.TickGeneratorFactory
	source        k8sclock.Clock
	onlyChanged   bool
	onTimeChanged func([]CurrentTime)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*watcherOptions)

// WithWatcherLogger sets the logger of the watcher.
func WithWatcherLogger(l contracts.Logger) WatcherOption {
	return func(o *watcherOptions) { o.logger = l }
}

// WithPollingInterval sets how often positions are polled.
func WithPollingInterval(interval time.Duration) WatcherOption {
	return func(o *watcherOptions) { o.interval = interval }
}

// WithWatcherTickGenerator sets the generator driving the polling.
func WithWatcherTickGenerator(factory contracts.TickGeneratorFactory) WatcherOption {
	return func(o *watcherOptions) { o.generator = factory }
}

// WithWatcherTimeSource replaces the wall clock, mostly for tests.
func WithWatcherTimeSource(source k8sclock.Clock) WatcherOption {
	return func(o *watcherOptions) { o.source = source }
}

// WithOnlyChangedTimes reports a playback only when its position changed
// since the previous poll.
func WithOnlyChangedTimes(only bool) WatcherOption {
	return func(o *watcherOptions) { o.onlyChanged = only }
}

// WithCurrentTimeChanged sets the handler receiving the polled positions.
func WithCurrentTimeChanged(handler func([]CurrentTime)) WatcherOption {
	return func(o *watcherOptions) { o.onTimeChanged = handler }
}

type watchedSession struct {
	playback *Playback
	unit     tempo.Unit
	last     tempo.Span
}

// Watcher periodically polls the position of registered playbacks and
// reports them in one batch per poll.
type Watcher struct {
	mu            sync.Mutex
	log           contracts.Logger
	clock         *clock.Clock
	sessions      []*watchedSession
	onlyChanged   bool
	onTimeChanged func([]CurrentTime)
}

// NewWatcher creates a stopped watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	o := &watcherOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NewZapLogger()
	}
	if o.interval == 0 {
		o.interval = DefaultPollingInterval
	}
	if o.generator == nil {
		o.generator = RegularTickGenerator
	}
	if o.source == nil {
		o.source = k8sclock.RealClock{}
	}

	w := &Watcher{log: o.logger, onlyChanged: o.onlyChanged, onTimeChanged: o.onTimeChanged}
	c, err := clock.New(o.source, o.generator(o.source), o.interval, w.Poll)
	if err != nil {
		return nil, err
	}
	w.clock = c
	return w, nil
}

// AddSession starts watching a playback, reporting its position in unit.
func (w *Watcher) AddSession(p *Playback, unit tempo.Unit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.ContainsFunc(w.sessions, func(s *watchedSession) bool { return s.playback == p }) {
		return ErrAlreadyWatched
	}
	w.sessions = append(w.sessions, &watchedSession{playback: p, unit: unit})
	return nil
}

// RemoveSession stops watching a playback.
func (w *Watcher) RemoveSession(p *Playback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions = slices.DeleteFunc(w.sessions, func(s *watchedSession) bool { return s.playback == p })
}

// Sessions returns the watched playbacks in the order they were added.
func (w *Watcher) Sessions() []*Playback {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*Playback, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s.playback)
	}
	return out
}

// SetCurrentTimeChanged replaces the handler receiving the polled positions.
func (w *Watcher) SetCurrentTimeChanged(handler func([]CurrentTime)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTimeChanged = handler
}

// Start starts polling.
func (w *Watcher) Start() error {
	return w.clock.Start()
}

// Stop stops polling.
func (w *Watcher) Stop() {
	w.clock.Stop()
}

// IsRunning reports whether the watcher is polling.
func (w *Watcher) IsRunning() bool {
	return w.clock.IsRunning()
}

// PollingInterval returns the interval between polls.
func (w *Watcher) PollingInterval() time.Duration {
	return w.clock.Interval()
}

// SetPollingInterval changes the interval between polls.
func (w *Watcher) SetPollingInterval(interval time.Duration) error {
	return w.clock.SetInterval(interval)
}

// Poll reads the position of every watched playback and reports them. Closed
// playbacks are dropped from the watch list.
func (w *Watcher) Poll() {
	w.mu.Lock()
	var batch []CurrentTime
	live := w.sessions[:0]
	for _, s := range w.sessions {
		if s.playback.closed.Load() {
			continue
		}
		live = append(live, s)

		t, err := s.playback.GetCurrentTime(s.unit)
		if err != nil {
			w.log.Warn("Failed to read playback position", w.log.Field().Error("error", err))
			continue
		}
		if w.onlyChanged && s.last != nil && s.last == t {
			continue
		}
		s.last = t
		batch = append(batch, CurrentTime{Playback: s.playback, Time: t})
	}
	clear(w.sessions[len(live):])
	w.sessions = live
	handler := w.onTimeChanged
	w.mu.Unlock()

	if handler != nil && len(batch) > 0 {
		handler(batch)
	}
}

// Close stops polling and releases the tick generator.
func (w *Watcher) Close() error {
	return w.clock.Close()
}
