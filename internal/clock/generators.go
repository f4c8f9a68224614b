package clock

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	k8sclock "k8s.io/utils/clock"
)

// Error definitions for tick generators.
var (
	ErrGeneratorStart  = errors.New("failed to start tick generator")
	ErrInvalidInterval = errors.New("tick interval must be positive")
)

// spinWindow is how long before a deadline the high precision generator stops
// sleeping and starts yielding.
const spinWindow = 200 * time.Microsecond

// worker runs tick loops in goroutines that Stop signals and Close waits for.
type worker struct {
	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (w *worker) start(loop func(stop <-chan struct{})) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return false
	}
	stop := make(chan struct{})
	w.stop = stop
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		loop(stop)
	}()
	return true
}

func (w *worker) halt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *worker) close() {
	w.halt()
	w.wg.Wait()
}

// RegularTickGenerator ticks from a timer re-armed after every tick, so a slow
// tick delays the next one instead of queueing more.
type RegularTickGenerator struct {
	source k8sclock.Clock
	worker worker
}

// NewRegularTickGenerator creates a regular generator. A nil source uses the real clock.
func NewRegularTickGenerator(source k8sclock.Clock) contracts.TickGenerator {
	if source == nil {
		source = k8sclock.RealClock{}
	}
	return &RegularTickGenerator{source: source}
}

// Start implements contracts.TickGenerator.
func (g *RegularTickGenerator) Start(interval time.Duration, tick func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %w: %s", ErrGeneratorStart, ErrInvalidInterval, interval)
	}
	g.worker.start(func(stop <-chan struct{}) {
		timer := g.source.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-timer.C():
				tick()
				timer.Reset(interval)
			}
		}
	})
	return nil
}

// Stop implements contracts.TickGenerator.
func (g *RegularTickGenerator) Stop() {
	g.worker.halt()
}

// Close implements contracts.TickGenerator.
func (g *RegularTickGenerator) Close() error {
	g.worker.close()
	return nil
}

// HighPrecisionTickGenerator ticks on absolute deadlines from a goroutine
// locked to its OS thread. It sleeps until shortly before each deadline and
// yields for the rest. Missed deadlines are coalesced into a single tick.
type HighPrecisionTickGenerator struct {
	source k8sclock.Clock
	worker worker
}

// NewHighPrecisionTickGenerator creates a high precision generator. A nil
// source uses the real clock.
func NewHighPrecisionTickGenerator(source k8sclock.Clock) contracts.TickGenerator {
	if source == nil {
		source = k8sclock.RealClock{}
	}
	return &HighPrecisionTickGenerator{source: source}
}

// Start implements contracts.TickGenerator.
func (g *HighPrecisionTickGenerator) Start(interval time.Duration, tick func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %w: %s", ErrGeneratorStart, ErrInvalidInterval, interval)
	}
	restore, err := raiseTimerResolution()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeneratorStart, err)
	}
	if !g.worker.start(func(stop <-chan struct{}) {
		defer restore()
		g.run(interval, tick, stop)
	}) {
		restore()
	}
	return nil
}

func (g *HighPrecisionTickGenerator) run(interval time.Duration, tick func(), stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := g.source.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	next := g.source.Now().Add(interval)
	for {
		if wait := next.Sub(g.source.Now()) - spinWindow; wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C():
			}
		}
		for g.source.Now().Before(next) {
			select {
			case <-stop:
				return
			default:
				runtime.Gosched()
			}
		}

		select {
		case <-stop:
			return
		default:
		}
		tick()

		next = next.Add(interval)
		if now := g.source.Now(); !now.Before(next) {
			missed := now.Sub(next)/interval + 1
			next = next.Add(missed * interval)
		}
	}
}

// Stop implements contracts.TickGenerator.
func (g *HighPrecisionTickGenerator) Stop() {
	g.worker.halt()
}

// Close implements contracts.TickGenerator.
func (g *HighPrecisionTickGenerator) Close() error {
	g.worker.close()
	return nil
}

// ManualTickGenerator never ticks by itself; the owner drives the clock with
// Clock.Tick.
type ManualTickGenerator struct {
	mu      sync.Mutex
	running bool
}

// NewManualTickGenerator creates a manual generator. The source is unused.
func NewManualTickGenerator(k8sclock.Clock) contracts.TickGenerator {
	return &ManualTickGenerator{}
}

// Start implements contracts.TickGenerator.
func (g *ManualTickGenerator) Start(interval time.Duration, _ func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %w: %s", ErrGeneratorStart, ErrInvalidInterval, interval)
	}
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()
	return nil
}

// Stop implements contracts.TickGenerator.
func (g *ManualTickGenerator) Stop() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// Close implements contracts.TickGenerator.
func (g *ManualTickGenerator) Close() error {
	g.Stop()
	return nil
}

// IsRunning reports whether the generator was started and not stopped.
func (g *ManualTickGenerator) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
