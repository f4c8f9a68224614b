// Package clock tracks the playback position in wall-clock time and drives
// dispatch through a pluggable tick generator.
package clock

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/leandrodaf/midiplayback/sdk/contracts"
	k8sclock "k8s.io/utils/clock"
)

// Error definitions for the playback clock.
var (
	ErrInvalidSpeed = errors.New("speed must be a positive finite number")
	ErrClosed       = errors.New("clock is closed")
)

// Clock holds the playback position as metric time:
// startTime + (now - startedAt) × speed while running, startTime when stopped.
type Clock struct {
	mu         sync.Mutex
	source     k8sclock.Clock
	interval   time.Duration
	generator  contracts.TickGenerator
	generation uint64
	onTick     func()

	running   bool
	closed    bool
	startTime time.Duration
	startedAt time.Time
	speed     float64
}

// New creates a stopped clock at position 0 and speed 1. onTick is called on
// every tick while the clock runs, without any clock lock held.
func New(source k8sclock.Clock, generator contracts.TickGenerator, interval time.Duration, onTick func()) (*Clock, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if source == nil {
		source = k8sclock.RealClock{}
	}
	return &Clock{
		source:    source,
		interval:  interval,
		generator: generator,
		onTick:    onTick,
		speed:     1,
	}, nil
}

// Start starts the generator and the stopwatch. Starting a running clock does nothing.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running {
		return nil
	}
	if err := c.startGenerator(c.generator); err != nil {
		return err
	}
	c.startedAt = c.source.Now()
	c.running = true
	return nil
}

func (c *Clock) startGenerator(g contracts.TickGenerator) error {
	generation := c.generation
	if err := g.Start(c.interval, func() { c.tick(generation) }); err != nil {
		if errors.Is(err, ErrGeneratorStart) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrGeneratorStart, err)
	}
	return nil
}

// Stop freezes the position and stops the generator without waiting for an
// in-flight tick.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.startTime = c.current()
	c.running = false
	c.generator.Stop()
}

// IsRunning reports whether the clock is running.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CurrentTime returns the playback position.
func (c *Clock) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current()
}

func (c *Clock) current() time.Duration {
	if !c.running {
		return c.startTime
	}
	elapsed := float64(c.source.Since(c.startedAt)) * c.speed
	if elapsed >= float64(math.MaxInt64-c.startTime) {
		return math.MaxInt64
	}
	return c.startTime + time.Duration(elapsed)
}

// SetCurrentTime moves the position. A running clock keeps running from there.
func (c *Clock) SetCurrentTime(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = max(t, 0)
	c.startedAt = c.source.Now()
}

// ResetCurrentTime moves the position to zero.
func (c *Clock) ResetCurrentTime() {
	c.SetCurrentTime(0)
}

// Speed returns the speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed changes the rate of future advancement; time already elapsed is kept.
func (c *Clock) SetSpeed(speed float64) error {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = c.current()
	c.startedAt = c.source.Now()
	c.speed = speed
	return nil
}

// Interval returns the tick interval.
func (c *Clock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetInterval changes the tick interval, restarting a running generator.
func (c *Clock) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.interval
	c.interval = interval
	if !c.running {
		return nil
	}
	c.generator.Stop()
	c.generation++
	if err := c.startGenerator(c.generator); err != nil {
		c.interval = previous
		c.generation++
		if restartErr := c.startGenerator(c.generator); restartErr != nil {
			c.running = false
			c.startTime = c.current()
		}
		return err
	}
	return nil
}

// Generator returns the active tick generator.
func (c *Clock) Generator() contracts.TickGenerator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generator
}

// IsManual reports whether the active generator only ticks through Tick.
func (c *Clock) IsManual() bool {
	_, ok := c.Generator().(*ManualTickGenerator)
	return ok
}

// SetGenerator replaces the tick generator without touching the position and
// returns the previous one, which the caller must Close. Ticks still in
// flight from the previous generator are ignored. If the new generator cannot
// start, the previous one stays active and the error is returned.
func (c *Clock) SetGenerator(g contracts.TickGenerator) (contracts.TickGenerator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	old := c.generator
	if !c.running {
		c.generation++
		c.generator = g
		return old, nil
	}

	old.Stop()
	c.generation++
	if err := c.startGenerator(g); err != nil {
		c.generation++
		if restartErr := c.startGenerator(old); restartErr != nil {
			c.startTime = c.current()
			c.running = false
		}
		return nil, err
	}
	c.generator = g
	return old, nil
}

// Tick delivers a tick on demand, whatever the generator. It does nothing
// while the clock is stopped.
func (c *Clock) Tick() {
	c.mu.Lock()
	running, onTick := c.running, c.onTick
	c.mu.Unlock()

	if running && onTick != nil {
		onTick()
	}
}

func (c *Clock) tick(generation uint64) {
	c.mu.Lock()
	running, onTick := c.running && c.generation == generation, c.onTick
	c.mu.Unlock()

	if running && onTick != nil {
		onTick()
	}
}

// Close stops the clock and releases the generator, waiting for its
// goroutine. It must not be called from a tick.
func (c *Clock) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.running {
		c.startTime = c.current()
		c.running = false
	}
	c.closed = true
	g := c.generator
	c.mu.Unlock()

	return g.Close()
}
