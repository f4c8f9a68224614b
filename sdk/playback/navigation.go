package playback

import (
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
)

func (p *Playback) currentTickLocked() int64 {
	return p.tempoMap.FromMetric(p.clock.CurrentTime())
}

func (p *Playback) firstTickLocked() int64 {
	if p.hasStart {
		return p.startTick
	}
	return 0
}

func (p *Playback) endLocked() int64 {
	if p.hasEnd {
		return p.endTick
	}
	return p.duration
}

// seekLocked moves the position to tick, clamped to the playback bounds. A
// running playback sends the sustained state at the new position.
func (p *Playback) seekLocked(tick int64) error {
	tick = min(max(tick, p.firstTickLocked()), p.endLocked())

	p.clock.SetCurrentTime(p.tempoMap.ToMetric(tick))
	p.timeline.Reset(tick)
	p.finished = false

	if !p.clock.IsRunning() {
		p.pruneDecisions()
		return nil
	}
	var started, finished []events.Note
	err := p.resync(tick, p.kinds, &started, &finished)
	p.emitNotes(started, finished)
	return err
}

// moveLocked seeks and turns a failed resync into a playback fault.
func (p *Playback) moveLocked(tick int64) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.log.Debug("Playback moved", p.log.Field().Int64("tick", tick))
	if err := p.seekLocked(tick); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

// MoveToTime moves the position to t, clamped to the playback bounds.
func (p *Playback) MoveToTime(t tempo.Span) error {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	tick, err := p.tempoMap.TicksOf(t)
	if err != nil {
		return err
	}
	return p.moveLocked(tick)
}

// MoveToStart moves the position to the playback start.
func (p *Playback) MoveToStart() error {
	p.mu.Lock()
	defer p.unlockAndDeliver()
	return p.moveLocked(p.firstTickLocked())
}

// MoveForward moves the position step later.
func (p *Playback) MoveForward(step tempo.Span) error {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	tick, err := p.tempoMap.Add(p.currentTickLocked(), step)
	if err != nil {
		return err
	}
	return p.moveLocked(tick)
}

// MoveBack moves the position step earlier.
func (p *Playback) MoveBack(step tempo.Span) error {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	tick, err := p.tempoMap.Subtract(p.currentTickLocked(), step)
	if err != nil {
		return err
	}
	return p.moveLocked(tick)
}

// GetCurrentTime returns the position in the given unit. It does not take the
// playback lock, so callbacks and output devices may call it.
func (p *Playback) GetCurrentTime(unit tempo.Unit) (tempo.Span, error) {
	tick := min(p.CurrentTick(), p.limit.Load())
	return p.tempoMap.Convert(tick, unit)
}

// GetDuration returns the time of the last event in the given unit.
func (p *Playback) GetDuration(unit tempo.Unit) (tempo.Span, error) {
	return p.tempoMap.Convert(p.duration, unit)
}

// PlaybackStart returns the tick playback starts from, if one is set.
func (p *Playback) PlaybackStart() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startTick, p.hasStart
}

// PlaybackEnd returns the tick playback ends at, if one is set.
func (p *Playback) PlaybackEnd() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endTick, p.hasEnd
}

// SetPlaybackStart sets where playback starts and loops back to. Nil clears
// it. The current position is not changed.
func (p *Playback) SetPlaybackStart(t tempo.Span) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t == nil {
		p.hasStart = false
		p.startTick = 0
		return nil
	}
	tick, err := p.tempoMap.TicksOf(t)
	if err != nil {
		return err
	}
	if tick < 0 || tick > p.endLocked() {
		return ErrInvalidBounds
	}
	p.startTick, p.hasStart = tick, true
	return nil
}

// SetPlaybackEnd sets where playback finishes or loops. Events at or after
// the end are not played. Nil clears it.
func (p *Playback) SetPlaybackEnd(t tempo.Span) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t == nil {
		p.hasEnd = false
		p.endTick = 0
		p.limit.Store(p.duration)
		return nil
	}
	tick, err := p.tempoMap.TicksOf(t)
	if err != nil {
		return err
	}
	if tick < p.firstTickLocked() {
		return ErrInvalidBounds
	}
	p.endTick, p.hasEnd = tick, true
	p.limit.Store(max(tick, p.duration))
	return nil
}

// MoveToSnapPoint moves the position to an active snap point within the
// playback bounds. It reports false when the point is inactive or out of bounds.
func (p *Playback) MoveToSnapPoint(sp *SnapPoint) (bool, error) {
	if sp == nil || sp.owner != p.snapping {
		return false, ErrForeignSnapPoint
	}
	p.mu.Lock()
	defer p.unlockAndDeliver()

	if !p.snapping.isActive(sp) {
		return false, nil
	}
	return p.moveToPointLocked(sp)
}

func (p *Playback) moveToPointLocked(sp *SnapPoint) (bool, error) {
	tick := sp.Tick()
	if tick < p.firstTickLocked() || tick > p.endLocked() {
		return false, nil
	}
	if err := p.moveLocked(tick); err != nil {
		return false, err
	}
	return true, nil
}

// MoveToNextSnapPoint moves to the first active snap point after the
// position. A nil group considers every group.
func (p *Playback) MoveToNextSnapPoint(group *SnapPointsGroup) (bool, error) {
	return p.moveToNearest(Next, group, nil)
}

// MoveToPreviousSnapPoint moves to the last active snap point before the
// position. A nil group considers every group.
func (p *Playback) MoveToPreviousSnapPoint(group *SnapPointsGroup) (bool, error) {
	return p.moveToNearest(Previous, group, nil)
}

// MoveToNextSnapPointWithData moves to the first active snap point after the
// position whose data satisfies match.
func (p *Playback) MoveToNextSnapPointWithData(match func(data any) bool) (bool, error) {
	return p.moveToNearest(Next, nil, match)
}

// MoveToPreviousSnapPointWithData moves to the last active snap point before
// the position whose data satisfies match.
func (p *Playback) MoveToPreviousSnapPointWithData(match func(data any) bool) (bool, error) {
	return p.moveToNearest(Previous, nil, match)
}

// MoveToFirstSnapPoint moves to the first active snap point at or after the
// playback start. A nil group considers every group.
func (p *Playback) MoveToFirstSnapPoint(group *SnapPointsGroup) (bool, error) {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	sp, ok := p.snapping.nearest(p.firstTickLocked()-1, Next, group, nil)
	if !ok {
		return false, nil
	}
	return p.moveToPointLocked(sp)
}

func (p *Playback) moveToNearest(dir Direction, group *SnapPointsGroup, match func(any) bool) (bool, error) {
	p.mu.Lock()
	defer p.unlockAndDeliver()

	sp, ok := p.snapping.nearest(p.currentTickLocked(), dir, group, match)
	if !ok {
		return false, nil
	}
	return p.moveToPointLocked(sp)
}
