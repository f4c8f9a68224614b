package playback

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
)

// Direction selects the snap point searched relative to a position.
type Direction int

const (
	// Next is the first point strictly after the position.
	Next Direction = iota
	// Previous is the last point strictly before the position.
	Previous
)

// GroupID identifies a snap points group within its registry.
type GroupID uint64

// SnapPoint is a named position in the sequence.
type SnapPoint struct {
	owner   *Snapping
	id      uint64
	tick    int64
	data    any
	group   GroupID
	enabled bool
}

// SnapPointsGroup is a set of snap points created together, such as by a grid.
type SnapPointsGroup struct {
	owner   *Snapping
	id      GroupID
	key     string
	enabled bool
}

// Snapping is the snap point registry of a playback.
type Snapping struct {
	mu       sync.RWMutex
	tempoMap *tempo.Map
	duration int64
	notes    []events.Note

	enabled   bool
	points    []*SnapPoint // sorted by tick, then creation
	groups    map[GroupID]*SnapPointsGroup
	byKey     map[string]*SnapPointsGroup
	nextPoint uint64
	nextGroup GroupID
}

func newSnapping(tempoMap *tempo.Map, duration int64, notes []events.Note) *Snapping {
	return &Snapping{
		tempoMap: tempoMap,
		duration: duration,
		notes:    notes,
		enabled:  true,
		groups:   make(map[GroupID]*SnapPointsGroup),
		byKey:    make(map[string]*SnapPointsGroup),
	}
}

// IsEnabled reports whether snapping is globally enabled.
func (s *Snapping) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled enables or disables every snap point at once.
func (s *Snapping) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// AddSnapPoint adds an enabled snap point at t carrying data.
func (s *Snapping) AddSnapPoint(t tempo.Span, data any) (*SnapPoint, error) {
	tick, err := s.tempoMap.TicksOf(t)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(tick, data, 0), nil
}

func (s *Snapping) insert(tick int64, data any, group GroupID) *SnapPoint {
	s.nextPoint++
	sp := &SnapPoint{owner: s, id: s.nextPoint, tick: tick, data: data, group: group, enabled: true}
	i, _ := slices.BinarySearchFunc(s.points, tick+1, func(p *SnapPoint, t int64) int {
		if p.tick < t {
			return -1
		}
		return 1
	})
	s.points = slices.Insert(s.points, i, sp)
	return sp
}

// RemoveSnapPoint removes a snap point.
func (s *Snapping) RemoveSnapPoint(sp *SnapPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = slices.DeleteFunc(s.points, func(p *SnapPoint) bool { return p == sp })
}

// RemoveSnapPointsByData removes the snap points whose data satisfies match.
func (s *Snapping) RemoveSnapPointsByData(match func(data any) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = slices.DeleteFunc(s.points, func(p *SnapPoint) bool { return match(p.data) })
}

// RemoveSnapPointsGroup removes a group and its points. Requesting the same
// grid again creates a new group.
func (s *Snapping) RemoveSnapPointsGroup(g *SnapPointsGroup) {
	if g == nil || g.owner != s {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[g.id] != g {
		return
	}
	delete(s.groups, g.id)
	delete(s.byKey, g.key)
	s.points = slices.DeleteFunc(s.points, func(p *SnapPoint) bool { return p.group == g.id })
}

// Clear removes every snap point and group.
func (s *Snapping) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	clear(s.groups)
	clear(s.byKey)
}

// SnapPoints returns every snap point ordered by time.
func (s *Snapping) SnapPoints() []*SnapPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.points)
}

// ActiveSnapPoints returns the snap points navigation can stop at.
func (s *Snapping) ActiveSnapPoints() []*SnapPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SnapPoint
	for _, sp := range s.points {
		if s.activeLocked(sp) {
			out = append(out, sp)
		}
	}
	return out
}

// SnapToGrid adds a group of points at the grid times up to the sequence
// duration. A grid equal to one already snapped to returns the existing group.
func (s *Snapping) SnapToGrid(grid Grid) (*SnapPointsGroup, error) {
	key := grid.Key()

	s.mu.RLock()
	g, ok := s.byKey[key]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	ticks, err := grid.Ticks(s.tempoMap, s.duration)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.byKey[key]; ok {
		return g, nil
	}
	g = s.newGroupLocked(key)
	for _, tick := range ticks {
		s.insert(tick, nil, g.id)
	}
	return g, nil
}

// SnapToNotesStarts adds a group of points at the start of every note. Each
// point carries its note as data.
func (s *Snapping) SnapToNotesStarts() *SnapPointsGroup {
	return s.snapToNotes("notes-starts", func(n events.Note) int64 { return n.Start })
}

func (s *Snapping) snapToNotes(key string, at func(events.Note) int64) *SnapPointsGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.byKey[key]; ok {
		return g
	}
	g := s.newGroupLocked(key)
	for _, n := range s.notes {
		s.insert(at(n), n, g.id)
	}
	return g
}

// SnapToNotesEnds adds a group of points at the end of every note. Each
// point carries its note as data.
func (s *Snapping) SnapToNotesEnds() *SnapPointsGroup {
	return s.snapToNotes("notes-ends", func(n events.Note) int64 { return n.End })
}

func (s *Snapping) newGroupLocked(key string) *SnapPointsGroup {
	s.nextGroup++
	g := &SnapPointsGroup{owner: s, id: s.nextGroup, key: key, enabled: true}
	s.groups[g.id] = g
	s.byKey[key] = g
	return g
}

// Nearest returns the active snap point next to or before tick. A nil group
// considers every group.
func (s *Snapping) Nearest(tick int64, dir Direction, group *SnapPointsGroup) (*SnapPoint, bool) {
	return s.nearest(tick, dir, group, nil)
}

// NearestWithData returns the active snap point next to or before tick whose
// data satisfies match.
func (s *Snapping) NearestWithData(tick int64, dir Direction, match func(data any) bool) (*SnapPoint, bool) {
	return s.nearest(tick, dir, nil, match)
}

func (s *Snapping) nearest(tick int64, dir Direction, group *SnapPointsGroup, match func(any) bool) (*SnapPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accept := func(sp *SnapPoint) bool {
		return s.activeLocked(sp) &&
			(group == nil || sp.group == group.id) &&
			(match == nil || match(sp.data))
	}

	if dir == Next {
		for _, sp := range s.points {
			if sp.tick > tick && accept(sp) {
				return sp, true
			}
		}
		return nil, false
	}
	for i := len(s.points) - 1; i >= 0; i-- {
		if sp := s.points[i]; sp.tick < tick && accept(sp) {
			return sp, true
		}
	}
	return nil, false
}

func (s *Snapping) isActive(sp *SnapPoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.points, sp) && s.activeLocked(sp)
}

// activeLocked reports whether navigation can stop at sp: snapping, the
// point and its group are enabled.
func (s *Snapping) activeLocked(sp *SnapPoint) bool {
	if !s.enabled || !sp.enabled {
		return false
	}
	if sp.group == 0 {
		return true
	}
	g, ok := s.groups[sp.group]
	return ok && g.enabled
}

// Tick returns the position of the point.
func (sp *SnapPoint) Tick() int64 {
	return sp.tick
}

// Data returns the data attached to the point.
func (sp *SnapPoint) Data() any {
	return sp.data
}

// IsEnabled reports whether the point itself is enabled.
func (sp *SnapPoint) IsEnabled() bool {
	sp.owner.mu.RLock()
	defer sp.owner.mu.RUnlock()
	return sp.enabled
}

// SetEnabled enables or disables the point.
func (sp *SnapPoint) SetEnabled(enabled bool) {
	sp.owner.mu.Lock()
	defer sp.owner.mu.Unlock()
	sp.enabled = enabled
}

// Group returns the group the point was created in, if any.
func (sp *SnapPoint) Group() (*SnapPointsGroup, bool) {
	sp.owner.mu.RLock()
	defer sp.owner.mu.RUnlock()
	g, ok := sp.owner.groups[sp.group]
	return g, ok
}

// ID returns the identifier of the group.
func (g *SnapPointsGroup) ID() GroupID {
	return g.id
}

// Key returns the key of the grid the group was created from.
func (g *SnapPointsGroup) Key() string {
	return g.key
}

// IsEnabled reports whether the group is enabled.
func (g *SnapPointsGroup) IsEnabled() bool {
	g.owner.mu.RLock()
	defer g.owner.mu.RUnlock()
	return g.enabled
}

// SetEnabled enables or disables every point of the group.
func (g *SnapPointsGroup) SetEnabled(enabled bool) {
	g.owner.mu.Lock()
	defer g.owner.mu.Unlock()
	g.enabled = enabled
}

// SnapPoints returns the points of the group ordered by time.
func (g *SnapPointsGroup) SnapPoints() []*SnapPoint {
	g.owner.mu.RLock()
	defer g.owner.mu.RUnlock()

	var out []*SnapPoint
	for _, sp := range g.owner.points {
		if sp.group == g.id {
			out = append(out, sp)
		}
	}
	return out
}

// Grid produces snap point times.
type Grid interface {
	// Key identifies equal grids.
	Key() string
	// Ticks returns the grid times up to and including maxTick, in order.
	Ticks(m *tempo.Map, maxTick int64) ([]int64, error)
}

// SteppedGrid starts at Start and repeats Steps in turn.
type SteppedGrid struct {
	Start tempo.Span // nil means 0
	Steps []tempo.Span
}

// Key implements Grid.
func (g SteppedGrid) Key() string {
	parts := make([]string, 0, len(g.Steps)+1)
	parts = append(parts, spanKey(g.Start))
	for _, s := range g.Steps {
		parts = append(parts, spanKey(s))
	}
	return "stepped:" + strings.Join(parts, "|")
}

// Ticks implements Grid.
func (g SteppedGrid) Ticks(m *tempo.Map, maxTick int64) ([]int64, error) {
	if len(g.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidGrid)
	}
	var tick int64
	if g.Start != nil {
		var err error
		if tick, err = m.TicksOf(g.Start); err != nil {
			return nil, err
		}
	}

	var out []int64
	for i := 0; tick <= maxTick; i++ {
		out = append(out, tick)
		next, err := m.Add(tick, g.Steps[i%len(g.Steps)])
		if err != nil {
			return nil, err
		}
		if next <= tick {
			return nil, fmt.Errorf("%w: step %s does not advance from tick %d", ErrInvalidGrid, g.Steps[i%len(g.Steps)], tick)
		}
		tick = next
	}
	return out, nil
}

// ArbitraryGrid is an explicit list of times.
type ArbitraryGrid struct {
	Times []tempo.Span
}

// Key implements Grid.
func (g ArbitraryGrid) Key() string {
	parts := make([]string, 0, len(g.Times))
	for _, t := range g.Times {
		parts = append(parts, spanKey(t))
	}
	return "arbitrary:" + strings.Join(parts, "|")
}

// Ticks implements Grid.
func (g ArbitraryGrid) Ticks(m *tempo.Map, maxTick int64) ([]int64, error) {
	out := make([]int64, 0, len(g.Times))
	for _, t := range g.Times {
		tick, err := m.TicksOf(t)
		if err != nil {
			return nil, err
		}
		if tick <= maxTick {
			out = append(out, tick)
		}
	}
	slices.Sort(out)
	return out, nil
}

func spanKey(s tempo.Span) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%s:%s", s.Unit(), s)
}
