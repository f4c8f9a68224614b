// Package tempo converts timeline positions between ticks and the other time
// representations using a tempo map.
package tempo

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"
)

// Error definitions for tempo map construction and conversion.
var (
	ErrInvalidDivision      = errors.New("invalid ticks per quarter note")
	ErrInvalidTempo         = errors.New("invalid tempo")
	ErrInvalidTimeSignature = errors.New("invalid time signature")
	ErrUnsupportedUnit      = errors.New("unsupported time unit")
	ErrInvalidSpan          = errors.New("invalid time span")
)

// DefaultMicrosecondsPerQuarter is 120 BPM.
const DefaultMicrosecondsPerQuarter = 500000

// Change is a tempo map entry: a Tempo or a TimeSignature.
type Change interface {
	change()
}

// Tempo sets the quarter note length from Tick on.
type Tempo struct {
	Tick                   int64
	MicrosecondsPerQuarter uint32
}

// BPM builds a Tempo from beats per minute.
func BPM(tick int64, bpm float64) Tempo {
	return Tempo{Tick: tick, MicrosecondsPerQuarter: uint32(math.Round(60_000_000 / bpm))}
}

// TimeSignature sets the meter from Tick on.
type TimeSignature struct {
	Tick        int64
	Numerator   uint8
	Denominator uint8
}

func (Tempo) change()         {}
func (TimeSignature) change() {}

type tempoSegment struct {
	tick    int64
	rate    uint64 // nanoseconds·division per tick
	startNs int64
	rem     uint64 // fractional part of the start, in 1/division ns
}

type signatureSegment struct {
	tick     int64
	sig      TimeSignature
	beatLen  int64
	barLen   int64
	startBar int64
}

// Map is an immutable tempo map. It is safe for concurrent use.
type Map struct {
	division   smf.MetricTicks
	tempos     []Tempo
	signatures []TimeSignature
	segments   []tempoSegment
	meters     []signatureSegment
}

// NewMap builds a tempo map. Without changes the map is 120 BPM in 4/4.
func NewMap(division smf.MetricTicks, changes ...Change) (*Map, error) {
	if division == 0 || division > 0x7FFF {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDivision, division)
	}

	m := &Map{division: division}
	for _, c := range changes {
		switch c := c.(type) {
		case Tempo:
			if c.MicrosecondsPerQuarter == 0 || c.Tick < 0 {
				return nil, fmt.Errorf("%w: %d µs per quarter at tick %d", ErrInvalidTempo, c.MicrosecondsPerQuarter, c.Tick)
			}
			m.tempos = append(m.tempos, c)
		case TimeSignature:
			if c.Numerator == 0 || c.Denominator == 0 || c.Denominator&(c.Denominator-1) != 0 || c.Tick < 0 {
				return nil, fmt.Errorf("%w: %d/%d at tick %d", ErrInvalidTimeSignature, c.Numerator, c.Denominator, c.Tick)
			}
			m.signatures = append(m.signatures, c)
		}
	}

	m.tempos = normalize(m.tempos, func(t Tempo) int64 { return t.Tick },
		Tempo{MicrosecondsPerQuarter: DefaultMicrosecondsPerQuarter})
	m.signatures = normalize(m.signatures, func(s TimeSignature) int64 { return s.Tick },
		TimeSignature{Numerator: 4, Denominator: 4})

	m.buildSegments()
	if err := m.buildMeters(); err != nil {
		return nil, err
	}
	return m, nil
}

// normalize sorts changes by tick, keeps the last change per tick and makes
// sure a change exists at tick 0.
func normalize[T any](changes []T, tickOf func(T) int64, initial T) []T {
	slices.SortStableFunc(changes, func(a, b T) int {
		return cmp.Compare(tickOf(a), tickOf(b))
	})
	out := make([]T, 0, len(changes)+1)
	if len(changes) == 0 || tickOf(changes[0]) != 0 {
		out = append(out, initial)
	}
	for _, c := range changes {
		if n := len(out); n > 0 && tickOf(out[n-1]) == tickOf(c) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m *Map) buildSegments() {
	div := uint64(m.division.Ticks4th())
	m.segments = make([]tempoSegment, len(m.tempos))
	for i, t := range m.tempos {
		seg := tempoSegment{tick: t.Tick, rate: uint64(t.MicrosecondsPerQuarter) * 1000}
		if i > 0 {
			prev := m.segments[i-1]
			q, r := mulAddDiv(uint64(t.Tick-prev.tick), prev.rate, prev.rem, div)
			seg.startNs = saturatingAdd(prev.startNs, q)
			seg.rem = r
		}
		m.segments[i] = seg
	}
}

func (m *Map) buildMeters() error {
	quarter := int64(m.division.Ticks4th())
	m.meters = make([]signatureSegment, len(m.signatures))
	for i, s := range m.signatures {
		beat := quarter * 4 / int64(s.Denominator)
		if beat == 0 {
			return fmt.Errorf("%w: beat of %d/%d is shorter than a tick", ErrInvalidTimeSignature, s.Numerator, s.Denominator)
		}
		seg := signatureSegment{tick: s.Tick, sig: s, beatLen: beat, barLen: beat * int64(s.Numerator)}
		if i > 0 {
			prev := m.meters[i-1]
			seg.startBar = prev.startBar + ceilDiv(s.Tick-prev.tick, prev.barLen)
		}
		m.meters[i] = seg
	}
	return nil
}

// Division returns the ticks per quarter note.
func (m *Map) Division() smf.MetricTicks {
	return m.division
}

// Tempos returns the tempo changes, starting with the one at tick 0.
func (m *Map) Tempos() []Tempo {
	return slices.Clone(m.tempos)
}

// TimeSignatures returns the time signature changes, starting with the one at tick 0.
func (m *Map) TimeSignatures() []TimeSignature {
	return slices.Clone(m.signatures)
}

// TempoAt returns the tempo in effect at tick.
func (m *Map) TempoAt(tick int64) Tempo {
	return m.tempos[m.segmentIndex(tick)]
}

// ToMetric converts a tick position to wall-clock time, rounding up to the
// next nanosecond. FromMetric(ToMetric(t)) == t for every t >= 0.
func (m *Map) ToMetric(tick int64) time.Duration {
	if tick <= 0 {
		return 0
	}
	seg := m.segments[m.segmentIndex(tick)]
	q, r := mulAddDiv(uint64(tick-seg.tick), seg.rate, seg.rem, uint64(m.division.Ticks4th()))
	ns := saturatingAdd(seg.startNs, q)
	if r > 0 && ns < math.MaxInt64 {
		ns++
	}
	return time.Duration(ns)
}

// FromMetric converts wall-clock time to the last tick reached at that time.
func (m *Map) FromMetric(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	ns := int64(d)
	// First segment starting strictly after d.
	i := sort.Search(len(m.segments), func(i int) bool {
		s := m.segments[i]
		return s.startNs > ns || (s.startNs == ns && s.rem > 0)
	})
	seg := m.segments[i-1]

	hi, lo := bits.Mul64(uint64(ns-seg.startNs), uint64(m.division.Ticks4th()))
	var borrow uint64
	lo, borrow = bits.Sub64(lo, seg.rem, 0)
	hi -= borrow
	if hi >= seg.rate {
		return math.MaxInt64
	}
	k, _ := bits.Div64(hi, lo, seg.rate)
	if k > math.MaxInt64-uint64(seg.tick) {
		return math.MaxInt64
	}
	return seg.tick + int64(k)
}

// ToMusical converts ticks to a fraction of a whole note.
func (m *Map) ToMusical(tick int64) Musical {
	return Musical{Num: tick, Den: 4 * int64(m.division.Ticks4th())}.reduce()
}

// FromMusical converts a fraction of a whole note to ticks, rounding down.
func (m *Map) FromMusical(s Musical) (int64, error) {
	if s.Den == 0 {
		return 0, fmt.Errorf("%w: zero denominator", ErrInvalidSpan)
	}
	s = s.reduce()
	hi, lo := bits.Mul64(uint64(abs(s.Num)), 4*uint64(m.division.Ticks4th()))
	if hi >= uint64(s.Den) {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidSpan, s)
	}
	q, _ := bits.Div64(hi, lo, uint64(s.Den))
	if s.Num < 0 {
		return -int64(q), nil
	}
	return int64(q), nil
}

// ToBarBeat converts ticks to bars, beats and ticks.
func (m *Map) ToBarBeat(tick int64) BarBeat {
	if tick < 0 {
		tick = 0
	}
	seg := m.meters[m.meterIndex(tick)]
	offset := tick - seg.tick
	within := offset % seg.barLen
	return BarBeat{
		Bars:  seg.startBar + offset/seg.barLen,
		Beats: within / seg.beatLen,
		Ticks: within % seg.beatLen,
	}
}

// FromBarBeat converts a bar/beat position to ticks.
func (m *Map) FromBarBeat(b BarBeat) (int64, error) {
	if b.Bars < 0 || b.Beats < 0 || b.Ticks < 0 {
		return 0, fmt.Errorf("%w: negative bar/beat %s", ErrInvalidSpan, b)
	}
	i := sort.Search(len(m.meters), func(i int) bool { return m.meters[i].startBar > b.Bars })
	seg := m.meters[i-1]
	return seg.tick + (b.Bars-seg.startBar)*seg.barLen + b.Beats*seg.beatLen + b.Ticks, nil
}

// Convert converts a tick position to the requested unit.
func (m *Map) Convert(tick int64, unit Unit) (Span, error) {
	switch unit {
	case UnitTicks:
		return Ticks(tick), nil
	case UnitMetric:
		return Metric(m.ToMetric(tick)), nil
	case UnitMusical:
		return m.ToMusical(tick), nil
	case UnitBarBeat:
		return m.ToBarBeat(tick), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedUnit, unit)
	}
}

// TicksOf converts an absolute position in any unit to ticks.
func (m *Map) TicksOf(s Span) (int64, error) {
	switch s := s.(type) {
	case Ticks:
		return int64(s), nil
	case Metric:
		return m.FromMetric(time.Duration(s)), nil
	case Musical:
		return m.FromMusical(s)
	case BarBeat:
		return m.FromBarBeat(s)
	case nil:
		return 0, fmt.Errorf("%w: nil span", ErrInvalidSpan)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedUnit, s)
	}
}

// Add moves from by the length of s and returns the resulting tick. Metric
// lengths follow the tempo changes between the two positions; bar/beat
// lengths use the meter in effect at from.
func (m *Map) Add(from int64, s Span) (int64, error) {
	return m.shift(from, s, 1)
}

// Subtract moves from back by the length of s and returns the resulting tick.
func (m *Map) Subtract(from int64, s Span) (int64, error) {
	return m.shift(from, s, -1)
}

func (m *Map) shift(from int64, s Span, sign int64) (int64, error) {
	switch s := s.(type) {
	case Ticks:
		return addTicks(from, mulTicks(sign, int64(s))), nil
	case Metric:
		return m.FromMetric(time.Duration(addTicks(int64(m.ToMetric(from)), mulTicks(sign, int64(s))))), nil
	case Musical:
		length, err := m.FromMusical(s)
		if err != nil {
			return 0, err
		}
		return addTicks(from, mulTicks(sign, length)), nil
	case BarBeat:
		if s.Bars < 0 || s.Beats < 0 || s.Ticks < 0 {
			return 0, fmt.Errorf("%w: negative bar/beat %s", ErrInvalidSpan, s)
		}
		seg := m.meters[m.meterIndex(from)]
		length := addTicks(addTicks(mulTicks(s.Bars, seg.barLen), mulTicks(s.Beats, seg.beatLen)), s.Ticks)
		return addTicks(from, mulTicks(sign, length)), nil
	case nil:
		return 0, fmt.Errorf("%w: nil span", ErrInvalidSpan)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedUnit, s)
	}
}

func (m *Map) segmentIndex(tick int64) int {
	tick = max(tick, 0)
	return sort.Search(len(m.segments), func(i int) bool { return m.segments[i].tick > tick }) - 1
}

func (m *Map) meterIndex(tick int64) int {
	tick = max(tick, 0)
	return sort.Search(len(m.meters), func(i int) bool { return m.meters[i].tick > tick }) - 1
}

// mulAddDiv returns (a*b + c) / d and its remainder, saturating on overflow.
func mulAddDiv(a, b, c, d uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	var carry uint64
	lo, carry = bits.Add64(lo, c, 0)
	hi += carry
	if hi >= d {
		return math.MaxInt64, 0
	}
	return bits.Div64(hi, lo, d)
}

func saturatingAdd(a int64, b uint64) int64 {
	if b > uint64(math.MaxInt64-a) {
		return math.MaxInt64
	}
	return a + int64(b)
}

// addTicks returns a+b, saturating at the int64 limits.
func addTicks(a, b int64) int64 {
	c := a + b
	switch {
	case b > 0 && c < a:
		return math.MaxInt64
	case b < 0 && c > a:
		return math.MinInt64
	}
	return c
}

// mulTicks returns a*b, saturating at the int64 limits.
func mulTicks(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	overflow := c/b != a ||
		(a == -1 && b == math.MinInt64) ||
		(b == -1 && a == math.MinInt64)
	if !overflow {
		return c
	}
	if (a < 0) == (b < 0) {
		return math.MaxInt64
	}
	return math.MinInt64
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
