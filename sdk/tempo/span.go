package tempo

import (
	"fmt"
	"time"
)

// Unit names a time representation a position can be converted to.
type Unit int

const (
	UnitTicks Unit = iota
	UnitMetric
	UnitMusical
	UnitBarBeat
)

func (u Unit) String() string {
	switch u {
	case UnitTicks:
		return "ticks"
	case UnitMetric:
		return "metric"
	case UnitMusical:
		return "musical"
	case UnitBarBeat:
		return "bar-beat"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// Span is a position or length on the timeline in one of the supported units.
// The set of implementations is closed: Ticks, Metric, Musical and BarBeat.
type Span interface {
	Unit() Unit
	String() string
	span()
}

// Ticks is a span in MIDI ticks.
type Ticks int64

// Metric is a span of wall-clock time at speed 1.
type Metric time.Duration

// Musical is a span as a fraction of a whole note: {1, 4} is a quarter note.
type Musical struct {
	Num int64
	Den int64
}

// BarBeat is a span counted in bars, beats and remaining ticks according to
// the time signatures of the map.
type BarBeat struct {
	Bars  int64
	Beats int64
	Ticks int64
}

func (Ticks) Unit() Unit   { return UnitTicks }
func (Metric) Unit() Unit  { return UnitMetric }
func (Musical) Unit() Unit { return UnitMusical }
func (BarBeat) Unit() Unit { return UnitBarBeat }

func (Ticks) span()   {}
func (Metric) span()  {}
func (Musical) span() {}
func (BarBeat) span() {}

func (t Ticks) String() string  { return fmt.Sprintf("%d ticks", int64(t)) }
func (m Metric) String() string { return time.Duration(m).String() }
func (m Musical) String() string {
	return fmt.Sprintf("%d/%d", m.Num, m.Den)
}
func (b BarBeat) String() string {
	return fmt.Sprintf("%d.%d.%d", b.Bars, b.Beats, b.Ticks)
}

// Duration returns the span as a time.Duration.
func (m Metric) Duration() time.Duration { return time.Duration(m) }

// reduce returns the fraction in lowest terms with a positive denominator.
func (m Musical) reduce() Musical {
	if m.Den < 0 {
		m.Num, m.Den = -m.Num, -m.Den
	}
	g := gcd(abs(m.Num), m.Den)
	if g > 1 {
		m.Num /= g
		m.Den /= g
	}
	return m
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
