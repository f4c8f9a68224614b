package tempo

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/smf"
)

func TestNewMapValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMap(0)
	require.ErrorIs(t, err, ErrInvalidDivision)

	_, err = NewMap(smf.MetricTicks(960), Tempo{Tick: 0})
	require.ErrorIs(t, err, ErrInvalidTempo)

	_, err = NewMap(smf.MetricTicks(960), TimeSignature{Numerator: 3, Denominator: 3})
	require.ErrorIs(t, err, ErrInvalidTimeSignature)
}

func TestMetricConversion(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(960))
	require.NoError(t, err)

	require.Equal(t, 500*time.Millisecond, m.ToMetric(960))
	require.Equal(t, int64(960), m.FromMetric(500*time.Millisecond))
	require.Equal(t, time.Duration(0), m.ToMetric(-5))
	require.Equal(t, int64(0), m.FromMetric(-time.Second))

	// 1 tick at 120 BPM / 960 is 520833.33 ns.
	require.Equal(t, 520834*time.Nanosecond, m.ToMetric(1))
	require.Equal(t, int64(0), m.FromMetric(520833*time.Nanosecond))
	require.Equal(t, int64(1), m.FromMetric(520834*time.Nanosecond))
}

func TestMetricConversionAcrossTempoChanges(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(480), BPM(0, 120), BPM(960, 60))
	require.NoError(t, err)

	// Two quarters at 120 BPM, then one quarter at 60 BPM.
	require.Equal(t, time.Second, m.ToMetric(960))
	require.Equal(t, 2*time.Second, m.ToMetric(1440))
	require.Equal(t, int64(1200), m.FromMetric(1500*time.Millisecond))
	require.Equal(t, uint32(1_000_000), m.TempoAt(1000).MicrosecondsPerQuarter)
	require.Equal(t, uint32(500_000), m.TempoAt(959).MicrosecondsPerQuarter)
}

func TestMetricRoundTrip(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("FromMetric(ToMetric(t)) == t", prop.ForAll(
		func(division uint16, bpm1, bpm2 float64, change, tick int64) bool {
			m, err := NewMap(smf.MetricTicks(division), BPM(0, bpm1), BPM(change, bpm2))
			if err != nil {
				return false
			}
			return m.FromMetric(m.ToMetric(tick)) == tick
		},
		gen.UInt16Range(24, 1920),
		gen.Float64Range(20, 300),
		gen.Float64Range(20, 300),
		gen.Int64Range(1, 100_000),
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("ToMetric is monotonic", prop.ForAll(
		func(tick int64) bool {
			m, _ := NewMap(smf.MetricTicks(96), BPM(0, 133), BPM(500, 71))
			return m.ToMetric(tick) < m.ToMetric(tick+1)
		},
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestMusicalConversion(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(960))
	require.NoError(t, err)

	require.Equal(t, Musical{Num: 1, Den: 4}, m.ToMusical(960))
	require.Equal(t, Musical{Num: 3, Den: 8}, m.ToMusical(1440))

	ticks, err := m.FromMusical(Musical{Num: 3, Den: 16})
	require.NoError(t, err)
	require.Equal(t, int64(720), ticks)

	_, err = m.FromMusical(Musical{Num: 1})
	require.ErrorIs(t, err, ErrInvalidSpan)
}

func TestBarBeatConversion(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(100),
		TimeSignature{Tick: 0, Numerator: 4, Denominator: 4},
		TimeSignature{Tick: 800, Numerator: 3, Denominator: 8},
	)
	require.NoError(t, err)

	require.Equal(t, BarBeat{Bars: 1, Beats: 2, Ticks: 10}, m.ToBarBeat(610))
	// 3/8 from tick 800: beat is 50 ticks, bar is 150 ticks.
	require.Equal(t, BarBeat{Bars: 3, Beats: 1, Ticks: 5}, m.ToBarBeat(800+150+55))

	tick, err := m.FromBarBeat(BarBeat{Bars: 3, Beats: 1, Ticks: 5})
	require.NoError(t, err)
	require.Equal(t, int64(1005), tick)
}

func TestConvertAndTicksOf(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(960))
	require.NoError(t, err)

	span, err := m.Convert(1920, UnitMetric)
	require.NoError(t, err)
	require.Equal(t, Metric(time.Second), span)

	_, err = m.Convert(0, Unit(42))
	require.ErrorIs(t, err, ErrUnsupportedUnit)

	for _, s := range []Span{Ticks(1920), Metric(time.Second), Musical{Num: 1, Den: 2}, BarBeat{Beats: 2}} {
		tick, err := m.TicksOf(s)
		require.NoError(t, err, s.String())
		require.Equal(t, int64(1920), tick, s.String())
	}

	_, err = m.TicksOf(nil)
	require.ErrorIs(t, err, ErrInvalidSpan)
}

func TestAddAndSubtract(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(480), BPM(0, 120), BPM(960, 60))
	require.NoError(t, err)

	tick, err := m.Add(480, Metric(time.Second))
	require.NoError(t, err)
	// 480 ticks at 120 BPM reach tick 960 after 0.5s, the remaining 0.5s at 60 BPM is 240 ticks.
	require.Equal(t, int64(1200), tick)

	tick, err = m.Subtract(1200, Metric(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(480), tick)

	tick, err = m.Subtract(100, Metric(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), tick)

	tick, err = m.Add(0, BarBeat{Bars: 1, Beats: 1})
	require.NoError(t, err)
	require.Equal(t, int64(4*480+480), tick)

	tick, err = m.Add(10, Musical{Num: 1, Den: 8})
	require.NoError(t, err)
	require.Equal(t, int64(250), tick)
}

func TestShiftSaturates(t *testing.T) {
	t.Parallel()

	m, err := NewMap(smf.MetricTicks(480), BPM(0, 120), BPM(960, 60))
	require.NoError(t, err)

	tick, err := m.Add(10, Ticks(math.MaxInt64))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), tick)

	tick, err = m.Subtract(10, Ticks(math.MinInt64))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), tick)

	tick, err = m.Subtract(-10, Ticks(math.MaxInt64))
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), tick)

	tick, err = m.Add(10, BarBeat{Bars: math.MaxInt64 / 2, Beats: 3})
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), tick)

	tick, err = m.Add(10, Metric(math.MaxInt64))
	require.NoError(t, err)
	require.Greater(t, tick, int64(10))
}
