package playback

import (
	"github.com/leandrodaf/midiplayback/internal/clock"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	k8sclock "k8s.io/utils/clock"
)

// HighPrecisionTickGenerator ticks on absolute deadlines from a dedicated
// goroutine locked to its OS thread. It is the default.
func HighPrecisionTickGenerator(source k8sclock.Clock) contracts.TickGenerator {
	return clock.NewHighPrecisionTickGenerator(source)
}

// RegularTickGenerator ticks from a timer of the time source. It is cheaper
// and less accurate, and it follows a fake time source in tests.
func RegularTickGenerator(source k8sclock.Clock) contracts.TickGenerator {
	return clock.NewRegularTickGenerator(source)
}

// ManualTickGenerator never ticks on its own; the playback advances only
// through TickClock.
func ManualTickGenerator(source k8sclock.Clock) contracts.TickGenerator {
	return clock.NewManualTickGenerator(source)
}

var (
	_ contracts.TickGeneratorFactory = HighPrecisionTickGenerator
	_ contracts.TickGeneratorFactory = RegularTickGenerator
	_ contracts.TickGeneratorFactory = ManualTickGenerator
)
