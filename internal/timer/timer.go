// Package timer provides the monotonic tick source used to timestamp
// every measurement event. A small tagged enum selects among the
// available backends; tick reading dispatches on the tag and stays
// allocation-free.
package timer

import (
	"sync"

	"github.com/behrlich/go-measure/internal/logging"
)

// Kind selects a timer backend.
type Kind int

const (
	// KindTsc reads the CPU time stamp counter. Lowest overhead, but
	// its frequency must be interpolated against a reference clock
	// and checked for cross-process consistency.
	KindTsc Kind = iota

	// KindClockGettime reads the raw monotonic system clock.
	KindClockGettime

	// KindGettimeofday reads the high-resolution wallclock. Microsecond
	// resolution; kept for environments without a usable monotonic
	// clock.
	KindGettimeofday

	kindCount
)

// names maps config values to backend tags.
var names = map[string]Kind{
	"tsc":           KindTsc,
	"clock_gettime": KindClockGettime,
	"gettimeofday":  KindGettimeofday,
}

// String returns the config name of the backend.
func (k Kind) String() string {
	switch k {
	case KindTsc:
		return "tsc"
	case KindClockGettime:
		return "clock_gettime"
	case KindGettimeofday:
		return "gettimeofday"
	default:
		return "invalid"
	}
}

// Available lists the backends usable in this build, default first.
func Available() []string {
	if tscSupported() {
		return []string{"tsc", "clock_gettime", "gettimeofday"}
	}
	return []string{"clock_gettime", "gettimeofday"}
}

// Default returns the preferred backend for this build.
func Default() Kind {
	if tscSupported() {
		return KindTsc
	}
	return KindClockGettime
}

// Parse resolves a config value into a backend tag.
func Parse(name string) (Kind, bool) {
	k, ok := names[name]
	if ok && k == KindTsc && !tscSupported() {
		return 0, false
	}
	return k, ok
}

// Timer is the per-process tick source. Construct once during
// configuration, initialize before the first event, and read the
// resolution only during finalization.
type Timer struct {
	kind Kind

	initialized bool

	// tsc interpolation anchors, captured at Initialize.
	tscT0   uint64
	cmpT0   uint64
	cmpFreq uint64

	resolveOnce sync.Once
	resolution  uint64
}

// New creates a timer for the given backend. An invalid tag aborts.
func New(kind Kind) *Timer {
	logging.BugOn(kind < 0 || kind >= kindCount, "Invalid timer selected %d", int(kind))
	return &Timer{kind: kind}
}

// Kind returns the selected backend tag.
func (t *Timer) Kind() Kind {
	return t.kind
}

// Initialize prepares the backend. For tsc this captures the
// interpolation anchors and checks /proc/cpuinfo for the nonstop_tsc
// and constant_tsc flags; missing flags warn but do not abort.
func (t *Timer) Initialize() {
	if t.initialized {
		return
	}
	switch t.kind {
	case KindTsc:
		if !checkInvariantTsc() {
			logging.Warnf("Could not determine if the tsc timer is nonstop and constant. " +
				"Timings likely to be unreliable. Switch to a timer different from " +
				"'tsc' if you have issues with timings.")
		}
		t.tscT0 = rdtsc()
		t.cmpT0 = monotonicTicks()
		t.cmpFreq = 1000000000
	case KindClockGettime, KindGettimeofday:
		// Fixed-rate clocks need no calibration.
	default:
		logging.Fatalf("Invalid timer selected, shouldn't happen.")
	}
	t.initialized = true
}

// Ticks returns the current tick count of the selected backend.
func (t *Timer) Ticks() uint64 {
	switch t.kind {
	case KindTsc:
		return rdtsc()
	case KindClockGettime:
		return monotonicTicks()
	case KindGettimeofday:
		return wallclockTicks()
	default:
		logging.Fatalf("Invalid timer selected, shouldn't happen.")
		return 0
	}
}

// ClockResolution returns ticks per second. For tsc the frequency is
// interpolated between the Initialize anchors and a second reading
// taken on the first call; call only during finalization, the result
// is cached.
func (t *Timer) ClockResolution() uint64 {
	switch t.kind {
	case KindTsc:
		t.resolveOnce.Do(func() {
			tscT1 := rdtsc()
			cmpT1 := monotonicTicks()
			logging.BugOn(cmpT1-t.cmpT0 == 0, "Start and stop timestamps must differ.")
			t.resolution = uint64(float64(tscT1-t.tscT0) /
				float64(cmpT1-t.cmpT0) * float64(t.cmpFreq))
		})
		return t.resolution
	case KindClockGettime:
		return 1000000000
	case KindGettimeofday:
		return 1000000
	default:
		logging.Fatalf("Invalid timer selected, shouldn't happen.")
		return 0
	}
}

// ClockIsGlobal reports whether timestamps from different processes
// share a clock. None of the available backends provide a
// process-global clock, so readers must normalize timestamps across
// processes.
func (t *Timer) ClockIsGlobal() bool {
	switch t.kind {
	case KindTsc, KindClockGettime, KindGettimeofday:
		return false
	default:
		logging.Fatalf("Invalid timer selected, shouldn't happen.")
		return false
	}
}
