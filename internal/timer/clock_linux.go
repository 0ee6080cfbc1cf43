//go:build linux

package timer

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-measure/internal/logging"
)

// monotonicTicks reads CLOCK_MONOTONIC_RAW in nanoseconds. The raw
// clock is not subject to NTP slewing and therefore suitable both as
// an event timestamp source and as the tsc interpolation reference.
func monotonicTicks() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		logging.Fatalf("clock_gettime(CLOCK_MONOTONIC_RAW) failed: %v", err)
	}
	return uint64(ts.Sec)*1000000000 + uint64(ts.Nsec)
}

// wallclockTicks reads CLOCK_REALTIME in microseconds, mirroring the
// resolution of the classic gettimeofday interface.
func wallclockTicks() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		logging.Fatalf("clock_gettime(CLOCK_REALTIME) failed: %v", err)
	}
	return uint64(ts.Sec)*1000000 + uint64(ts.Nsec)/1000
}
