//go:build !linux

package timer

import "time"

// Non-Linux builds fall back to the runtime clock. time.Now carries a
// monotonic reading, so event ordering per process stays intact.

var wallclockEpoch = time.Now()

func monotonicTicks() uint64 {
	return uint64(time.Since(wallclockEpoch))
}

func wallclockTicks() uint64 {
	return uint64(time.Now().UnixMicro())
}
