package measure

import (
	"sync/atomic"
	"time"
)

// Stats tracks operational statistics of a measurement run. All
// counters are updated with atomics on the event hot paths.
type Stats struct {
	// Region events
	Enters          atomic.Uint64 // Region enter events
	Exits           atomic.Uint64 // Region exit events
	FilteredEnters  atomic.Uint64 // Enters collapsed by the filter
	UnmatchedExits  atomic.Uint64 // Exits without a matching enter
	RegionsDefined  atomic.Uint64 // Distinct regions registered
	AddrCacheMisses atomic.Uint64 // First-seen instruction addresses

	// Memory events
	Allocs   atomic.Uint64 // Tracked allocations
	Reallocs atomic.Uint64 // Tracked reallocations
	Frees    atomic.Uint64 // Tracked frees
	Leaked   atomic.Uint64 // Blocks reported leaked

	// I/O events
	IoParadigmEnters atomic.Uint64 // Paradigm enters around handle activity
	IoParadigmLeaves atomic.Uint64 // Paradigm leaves around handle activity

	// Task events
	TaskCreates   atomic.Uint64 // Task creations
	TaskCompletes atomic.Uint64 // Task completions

	// Metric samples
	CounterSamples atomic.Uint64 // Counter samples emitted

	// Run lifecycle
	BeginTime atomic.Int64 // Measurement begin timestamp (UnixNano)
	EndTime   atomic.Int64 // Measurement end timestamp (UnixNano)
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Enters          uint64
	Exits           uint64
	FilteredEnters  uint64
	UnmatchedExits  uint64
	RegionsDefined  uint64
	AddrCacheMisses uint64

	Allocs   uint64
	Reallocs uint64
	Frees    uint64
	Leaked   uint64

	IoParadigmEnters uint64
	IoParadigmLeaves uint64

	TaskCreates   uint64
	TaskCompletes uint64

	CounterSamples uint64

	// Computed statistics
	TotalEvents    uint64
	EventsPerSec   float64
	MeasurementNs  uint64
	FilteredShare  float64 // Fraction of enters that were filtered
}

// Snapshot returns a point-in-time snapshot of the statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Enters:          s.Enters.Load(),
		Exits:           s.Exits.Load(),
		FilteredEnters:  s.FilteredEnters.Load(),
		UnmatchedExits:  s.UnmatchedExits.Load(),
		RegionsDefined:  s.RegionsDefined.Load(),
		AddrCacheMisses: s.AddrCacheMisses.Load(),

		Allocs:   s.Allocs.Load(),
		Reallocs: s.Reallocs.Load(),
		Frees:    s.Frees.Load(),
		Leaked:   s.Leaked.Load(),

		IoParadigmEnters: s.IoParadigmEnters.Load(),
		IoParadigmLeaves: s.IoParadigmLeaves.Load(),

		TaskCreates:   s.TaskCreates.Load(),
		TaskCompletes: s.TaskCompletes.Load(),

		CounterSamples: s.CounterSamples.Load(),
	}

	snap.TotalEvents = snap.Enters + snap.Exits + snap.Allocs + snap.Reallocs +
		snap.Frees + snap.IoParadigmEnters + snap.IoParadigmLeaves

	begin := s.BeginTime.Load()
	end := s.EndTime.Load()
	if begin > 0 {
		if end == 0 {
			end = time.Now().UnixNano()
		}
		snap.MeasurementNs = uint64(end - begin)
	}
	if snap.MeasurementNs > 0 {
		snap.EventsPerSec = float64(snap.TotalEvents) / (float64(snap.MeasurementNs) / 1e9)
	}
	if snap.Enters+snap.FilteredEnters > 0 {
		snap.FilteredShare = float64(snap.FilteredEnters) /
			float64(snap.Enters+snap.FilteredEnters)
	}

	return snap
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.Enters.Store(0)
	s.Exits.Store(0)
	s.FilteredEnters.Store(0)
	s.UnmatchedExits.Store(0)
	s.RegionsDefined.Store(0)
	s.AddrCacheMisses.Store(0)
	s.Allocs.Store(0)
	s.Reallocs.Store(0)
	s.Frees.Store(0)
	s.Leaked.Store(0)
	s.IoParadigmEnters.Store(0)
	s.IoParadigmLeaves.Store(0)
	s.TaskCreates.Store(0)
	s.TaskCompletes.Store(0)
	s.CounterSamples.Store(0)
	s.BeginTime.Store(0)
	s.EndTime.Store(0)
}
