package measure

import "sync"

// MockSubstrate provides a mock implementation of all optional
// substrate interfaces and records received events for verification.
// This is useful for unit testing adapters and tools built on the
// measurement core.
type MockSubstrate struct {
	mu sync.Mutex

	EnterEvents []RegionEvent
	ExitEvents  []RegionEvent

	TaskCreated   int
	TaskCompleted int

	ParadigmEnters []IoParadigmType
	ParadigmLeaves []IoParadigmType

	AllocEvents   []MemoryEvent
	ReallocEvents []MemoryEvent
	FreeEvents    []MemoryEvent
	LeakEvents    []MemoryEvent

	Samples []CounterSample
}

// RegionEvent is one recorded enter or exit.
type RegionEvent struct {
	Location  uint64
	Timestamp uint64
	Region    RegionHandle
}

// MemoryEvent is one recorded allocation tracking event.
type MemoryEvent struct {
	Addr         uint64
	Size         uint64
	TrackerTotal uint64
	ProcessTotal uint64
}

// CounterSample is one recorded metric sample.
type CounterSample struct {
	Timestamp   uint64
	SamplingSet uint32
	Value       uint64
}

// NewMockSubstrate creates an empty recording substrate.
func NewMockSubstrate() *MockSubstrate {
	return &MockSubstrate{}
}

// SubstrateName implements Substrate.
func (m *MockSubstrate) SubstrateName() string {
	return "mock"
}

// EnterRegion implements RegionSubstrate.
func (m *MockSubstrate) EnterRegion(loc *Location, timestamp uint64, region RegionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnterEvents = append(m.EnterEvents, RegionEvent{loc.ID(), timestamp, region})
}

// ExitRegion implements RegionSubstrate.
func (m *MockSubstrate) ExitRegion(loc *Location, timestamp uint64, region RegionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExitEvents = append(m.ExitEvents, RegionEvent{loc.ID(), timestamp, region})
}

// CoreTaskCreate implements TaskSubstrate.
func (m *MockSubstrate) CoreTaskCreate(loc *Location, task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TaskCreated++
}

// CoreTaskComplete implements TaskSubstrate.
func (m *MockSubstrate) CoreTaskComplete(loc *Location, task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TaskCompleted++
}

// IoParadigmEnter implements IoSubstrate.
func (m *MockSubstrate) IoParadigmEnter(loc *Location, paradigm IoParadigmType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ParadigmEnters = append(m.ParadigmEnters, paradigm)
}

// IoParadigmLeave implements IoSubstrate.
func (m *MockSubstrate) IoParadigmLeave(loc *Location, paradigm IoParadigmType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ParadigmLeaves = append(m.ParadigmLeaves, paradigm)
}

// TrackAlloc implements MemorySubstrate.
func (m *MockSubstrate) TrackAlloc(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllocEvents = append(m.AllocEvents, MemoryEvent{addr, size, trackerTotal, processTotal})
}

// TrackRealloc implements MemorySubstrate.
func (m *MockSubstrate) TrackRealloc(oldAddr, oldSize uint64, oldData []any,
	newAddr, newSize uint64, newData []any, trackerTotal, processTotal uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReallocEvents = append(m.ReallocEvents, MemoryEvent{newAddr, newSize, trackerTotal, processTotal})
}

// TrackFree implements MemorySubstrate.
func (m *MockSubstrate) TrackFree(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FreeEvents = append(m.FreeEvents, MemoryEvent{addr, size, trackerTotal, processTotal})
}

// LeakedMemory implements MemorySubstrate.
func (m *MockSubstrate) LeakedMemory(addr, size uint64, data []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeakEvents = append(m.LeakEvents, MemoryEvent{Addr: addr, Size: size})
}

// TriggerCounter implements MetricSubstrate.
func (m *MockSubstrate) TriggerCounter(timestamp uint64, samplingSet uint32, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Samples = append(m.Samples, CounterSample{timestamp, samplingSet, value})
}

// Compile-time interface checks
var (
	_ Substrate        = (*MockSubstrate)(nil)
	_ RegionSubstrate  = (*MockSubstrate)(nil)
	_ TaskSubstrate    = (*MockSubstrate)(nil)
	_ IoSubstrate      = (*MockSubstrate)(nil)
	_ MemorySubstrate  = (*MockSubstrate)(nil)
	_ MetricSubstrate  = (*MockSubstrate)(nil)
	_ RegionSubstrate  = (*Profiling)(nil)
	_ Substrate        = (*Profiling)(nil)
)

// MockAddrResolver resolves addresses from a fixed table. Useful for
// testing the compiler adapter path.
type MockAddrResolver struct {
	Table map[uint64]AddrInfo
}

// LookupAddr implements AddrResolver.
func (r *MockAddrResolver) LookupAddr(pc uint64) (AddrInfo, bool) {
	info, ok := r.Table[pc]
	return info, ok
}
