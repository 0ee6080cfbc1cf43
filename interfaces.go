package measure

import (
	"github.com/ianlancetaylor/demangle"

	"github.com/behrlich/go-measure/internal/callstack"
	"github.com/behrlich/go-measure/internal/iomgr"
)

// Task is a unit of work inside a location.
type Task = callstack.Task

// IoParadigmType identifies an I/O paradigm.
type IoParadigmType = iomgr.ParadigmType

// I/O paradigm enum values.
const (
	IoParadigmPosix = iomgr.ParadigmPosix
	IoParadigmIsoC  = iomgr.ParadigmIsoC
	IoParadigmMpi   = iomgr.ParadigmMpi
)

// IoHandle is a live or in-creation I/O handle.
type IoHandle = iomgr.Handle

// Substrate is the marker interface for event consumers. A substrate
// implements the optional per-event interfaces below for the events
// it cares about; the runtime checks for them at registration.
type Substrate interface {
	SubstrateName() string
}

// RegionSubstrate receives region enter and exit events.
type RegionSubstrate interface {
	EnterRegion(loc *Location, timestamp uint64, region RegionHandle)
	ExitRegion(loc *Location, timestamp uint64, region RegionHandle)
}

// TaskSubstrate receives task lifecycle events.
type TaskSubstrate interface {
	CoreTaskCreate(loc *Location, task *Task)
	CoreTaskComplete(loc *Location, task *Task)
}

// IoSubstrate receives I/O paradigm enter/leave events around handle
// lifecycle activity.
type IoSubstrate interface {
	IoParadigmEnter(loc *Location, paradigm IoParadigmType)
	IoParadigmLeave(loc *Location, paradigm IoParadigmType)
}

// MemorySubstrate receives allocation tracking events. The substrate
// data array belongs to the tracked allocation and may carry
// per-substrate state across its lifetime.
type MemorySubstrate interface {
	TrackAlloc(addr, size uint64, substrateData []any, trackerTotal, processTotal uint64)
	TrackRealloc(oldAddr, oldSize uint64, oldData []any,
		newAddr, newSize uint64, newData []any, trackerTotal, processTotal uint64)
	TrackFree(addr, size uint64, substrateData []any, trackerTotal, processTotal uint64)
	LeakedMemory(addr, size uint64, substrateData []any)
}

// MetricSubstrate receives counter samples emitted through the
// per-process metric location.
type MetricSubstrate interface {
	TriggerCounter(timestamp uint64, samplingSet uint32, value uint64)
}

// AddrInfo is the result of an address-to-line lookup.
type AddrInfo struct {
	SoHandle uint64
	SoFile   string
	SoBase   uint64
	SoToken  uint64
	File     string
	Function string
	Line     uint32
}

// AddrResolver maps instruction addresses to source information. The
// compiler adapter path consults it on first observation of an
// address; the core demangles the reported function name itself.
type AddrResolver interface {
	LookupAddr(pc uint64) (AddrInfo, bool)
}

// Demangler turns a mangled symbol name into a display name.
type Demangler interface {
	Demangle(mangled string) string
}

// defaultDemangler demangles Itanium C++ ABI and Rust symbols,
// returning other names unchanged.
type defaultDemangler struct{}

func (defaultDemangler) Demangle(mangled string) string {
	return demangle.Filter(mangled)
}

// NewDemangler returns the default demangle oracle.
func NewDemangler() Demangler {
	return defaultDemangler{}
}
