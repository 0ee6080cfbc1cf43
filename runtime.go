// Package measure is the measurement core of a performance runtime
// for HPC applications: it intercepts events from instrumented code
// (function enter/leave, memory allocation, I/O handle lifecycle,
// tasks, threads) and hands them to registered substrates, backed by
// the concurrency-critical data structures under internal/.
package measure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-measure/internal/alloctrack"
	"github.com/behrlich/go-measure/internal/callstack"
	"github.com/behrlich/go-measure/internal/filter"
	"github.com/behrlich/go-measure/internal/iomgr"
	"github.com/behrlich/go-measure/internal/logging"
	"github.com/behrlich/go-measure/internal/timer"
)

// phase tracks the measurement lifecycle. Initialization order is
// configuration parse, timer select, substrate register, per-location
// init, measurement; teardown reverses this with leak reporting
// between End and Finalize.
type phase int32

const (
	phasePre phase = iota
	phaseWithin
	phasePost
	phaseFinalized
)

// Runtime is the explicitly-constructed handle to all process-wide
// measurement state: the selected timer, the definition registry, the
// paradigm registry, and the process-wide allocation counter.
type Runtime struct {
	cfg   *Config
	state atomic.Int32

	defs       *Definitions
	filter     *filter.Filter
	timer      *timer.Timer
	stats      Stats
	demangler  Demangler
	resolver   AddrResolver
	substrates []Substrate

	// substrates split by capability
	regionSubs []RegionSubstrate
	taskSubs   []TaskSubstrate
	ioSubs     []IoSubstrate
	memSubs    []MemorySubstrate
	metricSubs []MetricSubstrate

	io            *iomgr.Manager
	allocRegistry *alloctrack.Registry
	memTracker    *alloctrack.Tracker

	addrCache *addrCache

	mu        sync.Mutex
	locations []*Location
	locByID   map[uint64]*Location
	nextLocID uint64
}

// Location is one logical execution stream, typically one per OS
// thread plus one per offload device stream. It owns the per-location
// state of every subsystem.
type Location struct {
	id uint64
	rt *Runtime

	tasks *callstack.LocationData
	io    *iomgr.LocationData

	// substrateData gives each substrate a per-location slot.
	substrateData []any
}

// ID returns the location's id.
func (loc *Location) ID() uint64 {
	return loc.id
}

// Runtime returns the owning runtime.
func (loc *Location) Runtime() *Runtime {
	return loc.rt
}

// IoLocation exposes the location's I/O handle stack state for
// adapters.
func (loc *Location) IoLocation() *iomgr.LocationData {
	return loc.io
}

// CurrentTask returns the task events on this location are attributed
// to.
func (loc *Location) CurrentTask() *Task {
	return loc.tasks.CurrentTask()
}

// SubstrateData returns the substrate's per-location slot.
func (loc *Location) SubstrateData(substrateID int) any {
	return loc.substrateData[substrateID]
}

// SetSubstrateData stores data in the substrate's per-location slot.
func (loc *Location) SetSubstrateData(substrateID int, data any) {
	loc.substrateData[substrateID] = data
}

// Options configure runtime construction beyond the environment
// variables.
type Options struct {
	// Config overrides the environment-derived configuration.
	Config *Config

	// Definitions overrides the definition registry.
	Definitions *Definitions

	// Substrates are the event consumers; each is probed for the
	// optional per-event interfaces.
	Substrates []Substrate

	// AddrResolver backs the address-to-region cache. Without one,
	// unknown addresses collapse to FilteredRegion.
	AddrResolver AddrResolver

	// Demangler overrides the default demangle oracle.
	Demangler Demangler
}

// NewRuntime builds a runtime: configuration parse, timer select, and
// substrate registration. No events may be produced yet; call Begin
// first.
func NewRuntime(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = ConfigFromEnv()
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{
		cfg:        cfg,
		defs:       opts.Definitions,
		filter:     filter.New(),
		timer:      timer.New(cfg.Timer),
		demangler:  opts.Demangler,
		resolver:   opts.AddrResolver,
		substrates: opts.Substrates,
		locByID:    make(map[uint64]*Location),
	}
	if rt.defs == nil {
		rt.defs = NewDefinitions()
	}
	if rt.demangler == nil {
		rt.demangler = NewDemangler()
	}

	if cfg.FilteringFile != "" {
		if err := rt.filter.ParseFile(cfg.FilteringFile); err != nil {
			return nil, WrapError("FILTER_PARSE", ErrCodeFilterSyntax, err)
		}
	}

	for _, s := range opts.Substrates {
		if rs, ok := s.(RegionSubstrate); ok {
			rt.regionSubs = append(rt.regionSubs, rs)
		}
		if ts, ok := s.(TaskSubstrate); ok {
			rt.taskSubs = append(rt.taskSubs, ts)
		}
		if is, ok := s.(IoSubstrate); ok {
			rt.ioSubs = append(rt.ioSubs, is)
		}
		if ms, ok := s.(MemorySubstrate); ok {
			rt.memSubs = append(rt.memSubs, ms)
		}
		if cs, ok := s.(MetricSubstrate); ok {
			rt.metricSubs = append(rt.metricSubs, cs)
		}
	}

	rt.io = iomgr.NewManager([]iomgr.Substrate{(*ioBridge)(rt)}, rt.defs.NewIoFile)

	var metricLoc *alloctrack.MetricLocation
	if len(rt.metricSubs) > 0 {
		metricLoc = alloctrack.NewMetricLocation(rt.timer.Ticks, rt.emitCounter)
	}
	rt.allocRegistry = alloctrack.NewRegistry(metricLoc,
		[]alloctrack.Substrate{(*memBridge)(rt)}, rt.defs.NewSamplingSet)
	if cfg.MemoryRecording {
		rt.memTracker = rt.allocRegistry.NewTracker("Host Memory")
	}

	rt.addrCache = newAddrCache(rt)

	return rt, nil
}

func (rt *Runtime) phase() phase {
	return phase(rt.state.Load())
}

// Begin starts the measurement phase: the timer is initialized and
// locations may be created and produce events.
func (rt *Runtime) Begin() error {
	if !rt.state.CompareAndSwap(int32(phasePre), int32(phaseWithin)) {
		return NewError("BEGIN", ErrCodeWrongPhase, "measurement already begun")
	}
	rt.timer.Initialize()
	rt.stats.BeginTime.Store(nowUnixNano())
	return nil
}

// End stops the measurement phase. Remaining regions are unwound and
// leaked allocations reported before Finalize.
func (rt *Runtime) End() error {
	if !rt.state.CompareAndSwap(int32(phaseWithin), int32(phasePost)) {
		return NewError("END", ErrCodeWrongPhase, "measurement not within its phase")
	}
	rt.stats.EndTime.Store(nowUnixNano())

	rt.mu.Lock()
	locations := append([]*Location(nil), rt.locations...)
	rt.mu.Unlock()

	for _, loc := range locations {
		task := loc.tasks.CurrentTask()
		loc.tasks.ExitAllRegions(task, func(region RegionHandle) {
			loc.exitRegion(region)
		})
	}

	if rt.memTracker != nil {
		rt.memTracker.ReportLeaked()
	}
	return nil
}

// Finalize tears the runtime down: locations are finalized and the
// timer resolution fixed. The runtime produces no further events.
func (rt *Runtime) Finalize() error {
	if !rt.state.CompareAndSwap(int32(phasePost), int32(phaseFinalized)) {
		return NewError("FINALIZE", ErrCodeWrongPhase, "measurement not ended")
	}

	rt.mu.Lock()
	locations := append([]*Location(nil), rt.locations...)
	rt.mu.Unlock()

	for _, loc := range locations {
		loc.tasks.FinalizeLocation()
	}

	// Force the interpolation fixpoint so later reads are stable.
	rt.timer.ClockResolution()
	return nil
}

// NewLocation creates a location. parent is the forking location, nil
// for the initial one; the new location's implicit task inherits the
// parent's current call-path hash.
func (rt *Runtime) NewLocation(parent *Location) *Location {
	logging.BugOn(rt.phase() == phaseFinalized, "Location created after finalization")

	var parentHash uint32
	if parent != nil {
		parentHash = parent.tasks.RegionStackHash(parent.tasks.CurrentTask())
	}

	rt.mu.Lock()
	rt.nextLocID++
	id := rt.nextLocID
	rt.mu.Unlock()

	loc := &Location{
		id:            id,
		rt:            rt,
		substrateData: make([]any, len(rt.substrates)),
	}
	loc.io = iomgr.NewLocation(id)
	loc.tasks = callstack.NewLocation(id, rt.defs.RegionHash,
		[]callstack.Substrate{&taskBridge{rt: rt, loc: loc}}, parentHash)

	rt.mu.Lock()
	rt.locations = append(rt.locations, loc)
	rt.locByID[id] = loc
	rt.mu.Unlock()

	return loc
}

func (rt *Runtime) location(id uint64) *Location {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.locByID[id]
}

// Definitions returns the definition registry.
func (rt *Runtime) Definitions() *Definitions {
	return rt.defs
}

// Filter returns the filter engine.
func (rt *Runtime) Filter() *filter.Filter {
	return rt.filter
}

// IoManager returns the I/O handle manager for adapters.
func (rt *Runtime) IoManager() *iomgr.Manager {
	return rt.io
}

// MemoryTracker returns the default allocation tracker, or nil when
// memory recording is disabled.
func (rt *Runtime) MemoryTracker() *alloctrack.Tracker {
	return rt.memTracker
}

// NewAllocTracker creates an additional allocation tracker, e.g. for
// a device memory paradigm. All trackers share the process-wide
// counter.
func (rt *Runtime) NewAllocTracker(metricName string) *alloctrack.Tracker {
	return rt.allocRegistry.NewTracker(metricName)
}

// ProcessAllocatedMemory returns the process-wide live allocation
// byte count.
func (rt *Runtime) ProcessAllocatedMemory() uint64 {
	return rt.allocRegistry.ProcessAllocatedMemory()
}

// Ticks returns the current timestamp of the selected timer.
func (rt *Runtime) Ticks() uint64 {
	return rt.timer.Ticks()
}

// ClockResolution returns ticks per second; call during finalization.
func (rt *Runtime) ClockResolution() uint64 {
	return rt.timer.ClockResolution()
}

// ClockIsGlobal reports whether timestamps are comparable across
// processes without normalization.
func (rt *Runtime) ClockIsGlobal() bool {
	return rt.timer.ClockIsGlobal()
}

// Stats returns the runtime's event counters.
func (rt *Runtime) Stats() *Stats {
	return &rt.stats
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

// emitCounter fans a metric sample out to the metric substrates.
func (rt *Runtime) emitCounter(timestamp uint64, samplingSet uint32, value uint64) {
	rt.stats.CounterSamples.Add(1)
	for _, s := range rt.metricSubs {
		s.TriggerCounter(timestamp, samplingSet, value)
	}
}

// EnterRegion records a region enter on the location. Filtered
// regions are pushed for stack consistency but produce no event.
func (loc *Location) EnterRegion(region RegionHandle) {
	rt := loc.rt
	loc.tasks.Enter(region)
	if region == FilteredRegion {
		rt.stats.FilteredEnters.Add(1)
		return
	}
	rt.stats.Enters.Add(1)
	ts := rt.timer.Ticks()
	for _, s := range rt.regionSubs {
		s.EnterRegion(loc, ts, region)
	}
}

// ExitRegion records a region exit. Exiting a region that was not
// entered is a recoverable inconsistency: a warning, and the event is
// dropped.
func (loc *Location) ExitRegion(region RegionHandle) {
	task := loc.tasks.CurrentTask()
	if task.Empty() {
		loc.rt.stats.UnmatchedExits.Add(1)
		logging.Warnf("Region exited that was not entered (location %d)", loc.id)
		return
	}
	if top := task.TopRegion(); top != region {
		loc.rt.stats.UnmatchedExits.Add(1)
		logging.Warnf("Exit of region %d does not match top of stack %d (location %d)",
			region, top, loc.id)
		return
	}
	loc.exitRegion(region)
}

// exitRegion pops the verified top region and emits the event.
func (loc *Location) exitRegion(region RegionHandle) {
	rt := loc.rt
	loc.tasks.Exit()
	if region == FilteredRegion {
		return
	}
	rt.stats.Exits.Add(1)
	ts := rt.timer.Ticks()
	for _, s := range rt.regionSubs {
		s.ExitRegion(loc, ts, region)
	}
}

// RegionStackHash returns the call-path hash of the location's
// current task.
func (loc *Location) RegionStackHash() uint32 {
	return loc.tasks.RegionStackHash(loc.tasks.CurrentTask())
}

// CreateTask creates an explicit task on the location.
func (loc *Location) CreateTask(threadID, generation uint32) *Task {
	return loc.tasks.CreateTask(threadID, generation)
}

// CompleteTask completes a task and recycles it.
func (loc *Location) CompleteTask(task *Task) {
	loc.tasks.CompleteTask(task)
}

// SwitchTask makes task the location's current task.
func (loc *Location) SwitchTask(task *Task) {
	loc.tasks.Switch(task)
}

// taskBridge forwards task lifecycle notifications from the region
// stack to the registered substrates.
type taskBridge struct {
	rt  *Runtime
	loc *Location
}

func (b *taskBridge) CoreTaskCreate(_ *callstack.LocationData, task *callstack.Task) {
	b.rt.stats.TaskCreates.Add(1)
	for _, s := range b.rt.taskSubs {
		s.CoreTaskCreate(b.loc, task)
	}
}

func (b *taskBridge) CoreTaskComplete(_ *callstack.LocationData, task *callstack.Task) {
	b.rt.stats.TaskCompletes.Add(1)
	for _, s := range b.rt.taskSubs {
		s.CoreTaskComplete(b.loc, task)
	}
}

// ioBridge forwards paradigm enter/leave notifications from the I/O
// handle manager to the registered substrates.
type ioBridge Runtime

func (b *ioBridge) IoParadigmEnter(locID uint64, p iomgr.ParadigmType) {
	rt := (*Runtime)(b)
	rt.stats.IoParadigmEnters.Add(1)
	if loc := rt.location(locID); loc != nil {
		for _, s := range rt.ioSubs {
			s.IoParadigmEnter(loc, p)
		}
	}
}

func (b *ioBridge) IoParadigmLeave(locID uint64, p iomgr.ParadigmType) {
	rt := (*Runtime)(b)
	rt.stats.IoParadigmLeaves.Add(1)
	if loc := rt.location(locID); loc != nil {
		for _, s := range rt.ioSubs {
			s.IoParadigmLeave(loc, p)
		}
	}
}

// memBridge forwards allocation tracking notifications to the
// registered substrates.
type memBridge Runtime

func (b *memBridge) TrackAlloc(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	rt := (*Runtime)(b)
	rt.stats.Allocs.Add(1)
	for _, s := range rt.memSubs {
		s.TrackAlloc(addr, size, data, trackerTotal, processTotal)
	}
}

func (b *memBridge) TrackRealloc(oldAddr, oldSize uint64, oldData []any,
	newAddr, newSize uint64, newData []any, trackerTotal, processTotal uint64) {
	rt := (*Runtime)(b)
	rt.stats.Reallocs.Add(1)
	for _, s := range rt.memSubs {
		s.TrackRealloc(oldAddr, oldSize, oldData, newAddr, newSize, newData,
			trackerTotal, processTotal)
	}
}

func (b *memBridge) TrackFree(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	rt := (*Runtime)(b)
	rt.stats.Frees.Add(1)
	for _, s := range rt.memSubs {
		s.TrackFree(addr, size, data, trackerTotal, processTotal)
	}
}

func (b *memBridge) LeakedMemory(addr, size uint64, data []any) {
	rt := (*Runtime)(b)
	rt.stats.Leaked.Add(1)
	for _, s := range rt.memSubs {
		s.LeakedMemory(addr, size, data)
	}
}
