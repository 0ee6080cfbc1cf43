// Package alloctrack maintains the set of live memory allocations per
// tracker and the process-wide allocated-byte counter. Each tracker
// owns a top-down splay tree keyed on the allocation address and a
// free list of recycled allocation nodes; the aggregate is emitted as
// a metric sample on every change.
package alloctrack

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-measure/internal/logging"
)

// Allocation is one live allocation. Nodes move between the tracker's
// splay tree and its free list; on the free list, the right link
// serves as the chain.
type Allocation struct {
	left, right   *Allocation
	address       uint64
	size          uint64
	substrateData []any
}

// Address returns the allocation's start address.
func (a *Allocation) Address() uint64 {
	return a.address
}

// Size returns the allocated byte count.
func (a *Allocation) Size() uint64 {
	return a.size
}

// Substrate receives allocation tracking notifications. The substrate
// data array belongs to the relevant allocation node and may hold
// per-substrate state across the allocation's lifetime.
type Substrate interface {
	TrackAlloc(addr, size uint64, substrateData []any, trackerTotal, processTotal uint64)
	TrackRealloc(oldAddr, oldSize uint64, oldData []any,
		newAddr, newSize uint64, newData []any, trackerTotal, processTotal uint64)
	TrackFree(addr, size uint64, substrateData []any, trackerTotal, processTotal uint64)
	LeakedMemory(addr, size uint64, substrateData []any)
}

// MetricLocation serializes metric samples from one location group.
// The timestamp is taken after acquisition, which keeps metric
// timestamps monotonic per location and rules out back-dated samples.
type MetricLocation struct {
	mu   sync.Mutex
	now  func() uint64
	emit func(timestamp uint64, samplingSet uint32, value uint64)
}

// NewMetricLocation builds a metric location over a tick source and a
// sample sink.
func NewMetricLocation(now func() uint64, emit func(timestamp uint64, samplingSet uint32, value uint64)) *MetricLocation {
	logging.BugOn(now == nil || emit == nil, "Metric location needs a tick source and a sink")
	return &MetricLocation{now: now, emit: emit}
}

// trigger emits one counter sample under the location lock.
func (ml *MetricLocation) trigger(samplingSet uint32, value uint64) {
	ml.mu.Lock()
	ts := ml.now()
	ml.emit(ts, samplingSet, value)
	ml.mu.Unlock()
}

// Registry ties the trackers of a process together: the shared
// process counter, the metric location, and the substrates.
type Registry struct {
	processAllocated atomic.Uint64
	metricLoc        *MetricLocation
	substrates       []Substrate
	newSamplingSet   func(metricName string) uint32
}

// NewRegistry creates the per-process tracker registry. metricLoc may
// be nil when no metric substrate is active; newSamplingSet is the
// definition sink for the per-tracker sampling sets.
func NewRegistry(metricLoc *MetricLocation, substrates []Substrate, newSamplingSet func(metricName string) uint32) *Registry {
	logging.BugOn(newSamplingSet == nil, "Missing sampling-set definition sink")
	return &Registry{
		metricLoc:      metricLoc,
		substrates:     substrates,
		newSamplingSet: newSamplingSet,
	}
}

// ProcessAllocatedMemory returns the process-wide live byte count.
// Sequentially consistent: reads from any thread reflect a
// linearizable history of the updates.
func (r *Registry) ProcessAllocatedMemory() uint64 {
	return r.processAllocated.Load()
}

// Tracker is one live-allocation set, e.g. one per memory paradigm.
type Tracker struct {
	reg *Registry

	mu          sync.Mutex
	allocations *Allocation
	freeList    *Allocation

	samplingSet    uint32
	totalAllocated uint64
}

// NewTracker creates a tracker whose aggregate is emitted under a
// sampling set defined for metricName.
func (r *Registry) NewTracker(metricName string) *Tracker {
	return &Tracker{
		reg:         r,
		samplingSet: r.newSamplingSet(metricName),
	}
}

// TotalAllocatedMemory returns the tracker's live byte count.
func (t *Tracker) TotalAllocatedMemory() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalAllocated
}

func (t *Tracker) emitSample(value uint64) {
	if t.reg.metricLoc != nil {
		t.reg.metricLoc.trigger(t.samplingSet, value)
	}
}

// insertAllocation attaches a detached node into the splay tree.
func (t *Tracker) insertAllocation(allocation *Allocation) {
	if t.allocations != nil {
		t.allocations = splay(t.allocations, allocation.address)
		if allocation.address < t.allocations.address {
			allocation.right = t.allocations
			allocation.left = allocation.right.left
			allocation.right.left = nil
		} else if allocation.address > t.allocations.address {
			allocation.left = t.allocations
			allocation.right = allocation.left.right
			allocation.left.right = nil
		} else {
			logging.Warnf("Allocation already known: 0x%x", allocation.address)
		}
	}
	t.allocations = allocation
}

// addAllocation obtains a node (free list or allocator), initializes
// it, and inserts it.
func (t *Tracker) addAllocation(addr, size uint64) *Allocation {
	node := t.freeList
	if node != nil {
		t.freeList = node.right
		node.left = nil
		node.right = nil
		node.substrateData = node.substrateData[:0]
	} else {
		node = &Allocation{}
	}
	node.address = addr
	node.size = size
	node.substrateData = append(node.substrateData, make([]any, len(t.reg.substrates))...)

	t.insertAllocation(node)
	return node
}

// findAllocation splays addr to the root and returns the node when it
// is an exact match.
func (t *Tracker) findAllocation(addr uint64) *Allocation {
	if t.allocations == nil {
		return nil
	}
	t.allocations = splay(t.allocations, addr)
	if addr == t.allocations.address {
		return t.allocations
	}
	return nil
}

// removeAllocation detaches the root node from the tree. The root
// becomes the merge of the subtrees, with the smaller-than-root
// subtree re-splayed so its largest element takes over.
func (t *Tracker) removeAllocation(allocation *Allocation) {
	if t.allocations == nil || t.allocations != allocation {
		return
	}
	if allocation.left == nil {
		t.allocations = allocation.right
	} else {
		t.allocations = splay(allocation.left, allocation.address)
		t.allocations.right = allocation.right
	}
	allocation.left = nil
	allocation.right = nil
}

// freeAllocation pushes a detached node onto the free list.
func (t *Tracker) freeAllocation(allocation *Allocation) {
	allocation.left = nil
	allocation.right = t.freeList
	t.freeList = allocation
}

// HandleAlloc records a new allocation of size bytes at addr and
// emits the updated aggregate.
func (t *Tracker) HandleAlloc(addr, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	processSave := t.reg.processAllocated.Add(size)
	t.totalAllocated += size
	allocation := t.addAllocation(addr, size)

	t.emitSample(t.totalAllocated)

	for _, s := range t.reg.substrates {
		s.TrackAlloc(addr, size, allocation.substrateData,
			t.totalAllocated, processSave)
	}
}

// AcquireAlloc detaches and returns the allocation at addr. The
// caller must either hand it to HandleRealloc or HandleFree, or
// reinsert it; an unknown address warns and returns nil.
func (t *Tracker) AcquireAlloc(addr uint64) *Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	logging.BugOn(addr == 0, "Can't acquire allocation for NULL pointers.")

	allocation := t.findAllocation(addr)
	if allocation != nil {
		t.removeAllocation(allocation)
	} else {
		logging.Warnf("Could not find allocation 0x%x.", addr)
	}
	return allocation
}

// HandleRealloc records a reallocation to resultAddr/size of the
// previously acquired prevAllocation and returns the previous size.
// The counters follow the system's "allocate new, then free old"
// sequence, so the reported peak momentarily includes both blocks
// when the address changed. A nil prevAllocation behaves like an
// alloc and warns.
func (t *Tracker) HandleRealloc(resultAddr, size uint64, prevAllocation *Allocation) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prevSize uint64
	var totalSave, processSave uint64

	allocation := prevAllocation
	if allocation != nil {
		prevSize = allocation.size

		if allocation.address == resultAddr {
			// In place; size zero is treated as a realloc that
			// retains the node, not as free-plus-alloc.
			processSave = t.reg.processAllocated.Add(size - allocation.size)
			t.totalAllocated += size - allocation.size
			totalSave = t.totalAllocated

			for _, s := range t.reg.substrates {
				s.TrackRealloc(allocation.address, allocation.size, allocation.substrateData,
					resultAddr, size, allocation.substrateData,
					totalSave, processSave)
			}

			allocation.size = size
			t.insertAllocation(allocation)
		} else {
			processSave = t.reg.processAllocated.Add(size)
			t.reg.processAllocated.Add(-allocation.size)

			t.totalAllocated += size
			totalSave = t.totalAllocated
			t.totalAllocated -= allocation.size

			for _, s := range t.reg.substrates {
				s.TrackRealloc(allocation.address, allocation.size, allocation.substrateData,
					resultAddr, size, allocation.substrateData,
					totalSave, processSave)
			}

			allocation.address = resultAddr
			allocation.size = size
			t.insertAllocation(allocation)
		}
	} else {
		logging.Warnf("Could not find previous allocation.")

		processSave = t.reg.processAllocated.Add(size)
		t.totalAllocated += size
		totalSave = t.totalAllocated

		allocation = t.addAllocation(resultAddr, size)
		for _, s := range t.reg.substrates {
			s.TrackAlloc(resultAddr, size, allocation.substrateData,
				totalSave, processSave)
		}
	}

	t.emitSample(totalSave)
	return prevSize
}

// HandleFree records the release of a previously acquired allocation
// and returns its size. A nil allocation warns and returns zero.
func (t *Tracker) HandleFree(allocation *Allocation) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if allocation == nil {
		logging.Warnf("Could not find previous allocation, ignoring event.")
		return 0
	}

	addr := allocation.address
	size := allocation.size

	processSave := t.reg.processAllocated.Add(-size)
	t.totalAllocated -= size

	// The node returns to the free list before the substrates run;
	// hand them a copy of the slot array.
	substrateData := append([]any(nil), allocation.substrateData...)
	t.freeAllocation(allocation)

	t.emitSample(t.totalAllocated)

	for _, s := range t.reg.substrates {
		s.TrackFree(addr, size, substrateData, t.totalAllocated, processSave)
	}
	return size
}

// ReportLeaked walks the remaining tree, reports every node as leaked
// memory, and recycles it. Runs between measurement end and
// finalization.
func (t *Tracker) ReportLeaked() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.allocations != nil {
		node := t.allocations
		for _, s := range t.reg.substrates {
			s.LeakedMemory(node.address, node.size, node.substrateData)
		}
		t.removeAllocation(node)
		t.freeAllocation(node)
	}
}

// LiveAllocations counts the nodes in the tree. Intended for tests
// and diagnostics.
func (t *Tracker) LiveAllocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countNodes(t.allocations)
}

// FreeListLen counts the recycled nodes. Intended for tests.
func (t *Tracker) FreeListLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for node := t.freeList; node != nil; node = node.right {
		n++
	}
	return n
}

func countNodes(node *Allocation) int {
	if node == nil {
		return 0
	}
	return 1 + countNodes(node.left) + countNodes(node.right)
}
