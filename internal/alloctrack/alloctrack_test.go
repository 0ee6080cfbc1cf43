package alloctrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allocEvent struct {
	kind         string
	addr         uint64
	size         uint64
	trackerTotal uint64
	processTotal uint64
}

type allocRecorder struct {
	events []allocEvent
	leaked []allocEvent
}

func (r *allocRecorder) TrackAlloc(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	r.events = append(r.events, allocEvent{"alloc", addr, size, trackerTotal, processTotal})
}

func (r *allocRecorder) TrackRealloc(oldAddr, oldSize uint64, oldData []any,
	newAddr, newSize uint64, newData []any, trackerTotal, processTotal uint64) {
	r.events = append(r.events, allocEvent{"realloc", newAddr, newSize, trackerTotal, processTotal})
}

func (r *allocRecorder) TrackFree(addr, size uint64, data []any, trackerTotal, processTotal uint64) {
	r.events = append(r.events, allocEvent{"free", addr, size, trackerTotal, processTotal})
}

func (r *allocRecorder) LeakedMemory(addr, size uint64, data []any) {
	r.leaked = append(r.leaked, allocEvent{kind: "leaked", addr: addr, size: size})
}

type sample struct {
	timestamp   uint64
	samplingSet uint32
	value       uint64
}

func newTestRegistry(rec *allocRecorder, samples *[]sample) *Registry {
	var clock uint64
	ml := NewMetricLocation(
		func() uint64 {
			clock++
			return clock
		},
		func(ts uint64, set uint32, value uint64) {
			if samples != nil {
				*samples = append(*samples, sample{ts, set, value})
			}
		})
	var substrates []Substrate
	if rec != nil {
		substrates = append(substrates, rec)
	}
	nextSet := uint32(0)
	return NewRegistry(ml, substrates, func(name string) uint32 {
		nextSet++
		return nextSet
	})
}

func TestAllocFreeRoundTrip(t *testing.T) {
	rec := &allocRecorder{}
	reg := newTestRegistry(rec, nil)
	tr := reg.NewTracker("Host Memory")

	tr.HandleAlloc(0x1000, 16)
	assert.Equal(t, uint64(16), tr.TotalAllocatedMemory())
	assert.Equal(t, uint64(16), reg.ProcessAllocatedMemory())

	alloc := tr.AcquireAlloc(0x1000)
	require.NotNil(t, alloc)
	assert.Equal(t, uint64(16), alloc.Size())

	size := tr.HandleFree(alloc)
	assert.Equal(t, uint64(16), size)
	assert.Zero(t, tr.TotalAllocatedMemory())
	assert.Zero(t, reg.ProcessAllocatedMemory())
	assert.Equal(t, 1, tr.FreeListLen())
	assert.Zero(t, tr.LiveAllocations())
}

func TestTrackerScenario(t *testing.T) {
	rec := &allocRecorder{}
	reg := newTestRegistry(rec, nil)
	tr := reg.NewTracker("Host Memory")

	allocs := []struct {
		addr uint64
		size uint64
	}{
		{0x1000, 16}, {0x2000, 32}, {0x1800, 8}, {0x2800, 64}, {0x1400, 4},
	}
	for _, a := range allocs {
		tr.HandleAlloc(a.addr, a.size)
	}
	assert.Equal(t, uint64(124), tr.TotalAllocatedMemory())
	assert.Equal(t, 5, tr.LiveAllocations())

	// In-place realloc of 0x2000 from 32 to 40 bytes.
	prev := tr.AcquireAlloc(0x2000)
	require.NotNil(t, prev)
	prevSize := tr.HandleRealloc(0x2000, 40, prev)
	assert.Equal(t, uint64(32), prevSize)
	assert.Equal(t, uint64(132), tr.TotalAllocatedMemory())
	assert.Equal(t, uint64(132), reg.ProcessAllocatedMemory())

	// Free of 0x1000 returns its size.
	prev = tr.AcquireAlloc(0x1000)
	require.NotNil(t, prev)
	size := tr.HandleFree(prev)
	assert.Equal(t, uint64(16), size)
	assert.Equal(t, uint64(116), tr.TotalAllocatedMemory())

	// Every remaining node is reported leaked exactly once.
	tr.ReportLeaked()
	assert.Len(t, rec.leaked, 4)
	assert.Zero(t, tr.LiveAllocations())
	assert.Equal(t, 5, tr.FreeListLen())
}

func TestTotalEqualsSumOfLiveSizes(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	tr := reg.NewTracker("Host Memory")

	sizes := map[uint64]uint64{}
	addr := uint64(0x1000)
	for i := uint64(1); i <= 64; i++ {
		tr.HandleAlloc(addr, i)
		sizes[addr] = i
		addr += 0x40
	}

	// Free every third allocation.
	for a, s := range sizes {
		if s%3 == 0 {
			node := tr.AcquireAlloc(a)
			require.NotNil(t, node)
			tr.HandleFree(node)
			delete(sizes, a)
		}
	}

	var want uint64
	for _, s := range sizes {
		want += s
	}
	assert.Equal(t, want, tr.TotalAllocatedMemory())
	assert.Equal(t, len(sizes), tr.LiveAllocations())
}

func TestProcessCounterSpansTrackers(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	host := reg.NewTracker("Host Memory")
	device := reg.NewTracker("Device Memory")

	host.HandleAlloc(0x1000, 100)
	device.HandleAlloc(0x8000, 28)

	assert.Equal(t, uint64(100), host.TotalAllocatedMemory())
	assert.Equal(t, uint64(28), device.TotalAllocatedMemory())
	assert.Equal(t, uint64(128), reg.ProcessAllocatedMemory())

	node := device.AcquireAlloc(0x8000)
	device.HandleFree(node)
	assert.Equal(t, uint64(100), reg.ProcessAllocatedMemory())
}

func TestReallocMovedAddressPeaksBeforeFreeing(t *testing.T) {
	rec := &allocRecorder{}
	reg := newTestRegistry(rec, nil)
	tr := reg.NewTracker("Host Memory")

	tr.HandleAlloc(0x1000, 100)

	prev := tr.AcquireAlloc(0x1000)
	require.NotNil(t, prev)
	prevSize := tr.HandleRealloc(0x4000, 60, prev)
	assert.Equal(t, uint64(100), prevSize)

	// Counters follow "allocate new, then free old": the reported
	// totals momentarily include both blocks.
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "realloc", last.kind)
	assert.Equal(t, uint64(160), last.trackerTotal)
	assert.Equal(t, uint64(160), last.processTotal)

	assert.Equal(t, uint64(60), tr.TotalAllocatedMemory())
	assert.Equal(t, uint64(60), reg.ProcessAllocatedMemory())

	// The node was updated in place, not copied.
	node := tr.AcquireAlloc(0x4000)
	require.Same(t, prev, node)
	tr.HandleFree(node)
}

func TestReallocSizeZeroRetainsNode(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	tr := reg.NewTracker("Host Memory")

	tr.HandleAlloc(0x1000, 100)
	prev := tr.AcquireAlloc(0x1000)
	require.NotNil(t, prev)

	prevSize := tr.HandleRealloc(0x1000, 0, prev)
	assert.Equal(t, uint64(100), prevSize)
	assert.Zero(t, tr.TotalAllocatedMemory())
	assert.Equal(t, 1, tr.LiveAllocations())
	assert.Zero(t, tr.FreeListLen())
}

func TestReallocWithoutPreviousAllocationWarnsAndAllocates(t *testing.T) {
	rec := &allocRecorder{}
	reg := newTestRegistry(rec, nil)
	tr := reg.NewTracker("Host Memory")

	prevSize := tr.HandleRealloc(0x2000, 50, nil)
	assert.Zero(t, prevSize)
	assert.Equal(t, uint64(50), tr.TotalAllocatedMemory())
	require.NotEmpty(t, rec.events)
	assert.Equal(t, "alloc", rec.events[len(rec.events)-1].kind)
}

func TestFreeNilAllocation(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	tr := reg.NewTracker("Host Memory")
	assert.Zero(t, tr.HandleFree(nil))
}

func TestNodeRecycling(t *testing.T) {
	reg := newTestRegistry(&allocRecorder{}, nil)
	tr := reg.NewTracker("Host Memory")

	tr.HandleAlloc(0x1000, 8)
	node := tr.AcquireAlloc(0x1000)
	node.substrateData = append(node.substrateData[:0], "stale")
	tr.HandleFree(node)
	require.Equal(t, 1, tr.FreeListLen())

	// The recycled node comes back with zeroed content fields.
	tr.HandleAlloc(0x3000, 12)
	assert.Zero(t, tr.FreeListLen())
	reused := tr.AcquireAlloc(0x3000)
	require.Same(t, node, reused)
	assert.Equal(t, uint64(12), reused.Size())
	for _, slot := range reused.substrateData {
		assert.Nil(t, slot)
	}
	tr.HandleFree(reused)
}

func TestMetricSamplesMonotonicAndOrdered(t *testing.T) {
	var samples []sample
	reg := newTestRegistry(nil, &samples)
	tr := reg.NewTracker("Host Memory")

	tr.HandleAlloc(0x1000, 10)
	tr.HandleAlloc(0x2000, 20)
	node := tr.AcquireAlloc(0x1000)
	tr.HandleFree(node)

	require.Len(t, samples, 3)
	assert.Equal(t, []uint64{10, 30, 20},
		[]uint64{samples[0].value, samples[1].value, samples[2].value})
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i].timestamp, samples[i-1].timestamp)
	}
}

func TestSplayEdgeCases(t *testing.T) {
	// Splay on an empty tree is a no-op.
	assert.Nil(t, splay(nil, 42))

	// Splay on a one-node tree is identity.
	node := &Allocation{address: 0x100}
	assert.Same(t, node, splay(node, 0x100))
	assert.Same(t, node, splay(node, 0x999))
	assert.Nil(t, node.left)
	assert.Nil(t, node.right)
}
