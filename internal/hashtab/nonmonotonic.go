package hashtab

import (
	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/logging"
)

// nonMonotonicBucket keeps the reader/writer latch on its own
// cacheline; this measurably helps under removal-heavy load.
type nonMonotonicBucket[K, V any] struct {
	bucketCore[K, V]
	_     [constants.CachelineSize]byte
	latch rwLatch
	_     [constants.CachelineSize]byte
}

// NonMonotonic extends the monotonic table with removal. Removed
// chunks drain to a per-table free list so reinsertion does not
// allocate. The free list has its own lock, disjoint from any bucket.
type NonMonotonic[K, V any] struct {
	cfg        Config[K, V]
	buckets    []nonMonotonicBucket[K, V]
	freeListMu spinMutex
	freeList   *chunk[K, V]
}

// NewNonMonotonic creates a table from cfg. ValueDtor is mandatory in
// addition to the monotonic behavior functions.
func NewNonMonotonic[K, V any](cfg Config[K, V]) *NonMonotonic[K, V] {
	cfg.validate(true)
	return &NonMonotonic[K, V]{
		cfg:     cfg,
		buckets: make([]nonMonotonicBucket[K, V], cfg.TableSize),
	}
}

func (t *NonMonotonic[K, V]) bucket(key K) *nonMonotonicBucket[K, V] {
	idx := t.cfg.BucketIdx(key)
	logging.BugOn(int(idx) >= t.cfg.TableSize, "Out-of-bounds bucket index %d", idx)
	return &t.buckets[idx]
}

// popFreeChunk takes a chunk from the table free list or allocates.
func (t *NonMonotonic[K, V]) popFreeChunk() *chunk[K, V] {
	t.freeListMu.Lock()
	if t.freeList != nil {
		ch := t.freeList
		t.freeList = ch.next.Load()
		t.freeListMu.Unlock()
		ch.next.Store(nil)
		return ch
	}
	t.freeListMu.Unlock()
	return newChunk[K, V](t.cfg.PairsPerChunk)
}

// pushFreeChunk returns an emptied chunk to the table free list.
func (t *NonMonotonic[K, V]) pushFreeChunk(ch *chunk[K, V]) {
	t.freeListMu.Lock()
	ch.next.Store(t.freeList)
	t.freeList = ch
	t.freeListMu.Unlock()
}

// Get reports whether key is present and returns its value.
func (t *NonMonotonic[K, V]) Get(key K) (V, bool) {
	var value V
	b := t.bucket(key)
	b.latch.readerLock()
	found := getImpl(&t.cfg, &b.bucketCore, key, &value)
	b.latch.readerUnlock()
	return value, found
}

// GetAndInsert returns the value corresponding to key, constructing
// and inserting it if absent. A chunk from the table free list is
// reused before new memory is allocated.
func (t *NonMonotonic[K, V]) GetAndInsert(key K, ctorData any) (V, bool) {
	var value V
	b := t.bucket(key)
	b.latch.readerLock()
	inserted := getAndInsertImpl(&t.cfg, &b.bucketCore, key, ctorData, &value,
		func() *chunk[K, V] {
			// The bucket may have been used and emptied before; its
			// primary chunk is kept to reduce free-list locking.
			if ch := b.head.Load(); ch != nil {
				ch.next.Store(nil)
				return ch
			}
			ch := t.popFreeChunk()
			b.head.Store(ch)
			return ch
		},
		func(tail *chunk[K, V]) *chunk[K, V] {
			ch := t.popFreeChunk()
			tail.next.Store(ch)
			return ch
		})
	b.latch.readerUnlock()
	return value, inserted
}

// moveLastToRemoved fills the vacated slot with the bucket's last
// stored pair so the occupied slots stay contiguous, then shrinks the
// size counter. Must run under the bucket's writer latch. ch is the
// chunk holding the vacated slot and prev its predecessor, or nil when
// ch is the bucket's head chunk; RemoveIf always passes nil. cur is
// the bucket size before removal, i the global index of ch's first
// slot.
func (t *NonMonotonic[K, V]) moveLastToRemoved(
	b *nonMonotonicBucket[K, V],
	removed *chunk[K, V], removedIdx int,
	ch, prev *chunk[K, V],
	i, cur int,
) int {
	for next := ch.next.Load(); next != nil; next = ch.next.Load() {
		prev = ch
		ch = next
		i += t.cfg.PairsPerChunk
	}
	j := cur - i - 1
	removed.keys[removedIdx] = ch.keys[j]
	removed.values[removedIdx] = ch.values[j]

	// Clear the vacated last slot so dropped values do not pin memory.
	var zk K
	var zv V
	ch.keys[j] = zk
	ch.values[j] = zv

	if j == 0 {
		if prev == nil {
			// No known predecessor: the head chunk, or a chunk
			// reached from RemoveIf. It stays linked although empty
			// (a kept head reduces free-list locking on reuse); a
			// non-head chunk left this way is not returned to the
			// free list, and the next chunk allocation links over it.
		} else {
			prev.next.Store(nil)
			t.pushFreeChunk(ch)
		}
	}
	cur--
	b.size.Store(uint32(cur))
	return cur
}

func (t *NonMonotonic[K, V]) getAndRemoveImpl(key K, value *V) bool {
	b := t.bucket(key)
	b.latch.writerLock()
	cur := int(b.size.Load())
	ch := b.head.Load()
	var prev *chunk[K, V]
	i, j := 0, 0
	found := false
	for ; i < cur; i, j = i+1, j+1 {
		if j == t.cfg.PairsPerChunk {
			prev = ch
			ch = ch.next.Load()
			j = 0
		}
		if t.cfg.Equals(key, ch.keys[j]) {
			if value != nil {
				// Hand the element to the caller, transferring
				// memory-management responsibility.
				*value = ch.values[j]
			} else {
				t.cfg.ValueDtor(ch.keys[j], ch.values[j])
			}
			found = true
			break
		}
	}
	if !found {
		b.latch.writerUnlock()
		return false
	}
	t.moveLastToRemoved(b, ch, j, ch, prev, i-j, cur)
	b.latch.writerUnlock()
	return true
}

// Remove removes the pair for key after calling ValueDtor. Reports
// whether key was found.
func (t *NonMonotonic[K, V]) Remove(key K) bool {
	return t.getAndRemoveImpl(key, nil)
}

// GetAndRemove removes the pair for key and returns the value without
// calling ValueDtor; the caller takes over the value's resources.
func (t *NonMonotonic[K, V]) GetAndRemove(key K) (V, bool) {
	var value V
	found := t.getAndRemoveImpl(key, &value)
	return value, found
}

// RemoveIf removes every pair for which cond holds, calling ValueDtor
// on each. The slot a surviving pair was compacted into is inspected
// again, so moved pairs are re-evaluated.
func (t *NonMonotonic[K, V]) RemoveIf(cond func(K, V, any) bool, data any) {
	for bi := range t.buckets {
		b := &t.buckets[bi]
		b.latch.writerLock()
		outer := b.head.Load()
		outerI := 0
		cur := int(b.size.Load())
		for outer != nil {
			for outerJ := 0; outerI < cur && outerJ < t.cfg.PairsPerChunk; outerI, outerJ = outerI+1, outerJ+1 {
				if cond(outer.keys[outerJ], outer.values[outerJ], data) {
					t.cfg.ValueDtor(outer.keys[outerJ], outer.values[outerJ])
					cur = t.moveLastToRemoved(b, outer, outerJ, outer, nil, outerI-outerJ, cur)
					outerI--
					outerJ--
				}
			}
			outer = outer.next.Load()
		}
		b.latch.writerUnlock()
	}
}

// Iterate calls cb for every key-value pair. Serial use only.
func (t *NonMonotonic[K, V]) Iterate(cb func(K, V)) {
	for b := range t.buckets {
		iterateImpl(&t.cfg, &t.buckets[b].bucketCore, cb)
	}
}

// FreeChunks detaches all chunks, including the free list. Serial use
// only.
func (t *NonMonotonic[K, V]) FreeChunks() {
	for b := range t.buckets {
		freeChunksImpl(&t.buckets[b].bucketCore)
	}
	t.freeList = nil
}

// Len sums the bucket size counters.
func (t *NonMonotonic[K, V]) Len() int {
	n := 0
	for b := range t.buckets {
		n += int(t.buckets[b].size.Load())
	}
	return n
}

// BucketLen returns the size counter of bucket idx.
func (t *NonMonotonic[K, V]) BucketLen(idx int) int {
	return int(t.buckets[idx].size.Load())
}

// FreeListLen counts chunks parked on the free list. Intended for
// tests.
func (t *NonMonotonic[K, V]) FreeListLen() int {
	n := 0
	t.freeListMu.Lock()
	for ch := t.freeList; ch != nil; ch = ch.next.Load() {
		n++
	}
	t.freeListMu.Unlock()
	return n
}
