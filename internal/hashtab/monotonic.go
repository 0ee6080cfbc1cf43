package hashtab

import (
	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/logging"
)

// monotonicBucket pads each bucket so that distinct buckets' lock data
// reside in different cachelines.
type monotonicBucket[K, V any] struct {
	bucketCore[K, V]
	_ [constants.CachelineSize]byte
}

// Monotonic is a hash table without a remove operation. Getters run
// lock-free; inserts lock only their bucket.
type Monotonic[K, V any] struct {
	cfg     Config[K, V]
	buckets []monotonicBucket[K, V]
}

// NewMonotonic creates a table from cfg. The behavior functions are
// mandatory; missing ones abort.
func NewMonotonic[K, V any](cfg Config[K, V]) *Monotonic[K, V] {
	cfg.validate(false)
	return &Monotonic[K, V]{
		cfg:     cfg,
		buckets: make([]monotonicBucket[K, V], cfg.TableSize),
	}
}

func (t *Monotonic[K, V]) bucket(key K) *bucketCore[K, V] {
	idx := t.cfg.BucketIdx(key)
	logging.BugOn(int(idx) >= t.cfg.TableSize, "Out-of-bounds bucket index %d", idx)
	return &t.buckets[idx].bucketCore
}

// Get reports whether key is present and returns its value. An
// arbitrary number of Get calls can run concurrently, even together
// with GetAndInsert.
func (t *Monotonic[K, V]) Get(key K) (V, bool) {
	var value V
	found := getImpl(&t.cfg, t.bucket(key), key, &value)
	return value, found
}

// GetAndInsert returns the value corresponding to key, constructing
// and inserting it via ValueCtor with ctorData if absent. Reports
// whether a new pair was inserted.
func (t *Monotonic[K, V]) GetAndInsert(key K, ctorData any) (V, bool) {
	var value V
	b := t.bucket(key)
	inserted := getAndInsertImpl(&t.cfg, b, key, ctorData, &value,
		func() *chunk[K, V] {
			nc := newChunk[K, V](t.cfg.PairsPerChunk)
			b.head.Store(nc)
			return nc
		},
		func(tail *chunk[K, V]) *chunk[K, V] {
			nc := newChunk[K, V](t.cfg.PairsPerChunk)
			tail.next.Store(nc)
			return nc
		})
	return value, inserted
}

// Iterate calls cb for every key-value pair. Serial use only.
func (t *Monotonic[K, V]) Iterate(cb func(K, V)) {
	for b := range t.buckets {
		iterateImpl(&t.cfg, &t.buckets[b].bucketCore, cb)
	}
}

// FreeChunks detaches all chunks; afterwards the table is empty.
// Serial use only. Values needing release must be visited with
// Iterate beforehand.
func (t *Monotonic[K, V]) FreeChunks() {
	for b := range t.buckets {
		freeChunksImpl(&t.buckets[b].bucketCore)
	}
}

// Len sums the bucket size counters.
func (t *Monotonic[K, V]) Len() int {
	n := 0
	for b := range t.buckets {
		n += int(t.buckets[b].size.Load())
	}
	return n
}

// BucketLen returns the size counter of bucket idx. Intended for
// diagnostics and tests.
func (t *Monotonic[K, V]) BucketLen(idx int) int {
	return int(t.buckets[idx].size.Load())
}
