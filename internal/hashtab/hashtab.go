// Package hashtab implements the bucket-locked, chunked-chain hash
// tables backing the measurement caches (address-to-region,
// handle-to-metadata, file-path-to-id).
//
// Two variants exist: Monotonic, which never removes entries, and
// NonMonotonic, which additionally supports removal. Care was taken to
// minimize locking: an arbitrary number of getters can run
// concurrently, even while an insert takes place. Remove operations
// block until pending getters and inserters have finished.
//
// A table is instantiated with a Config providing the key and value
// behavior. Insert operations are modeled as GetAndInsert: the value
// constructor only runs when the key is not present, and the key
// stored in the table must compare equal to the probe key afterwards.
package hashtab

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-measure/internal/logging"
)

// Config supplies the per-instantiation behavior of a table.
type Config[K, V any] struct {
	// PairsPerChunk is the number of key/value slots per chunk.
	// Consider sizing chunks to fill whole cachelines.
	PairsPerChunk int

	// TableSize is the number of buckets. A power of two is
	// recommended so BucketIdx can mask a hash.
	TableSize int

	// BucketIdx maps a key into [0, TableSize). An out-of-range
	// result is a programming error and aborts measurement.
	BucketIdx func(K) uint32

	// Equals reports whether two keys are the same.
	Equals func(K, K) bool

	// ValueCtor constructs the value for a newly inserted key. It
	// receives a pointer to the final key storage so it may replace
	// the key with an owned equivalent (e.g. an interned string); the
	// stored key must still compare Equals to the probe key.
	ValueCtor func(key *K, ctorData any) V

	// ValueDtor releases a removed value. Only used by the
	// non-monotonic variant.
	ValueDtor func(K, V)
}

func (c *Config[K, V]) validate(needDtor bool) {
	logging.BugOn(c.PairsPerChunk <= 0, "Hash table needs a positive chunk size")
	logging.BugOn(c.TableSize <= 0, "Hash table needs a positive bucket count")
	logging.BugOn(c.BucketIdx == nil || c.Equals == nil || c.ValueCtor == nil,
		"Hash table misses key/value behavior")
	logging.BugOn(needDtor && c.ValueDtor == nil,
		"Non-monotonic hash table needs a value destructor")
}

// chunk is the unit of allocation for a bucket: a fixed number of
// key/value slots plus a forward link. Slots past the bucket's size
// counter are logically absent.
type chunk[K, V any] struct {
	keys   []K
	values []V
	next   atomic.Pointer[chunk[K, V]]
}

func newChunk[K, V any](pairs int) *chunk[K, V] {
	return &chunk[K, V]{
		keys:   make([]K, pairs),
		values: make([]V, pairs),
	}
}

// bucketCore is the state shared by both table variants. The size
// counter publishes initialized slots: an inserter writes key, then
// value, then stores the grown size with sequentially consistent
// semantics, so a reader that observes size == N sees fully
// initialized slots 0..N-1.
type bucketCore[K, V any] struct {
	size       atomic.Uint32
	insertLock spinMutex
	head       atomic.Pointer[chunk[K, V]]
}

// getImpl walks up to size slots looking for key. If an insert grew
// the size between loads, the walk restarts from where it stopped up
// to the new size. Readers acquire no mutex.
func getImpl[K, V any](cfg *Config[K, V], b *bucketCore[K, V], key K, value *V) bool {
	i, j := 0, 0
	cur := int(b.size.Load())
	ch := b.head.Load()
	for {
		for ; i < cur; i, j = i+1, j+1 {
			if j == cfg.PairsPerChunk {
				ch = ch.next.Load()
				j = 0
			}
			if cfg.Equals(key, ch.keys[j]) {
				*value = ch.values[j]
				return true
			}
		}
		old := cur
		cur = int(b.size.Load())
		if cur <= old {
			return false
		}
	}
}

// getAndInsertImpl performs the get phase and, on a miss, inserts
// under the bucket's insert lock. While spinning for the lock it
// cooperatively re-checks slots added by competing inserters so that
// getters stay unblocked. acquireHead and acquireNext differ between
// the variants (fresh allocation vs. free-list reuse).
func getAndInsertImpl[K, V any](
	cfg *Config[K, V],
	b *bucketCore[K, V],
	key K,
	ctorData any,
	value *V,
	acquireHead func() *chunk[K, V],
	acquireNext func(*chunk[K, V]) *chunk[K, V],
) bool {
	i, j := 0, 0
	cur := int(b.size.Load())
	ch := b.head.Load()
	for {
		for ; i < cur; i, j = i+1, j+1 {
			if j == cfg.PairsPerChunk {
				ch = ch.next.Load()
				j = 0
			}
			if cfg.Equals(key, ch.keys[j]) {
				*value = ch.values[j]
				return false
			}
		}
		old := cur
		cur = int(b.size.Load())
		if cur <= old {
			cur = old
			break
		}
	}

	// Not found; search again while waiting for the insert lock.
	old := cur
	for !b.insertLock.TryLock() {
		cur = int(b.size.Load())
		if cur > old {
			for ; i < cur; i, j = i+1, j+1 {
				if j == cfg.PairsPerChunk {
					ch = ch.next.Load()
					j = 0
				}
				if cfg.Equals(key, ch.keys[j]) {
					*value = ch.values[j]
					return false
				}
			}
			old = cur
		}
	}

	// Lock acquired: inserts might have taken place in between.
	cur = int(b.size.Load())
	for ; i < cur; i, j = i+1, j+1 {
		if j == cfg.PairsPerChunk {
			ch = ch.next.Load()
			j = 0
		}
		if cfg.Equals(key, ch.keys[j]) {
			b.insertLock.Unlock()
			*value = ch.values[j]
			return false
		}
	}

	if cur == 0 {
		ch = acquireHead()
		j = 0
	} else if j == cfg.PairsPerChunk {
		ch = acquireNext(ch)
		j = 0
	}

	ch.keys[j] = key
	ch.values[j] = cfg.ValueCtor(&ch.keys[j], ctorData)
	logging.BugOn(!cfg.Equals(key, ch.keys[j]), "Key values are not equal")
	b.size.Store(uint32(cur + 1))
	b.insertLock.Unlock()
	*value = ch.values[j]
	return true
}

// iterateImpl visits every stored pair. Serial use only.
func iterateImpl[K, V any](cfg *Config[K, V], b *bucketCore[K, V], cb func(K, V)) {
	ch := b.head.Load()
	i := 0
	cur := int(b.size.Load())
	for ch != nil {
		for j := 0; i < cur && j < cfg.PairsPerChunk; i, j = i+1, j+1 {
			cb(ch.keys[j], ch.values[j])
		}
		ch = ch.next.Load()
	}
}

// freeChunksImpl detaches all chunks of a bucket. Serial use only.
func freeChunksImpl[K, V any](b *bucketCore[K, V]) {
	b.head.Store(nil)
	b.size.Store(0)
}

// spinMutex is a test-and-set lock for the short bucket critical
// sections. Contended Lock yields between probes.
type spinMutex struct {
	state atomic.Bool
}

func (m *spinMutex) TryLock() bool {
	return m.state.CompareAndSwap(false, true)
}

func (m *spinMutex) Lock() {
	for !m.state.CompareAndSwap(false, true) {
		yield()
	}
}

func (m *spinMutex) Unlock() {
	m.state.Store(false)
}

var _ sync.Locker = (*spinMutex)(nil)
