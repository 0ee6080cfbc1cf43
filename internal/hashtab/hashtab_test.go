package hashtab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modConfig(tableSize, pairs int) Config[uint64, uint64] {
	return Config[uint64, uint64]{
		PairsPerChunk: pairs,
		TableSize:     tableSize,
		BucketIdx:     func(k uint64) uint32 { return uint32(k % uint64(tableSize)) },
		Equals:        func(a, b uint64) bool { return a == b },
		ValueCtor: func(key *uint64, ctorData any) uint64 {
			return *key * 10
		},
		ValueDtor: func(uint64, uint64) {},
	}
}

func TestMonotonicInsertAndChunkLayout(t *testing.T) {
	tab := NewMonotonic(modConfig(8, 3))

	// Keys map to buckets 1,1,1,1,3,3,3,3,3.
	keys := []uint64{1, 9, 17, 25, 3, 11, 19, 27, 35}
	for _, k := range keys {
		v, inserted := tab.GetAndInsert(k, nil)
		require.True(t, inserted, "key %d should be new", k)
		require.Equal(t, k*10, v)
	}

	assert.Equal(t, 4, tab.BucketLen(1))
	assert.Equal(t, 5, tab.BucketLen(3))
	assert.Equal(t, len(keys), tab.Len())

	v, found := tab.Get(35)
	require.True(t, found)
	assert.Equal(t, uint64(350), v)

	_, found = tab.Get(4)
	assert.False(t, found)

	// Re-inserting an existing key returns the stored value.
	v, inserted := tab.GetAndInsert(9, nil)
	assert.False(t, inserted)
	assert.Equal(t, uint64(90), v)
}

func TestMonotonicIterateMatchesSizes(t *testing.T) {
	tab := NewMonotonic(modConfig(8, 3))
	for k := uint64(0); k < 100; k++ {
		tab.GetAndInsert(k, nil)
	}

	reachable := 0
	tab.Iterate(func(k, v uint64) {
		assert.Equal(t, k*10, v)
		reachable++
	})
	assert.Equal(t, tab.Len(), reachable)
	assert.Equal(t, 100, reachable)
}

func TestMonotonicValueCtorReceivesKeyStorage(t *testing.T) {
	type entry struct{ key *uint64 }
	cfg := Config[uint64, entry]{
		PairsPerChunk: 2,
		TableSize:     4,
		BucketIdx:     func(k uint64) uint32 { return uint32(k % 4) },
		Equals:        func(a, b uint64) bool { return a == b },
		ValueCtor: func(key *uint64, ctorData any) entry {
			return entry{key: key}
		},
	}
	tab := NewMonotonic(cfg)
	v, inserted := tab.GetAndInsert(7, nil)
	require.True(t, inserted)
	assert.Equal(t, uint64(7), *v.key)
}

func TestMonotonicConcurrentGetAndInsert(t *testing.T) {
	tab := NewMonotonic(modConfig(16, 3))

	const goroutines = 8
	const perG = 500
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := uint64(0); k < perG; k++ {
				v, _ := tab.GetAndInsert(k, nil)
				if v != k*10 {
					t.Errorf("got %d for key %d", v, k)
					return
				}
				if v, found := tab.Get(k); !found || v != k*10 {
					t.Errorf("lost key %d", k)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, perG, tab.Len())
}

func TestNonMonotonicRemove(t *testing.T) {
	tab := NewNonMonotonic(modConfig(8, 3))

	for _, k := range []uint64{1, 9, 17, 25} {
		tab.GetAndInsert(k, nil)
	}
	require.Equal(t, 4, tab.BucketLen(1))

	ok := tab.Remove(9)
	require.True(t, ok)
	assert.Equal(t, 3, tab.BucketLen(1))

	_, found := tab.Get(9)
	assert.False(t, found)

	// The table never yields a removed key again.
	tab.Iterate(func(k, v uint64) {
		assert.NotEqual(t, uint64(9), k)
	})

	// A second remove of the same key is a miss.
	assert.False(t, tab.Remove(9))
}

func TestNonMonotonicRemoveRestoresChunkLayout(t *testing.T) {
	tab := NewNonMonotonic(modConfig(8, 3))

	// Fill bucket 1 with two chunks.
	keys := []uint64{1, 9, 17, 25}
	for _, k := range keys {
		tab.GetAndInsert(k, nil)
	}

	// Removing the pair in the second chunk empties it; the chunk
	// moves to the free list.
	require.True(t, tab.Remove(25))
	assert.Equal(t, 3, tab.BucketLen(1))
	assert.Equal(t, 1, tab.FreeListLen())

	// Draining the bucket keeps its primary chunk out of the free
	// list to avoid re-locking on reuse.
	require.True(t, tab.Remove(1))
	require.True(t, tab.Remove(9))
	require.True(t, tab.Remove(17))
	assert.Equal(t, 0, tab.BucketLen(1))
	assert.Equal(t, 1, tab.FreeListLen())

	// Reuse after drain allocates nothing new.
	for _, k := range keys {
		_, inserted := tab.GetAndInsert(k, nil)
		require.True(t, inserted)
	}
	assert.Equal(t, 4, tab.BucketLen(1))
	assert.Equal(t, 0, tab.FreeListLen())
}

func TestNonMonotonicRemoveCompactsWithLastPair(t *testing.T) {
	tab := NewNonMonotonic(modConfig(8, 3))
	keys := []uint64{3, 11, 19, 27, 35}
	for _, k := range keys {
		tab.GetAndInsert(k, nil)
	}

	// Remove the first stored pair; the hole is filled with the last
	// stored pair and every surviving key stays reachable.
	require.True(t, tab.Remove(3))
	for _, k := range []uint64{11, 19, 27, 35} {
		v, found := tab.Get(k)
		require.True(t, found, "key %d", k)
		assert.Equal(t, k*10, v)
	}
}

func TestNonMonotonicGetAndRemoveSkipsDtor(t *testing.T) {
	dtorCalls := 0
	cfg := modConfig(8, 3)
	cfg.ValueDtor = func(uint64, uint64) { dtorCalls++ }
	tab := NewNonMonotonic(cfg)

	tab.GetAndInsert(5, nil)
	v, found := tab.GetAndRemove(5)
	require.True(t, found)
	assert.Equal(t, uint64(50), v)
	assert.Zero(t, dtorCalls)

	tab.GetAndInsert(5, nil)
	require.True(t, tab.Remove(5))
	assert.Equal(t, 1, dtorCalls)
}

func TestNonMonotonicRemoveIf(t *testing.T) {
	dtorCalls := 0
	cfg := modConfig(4, 3)
	cfg.ValueDtor = func(uint64, uint64) { dtorCalls++ }
	tab := NewNonMonotonic(cfg)

	for k := uint64(0); k < 40; k++ {
		tab.GetAndInsert(k, nil)
	}

	tab.RemoveIf(func(k, v uint64, data any) bool {
		return k%2 == 0
	}, nil)

	assert.Equal(t, 20, tab.Len())
	assert.Equal(t, 20, dtorCalls)
	tab.Iterate(func(k, v uint64) {
		assert.NotZero(t, k%2, "even key %d survived", k)
	})
	for k := uint64(1); k < 40; k += 2 {
		_, found := tab.Get(k)
		assert.True(t, found, "odd key %d dropped", k)
	}
}

func TestNonMonotonicConcurrentChurn(t *testing.T) {
	tab := NewNonMonotonic(modConfig(16, 3))

	const goroutines = 8
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			base := uint64(g * 1000)
			for k := base; k < base+200; k++ {
				tab.GetAndInsert(k, nil)
				if v, found := tab.Get(k); !found || v != k*10 {
					t.Errorf("lost key %d before remove", k)
					return
				}
				if !tab.Remove(k) {
					t.Errorf("remove of %d failed", k)
					return
				}
				if _, found := tab.Get(k); found {
					t.Errorf("key %d visible after remove", k)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, tab.Len())
}

func TestFreeChunksEmptiesTable(t *testing.T) {
	tab := NewNonMonotonic(modConfig(8, 3))
	for k := uint64(0); k < 30; k++ {
		tab.GetAndInsert(k, nil)
	}
	tab.Remove(8) // park a chunk on the free list

	tab.FreeChunks()
	assert.Zero(t, tab.Len())
	assert.Zero(t, tab.FreeListLen())
	_, found := tab.Get(3)
	assert.False(t, found)
}
