package skiplist

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type span struct {
	start uint64
	size  uint64
}

func spanCmp(listElement, searchElement *span) int {
	switch {
	case listElement.start < searchElement.start:
		return -1
	case listElement.start > searchElement.start:
		return 1
	default:
		return 0
	}
}

func spanReset(s *span) {
	s.start = 0
	s.size = 0
}

func newSpanList(maxHeight int) *List[span] {
	return New(maxHeight, spanCmp, spanReset, nil, nil, nil)
}

func insertSpan(l *List[span], start, size uint64) *Node[span] {
	n := l.CreateNode()
	n.Payload().start = start
	n.Payload().size = size
	l.Insert(n)
	return n
}

func TestEmptyList(t *testing.T) {
	l := newSpanList(8)
	assert.True(t, l.IsEmpty())

	probe := span{start: 42}
	assert.Same(t, l.Head(), l.LowerBound(&probe))
}

func TestInsertKeepsOrder(t *testing.T) {
	l := newSpanList(8)
	for _, start := range []uint64{500, 100, 300, 200, 400} {
		insertSpan(l, start, 16)
	}

	var got []uint64
	for n := l.First(); n != nil; n = l.Next(n) {
		got = append(got, n.Payload().start)
	}
	assert.Equal(t, []uint64{100, 200, 300, 400, 500}, got)
	assert.False(t, l.IsEmpty())
}

func TestLowerBound(t *testing.T) {
	l := newSpanList(8)
	for _, start := range []uint64{100, 200, 300} {
		insertSpan(l, start, 16)
	}

	// Exact hit.
	probe := span{start: 200}
	n := l.LowerBound(&probe)
	require.NotNil(t, n)
	assert.Equal(t, uint64(200), n.Payload().start)

	// Between elements: last element <= key.
	probe = span{start: 250}
	n = l.LowerBound(&probe)
	assert.Equal(t, uint64(200), n.Payload().start)

	// Beyond the last element.
	probe = span{start: 999}
	n = l.LowerBound(&probe)
	assert.Equal(t, uint64(300), n.Payload().start)

	// Before the first element: the head is returned.
	probe = span{start: 50}
	assert.Same(t, l.Head(), l.LowerBound(&probe))
}

func TestRemoveRecyclesNodes(t *testing.T) {
	l := newSpanList(8)
	n1 := insertSpan(l, 100, 16)
	insertSpan(l, 200, 16)

	h := n1.Height()
	l.Remove(n1)

	// Payload is reset and the node parked on the matching-height
	// free list.
	assert.Zero(t, n1.Payload().start)
	require.Len(t, l.freelist[h], 1)

	// A new node of the same height reuses the released one.
	reused := l.nodeOfHeight(h)
	assert.Same(t, n1, reused)
	assert.Empty(t, l.freelist[h])

	var got []uint64
	for n := l.First(); n != nil; n = l.Next(n) {
		got = append(got, n.Payload().start)
	}
	assert.Equal(t, []uint64{200}, got)
}

func TestDestroyEmptiesList(t *testing.T) {
	l := newSpanList(8)
	for _, start := range []uint64{100, 200, 300, 400} {
		insertSpan(l, start, 8)
	}
	l.Destroy()
	assert.True(t, l.IsEmpty())

	// Reinsertion after destroy works and drains the free lists.
	insertSpan(l, 123, 8)
	require.NotNil(t, l.First())
	assert.Equal(t, uint64(123), l.First().Payload().start)
}

func TestHeightsAreBounded(t *testing.T) {
	l := newSpanList(5)
	for i := uint64(1); i <= 200; i++ {
		n := insertSpan(l, i, 1)
		assert.GreaterOrEqual(t, n.Height(), 1)
		assert.Less(t, n.Height(), 5)
	}
	assert.LessOrEqual(t, l.ceiling, 5)
}

func TestGuardCallbacksWrapMutations(t *testing.T) {
	var mu sync.Mutex
	locks, unlocks := 0, 0
	l := New(8, spanCmp, spanReset,
		func(g GuardObject) {
			g.(*sync.Mutex).Lock()
			locks++
		},
		func(g GuardObject) {
			unlocks++
			g.(*sync.Mutex).Unlock()
		},
		&mu)

	n := insertSpan(l, 100, 16)
	l.Remove(n)

	assert.Equal(t, locks, unlocks)
	assert.NotZero(t, locks)
}
