package iomgr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paradigmRecorder struct {
	enters []ParadigmType
	leaves []ParadigmType
}

func (r *paradigmRecorder) IoParadigmEnter(locID uint64, p ParadigmType) {
	r.enters = append(r.enters, p)
}

func (r *paradigmRecorder) IoParadigmLeave(locID uint64, p ParadigmType) {
	r.leaves = append(r.leaves, p)
}

func fdPayload(fd int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(fd))
	return buf
}

func newTestManager(rec *paradigmRecorder) *Manager {
	var substrates []Substrate
	if rec != nil {
		substrates = append(substrates, rec)
	}
	nextFile := FileHandle(0)
	m := NewManager(substrates, func(path string) FileHandle {
		nextFile++
		return nextFile
	})
	m.RegisterParadigm(ParadigmPosix, "POSIX I/O", 4)
	return m
}

func TestHandleCreationLifecycle(t *testing.T) {
	rec := &paradigmRecorder{}
	m := newTestManager(rec)
	loc := NewLocation(0)

	file := m.GetIoFileHandle("/tmp/data.bin")
	require.NotEqual(t, InvalidFile, file)

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	require.NotNil(t, m.CurrentHandle(loc))
	assert.False(t, m.CurrentHandle(loc).Completed())

	payload := fdPayload(3)
	h := m.CompleteHandleCreation(loc, ParadigmPosix, file, 42, payload)
	require.NotNil(t, h)
	assert.True(t, h.Completed())
	assert.Equal(t, file, h.File())
	assert.Equal(t, uint32(42), h.UnifyKey())
	assert.Equal(t, "open", h.Name())
	assert.Nil(t, m.CurrentHandle(loc))

	got := m.Get(ParadigmPosix, payload)
	assert.Same(t, h, got)

	removed := m.Remove(ParadigmPosix, payload)
	assert.Same(t, h, removed)

	// A second remove yields a warning and nil.
	assert.Nil(t, m.Remove(ParadigmPosix, payload))
	assert.Nil(t, m.Get(ParadigmPosix, payload))

	assert.Equal(t, []ParadigmType{ParadigmPosix}, rec.enters)
	assert.Equal(t, []ParadigmType{ParadigmPosix}, rec.leaves)
}

func TestRecursiveCreation(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/nested")

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	// A nested create on the same paradigm only bumps the recursion
	// counter.
	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	require.Equal(t, uint32(1), loc.handleStack.recursiveDepth)

	payload := fdPayload(5)

	// The inner completion returns nil and decrements.
	require.Nil(t, m.CompleteHandleCreation(loc, ParadigmPosix, file, 42, payload))
	require.Equal(t, uint32(0), loc.handleStack.recursiveDepth)

	// The outer completion publishes the handle.
	h := m.CompleteHandleCreation(loc, ParadigmPosix, file, 42, payload)
	require.NotNil(t, h)

	assert.Same(t, h, m.Get(ParadigmPosix, payload))
	assert.Same(t, h, m.Remove(ParadigmPosix, payload))
	assert.Nil(t, m.Remove(ParadigmPosix, payload))
}

func TestParentCapturedFromStack(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/parented")

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	outer := m.CompleteHandleCreation(loc, ParadigmPosix, file, 1, fdPayload(10))
	require.NotNil(t, outer)

	// With the outer handle pushed as active, a new creation records
	// it as parent.
	m.PushHandle(loc, outer)
	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "openat")
	inner := m.CompleteHandleCreation(loc, ParadigmPosix, file, 2, fdPayload(11))
	require.NotNil(t, inner)
	assert.Same(t, outer, inner.Parent())
	m.PopHandle(loc, outer)
}

func TestDropIncompleteHandle(t *testing.T) {
	rec := &paradigmRecorder{}
	m := newTestManager(rec)
	loc := NewLocation(0)

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	m.DropIncompleteHandle(loc)

	assert.Nil(t, m.CurrentHandle(loc))
	assert.Nil(t, m.Get(ParadigmPosix, fdPayload(0)))
	assert.Len(t, rec.leaves, 1)
}

func TestDuplication(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/dup")

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 7, "open")
	src := m.CompleteHandleCreation(loc, ParadigmPosix, file, 1, fdPayload(20))
	require.NotNil(t, src)

	// Duplication with an invalid file keeps the source's file.
	m.BeginHandleDuplication(loc, ParadigmPosix, src)
	dup := m.CompleteHandleDuplication(loc, ParadigmPosix, InvalidFile, 2, fdPayload(21))
	require.NotNil(t, dup)
	assert.Equal(t, src.File(), dup.File())
	assert.Equal(t, src.Name(), dup.Name())
	assert.Equal(t, src.Scope(), dup.Scope())
	// Flags are not inherited.
	assert.Equal(t, HandleFlagNone, dup.Flags())

	// Both payloads resolve to their own handles.
	assert.Same(t, src, m.Get(ParadigmPosix, fdPayload(20)))
	assert.Same(t, dup, m.Get(ParadigmPosix, fdPayload(21)))
}

func TestDuplicatePayloadEvictsOlderHandle(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/dup-payload")

	payload := fdPayload(9)
	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	first := m.CompleteHandleCreation(loc, ParadigmPosix, file, 1, payload)

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	second := m.CompleteHandleCreation(loc, ParadigmPosix, file, 2, payload)

	// The newer handle replaced the older one.
	assert.Same(t, second, m.Get(ParadigmPosix, payload))
	assert.NotSame(t, first, m.Get(ParadigmPosix, payload))

	// Only one removal succeeds.
	assert.Same(t, second, m.Remove(ParadigmPosix, payload))
	assert.Nil(t, m.Remove(ParadigmPosix, payload))
}

func TestReinsert(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/reinsert")

	payload := fdPayload(30)
	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	h := m.CompleteHandleCreation(loc, ParadigmPosix, file, 1, payload)

	removed := m.Remove(ParadigmPosix, payload)
	require.Same(t, h, removed)
	require.Nil(t, m.Get(ParadigmPosix, payload))

	m.Reinsert(ParadigmPosix, removed)
	assert.Same(t, h, m.Get(ParadigmPosix, payload))
}

func TestPreCreatedHandles(t *testing.T) {
	m := newTestManager(nil)

	stdout := m.GetIoFileHandle("/dev/stdout")
	h := m.CreatePreCreatedHandle(ParadigmPosix, stdout, HandleFlagPreCreated,
		AccessModeWriteOnly, 0, 0, 1, "stdout", fdPayload(1))
	require.NotNil(t, h)
	assert.True(t, h.Completed())

	assert.Same(t, h, m.Get(ParadigmPosix, fdPayload(1)))
}

func TestHandleStackEntryRecycling(t *testing.T) {
	m := newTestManager(nil)
	loc := NewLocation(0)
	file := m.GetIoFileHandle("/tmp/recycle")

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	m.CompleteHandleCreation(loc, ParadigmPosix, file, 1, fdPayload(40))
	entry := loc.unusedEntries
	require.NotNil(t, entry)

	m.BeginHandleCreation(loc, ParadigmPosix, HandleFlagNone, 0, "open")
	assert.Same(t, entry, loc.handleStack)
	assert.Equal(t, uint32(0), loc.handleStack.recursiveDepth)
	m.DropIncompleteHandle(loc)
}

func TestFilePathCache(t *testing.T) {
	calls := 0
	m := NewManager(nil, func(path string) FileHandle {
		calls++
		return FileHandle(calls)
	})

	h1 := m.GetIoFileHandle("/tmp/cache-a")
	h2 := m.GetIoFileHandle("/tmp/cache-a")
	h3 := m.GetIoFileHandle("/tmp/cache-b")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Equal(t, 2, calls)
}
