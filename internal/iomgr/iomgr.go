// Package iomgr tracks the lifecycle of I/O handles per paradigm.
//
// A handle passes through two phases: in-creation, while it sits on
// the creating location's handle stack and nested library calls may
// contribute to it, and live, once its paradigm-specific payload
// bytes are known and it is registered in the paradigm's handle
// table. The per-location handle stack mirrors nested I/O-library
// calls so that inner calls attribute to the outer handle under
// construction.
package iomgr

import (
	"bytes"
	"sync"

	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/hashx"
	"github.com/behrlich/go-measure/internal/logging"
)

// ParadigmType identifies an I/O paradigm. Invalid values abort.
type ParadigmType int

const (
	ParadigmPosix ParadigmType = iota
	ParadigmIsoC
	ParadigmMpi
	numParadigms
)

// String returns the paradigm's identification string.
func (p ParadigmType) String() string {
	switch p {
	case ParadigmPosix:
		return "POSIX I/O"
	case ParadigmIsoC:
		return "ISO C I/O"
	case ParadigmMpi:
		return "MPI-IO"
	default:
		return "invalid"
	}
}

// FileHandle identifies a file definition produced by the definition
// sink. The core caches handles; it never interprets them.
type FileHandle uint32

// InvalidFile marks a missing file definition.
const InvalidFile FileHandle = 0

// ScopeHandle identifies the communication scope of a handle (e.g. a
// communicator for MPI file handles). Opaque to the core.
type ScopeHandle uint32

// HandleFlags qualify a handle definition.
type HandleFlags uint32

const (
	HandleFlagNone HandleFlags = 0

	// HandleFlagPreCreated marks handles that exist before any I/O
	// operation is observed, such as the standard streams.
	HandleFlagPreCreated HandleFlags = 1 << iota
)

// AccessMode describes how a handle accesses its file.
type AccessMode uint32

const (
	AccessModeNone AccessMode = iota
	AccessModeReadOnly
	AccessModeWriteOnly
	AccessModeReadWrite
)

// StatusFlags carry paradigm-specific open flags.
type StatusFlags uint32

// Handle is one I/O handle definition plus its registry payload. The
// payload is the paradigm-specific opaque key (file descriptor,
// FILE* bytes) of paradigm-declared size.
type Handle struct {
	name        string
	paradigm    ParadigmType
	file        FileHandle
	flags       HandleFlags
	scope       ScopeHandle
	parent      *Handle
	accessMode  AccessMode
	statusFlags StatusFlags
	unifyKey    uint32
	completed   bool

	// hash caches the payload hash; zero means the handle was never
	// published.
	hash    uint32
	next    *Handle
	payload []byte
}

func (h *Handle) Name() string             { return h.name }
func (h *Handle) Paradigm() ParadigmType   { return h.paradigm }
func (h *Handle) File() FileHandle         { return h.file }
func (h *Handle) Flags() HandleFlags       { return h.flags }
func (h *Handle) Scope() ScopeHandle       { return h.scope }
func (h *Handle) Parent() *Handle          { return h.parent }
func (h *Handle) AccessMode() AccessMode   { return h.accessMode }
func (h *Handle) StatusFlags() StatusFlags { return h.statusFlags }
func (h *Handle) UnifyKey() uint32         { return h.unifyKey }
func (h *Handle) Completed() bool          { return h.completed }

// complete finalizes the handle's descriptive fields once the payload
// is published.
func (h *Handle) complete(file FileHandle, unifyKey uint32) {
	h.file = file
	h.unifyKey = unifyKey
	h.completed = true
}

// paradigm is the context of one registered I/O paradigm.
type paradigm struct {
	ptype       ParadigmType
	name        string
	payloadSize int
	handles     [constants.IoHandleTableSize]*Handle
	mutex       sync.Mutex
}

// stackEntry is one entry of the per-location handle stack.
type stackEntry struct {
	next   *stackEntry
	handle *Handle
	// inCreation marks a handle in its creation phase.
	inCreation bool
	// recursiveDepth counts nested create routines working on this
	// creation; only when it reaches zero is the handle published.
	recursiveDepth uint32
}

// LocationData holds a location's handle stack and its free list of
// stack entries.
type LocationData struct {
	id            uint64
	handleStack   *stackEntry
	unusedEntries *stackEntry
}

// NewLocation initializes the I/O state of a location.
func NewLocation(id uint64) *LocationData {
	return &LocationData{id: id}
}

// ID returns the owning location's id.
func (loc *LocationData) ID() uint64 {
	return loc.id
}

func (loc *LocationData) stackTop() *Handle {
	if loc.handleStack == nil {
		return nil
	}
	return loc.handleStack.handle
}

func (loc *LocationData) stackPush(h *Handle, create bool) {
	elem := loc.unusedEntries
	if elem == nil {
		elem = &stackEntry{}
	} else {
		loc.unusedEntries = elem.next
		*elem = stackEntry{}
	}
	elem.handle = h
	elem.inCreation = create
	elem.next = loc.handleStack
	loc.handleStack = elem
}

func (loc *LocationData) stackPop() {
	logging.BugOn(loc.handleStack == nil, "Empty I/O handle stack.")
	elem := loc.handleStack
	loc.handleStack = elem.next
	elem.next = loc.unusedEntries
	loc.unusedEntries = elem
}

// Substrate receives paradigm enter/leave notifications around handle
// lifecycle activity.
type Substrate interface {
	IoParadigmEnter(locID uint64, paradigm ParadigmType)
	IoParadigmLeave(locID uint64, paradigm ParadigmType)
}

// Manager is the per-process handle registry: one table per
// registered paradigm plus the file-path cache.
type Manager struct {
	paradigms  [numParadigms]*paradigm
	substrates []Substrate
	files      *fileTable
}

// NewManager creates a handle manager. newFile is the definition sink
// for file paths; the returned handles are cached, never interpreted.
func NewManager(substrates []Substrate, newFile func(path string) FileHandle) *Manager {
	return &Manager{
		substrates: substrates,
		files:      newFileTable(newFile),
	}
}

func (m *Manager) validParadigm(p ParadigmType) *paradigm {
	logging.BugOn(p < 0 || p >= numParadigms, "Invalid I/O paradigm %d", int(p))
	ctx := m.paradigms[p]
	logging.BugOn(ctx == nil, "The given paradigm was not registered")
	return ctx
}

// RegisterParadigm registers an I/O paradigm once per enum value.
// payloadSize declares the size of the paradigm-specific handle value
// (e.g. sizeof(int) for POSIX file descriptors).
func (m *Manager) RegisterParadigm(p ParadigmType, name string, payloadSize int) {
	logging.BugOn(p < 0 || p >= numParadigms, "Invalid I/O paradigm %d", int(p))
	logging.BugOn(m.paradigms[p] != nil, "Paradigm already registered")
	logging.BugOn(payloadSize <= 0, "Paradigm needs a positive payload size")
	m.paradigms[p] = &paradigm{ptype: p, name: name, payloadSize: payloadSize}
}

// DeregisterParadigm drops a paradigm's registration.
func (m *Manager) DeregisterParadigm(p ParadigmType) {
	logging.BugOn(p < 0 || p >= numParadigms, "Invalid I/O paradigm %d", int(p))
	logging.BugOn(m.paradigms[p] == nil,
		"Paradigm cannot be de-registered because it was never registered")
	m.paradigms[p] = nil
}

// ParadigmName returns the registered name of p.
func (m *Manager) ParadigmName(p ParadigmType) string {
	return m.validParadigm(p).name
}

// handleRef locates the chain link pointing at the handle with the
// given payload, or the chain's nil tail link when absent. Caller
// holds the paradigm mutex.
func handleRef(ctx *paradigm, payload []byte, hash uint32) (**Handle, uint32) {
	if hash == 0 {
		hash = hashx.OneAtATime(payload, 0)
	}
	idx := hash & constants.IoHandleTableMask
	it := &ctx.handles[idx]
	for *it != nil {
		e := *it
		if e.hash == hash && bytes.Equal(e.payload, payload) {
			break
		}
		it = &e.next
	}
	return it, hash
}

// insertHandle publishes h under its payload bytes, evicting any
// prior handle with the same payload after a warning. Caller holds
// the paradigm mutex.
func (m *Manager) insertHandle(ctx *paradigm, h *Handle) {
	it, _ := handleRef(ctx, h.payload, h.hash)
	if old := *it; old != nil {
		logging.Warnf("Duplicate %s handle, previous handle not destroyed", ctx.name)
		*it = old.next
		old.next = nil
	}

	idx := h.hash & constants.IoHandleTableMask
	h.next = ctx.handles[idx]
	ctx.handles[idx] = h
}

func (m *Manager) paradigmEnter(loc *LocationData, p ParadigmType) {
	for _, s := range m.substrates {
		s.IoParadigmEnter(loc.id, p)
	}
}

func (m *Manager) paradigmLeave(loc *LocationData, p ParadigmType) {
	for _, s := range m.substrates {
		s.IoParadigmLeave(loc.id, p)
	}
}

// CreatePreCreatedHandle registers a handle that exists before any
// stack activity, e.g. a standard stream. Same insertion path as
// completed creations.
func (m *Manager) CreatePreCreatedHandle(p ParadigmType, file FileHandle, flags HandleFlags,
	accessMode AccessMode, statusFlags StatusFlags, scope ScopeHandle,
	unifyKey uint32, name string, payload []byte) *Handle {

	ctx := m.validParadigm(p)
	logging.BugOn(flags&HandleFlagPreCreated == 0,
		"Attempt to create a non-pre-created I/O handle")
	logging.BugOn(len(payload) != ctx.payloadSize,
		"Payload size mismatch for paradigm %s: %d != %d", ctx.name, len(payload), ctx.payloadSize)

	h := &Handle{
		name:        name,
		paradigm:    p,
		file:        file,
		flags:       flags,
		scope:       scope,
		accessMode:  accessMode,
		statusFlags: statusFlags,
		unifyKey:    unifyKey,
		completed:   true,
		payload:     append([]byte(nil), payload...),
	}
	h.hash = hashx.OneAtATime(h.payload, 0)

	ctx.mutex.Lock()
	m.insertHandle(ctx, h)
	ctx.mutex.Unlock()

	return h
}

// BeginHandleCreation starts the creation phase of a new handle. If
// the stack top is already in creation with the same paradigm, only
// the recursion counter is incremented.
func (m *Manager) BeginHandleCreation(loc *LocationData, p ParadigmType, flags HandleFlags,
	scope ScopeHandle, name string) {

	ctx := m.validParadigm(p)
	logging.BugOn(flags&HandleFlagPreCreated != 0,
		"Attempt to create a pre-created I/O handle")

	if loc.handleStack != nil && loc.handleStack.inCreation &&
		loc.handleStack.handle.paradigm == p {
		loc.handleStack.recursiveDepth++
		return
	}

	h := &Handle{
		name:     name,
		paradigm: p,
		file:     InvalidFile,
		flags:    flags,
		scope:    scope,
		parent:   loc.stackTop(),
		payload:  make([]byte, ctx.payloadSize),
	}

	loc.stackPush(h, true)
	m.paradigmEnter(loc, p)
}

// CompleteHandleCreation publishes the handle under construction with
// its paradigm-specific payload and finalizes its file and unify key.
// Inside a recursive create it only decrements the counter and
// returns nil.
func (m *Manager) CompleteHandleCreation(loc *LocationData, p ParadigmType, file FileHandle,
	unifyKey uint32, payload []byte) *Handle {

	ctx := m.validParadigm(p)
	logging.BugOn(file == InvalidFile, "Invalid file handle given")
	logging.BugOn(payload == nil, "Invalid I/O paradigm handle reference")

	h := loc.stackTop()
	logging.BugOn(h == nil, "No I/O handle on current stack to finalize!")

	if loc.handleStack.inCreation && loc.handleStack.recursiveDepth > 0 {
		loc.handleStack.recursiveDepth--
		return nil
	}

	loc.stackPop()
	return m.publish(loc, ctx, h, file, unifyKey, payload)
}

func (m *Manager) publish(loc *LocationData, ctx *paradigm, h *Handle,
	file FileHandle, unifyKey uint32, payload []byte) *Handle {

	logging.BugOn(len(payload) != ctx.payloadSize,
		"Payload size mismatch for paradigm %s: %d != %d", ctx.name, len(payload), ctx.payloadSize)
	copy(h.payload, payload)
	h.hash = hashx.OneAtATime(h.payload, 0)

	ctx.mutex.Lock()
	m.insertHandle(ctx, h)
	ctx.mutex.Unlock()

	h.complete(file, unifyKey)
	m.paradigmLeave(loc, ctx.ptype)

	return h
}

// BeginHandleDuplication starts the creation of a handle seeded from
// an existing one's descriptive fields. The new handle does not
// inherit the source's flags.
func (m *Manager) BeginHandleDuplication(loc *LocationData, p ParadigmType, src *Handle) {
	ctx := m.validParadigm(p)
	logging.BugOn(src == nil, "Given handle is invalid")

	if loc.handleStack != nil && loc.handleStack.inCreation &&
		loc.handleStack.handle.paradigm == p {
		loc.handleStack.recursiveDepth++
		return
	}

	h := &Handle{
		name:     src.name,
		paradigm: src.paradigm,
		// Just stored, may get overridden at completion.
		file:    src.file,
		flags:   HandleFlagNone,
		scope:   src.scope,
		parent:  src.parent,
		payload: make([]byte, ctx.payloadSize),
	}

	loc.stackPush(h, true)
	m.paradigmEnter(loc, p)
}

// CompleteHandleDuplication publishes a duplicated handle with its new
// payload. When file is invalid, the file stored at begin is kept.
func (m *Manager) CompleteHandleDuplication(loc *LocationData, p ParadigmType, file FileHandle,
	unifyKey uint32, payload []byte) *Handle {

	ctx := m.validParadigm(p)

	h := loc.stackTop()
	logging.BugOn(h == nil, "No I/O handle on current stack to finalize!")

	if loc.handleStack.inCreation && loc.handleStack.recursiveDepth > 0 {
		loc.handleStack.recursiveDepth--
		return nil
	}

	loc.stackPop()

	if file == InvalidFile {
		// The file was stored at begin but never completed.
		file = h.file
	}

	return m.publish(loc, ctx, h, file, unifyKey, payload)
}

// DropIncompleteHandle pops the handle under construction without
// publishing it.
func (m *Manager) DropIncompleteHandle(loc *LocationData) {
	h := loc.stackTop()
	logging.BugOn(h == nil, "No I/O handle on current stack to drop!")
	loc.stackPop()
	m.paradigmLeave(loc, h.paradigm)
}

// Get returns the live handle registered under the payload bytes, or
// nil.
func (m *Manager) Get(p ParadigmType, payload []byte) *Handle {
	ctx := m.validParadigm(p)

	ctx.mutex.Lock()
	it, _ := handleRef(ctx, payload, 0)
	h := *it
	ctx.mutex.Unlock()

	return h
}

// Remove splices the handle with the given payload out of its bucket
// chain and returns it. A miss is a benign warning: duplicate inserts
// silently replace older entries, whose removal then fails here.
func (m *Manager) Remove(p ParadigmType, payload []byte) *Handle {
	ctx := m.validParadigm(p)

	ctx.mutex.Lock()
	it, _ := handleRef(ctx, payload, 0)
	h := *it
	if h == nil {
		ctx.mutex.Unlock()
		logging.Warnf("[Paradigm: %s] Could not find I/O handle in hashtable", ctx.name)
		return nil
	}
	*it = h.next
	h.next = nil
	ctx.mutex.Unlock()

	return h
}

// Reinsert puts a previously removed handle back into its paradigm's
// table. The handle's cached hash must be initialized.
func (m *Manager) Reinsert(p ParadigmType, h *Handle) {
	ctx := m.validParadigm(p)
	logging.BugOn(h.hash == 0, "Reinserted I/O handle without initialized hash value")

	ctx.mutex.Lock()
	m.insertHandle(ctx, h)
	ctx.mutex.Unlock()
}

// PushHandle pushes a live handle onto the location's stack around an
// I/O call. Nil handles are ignored.
func (m *Manager) PushHandle(loc *LocationData, h *Handle) {
	if h == nil {
		return
	}
	loc.stackPush(h, false)
	m.paradigmEnter(loc, h.paradigm)
}

// GetAndPushHandle looks the handle up by payload and pushes it when
// found.
func (m *Manager) GetAndPushHandle(loc *LocationData, p ParadigmType, payload []byte) *Handle {
	h := m.Get(p, payload)
	if h != nil {
		loc.stackPush(h, false)
		m.paradigmEnter(loc, p)
	}
	return h
}

// PopHandle removes the handle from the top of the location's stack.
// Popping a handle that is not at the top is a bug.
func (m *Manager) PopHandle(loc *LocationData, h *Handle) {
	if h == nil {
		return
	}
	logging.BugOn(loc.stackTop() != h, "Requested I/O handle was not at top of the stack.")
	loc.stackPop()
	m.paradigmLeave(loc, h.paradigm)
}

// CurrentHandle returns the top of the location's handle stack, or
// nil.
func (m *Manager) CurrentHandle(loc *LocationData) *Handle {
	return loc.stackTop()
}

// GetIoFileHandle resolves a pathname through the file-path cache,
// creating the file definition on first observation.
func (m *Manager) GetIoFileHandle(pathname string) FileHandle {
	return m.files.lookup(pathname)
}
