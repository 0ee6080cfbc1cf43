// Package callstack maintains the per-task region stack: a chunked
// stack of region handles with frame recycling and a stable hash of
// the current call path. Every task is manipulated by at most one
// location, so the free lists are per-location and uncontested.
package callstack

import (
	"math"

	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/hashx"
	"github.com/behrlich/go-measure/internal/logging"
)

// RegionHandle identifies a registered source region.
type RegionHandle uint32

const (
	// InvalidRegion is returned when no region is available.
	InvalidRegion RegionHandle = 0

	// FilteredRegion is the shared sentinel for regions collapsed by
	// the filter engine. It is pushed and popped like any region but
	// produces no events.
	FilteredRegion RegionHandle = math.MaxUint32
)

// frame is one chunk of the region stack.
type frame struct {
	regions [constants.FrameCapacity]RegionHandle
	prev    *frame
}

// Task is a unit of work inside a location. The sequence of pushed
// regions, top last, equals the concatenation of frames from oldest
// to newest, truncated at currentIndex in the newest.
type Task struct {
	currentFrame  *frame
	currentIndex  int
	threadID      uint32
	generation    uint32
	parentHash    uint32
	next          *Task
	substrateData []any
}

// ThreadID returns the creating thread's id.
func (t *Task) ThreadID() uint32 {
	return t.threadID
}

// Generation returns the task's generation number.
func (t *Task) Generation() uint32 {
	return t.generation
}

// TopRegion returns the most recently entered region, or
// InvalidRegion when the stack is empty.
func (t *Task) TopRegion() RegionHandle {
	if t.currentFrame == nil {
		return InvalidRegion
	}
	return t.currentFrame.regions[t.currentIndex]
}

// Empty reports whether no region is on the stack.
func (t *Task) Empty() bool {
	return t.currentFrame == nil
}

// SubstrateData returns the substrate's slot in the task.
func (t *Task) SubstrateData(substrateID int) any {
	return t.substrateData[substrateID]
}

// SetSubstrateData stores data in the substrate's slot.
func (t *Task) SetSubstrateData(substrateID int, data any) {
	t.substrateData[substrateID] = data
}

// Substrate receives task lifecycle notifications.
type Substrate interface {
	CoreTaskCreate(loc *LocationData, task *Task)
	CoreTaskComplete(loc *LocationData, task *Task)
}

// LocationData is the per-location task state: the current task plus
// the free lists for frames and completed tasks.
type LocationData struct {
	id             uint64
	currentTask    *Task
	implicitTask   *Task
	recycledTasks  *Task
	recycledFrames *frame

	regionHash func(RegionHandle) uint32
	substrates []Substrate
}

// NewLocation initializes the task state of a location. regionHash
// resolves a region handle to its definition hash; parentForkHash is
// the call-path hash of the forking location at creation time, zero
// for the initial location. The implicit task becomes current.
func NewLocation(id uint64, regionHash func(RegionHandle) uint32, substrates []Substrate, parentForkHash uint32) *LocationData {
	logging.BugOn(regionHash == nil, "Missing region hash resolver for location %d", id)
	loc := &LocationData{
		id:         id,
		regionHash: regionHash,
		substrates: substrates,
	}
	loc.currentTask = loc.CreateTask(uint32(id), 0)
	loc.implicitTask = loc.currentTask
	loc.currentTask.parentHash = parentForkHash
	return loc
}

// ID returns the owning location's id.
func (loc *LocationData) ID() uint64 {
	return loc.id
}

// FinalizeLocation completes the location's current task.
func (loc *LocationData) FinalizeLocation() {
	loc.CompleteTask(loc.currentTask)
}

// CurrentTask returns the task events are attributed to.
func (loc *LocationData) CurrentTask() *Task {
	return loc.currentTask
}

// ImplicitTask returns the task created at location init.
func (loc *LocationData) ImplicitTask() *Task {
	return loc.implicitTask
}

// Switch makes newTask the location's current task.
func (loc *LocationData) Switch(newTask *Task) {
	loc.currentTask = newTask
}

func (loc *LocationData) recycleFrame(f *frame) {
	f.prev = loc.recycledFrames
	loc.recycledFrames = f
}

func (loc *LocationData) allocFrame() *frame {
	if loc.recycledFrames != nil {
		f := loc.recycledFrames
		loc.recycledFrames = f.prev
		return f
	}
	return &frame{}
}

// CreateTask reuses a recycled task or allocates a new one. The new
// task's parent hash is the current task's call-path hash; substrate
// slots start out zeroed.
func (loc *LocationData) CreateTask(threadID, generationNumber uint32) *Task {
	var task *Task
	if loc.recycledTasks != nil {
		task = loc.recycledTasks
		loc.recycledTasks = task.next
		for i := range task.substrateData {
			task.substrateData[i] = nil
		}
	} else {
		task = &Task{substrateData: make([]any, len(loc.substrates))}
	}

	task.currentFrame = nil
	task.currentIndex = constants.FrameCapacity - 1
	task.threadID = threadID
	task.generation = generationNumber
	task.next = nil

	if loc.currentTask != nil {
		// Only used for explicit tasks, not implicit ones.
		task.parentHash = loc.RegionStackHash(loc.currentTask)
	}

	for _, s := range loc.substrates {
		s.CoreTaskCreate(loc, task)
	}
	return task
}

// CompleteTask notifies the substrates and pushes the task onto the
// recycle list.
func (loc *LocationData) CompleteTask(task *Task) {
	for _, s := range loc.substrates {
		s.CoreTaskComplete(loc, task)
	}
	task.next = loc.recycledTasks
	loc.recycledTasks = task
}

// Enter pushes region onto the current task's stack, chaining a new
// frame when the newest one is full.
func (loc *LocationData) Enter(region RegionHandle) {
	task := loc.currentTask
	logging.BugOn(task == nil, "No current task for location %d", loc.id)

	if task.currentIndex < constants.FrameCapacity-1 {
		task.currentIndex++
		task.currentFrame.regions[task.currentIndex] = region
	} else {
		f := loc.allocFrame()
		f.prev = task.currentFrame
		task.currentFrame = f
		f.regions[0] = region
		task.currentIndex = 0
	}
}

// Exit pops the current task's top region. Underflow is a bug.
func (loc *LocationData) Exit() {
	loc.popStack(loc.currentTask)
}

func (loc *LocationData) popStack(task *Task) {
	logging.BugOn(task.currentFrame == nil, "Task stack underflow.")
	if task.currentIndex == 0 {
		old := task.currentFrame
		task.currentFrame = old.prev
		task.currentIndex = constants.FrameCapacity - 1
		loc.recycleFrame(old)
	} else {
		task.currentIndex--
	}
}

// ExitAllRegions unwinds the task's stack. For every region that is
// not the filtered sentinel, exit is invoked and must pop the region
// (typically by routing a leave event back through Exit); filtered
// regions pop without producing an event. A nil exit pops silently.
func (loc *LocationData) ExitAllRegions(task *Task, exit func(RegionHandle)) {
	for task.currentFrame != nil {
		region := task.TopRegion()
		if region != FilteredRegion && exit != nil {
			exit(region)
		} else {
			loc.popStack(task)
		}
	}
}

// ClearStack drops all frames of the task without producing events.
func (loc *LocationData) ClearStack(task *Task) {
	for task.currentFrame != nil {
		old := task.currentFrame
		task.currentFrame = old.prev
		loc.recycleFrame(old)
	}
	task.currentIndex = constants.FrameCapacity - 1
}

// RegionStackHash returns a 32-bit hash of the task's call path. It
// depends only on the ordered sequence of regions on the stack and on
// the task's parent hash; an empty stack hashes to zero.
func (loc *LocationData) RegionStackHash(task *Task) uint32 {
	if task.currentFrame == nil {
		return 0
	}
	// Aggregation runs from the bottom to the top of the stack so the
	// parent task's hash seeds the value and matches the creating
	// thread's call paths.
	return loc.frameAggregation(task.currentFrame, task.currentIndex, task)
}

func (loc *LocationData) frameAggregation(f *frame, frameSize int, task *Task) uint32 {
	if f == nil {
		return task.parentHash
	}
	// All previous frames are full.
	h := loc.frameAggregation(f.prev, constants.FrameCapacity-1, task)
	for i := 0; i <= frameSize; i++ {
		h = hashx.OneAtATimeUint32(loc.regionHash(f.regions[i]), h)
	}
	return h
}
