// Package profiletree manages the call-path profile: a node per call
// path with dense and sparse metric aggregates, built per location and
// merged across locations in the finalization phase.
package profiletree

import (
	"github.com/behrlich/go-measure/internal/logging"
)

// NodeType discriminates the call-tree node kinds.
type NodeType int

const (
	NodeThreadRoot NodeType = iota
	NodeThreadStart
	NodeRegion
	NodeParameter
	NodeTaskRoot
	NodeCollapse
)

// TypeData carries the node-type-specific payload. Which fields are
// meaningful depends on the node type: Handle names the region or
// parameter, Value holds a parameter value, Fork points a thread-start
// node at the fork node it was created from.
type TypeData struct {
	Handle uint64
	Value  uint64
	Fork   *Node
}

func compareTypeData(a, b TypeData, t NodeType) bool {
	switch t {
	case NodeThreadStart:
		return a.Fork == b.Fork
	case NodeParameter:
		return a.Handle == b.Handle && a.Value == b.Value
	default:
		return a.Handle == b.Handle
	}
}

func lessThanTypeData(a, b TypeData, t NodeType) bool {
	switch t {
	case NodeParameter:
		if a.Handle != b.Handle {
			return a.Handle < b.Handle
		}
		return a.Value < b.Value
	default:
		return a.Handle < b.Handle
	}
}

// TaskContext tells whether a node belongs to a tied or untied task.
// Untied task nodes may migrate between locations and therefore take
// a different release path.
type TaskContext int

const (
	TaskContextTied TaskContext = iota
	TaskContextUntied
)

type nodeFlags uint32

const (
	flagMpiInSubtree nodeFlags = 1 << iota
	flagIsForkNode
	flagInUntiedTask
)

// DenseMetric aggregates a strictly-synchronous metric: the running
// sum and the sum of squares for variance estimates.
type DenseMetric struct {
	Sum     uint64
	Squares uint64
}

// Update folds one sample into the aggregate.
func (m *DenseMetric) Update(value uint64) {
	m.Sum += value
	m.Squares += value * value
}

func (m *DenseMetric) merge(other *DenseMetric) {
	m.Sum += other.Sum
	m.Squares += other.Squares
}

// InvalidCallpath marks nodes without an assigned call-path
// definition.
const InvalidCallpath = ^uint32(0)

// Node is one call-path node.
type Node struct {
	nodeType NodeType
	typeData TypeData

	parent      *Node
	firstChild  *Node
	nextSibling *Node

	count          uint64
	hits           uint64
	firstEnterTime uint64
	lastExitTime   uint64

	inclusiveTime DenseMetric
	denseMetrics  []DenseMetric

	firstIntSparse    *sparseMetricInt
	firstDoubleSparse *sparseMetricDouble

	flags          nodeFlags
	callpathHandle uint32
}

func (n *Node) Type() NodeType           { return n.nodeType }
func (n *Node) TypeData() TypeData       { return n.typeData }
func (n *Node) Parent() *Node            { return n.parent }
func (n *Node) FirstChild() *Node        { return n.firstChild }
func (n *Node) NextSibling() *Node       { return n.nextSibling }
func (n *Node) Count() uint64            { return n.count }
func (n *Node) Hits() uint64             { return n.hits }
func (n *Node) FirstEnterTime() uint64   { return n.firstEnterTime }
func (n *Node) LastExitTime() uint64     { return n.lastExitTime }
func (n *Node) InclusiveTime() DenseMetric {
	return n.inclusiveTime
}
func (n *Node) DenseMetric(i int) DenseMetric { return n.denseMetrics[i] }
func (n *Node) CallpathHandle() uint32        { return n.callpathHandle }

// SetCallpathHandle caches the call-path definition assigned during
// unification.
func (n *Node) SetCallpathHandle(h uint32) { n.callpathHandle = h }

// IncrementCount is invoked by the enter path.
func (n *Node) IncrementCount() { n.count++ }

// AddHit counts a sampling hit on the node.
func (n *Node) AddHit() { n.hits++ }

// RecordEnter updates the first-enter bound.
func (n *Node) RecordEnter(timestamp uint64) {
	if timestamp < n.firstEnterTime || n.count == 0 {
		n.firstEnterTime = timestamp
	}
}

// RecordExit updates the last-exit bound and the inclusive time.
func (n *Node) RecordExit(timestamp, duration uint64) {
	if timestamp > n.lastExitTime {
		n.lastExitTime = timestamp
	}
	n.inclusiveTime.Update(duration)
}

// UpdateDense folds one sample into dense metric i.
func (n *Node) UpdateDense(i int, value uint64) {
	n.denseMetrics[i].Update(value)
}

func (n *Node) isForkNode() bool {
	return n.flags&flagIsForkNode != 0
}

// SetForkNode marks the node as a fork point whose thread-start nodes
// cross-reference it.
func (n *Node) SetForkNode(isFork bool) {
	if isFork {
		n.flags |= flagIsForkNode
	} else {
		n.flags &^= flagIsForkNode
	}
}

// MpiInSubtree reports whether the subtree below contains MPI
// communication.
func (n *Node) MpiInSubtree() bool {
	return n.flags&flagMpiInSubtree != 0
}

// SetMpiInSubtree flags the subtree as containing MPI communication.
func (n *Node) SetMpiInSubtree(mpi bool) {
	if mpi {
		n.flags |= flagMpiInSubtree
	} else {
		n.flags &^= flagMpiInSubtree
	}
}

func (n *Node) taskContext() TaskContext {
	if n.flags&flagInUntiedTask != 0 {
		return TaskContextUntied
	}
	return TaskContextTied
}

func (n *Node) setTaskContext(ctx TaskContext) {
	if ctx == TaskContextUntied {
		n.flags |= flagInUntiedTask
	} else {
		n.flags &^= flagInUntiedTask
	}
}

// Profile is the per-process profile state: the root node list and
// the dense metric count fixed at profile initialization.
type Profile struct {
	firstRootNode *Node
	numDense      int
}

// NewProfile creates a profile whose nodes carry numDense dense
// metrics besides the implicit inclusive time.
func NewProfile(numDense int) *Profile {
	logging.BugOn(numDense < 0, "Negative dense metric count")
	return &Profile{numDense: numDense}
}

// FirstRootNode returns the head of the root node list.
func (p *Profile) FirstRootNode() *Node {
	return p.firstRootNode
}

// AddRootNode prepends a root to the profile's root list.
func (p *Profile) AddRootNode(root *Node) {
	root.nextSibling = p.firstRootNode
	p.firstRootNode = root
}

// Location is the per-location profile state: the node and sparse
// metric free lists.
type Location struct {
	profile           *Profile
	freeNodes         *Node
	freeIntMetrics    *sparseMetricInt
	freeDoubleMetrics *sparseMetricDouble
}

// NewLocation creates the profile state of one location.
func (p *Profile) NewLocation() *Location {
	return &Location{profile: p}
}

// allocNode recycles a released node or allocates a fresh one. Thread
// roots outlive profile resets and are never recycled.
func (loc *Location) allocNode(t NodeType, ctx TaskContext) *Node {
	var node *Node
	if ctx == TaskContextTied && loc != nil && loc.freeNodes != nil && t != NodeThreadRoot {
		node = loc.freeNodes
		loc.freeNodes = node.firstChild
		*node = Node{denseMetrics: node.denseMetrics}
		for i := range node.denseMetrics {
			node.denseMetrics[i] = DenseMetric{}
		}
	} else {
		node = &Node{}
		if loc.profile.numDense > 0 {
			node.denseMetrics = make([]DenseMetric, loc.profile.numDense)
		}
	}
	node.setTaskContext(ctx)
	return node
}

// CreateNode builds a node of the given type and data. The count
// starts at zero and is incremented by the enter path.
func (loc *Location) CreateNode(parent *Node, t NodeType, data TypeData, timestamp uint64, ctx TaskContext) *Node {
	node := loc.allocNode(t, ctx)

	node.callpathHandle = InvalidCallpath
	node.parent = parent
	node.firstChild = nil
	node.nextSibling = nil
	node.firstDoubleSparse = nil
	node.firstIntSparse = nil
	node.count = 0
	node.hits = 0
	node.firstEnterTime = timestamp
	node.lastExitTime = timestamp
	node.nodeType = t
	node.typeData = data

	return node
}

// CopyNode deep-copies a node including its sparse chains; children
// are not copied.
func (loc *Location) CopyNode(source *Node) *Node {
	node := loc.CreateNode(nil, source.nodeType, source.typeData, 0, source.taskContext())
	node.flags = source.flags
	node.setTaskContext(source.taskContext())

	copyAllDenseMetrics(node, source)

	for src := source.firstIntSparse; src != nil; src = src.nextMetric {
		dst := loc.copySparseInt(src)
		dst.nextMetric = node.firstIntSparse
		node.firstIntSparse = dst
	}
	for src := source.firstDoubleSparse; src != nil; src = src.nextMetric {
		dst := loc.copySparseDouble(src)
		dst.nextMetric = node.firstDoubleSparse
		node.firstDoubleSparse = dst
	}

	return node
}

// copyAllDenseMetrics copies counts, time bounds, and every dense
// aggregate.
func copyAllDenseMetrics(destination, source *Node) {
	destination.count = source.count
	destination.hits = source.hits
	destination.firstEnterTime = source.firstEnterTime
	destination.lastExitTime = source.lastExitTime

	destination.inclusiveTime = source.inclusiveTime
	copy(destination.denseMetrics, source.denseMetrics)
}

// ReleaseSubtree returns root and all its descendants to the
// location's free lists. Sparse chains are spliced onto the free
// chains in one step. Nodes in untied task context may live in
// another location's pool and are dropped instead of recycled.
func (loc *Location) ReleaseSubtree(root *Node) {
	for child := root.firstChild; child != nil; child = child.nextSibling {
		loc.ReleaseSubtree(child)
	}

	if last := root.firstIntSparse; last != nil {
		for last.nextMetric != nil {
			last = last.nextMetric
		}
		last.nextMetric = loc.freeIntMetrics
		loc.freeIntMetrics = root.firstIntSparse
		root.firstIntSparse = nil
	}

	if last := root.firstDoubleSparse; last != nil {
		for last.nextMetric != nil {
			last = last.nextMetric
		}
		last.nextMetric = loc.freeDoubleMetrics
		loc.freeDoubleMetrics = root.firstDoubleSparse
		root.firstDoubleSparse = nil
	}

	if root.taskContext() == TaskContextUntied {
		return
	}
	root.firstChild = loc.freeNodes
	loc.freeNodes = root
}
