// Package skiplist implements a randomized skiplist used as an
// ordered index by the offline side of the measurement system. Node
// heights are drawn by coin flips from a 31-bit random stream refilled
// by a linear-congruential generator; released nodes are recycled
// through per-height free lists.
//
// The list itself performs no locking beyond user-supplied guard
// callbacks. Without a guard triple the list is single-threaded.
package skiplist

import (
	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/logging"
)

// GuardObject is the memory handed to the guard callbacks.
type GuardObject any

// Guard locks or unlocks the list on behalf of the user.
type Guard func(GuardObject)

func nullGuard(GuardObject) {}

// Node is a skiplist element. The prev and next arrays have exactly
// height entries.
type Node[T any] struct {
	payload T
	height  int
	prev    []*Node[T]
	next    []*Node[T]
}

// Payload returns the node's payload storage.
func (n *Node[T]) Payload() *T {
	return &n.payload
}

// Height returns the node's height.
func (n *Node[T]) Height() int {
	return n.height
}

// List is a skiplist handle.
type List[T any] struct {
	head     *Node[T]
	freelist [][]*Node[T] // free nodes, one slice per height

	randomSeed    uint32
	ceiling       int
	maxHeight     int
	randomBits    uint32
	bitsAvailable int

	lock        Guard
	unlock      Guard
	guardObject GuardObject

	cmp          func(listElement, searchElement *T) int
	resetPayload func(*T)
}

// New creates an empty skiplist. cmp orders payloads; resetPayload
// brings a recycled payload back to a defined state. The guard triple
// is optional; when any part is missing a no-op guard is used and the
// list must only be used single-threaded.
func New[T any](
	maxHeight int,
	cmp func(listElement, searchElement *T) int,
	resetPayload func(*T),
	lock, unlock Guard,
	guardObject GuardObject,
) *List[T] {
	logging.BugOn(cmp == nil || resetPayload == nil, "Skiplist needs payload behavior")
	if maxHeight <= 0 {
		maxHeight = constants.SkiplistDefaultMaxHeight
	}

	l := &List[T]{
		freelist:     make([][]*Node[T], maxHeight+1),
		randomSeed:   1,
		ceiling:      1,
		maxHeight:    maxHeight,
		cmp:          cmp,
		resetPayload: resetPayload,
		lock:         nullGuard,
		unlock:       nullGuard,
	}
	l.head = l.allocateNodeOfHeight(maxHeight)

	if lock != nil && unlock != nil && guardObject != nil {
		l.lock = lock
		l.unlock = unlock
		l.guardObject = guardObject
	}
	return l
}

// randomNumber advances the glibc-style linear-congruential generator
// and returns 31 random bits. Callers must hold the guard.
func (l *List[T]) randomNumber() uint32 {
	l.randomSeed = (l.randomSeed*1103515245 + 12345) & 0x7fffffff
	return l.randomSeed
}

// randomHeight draws a height in [1, maxHeight) by repeated coin
// flips. The distribution halves the expected node count per level.
func (l *List[T]) randomHeight() int {
	height := 1
	coin := uint32(1)

	l.lock(l.guardObject)
	for coin != 0 && height < l.maxHeight-1 {
		if l.bitsAvailable == 0 {
			l.randomBits = l.randomNumber()
			l.bitsAvailable = 31
		}
		coin = l.randomBits & 1
		l.randomBits >>= 1
		l.bitsAvailable--
		if coin == 1 {
			height++
		}
	}
	l.unlock(l.guardObject)

	return height
}

func (l *List[T]) resetNodeLinks(n *Node[T]) {
	for level := 0; level < n.height; level++ {
		n.next[level] = nil
		n.prev[level] = nil
	}
}

func (l *List[T]) allocateNodeOfHeight(height int) *Node[T] {
	n := &Node[T]{
		height: height,
		next:   make([]*Node[T], height),
		prev:   make([]*Node[T], height),
	}
	l.resetPayload(&n.payload)
	return n
}

// nodeOfHeight returns a node of the given height, recycling from the
// matching free list when possible.
func (l *List[T]) nodeOfHeight(height int) *Node[T] {
	l.lock(l.guardObject)
	if len(l.freelist[height]) == 0 {
		l.unlock(l.guardObject)
		return l.allocateNodeOfHeight(height)
	}
	last := len(l.freelist[height]) - 1
	n := l.freelist[height][last]
	l.freelist[height] = l.freelist[height][:last]
	l.unlock(l.guardObject)
	return n
}

// CreateNode returns a fresh node with randomly drawn height. The
// caller fills the payload before Insert.
func (l *List[T]) CreateNode() *Node[T] {
	return l.nodeOfHeight(l.randomHeight())
}

// LowerBound descends from the list's current ceiling and returns the
// last element comparing less than or equal to searchElement, or the
// head node if no such element exists.
func (l *List[T]) LowerBound(searchElement *T) *Node[T] {
	elem := l.head
	for i := 1; i <= l.ceiling; i++ {
		level := l.ceiling - i
		for elem != nil && elem.next[level] != nil &&
			l.cmp(&elem.next[level].payload, searchElement) <= 0 {
			elem = elem.next[level]
		}
		if l.cmp(&elem.payload, searchElement) == 0 {
			return elem
		}
	}
	return elem
}

// Insert links newNode at each of its heights into the chains walked
// by LowerBound.
func (l *List[T]) Insert(newNode *Node[T]) {
	l.lock(l.guardObject)

	pred := l.LowerBound(&newNode.payload)
	for level := 0; level < newNode.height; level++ {
		newNode.prev[level] = pred
		newNode.next[level] = pred.next[level]
		if pred.next[level] != nil {
			pred.next[level].prev[level] = newNode
		}
		pred.next[level] = newNode

		// Climb to a predecessor tall enough for the next level.
		for pred.height <= level+1 {
			pred = pred.prev[level]
		}
	}

	if newNode.height > l.ceiling {
		l.ceiling = newNode.height
	}

	l.unlock(l.guardObject)
}

// Remove unlinks element at every level and returns it to the
// matching-height free list.
func (l *List[T]) Remove(element *Node[T]) {
	l.lock(l.guardObject)

	for level := 0; level < element.height; level++ {
		if element.prev[level] != nil {
			element.prev[level].next[level] = element.next[level]
			if element.next[level] != nil {
				element.next[level].prev[level] = element.prev[level]
			}
		}
	}

	l.resetPayload(&element.payload)
	l.resetNodeLinks(element)
	l.freelist[element.height] = append(l.freelist[element.height], element)

	l.unlock(l.guardObject)
}

// IsEmpty reports whether the list holds no elements.
func (l *List[T]) IsEmpty() bool {
	logging.BugOn(l.head == nil, "Invalid skiplist handle")
	return l.head.next[0] == nil
}

// Destroy removes every element, returning all nodes to the free
// lists.
func (l *List[T]) Destroy() {
	logging.BugOn(l.head == nil, "Invalid skiplist handle")
	for l.head.next[0] != nil {
		l.Remove(l.head.next[0])
	}
}

// First returns the first element, or nil when the list is empty.
func (l *List[T]) First() *Node[T] {
	return l.head.next[0]
}

// Next returns the successor of n on the base level.
func (l *List[T]) Next(n *Node[T]) *Node[T] {
	return n.next[0]
}

// Head returns the dummy head node, the sentinel LowerBound yields
// when every element compares greater than the search criteria.
func (l *List[T]) Head() *Node[T] {
	return l.head
}
