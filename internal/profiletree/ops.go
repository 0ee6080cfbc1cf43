package profiletree

import (
	"github.com/behrlich/go-measure/internal/logging"
)

// AddChild prepends child to parent's children list.
func AddChild(parent, child *Node) {
	child.nextSibling = parent.firstChild
	parent.firstChild = child
	child.parent = parent
}

// CompareNodes reports whether two nodes represent the same call-path
// step.
func CompareNodes(a, b *Node) bool {
	if a.nodeType != b.nodeType {
		return false
	}
	return compareTypeData(a.typeData, b.typeData, a.nodeType)
}

// NodeLessThan provides the default ordering for SortSubtree.
func NodeLessThan(a, b *Node) bool {
	if a.nodeType != b.nodeType {
		return a.nodeType < b.nodeType
	}
	return lessThanTypeData(a.typeData, b.typeData, a.nodeType)
}

// FindChild returns parent's child matching prototype's type and
// data, or nil.
func FindChild(parent, prototype *Node) *Node {
	logging.BugOn(parent == nil, "Cannot search children of a nil node")
	child := parent.firstChild
	for child != nil && !CompareNodes(child, prototype) {
		child = child.nextSibling
	}
	return child
}

// FindCreateChild returns parent's child with the given type and
// data, creating it as first child when absent.
func (loc *Location) FindCreateChild(parent *Node, t NodeType, data TypeData, timestamp uint64) *Node {
	logging.BugOn(parent == nil, "Cannot search children of a nil node")
	child := parent.firstChild
	for child != nil &&
		(child.nodeType != t || !compareTypeData(data, child.typeData, t)) {
		child = child.nextSibling
	}

	if child == nil {
		child = loc.CreateNode(parent, t, data, timestamp, parent.taskContext())
		child.nextSibling = parent.firstChild
		parent.firstChild = child
	}
	return child
}

// MoveChildren appends source's children to destination's children
// list, reparenting each moved child. A nil destination appends them
// to the profile's root list.
func (p *Profile) MoveChildren(destination, source *Node) {
	logging.BugOn(source == nil, "Cannot move children of a nil node")

	child := source.firstChild
	if child == nil {
		return
	}

	for child != nil {
		child.parent = destination
		child = child.nextSibling
	}

	if destination == nil {
		child = p.firstRootNode
		if child == nil {
			p.firstRootNode = source.firstChild
			source.firstChild = nil
			return
		}
	} else {
		child = destination.firstChild
		if child == nil {
			destination.firstChild = source.firstChild
			source.firstChild = nil
			return
		}
	}

	for child.nextSibling != nil {
		child = child.nextSibling
	}
	child.nextSibling = source.firstChild
	source.firstChild = nil
}

// RemoveNode unlinks node (with its subtree) from its parent's
// children list, or from the root list for parentless nodes. A node
// that is not found in the expected siblings list is logged and
// detached anyway.
func (p *Profile) RemoveNode(node *Node) {
	logging.BugOn(node == nil, "Cannot remove a nil node")

	parent := node.parent
	var before *Node
	if parent == nil {
		before = p.firstRootNode
	} else {
		before = parent.firstChild
	}

	if before == node {
		if parent == nil {
			p.firstRootNode = node.nextSibling
		} else {
			parent.firstChild = node.nextSibling
		}
		node.parent = nil
		node.nextSibling = nil
		return
	}

	for before != nil && before.nextSibling != node {
		before = before.nextSibling
	}

	if before == nil {
		logging.Warnf("Trying to remove a node which is not contained in the siblings list. " +
			"Maybe an inconsistent profile.")
		node.parent = nil
		node.nextSibling = nil
		return
	}

	before.nextSibling = node.nextSibling
	node.parent = nil
	node.nextSibling = nil
}

// ForAll traverses the subtree depth-first, iteratively, and calls fn
// on every node: the root first, then down first-child edges, across
// next-sibling edges, backtracking through parent edges.
func ForAll(rootNode *Node, fn func(*Node)) {
	current := rootNode
	if current == nil {
		return
	}
	fn(current)

	current = current.firstChild
	if current == nil {
		return
	}

	for current != rootNode {
		fn(current)

		if current.firstChild != nil {
			current = current.firstChild
		} else {
			for current != rootNode {
				if current.nextSibling != nil {
					current = current.nextSibling
					break
				}
				current = current.parent
			}
		}
	}
}

// NumberOfChildren counts node's direct children.
func NumberOfChildren(node *Node) uint64 {
	var count uint64
	if node == nil {
		return 0
	}
	for child := node.firstChild; child != nil; child = child.nextSibling {
		count++
	}
	return count
}

// NumberOfChildCalls sums the visit counts of node's direct children.
func NumberOfChildCalls(node *Node) uint64 {
	var count uint64
	if node == nil {
		return 0
	}
	for child := node.firstChild; child != nil; child = child.nextSibling {
		count += child.count
	}
	return count
}

// ExclusiveTime returns the node's inclusive time minus its
// children's.
func ExclusiveTime(node *Node) uint64 {
	if node == nil {
		return 0
	}
	exclusive := node.inclusiveTime.Sum
	for child := node.firstChild; child != nil; child = child.nextSibling {
		exclusive -= child.inclusiveTime.Sum
	}
	return exclusive
}
