package profiletree

import (
	"github.com/behrlich/go-measure/internal/logging"
)

// mergeNodeInclusive folds source's time bounds and dense aggregates
// into destination: min/max on the enter/exit times, sums on the
// metric aggregates.
func mergeNodeInclusive(destination, source *Node) {
	if destination.firstEnterTime > source.firstEnterTime {
		destination.firstEnterTime = source.firstEnterTime
	}
	if destination.lastExitTime < source.lastExitTime {
		destination.lastExitTime = source.lastExitTime
	}

	destination.inclusiveTime.merge(&source.inclusiveTime)
	for i := range destination.denseMetrics {
		destination.denseMetrics[i].merge(&source.denseMetrics[i])
	}
}

// mergeNodeDense additionally sums the visit counts.
func mergeNodeDense(destination, source *Node) {
	destination.count += source.count
	destination.hits += source.hits
	mergeNodeInclusive(destination, source)
}

// mergeNodeSparse merges the sparse chains by metric id, copying
// entries absent from destination.
func (loc *Location) mergeNodeSparse(destination, source *Node) {
	for src := source.firstIntSparse; src != nil; src = src.nextMetric {
		dst := destination.firstIntSparse
		for dst != nil && dst.metric != src.metric {
			dst = dst.nextMetric
		}
		if dst == nil {
			dst = loc.copySparseInt(src)
			dst.nextMetric = destination.firstIntSparse
			destination.firstIntSparse = dst
		} else {
			mergeSparseInt(dst, src)
		}
	}

	for src := source.firstDoubleSparse; src != nil; src = src.nextMetric {
		dst := destination.firstDoubleSparse
		for dst != nil && dst.metric != src.metric {
			dst = dst.nextMetric
		}
		if dst == nil {
			dst = loc.copySparseDouble(src)
			dst.nextMetric = destination.firstDoubleSparse
			destination.firstDoubleSparse = dst
		} else {
			mergeSparseDouble(dst, src)
		}
	}
}

// SubtractNode removes subtrahend's aggregates from minuend.
func SubtractNode(minuend, subtrahend *Node) {
	minuend.count -= subtrahend.count
	minuend.inclusiveTime.Sum -= subtrahend.inclusiveTime.Sum
	minuend.inclusiveTime.Squares -= subtrahend.inclusiveTime.Squares
	for i := range minuend.denseMetrics {
		minuend.denseMetrics[i].Sum -= subtrahend.denseMetrics[i].Sum
		minuend.denseMetrics[i].Squares -= subtrahend.denseMetrics[i].Squares
	}
}

// threadStartForFork returns the thread-start node below root whose
// fork reference is fork, or nil.
func threadStartForFork(root, fork *Node) *Node {
	for child := root.firstChild; child != nil; child = child.nextSibling {
		if child.nodeType == NodeThreadStart && child.typeData.Fork == fork {
			return child
		}
	}
	return nil
}

// SubstituteThreadStarts repoints every thread-start node referencing
// old at substitute.
func (p *Profile) SubstituteThreadStarts(old, substitute *Node) {
	for root := p.firstRootNode; root != nil; root = root.nextSibling {
		if child := threadStartForFork(root, old); child != nil {
			child.typeData.Fork = substitute
		}
	}
}

// mergeThreadStarts merges, on every location, the subtrees rooted in
// a thread-start node pointing at source into the ones pointing at
// destination.
func (p *Profile) mergeThreadStarts(loc *Location, destination, source *Node) {
	for root := p.firstRootNode; root != nil; root = root.nextSibling {
		src := threadStartForFork(root, source)
		if src == nil {
			continue
		}

		dst := threadStartForFork(root, destination)
		if dst == nil {
			src.typeData.Fork = destination
			continue
		}

		p.RemoveNode(src)
		p.MergeSubtree(loc, dst, src)
	}
}

// MergeSubtree merges source's subtree into destination: dense and
// sparse aggregates on matching nodes, recursive merges on matching
// children, physical adoption of unmatched children. Fork nodes
// cross-reference their thread-start roots, which are merged or
// repointed alongside. Source is released afterwards.
func (p *Profile) MergeSubtree(loc *Location, destination, source *Node) {
	logging.BugOn(destination == nil || source == nil, "Cannot merge nil subtrees")

	if source.isForkNode() {
		if destination.isForkNode() {
			p.mergeThreadStarts(loc, destination, source)
		} else {
			p.SubstituteThreadStarts(source, destination)
		}
	}

	mergeNodeDense(destination, source)
	loc.mergeNodeSparse(destination, source)
	destination.flags |= source.flags

	child := source.firstChild
	for child != nil {
		next := child.nextSibling
		match := FindChild(destination, child)

		if match == nil {
			AddChild(destination, child)
		} else {
			p.MergeSubtree(loc, match, child)
		}

		child = next
	}

	// The children are either integrated into the other tree or
	// already released recursively; release only this node.
	source.firstChild = nil
	loc.ReleaseSubtree(source)
}
