package measure

import (
	"sync"

	"github.com/behrlich/go-measure/internal/profiletree"
)

// Profiling is the built-in profile substrate: it folds region enter
// and exit events into a per-location call tree and merges the trees
// during finalization. Each location's tree is manipulated only by
// its owning location; the merge runs under serial discipline.
type Profiling struct {
	profile *profiletree.Profile

	mu     sync.Mutex
	perLoc map[uint64]*profLocation
}

type profLocation struct {
	tree    *profiletree.Location
	root    *profiletree.Node
	current *profiletree.Node
	enterTs []uint64
}

// NewProfiling creates the profiling substrate with numDense dense
// metrics per node.
func NewProfiling(numDense int) *Profiling {
	return &Profiling{
		profile: profiletree.NewProfile(numDense),
		perLoc:  make(map[uint64]*profLocation),
	}
}

// SubstrateName implements Substrate.
func (p *Profiling) SubstrateName() string {
	return "profiling"
}

// locState returns the location's profile state, creating it (with
// its thread root) on first use.
func (p *Profiling) locState(loc *Location) *profLocation {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.perLoc[loc.ID()]
	if !ok {
		tree := p.profile.NewLocation()
		root := tree.CreateNode(nil, profiletree.NodeThreadRoot,
			profiletree.TypeData{Handle: loc.ID()}, 0, profiletree.TaskContextTied)
		p.profile.AddRootNode(root)
		state = &profLocation{tree: tree, root: root, current: root}
		p.perLoc[loc.ID()] = state
	}
	return state
}

// EnterRegion implements RegionSubstrate.
func (p *Profiling) EnterRegion(loc *Location, timestamp uint64, region RegionHandle) {
	state := p.locState(loc)
	child := state.tree.FindCreateChild(state.current, profiletree.NodeRegion,
		profiletree.TypeData{Handle: uint64(region)}, timestamp)
	child.IncrementCount()
	child.RecordEnter(timestamp)
	state.current = child
	state.enterTs = append(state.enterTs, timestamp)
}

// ExitRegion implements RegionSubstrate.
func (p *Profiling) ExitRegion(loc *Location, timestamp uint64, region RegionHandle) {
	state := p.locState(loc)
	if state.current == state.root || len(state.enterTs) == 0 {
		return
	}
	last := len(state.enterTs) - 1
	enter := state.enterTs[last]
	state.enterTs = state.enterTs[:last]

	state.current.RecordExit(timestamp, timestamp-enter)
	state.current = state.current.Parent()
}

// Profile returns the underlying profile.
func (p *Profiling) Profile() *profiletree.Profile {
	return p.profile
}

// LocationRoot returns the location's thread-root node, or nil when
// the location produced no events.
func (p *Profiling) LocationRoot(loc *Location) *profiletree.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.perLoc[loc.ID()]; ok {
		return state.root
	}
	return nil
}

// MergeLocations merges every other location's tree into the first
// location's and returns the surviving root. Call after measurement
// has ended.
func (p *Profiling) MergeLocations() *profiletree.Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	var dst *profLocation
	for _, state := range p.perLoc {
		if dst == nil || state.root.TypeData().Handle < dst.root.TypeData().Handle {
			dst = state
		}
	}
	if dst == nil {
		return nil
	}
	for _, state := range p.perLoc {
		if state == dst {
			continue
		}
		p.profile.RemoveNode(state.root)
		p.profile.MergeSubtree(dst.tree, dst.root, state.root)
		delete(p.perLoc, state.root.TypeData().Handle)
	}

	profiletree.SortSubtree(dst.root, func(a, b *profiletree.Node) bool {
		return profiletree.NodeLessThan(b, a)
	})
	return dst.root
}
