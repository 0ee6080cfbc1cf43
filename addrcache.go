package measure

import (
	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/hashtab"
)

// addrCache backs the compiler adapter path: a monotonic hash table
// from instruction address to region handle. On the first observation
// of an address the source information is resolved, the function name
// demangled, and the filter consulted; filtered or unresolvable
// addresses collapse to the shared FilteredRegion sentinel. Every
// later event on the same address is a lock-free lookup.
type addrCache struct {
	rt    *Runtime
	table *hashtab.Monotonic[uint64, RegionHandle]
}

func newAddrCache(rt *Runtime) *addrCache {
	c := &addrCache{rt: rt}
	c.table = hashtab.NewMonotonic(hashtab.Config[uint64, RegionHandle]{
		PairsPerChunk: constants.AddrTablePairsPerChunk,
		TableSize:     1 << constants.AddrTablePower,
		BucketIdx: func(pc uint64) uint32 {
			// Instruction addresses share alignment in their low bits;
			// fold the upper half in before masking.
			return uint32(pc>>4^pc>>36) & (1<<constants.AddrTablePower - 1)
		},
		Equals: func(a, b uint64) bool { return a == b },
		ValueCtor: func(pc *uint64, ctorData any) RegionHandle {
			return c.resolve(*pc)
		},
	})
	return c
}

// resolve runs once per first-seen address under the bucket's insert
// lock.
func (c *addrCache) resolve(pc uint64) RegionHandle {
	rt := c.rt
	rt.stats.AddrCacheMisses.Add(1)

	if rt.resolver == nil {
		return FilteredRegion
	}
	info, ok := rt.resolver.LookupAddr(pc)
	if !ok || info.Function == "" {
		return FilteredRegion
	}

	display := rt.demangler.Demangle(info.Function)

	if rt.filter.MatchFile(info.File) ||
		rt.filter.MatchFunction(display, info.Function) {
		return FilteredRegion
	}

	file := InvalidSourceFile
	if info.File != "" {
		file = rt.defs.NewSourceFile(info.File)
	}
	region := rt.defs.NewRegion(display, info.Function, file,
		info.Line, info.Line, RegionParadigmCompiler, RoleFunction)
	rt.stats.RegionsDefined.Add(1)
	return region
}

// RegionForAddress returns the region handle for an instruction
// address, registering it on first observation. The filter is
// consulted only on first-seen addresses.
func (rt *Runtime) RegionForAddress(pc uint64) RegionHandle {
	region, _ := rt.addrCache.table.GetAndInsert(pc, nil)
	return region
}

// EnterRegionByAddress resolves pc through the address cache and
// enters the resulting region on the location.
func (loc *Location) EnterRegionByAddress(pc uint64) RegionHandle {
	region := loc.rt.RegionForAddress(pc)
	loc.EnterRegion(region)
	return region
}

// ExitRegionByAddress resolves pc through the address cache and exits
// the resulting region.
func (loc *Location) ExitRegionByAddress(pc uint64) {
	loc.ExitRegion(loc.rt.RegionForAddress(pc))
}
