package measure

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/behrlich/go-measure/internal/callstack"
	"github.com/behrlich/go-measure/internal/iomgr"
)

// RegionHandle identifies a registered source region.
type RegionHandle = callstack.RegionHandle

const (
	// InvalidRegion is the null region handle.
	InvalidRegion = callstack.InvalidRegion

	// FilteredRegion is the shared sentinel for filtered regions.
	FilteredRegion = callstack.FilteredRegion
)

// SourceFileHandle identifies a registered source file.
type SourceFileHandle uint32

// InvalidSourceFile is the null source file handle.
const InvalidSourceFile SourceFileHandle = 0

// IoFileHandle identifies a file definition in the I/O subsystem.
type IoFileHandle = iomgr.FileHandle

// RegionRole classifies what a region represents.
type RegionRole int

const (
	RoleFunction RegionRole = iota
	RoleLoop
	RoleUserRegion
	RolePhase
)

// RegionParadigm names the instrumentation family a region belongs
// to.
type RegionParadigm int

const (
	RegionParadigmCompiler RegionParadigm = iota
	RegionParadigmUser
	RegionParadigmThread
	RegionParadigmIo
)

// regionDef is one immutable region definition. Created on first
// observation, identified by a small unsigned handle.
type regionDef struct {
	name      string
	canonical string
	file      SourceFileHandle
	firstLine uint32
	lastLine  uint32
	paradigm  RegionParadigm
	role      RegionRole
	hash      uint32
}

// Definitions is the region/string/file definition sink. The core
// caches the returned handles and never interprets them; this
// registry is the in-process implementation handed to the runtime by
// default.
type Definitions struct {
	mu sync.Mutex

	regions []regionDef

	sourceFiles      []string
	sourceFileByPath map[string]SourceFileHandle

	ioFiles []string

	samplingSets []string
}

// NewDefinitions creates an empty definition registry.
func NewDefinitions() *Definitions {
	return &Definitions{
		sourceFileByPath: make(map[string]SourceFileHandle),
	}
}

// NewRegion registers a region and returns its handle. Regions are
// immutable after creation.
func (d *Definitions) NewRegion(displayName, canonicalName string, file SourceFileHandle,
	firstLine, lastLine uint32, paradigm RegionParadigm, role RegionRole) RegionHandle {

	if canonicalName == "" {
		canonicalName = displayName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.regions = append(d.regions, regionDef{
		name:      displayName,
		canonical: canonicalName,
		file:      file,
		firstLine: firstLine,
		lastLine:  lastLine,
		paradigm:  paradigm,
		role:      role,
		hash:      uint32(xxhash.Sum64String(displayName)),
	})
	return RegionHandle(len(d.regions))
}

// NewSourceFile registers a source file path, deduplicating repeats.
func (d *Definitions) NewSourceFile(path string) SourceFileHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.sourceFileByPath[path]; ok {
		return h
	}
	d.sourceFiles = append(d.sourceFiles, path)
	h := SourceFileHandle(len(d.sourceFiles))
	d.sourceFileByPath[path] = h
	return h
}

// NewIoFile registers a file definition for the I/O subsystem.
func (d *Definitions) NewIoFile(path string) IoFileHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ioFiles = append(d.ioFiles, path)
	return IoFileHandle(len(d.ioFiles))
}

// NewSamplingSet registers a sampling set for a metric name and
// returns its handle.
func (d *Definitions) NewSamplingSet(metricName string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samplingSets = append(d.samplingSets, metricName)
	return uint32(len(d.samplingSets))
}

func (d *Definitions) region(r RegionHandle) *regionDef {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r == InvalidRegion || r == FilteredRegion || int(r) > len(d.regions) {
		return nil
	}
	return &d.regions[r-1]
}

// RegionName returns the display name of a region, or "" for
// sentinels.
func (d *Definitions) RegionName(r RegionHandle) string {
	if def := d.region(r); def != nil {
		return def.name
	}
	if r == FilteredRegion {
		return "FILTERED"
	}
	return ""
}

// RegionCanonicalName returns the canonical (mangled) name of a
// region.
func (d *Definitions) RegionCanonicalName(r RegionHandle) string {
	if def := d.region(r); def != nil {
		return def.canonical
	}
	return ""
}

// RegionFile returns the source file a region was defined in.
func (d *Definitions) RegionFile(r RegionHandle) SourceFileHandle {
	if def := d.region(r); def != nil {
		return def.file
	}
	return InvalidSourceFile
}

// RegionRole returns the role of a region.
func (d *Definitions) RegionRole(r RegionHandle) RegionRole {
	if def := d.region(r); def != nil {
		return def.role
	}
	return RoleFunction
}

// RegionHash returns the stable name hash of a region used in
// call-path hashing. Sentinels hash to fixed values.
func (d *Definitions) RegionHash(r RegionHandle) uint32 {
	if def := d.region(r); def != nil {
		return def.hash
	}
	return uint32(r)
}

// SourceFilePath returns the path of a registered source file.
func (d *Definitions) SourceFilePath(h SourceFileHandle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == InvalidSourceFile || int(h) > len(d.sourceFiles) {
		return ""
	}
	return d.sourceFiles[h-1]
}

// NumRegions returns the number of registered regions.
func (d *Definitions) NumRegions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regions)
}
