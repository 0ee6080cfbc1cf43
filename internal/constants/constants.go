package constants

// Region stack constants
const (
	// FrameCapacity is the number of region handles stored per task
	// stack frame. When the top frame fills up, a new frame is chained
	// in front of it; when the top frame drains, it is recycled through
	// the location's free list.
	FrameCapacity = 30
)

// I/O handle management constants
//
// Each registered I/O paradigm owns a small open-hashing table of its
// live handles, keyed by the paradigm-specific payload bytes (file
// descriptor, FILE* bytes, ...). The table size is fixed; collisions
// chain through the handles' own next links.
const (
	// IoHandleTablePower is the size exponent of the per-paradigm
	// handle table.
	IoHandleTablePower = 6

	// IoHandleTableSize is the number of buckets per paradigm (64).
	IoHandleTableSize = 1 << IoHandleTablePower

	// IoHandleTableMask maps a payload hash to its bucket.
	IoHandleTableMask = IoHandleTableSize - 1

	// IoFileTablePower is the size exponent of the process-wide
	// file-path cache.
	IoFileTablePower = 7

	// IoFileTablePairsPerChunk is the number of key-value pairs per
	// file-path cache chunk.
	IoFileTablePairsPerChunk = 6
)

// Address-to-region cache constants
const (
	// AddrTablePower is the size exponent of the address-to-region
	// cache used by the compiler adapter path.
	AddrTablePower = 9

	// AddrTablePairsPerChunk sizes the address cache chunks.
	AddrTablePairsPerChunk = 5
)

// Cache layout constants
const (
	// CachelineSize is the assumed cacheline size for padding
	// lock-carrying structures.
	CachelineSize = 64
)

// Skiplist constants
const (
	// SkiplistDefaultMaxHeight bounds node heights when the caller does
	// not provide a limit. 2^16 expected elements is ample for the
	// offline indices built on the skiplist.
	SkiplistDefaultMaxHeight = 16
)
