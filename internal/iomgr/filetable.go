package iomgr

import (
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/behrlich/go-measure/internal/constants"
	"github.com/behrlich/go-measure/internal/hashtab"
	"github.com/behrlich/go-measure/internal/logging"
)

// fileTable caches canonicalized file paths to their definition
// handles. It is shared by all locations; lookups on the hot path are
// lock-free.
type fileKey struct {
	hash uint64
	path string
}

type fileTable struct {
	table   *hashtab.Monotonic[fileKey, FileHandle]
	newFile func(path string) FileHandle
}

func newFileTable(newFile func(path string) FileHandle) *fileTable {
	logging.BugOn(newFile == nil, "Missing file definition sink")
	ft := &fileTable{newFile: newFile}
	ft.table = hashtab.NewMonotonic(hashtab.Config[fileKey, FileHandle]{
		PairsPerChunk: constants.IoFileTablePairsPerChunk,
		TableSize:     1 << constants.IoFileTablePower,
		BucketIdx: func(k fileKey) uint32 {
			return uint32(k.hash) & (1<<constants.IoFileTablePower - 1)
		},
		Equals: func(a, b fileKey) bool {
			return a.hash == b.hash && a.path == b.path
		},
		ValueCtor: func(key *fileKey, ctorData any) FileHandle {
			return ft.newFile(key.path)
		},
	})
	return ft
}

func (ft *fileTable) lookup(pathname string) FileHandle {
	// Prefer the canonicalized absolute pathname; keep the given one
	// if resolution fails.
	res := pathname
	if abs, err := filepath.Abs(pathname); err == nil {
		if eval, err := filepath.EvalSymlinks(abs); err == nil {
			res = eval
		} else {
			res = abs
		}
	}

	key := fileKey{hash: xxhash.Sum64String(res), path: res}
	handle, _ := ft.table.GetAndInsert(key, nil)
	return handle
}
