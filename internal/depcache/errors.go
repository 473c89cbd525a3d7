package depcache

import "errors"

// ErrDanglingPredecessor is returned by Rebuild when a work unit names a
// dependency handle that is not present in the registry snapshot passed to
// Rebuild. This is a graph-structure error: it is surfaced to the caller,
// never recovered internally.
var ErrDanglingPredecessor = errors.New("depcache: dangling predecessor")
