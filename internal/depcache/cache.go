// Package depcache implements the dependency cache: a derived reverse-edge
// map and a cached, sorted dispatch sequence, rebuilt on demand when the
// graph changes. The client-visible graph (held by the scheduler via each
// workunit.WorkUnit's own forward dependency list) stores only forward
// edges; depcache derives the reverse (dependent) projection so individual
// work units stay small and edge insertion stays O(1).
package depcache

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"frameforge/internal/workunit"
)

// handleHeap is a min-heap of handles, used to give dependent-count traversal
// a fixed, deterministic order independent of Go map iteration.
type handleHeap []workunit.Handle

func (h handleHeap) Len() int            { return len(h) }
func (h handleHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h handleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *handleHeap) Push(x interface{}) { *h = append(*h, x.(workunit.Handle)) }
func (h *handleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Cache holds the derived reverse-edge map plus the two sorted dispatch
// sequences (main-affinity and non-affinity) that the frame scheduler reads
// every frame. It is safe for concurrent reads once built. Rebuild swaps in
// the new sequences under the cache's own lock; the scheduler does not
// reject a Rebuild during a frame (builtin.Sorter issues one from inside a
// frame), and sequences already copied out by a reader are unaffected.
type Cache struct {
	mu sync.Mutex

	dirty bool

	directDependents map[workunit.Handle][]workunit.Handle
	mainAffinity     []workunit.Handle
	nonAffinity      []workunit.Handle
}

// New constructs an empty, dirty Cache.
func New() *Cache {
	return &Cache{dirty: true}
}

// MarkDirty flags the cache as stale. Called whenever a dependency is added
// or a work unit is added/removed.
func (c *Cache) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// IsDirty reports whether Rebuild must run before the dispatch sequences can
// be trusted.
func (c *Cache) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Rebuild recomputes dependent counts and the sorted dispatch sequences from
// units, a point-in-time snapshot of the full registry. It is idempotent and
// always safe to call, dirty or not.
func (c *Cache) Rebuild(units []*workunit.WorkUnit) error {
	byHandle := make(map[workunit.Handle]*workunit.WorkUnit, len(units))
	for _, u := range units {
		byHandle[u.Handle()] = u
	}

	direct := make(map[workunit.Handle][]workunit.Handle, len(units))
	for _, u := range units {
		for _, dep := range u.Dependencies() {
			if _, ok := byHandle[dep]; !ok {
				return fmt.Errorf("%w: %q depends on unregistered handle %d", ErrDanglingPredecessor, u.Name(), dep)
			}
			direct[dep] = append(direct[dep], u.Handle())
		}
	}

	keys := make([]workunit.Key, 0, len(units))
	for _, u := range units {
		count := transitiveDependentCount(u.Handle(), direct)
		keys = append(keys, workunit.Key{
			DependentCount: count,
			PerfSample:     u.PerfSample(),
			Handle:         u.Handle(),
		})
	}
	sort.Slice(keys, func(i, j int) bool { return workunit.Less(keys[i], keys[j]) })

	main := make([]workunit.Handle, 0)
	non := make([]workunit.Handle, 0, len(keys))
	for _, k := range keys {
		if byHandle[k.Handle].IsMainAffinity() {
			main = append(main, k.Handle)
		} else {
			non = append(non, k.Handle)
		}
	}

	c.mu.Lock()
	c.directDependents = direct
	c.mainAffinity = main
	c.nonAffinity = non
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// transitiveDependentCount counts the distinct units reachable by following
// direct-dependent edges outward from start: the number of units v such that
// start appears transitively in v's predecessor closure. frameforge counts
// the full transitive closure rather than just the immediate dependents, a
// fixed, consistent choice applied for the life of the process.
func transitiveDependentCount(start workunit.Handle, direct map[workunit.Handle][]workunit.Handle) int {
	visited := map[workunit.Handle]bool{start: true}
	hq := &handleHeap{}
	heap.Init(hq)
	for _, d := range direct[start] {
		heap.Push(hq, d)
	}

	count := 0
	for hq.Len() > 0 {
		h := heap.Pop(hq).(workunit.Handle)
		if visited[h] {
			continue
		}
		visited[h] = true
		count++
		for _, d := range direct[h] {
			if !visited[d] {
				heap.Push(hq, d)
			}
		}
	}
	return count
}

// MainAffinitySequence returns a copy of the sorted dispatch sequence
// restricted to main-affinity units.
func (c *Cache) MainAffinitySequence() []workunit.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]workunit.Handle, len(c.mainAffinity))
	copy(out, c.mainAffinity)
	return out
}

// NonAffinitySequence returns a copy of the sorted dispatch sequence
// restricted to non-main-affinity units.
func (c *Cache) NonAffinitySequence() []workunit.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]workunit.Handle, len(c.nonAffinity))
	copy(out, c.nonAffinity)
	return out
}
