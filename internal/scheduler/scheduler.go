// Package scheduler implements the deterministic, per-frame DAG work-unit
// scheduler: a registry of work units, a derived dependency cache, a worker
// pool, and the per-frame dispatch/pacing algorithm. Its shape is a
// task-graph executor generalized from one-shot build execution to a
// repeating, paced, partially parallel frame loop: handle-based identity, a
// mutex-guarded registry, container/heap-driven deterministic traversal, and
// typed sentinel-wrapped errors.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"frameforge/internal/atomics"
	"frameforge/internal/clock"
	"frameforge/internal/depcache"
	"frameforge/internal/metrics"
	"frameforge/internal/workunit"
)

// Flippable is anything with a per-frame double-buffer flip, satisfied by
// *dbuf.Resource[T] for any T. The scheduler holds these as an interface
// slice, flipping every one of them at frame start, rather than depending on
// dbuf's generic type directly, since the set of resource types in a real
// application is open-ended.
type Flippable interface {
	Flip()
}

// FrameScheduler owns the work-unit registry, the derived dependency cache,
// the worker pool, and the pacing state. One FrameScheduler drives exactly
// one frame loop, treated as a singleton per loop, not a reusable pooled
// object.
type FrameScheduler struct {
	mu sync.Mutex // guards every field below except pauseRemainingUs

	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	clk     clock.Clock

	units             map[workunit.Handle]*workunit.WorkUnit
	registrationOrder []workunit.Handle
	monopolyOrder     []workunit.Handle
	nextHandle        uint64

	cache *depcache.Cache

	resources []Flippable

	started       bool
	frameInFlight bool

	carryUs int64

	startBarrier *atomics.Barrier
	endBarrier   *atomics.Barrier
	stopCh       chan struct{}
	workersWG    sync.WaitGroup

	// pauseRemainingUs is read by PauseRemainingMicroseconds from any
	// goroutine while a frame is sleeping; kept as its own atomic rather
	// than under mu so a caller polling it never contends with frame
	// dispatch.
	pauseRemainingUs atomic.Int64
}

// New constructs a FrameScheduler. logger and m may be zero-valued
// (zerolog.Logger{} / nil); a nil m is replaced by a Metrics set on a fresh
// private registry, so callers in tests never have to wire observability
// explicitly.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) (*FrameScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &FrameScheduler{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		clk:     clock.Real{},
		units:   make(map[workunit.Handle]*workunit.WorkUnit),
		cache:   depcache.New(),
	}, nil
}

// SetClock overrides the time source; used by pacing tests to inject a fake
// clock instead of sleeping real wall-clock time.
func (s *FrameScheduler) SetClock(c clock.Clock) {
	s.mu.Lock()
	s.clk = c
	s.mu.Unlock()
}

// RegisterResource enrolls a double-buffered resource for automatic Flip()
// at the start of every frame. Safe to call at any
// time; a resource registered mid-run simply starts flipping from the next
// frame.
func (s *FrameScheduler) RegisterResource(r Flippable) {
	s.mu.Lock()
	s.resources = append(s.resources, r)
	s.mu.Unlock()
}

// AddWorkUnit registers a new work unit and returns its handle. Illegal
// while a frame is in flight.
func (s *FrameScheduler) AddWorkUnit(name string, kind workunit.Kind, body workunit.Body) (workunit.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameInFlight {
		return workunit.Invalid, graphErrf(ErrFrameInFlight, "add work unit %q", name)
	}

	s.nextHandle++
	h := workunit.Handle(s.nextHandle)
	u, err := workunit.New(h, name, kind, body, s.cfg.HistoryLength)
	if err != nil {
		return workunit.Invalid, err
	}

	s.units[h] = u
	s.registrationOrder = append(s.registrationOrder, h)
	if kind == workunit.Monopoly {
		s.monopolyOrder = append(s.monopolyOrder, h)
	}
	s.cache.MarkDirty()
	return h, nil
}

// AddDependency records that dependent must not run until predecessor has
// finished. Rejects unknown handles, self-loops, and any edge that would
// create a cycle; illegal while a frame is in flight.
func (s *FrameScheduler) AddDependency(dependent, predecessor workunit.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameInFlight {
		return graphErrf(ErrFrameInFlight, "add dependency %d->%d", dependent, predecessor)
	}
	dep, ok := s.units[dependent]
	if !ok {
		return graphErrf(ErrUnknownHandle, "dependent handle %d", dependent)
	}
	pred, ok := s.units[predecessor]
	if !ok {
		return graphErrf(ErrUnknownHandle, "predecessor handle %d", predecessor)
	}
	if dependent == predecessor {
		return graphErrf(ErrCycle, "%q cannot depend on itself", dep.Name())
	}
	if s.reachable(predecessor, dependent) {
		return graphErrf(ErrCycle, "%q -> %q would close a cycle", dep.Name(), pred.Name())
	}

	dep.AddDependency(predecessor)
	s.cache.MarkDirty()
	return nil
}

// reachable reports whether to is reachable from from by following existing
// forward dependency edges (from depends on ... depends on to). Used only at
// AddDependency time, over the registry's current (small, between-frames)
// edge set, via plain DFS.
func (s *FrameScheduler) reachable(from, to workunit.Handle) bool {
	visited := make(map[workunit.Handle]bool)
	var walk func(workunit.Handle) bool
	walk = func(h workunit.Handle) bool {
		if h == to {
			return true
		}
		if visited[h] {
			return false
		}
		visited[h] = true
		u, ok := s.units[h]
		if !ok {
			return false
		}
		for _, d := range u.Dependencies() {
			if walk(d) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// RemoveWorkUnit deregisters a work unit and strips it from every surviving
// unit's dependency list, so no dangling predecessor remains. Illegal while
// a frame is in flight.
func (s *FrameScheduler) RemoveWorkUnit(h workunit.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameInFlight {
		return graphErrf(ErrFrameInFlight, "remove work unit %d", h)
	}
	if _, ok := s.units[h]; !ok {
		return graphErrf(ErrUnknownHandle, "handle %d", h)
	}

	delete(s.units, h)
	s.registrationOrder = removeHandle(s.registrationOrder, h)
	s.monopolyOrder = removeHandle(s.monopolyOrder, h)
	for _, u := range s.units {
		u.RemoveDependency(h)
	}
	s.cache.MarkDirty()
	return nil
}

func removeHandle(handles []workunit.Handle, h workunit.Handle) []workunit.Handle {
	out := handles[:0]
	for _, x := range handles {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}

// UpdateDependencyCache rebuilds the derived dependent map and the sorted
// dispatch sequences from the current registry. This is the expensive O(V+E)
// operation callers are expected to amortize off the critical path, e.g.
// from a builtin.Sorter work unit running once every few frames rather than
// from application code every frame.
func (s *FrameScheduler) UpdateDependencyCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateDependencyCacheLocked()
}

func (s *FrameScheduler) updateDependencyCacheLocked() error {
	snapshot := make([]*workunit.WorkUnit, 0, len(s.units))
	for _, u := range s.units {
		snapshot = append(snapshot, u)
	}
	if err := s.cache.Rebuild(snapshot); err != nil {
		if errors.Is(err, depcache.ErrDanglingPredecessor) {
			return &GraphError{Kind: ErrDanglingPredecessor, Msg: err.Error()}
		}
		return err
	}
	return nil
}

// SortWorkUnits (re)establishes the dispatch order. With rebuildCache true it
// performs the full dependent-count recomputation via UpdateDependencyCache;
// with rebuildCache false it is a cheap staleness check, trusting the
// sequence computed by the last rebuild — a lazy, on-request rebuild
// contract so callers can amortize the cost across several frames.
func (s *FrameScheduler) SortWorkUnits(rebuildCache bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rebuildCache {
		return s.updateDependencyCacheLocked()
	}
	if s.cache.IsDirty() {
		return ErrCacheStale
	}
	return nil
}

// SetThreadCount changes the configured worker thread count. Illegal while
// started; callers must Stop, reconfigure, and Start again.
func (s *FrameScheduler) SetThreadCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if n < 1 {
		return fmt.Errorf("scheduler: thread count must be >= 1, got %d", n)
	}
	s.cfg.ThreadCount = n
	return nil
}

// SetFrameLength changes the target frame length in microseconds.
func (s *FrameScheduler) SetFrameLength(us int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us <= 0 {
		return fmt.Errorf("scheduler: frame length must be > 0, got %d", us)
	}
	s.cfg.FrameLengthUs = us
	return nil
}

// SetHistoryLength changes the rolling-average window new work units are
// constructed with. Existing units keep their original window.
func (s *FrameScheduler) SetHistoryLength(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return fmt.Errorf("scheduler: history length must be > 0, got %d", n)
	}
	s.cfg.HistoryLength = n
	return nil
}

// PauseRemainingMicroseconds reports how much of the current inter-frame
// sleep is left, or 0 outside of the sleep window. Safe to call from any
// goroutine.
func (s *FrameScheduler) PauseRemainingMicroseconds() int64 {
	return s.pauseRemainingUs.Load()
}

// byHandleSnapshotLocked returns every registered unit keyed by handle; mu
// must be held.
func (s *FrameScheduler) byHandleSnapshotLocked() map[workunit.Handle]*workunit.WorkUnit {
	out := make(map[workunit.Handle]*workunit.WorkUnit, len(s.units))
	for h, u := range s.units {
		out[h] = u
	}
	return out
}
