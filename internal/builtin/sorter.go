package builtin

import "context"

// cacheSorter is the subset of *scheduler.FrameScheduler Sorter needs. Kept
// as an interface so this package does not import scheduler just to be
// wired against it, avoiding a dependency cycle should scheduler ever want
// to depend on builtin's types for defaults.
type cacheSorter interface {
	SortWorkUnits(rebuildCache bool) error
}

// Sorter is a built-in work unit that amortizes the dependency cache's full
// rebuild off the critical path: most frames it does nothing, and every
// everyNFrames'th frame it pays for the full dependent-count recomputation.
type Sorter struct {
	sched        cacheSorter
	everyNFrames int
	frame        int
}

// NewSorter constructs a Sorter that fully rebuilds the dependency cache
// every everyNFrames frames (clamped to at least 1).
func NewSorter(sched cacheSorter, everyNFrames int) *Sorter {
	if everyNFrames < 1 {
		everyNFrames = 1
	}
	return &Sorter{sched: sched, everyNFrames: everyNFrames}
}

// Body is installed as a Normal work unit's body.
func (s *Sorter) Body(ctx context.Context) error {
	s.frame++
	if s.frame%s.everyNFrames != 0 {
		return nil
	}
	return s.sched.SortWorkUnits(true)
}
