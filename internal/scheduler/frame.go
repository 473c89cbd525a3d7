package scheduler

import (
	"context"
	"sync"

	"frameforge/internal/workunit"
)

// DoOneFrame runs exactly one frame: reset every unit and flip every
// registered double-buffered resource, run monopoly units serially, run the
// parallel phase to drain, then pace the frame. It rebuilds the dependency
// cache first if a structural change has made it stale, so a caller never
// has to remember to call UpdateDependencyCache before the very first frame.
//
// Returns ErrFrameInFlight if a frame is already running (DoOneFrame is not
// reentrant and not meant to be called concurrently with itself).
func (s *FrameScheduler) DoOneFrame(ctx context.Context) error {
	s.mu.Lock()
	if s.frameInFlight {
		s.mu.Unlock()
		return ErrFrameInFlight
	}
	if s.cache.IsDirty() {
		if err := s.updateDependencyCacheLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.frameInFlight = true

	allUnits := make([]*workunit.WorkUnit, 0, len(s.units))
	for _, u := range s.units {
		allUnits = append(allUnits, u)
	}
	monopoly := append([]workunit.Handle(nil), s.monopolyOrder...)
	mainSeq := s.cache.MainAffinitySequence()
	nonSeq := s.cache.NonAffinitySequence()
	byHandle := s.byHandleSnapshotLocked()
	resources := append([]Flippable(nil), s.resources...)
	workerModel := s.cfg.WorkerModel
	threadCount := s.cfg.ThreadCount
	started := s.started
	clk := s.clk
	s.mu.Unlock()

	frameStart := clk.Now()

	// Frame start: every resource flips exactly once, and every unit's state
	// resets to the ready sentinel, before any body runs.
	for _, r := range resources {
		r.Flip()
	}
	for _, u := range allUnits {
		u.ResetForFrame()
	}

	// Monopoly phase: serial, main-thread-only, runs to completion before
	// the parallel phase begins.
	for _, h := range monopoly {
		u := byHandle[h]
		if u == nil || !u.TryAcquire() {
			continue
		}
		if err := u.Run(ctx); err != nil {
			s.onBodyFailure(u, err)
		}
	}

	s.metrics.ActiveWorkers.Set(float64(threadCount))
	switch {
	case workerModel == WorkerModelPersistent && started:
		s.startBarrier.Wait()
		runDispatchLoop(ctx, byHandle, [][]workunit.Handle{mainSeq, nonSeq}, s.onBodyFailure)
		s.endBarrier.Wait()

	case workerModel == WorkerModelPerFrame:
		var wg sync.WaitGroup
		for i := 1; i < threadCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runDispatchLoop(ctx, byHandle, [][]workunit.Handle{nonSeq}, s.onBodyFailure)
			}()
		}
		runDispatchLoop(ctx, byHandle, [][]workunit.Handle{mainSeq, nonSeq}, s.onBodyFailure)
		wg.Wait()

	default:
		// Persistent model configured but Start was never called: the
		// calling goroutine drains the whole sequence alone.
		runDispatchLoop(ctx, byHandle, [][]workunit.Handle{mainSeq, nonSeq}, s.onBodyFailure)
	}
	s.metrics.ActiveWorkers.Set(0)

	elapsed := clk.Now().Sub(frameStart)
	s.finishFrame(clk, elapsed)
	return nil
}
