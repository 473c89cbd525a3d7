package scheduler

import (
	"context"

	"frameforge/internal/atomics"
	"frameforge/internal/workunit"
)

// Start brings up the worker pool for the configured WorkerModel. Under
// WorkerModelPerFrame it is a no-op beyond flipping the started flag, since
// that model spawns its goroutines fresh every frame. Under
// WorkerModelPersistent it parks ThreadCount-1 worker goroutines on a pair of
// reusable barriers; DoOneFrame's caller goroutine stands in as the Nth
// party every frame.
func (s *FrameScheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.cfg.WorkerModel != WorkerModelPersistent {
		s.started = true
		s.mu.Unlock()
		return nil
	}

	n := s.cfg.ThreadCount
	if n < 1 {
		n = 1
	}
	startBarrier, err := atomics.NewBarrier(n)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	endBarrier, err := atomics.NewBarrier(n)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.startBarrier = startBarrier
	s.endBarrier = endBarrier
	s.stopCh = make(chan struct{})
	s.started = true
	workerCount := n - 1
	s.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		s.workersWG.Add(1)
		go s.persistentWorkerLoop()
	}
	return nil
}

// Stop tears down the persistent worker pool, if any, and blocks until every
// worker goroutine has exited. Safe to call again only after a subsequent
// Start.
func (s *FrameScheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.cfg.WorkerModel != WorkerModelPersistent {
		s.started = false
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	// Stand in as the main thread's party for one final barrier cycle so
	// every worker parked at startBarrier wakes up, observes stopCh closed,
	// and exits instead of running another dispatch pass.
	s.startBarrier.Wait()
	s.endBarrier.Wait()
	s.workersWG.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *FrameScheduler) persistentWorkerLoop() {
	defer s.workersWG.Done()
	for {
		s.startBarrier.Wait()

		select {
		case <-s.stopCh:
			s.endBarrier.Wait()
			return
		default:
		}

		s.mu.Lock()
		byHandle := s.byHandleSnapshotLocked()
		nonSeq := s.cache.NonAffinitySequence()
		s.mu.Unlock()

		runDispatchLoop(context.Background(), byHandle, [][]workunit.Handle{nonSeq}, s.onBodyFailure)
		s.endBarrier.Wait()
	}
}

func (s *FrameScheduler) onBodyFailure(u *workunit.WorkUnit, err error) {
	s.logger.Warn().Str("unit", u.Name()).Err(err).Msg("work unit body failed")
	s.metrics.BodyFailureTotal.Inc()
}
