package scheduler

import (
	"context"

	"frameforge/internal/workunit"
)

// runDispatchLoop implements the acquisition protocol over one or more
// sequences, in priority order: every unit in sequences[0] is considered
// before any unit in sequences[1], and so on. This is how the main thread's
// preference for main-affinity work is expressed — it is handed
// [mainAffinitySequence, nonAffinitySequence] while every other worker is
// handed only [nonAffinitySequence].
//
// The loop repeats full passes until one produces neither a new acquisition
// nor observes any unit mid-flight (Starting or Running) elsewhere — the
// drain condition for the frame's parallel phase. A unit whose dependencies
// are not yet all settled is skipped for this pass and reconsidered on the
// next;
// a unit with a permanently Failed predecessor is skipped forever, which the
// drain check tolerates because skipping it is neither a new acquisition nor
// evidence of anything still in flight.
func runDispatchLoop(ctx context.Context, byHandle map[workunit.Handle]*workunit.WorkUnit, sequences [][]workunit.Handle, onFailure func(*workunit.WorkUnit, error)) {
	for {
		acquiredAny := false
		inFlightAny := false

		for _, seq := range sequences {
			for _, h := range seq {
				u := byHandle[h]
				if u == nil || u.HasFinishedThisFrame() {
					continue
				}

				switch u.State() {
				case workunit.Starting, workunit.Running:
					inFlightAny = true
					continue
				case workunit.Failed:
					continue
				}

				ready, blocked := predecessorStatus(u, byHandle)
				if blocked {
					continue
				}
				if !ready {
					continue
				}

				if !u.TryAcquire() {
					continue
				}
				acquiredAny = true
				if err := u.Run(ctx); err != nil && onFailure != nil {
					onFailure(u, err)
				}
			}
		}

		if !acquiredAny && !inFlightAny {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// predecessorStatus reports whether every predecessor of u has finished this
// frame (ready), and whether any predecessor failed (blocked, permanently:
// u can never become ready this frame, since dependents of a failed unit are
// not started).
func predecessorStatus(u *workunit.WorkUnit, byHandle map[workunit.Handle]*workunit.WorkUnit) (ready, blocked bool) {
	ready = true
	for _, depHandle := range u.Dependencies() {
		dep := byHandle[depHandle]
		if dep == nil {
			continue
		}
		if dep.State() == workunit.Failed {
			return false, true
		}
		if !dep.HasFinishedThisFrame() {
			ready = false
		}
	}
	return ready, false
}
