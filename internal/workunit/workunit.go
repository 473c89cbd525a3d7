package workunit

import (
	"context"
	"fmt"
	"time"

	"frameforge/internal/atomics"
	"frameforge/internal/rollingavg"
)

// WorkUnit is a stateful node: performance history, dependency list, and the
// acquire/execute/finish state machine. Its lifetime is owned by the
// scheduler from registration to scheduler destruction.
//
// A WorkUnit is small and flat by design — keeping it within one cache line
// is a performance preference, not a correctness contract; the dependent
// (reverse) edge set is never stored here — that is the depcache package's
// job, kept off the hot node to preserve O(1) edge insertion.
type WorkUnit struct {
	handle Handle
	kind   Kind
	name   string
	body   Body

	state *atomics.Word
	perf  *rollingavg.Average

	// dependencies is append-only while no frame is in flight. It is read
	// without locking during a frame because the scheduler
	// guarantees no writer touches it once a frame starts.
	dependencies []Handle

	lastErr error
}

// New constructs a WorkUnit. handle is assigned by the owning scheduler at
// registration time, not by this constructor, so that handle allocation
// remains centralized and monotonic across the whole registry.
func New(handle Handle, name string, kind Kind, body Body, historyWindow int) (*WorkUnit, error) {
	if handle == Invalid {
		return nil, fmt.Errorf("workunit: handle must not be the zero value")
	}
	if body == nil {
		return nil, fmt.Errorf("workunit: %q: body must not be nil", name)
	}
	return &WorkUnit{
		handle: handle,
		kind:   kind,
		name:   name,
		body:   body,
		state:  atomics.NewWord(int32(Complete)),
		perf:   rollingavg.New(historyWindow),
	}, nil
}

// Handle returns the unit's stable identity.
func (u *WorkUnit) Handle() Handle { return u.handle }

// Name returns the unit's human-readable label, for logging only; it plays
// no part in identity or ordering.
func (u *WorkUnit) Name() string { return u.name }

// Kind returns the unit's registration-time classification.
func (u *WorkUnit) Kind() Kind { return u.kind }

// IsMainAffinity reports whether this unit may only run on the main thread.
func (u *WorkUnit) IsMainAffinity() bool { return u.kind == MainAffinity }

// State reads the current per-frame state with acquire semantics.
func (u *WorkUnit) State() State { return publicState(u.state.Load()) }

// PerfSample returns the current rolling-average runtime in microseconds.
func (u *WorkUnit) PerfSample() int64 { return u.perf.Value() }

// Dependencies returns the unit's immediate predecessor handles. The slice is
// owned by the caller but reflects the unit's internal list as of the call;
// callers must not rely on it staying valid across a subsequent
// AddDependency, which only ever happens between frames anyway.
func (u *WorkUnit) Dependencies() []Handle {
	out := make([]Handle, len(u.dependencies))
	copy(out, u.dependencies)
	return out
}

// AddDependency appends predecessor to the dependency list. Legal only
// between frames; the caller (the scheduler) is responsible for enforcing
// that no frame is in flight.
func (u *WorkUnit) AddDependency(predecessor Handle) {
	u.dependencies = append(u.dependencies, predecessor)
}

// RemoveDependency deletes every occurrence of predecessor from the
// dependency list. Legal only between frames, like AddDependency; used by the
// scheduler when a work unit is deregistered so no dangling reference remains
// in any surviving unit's predecessor list.
func (u *WorkUnit) RemoveDependency(predecessor Handle) {
	out := u.dependencies[:0]
	for _, d := range u.dependencies {
		if d != predecessor {
			out = append(out, d)
		}
	}
	u.dependencies = out
}

// ResetForFrame resets the unit's state to the Complete "ready" sentinel at
// the start of a frame. It must only be called while no other goroutine can
// observe or mutate this unit's state, i.e. before the parallel phase
// begins.
func (u *WorkUnit) ResetForFrame() {
	u.state.Store(readyRaw)
	u.lastErr = nil
}

// TryAcquire attempts the ready->Starting compare-and-swap. It returns true
// for exactly one caller among any number of concurrent racers, and never
// succeeds against a unit that has already run to completion this frame
// (see the doneRaw note in types.go). Callers must have already verified
// that every predecessor is Complete
// before calling TryAcquire; TryAcquire itself only arbitrates the race for
// this unit.
func (u *WorkUnit) TryAcquire() bool {
	return u.state.CompareAndSwap(readyRaw, startingRaw)
}

// Run executes the unit's body to completion on the calling goroutine,
// having already won TryAcquire. It transitions Starting->Running before
// invoking the body and Running->Complete or Running->Failed afterward,
// folding the elapsed runtime into the performance sample on success. The
// final state store uses release semantics so dependents observing Complete
// via an acquire Load also observe every write the body performed.
func (u *WorkUnit) Run(ctx context.Context) error {
	u.state.Store(runningRaw)

	start := time.Now()
	err := u.body(ctx)
	elapsedUs := time.Since(start).Microseconds()

	if err != nil {
		u.lastErr = err
		u.state.Store(failedRaw)
		return err
	}

	u.perf.Add(elapsedUs)
	u.state.Store(doneRaw)
	return nil
}

// LastError returns the error returned by the most recent failed Run, or nil
// if the unit's last run (if any) succeeded.
func (u *WorkUnit) LastError() error { return u.lastErr }
