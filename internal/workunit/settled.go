package workunit

// HasFinishedThisFrame reports whether this unit's body has already run to a
// terminal outcome (success or failure) this frame. It is deliberately
// distinct from State() == Complete, which is also true of a unit that has
// not started yet: HasFinishedThisFrame reads the raw internal word and
// distinguishes the ready sentinel from the done sentinel (see the doneRaw
// note in types.go). It exists for the scheduler's drain-termination check,
// not as part of the four-state public contract.
func (u *WorkUnit) HasFinishedThisFrame() bool {
	raw := u.state.Load()
	return raw == doneRaw || raw == failedRaw
}
