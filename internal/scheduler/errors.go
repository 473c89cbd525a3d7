package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can match with errors.Is. Graph-structure errors
// and in-flight-mutation errors are surfaced at the offending call and never
// recovered internally.
var (
	ErrCycle               = errors.New("scheduler: dependency would create a cycle")
	ErrDanglingPredecessor = errors.New("scheduler: dangling predecessor")
	ErrFrameInFlight       = errors.New("scheduler: registry mutation attempted while a frame is in flight")
	ErrUnknownHandle       = errors.New("scheduler: unknown work-unit handle")
	ErrAlreadyStarted      = errors.New("scheduler: already started")
	ErrNotStarted          = errors.New("scheduler: not started")
	ErrCacheStale          = errors.New("scheduler: dispatch sequence is stale; rebuild the dependency cache first")
)

// GraphError wraps one of the graph-structure sentinels above with the
// specific handles/names involved: a typed error carrying a wrapped sentinel
// plus context, so callers can match on Kind via errors.Is while still
// getting a readable message.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
