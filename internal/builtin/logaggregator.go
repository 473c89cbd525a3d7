// Package builtin implements frameforge's ready-made work units: small,
// generally useful graph nodes an application wires in alongside its own,
// built on the same domain-stack libraries the rest of frameforge uses —
// zerolog for structured logging, golang.org/x/sync/errgroup for concurrent
// background I/O, and github.com/google/uuid for log-event correlation IDs.
package builtin

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogEvent is one structured log line, queued by any work unit during a
// frame and drained by LogAggregator's body. ID correlates an event back to
// the frame/unit that produced it across an asynchronous emit.
type LogEvent struct {
	ID     uuid.UUID
	Level  zerolog.Level
	Msg    string
	Fields map[string]any
}

// LogAggregator batches structured log events so logging participates in the
// frame's own dependency graph (typically as a low-priority, no-dependents
// Normal unit) instead of every work unit writing to the sink directly and
// competing for its internal lock mid-frame.
type LogAggregator struct {
	logger zerolog.Logger

	mu    sync.Mutex
	queue []LogEvent
}

// NewLogAggregator constructs a LogAggregator writing through logger.
func NewLogAggregator(logger zerolog.Logger) *LogAggregator {
	return &LogAggregator{logger: logger}
}

// Enqueue records an event for the next time Body runs. Safe to call from
// any work unit's body concurrently with other Enqueue calls.
func (a *LogAggregator) Enqueue(level zerolog.Level, msg string, fields map[string]any) {
	a.mu.Lock()
	a.queue = append(a.queue, LogEvent{ID: uuid.New(), Level: level, Msg: msg, Fields: fields})
	a.mu.Unlock()
}

// Body drains the current queue and emits every event through the
// configured logger. Installed as a Normal work unit with no dependents, so
// it sorts after every unit that has dependents: fewer dependents means lower
// dispatch priority.
func (a *LogAggregator) Body(ctx context.Context) error {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, ev := range batch {
		e := a.logger.WithLevel(ev.Level).Str("event_id", ev.ID.String())
		for k, v := range ev.Fields {
			e = e.Interface(k, v)
		}
		e.Msg(ev.Msg)
	}
	return nil
}
