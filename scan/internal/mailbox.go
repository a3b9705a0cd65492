package internal

import (
	"sync"
	"sync/atomic"
	"time"
)

// TriggerSource identifies what caused a trigger occurrence.
type TriggerSource int

const (
	// SourceTick is a periodic timer tick.
	SourceTick TriggerSource = iota
	// SourceFocusDone is an autofocus completion signal.
	SourceFocusDone
)

// String returns a human-readable source name.
func (s TriggerSource) String() string {
	switch s {
	case SourceTick:
		return "tick"
	case SourceFocusDone:
		return "focus_done"
	default:
		return "unknown"
	}
}

// Trigger is one occurrence of the scan trigger.
type Trigger struct {
	Source TriggerSource
	At     time.Time
}

// Mailbox is the single-slot trigger handoff between trigger producers
// (timer goroutine, device focus callbacks) and the scan loop.
//
// Semantics:
//   - Publish is non-blocking: a new occurrence overwrites an unconsumed
//     one. Never a backlog: a stale trigger is worthless, only the latest
//     occurrence matters
//   - Wait blocks efficiently until an occurrence is available or the
//     mailbox is closed
//
// This is the capacity-1 overwrite pattern that makes the "at most one
// decode in flight" invariant hold regardless of which goroutine a trigger
// originates on: the loop consumes one occurrence, runs the full cycle,
// and only then returns for the next.
type Mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *Trigger
	closed  bool

	fired uint64 // atomic
	drops uint64 // atomic
}

// NewMailbox creates an empty trigger mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores an occurrence, overwriting any unconsumed one. Safe for
// concurrent use; always returns immediately.
func (m *Mailbox) Publish(t Trigger) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.pending != nil {
		atomic.AddUint64(&m.drops, 1)
	}
	atomic.AddUint64(&m.fired, 1)
	m.pending = &t
	m.cond.Signal()
	m.mu.Unlock()
}

// Wait blocks until an occurrence is available and consumes it. Returns
// ok=false once the mailbox is closed and drained.
func (m *Mailbox) Wait() (Trigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.pending == nil {
		if m.closed {
			return Trigger{}, false
		}
		m.cond.Wait()
	}

	t := *m.pending
	m.pending = nil
	return t, true
}

// Close shuts the mailbox and wakes a blocked Wait. A pending unconsumed
// occurrence is discarded: after Close no further cycles may start.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Fired returns the number of occurrences published.
func (m *Mailbox) Fired() uint64 { return atomic.LoadUint64(&m.fired) }

// Drops returns the number of occurrences overwritten before consumption.
func (m *Mailbox) Drops() uint64 { return atomic.LoadUint64(&m.drops) }
