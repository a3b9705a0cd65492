// Package internal implements the scan engine: camera session lifecycle,
// trigger marshaling and the serialized acquire→decode→dispatch loop.
//
// This package is INTERNAL - clients use the public API in the parent
// package.
package internal

import (
	"time"

	"github.com/e7canasta/orion-scan-sensor/decode"
)

// TriggerMode selects the trigger source for scan cycles. Exactly one mode
// is active per session; it is chosen at construction and immutable.
type TriggerMode int

const (
	// TriggerPeriodic fires scan cycles on a fixed-interval timer.
	TriggerPeriodic TriggerMode = iota
	// TriggerAutofocus fires a scan cycle on every autofocus completion
	// and requests the next focus after each cycle, forming a
	// self-sustaining focus→scan→focus loop with no independent timer.
	TriggerAutofocus
)

// String returns a human-readable mode name.
func (m TriggerMode) String() string {
	switch m {
	case TriggerPeriodic:
		return "periodic"
	case TriggerAutofocus:
		return "autofocus"
	default:
		return "unknown"
	}
}

// State is the scheduler lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DecodeEvent is delivered to the decode-completed handler for every scan
// cycle that found a code.
type DecodeEvent struct {
	// Result is the decoded payload.
	Result decode.Result
	// TraceID uniquely identifies the scan cycle that produced the
	// result, for correlation across logs and downstream consumers.
	TraceID string
	// At is the time the frame was acquired.
	At time.Time
	// Width and Height are the frame dimensions the decode ran on.
	Width  int
	Height int
}

// Stats is a snapshot of operational counters.
//
// Drops are EXPECTED and HEALTHY: a trigger that fires while a decode is
// still in flight is dropped by design, because its frame would already be
// stale by the time the decoder got to it.
type Stats struct {
	// State is the current scheduler state name.
	State string
	// TriggersFired counts trigger occurrences (timer ticks or focus
	// completions) delivered to the mailbox.
	TriggersFired uint64
	// TriggersDropped counts occurrences overwritten in the mailbox
	// before the scan loop could consume them.
	TriggersDropped uint64
	// Cycles counts acquire→decode cycles actually executed.
	Cycles uint64
	// Found counts cycles that decoded a payload.
	Found uint64
}
