// Package device defines the camera capability set consumed by the scan
// engine, and a simulated camera for development and tests.
//
// Implementations must guarantee:
//   - Open() returns immediately (non-blocking); readiness arrives as an
//     EventOpened on the Events() channel
//   - Close() is idempotent (safe to call multiple times)
//   - Every method may return a transient fault at any time; callers absorb
//     those faults and treat them as no-ops
package device

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// EventKind identifies an asynchronous camera signal.
type EventKind int

const (
	// EventOpened fires once when the device finished opening and has
	// negotiated its resolution.
	EventOpened EventKind = iota
	// EventFocusDone fires when an autofocus cycle requested via Focus()
	// completes.
	EventFocusDone
	// EventFault reports a transient device fault. Informational only;
	// the device keeps running (or reconnects) on its own.
	EventFault
)

// String returns a human-readable event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFocusDone:
		return "focus_done"
	case EventFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Event is an asynchronous device signal. Events originate on device-owned
// goroutines; consumers must marshal them onto their own execution context
// before touching shared state.
type Event struct {
	Kind EventKind
	Err  error // set for EventFault only
}

// Sentinel errors returned by camera implementations. All of them are
// transient faults from the scan engine's point of view.
var (
	// ErrNotReady is returned by operations issued before the device
	// finished opening or after it was closed.
	ErrNotReady = errors.New("device: not ready")
	// ErrUnsupported is returned by capabilities the device does not have
	// (e.g. autofocus on a fixed-focus network camera).
	ErrUnsupported = errors.New("device: capability not supported")
)

// Camera is the capability set of a physical (or simulated) camera.
//
// All methods may be called from the scan loop goroutine only, except
// Close() which is also safe from the owner's shutdown path.
type Camera interface {
	// Open begins asynchronous device initialization. It returns
	// immediately; EventOpened on Events() signals completion. If the
	// device fails to open, no EventOpened ever fires (callers apply
	// their own timeout policy).
	Open(ctx context.Context) error

	// Close releases the device. Idempotent.
	Close() error

	// Events returns the device signal channel. The channel stays open
	// until Close().
	Events() <-chan Event

	// Resolution returns the negotiated frame size. Valid only after
	// EventOpened; before that it returns (0, 0).
	Resolution() (width, height int)

	// OrientationDegrees returns the mounting rotation of the sensor
	// relative to the display, in degrees. Safe default 0 before ready.
	OrientationDegrees() int

	// SetFlash toggles the torch. Returns ErrUnsupported or ErrNotReady
	// as transient faults.
	SetFlash(on bool) error

	// Focus requests one autofocus cycle; completion arrives as
	// EventFocusDone. Returns a transient fault if the device is not
	// ready or has no autofocus capability.
	Focus() error

	// CopyLuminanceInto overwrites the full buffer with the luminance
	// plane of the most recent frame. The buffer must already be sized
	// to the negotiated resolution.
	CopyLuminanceInto(buf *luminance.Buffer) error
}
