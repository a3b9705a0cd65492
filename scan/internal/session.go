package internal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// SessionState is the camera session lifecycle state.
type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionInitializing
	SessionReady
	SessionDisposed
)

// Session owns the camera handle for one scan session. It absorbs the
// device's transient faults at the call site: camera operations issued
// before readiness (or while the device hiccups) are silent no-ops, never
// surfaced to the consumer.
//
// State transitions are driven by the engine goroutine; the mutex only
// protects against the facade's accessor calls (SetFlash, orientation)
// racing the engine.
type Session struct {
	cam device.Camera

	mu     sync.Mutex
	state  SessionState
	width  int
	height int
}

// NewSession wraps a camera capability in a fresh session.
func NewSession(cam device.Camera) *Session {
	return &Session{cam: cam}
}

// Initialize requests the device to open. Asynchronous: completion arrives
// as device.EventOpened on the camera's event channel, consumed by the
// engine. A synchronous open failure is returned for the engine's
// exhaustion path.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.state = SessionInitializing
	s.mu.Unlock()
	return s.cam.Open(ctx)
}

// MarkReady records the negotiated resolution and transitions to Ready.
// Called by the engine when EventOpened fires. Flash starts disabled.
func (s *Session) MarkReady(width, height int) {
	s.mu.Lock()
	s.state = SessionReady
	s.width = width
	s.height = height
	s.mu.Unlock()

	// Flash off by default; a refusing device is a transient fault.
	if err := s.cam.SetFlash(false); err != nil {
		slog.Debug("scan: flash reset absorbed", "error", err)
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resolution returns the negotiated frame size, (0,0) before Ready.
func (s *Session) Resolution() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionReady {
		return 0, 0
	}
	return s.width, s.height
}

// AcquireFrame overwrites the buffer with the current frame's luminance
// plane. Returns false (frame unusable, cycle becomes NotFound-equivalent)
// when the session is not Ready or the device raised a transient fault.
func (s *Session) AcquireFrame(buf *luminance.Buffer) bool {
	if s.State() != SessionReady {
		return false
	}
	if err := s.cam.CopyLuminanceInto(buf); err != nil {
		slog.Debug("scan: frame acquire absorbed", "error", err)
		return false
	}
	return true
}

// Focus requests an autofocus cycle. Before Ready (or on devices without
// autofocus) this is a silent no-op.
func (s *Session) Focus() {
	if s.State() != SessionReady {
		return
	}
	if err := s.cam.Focus(); err != nil {
		slog.Debug("scan: focus request absorbed", "error", err)
	}
}

// SetFlash toggles the torch; transient faults are absorbed.
func (s *Session) SetFlash(on bool) {
	if s.State() != SessionReady {
		return
	}
	if err := s.cam.SetFlash(on); err != nil {
		slog.Debug("scan: flash toggle absorbed", "error", err)
	}
}

// OrientationDegrees returns the sensor mounting rotation, safe default 0
// when the session is not Ready.
func (s *Session) OrientationDegrees() int {
	if s.State() != SessionReady {
		return 0
	}
	return s.cam.OrientationDegrees()
}

// Dispose releases the device handle. Idempotent at the session level:
// repeated calls after the first are no-ops.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == SessionDisposed {
		s.mu.Unlock()
		return
	}
	s.state = SessionDisposed
	s.mu.Unlock()

	if err := s.cam.Close(); err != nil {
		slog.Warn("scan: camera close failed", "error", err)
	}
}
