// Package scan implements the barcode scan scheduler: a camera session,
// a trigger source and a serialized acquire→decode→dispatch loop.
//
// Philosophy: "Drop triggers, never queue. A stale frame is worthless."
//
// Design:
//   - Single scan loop goroutine owns camera, buffer, decode and dispatch
//   - Non-blocking trigger publication with single-slot overwrite
//   - At most one decode in flight; triggers arriving mid-decode drop
//   - Two trigger modes: fixed-interval timer, or autofocus completion
//     forming a self-sustaining focus→scan→focus loop
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/scan/internal"
)

// TriggerMode is re-exported from internal package to avoid import cycles.
// See internal/types.go for full documentation.
type TriggerMode = internal.TriggerMode

const (
	TriggerPeriodic  = internal.TriggerPeriodic
	TriggerAutofocus = internal.TriggerAutofocus
)

// DecodeEvent is re-exported from internal package to avoid import cycles.
// See internal/types.go for full documentation.
type DecodeEvent = internal.DecodeEvent

// Stats is re-exported from internal package to avoid import cycles.
// See internal/types.go for full documentation.
type Stats = internal.Stats

// DefaultInterval is the periodic trigger cadence when Config.Interval is
// zero. Matches the cadence the scheduler was tuned for on low-power
// camera hardware.
const DefaultInterval = 250 * time.Millisecond

// Config carries the scanner construction parameters. Camera and Decoder
// are required; everything else has a working default.
type Config struct {
	// Camera is the frame source capability.
	Camera device.Camera

	// Decoder runs against each acquired frame.
	Decoder decode.Decoder

	// Trigger selects the scan cycle trigger source. Immutable for the
	// session. Default: TriggerPeriodic.
	Trigger TriggerMode

	// Interval is the timer cadence in periodic mode. Ignored in
	// autofocus mode. Default: DefaultInterval.
	Interval time.Duration

	// Formats restricts which barcode formats the decoder reports.
	// Informational at this layer (the decoder enforces it); kept here so
	// construction validates the whole session contract in one place.
	Formats []decode.Format
}

// Scanner is the public interface of the scan scheduler.
//
// Lifecycle: New() → OnCameraReady/OnDecodeCompleted → Start() → Stop().
// A stopped scanner cannot be restarted; create a new one.
//
// Implementation is in internal/engine.go (hidden from clients).
type Scanner interface {
	// Start opens the camera and begins scanning once the device reports
	// ready. Asynchronous: returns immediately, readiness arrives through
	// the OnCameraReady handler. Start before camera readiness is queued,
	// never rejected. Errors only on a lifecycle violation (already
	// started, or restarted after Stop).
	Start(ctx context.Context) error

	// Stop cancels the trigger source, lets an in-flight decode finish
	// with its outcome discarded, releases the camera and blocks until
	// the scan loop exits. Idempotent.
	Stop() error

	// OnCameraReady registers the readiness handler. One handler per
	// event kind; registering again replaces the previous handler.
	// Invoked on the scan loop goroutine with true when the camera is
	// ready, false when initialization failed.
	OnCameraReady(h func(initialized bool))

	// OnDecodeCompleted registers the decode result handler. One handler
	// per event kind; registering again replaces the previous handler.
	// Invoked on the scan loop goroutine for every cycle that found a
	// code. Not-found cycles are silent.
	//
	// Handlers run on the scan loop: a slow handler delays the next
	// cycle, and calling Stop from inside a handler deadlocks.
	OnDecodeCompleted(h func(DecodeEvent))

	// RequestFocus issues a best-effort autofocus request. Silent no-op
	// before camera readiness or on fixed-focus devices.
	RequestFocus()

	// SetFlash toggles the torch. Silent no-op before camera readiness;
	// device refusals are absorbed.
	SetFlash(on bool)

	// OrientationDegrees returns the sensor mounting rotation, safe
	// default 0 before camera readiness.
	OrientationDegrees() int

	// Stats returns an operational counter snapshot. Non-zero
	// TriggersDropped is healthy: it means the trigger cadence outpaced
	// decode latency and stale work was shed.
	Stats() Stats
}

// New creates a Scanner from the config. Fail-fast: a nil camera or
// decoder, an unknown trigger mode, a negative interval or an unknown
// format name is a construction error, not a runtime surprise.
func New(cfg Config) (Scanner, error) {
	if cfg.Camera == nil {
		return nil, fmt.Errorf("scan: config requires a camera")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("scan: config requires a decoder")
	}
	switch cfg.Trigger {
	case TriggerPeriodic, TriggerAutofocus:
	default:
		return nil, fmt.Errorf("scan: unknown trigger mode %d", cfg.Trigger)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("scan: negative interval %v", cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	for _, f := range cfg.Formats {
		if !decode.KnownFormat(f) {
			return nil, fmt.Errorf("scan: unknown barcode format %q", f)
		}
	}

	return internal.NewEngine(internal.EngineConfig{
		Camera:   cfg.Camera,
		Attempt:  decode.NewAttempt(cfg.Decoder),
		Mode:     cfg.Trigger,
		Interval: cfg.Interval,
	}), nil
}
