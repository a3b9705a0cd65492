package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// EngineConfig carries the validated construction parameters from the
// public facade.
type EngineConfig struct {
	Camera   device.Camera
	Attempt  *decode.Attempt
	Mode     TriggerMode
	Interval time.Duration // periodic mode only
}

// Engine is the scan scheduler. One goroutine (the scan loop) owns every
// camera operation, the luminance buffer, decode invocation and event
// dispatch; triggers from other goroutines reach it only through the
// mailbox.
//
// Goroutine topology while running:
//   - 1 scan loop (spawned by Start, exits on Stop or ctx cancellation)
//   - 1 event pump (routes device signals into the mailbox)
//   - 1 ticker (periodic mode only)
//   - 1 shutdown watcher (closes the mailbox on ctx cancellation)
type Engine struct {
	cfg     EngineConfig
	session *Session
	notify  *Notifier
	mailbox *Mailbox
	buf     *luminance.Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State

	// decodeInFlight spans "frame acquired" to "result dispatched or
	// discarded". The single-goroutine loop makes the exclusion
	// structural; the explicit flag keeps the invariant observable and
	// intact if the loop is ever parallelized.
	decodeInFlight atomic.Bool

	cycles uint64 // atomic
	found  uint64 // atomic
}

// NewEngine creates an engine in the Idle state.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:     cfg,
		session: NewSession(cfg.Camera),
		notify:  NewNotifier(),
		mailbox: NewMailbox(),
		buf:     luminance.NewBuffer(),
	}
}

// OnCameraReady registers (or replaces) the camera-ready handler.
func (e *Engine) OnCameraReady(h func(initialized bool)) { e.notify.SetReadyHandler(h) }

// OnDecodeCompleted registers (or replaces) the decode-completed handler.
func (e *Engine) OnDecodeCompleted(h func(DecodeEvent)) { e.notify.SetDecodeHandler(h) }

// Start transitions Idle → Starting and spawns the scan loop. Scanning
// never begins before the camera reports ready: the loop arms its trigger
// source only after the device's opened signal fires (start-before-ready
// is queued, not rejected).
//
// Calling Start on a non-Idle engine is a precondition violation and
// fails loudly.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
	case StateStopped:
		e.mu.Unlock()
		return fmt.Errorf("scan: scanner already stopped, create a new one")
	default:
		e.mu.Unlock()
		return fmt.Errorf("scan: scanner already started")
	}
	// ctx and cancel must be visible before the state leaves Idle, so a
	// Stop racing this Start never observes Starting with a nil cancel.
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.state = StateStarting
	e.mu.Unlock()

	// Watcher: a caller cancelling the Start context must wake the scan
	// loop out of mailbox.Wait.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-e.ctx.Done()
		e.mailbox.Close()
	}()

	e.wg.Add(1)
	go e.run()

	return nil
}

// Stop transitions Running → Stopping → Stopped. It cancels the trigger
// source and blocks until the scan loop exits; an in-flight cycle is
// allowed to finish, its outcome discarded, and no further cycle starts.
// Idempotent: Stop on an Idle or already-stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.state = StateStopped
		e.mu.Unlock()
		return nil
	case StateStopped:
		e.mu.Unlock()
		return nil
	default:
		e.state = StateStopping
	}
	e.mu.Unlock()

	e.cancel()
	e.mailbox.Close()
	e.wg.Wait()
	return nil
}

// RequestFocus issues a best-effort autofocus request. Silent no-op
// before readiness.
func (e *Engine) RequestFocus() { e.session.Focus() }

// SetFlash toggles the torch; transient faults absorbed.
func (e *Engine) SetFlash(on bool) { e.session.SetFlash(on) }

// OrientationDegrees returns the sensor rotation, safe default 0 before
// readiness.
func (e *Engine) OrientationDegrees() int { return e.session.OrientationDegrees() }

// Stats returns an operational counter snapshot.
func (e *Engine) Stats() Stats {
	return Stats{
		State:           e.currentState().String(),
		TriggersFired:   e.mailbox.Fired(),
		TriggersDropped: e.mailbox.Drops(),
		Cycles:          atomic.LoadUint64(&e.cycles),
		Found:           atomic.LoadUint64(&e.found),
	}
}

// run is the scan loop goroutine.
func (e *Engine) run() {
	defer e.wg.Done()
	defer e.finalize()

	if err := e.session.Initialize(e.ctx); err != nil {
		slog.Error("scan: camera open failed", "error", err)
		e.notify.DispatchReady(false)
		return
	}

	// Wait for the device's opened signal. No internal timeout here:
	// the caller applies its own policy through the Start context.
	if !e.awaitOpened() {
		return
	}

	width, height := e.cfg.Camera.Resolution()
	e.session.MarkReady(width, height)
	if err := e.buf.Resize(width, height); err != nil {
		// Exhaustion path: the negotiated resolution is unusable, the
		// scheduler cannot run. Reported through the ready channel.
		slog.Error("scan: cannot size luminance buffer", "error", err)
		e.notify.DispatchReady(false)
		return
	}

	if !e.transition(StateStarting, StateRunning) {
		return // Stop raced camera readiness
	}
	e.notify.DispatchReady(true)

	slog.Info("scan: scanner running",
		"mode", e.cfg.Mode.String(),
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"interval", e.cfg.Interval,
	)

	// First focus is best-effort sharpness aid in periodic mode and the
	// seed of the focus→scan→focus loop in autofocus mode.
	e.session.Focus()

	e.wg.Add(1)
	go e.pumpEvents()

	if e.cfg.Mode == TriggerPeriodic {
		e.wg.Add(1)
		go e.tick()
	}

	for {
		trig, ok := e.mailbox.Wait()
		if !ok {
			return
		}
		e.runCycle(trig)
	}
}

// awaitOpened consumes device events until the opened signal or shutdown.
func (e *Engine) awaitOpened() bool {
	for {
		select {
		case <-e.ctx.Done():
			return false
		case ev, ok := <-e.cfg.Camera.Events():
			if !ok {
				return false
			}
			switch ev.Kind {
			case device.EventOpened:
				return true
			case device.EventFault:
				slog.Debug("scan: device fault during open absorbed", "error", ev.Err)
			}
		}
	}
}

// pumpEvents routes device signals into the mailbox. Focus completions
// are triggers only in autofocus mode; faults are absorbed.
func (e *Engine) pumpEvents() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.cfg.Camera.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case device.EventFocusDone:
				if e.cfg.Mode == TriggerAutofocus {
					e.mailbox.Publish(Trigger{Source: SourceFocusDone, At: time.Now()})
				}
			case device.EventFault:
				slog.Debug("scan: device fault absorbed", "error", ev.Err)
			}
		}
	}
}

// tick publishes periodic trigger occurrences until shutdown.
func (e *Engine) tick() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.mailbox.Publish(Trigger{Source: SourceTick, At: now})
		}
	}
}

// runCycle executes one acquire→decode→dispatch cycle on the scan loop
// goroutine.
func (e *Engine) runCycle(trig Trigger) {
	if !e.decodeInFlight.CompareAndSwap(false, true) {
		return
	}
	defer e.decodeInFlight.Store(false)

	atomic.AddUint64(&e.cycles, 1)
	at := time.Now()

	var out decode.Outcome
	if e.session.AcquireFrame(e.buf) {
		out = e.cfg.Attempt.Run(e.buf)
	}

	// A result whose scanner is no longer Running at dispatch time is
	// discarded, not delivered.
	if out.Found() && e.currentState() == StateRunning {
		atomic.AddUint64(&e.found, 1)
		ev := DecodeEvent{
			Result:  *out.Result,
			TraceID: uuid.New().String(),
			At:      at,
			Width:   e.buf.Width(),
			Height:  e.buf.Height(),
		}
		e.notify.DispatchDecode(ev)
		slog.Debug("scan: decode completed",
			"format", string(ev.Result.Format),
			"trace_id", ev.TraceID,
			"trigger", trig.Source.String(),
		)
	}

	// Cycle completion requests the next focus, sustaining the
	// focus→scan→focus loop.
	if e.cfg.Mode == TriggerAutofocus && e.currentState() == StateRunning {
		e.session.Focus()
	}
}

// finalize runs on scan loop exit: releases the device and settles the
// terminal state. The cancel call matters on self-initiated exits (open
// failure, unusable resolution, event channel closed): without it the
// shutdown watcher would stay parked on the context forever.
func (e *Engine) finalize() {
	e.cancel()
	e.mailbox.Close()
	e.session.Dispose()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	slog.Info("scan: scanner stopped",
		"cycles", atomic.LoadUint64(&e.cycles),
		"found", atomic.LoadUint64(&e.found),
		"triggers_dropped", e.mailbox.Drops(),
	)
}

func (e *Engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}
