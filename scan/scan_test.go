package scan_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/luminance"
	"github.com/e7canasta/orion-scan-sensor/scan"
)

// stubDecoder is a controllable decoder for scheduler tests. It tracks
// concurrency so tests can assert the single-decode invariant.
type stubDecoder struct {
	delay  time.Duration
	result *decode.Result
	err    error

	calls   atomic.Uint64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (d *stubDecoder) Decode(buf *luminance.Buffer) (*decode.Result, error) {
	cur := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		max := d.maxSeen.Load()
		if cur <= max || d.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil {
		r := *d.result
		return &r, nil
	}
	return nil, decode.ErrNotFound
}

// brokenCamera refuses to open. Exercises the initialization failure path.
type brokenCamera struct {
	events chan device.Event
}

func newBrokenCamera() *brokenCamera {
	return &brokenCamera{events: make(chan device.Event)}
}

func (c *brokenCamera) Open(ctx context.Context) error { return errors.New("device busy") }
func (c *brokenCamera) Close() error                   { return nil }
func (c *brokenCamera) Events() <-chan device.Event    { return c.events }
func (c *brokenCamera) Resolution() (int, int)         { return 0, 0 }
func (c *brokenCamera) OrientationDegrees() int        { return 0 }
func (c *brokenCamera) SetFlash(bool) error            { return device.ErrNotReady }
func (c *brokenCamera) Focus() error                   { return device.ErrNotReady }

func (c *brokenCamera) CopyLuminanceInto(*luminance.Buffer) error { return device.ErrNotReady }

func newSim(t *testing.T, cfg device.SimConfig) *device.SimCamera {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width = 64
	}
	if cfg.Height == 0 {
		cfg.Height = 48
	}
	cam, err := device.NewSimCamera(cfg)
	if err != nil {
		t.Fatalf("sim camera: %v", err)
	}
	return cam
}

// TestNewValidatesConfig verifies fail-fast construction.
func TestNewValidatesConfig(t *testing.T) {
	cam := newSim(t, device.SimConfig{})

	if _, err := scan.New(scan.Config{Decoder: &stubDecoder{}}); err == nil {
		t.Error("expected error for missing camera")
	}
	if _, err := scan.New(scan.Config{Camera: cam}); err == nil {
		t.Error("expected error for missing decoder")
	}
	if _, err := scan.New(scan.Config{
		Camera: cam, Decoder: &stubDecoder{}, Trigger: scan.TriggerMode(99),
	}); err == nil {
		t.Error("expected error for unknown trigger mode")
	}
	if _, err := scan.New(scan.Config{
		Camera: cam, Decoder: &stubDecoder{}, Interval: -time.Second,
	}); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := scan.New(scan.Config{
		Camera: cam, Decoder: &stubDecoder{}, Formats: []decode.Format{"NOT_A_FORMAT"},
	}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := scan.New(scan.Config{Camera: cam, Decoder: &stubDecoder{}}); err != nil {
		t.Errorf("minimal config rejected: %v", err)
	}
}

// TestStartQueuesUntilCameraReady: Start before the device finishes opening
// must not run any cycle; the first cycle happens only after the ready
// signal fires with true.
func TestStartQueuesUntilCameraReady(t *testing.T) {
	dec := &stubDecoder{}
	cam := newSim(t, device.SimConfig{OpenDelay: 120 * time.Millisecond})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ready := make(chan bool, 1)
	s.OnCameraReady(func(ok bool) { ready <- ok })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// Well inside the open delay: no decode may have run yet.
	time.Sleep(60 * time.Millisecond)
	if got := dec.calls.Load(); got != 0 {
		t.Errorf("decode ran %d times before camera readiness", got)
	}

	select {
	case ok := <-ready:
		if !ok {
			t.Fatal("camera reported not ready")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("camera ready signal never fired")
	}

	// After readiness the periodic trigger drives cycles.
	deadline := time.After(time.Second)
	for dec.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no decode cycle after readiness")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestPeriodicDropsTriggersWhileDecodeInFlight: a 20ms cadence against an
// 80ms decoder must shed triggers rather than queue them, and must never
// run two decodes at once.
func TestPeriodicDropsTriggersWhileDecodeInFlight(t *testing.T) {
	dec := &stubDecoder{delay: 80 * time.Millisecond}
	cam := newSim(t, device.SimConfig{})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := s.Stats()
	t.Logf("fired=%d dropped=%d cycles=%d", stats.TriggersFired, stats.TriggersDropped, stats.Cycles)

	if max := dec.maxSeen.Load(); max > 1 {
		t.Errorf("decode concurrency %d, want at most 1", max)
	}
	if stats.TriggersDropped == 0 {
		t.Error("expected dropped triggers with decode slower than cadence")
	}
	// Cycle rate is bounded by decode latency, not trigger cadence.
	if stats.Cycles >= stats.TriggersFired {
		t.Errorf("cycles=%d not below fired=%d", stats.Cycles, stats.TriggersFired)
	}
	if stats.Cycles == 0 {
		t.Error("expected at least one cycle")
	}
}

// TestAutofocusLoopSelfSustains: in autofocus mode, with no timer at all,
// cycles keep occurring because each cycle requests the next focus.
func TestAutofocusLoopSelfSustains(t *testing.T) {
	dec := &stubDecoder{}
	cam := newSim(t, device.SimConfig{FocusLatency: 10 * time.Millisecond})

	s, err := scan.New(scan.Config{
		Camera:  cam,
		Decoder: dec,
		Trigger: scan.TriggerAutofocus,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var delivered atomic.Uint64
	s.OnDecodeCompleted(func(scan.DecodeEvent) { delivered.Add(1) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := s.Stats()
	t.Logf("autofocus cycles=%d fired=%d", stats.Cycles, stats.TriggersFired)
	if stats.Cycles < 3 {
		t.Errorf("focus loop stalled: only %d cycles", stats.Cycles)
	}
	// No code in the synthetic frames: cycles run, nothing is delivered.
	if delivered.Load() != 0 {
		t.Errorf("%d decode events for codeless frames", delivered.Load())
	}
}

// TestDecodeEventDelivery verifies a found result reaches the handler with
// trace identity and frame dimensions attached.
func TestDecodeEventDelivery(t *testing.T) {
	dec := &stubDecoder{result: &decode.Result{
		Text:   "gate-7",
		Format: decode.FormatQR,
		Raw:    []byte("gate-7"),
	}}
	cam := newSim(t, device.SimConfig{Width: 320, Height: 240})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events := make(chan scan.DecodeEvent, 16)
	s.OnDecodeCompleted(func(ev scan.DecodeEvent) { events <- ev })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case ev := <-events:
		if ev.Result.Text != "gate-7" {
			t.Errorf("payload = %q, want gate-7", ev.Result.Text)
		}
		if ev.Result.Format != decode.FormatQR {
			t.Errorf("format = %q", ev.Result.Format)
		}
		if ev.TraceID == "" {
			t.Error("missing trace id")
		}
		if ev.Width != 320 || ev.Height != 240 {
			t.Errorf("frame dims %dx%d, want 320x240", ev.Width, ev.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no decode event delivered")
	}
}

// TestHandlerReplacement: registering a second handler replaces the first,
// which must receive nothing afterwards.
func TestHandlerReplacement(t *testing.T) {
	dec := &stubDecoder{result: &decode.Result{Text: "x", Format: decode.FormatQR}}
	cam := newSim(t, device.SimConfig{})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var first, second atomic.Uint64
	s.OnDecodeCompleted(func(scan.DecodeEvent) { first.Add(1) })
	s.OnDecodeCompleted(func(scan.DecodeEvent) { second.Add(1) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if first.Load() != 0 {
		t.Errorf("replaced handler invoked %d times", first.Load())
	}
	if second.Load() == 0 {
		t.Error("active handler never invoked")
	}
}

// TestStopDiscardsInFlightOutcome: Stop during a slow decode lets the
// cycle finish but its result never reaches the handler, and no further
// cycles start.
func TestStopDiscardsInFlightOutcome(t *testing.T) {
	dec := &stubDecoder{
		delay:  150 * time.Millisecond,
		result: &decode.Result{Text: "late", Format: decode.FormatQR},
	}
	cam := newSim(t, device.SimConfig{})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var delivered atomic.Uint64
	s.OnDecodeCompleted(func(scan.DecodeEvent) { delivered.Add(1) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait until a decode is very likely in flight, then stop.
	deadline := time.After(2 * time.Second)
	for dec.active.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("decode never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	deliveredBefore := delivered.Load()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Stop blocked until the loop exited; the in-flight outcome was
	// discarded and nothing runs afterwards.
	callsAtStop := dec.calls.Load()
	if delivered.Load() != deliveredBefore {
		t.Errorf("in-flight result delivered after Stop began")
	}
	time.Sleep(100 * time.Millisecond)
	if got := dec.calls.Load(); got != callsAtStop {
		t.Errorf("decode ran after Stop: %d -> %d", callsAtStop, got)
	}
	if st := s.Stats(); st.State != "stopped" {
		t.Errorf("state = %q, want stopped", st.State)
	}
}

// TestStopIdempotentAndRestartRejected covers the terminal lifecycle
// edges: repeated Stop is a no-op, restart fails loudly.
func TestStopIdempotentAndRestartRejected(t *testing.T) {
	cam := newSim(t, device.SimConfig{})
	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  &stubDecoder{},
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected restart to fail")
	}
}

// TestDoubleStartRejected: a second Start while running is a lifecycle
// violation.
func TestDoubleStartRejected(t *testing.T) {
	cam := newSim(t, device.SimConfig{})
	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  &stubDecoder{},
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("expected second Start to fail")
	}
}

// TestContextCancelStopsScanning: cancelling the Start context shuts the
// loop down without an explicit Stop call.
func TestContextCancelStopsScanning(t *testing.T) {
	dec := &stubDecoder{}
	cam := newSim(t, device.SimConfig{})
	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  dec,
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	cancel()

	// Give the loop time to unwind, then verify it went quiet.
	time.Sleep(100 * time.Millisecond)
	calls := dec.calls.Load()
	time.Sleep(150 * time.Millisecond)
	if got := dec.calls.Load(); got != calls {
		t.Errorf("decode still running after context cancel: %d -> %d", calls, got)
	}
	// Stop after cancellation remains safe.
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after cancel: %v", err)
	}
}

// TestAccessorsSafeBeforeReady: orientation, focus and flash must be safe
// no-ops before the camera is ready.
func TestAccessorsSafeBeforeReady(t *testing.T) {
	cam := newSim(t, device.SimConfig{OrientationDegrees: 90, OpenDelay: 200 * time.Millisecond})
	s, err := scan.New(scan.Config{
		Camera:  cam,
		Decoder: &stubDecoder{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Not started at all: everything is a safe default.
	if got := s.OrientationDegrees(); got != 0 {
		t.Errorf("orientation before ready = %d, want 0", got)
	}
	s.RequestFocus()
	s.SetFlash(true)

	ready := make(chan bool, 1)
	s.OnCameraReady(func(ok bool) { ready <- ok })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("camera never became ready")
	}
	if got := s.OrientationDegrees(); got != 90 {
		t.Errorf("orientation after ready = %d, want 90", got)
	}
}

// TestOpenFailureReleasesResources: a camera that refuses to open must
// report CameraReady(false), settle in the stopped state and release every
// goroutine it spawned. Repeated failed sessions must not accumulate
// parked goroutines.
func TestOpenFailureReleasesResources(t *testing.T) {
	runtime.GC()
	base := runtime.NumGoroutine()

	for i := 0; i < 25; i++ {
		s, err := scan.New(scan.Config{
			Camera:  newBrokenCamera(),
			Decoder: &stubDecoder{},
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		ready := make(chan bool, 1)
		s.OnCameraReady(func(ok bool) { ready <- ok })

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		select {
		case ok := <-ready:
			if ok {
				t.Fatal("broken camera reported ready")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("readiness failure never signaled")
		}

		if err := s.Stop(); err != nil {
			t.Fatalf("Stop after failed open: %v", err)
		}
		if st := s.Stats(); st.State != "stopped" {
			t.Fatalf("state = %q, want stopped", st.State)
		}
	}

	// Give exiting goroutines time to unwind before counting.
	time.Sleep(100 * time.Millisecond)
	runtime.GC()
	after := runtime.NumGoroutine()
	t.Logf("goroutines base=%d after=%d", base, after)
	if after > base+3 {
		t.Errorf("goroutines leaked across failed sessions: base=%d after=%d", base, after)
	}
}

// TestStopRacingStart hammers concurrent Start and Stop on fresh scanners.
// Whichever wins, neither call may panic and the scanner must settle in a
// terminal state.
func TestStopRacingStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		cam := newSim(t, device.SimConfig{})
		s, err := scan.New(scan.Config{
			Camera:   cam,
			Decoder:  &stubDecoder{},
			Interval: 20 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()

		// A Start that won the race leaves the scanner running; settle it.
		if err := s.Stop(); err != nil {
			t.Fatalf("final Stop: %v", err)
		}
		if st := s.Stats(); st.State != "stopped" {
			t.Fatalf("state = %q, want stopped", st.State)
		}
	}
}

// TestPatternDecodeEndToEnd runs the whole pipeline against the built-in
// pattern codec: the sim camera paints a pattern frame, the scheduler
// acquires and decodes it.
func TestPatternDecodeEndToEnd(t *testing.T) {
	cam := newSim(t, device.SimConfig{
		Width:  128,
		Height: 64,
		Fill: func(buf *luminance.Buffer, seq uint64) {
			decode.WritePattern(buf, "dock-42")
		},
	})

	s, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  decode.NewPatternDecoder([]decode.Format{decode.FormatQR}),
		Trigger:  scan.TriggerPeriodic,
		Interval: 20 * time.Millisecond,
		Formats:  []decode.Format{decode.FormatQR},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events := make(chan scan.DecodeEvent, 1)
	s.OnDecodeCompleted(func(ev scan.DecodeEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case ev := <-events:
		if ev.Result.Text != "dock-42" {
			t.Errorf("decoded %q, want dock-42", ev.Result.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pattern never decoded")
	}
}
