package decoder

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sonderx/exporter"
	"sonderx/telemetry"
)

// scriptedSource feeds frames (or errors) to the worker on demand.
type scriptedSource struct {
	steps  chan frameResult
	closed atomic.Bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{steps: make(chan frameResult, 16)}
}

func (s *scriptedSource) frame(t *telemetry.Telemetry) { s.steps <- frameResult{t: t} }
func (s *scriptedSource) fail(err error)               { s.steps <- frameResult{err: err} }

func (s *scriptedSource) Next(ctx context.Context) (*telemetry.Telemetry, error) {
	select {
	case step := <-s.steps:
		return step.t, step.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedSource) Close() error {
	s.closed.Store(true)
	return nil
}

// stallingSource blocks in Next until the decoder closes it, mimicking a
// demodulator that emits nothing and only ends when killed.
type stallingSource struct {
	closed chan struct{}
	once   sync.Once
}

func (s *stallingSource) Next(ctx context.Context) (*telemetry.Telemetry, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stallingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// captureExporter records every frame fanned out to it.
type captureExporter struct {
	mu     sync.Mutex
	frames []*telemetry.Telemetry
}

func (c *captureExporter) Add(t *telemetry.Telemetry) error {
	c.mu.Lock()
	c.frames = append(c.frames, t)
	c.mu.Unlock()
	return nil
}

func (c *captureExporter) Close() error { return nil }

func (c *captureExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func testFrame(id string, frame int64) *telemetry.Telemetry {
	return &telemetry.Telemetry{
		ID:        id,
		Frame:     frame,
		Latitude:  -34.5,
		Longitude: 138.5,
		Altitude:  12000,
	}
}

func waitStopped(t *testing.T, d *Decoder) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !d.Running() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("decoder did not stop in time")
}

func newTestDecoder(t *testing.T, src FrameSource, set *exporter.Set, filter func(*telemetry.Telemetry) bool, timeout time.Duration) *Decoder {
	t.Helper()
	d, err := New(Config{
		Type:      "RS41",
		Frequency: 402.5e6,
		Device:    "0001",
		Timeout:   timeout,
		Filter:    filter,
		Exporters: set,
		Source:    src,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDecoderFansOutAcceptedFrames(t *testing.T) {
	src := newScriptedSource()
	capture := &captureExporter{}
	set := &exporter.Set{}
	set.Register("capture", capture)

	d := newTestDecoder(t, src, set, nil, time.Minute)
	src.frame(testFrame("S2340123", 1))
	src.frame(testFrame("S2340123", 2))

	deadline := time.Now().Add(2 * time.Second)
	for capture.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if capture.count() != 2 {
		t.Fatalf("exported %d frames, want 2", capture.count())
	}
	if d.FrameCount() != 2 {
		t.Fatalf("FrameCount = %d, want 2", d.FrameCount())
	}

	got := capture.frames[0]
	if got.Type != telemetry.TypeRS41 || got.Frequency != 402.5e6 {
		t.Errorf("frame defaults not applied: type=%s freq=%.0f", got.Type, got.Frequency)
	}

	d.Stop()
	if d.ExitState() != telemetry.ExitNormal {
		t.Errorf("ExitState = %s, want Normal", d.ExitState())
	}
	if !src.closed.Load() {
		t.Error("frame source not closed on stop")
	}
}

func TestDecoderSuppressesRepeatedFrames(t *testing.T) {
	src := newScriptedSource()
	capture := &captureExporter{}
	set := &exporter.Set{}
	set.Register("capture", capture)

	d := newTestDecoder(t, src, set, nil, time.Minute)
	defer d.Stop()

	src.frame(testFrame("S2340123", 7))
	src.frame(testFrame("S2340123", 7)) // decode chains emit each frame more than once
	src.frame(testFrame("S2340123", 8))

	deadline := time.Now().Add(2 * time.Second)
	for capture.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if capture.count() != 2 {
		t.Fatalf("exported %d frames, want 2 (repeat suppressed)", capture.count())
	}
}

func TestDecoderFilterBlocksExport(t *testing.T) {
	src := newScriptedSource()
	capture := &captureExporter{}
	set := &exporter.Set{}
	set.Register("capture", capture)
	reject := func(*telemetry.Telemetry) bool { return false }

	d := newTestDecoder(t, src, set, reject, time.Minute)
	defer d.Stop()

	src.frame(testFrame("S2340123", 1))
	time.Sleep(20 * time.Millisecond)
	if capture.count() != 0 {
		t.Fatalf("filtered frame was exported")
	}
	if d.FrameCount() != 0 {
		t.Fatalf("FrameCount = %d for a rejected frame, want 0", d.FrameCount())
	}
}

func TestDecoderEncryptedExit(t *testing.T) {
	src := newScriptedSource()
	d := newTestDecoder(t, src, &exporter.Set{}, nil, time.Minute)

	src.fail(ErrEncrypted)
	waitStopped(t, d)
	if d.ExitState() != telemetry.ExitEncrypted {
		t.Fatalf("ExitState = %s, want Encrypted", d.ExitState())
	}
}

func TestDecoderCleanEOFExit(t *testing.T) {
	src := newScriptedSource()
	d := newTestDecoder(t, src, &exporter.Set{}, nil, time.Minute)

	src.fail(io.EOF)
	waitStopped(t, d)
	if d.ExitState() != telemetry.ExitNormal {
		t.Fatalf("ExitState = %s, want Normal", d.ExitState())
	}
}

func TestDecoderSourceErrorExit(t *testing.T) {
	src := newScriptedSource()
	d := newTestDecoder(t, src, &exporter.Set{}, nil, time.Minute)

	src.fail(errors.New("demodulator died"))
	waitStopped(t, d)
	if d.ExitState() != telemetry.ExitError {
		t.Fatalf("ExitState = %s, want Error", d.ExitState())
	}
}

func TestDecoderReceiveTimeout(t *testing.T) {
	src := newScriptedSource()
	d := newTestDecoder(t, src, &exporter.Set{}, nil, 30*time.Millisecond)

	waitStopped(t, d)
	if d.ExitState() != telemetry.ExitTimeout {
		t.Fatalf("ExitState = %s, want Timeout", d.ExitState())
	}
}

func TestDecoderTimeoutStopsReadLoop(t *testing.T) {
	src := &stallingSource{closed: make(chan struct{})}
	before := runtime.NumGoroutine()
	d := newTestDecoder(t, src, &exporter.Set{}, nil, 30*time.Millisecond)

	waitStopped(t, d)
	if d.ExitState() != telemetry.ExitTimeout {
		t.Fatalf("ExitState = %s, want Timeout", d.ExitState())
	}

	// The read goroutine's final send has no receiver once the worker has
	// exited; it must be released rather than left blocked forever.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("read loop still running after timeout exit")
}
