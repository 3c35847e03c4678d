// Package decoder runs one dedicated decode worker per confirmed frequency.
// Demodulation is an external collaborator behind the FrameSource interface
// (usually a decode-chain subprocess emitting JSON frames, see ExecSource);
// this package owns the receive timeout, duplicate-frame suppression, the
// telemetry filter gate, and fan-out of accepted frames to the exporters.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"sonderx/exporter"
	"sonderx/telemetry"
)

// ErrEncrypted is returned by a FrameSource when the sonde transmits
// encrypted telemetry (e.g. military RS41-SGM). The task manager converts
// this exit into a temporary frequency block.
var ErrEncrypted = errors.New("decoder: encrypted telemetry")

// FrameSource produces decoded frames for one frequency. Next blocks until a
// frame is available and returns io.EOF when the decode chain ends cleanly.
type FrameSource interface {
	Next(ctx context.Context) (*telemetry.Telemetry, error)
	Close() error
}

// Config wires one decode worker.
type Config struct {
	Type      string // sonde type code, possibly "-"-prefixed for inverted polarity
	Frequency float64
	Device    string // SDR serial, for log lines only
	Timeout   time.Duration
	Filter    func(t *telemetry.Telemetry) bool
	Exporters *exporter.Set
	Source    FrameSource
}

// Decoder is the decode worker. Running and ExitState are written by the
// worker goroutine and read by the control goroutine on every reap pass.
type Decoder struct {
	cfg     Config
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	exit    atomic.Value // telemetry.ExitState
	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New starts a decode worker.
func New(cfg Config) (*Decoder, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("decoder: no frame source")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Decoder{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.running.Store(true)
	d.exit.Store(telemetry.ExitRunning)
	go d.run(ctx)
	return d, nil
}

// Stop halts the worker and waits for its goroutine to exit; after Stop
// returns the device is no longer touched and may be reallocated.
func (d *Decoder) Stop() {
	d.cancel()
	<-d.done
}

// Running reports whether the worker goroutine is still active.
func (d *Decoder) Running() bool {
	return d.running.Load()
}

// ExitState returns the worker's terminal state, or ExitRunning while active.
func (d *Decoder) ExitState() telemetry.ExitState {
	return d.exit.Load().(telemetry.ExitState)
}

// FrameCount returns the number of frames accepted and exported so far.
func (d *Decoder) FrameCount() uint64 {
	return d.frames.Load()
}

type frameResult struct {
	t   *telemetry.Telemetry
	err error
}

func (d *Decoder) run(ctx context.Context) {
	// Cancel on every exit path, not just Stop: the reader goroutine blocks
	// on its final send otherwise and leaks after a self-exit (timeout,
	// encrypted, EOF).
	defer d.cancel()
	defer close(d.done)
	defer d.running.Store(false)
	defer func() { _ = d.cfg.Source.Close() }()

	sondeType, inverted := telemetry.StripInversion(d.cfg.Type)
	polarity := ""
	if inverted {
		polarity = " (inverted)"
	}
	log.Printf("Decoder: started for %s%s on %.3f MHz (SDR %s)", sondeType, polarity, d.cfg.Frequency/1e6, d.cfg.Device)

	// Reads run in their own goroutine so the loop can race them against the
	// receive timeout and the stop signal.
	results := make(chan frameResult)
	go func() {
		for {
			t, err := d.cfg.Source.Next(ctx)
			select {
			case results <- frameResult{t: t, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var lastHash uint64
	timeout := time.NewTimer(d.cfg.Timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			d.exit.Store(telemetry.ExitNormal)
			return

		case <-timeout.C:
			log.Printf("Decoder: no valid telemetry on %.3f MHz for %s, halting.", d.cfg.Frequency/1e6, d.cfg.Timeout)
			d.exit.Store(telemetry.ExitTimeout)
			return

		case res := <-results:
			switch {
			case res.err == nil:
				if d.handleFrame(res.t, sondeType, &lastHash) {
					if !timeout.Stop() {
						<-timeout.C
					}
					timeout.Reset(d.cfg.Timeout)
				}
			case errors.Is(res.err, ErrEncrypted):
				log.Printf("Decoder: encrypted sonde on %.3f MHz, halting.", d.cfg.Frequency/1e6)
				d.exit.Store(telemetry.ExitEncrypted)
				return
			case errors.Is(res.err, io.EOF):
				d.exit.Store(telemetry.ExitNormal)
				return
			case ctx.Err() != nil:
				d.exit.Store(telemetry.ExitNormal)
				return
			default:
				log.Printf("Decoder: frame source failed on %.3f MHz - %v", d.cfg.Frequency/1e6, res.err)
				d.exit.Store(telemetry.ExitError)
				return
			}
		}
	}
}

// handleFrame dedupes, filters, and fans out one frame. Returns true only
// when the frame passed the filter; only accepted frames count as valid
// telemetry and reset the receive timeout.
func (d *Decoder) handleFrame(t *telemetry.Telemetry, sondeType telemetry.SondeType, lastHash *uint64) bool {
	if t == nil {
		return false
	}
	if t.Type == "" {
		t.Type = sondeType
	}
	if t.Frequency == 0 {
		t.Frequency = d.cfg.Frequency
	}

	// Decode chains repeat frames; suppress exact repeats by serial+frame.
	h := xxh3.HashString(t.ID) ^ uint64(t.Frame)
	if h == *lastHash {
		d.dropped.Add(1)
		return false
	}
	*lastHash = h

	if d.cfg.Filter != nil && !d.cfg.Filter(t) {
		d.dropped.Add(1)
		return false
	}
	d.frames.Add(1)
	if d.cfg.Exporters != nil {
		d.cfg.Exporters.Add(t)
	}
	return true
}
