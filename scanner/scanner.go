// Package scanner runs the spectrum scan worker. The signal-detection
// algorithm itself is an external collaborator supplied as a DetectFunc
// (typically a detector subprocess, see CommandDetector); this package owns
// the sweep cadence, result filtering against deny/temporary-block lists,
// and the worker lifecycle the task manager observes.
package scanner

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"sonderx/telemetry"
)

// blockTolerance is how close (in Hz) a detection must be to a blocked
// frequency to be considered the same carrier.
const blockTolerance = 10e3

// consecutive detector failures tolerated before the worker gives up.
const maxDetectErrors = 5

// DetectFunc performs one spectrum sweep and returns candidate detections.
// It must honor ctx cancellation; a detector is constructed with its own
// view of the scan range, lists, and SNR threshold.
type DetectFunc func(ctx context.Context) ([]telemetry.Detection, error)

// Config wires one scanner worker.
type Config struct {
	Device    string // SDR serial, for log lines only
	ScanDwell time.Duration
	BlockTTL  time.Duration
	Blacklist []float64
	Detect    DetectFunc
	Callback  func(batch []telemetry.Detection)
}

// Scanner is the scan worker. Exactly one is registered at a time; it owns
// its device until the task manager stops it. Running and ExitState are
// written by the worker goroutine and read by the control goroutine.
type Scanner struct {
	cfg     Config
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	exit    atomic.Value // telemetry.ExitState

	mu     sync.Mutex
	blocks map[float64]time.Time
}

// New starts a scanner worker.
func New(cfg Config) (*Scanner, error) {
	if cfg.ScanDwell <= 0 {
		cfg.ScanDwell = 20 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scanner{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		blocks: make(map[float64]time.Time),
	}
	s.running.Store(true)
	s.exit.Store(telemetry.ExitRunning)
	go s.run(ctx)
	return s, nil
}

// Stop halts the worker and waits for its goroutine to exit, so the caller
// may safely reuse the device immediately afterwards.
func (s *Scanner) Stop() {
	s.cancel()
	<-s.done
}

// Running reports whether the worker goroutine is still active.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// ExitState returns the worker's terminal state, or ExitRunning while active.
func (s *Scanner) ExitState() telemetry.ExitState {
	return s.exit.Load().(telemetry.ExitState)
}

// AddTemporaryBlock excludes freq from detection results for the block TTL.
// Called from the control goroutine while the worker is sweeping.
func (s *Scanner) AddTemporaryBlock(freq float64) {
	s.mu.Lock()
	s.blocks[freq] = time.Now()
	s.mu.Unlock()
	log.Printf("Scanner: added temporary block for %.3f MHz", freq/1e6)
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)

	log.Printf("Scanner: started on SDR %s", s.cfg.Device)
	errCount := 0
	for {
		batch, err := s.cfg.Detect(ctx)
		if ctx.Err() != nil {
			s.exit.Store(telemetry.ExitNormal)
			return
		}
		if err != nil {
			errCount++
			log.Printf("Scanner: sweep failed (%d/%d) - %v", errCount, maxDetectErrors, err)
			if errCount >= maxDetectErrors {
				s.exit.Store(telemetry.ExitError)
				return
			}
		} else {
			errCount = 0
			if kept := s.filter(batch); len(kept) > 0 && s.cfg.Callback != nil {
				s.cfg.Callback(kept)
			}
		}

		select {
		case <-ctx.Done():
			s.exit.Store(telemetry.ExitNormal)
			return
		case <-time.After(s.cfg.ScanDwell):
		}
	}
}

// filter drops blacklisted and temporarily blocked frequencies from a sweep.
func (s *Scanner) filter(batch []telemetry.Detection) []telemetry.Detection {
	if len(batch) == 0 {
		return nil
	}
	s.expireBlocks()
	kept := batch[:0]
	for _, d := range batch {
		if s.denied(d.Frequency) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (s *Scanner) denied(freq float64) bool {
	for _, b := range s.cfg.Blacklist {
		if math.Abs(freq-b) < blockTolerance {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := range s.blocks {
		if math.Abs(freq-b) < blockTolerance {
			return true
		}
	}
	return false
}

func (s *Scanner) expireBlocks() {
	if s.cfg.BlockTTL <= 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	for freq, began := range s.blocks {
		if now.Sub(began) >= s.cfg.BlockTTL {
			delete(s.blocks, freq)
		}
	}
	s.mu.Unlock()
}
