package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sonderx/telemetry"
)

// batchCollector records callback batches across goroutines.
type batchCollector struct {
	mu      sync.Mutex
	batches [][]telemetry.Detection
}

func (c *batchCollector) collect(batch []telemetry.Detection) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]telemetry.Detection(nil), batch...))
	c.mu.Unlock()
}

func (c *batchCollector) first() ([]telemetry.Detection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil, false
	}
	return c.batches[0], true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScannerDeliversDetections(t *testing.T) {
	var collector batchCollector
	s, err := New(Config{
		Device:    "0001",
		ScanDwell: time.Millisecond,
		Detect: func(ctx context.Context) ([]telemetry.Detection, error) {
			return []telemetry.Detection{{Frequency: 402.5e6, Type: "RS41"}}, nil
		},
		Callback: collector.collect,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, "a detection batch", func() bool {
		_, ok := collector.first()
		return ok
	})
	batch, _ := collector.first()
	if batch[0].Frequency != 402.5e6 || batch[0].Type != "RS41" {
		t.Fatalf("unexpected batch: %v", batch)
	}
}

func TestScannerFiltersBlacklist(t *testing.T) {
	var collector batchCollector
	s, err := New(Config{
		ScanDwell: time.Millisecond,
		Blacklist: []float64{402.5e6},
		Detect: func(ctx context.Context) ([]telemetry.Detection, error) {
			return []telemetry.Detection{
				{Frequency: 402.504e6, Type: "RS41"}, // within tolerance of the blacklist entry
				{Frequency: 403.0e6, Type: "DFM"},
			}, nil
		},
		Callback: collector.collect,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, "a filtered batch", func() bool {
		_, ok := collector.first()
		return ok
	})
	batch, _ := collector.first()
	if len(batch) != 1 || batch[0].Frequency != 403.0e6 {
		t.Fatalf("blacklist not applied: %v", batch)
	}
}

func TestScannerTemporaryBlock(t *testing.T) {
	var collector batchCollector
	blockSet := make(chan struct{})
	s, err := New(Config{
		ScanDwell: time.Millisecond,
		BlockTTL:  time.Hour,
		Detect: func(ctx context.Context) ([]telemetry.Detection, error) {
			// Hold every sweep until the block is in place.
			select {
			case <-blockSet:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []telemetry.Detection{{Frequency: 402.5e6, Type: "RS41"}}, nil
		},
		Callback: collector.collect,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.AddTemporaryBlock(402.5e6)
	close(blockSet)

	time.Sleep(50 * time.Millisecond)
	if batch, ok := collector.first(); ok {
		t.Fatalf("blocked frequency still delivered: %v", batch)
	}
}

func TestScannerStopIsSynchronous(t *testing.T) {
	s, err := New(Config{
		ScanDwell: time.Millisecond,
		Detect: func(ctx context.Context) ([]telemetry.Detection, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if s.Running() {
		t.Fatal("Running() true after Stop returned")
	}
	if s.ExitState() != telemetry.ExitNormal {
		t.Fatalf("ExitState = %s, want Normal", s.ExitState())
	}
}

func TestScannerGivesUpAfterRepeatedErrors(t *testing.T) {
	s, err := New(Config{
		ScanDwell: time.Millisecond,
		Detect: func(ctx context.Context) ([]telemetry.Detection, error) {
			return nil, errors.New("rtl_power: lost device")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "the worker to give up", func() bool { return !s.Running() })
	if s.ExitState() != telemetry.ExitError {
		t.Fatalf("ExitState = %s, want Error", s.ExitState())
	}
}
