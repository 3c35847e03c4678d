package main

import (
	"testing"

	"sonderx/telemetry"
)

func TestResultQueueFIFO(t *testing.T) {
	q := newResultQueue()
	q.Push([]telemetry.Detection{{Frequency: 401.5e6, Type: "RS41"}})
	q.Push([]telemetry.Detection{{Frequency: 403.0e6, Type: "DFM"}})

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	batch, ok := q.Pop()
	if !ok || batch[0].Frequency != 401.5e6 {
		t.Fatalf("first Pop = %v ok=%v, want the 401.5 MHz batch", batch, ok)
	}
	batch, ok = q.Pop()
	if !ok || batch[0].Type != "DFM" {
		t.Fatalf("second Pop = %v ok=%v, want the DFM batch", batch, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on an empty queue reported a batch")
	}
}

func TestResultQueueIgnoresEmptyBatch(t *testing.T) {
	q := newResultQueue()
	q.Push(nil)
	q.Push([]telemetry.Detection{})
	if q.Len() != 0 {
		t.Fatalf("empty batches were queued: Len = %d", q.Len())
	}
}
