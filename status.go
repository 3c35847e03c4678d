package main

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"sonderx/exporter"
)

const statusLogInterval = 5 * time.Minute

// statusLoop logs pipeline counters periodically until stop closes. The
// counters it reads are atomics; it never touches the registry itself.
func statusLoop(sched *Scheduler, queue *resultQueue, exporters *exporter.Set, stop <-chan struct{}) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			log.Printf("Status: detections=%s decoders_started=%s frames_exported=%s drops_no_sdr=%s queue_depth=%d",
				humanize.Comma(int64(sched.detections.Load())),
				humanize.Comma(int64(sched.decodersStarted.Load())),
				humanize.Comma(int64(exporters.Frames())),
				humanize.Comma(int64(sched.dropsNoDevice.Load())),
				queue.Len())
		}
	}
}
