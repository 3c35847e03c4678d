package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultRejectLogMaxKeys = 512

// rejectThrottle rate-limits repeated telemetry rejection log lines. A sonde
// stuck below four satellites emits one frame per second, each rejected with
// the same reason; only the first line per key is logged per window, with a
// suppression count appended when the window rolls over.
type rejectThrottle struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int
	now     func() time.Time
	entries map[string]rejectEntry
}

type rejectEntry struct {
	nextEmit   time.Time
	lastSeen   time.Time
	suppressed uint64
}

func newRejectThrottle(window time.Duration, maxKeys int) *rejectThrottle {
	if window <= 0 || maxKeys <= 0 {
		return nil
	}
	return &rejectThrottle{
		window:  window,
		maxKeys: maxKeys,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]rejectEntry, maxKeys),
	}
}

// Logf logs the formatted line unless the key has already been logged within
// the window. A nil throttle logs everything.
func (r *rejectThrottle) Logf(key, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if line, ok := r.process(key, line); ok {
		log.Print(line)
	}
}

func (r *rejectThrottle) process(key, line string) (string, bool) {
	if r == nil || key == "" {
		return line, true
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.entries[key]
	if !found {
		r.evictOneIfNeededLocked()
		r.entries[key] = rejectEntry{
			nextEmit: now.Add(r.window),
			lastSeen: now,
		}
		return line, true
	}
	entry.lastSeen = now
	if now.Before(entry.nextEmit) {
		entry.suppressed++
		r.entries[key] = entry
		return "", false
	}
	suppressed := entry.suppressed
	entry.suppressed = 0
	entry.nextEmit = now.Add(r.window)
	r.entries[key] = entry
	if suppressed > 0 {
		line = fmt.Sprintf("%s (suppressed=%d over %s)", line, suppressed, r.window)
	}
	return line, true
}

// evictOneIfNeededLocked bounds the key map by dropping the least recently
// seen entry, so a parade of one-off sondes cannot grow it without limit.
func (r *rejectThrottle) evictOneIfNeededLocked() {
	if len(r.entries) < r.maxKeys {
		return
	}
	var oldestKey string
	var oldestSeen time.Time
	haveOldest := false
	for key, entry := range r.entries {
		if !haveOldest || entry.lastSeen.Before(oldestSeen) {
			oldestKey = key
			oldestSeen = entry.lastSeen
			haveOldest = true
		}
	}
	if haveOldest {
		delete(r.entries, oldestKey)
	}
}
