package main

import (
	"log"
	"time"
)

// blockList is the temporary frequency denylist. A frequency blocked at time T
// rejects decode attempts while now-T < ttl; entries are pruned by ExpireOlder
// on each reap pass, or removed eagerly when a decode attempt finds them
// already expired. Mutated only on the control goroutine.
type blockList struct {
	ttl     time.Duration
	entries map[float64]time.Time
	now     func() time.Time // injectable for tests
}

func newBlockList(ttl time.Duration) *blockList {
	return &blockList{
		ttl:     ttl,
		entries: make(map[float64]time.Time),
		now:     time.Now,
	}
}

// Add inserts or refreshes a block entry for freq, starting now.
func (b *blockList) Add(freq float64) {
	b.entries[freq] = b.now()
	log.Printf("Task Manager: added temporary block for frequency %.3f MHz", freq/1e6)
}

// Blocked reports whether freq currently carries an unexpired block entry.
func (b *blockList) Blocked(freq float64) bool {
	began, ok := b.entries[freq]
	if !ok {
		return false
	}
	return b.now().Sub(began) < b.ttl
}

// Remove drops the entry for freq, if any.
func (b *blockList) Remove(freq float64) {
	if _, ok := b.entries[freq]; ok {
		delete(b.entries, freq)
		log.Printf("Task Manager: removed %.3f MHz from temporary block list.", freq/1e6)
	}
}

// ExpireOlder prunes every entry whose block has aged past the TTL.
func (b *blockList) ExpireOlder() {
	now := b.now()
	for freq, began := range b.entries {
		if now.Sub(began) >= b.ttl {
			delete(b.entries, freq)
			log.Printf("Task Manager: removed %.3f MHz from temporary block list.", freq/1e6)
		}
	}
}

// Len returns the number of entries, expired or not.
func (b *blockList) Len() int {
	return len(b.entries)
}

// Active returns the frequencies with unexpired block entries.
func (b *blockList) Active() []float64 {
	now := b.now()
	var freqs []float64
	for freq, began := range b.entries {
		if now.Sub(began) < b.ttl {
			freqs = append(freqs, freq)
		}
	}
	return freqs
}
