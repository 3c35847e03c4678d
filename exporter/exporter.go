// Package exporter defines the telemetry sink capability and the ordered
// fan-out set the scheduler owns for the lifetime of the process.
package exporter

import (
	"log"
	"sync/atomic"

	"sonderx/telemetry"
)

// Exporter is one telemetry sink. Add is called once per filter-accepted
// frame; Close is called once at shutdown. Implementations own their
// buffering and must not block the decode path for long.
type Exporter interface {
	Add(t *telemetry.Telemetry) error
	Close() error
}

// Set is an ordered collection of exporters, insertion order preserved.
// Every call into a sink runs through an isolation wrapper: an error or
// panic in one exporter is logged and must not prevent delivery to the rest.
type Set struct {
	names     []string
	exporters []Exporter
	frames    atomic.Uint64
}

// Register appends an exporter under a name used in failure logs.
func (s *Set) Register(name string, e Exporter) {
	if e == nil {
		return
	}
	s.names = append(s.names, name)
	s.exporters = append(s.exporters, e)
}

// Len returns the number of registered exporters.
func (s *Set) Len() int {
	return len(s.exporters)
}

// Add offers a frame to every exporter in registration order.
func (s *Set) Add(t *telemetry.Telemetry) {
	if s == nil || t == nil {
		return
	}
	s.frames.Add(1)
	for i, e := range s.exporters {
		if err := guard(e.Add, t); err != nil {
			log.Printf("Exporter: %s add failed - %v", s.names[i], err)
		}
	}
}

// Frames returns the number of frames fanned out so far. Safe from any
// goroutine; the status loop reads it.
func (s *Set) Frames() uint64 {
	if s == nil {
		return 0
	}
	return s.frames.Load()
}

// Close shuts every exporter down, best-effort and non-transactional.
func (s *Set) Close() {
	if s == nil {
		return
	}
	for i, e := range s.exporters {
		if err := guardClose(e.Close); err != nil {
			log.Printf("Exporter: error stopping %s - %v", s.names[i], err)
		}
	}
}

func guard(fn func(*telemetry.Telemetry) error, t *telemetry.Telemetry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()
	return fn(t)
}

func guardClose(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()
	return fn()
}
