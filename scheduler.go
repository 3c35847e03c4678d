package main

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"

	"sonderx/exporter"
	"sonderx/telemetry"
)

// sondeTask is the lifecycle surface every worker exposes to the task
// manager. Running and ExitState are written by the worker goroutine and
// read here on the control goroutine; Stop is synchronous with respect to
// the worker goroutine exiting, so the device can be reused immediately.
type sondeTask interface {
	Stop()
	Running() bool
	ExitState() telemetry.ExitState
}

// scanTask extends sondeTask with the scanner's live exclusion list.
type scanTask interface {
	sondeTask
	AddTemporaryBlock(freq float64)
}

type taskKind int

const (
	kindScanner taskKind = iota
	kindDecoder
)

// taskKey is the registry key: the singleton scanner key, or a decoder's
// exact frequency.
type taskKey struct {
	kind taskKind
	freq float64 // Hz; 0 for the scanner
}

var scanKey = taskKey{kind: kindScanner}

func decoderKey(freq float64) taskKey {
	return taskKey{kind: kindDecoder, freq: freq}
}

type taskEntry struct {
	device    *SDR
	sondeType string // decoder type code, possibly "-"-prefixed; "" for the scanner
	task      sondeTask
}

// Scheduler is the task manager: it owns the device pool, the task registry,
// and the temporary block list, and arbitrates the scarce receivers between
// scanning and decoding. All of its state is mutated only from the control
// goroutine; no locks are needed around the registry.
type Scheduler struct {
	pool      *DevicePool
	blocks    *blockList
	queue     *resultQueue
	exporters *exporter.Set

	spacingLimit float64 // Hz

	newScanner func(dev *SDR) (scanTask, error)
	newDecoder func(dev *SDR, freq float64, sondeType string) (sondeTask, error)
	taskEvent  func() // fire-and-forget registry-changed hook, may be nil

	tasks map[taskKey]*taskEntry

	// Counters read by the status loop from another goroutine.
	detections      atomic.Uint64
	decodersStarted atomic.Uint64
	dropsNoDevice   atomic.Uint64
}

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Pool         *DevicePool
	Blocks       *blockList
	Queue        *resultQueue
	Exporters    *exporter.Set
	SpacingLimit float64
	NewScanner   func(dev *SDR) (scanTask, error)
	NewDecoder   func(dev *SDR, freq float64, sondeType string) (sondeTask, error)
	TaskEvent    func()
}

// NewScheduler builds the task manager. Workers are created through the
// supplied factories; tests inject fakes there.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		pool:         cfg.Pool,
		blocks:       cfg.Blocks,
		queue:        cfg.Queue,
		exporters:    cfg.Exporters,
		spacingLimit: cfg.SpacingLimit,
		newScanner:   cfg.NewScanner,
		newDecoder:   cfg.NewDecoder,
		taskEvent:    cfg.TaskEvent,
		tasks:        make(map[taskKey]*taskEntry),
	}
}

func (s *Scheduler) emitTaskEvent() {
	if s.taskEvent != nil {
		s.taskEvent()
	}
}

// StartScanner launches the scan worker on the first free device. No-op when
// a scanner is already registered or no device is free.
func (s *Scheduler) StartScanner() {
	if _, ok := s.tasks[scanKey]; ok {
		log.Printf("Task Manager: attempted to start a scanner, but one already running.")
		return
	}
	dev, ok := s.pool.Allocate(false, "Scanner")
	if !ok {
		log.Printf("Task Manager: no SDRs free to run scanner.")
		return
	}
	task, err := s.newScanner(dev)
	if err != nil {
		log.Printf("Task Manager: could not start scanner - %v", err)
		s.pool.Release(dev.Serial)
		return
	}
	// A fresh scanner has no memory of frequencies blocked before it started.
	for _, freq := range s.blocks.Active() {
		task.AddTemporaryBlock(freq)
	}
	s.tasks[scanKey] = &taskEntry{device: dev, task: task}
	s.emitTaskEvent()
}

// StopScanner stops the scan worker and releases its device. No-op when no
// scanner is registered.
func (s *Scheduler) StopScanner() {
	entry, ok := s.tasks[scanKey]
	if !ok {
		return
	}
	log.Printf("Task Manager: halting scanner to decode detected radiosonde.")
	entry.task.Stop()
	s.pool.Release(entry.device.Serial)
	delete(s.tasks, scanKey)
	s.emitTaskEvent()
}

// StartDecoder attempts to start a decode worker for freq (Hz) and the given
// sonde type code (possibly "-"-prefixed for inverted polarity). Policy gates
// apply in order: temporary block list, drifty-type spacing, device
// availability.
func (s *Scheduler) StartDecoder(freq float64, sondeType string) {
	if s.blocks.Blocked(freq) {
		log.Printf("Task Manager: attempted to start a decoder on a temporarily blocked frequency (%.3f MHz)", freq/1e6)
		return
	}
	// An expired entry is removed eagerly on the first attempt past its TTL.
	s.blocks.Remove(freq)

	newType, _ := telemetry.StripInversion(sondeType)
	for key, entry := range s.tasks {
		if key.kind != kindDecoder {
			continue
		}
		existingType, _ := telemetry.StripInversion(entry.sondeType)
		if telemetry.DriftyTypes[existingType] && existingType == newType {
			if math.Abs(key.freq-freq) < s.spacingLimit {
				log.Printf("Task Manager: attempted to start a %s decoder within %.1f kHz of an already running decoder.", newType, s.spacingLimit/1e3)
				return
			}
		}
	}

	dev, ok := s.pool.Allocate(false, fmt.Sprintf("Decoder (%s, %.3f MHz)", newType, freq/1e6))
	if !ok {
		log.Printf("Task Manager: could not allocate SDR for decoder!")
		return
	}
	task, err := s.newDecoder(dev, freq, sondeType)
	if err != nil {
		log.Printf("Task Manager: could not start decoder - %v", err)
		s.pool.Release(dev.Serial)
		return
	}
	s.tasks[decoderKey(freq)] = &taskEntry{device: dev, sondeType: sondeType, task: task}
	s.decodersStarted.Add(1)
	s.emitTaskEvent()
}

// HandleScanResults pops at most one detection batch from the scan result
// queue and arbitrates devices for each new detection: a free device is
// allocated directly; otherwise a running scanner is stopped and its device
// stolen, since decoding a confirmed signal outranks exploratory scanning.
func (s *Scheduler) HandleScanResults() {
	batch, ok := s.queue.Pop()
	if !ok {
		return
	}
	for _, d := range batch {
		if _, decoding := s.tasks[decoderKey(d.Frequency)]; decoding {
			continue
		}
		s.detections.Add(1)

		// The inversion marker is stripped for logging and support checks
		// only; the decoder receives the original marked type code.
		checkType, _ := telemetry.StripInversion(d.Type)
		log.Printf("Task Manager: detected new %s sonde on %.3f MHz!", checkType, d.Frequency/1e6)

		if !telemetry.ValidTypes[checkType] {
			log.Printf("Task Manager: unsupported sonde type: %s", checkType)
			continue
		}

		if _, free := s.pool.Allocate(true, ""); free {
			s.StartDecoder(d.Frequency, d.Type)
		} else if _, scanning := s.tasks[scanKey]; scanning {
			s.StopScanner()
			s.StartDecoder(d.Frequency, d.Type)
		} else {
			// All devices busy decoding and nothing to preempt; drop the
			// detection and rely on the scanner finding it again later.
			s.dropsNoDevice.Add(1)
			log.Printf("Task Manager: detected %s sonde on %.3f MHz, but no SDR available.", checkType, d.Frequency/1e6)
		}
	}
}

// queryTaskState reads a worker's lifecycle state, converting a panic in a
// misbehaving worker into an error so one bad task cannot abort a reap pass.
func queryTaskState(t sondeTask) (running bool, exit telemetry.ExitState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	running = t.Running()
	exit = t.ExitState()
	return running, exit, nil
}

// CleanTaskList reaps finished workers: releases their devices, converts
// Encrypted exits into temporary frequency blocks, prunes expired blocks,
// and restarts the scanner whenever idle capacity exists.
func (s *Scheduler) CleanTaskList() {
	for key, entry := range s.tasks {
		running, exitState, err := queryTaskState(entry.task)
		if err != nil {
			log.Printf("Task Manager: error getting task state for %s - %v", describeKey(key), err)
			continue
		}
		if running {
			continue
		}

		if exitState == telemetry.ExitEncrypted && key.kind == kindDecoder {
			s.blocks.Add(key.freq)
			// Keep the live scanner from immediately re-detecting it.
			if scanEntry, ok := s.tasks[scanKey]; ok {
				if sc, ok := scanEntry.task.(scanTask); ok {
					sc.AddTemporaryBlock(key.freq)
				}
			}
		}

		s.pool.Release(entry.device.Serial)
		delete(s.tasks, key)
		s.emitTaskEvent()
	}

	s.blocks.ExpireOlder()

	if _, scanning := s.tasks[scanKey]; !scanning {
		if _, free := s.pool.Allocate(true, ""); free {
			s.StartScanner()
		}
	}
}

// StopAll signal-stops every registered task and closes every exporter,
// isolating and logging per-task and per-exporter failures. Best-effort.
func (s *Scheduler) StopAll() {
	log.Printf("Task Manager: starting shutdown of all tasks.")
	for key, entry := range s.tasks {
		if err := stopTask(entry.task); err != nil {
			log.Printf("Task Manager: error stopping task %s - %v", describeKey(key), err)
		}
		s.pool.Release(entry.device.Serial)
		delete(s.tasks, key)
		s.emitTaskEvent()
	}
	s.exporters.Close()
}

func stopTask(t sondeTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	t.Stop()
	return nil
}

func describeKey(key taskKey) string {
	if key.kind == kindScanner {
		return "Scanner"
	}
	return fmt.Sprintf("Decoder @ %.3f MHz", key.freq/1e6)
}

// TaskCount returns the number of registered tasks.
func (s *Scheduler) TaskCount() int {
	return len(s.tasks)
}

// ScannerRegistered reports whether the scan task is currently registered.
func (s *Scheduler) ScannerRegistered() bool {
	_, ok := s.tasks[scanKey]
	return ok
}

// DecoderRegistered reports whether a decoder is registered for freq.
func (s *Scheduler) DecoderRegistered(freq float64) bool {
	_, ok := s.tasks[decoderKey(freq)]
	return ok
}
