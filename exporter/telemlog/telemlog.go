// Package telemlog writes one CSV log file per sonde serial, so a flight can
// be replayed or mapped after the fact.
package telemlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sonderx/telemetry"
)

const logTimeLayout = "2006-01-02T15:04:05.000Z"

// Logger appends telemetry lines to per-serial files under Dir. Files stay
// open between frames and are all closed on shutdown.
type Logger struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates the log directory if needed and returns the logger.
func New(dir string) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("telemlog: log directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("telemlog: create %s: %w", dir, err)
	}
	return &Logger{dir: dir, files: make(map[string]*os.File)}, nil
}

// Add appends one frame to the sonde's log file, creating it on first sight.
func (l *Logger) Add(t *telemetry.Telemetry) error {
	if t.ID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.files[t.ID]
	if !ok {
		name := fmt.Sprintf("%s_%s_%s_sonde.log",
			time.Now().UTC().Format("20060102-150405"), sanitize(t.ID), t.Type)
		path := filepath.Join(l.dir, name)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("telemlog: open %s: %w", path, err)
		}
		l.files[t.ID] = f
	}

	line := fmt.Sprintf("%s,%s,%d,%.5f,%.5f,%.1f,%.1f,%.1f,%.1f,%s,%.3f\n",
		t.Time.UTC().Format(logTimeLayout), t.ID, t.Frame,
		t.Latitude, t.Longitude, t.Altitude,
		t.Velocity, t.Heading, t.Temp, t.Type, t.Frequency/1e6)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("telemlog: write %s: %w", t.ID, err)
	}
	return nil
}

// Close closes every open per-sonde file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for id, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telemlog: close %s: %w", id, err)
		}
		delete(l.files, id)
	}
	return firstErr
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
