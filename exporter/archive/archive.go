// Package archive persists telemetry to SQLite asynchronously with
// time-based retention. It is designed to be removable: the decode path
// never blocks on the writer, and backpressure results in dropped archive
// writes.
package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"sonderx/config"
	"sonderx/telemetry"

	_ "modernc.org/sqlite"
)

// Writer persists frames to SQLite in batches off the hot path.
type Writer struct {
	cfg   config.ArchiveConfig
	db    *sql.DB
	queue chan *telemetry.Telemetry
	stop  chan struct{}
	done  chan struct{}
}

// New initializes the SQLite database and starts the insert/cleanup loops.
func New(cfg config.ArchiveConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	if _, err := db.Exec(fmt.Sprintf(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=%d`, busy)); err != nil {
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.BatchIntervalMS <= 0 {
		cfg.BatchIntervalMS = 2000
	}
	w := &Writer{
		cfg:   cfg,
		db:    db,
		queue: make(chan *telemetry.Telemetry, qsize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.insertLoop()
	go w.cleanupLoop()
	return w, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`create table if not exists frames(
		ts text not null,
		serial text not null,
		frame integer not null,
		lat real not null,
		lon real not null,
		alt real not null,
		vel_h real,
		heading real,
		temp real,
		sonde_type text not null,
		freq real not null
	);
	create index if not exists frames_serial_idx on frames(serial);
	create index if not exists frames_ts_idx on frames(ts)`)
	if err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

// Add queues a frame for archival without blocking; drops on a full queue.
func (w *Writer) Add(t *telemetry.Telemetry) error {
	select {
	case w.queue <- t:
	default:
		// Drop silently to avoid interfering with the hot path.
	}
	return nil
}

// Close stops the loops and closes the database; best-effort flush.
func (w *Writer) Close() error {
	close(w.stop)
	<-w.done
	return w.db.Close()
}

func (w *Writer) insertLoop() {
	defer close(w.done)
	batch := make([]*telemetry.Telemetry, 0, w.cfg.BatchSize)
	timer := time.NewTimer(time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.flush(batch)
			return
		case t := <-w.queue:
			batch = append(batch, t)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond)
		}
	}
}

func (w *Writer) flush(batch []*telemetry.Telemetry) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into frames(ts, serial, frame, lat, lon, alt, vel_h, heading, temp, sonde_type, freq) values(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	for _, t := range batch {
		if _, err := stmt.Exec(t.Time.UTC().Format(time.RFC3339), t.ID, t.Frame,
			t.Latitude, t.Longitude, t.Altitude,
			t.Velocity, t.Heading, t.Temp, string(t.Type), t.Frequency); err != nil {
			log.Printf("archive: insert %s: %v", t.ID, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("archive: commit: %v", err)
	}
}

func (w *Writer) cleanupLoop() {
	if w.cfg.RetentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -w.cfg.RetentionDays).Format(time.RFC3339)
			if _, err := w.db.Exec(`delete from frames where ts < ?`, cutoff); err != nil {
				log.Printf("archive: cleanup: %v", err)
			}
		}
	}
}
