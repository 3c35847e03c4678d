package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sonderx/config"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20-Jan-2026.log")); err == nil {
		t.Fatalf("expected 20-Jan-2026.log to be removed")
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	for _, name := range []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

// collectSink gathers lines written through the fanout.
type collectSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *collectSink) WriteLine(line string, now time.Time) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *collectSink) Close() error { return nil }

func TestLogFanoutSplitsLines(t *testing.T) {
	console := &collectSink{}
	file := &collectSink{}
	fanout := newLogFanout(console, file)

	if _, err := fanout.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatal(err)
	}
	if _, err := fanout.Write([]byte("line\r\n")); err != nil {
		t.Fatal(err)
	}

	if len(console.lines) != 2 || console.lines[0] != "first line" || console.lines[1] != "second line" {
		t.Fatalf("console lines = %v", console.lines)
	}
	if len(file.lines) != 2 {
		t.Fatalf("file lines = %v", file.lines)
	}
}

func TestSetupLoggingWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	fanout, err := setupLogging(config.LoggingConfig{Enabled: true, Dir: dir, RetentionDays: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fanout.Write([]byte("Task Manager: test line\n")); err != nil {
		t.Fatal(err)
	}
	if err := fanout.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".log") {
		t.Fatalf("log dir contents: %v", entries)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Task Manager: test line") {
		t.Fatalf("log file content: %q", data)
	}
}

func TestSetupLoggingDisabledHasNoFileSink(t *testing.T) {
	fanout, err := setupLogging(config.LoggingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fanout.file != nil {
		t.Fatal("file sink installed while logging disabled")
	}
}
