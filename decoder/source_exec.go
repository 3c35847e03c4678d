package decoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sonderx/telemetry"
)

var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecSource runs a decode-chain command (demodulator piped into a frame
// decoder) and parses one JSON frame per stdout line. The command runs for
// the life of the decoder; killing it on Close ends the pipeline.
type ExecSource struct {
	Path string
	Args []string

	startOnce sync.Once
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	scanner   *bufio.Scanner
	startErr  error
	cancel    context.CancelFunc
}

// wireFrame mirrors the JSON emitted by the decode chain. Sats is a pointer
// so a frame without the field is distinguishable from zero satellites.
type wireFrame struct {
	ID        string  `json:"id"`
	Frame     int64   `json:"frame"`
	Datetime  string  `json:"datetime"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Sats      *int    `json:"sats"`
	Velocity  float64 `json:"vel_h"`
	Heading   float64 `json:"heading"`
	Temp      float64 `json:"temp"`
	Type      string  `json:"type"`
	Frequency float64 `json:"freq"`
	Encrypted bool    `json:"encrypted"`
}

func (s *ExecSource) start() error {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		cmd := exec.CommandContext(runCtx, s.Path, s.Args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			s.startErr = fmt.Errorf("decoder: stdout pipe: %w", err)
			return
		}
		if err := cmd.Start(); err != nil {
			s.startErr = fmt.Errorf("decoder: start %s: %w", s.Path, err)
			return
		}
		s.cmd = cmd
		s.stdout = stdout
		s.scanner = bufio.NewScanner(stdout)
	})
	return s.startErr
}

// Next implements FrameSource. It blocks until the decode chain emits the
// next parseable frame, returns ErrEncrypted on an encrypted frame, and
// io.EOF when the chain exits cleanly.
func (s *ExecSource) Next(ctx context.Context) (*telemetry.Telemetry, error) {
	_ = ctx // reads are interrupted by Close killing the subprocess
	if err := s.start(); err != nil {
		return nil, err
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var w wireFrame
		if err := fastjson.UnmarshalFromString(line, &w); err != nil {
			// Decode chains interleave debug output; skip unparseable lines.
			continue
		}
		if w.Encrypted {
			return nil, ErrEncrypted
		}
		t := &telemetry.Telemetry{
			ID:        w.ID,
			Frame:     w.Frame,
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			Altitude:  w.Altitude,
			Velocity:  w.Velocity,
			Heading:   w.Heading,
			Temp:      w.Temp,
			Type:      telemetry.SondeType(w.Type),
			Frequency: w.Frequency,
		}
		if w.Sats != nil {
			t.Sats = *w.Sats
			t.HasSats = true
		}
		if ts, err := time.Parse(time.RFC3339, w.Datetime); err == nil {
			t.Time = ts
		} else {
			t.Time = time.Now().UTC()
		}
		return t, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("decoder: read %s output: %w", s.Path, err)
	}
	return nil, io.EOF
}

// Close kills the decode chain and reaps the subprocess. The stdout pipe is
// closed first so a reader blocked in Next returns before Wait tears the
// pipe down underneath it.
func (s *ExecSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	return nil
}
