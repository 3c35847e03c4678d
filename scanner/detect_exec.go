package scanner

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"sonderx/telemetry"
)

// CommandDetector runs an external detector utility for one sweep and parses
// its output. The utility is expected to print one detection per line as
// "<type> <frequency_hz>", e.g. "RS41 402500000" or "-DFM 403200000" for an
// inverted-polarity hit. Lines that do not parse are skipped with a log-free
// shrug; the detector owns its own stderr.
type CommandDetector struct {
	Path string
	Args []string
}

// Detect implements DetectFunc.
func (c *CommandDetector) Detect(ctx context.Context) ([]telemetry.Detection, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("scanner: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("scanner: start %s: %w", c.Path, err)
	}

	var batch []telemetry.Detection
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		if d, ok := parseDetection(sc.Text()); ok {
			batch = append(batch, d)
		}
	}
	scanErr := sc.Err()
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("scanner: %s: %w", c.Path, err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("scanner: read %s output: %w", c.Path, scanErr)
	}
	return batch, nil
}

func parseDetection(line string) (telemetry.Detection, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return telemetry.Detection{}, false
	}
	freq, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || freq <= 0 {
		return telemetry.Detection{}, false
	}
	return telemetry.Detection{Type: fields[0], Frequency: freq}, true
}
