// Package rotator points an antenna rotator at the sonde being tracked, via
// a rotctld daemon speaking its line protocol over TCP.
package rotator

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	"sonderx/config"
	"sonderx/telemetry"
)

const dialTimeout = 10 * time.Second

// Driver tracks the most recent telemetry frame and periodically commands
// rotctld to the payload's look angles. Movement smaller than the configured
// threshold is skipped to avoid hunting.
type Driver struct {
	cfg     config.RotatorConfig
	station telemetry.Position

	mu     sync.Mutex
	latest *telemetry.Telemetry
	conn   *telnet.Conn
	lastAz float64
	lastEl float64
	moved  bool

	stop chan struct{}
	done chan struct{}
}

// New starts the update loop. The rotctld connection is established lazily.
func New(cfg config.RotatorConfig, station telemetry.Position) (*Driver, error) {
	if cfg.UpdateSec <= 0 {
		cfg.UpdateSec = 30
	}
	if cfg.ThresholdDeg <= 0 {
		cfg.ThresholdDeg = 5.0
	}
	d := &Driver{
		cfg:     cfg,
		station: station,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.updateLoop()
	return d, nil
}

// Add records the newest frame; the update loop consumes it on its own cadence.
func (d *Driver) Add(t *telemetry.Telemetry) error {
	d.mu.Lock()
	d.latest = t
	d.mu.Unlock()
	return nil
}

// Close stops the update loop and disconnects from rotctld.
func (d *Driver) Close() error {
	close(d.stop)
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		return err
	}
	return nil
}

func (d *Driver) updateLoop() {
	defer close(d.done)
	ticker := time.NewTicker(time.Duration(d.cfg.UpdateSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.update()
		}
	}
}

func (d *Driver) update() {
	d.mu.Lock()
	t := d.latest
	d.mu.Unlock()
	if t == nil {
		return
	}

	look := telemetry.Look(d.station, telemetry.Position{
		Latitude:  t.Latitude,
		Longitude: t.Longitude,
		Altitude:  t.Altitude,
	})
	if look.Elevation < 0 {
		look.Elevation = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.moved && angleDelta(look.Azimuth, d.lastAz) < d.cfg.ThresholdDeg &&
		angleDelta(look.Elevation, d.lastEl) < d.cfg.ThresholdDeg {
		return
	}
	if err := d.setPositionLocked(look.Azimuth, look.Elevation); err != nil {
		log.Printf("Rotator: position update failed - %v", err)
		return
	}
	d.lastAz = look.Azimuth
	d.lastEl = look.Elevation
	d.moved = true
}

func (d *Driver) connectLocked() error {
	if d.conn != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	conn, err := telnet.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("rotator: connect %s: %w", addr, err)
	}
	d.conn = conn
	log.Printf("Rotator: connected to rotctld at %s", addr)
	return nil
}

// setPositionLocked sends a rotctld "P <az> <el>" command and checks the
// RPRT status line. On failure the connection is dropped for a clean redial.
func (d *Driver) setPositionLocked(az, el float64) error {
	if err := d.connectLocked(); err != nil {
		return err
	}
	cmd := fmt.Sprintf("P %.1f %.1f\n", az, el)
	if _, err := d.conn.Write([]byte(cmd)); err != nil {
		d.dropLocked()
		return fmt.Errorf("rotator: write: %w", err)
	}
	_ = d.conn.SetReadDeadline(time.Now().Add(dialTimeout))
	reply, err := d.conn.ReadString('\n')
	if err != nil {
		d.dropLocked()
		return fmt.Errorf("rotator: read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply != "RPRT 0" {
		return fmt.Errorf("rotator: rotctld refused command: %s", reply)
	}
	return nil
}

func (d *Driver) dropLocked() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

func angleDelta(a, b float64) float64 {
	diff := a - b
	for diff > 180 {
		diff -= 360
	}
	for diff < -180 {
		diff += 360
	}
	if diff < 0 {
		diff = -diff
	}
	return diff
}
