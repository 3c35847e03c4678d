// Package aprs uploads sonde positions to the APRS-IS network as timestamped
// object reports, one object per sonde serial, rate-limited per serial.
package aprs

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"sonderx/config"
	"sonderx/telemetry"
)

const dialTimeout = 30 * time.Second

// Uploader is an APRS-IS client exporter.
type Uploader struct {
	cfg  config.APRSConfig
	rate time.Duration

	mu       sync.Mutex
	conn     net.Conn
	writer   *bufio.Writer
	lastSent map[string]time.Time
}

// New validates the configuration; the connection is established lazily on
// the first report so a dead APRS-IS server cannot stall startup.
func New(cfg config.APRSConfig) (*Uploader, error) {
	if cfg.Callsign == "" {
		return nil, fmt.Errorf("aprs: callsign is empty")
	}
	if cfg.RateSec <= 0 {
		cfg.RateSec = 30
	}
	return &Uploader{
		cfg:      cfg,
		rate:     time.Duration(cfg.RateSec) * time.Second,
		lastSent: make(map[string]time.Time),
	}, nil
}

func (u *Uploader) connectLocked() error {
	if u.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(u.cfg.Server, fmt.Sprintf("%d", u.cfg.Port))
	log.Printf("APRS-IS: connecting to %s...", addr)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("aprs: connect %s: %w", addr, err)
	}
	writer := bufio.NewWriter(conn)
	login := fmt.Sprintf("user %s pass %s vers sonderx 1.0\r\n", u.cfg.Callsign, u.cfg.Passcode)
	if _, err := writer.WriteString(login); err != nil {
		_ = conn.Close()
		return fmt.Errorf("aprs: login: %w", err)
	}
	if err := writer.Flush(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("aprs: login flush: %w", err)
	}
	u.conn = conn
	u.writer = writer
	log.Printf("APRS-IS: connected to %s as %s", addr, u.cfg.Callsign)
	return nil
}

// Add uploads one position report, subject to the per-serial rate limit.
// A send failure drops the connection; the next frame redials.
func (u *Uploader) Add(t *telemetry.Telemetry) error {
	if t.ID == "" {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	if last, ok := u.lastSent[t.ID]; ok && now.Sub(last) < u.rate {
		return nil
	}
	if err := u.connectLocked(); err != nil {
		return err
	}

	packet := u.objectReport(t)
	if _, err := u.writer.WriteString(packet + "\r\n"); err == nil {
		err = u.writer.Flush()
		if err == nil {
			u.lastSent[t.ID] = now
			return nil
		}
	}
	_ = u.conn.Close()
	u.conn = nil
	u.writer = nil
	return fmt.Errorf("aprs: send for %s failed, connection dropped", t.ID)
}

// objectReport builds a timestamped APRS object for the sonde.
func (u *Uploader) objectReport(t *telemetry.Telemetry) string {
	name := u.cfg.ObjectName
	if name == "" || name == "<id>" {
		name = t.ID
	}
	if len(name) > 9 {
		name = name[:9]
	}
	name = name + strings.Repeat(" ", 9-len(name))

	comment := u.cfg.Comment
	if comment == "" {
		comment = fmt.Sprintf("%s %.3f MHz", t.Type, t.Frequency/1e6)
	}

	return fmt.Sprintf("%s>APRS,TCPIP*:;%s*%s%s/%03.0f/%03.0f/A=%06.0f %s",
		u.cfg.Callsign, name,
		t.Time.UTC().Format("021504z"),
		latLon(t.Latitude, t.Longitude),
		t.Heading, t.Velocity*1.944, // m/s to knots
		t.Altitude*3.2808,           // metres to feet
		comment)
}

func latLon(lat, lon float64) string {
	latHemi, lonHemi := "N", "E"
	if lat < 0 {
		latHemi = "S"
		lat = -lat
	}
	if lon < 0 {
		lonHemi = "W"
		lon = -lon
	}
	latDeg := math.Floor(lat)
	lonDeg := math.Floor(lon)
	return fmt.Sprintf("%02.0f%05.2f%s/%03.0f%05.2f%sO",
		latDeg, (lat-latDeg)*60, latHemi,
		lonDeg, (lon-lonDeg)*60, lonHemi)
}

// Close disconnects from APRS-IS.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		err := u.conn.Close()
		u.conn = nil
		u.writer = nil
		return err
	}
	return nil
}
