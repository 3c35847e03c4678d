// Package ozimux emits positions over UDP for mapping clients: an OziMux
// waypoint sentence per frame, and optionally a broadcast JSON payload
// summary for other listeners on the LAN.
package ozimux

import (
	"fmt"
	"net"

	jsoniter "github.com/json-iterator/go"

	"sonderx/config"
	"sonderx/telemetry"
)

var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender pushes frames to the configured UDP ports. Either output may be
// disabled by a zero port.
type Sender struct {
	oziConn     net.Conn
	summaryConn net.Conn
}

// summary is the broadcast payload-summary JSON shape.
type summary struct {
	Type      string  `json:"type"`
	Callsign  string  `json:"callsign"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Time      string  `json:"time"`
	Model     string  `json:"model"`
	Frequency float64 `json:"freq"`
}

// New opens the UDP sockets for the enabled outputs.
func New(cfg config.OzimuxConfig) (*Sender, error) {
	s := &Sender{}
	if cfg.OziPort > 0 {
		conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", cfg.OziPort))
		if err != nil {
			return nil, fmt.Errorf("ozimux: ozi socket: %w", err)
		}
		s.oziConn = conn
	}
	if cfg.SummaryPort > 0 {
		conn, err := net.Dial("udp", fmt.Sprintf("255.255.255.255:%d", cfg.SummaryPort))
		if err != nil {
			if s.oziConn != nil {
				_ = s.oziConn.Close()
			}
			return nil, fmt.Errorf("ozimux: summary socket: %w", err)
		}
		s.summaryConn = conn
	}
	return s, nil
}

// Add sends one frame to each enabled output.
func (s *Sender) Add(t *telemetry.Telemetry) error {
	if s.oziConn != nil {
		sentence := fmt.Sprintf("TELEMETRY,%s,%.5f,%.5f,%.1f\n",
			t.Time.UTC().Format("15:04:05"), t.Latitude, t.Longitude, t.Altitude)
		if _, err := s.oziConn.Write([]byte(sentence)); err != nil {
			return fmt.Errorf("ozimux: ozi send: %w", err)
		}
	}
	if s.summaryConn != nil {
		payload, err := fastjson.Marshal(summary{
			Type:      "PAYLOAD_SUMMARY",
			Callsign:  t.ID,
			Latitude:  t.Latitude,
			Longitude: t.Longitude,
			Altitude:  t.Altitude,
			Speed:     t.Velocity * 3.6, // m/s to km/h
			Heading:   t.Heading,
			Time:      t.Time.UTC().Format("15:04:05"),
			Model:     string(t.Type),
			Frequency: t.Frequency / 1e6,
		})
		if err != nil {
			return fmt.Errorf("ozimux: marshal summary: %w", err)
		}
		if _, err := s.summaryConn.Write(payload); err != nil {
			return fmt.Errorf("ozimux: summary send: %w", err)
		}
	}
	return nil
}

// Close closes the UDP sockets.
func (s *Sender) Close() error {
	var firstErr error
	if s.oziConn != nil {
		if err := s.oziConn.Close(); err != nil {
			firstErr = err
		}
	}
	if s.summaryConn != nil {
		if err := s.summaryConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
