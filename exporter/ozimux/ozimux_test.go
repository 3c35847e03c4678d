package ozimux

import (
	"net"
	"strings"
	"testing"
	"time"

	"sonderx/config"
	"sonderx/telemetry"
)

func TestSenderEmitsWaypointSentence(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	s, err := New(config.OzimuxConfig{Enabled: true, OziPort: port})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	err = s.Add(&telemetry.Telemetry{
		ID:        "S2340123",
		Time:      time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC),
		Latitude:  -34.92850,
		Longitude: 138.60070,
		Altitude:  12000,
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := listener.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(string(buf[:n]))
	want := "TELEMETRY,12:34:56,-34.92850,138.60070,12000.0"
	if got != want {
		t.Fatalf("sentence = %q, want %q", got, want)
	}
}

func TestSenderWithNoPortsIsInert(t *testing.T) {
	s, err := New(config.OzimuxConfig{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&telemetry.Telemetry{ID: "S2340123"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
