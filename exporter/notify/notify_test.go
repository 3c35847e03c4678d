package notify

import (
	"path/filepath"
	"testing"

	"sonderx/config"
	"sonderx/telemetry"
)

func testFrame(id string) *telemetry.Telemetry {
	return &telemetry.Telemetry{
		ID:        id,
		Latitude:  -34.5,
		Longitude: 138.5,
		Altitude:  12000,
		Type:      telemetry.TypeRS41,
		Frequency: 402.5e6,
	}
}

func newTestNotifier(t *testing.T, dbPath string) (*Notifier, *[]string) {
	t.Helper()
	n, err := New(config.NotifyConfig{
		Enabled:    true,
		SeenDBPath: dbPath,
		SeenTTLHrs: 24,
	})
	if err != nil {
		t.Fatal(err)
	}
	var sent []string
	n.send = func(subject, body string) error {
		sent = append(sent, subject)
		return nil
	}
	return n, &sent
}

func TestNotifyOncePerSerial(t *testing.T) {
	n, sent := newTestNotifier(t, filepath.Join(t.TempDir(), "seen"))
	defer n.Close()

	if err := n.Add(testFrame("S2340123")); err != nil {
		t.Fatal(err)
	}
	if err := n.Add(testFrame("S2340123")); err != nil {
		t.Fatal(err)
	}
	if err := n.Add(testFrame("S2340999")); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(*sent))
	}
}

func TestNotifySkipsEmptySerial(t *testing.T) {
	n, sent := newTestNotifier(t, filepath.Join(t.TempDir(), "seen"))
	defer n.Close()

	if err := n.Add(testFrame("")); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 0 {
		t.Fatal("notified for a frame without a serial")
	}
}

func TestNotifySeenSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen")

	n, sent := newTestNotifier(t, dbPath)
	if err := n.Add(testFrame("S2340123")); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d notifications before restart, want 1", len(*sent))
	}

	n, sent = newTestNotifier(t, dbPath)
	defer n.Close()
	if err := n.Add(testFrame("S2340123")); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 0 {
		t.Fatal("re-notified for a serial already seen before restart")
	}
}

func TestNotifyRejectsEmptyStorePath(t *testing.T) {
	if _, err := New(config.NotifyConfig{SeenDBPath: " "}); err == nil {
		t.Fatal("empty seen store path accepted")
	}
}
