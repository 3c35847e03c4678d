// Package notify sends a one-time notification when a sonde serial is seen
// for the first time. Seen serials persist in a Pebble store so a restart
// does not re-notify for sondes already reported.
package notify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"sonderx/config"
	"sonderx/telemetry"
)

const seenPrefix = "s|"

// Notifier is the new-sonde notification exporter.
type Notifier struct {
	cfg     config.NotifyConfig
	seenTTL time.Duration
	db      *pebble.DB
	send    func(subject, body string) error // injectable for tests
}

// New opens (or creates) the seen-serial store and purges expired entries.
func New(cfg config.NotifyConfig) (*Notifier, error) {
	if strings.TrimSpace(cfg.SeenDBPath) == "" {
		return nil, errors.New("notify: seen_db_path is empty")
	}
	ttl := time.Duration(cfg.SeenTTLHrs) * time.Hour
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	db, err := pebble.Open(cfg.SeenDBPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("notify: open seen store %s: %w", cfg.SeenDBPath, err)
	}
	n := &Notifier{cfg: cfg, seenTTL: ttl, db: db}
	n.send = n.sendMail
	if purged, err := n.purgeExpired(); err != nil {
		log.Printf("Notify: seen store purge failed: %v", err)
	} else if purged > 0 {
		log.Printf("Notify: purged %d expired seen entries", purged)
	}
	return n, nil
}

// Add notifies once per serial within the seen TTL.
func (n *Notifier) Add(t *telemetry.Telemetry) error {
	if t.ID == "" {
		return nil
	}
	key := []byte(seenPrefix + t.ID)
	if val, closer, err := n.db.Get(key); err == nil {
		seenAt := decodeTime(val)
		_ = closer.Close()
		if time.Since(seenAt) < n.seenTTL {
			return nil
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("notify: seen lookup %s: %w", t.ID, err)
	}

	if err := n.db.Set(key, encodeTime(time.Now()), pebble.Sync); err != nil {
		return fmt.Errorf("notify: seen store %s: %w", t.ID, err)
	}

	subject := n.cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("New radiosonde: %s", t.ID)
	}
	body := fmt.Sprintf("Sonde %s (%s) detected on %.3f MHz at %.5f, %.5f, %.0f m.",
		t.ID, t.Type, t.Frequency/1e6, t.Latitude, t.Longitude, t.Altitude)
	log.Printf("Notify: new sonde %s (%s) on %.3f MHz", t.ID, t.Type, t.Frequency/1e6)
	if err := n.send(subject, body); err != nil {
		return fmt.Errorf("notify: send for %s: %w", t.ID, err)
	}
	return nil
}

func (n *Notifier) sendMail(subject, body string) error {
	if n.cfg.SMTPServer == "" {
		// Notification without mail config degrades to the log line above.
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.cfg.From, n.cfg.To, subject, body)
	return smtp.SendMail(n.cfg.SMTPServer, nil, n.cfg.From, []string{n.cfg.To}, []byte(msg))
}

// purgeExpired removes seen entries older than the TTL.
func (n *Notifier) purgeExpired() (int, error) {
	iter, err := n.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(seenPrefix),
		UpperBound: []byte(seenPrefix + "\xff"),
	})
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-n.seenTTL)
	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if decodeTime(iter.Value()).Before(cutoff) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			stale = append(stale, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := n.db.Delete(key, pebble.NoSync); err != nil {
			return len(stale), err
		}
	}
	return len(stale), nil
}

// Close closes the seen-serial store.
func (n *Notifier) Close() error {
	return n.db.Close()
}

func encodeTime(t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Unix()))
	return buf[:]
}

func decodeTime(val []byte) time.Time {
	if len(val) != 8 {
		return time.Time{}
	}
	return time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
}
