package main

import (
	"regexp"
	"strings"
	"time"

	"sonderx/config"
	"sonderx/telemetry"
)

// Serial number formats by family. Vaisala RS41/RS92 serials encode
// year/week/day in fixed digit ranges; DFM serials carry a model prefix.
// M10 and iMet payloads have no stable serial scheme and bypass the check.
var (
	vaisalaSerialRE = regexp.MustCompile(`^[E-Z][0-5]\d[1-7]\d{4}`)
	dfmSerialRE     = regexp.MustCompile(`^DFM[01][5679]-\d{6}`)
)

// newTelemetryFilter builds the validation gate applied to every decoded
// frame before export. Checks run in order and short-circuit at the first
// failure; each rejection is logged with its reason (throttled per sonde and
// reason, since a bad sonde repeats the same failure every frame), acceptance
// is silent.
func newTelemetryFilter(cfg *config.Config) func(t *telemetry.Telemetry) bool {
	station := telemetry.Position{
		Latitude:  cfg.Station.Latitude,
		Longitude: cfg.Station.Longitude,
		Altitude:  cfg.Station.Altitude,
	}
	hasStation := cfg.Station.Latitude != 0.0 || cfg.Station.Longitude != 0.0
	maxAltitude := cfg.Filter.MaxAltitude
	maxRadiusM := cfg.Filter.MaxRadiusKM * 1000
	throttle := newRejectThrottle(30*time.Second, defaultRejectLogMaxKeys)

	return func(t *telemetry.Telemetry) bool {
		// No GPS lock: both coordinates exactly zero.
		if t.Latitude == 0.0 && t.Longitude == 0.0 {
			throttle.Logf("gps:"+t.ID, "Telemetry Filter: zero lat/lon, sonde %s does not have GPS lock.", t.ID)
			return false
		}

		if t.Altitude > maxAltitude {
			throttle.Logf("alt:"+t.ID, "Telemetry Filter: sonde %s breached altitude cap by %.0f m.", t.ID, t.Altitude-maxAltitude)
			return false
		}

		if t.HasSats && t.Sats < 4 {
			throttle.Logf("sats:"+t.ID, "Telemetry Filter: sonde %s can only see %d SVs - discarding position as bad.", t.ID, t.Sats)
			return false
		}

		if hasStation {
			payload := telemetry.Position{Latitude: t.Latitude, Longitude: t.Longitude, Altitude: t.Altitude}
			if dist := telemetry.StraightDistance(station, payload); dist > maxRadiusM {
				throttle.Logf("radius:"+t.ID, "Telemetry Filter: sonde %s breached radius cap by %.1f km.", t.ID, dist/1000-cfg.Filter.MaxRadiusKM)
				return false
			}
		}

		if !validSerial(t) {
			msg := "Telemetry Filter: payload ID " + t.ID + " is invalid."
			if strings.Contains(t.ID, "DFM") {
				msg += " Note: DFM sondes may take a while to get an ID."
			}
			throttle.Logf("serial:"+t.ID, "%s", msg)
			return false
		}
		return true
	}
}

// validSerial checks the serial-number format by family. Vaisala and DFM
// serials must match their patterns; M10 and iMet pass through unchecked.
func validSerial(t *telemetry.Telemetry) bool {
	if vaisalaSerialRE.MatchString(t.ID) || dfmSerialRE.MatchString(t.ID) {
		return true
	}
	ty := string(t.Type)
	return strings.Contains(ty, string(telemetry.TypeM10)) || strings.Contains(ty, string(telemetry.TypeIMet))
}
