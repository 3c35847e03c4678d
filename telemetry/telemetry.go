// Package telemetry defines the canonical decoded-frame structure and helpers
// used across the receive pipeline: sonde type classification, worker exit
// states, scan detections, and station/payload geometry.
package telemetry

import (
	"strings"
	"time"
)

// SondeType identifies a radiosonde family.
type SondeType string

const (
	TypeRS41 SondeType = "RS41"
	TypeRS92 SondeType = "RS92"
	TypeDFM  SondeType = "DFM"
	TypeM10  SondeType = "M10"
	TypeIMet SondeType = "iMet"
)

// ValidTypes is the set of sonde families a decoder can be started for.
var ValidTypes = map[SondeType]bool{
	TypeRS41: true,
	TypeRS92: true,
	TypeDFM:  true,
	TypeM10:  true,
	TypeIMet: true,
}

// DriftyTypes are families whose carrier drifts enough that two detections
// within the decoder spacing limit are presumed to be the same transmitter.
var DriftyTypes = map[SondeType]bool{
	TypeDFM: true,
	TypeM10: true,
}

// ExitState is the terminal status a worker reports once it stops running.
type ExitState string

const (
	ExitRunning   ExitState = "Running"
	ExitNormal    ExitState = "Normal"
	ExitEncrypted ExitState = "Encrypted"
	ExitTimeout   ExitState = "Timeout"
	ExitError     ExitState = "Error"
)

// Detection is a single scanner hit: a candidate frequency and the detected
// type code. The type code may carry a leading "-" marker when the signal
// was detected with inverted polarity; StripInversion removes it for
// classification and logging.
type Detection struct {
	Frequency float64 // Hz
	Type      string
}

// StripInversion splits a possibly "-"-prefixed type code into the bare type
// and an inversion flag.
func StripInversion(code string) (SondeType, bool) {
	if strings.HasPrefix(code, "-") {
		return SondeType(code[1:]), true
	}
	return SondeType(code), false
}

// Supported reports whether the (de-marked) type code names a decodable family.
func Supported(code string) bool {
	t, _ := StripInversion(code)
	return ValidTypes[t]
}

// Telemetry is one decoded position frame. Frames are immutable once decoded:
// the filter reads them, then each exporter in turn, and nothing retains them.
// JSON tags match the frame format emitted by the decode chain subprocesses.
type Telemetry struct {
	ID        string    `json:"id"`
	Frame     int64     `json:"frame"`
	Time      time.Time `json:"datetime"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	Sats      int       `json:"sats"`
	HasSats   bool      `json:"-"` // distinguishes a real 0 from "field absent"
	Velocity  float64   `json:"vel_h"`
	Heading   float64   `json:"heading"`
	Temp      float64   `json:"temp"`
	Type      SondeType `json:"type"`
	Frequency float64   `json:"freq"` // Hz, the decoder's tuned frequency
	Encrypted bool      `json:"encrypted"`
}
