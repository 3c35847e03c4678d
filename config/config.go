// Package config loads the receive-station configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete station configuration
type Config struct {
	Station   StationConfig   `yaml:"station"`
	SDR       []SDRConfig     `yaml:"sdr"`
	Scan      ScanConfig      `yaml:"scan"`
	Decode    DecodeConfig    `yaml:"decode"`
	Filter    FilterConfig    `yaml:"filter"`
	Exporters ExportersConfig `yaml:"exporters"`
	Logging   LoggingConfig   `yaml:"logging"`
	Timing    TimingConfig    `yaml:"timing"`
	Override  OverrideConfig  `yaml:"override"`
}

// StationConfig contains the station identity and position.
// A zero lat/lon means "no station position configured" and disables
// the telemetry radius check.
type StationConfig struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lon"`
	Altitude  float64 `yaml:"alt"`
}

// SDRConfig describes one receiver device.
type SDRConfig struct {
	Serial string  `yaml:"serial"`
	Gain   float64 `yaml:"gain"`
	PPM    int     `yaml:"ppm"`
	Bias   bool    `yaml:"bias"`
}

// ScanConfig contains spectrum scanner settings. Frequencies are in Hz.
type ScanConfig struct {
	MinFreq         float64   `yaml:"min_freq"`
	MaxFreq         float64   `yaml:"max_freq"`
	SearchStep      float64   `yaml:"search_step"`
	Whitelist       []float64 `yaml:"whitelist"`
	Greylist        []float64 `yaml:"greylist"`
	Blacklist       []float64 `yaml:"blacklist"`
	SNRThreshold    float64   `yaml:"snr_threshold"`
	ScanDwellSec    int       `yaml:"scan_dwell_s"`
	DetectDwellSec  int       `yaml:"detect_dwell_s"`
	MaxPeaks        int       `yaml:"max_peaks"`
	DetectCommand   string    `yaml:"detect_command"`
	DetectArguments []string  `yaml:"detect_args"`
}

// DecodeConfig contains decoder lifecycle and arbitration settings.
type DecodeConfig struct {
	RXTimeoutSec    int             `yaml:"rx_timeout_s"`
	SpacingLimitHz  float64         `yaml:"spacing_limit_hz"`
	BlockTimeMin    int             `yaml:"block_time_min"`
	Experimental    map[string]bool `yaml:"experimental"`
	DecodeCommand   string          `yaml:"decode_command"`
	DecodeArguments []string        `yaml:"decode_args"`
}

// FilterConfig contains telemetry validation caps.
type FilterConfig struct {
	MaxAltitude float64 `yaml:"max_altitude"`
	MaxRadiusKM float64 `yaml:"max_radius_km"`
}

// ExportersConfig enables and configures the telemetry sinks.
type ExportersConfig struct {
	TelemetryLog TelemetryLogConfig `yaml:"telemetry_log"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Archive      ArchiveConfig      `yaml:"archive"`
	APRS         APRSConfig         `yaml:"aprs"`
	Notify       NotifyConfig       `yaml:"notify"`
	Ozimux       OzimuxConfig       `yaml:"ozimux"`
	Rotator      RotatorConfig      `yaml:"rotator"`
}

// TelemetryLogConfig contains per-sonde log file settings.
type TelemetryLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MQTTConfig contains telemetry MQTT publish settings.
type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// ArchiveConfig contains SQLite telemetry archive settings.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DBPath          string `yaml:"db_path"`
	QueueSize       int    `yaml:"queue_size"`
	BatchSize       int    `yaml:"batch_size"`
	BatchIntervalMS int    `yaml:"batch_interval_ms"`
	BusyTimeoutMS   int    `yaml:"busy_timeout_ms"`
	RetentionDays   int    `yaml:"retention_days"`
}

// APRSConfig contains APRS-IS position report settings.
type APRSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	Callsign   string `yaml:"callsign"`
	Passcode   string `yaml:"passcode"`
	ObjectName string `yaml:"object_name"` // "<id>" substitutes the sonde serial
	Comment    string `yaml:"comment"`
	RateSec    int    `yaml:"rate_s"`
}

// NotifyConfig contains new-sonde notification settings.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SMTPServer string `yaml:"smtp_server"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	Subject    string `yaml:"subject"`
	SeenDBPath string `yaml:"seen_db_path"`
	SeenTTLHrs int    `yaml:"seen_ttl_h"`
}

// OzimuxConfig contains OziMux / payload summary UDP output settings.
type OzimuxConfig struct {
	Enabled     bool `yaml:"enabled"`
	OziPort     int  `yaml:"ozi_port"`
	SummaryPort int  `yaml:"summary_port"`
}

// RotatorConfig contains rotctld antenna rotator settings.
type RotatorConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	UpdateSec    int     `yaml:"update_s"`
	ThresholdDeg float64 `yaml:"threshold_deg"`
}

// LoggingConfig contains system log file settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// TimingConfig contains control-loop cadence and optional run timeout.
type TimingConfig struct {
	TickSec       int `yaml:"tick_s"`
	RunTimeoutMin int `yaml:"run_timeout_min"`
}

// OverrideConfig pins the station to a single frequency/type, bypassing the
// scan whitelist and immediately starting a decoder on startup.
type OverrideConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz"`
	Type        string  `yaml:"type"`
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if len(cfg.SDR) == 0 {
		return nil, fmt.Errorf("no sdr devices configured")
	}
	if cfg.Override.FrequencyHz == 0 && cfg.Scan.MinFreq >= cfg.Scan.MaxFreq {
		return nil, fmt.Errorf("scan range is empty: min_freq %.0f >= max_freq %.0f", cfg.Scan.MinFreq, cfg.Scan.MaxFreq)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timing.TickSec <= 0 {
		c.Timing.TickSec = 2
	}
	if c.Decode.RXTimeoutSec <= 0 {
		c.Decode.RXTimeoutSec = 180
	}
	if c.Decode.BlockTimeMin <= 0 {
		c.Decode.BlockTimeMin = 60
	}
	if c.Decode.SpacingLimitHz <= 0 {
		c.Decode.SpacingLimitHz = 10000
	}
	if c.Filter.MaxAltitude <= 0 {
		c.Filter.MaxAltitude = 50000
	}
	if c.Filter.MaxRadiusKM <= 0 {
		c.Filter.MaxRadiusKM = 1000
	}
	if c.Scan.ScanDwellSec <= 0 {
		c.Scan.ScanDwellSec = 20
	}
	if c.Scan.DetectDwellSec <= 0 {
		c.Scan.DetectDwellSec = 5
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Station: %s (%.4f, %.4f, %.0fm)\n", c.Station.Name, c.Station.Latitude, c.Station.Longitude, c.Station.Altitude)
	serials := make([]string, 0, len(c.SDR))
	for _, s := range c.SDR {
		serials = append(serials, s.Serial)
	}
	fmt.Printf("SDRs: %d (%s)\n", len(c.SDR), strings.Join(serials, ", "))
	fmt.Printf("Scan: %.3f-%.3f MHz, SNR threshold %.1f dB\n", c.Scan.MinFreq/1e6, c.Scan.MaxFreq/1e6, c.Scan.SNRThreshold)
	fmt.Printf("Decode: rx timeout %ds, spacing %.1f kHz, block %dm\n", c.Decode.RXTimeoutSec, c.Decode.SpacingLimitHz/1e3, c.Decode.BlockTimeMin)
	if c.Exporters.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (topic: %s)\n", c.Exporters.MQTT.Broker, c.Exporters.MQTT.Port, c.Exporters.MQTT.Topic)
	}
	if c.Exporters.Archive.Enabled {
		fmt.Printf("Archive: %s\n", c.Exporters.Archive.DBPath)
	}
	if c.Exporters.APRS.Enabled {
		fmt.Printf("APRS-IS: %s:%d (as %s)\n", c.Exporters.APRS.Server, c.Exporters.APRS.Port, c.Exporters.APRS.Callsign)
	}
	if c.Override.FrequencyHz != 0 {
		fmt.Printf("Override: %.3f MHz %s\n", c.Override.FrequencyHz/1e6, c.Override.Type)
	}
}
