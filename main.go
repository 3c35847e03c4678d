// Program sonderx schedules a pool of SDR receivers between spectrum
// scanning and dedicated radiosonde decoding, validates decoded telemetry,
// and fans accepted frames out to the configured exporters (per-sonde logs,
// MQTT, SQLite archive, APRS-IS, notifications, OziMux UDP, rotator).
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sonderx/config"
	"sonderx/decoder"
	"sonderx/exporter"
	"sonderx/exporter/aprs"
	"sonderx/exporter/archive"
	"sonderx/exporter/mqttpub"
	"sonderx/exporter/notify"
	"sonderx/exporter/ozimux"
	"sonderx/exporter/rotator"
	"sonderx/exporter/telemlog"
	"sonderx/scanner"
	"sonderx/telemetry"
)

const (
	defaultConfigPath = "station.yaml"
	envConfigPath     = "SONDERX_CONFIG"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sonderx: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv(envConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonderx: file logging disabled: %v\n", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer func() { _ = fanout.Close() }()

	cfg.Print()

	// A configured frequency override pins the scan whitelist to one channel.
	if cfg.Override.FrequencyHz != 0 {
		cfg.Scan.Whitelist = []float64{cfg.Override.FrequencyHz}
	}

	exporters, err := buildExporters(cfg)
	if err != nil {
		return err
	}

	pool := NewDevicePool(cfg.SDR)
	blocks := newBlockList(time.Duration(cfg.Decode.BlockTimeMin) * time.Minute)
	queue := newResultQueue()
	filter := newTelemetryFilter(cfg)

	sched := NewScheduler(SchedulerConfig{
		Pool:         pool,
		Blocks:       blocks,
		Queue:        queue,
		Exporters:    exporters,
		SpacingLimit: cfg.Decode.SpacingLimitHz,
		NewScanner:   scannerFactory(cfg, queue),
		NewDecoder:   decoderFactory(cfg, exporters, filter),
		TaskEvent:    func() { log.Printf("Task Manager: registry updated") },
	})

	stopStatus := make(chan struct{})
	go statusLoop(sched, queue, exporters, stopStatus)

	// A configured type override seeds the queue so a decoder starts on the
	// first tick without waiting for a scan.
	if cfg.Override.Type != "" && cfg.Override.FrequencyHz != 0 {
		queue.Push([]telemetry.Detection{{Frequency: cfg.Override.FrequencyHz, Type: cfg.Override.Type}})
		sched.HandleScanResults()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runTimeout <-chan time.Time
	if cfg.Timing.RunTimeoutMin > 0 {
		runTimeout = time.After(time.Duration(cfg.Timing.RunTimeoutMin) * time.Minute)
	}

	ticker := time.NewTicker(time.Duration(cfg.Timing.TickSec) * time.Second)
	defer ticker.Stop()

	log.Printf("sonderx started (tick %ds, %d SDRs)", cfg.Timing.TickSec, pool.Size())
	for {
		select {
		case <-ticker.C:
			sched.CleanTaskList()
			sched.HandleScanResults()
		case sig := <-sigChan:
			log.Printf("Received %s, shutting down.", sig)
			close(stopStatus)
			sched.StopAll()
			return nil
		case <-runTimeout:
			log.Printf("Shutdown time reached. Closing.")
			close(stopStatus)
			sched.StopAll()
			return nil
		}
	}
}

// scannerFactory builds scan workers bound to the configured detector command.
func scannerFactory(cfg *config.Config, queue *resultQueue) func(dev *SDR) (scanTask, error) {
	return func(dev *SDR) (scanTask, error) {
		detector := &scanner.CommandDetector{
			Path: cfg.Scan.DetectCommand,
			Args: detectorArgs(cfg, dev),
		}
		return scanner.New(scanner.Config{
			Device:    dev.Serial,
			ScanDwell: time.Duration(cfg.Scan.ScanDwellSec) * time.Second,
			BlockTTL:  time.Duration(cfg.Decode.BlockTimeMin) * time.Minute,
			Blacklist: cfg.Scan.Blacklist,
			Detect:    detector.Detect,
			Callback:  queue.Push,
		})
	}
}

// decoderFactory builds decode workers bound to the configured decode chain.
func decoderFactory(cfg *config.Config, exporters *exporter.Set, filter func(*telemetry.Telemetry) bool) func(dev *SDR, freq float64, sondeType string) (sondeTask, error) {
	return func(dev *SDR, freq float64, sondeType string) (sondeTask, error) {
		source := &decoder.ExecSource{
			Path: cfg.Decode.DecodeCommand,
			Args: decodeArgs(cfg, dev, freq, sondeType),
		}
		return decoder.New(decoder.Config{
			Type:      sondeType,
			Frequency: freq,
			Device:    dev.Serial,
			Timeout:   time.Duration(cfg.Decode.RXTimeoutSec) * time.Second,
			Filter:    filter,
			Exporters: exporters,
			Source:    source,
		})
	}
}

// detectorArgs expands the configured detector argument templates for a device.
func detectorArgs(cfg *config.Config, dev *SDR) []string {
	repl := map[string]string{
		"{device}":    dev.Serial,
		"{gain}":      fmt.Sprintf("%.1f", dev.Gain),
		"{ppm}":       fmt.Sprintf("%d", dev.PPM),
		"{bias}":      boolArg(dev.Bias),
		"{min_freq}":  fmt.Sprintf("%.0f", cfg.Scan.MinFreq),
		"{max_freq}":  fmt.Sprintf("%.0f", cfg.Scan.MaxFreq),
		"{step}":      fmt.Sprintf("%.0f", cfg.Scan.SearchStep),
		"{snr}":       fmt.Sprintf("%.1f", cfg.Scan.SNRThreshold),
		"{dwell}":     fmt.Sprintf("%d", cfg.Scan.DetectDwellSec),
		"{max_peaks}": fmt.Sprintf("%d", cfg.Scan.MaxPeaks),
		"{whitelist}": joinFreqs(cfg.Scan.Whitelist),
		"{greylist}":  joinFreqs(cfg.Scan.Greylist),
	}
	return expandArgs(cfg.Scan.DetectArguments, repl)
}

// joinFreqs renders a frequency list as comma-separated integer Hz for
// detector command lines.
func joinFreqs(freqs []float64) string {
	parts := make([]string, len(freqs))
	for i, f := range freqs {
		parts[i] = fmt.Sprintf("%.0f", f)
	}
	return strings.Join(parts, ",")
}

// decodeArgs expands the configured decode-chain argument templates.
func decodeArgs(cfg *config.Config, dev *SDR, freq float64, sondeType string) []string {
	bare, inverted := telemetry.StripInversion(sondeType)
	repl := map[string]string{
		"{device}":   dev.Serial,
		"{gain}":     fmt.Sprintf("%.1f", dev.Gain),
		"{ppm}":      fmt.Sprintf("%d", dev.PPM),
		"{bias}":     boolArg(dev.Bias),
		"{freq}":     fmt.Sprintf("%.0f", freq),
		"{type}":     string(bare),
		"{inverted}": boolArg(inverted),
	}
	if cfg.Decode.Experimental[string(bare)] {
		repl["{experimental}"] = "1"
	} else {
		repl["{experimental}"] = "0"
	}
	return expandArgs(cfg.Decode.DecodeArguments, repl)
}

func expandArgs(args []string, repl map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		for k, v := range repl {
			a = strings.ReplaceAll(a, k, v)
		}
		out[i] = a
	}
	return out
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// buildExporters constructs the enabled sinks in a fixed registration order.
func buildExporters(cfg *config.Config) (*exporter.Set, error) {
	set := &exporter.Set{}

	if cfg.Exporters.TelemetryLog.Enabled {
		l, err := telemlog.New(cfg.Exporters.TelemetryLog.Dir)
		if err != nil {
			return nil, err
		}
		set.Register("telemetry_log", l)
	}
	if cfg.Exporters.Notify.Enabled {
		n, err := notify.New(cfg.Exporters.Notify)
		if err != nil {
			return nil, err
		}
		set.Register("notify", n)
	}
	if cfg.Exporters.MQTT.Enabled {
		m, err := mqttpub.New(cfg.Exporters.MQTT.Broker, cfg.Exporters.MQTT.Port, cfg.Exporters.MQTT.Topic)
		if err != nil {
			return nil, err
		}
		set.Register("mqtt", m)
	}
	if cfg.Exporters.Archive.Enabled {
		a, err := archive.New(cfg.Exporters.Archive)
		if err != nil {
			return nil, err
		}
		set.Register("archive", a)
	}
	if cfg.Exporters.APRS.Enabled {
		u, err := aprs.New(cfg.Exporters.APRS)
		if err != nil {
			return nil, err
		}
		set.Register("aprs", u)
	}
	if cfg.Exporters.Ozimux.Enabled {
		o, err := ozimux.New(cfg.Exporters.Ozimux)
		if err != nil {
			return nil, err
		}
		set.Register("ozimux", o)
	}
	if cfg.Exporters.Rotator.Enabled {
		r, err := rotator.New(cfg.Exporters.Rotator, telemetry.Position{
			Latitude:  cfg.Station.Latitude,
			Longitude: cfg.Station.Longitude,
			Altitude:  cfg.Station.Altitude,
		})
		if err != nil {
			return nil, err
		}
		set.Register("rotator", r)
	}
	return set, nil
}
