package main

import (
	"reflect"
	"testing"

	"sonderx/config"
)

func TestDetectorArgsSubstitution(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scan.MinFreq = 400.05e6
	cfg.Scan.MaxFreq = 403.0e6
	cfg.Scan.SNRThreshold = 10
	cfg.Scan.DetectDwellSec = 5
	cfg.Scan.DetectArguments = []string{"-d", "{device}", "-g", "{gain}", "-f", "{min_freq}:{max_freq}", "-t", "{dwell}"}

	dev := &SDR{Serial: "00000001", Gain: 49.6, PPM: 0}
	got := detectorArgs(cfg, dev)
	want := []string{"-d", "00000001", "-g", "49.6", "-f", "400050000:403000000", "-t", "5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("detectorArgs = %v, want %v", got, want)
	}
}

func TestDecodeArgsStripsInversionMarker(t *testing.T) {
	cfg := &config.Config{}
	cfg.Decode.DecodeArguments = []string{"{type}", "{freq}", "{inverted}", "{device}", "{bias}"}

	dev := &SDR{Serial: "00000002", Bias: true}
	got := decodeArgs(cfg, dev, 402.5e6, "-RS41")
	want := []string{"RS41", "402500000", "1", "00000002", "1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeArgs = %v, want %v", got, want)
	}

	got = decodeArgs(cfg, dev, 402.5e6, "RS41")
	if got[2] != "0" {
		t.Fatalf("inverted flag = %q for an upright detection, want 0", got[2])
	}
}

func TestExpandArgsReplacesRepeats(t *testing.T) {
	got := expandArgs([]string{"{device}-{device}", "plain"}, map[string]string{"{device}": "X"})
	want := []string{"X-X", "plain"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expandArgs = %v, want %v", got, want)
	}
}

func TestExpandArgsValueContainingPlaceholder(t *testing.T) {
	// A value that embeds its own placeholder must be substituted once,
	// not re-expanded until the process hangs.
	got := expandArgs([]string{"{device}"}, map[string]string{"{device}": "sdr-{device}"})
	want := []string{"sdr-{device}"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expandArgs = %v, want %v", got, want)
	}
}
