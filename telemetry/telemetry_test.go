package telemetry

import "testing"

func TestStripInversion(t *testing.T) {
	cases := []struct {
		code     string
		want     SondeType
		inverted bool
	}{
		{"RS41", TypeRS41, false},
		{"-RS41", TypeRS41, true},
		{"-DFM", TypeDFM, true},
		{"M10", TypeM10, false},
	}
	for _, tc := range cases {
		got, inverted := StripInversion(tc.code)
		if got != tc.want || inverted != tc.inverted {
			t.Errorf("StripInversion(%q) = %q, %v; want %q, %v", tc.code, got, inverted, tc.want, tc.inverted)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, code := range []string{"RS41", "-RS92", "DFM", "-M10", "iMet"} {
		if !Supported(code) {
			t.Errorf("Supported(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"XDATA", "", "-", "LMS6"} {
		if Supported(code) {
			t.Errorf("Supported(%q) = true, want false", code)
		}
	}
}
