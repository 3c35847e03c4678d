package rotator

import "testing"

func TestAngleDelta(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{10, 20, 10},
		{20, 10, 10},
		{350, 10, 20},
		{10, 350, 20},
		{180, 0, 180},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := angleDelta(tc.a, tc.b); got != tc.want {
			t.Errorf("angleDelta(%.0f, %.0f) = %.1f, want %.1f", tc.a, tc.b, got, tc.want)
		}
	}
}
