package answer

import "testing"

func TestGateRelevant(t *testing.T) {
	gate := Gate{Threshold: 0.75}

	cases := []struct {
		name      string
		distances []float64
		want      bool
	}{
		{"no distances", nil, false},
		{"best well inside", []float64{0.2, 0.9, 1.4}, true},
		{"best exactly at threshold", []float64{0.75, 1.1}, true},
		{"best just outside", []float64{0.7501, 1.2}, false},
		{"all far", []float64{1.6, 1.8, 1.9}, false},
		{"best not first", []float64{1.5, 0.3, 1.7}, true},
	}

	for _, tc := range cases {
		if got := gate.Relevant(tc.distances); got != tc.want {
			t.Fatalf("%s: Relevant(%v) = %v, want %v", tc.name, tc.distances, got, tc.want)
		}
	}
}

func TestGateLowerThresholdIsStricter(t *testing.T) {
	distances := []float64{0.5}

	if !(Gate{Threshold: 0.75}).Relevant(distances) {
		t.Fatal("loose gate should accept distance 0.5")
	}
	if (Gate{Threshold: 0.4}).Relevant(distances) {
		t.Fatal("strict gate should reject distance 0.5")
	}
}
