package rules

import "testing"

func TestClassifyFlicker(t *testing.T) {
	p := testProfile(t)

	// Segment [0.1, 90): no-risk ceiling 10/f, low-risk ceiling 0.25 + 20/f.
	// At f=10 that is 1.0 and 2.25 percent modulation.
	cases := []struct {
		name    string
		freq    float64
		mod     float64
		want    Risk
		covered bool
	}{
		{"no detected flicker", 0, 80, RiskNone, true},
		{"negative frequency", -5, 80, RiskNone, true},
		{"well below no-risk", 10, 0.5, RiskNone, true},
		{"exactly on no-risk ceiling", 10, 1.0, RiskNone, true},
		{"between ceilings", 10, 2.0, RiskLow, true},
		{"exactly on low-risk ceiling", 10, 2.25, RiskLow, true},
		{"above low-risk ceiling", 10, 2.26, RiskHigh, true},
		{"mains flicker high", 100, 90, RiskHigh, true},
		{"mains flicker safe", 100, 0.2, RiskNone, true},
		{"above last segment", 5000, 10, RiskNone, false},
		{"below first segment", 0.05, 10, RiskNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			risk, covered := p.ClassifyFlicker(tc.freq, tc.mod)
			if risk != tc.want || covered != tc.covered {
				t.Errorf("ClassifyFlicker(%v, %v) = (%v, %v), want (%v, %v)",
					tc.freq, tc.mod, risk, covered, tc.want, tc.covered)
			}
		})
	}
}

func TestRiskString(t *testing.T) {
	cases := map[Risk]string{
		RiskNone: "no-risk",
		RiskLow:  "low-risk",
		RiskHigh: "high-risk",
		Risk(9):  "unknown",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("Risk(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}

func TestSegmentCeiling(t *testing.T) {
	s := Segment{FreqMin: 0.1, FreqMax: 90, A: 0.25, B: 20}
	if got := s.Ceiling(20); got != 1.25 {
		t.Errorf("Ceiling(20) = %v, want 1.25", got)
	}
	if !s.contains(0.1) {
		t.Error("contains(FreqMin) = false, want true")
	}
	if s.contains(90) {
		t.Error("contains(FreqMax) = true, want false")
	}
}
