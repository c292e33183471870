package rules

// Risk is the flicker-risk classification of one record against the profile
// curve.
type Risk int

const (
	// RiskNone: modulation at or below the no-risk ceiling, or no detected
	// flicker at all.
	RiskNone Risk = iota
	// RiskLow: above the no-risk ceiling but at or below m_max.
	RiskLow
	// RiskHigh: above m_max.
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskNone:
		return "no-risk"
	case RiskLow:
		return "low-risk"
	case RiskHigh:
		return "high-risk"
	default:
		return "unknown"
	}
}

func ceilingAt(segs []Segment, f float64) (float64, bool) {
	for _, s := range segs {
		if s.contains(f) {
			return s.Ceiling(f), true
		}
	}
	return 0, false
}

// ClassifyFlicker places a measurement on the profile's risk curve.
// Frequency 0 (no detected flicker) is always no-risk. Boundary values
// belong to the safer zone: a modulation exactly equal to a ceiling
// classifies below it, so the float comparisons tie-break conservatively
// and deterministically.
//
// The second return value is false when f > 0 lies outside every curve
// segment; such records cannot be classified and are reported as incomplete
// coverage by the evaluator.
func (p *Profile) ClassifyFlicker(freqHz, modPercent float64) (Risk, bool) {
	if freqHz <= 0 {
		return RiskNone, true
	}
	noRisk, okNo := ceilingAt(p.FlickerNoRisk, freqHz)
	mMax, okLow := ceilingAt(p.FlickerLowRisk, freqHz)
	if !okNo || !okLow {
		return RiskNone, false
	}
	switch {
	case modPercent <= noRisk:
		return RiskNone, true
	case modPercent <= mMax:
		return RiskLow, true
	default:
		return RiskHigh, true
	}
}
