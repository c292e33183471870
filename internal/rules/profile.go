// Package rules evaluates sequences of minute records against standards-based
// threshold profiles: locale noise limits (WHO-style night exceedance) and an
// IEEE 1789-style flicker-risk curve.
package rules

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/who_ieee.yaml
var defaultProfileYAML []byte

// DefaultProfile returns the built-in WHO/IEEE-style profile. It panics only
// if the embedded document is broken, which is caught by the package tests.
func DefaultProfile() *Profile {
	p, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// ProfileError reports a malformed rule profile. It is fatal: evaluation
// never starts on a broken profile, so no partially-applied compliance claim
// can escape.
type ProfileError struct {
	Reason string
}

func (e *ProfileError) Error() string {
	return "rule profile: " + e.Reason
}

func profileErrf(format string, v ...any) *ProfileError {
	return &ProfileError{Reason: fmt.Sprintf(format, v...)}
}

// Locale holds the noise limits for one locale: the LAeq limit, the quiet
// hours window, and the IANA timezone used to decide which minutes are
// night-time.
type Locale struct {
	LAeqLimitDB float64 `yaml:"laeq_limit_db"`
	QuietHours  [2]int  `yaml:"quiet_hours"`
	Timezone    string  `yaml:"timezone"`

	loc *time.Location
}

// Location returns the loaded timezone for the locale.
func (l Locale) Location() *time.Location {
	return l.loc
}

// NightHour reports whether hour (0-23, locale time) falls inside the quiet
// hours window. A window whose start is after its end wraps across midnight;
// a window with equal bounds covers the whole day.
func (l Locale) NightHour(hour int) bool {
	start, end := l.QuietHours[0], l.QuietHours[1]
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// Segment is one piece of a piecewise flicker ceiling curve. For a frequency
// f inside [FreqMin, FreqMax) the allowed percent modulation is A + B/f.
type Segment struct {
	FreqMin float64 `yaml:"freq_min"`
	FreqMax float64 `yaml:"freq_max"`
	A       float64 `yaml:"a"`
	B       float64 `yaml:"b"`
}

// Ceiling returns the allowed percent modulation at f.
func (s Segment) Ceiling(f float64) float64 {
	return s.A + s.B/f
}

func (s Segment) contains(f float64) bool {
	return f >= s.FreqMin && f < s.FreqMax
}

// Profile is a validated rule profile. It is read-only for the duration of
// an evaluation run.
type Profile struct {
	Name               string
	NightExceedancePct float64
	Locales            map[string]Locale
	// FlickerNoRisk is the no-risk ceiling: at or below it a modulation
	// carries no risk. FlickerLowRisk is the low-risk ceiling m_max; above
	// it a record is high-risk.
	FlickerNoRisk  []Segment
	FlickerLowRisk []Segment
}

// profileDoc is the raw YAML shape before validation.
type profileDoc struct {
	Name               string            `yaml:"name"`
	NightExceedancePct float64           `yaml:"night_exceedance_pct"`
	Locales            map[string]Locale `yaml:"locales"`
	Flicker            struct {
		NoRisk  []Segment `yaml:"no_risk"`
		LowRisk []Segment `yaml:"low_risk"`
	} `yaml:"flicker"`
}

// LoadProfile reads and validates a YAML rule profile from path.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, profileErrf("read %s: %v", path, err)
	}
	return ParseProfile(raw)
}

// ParseProfile validates a YAML rule profile document into a typed Profile.
// All structural problems surface here, before any evaluation runs.
func ParseProfile(raw []byte) (*Profile, error) {
	var doc profileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, profileErrf("parse: %v", err)
	}

	if len(doc.Locales) == 0 {
		return nil, profileErrf("no locales defined")
	}
	if doc.NightExceedancePct < 0 || doc.NightExceedancePct > 100 {
		return nil, profileErrf("night_exceedance_pct %v outside [0,100]", doc.NightExceedancePct)
	}

	locales := make(map[string]Locale, len(doc.Locales))
	for name, loc := range doc.Locales {
		if math.IsNaN(loc.LAeqLimitDB) || math.IsInf(loc.LAeqLimitDB, 0) {
			return nil, profileErrf("locale %q: non-finite laeq_limit_db", name)
		}
		for _, h := range loc.QuietHours {
			if h < 0 || h > 23 {
				return nil, profileErrf("locale %q: quiet hour %d outside 0-23", name, h)
			}
		}
		tz := loc.Timezone
		if tz == "" {
			tz = "UTC"
			loc.Timezone = tz
		}
		tzLoc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, profileErrf("locale %q: unknown timezone %q", name, tz)
		}
		loc.loc = tzLoc
		locales[name] = loc
	}

	noRisk, err := validateSegments("flicker.no_risk", doc.Flicker.NoRisk)
	if err != nil {
		return nil, err
	}
	lowRisk, err := validateSegments("flicker.low_risk", doc.Flicker.LowRisk)
	if err != nil {
		return nil, err
	}

	return &Profile{
		Name:               doc.Name,
		NightExceedancePct: doc.NightExceedancePct,
		Locales:            locales,
		FlickerNoRisk:      noRisk,
		FlickerLowRisk:     lowRisk,
	}, nil
}

func validateSegments(section string, segs []Segment) ([]Segment, error) {
	if len(segs) == 0 {
		return nil, profileErrf("%s: no segments", section)
	}
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.Slice(out, func(i, j int) bool { return out[i].FreqMin < out[j].FreqMin })
	for i, s := range out {
		if s.FreqMin < 0 || s.FreqMax <= s.FreqMin {
			return nil, profileErrf("%s[%d]: bad frequency range [%v, %v)", section, i, s.FreqMin, s.FreqMax)
		}
		for _, v := range []float64{s.A, s.B} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, profileErrf("%s[%d]: non-finite coefficient", section, i)
			}
		}
		if i > 0 && s.FreqMin < out[i-1].FreqMax {
			return nil, profileErrf("%s[%d]: overlaps previous segment", section, i)
		}
	}
	return out, nil
}

// Locale resolves a locale key. A missing locale is a configuration error,
// never a silent default.
func (p *Profile) Locale(key string) (Locale, error) {
	loc, ok := p.Locales[key]
	if !ok {
		return Locale{}, profileErrf("locale %q not defined", key)
	}
	return loc, nil
}
