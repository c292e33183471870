package rules

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// Rule identifiers carried on emitted flags.
const (
	RuleNightLAeqExceed = "night_LAeq_exceed"
	RuleFlickerHighRisk = "flicker_high_risk"
	RuleIncompleteData  = "incomplete_data"
)

// Severity grades a flag.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Evidence ties a flag back to the records and metric values that raised it.
type Evidence struct {
	Indices []int              `json:"indices,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Flag is one rule finding over a session.
type Flag struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
	Evidence Evidence `json:"evidence"`
}

// NoiseSummary aggregates the LAeq rule over a session.
type NoiseSummary struct {
	LimitDB       float64 `json:"limit_db"`
	NightMinutes  int     `json:"night_minutes"`
	NightOver     []int   `json:"night_over,omitempty"`
	ExceedancePct float64 `json:"exceedance_pct"`
	P50LAeqDB     float64 `json:"p50_laeq_db"`
	P90LAeqDB     float64 `json:"p90_laeq_db"`
	Skipped       []int   `json:"skipped,omitempty"`
}

// FlickerSummary aggregates the IEEE 1789 rule over a session.
type FlickerSummary struct {
	Evaluated int     `json:"evaluated"`
	LowRisk   []int   `json:"low_risk,omitempty"`
	HighRisk  []int   `json:"high_risk,omitempty"`
	Uncovered []int   `json:"uncovered,omitempty"`
	P50ModPct float64 `json:"p50_mod_percent"`
	P90ModPct float64 `json:"p90_mod_percent"`
	Skipped   []int   `json:"skipped,omitempty"`
}

// Result is the deterministic outcome of evaluating one session. Running the
// evaluator twice over the same inputs yields identical results.
type Result struct {
	NMinutes int            `json:"n_minutes"`
	Locale   string         `json:"locale"`
	Profile  string         `json:"profile"`
	Flags    []Flag         `json:"flags"`
	Noise    NoiseSummary   `json:"noise"`
	Flicker  FlickerSummary `json:"flicker"`
}

// Evaluate applies the profile to an ordered session of payloads under the
// given locale. The noise and flicker rules are independent and run
// concurrently; session aggregation joins both before flags are assembled.
// A record missing the descriptors a rule needs is skipped for that rule and
// the skip is surfaced as incomplete-data evidence, never silently dropped.
func Evaluate(payloads []minute.Payload, p *Profile, localeKey string) (*Result, error) {
	locale, err := p.Locale(localeKey)
	if err != nil {
		return nil, err
	}

	res := &Result{
		NMinutes: len(payloads),
		Locale:   localeKey,
		Profile:  p.Name,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Noise = evaluateNoise(payloads, locale)
	}()
	go func() {
		defer wg.Done()
		res.Flicker = evaluateFlicker(payloads, p)
	}()
	wg.Wait()

	res.Flags = assembleFlags(res, p, locale)
	return res, nil
}

func evaluateNoise(payloads []minute.Payload, locale Locale) NoiseSummary {
	sum := NoiseSummary{LimitDB: locale.LAeqLimitDB}

	var laeq []float64
	for _, p := range payloads {
		if p.Audio == nil {
			sum.Skipped = append(sum.Skipped, p.Idx)
			continue
		}
		laeq = append(laeq, p.Audio.LAeqDB)
		local := p.TS.In(locale.Location())
		if !locale.NightHour(local.Hour()) {
			continue
		}
		sum.NightMinutes++
		if p.Audio.LAeqDB > locale.LAeqLimitDB {
			sum.NightOver = append(sum.NightOver, p.Idx)
		}
	}
	if sum.NightMinutes > 0 {
		sum.ExceedancePct = 100 * float64(len(sum.NightOver)) / float64(sum.NightMinutes)
	}
	sum.P50LAeqDB = percentile(laeq, 0.50)
	sum.P90LAeqDB = percentile(laeq, 0.90)
	return sum
}

func evaluateFlicker(payloads []minute.Payload, p *Profile) FlickerSummary {
	var sum FlickerSummary
	var mods []float64
	for _, pl := range payloads {
		if pl.Light == nil {
			sum.Skipped = append(sum.Skipped, pl.Idx)
			continue
		}
		risk, covered := p.ClassifyFlicker(pl.Light.TLMFreqHz, pl.Light.TLMModPercent)
		if !covered {
			sum.Uncovered = append(sum.Uncovered, pl.Idx)
			continue
		}
		sum.Evaluated++
		mods = append(mods, pl.Light.TLMModPercent)
		switch risk {
		case RiskLow:
			sum.LowRisk = append(sum.LowRisk, pl.Idx)
		case RiskHigh:
			sum.HighRisk = append(sum.HighRisk, pl.Idx)
		}
	}
	sum.P50ModPct = percentile(mods, 0.50)
	sum.P90ModPct = percentile(mods, 0.90)
	return sum
}

// assembleFlags builds the flag list in a fixed order so results are
// reproducible byte for byte.
func assembleFlags(res *Result, p *Profile, locale Locale) []Flag {
	flags := []Flag{}

	if res.Noise.NightMinutes > 0 && res.Noise.ExceedancePct > p.NightExceedancePct {
		flags = append(flags, Flag{
			RuleID:   RuleNightLAeqExceed,
			Severity: SeverityHigh,
			Detail: fmt.Sprintf("LAeq above %.0f dB in %.1f%% of night minutes (threshold %.1f%%)",
				locale.LAeqLimitDB, res.Noise.ExceedancePct, p.NightExceedancePct),
			Evidence: Evidence{
				Indices: res.Noise.NightOver,
				Metrics: map[string]float64{
					"exceedance_pct": res.Noise.ExceedancePct,
					"limit_db":       locale.LAeqLimitDB,
				},
			},
		})
	}

	if len(res.Flicker.HighRisk) > 0 {
		flags = append(flags, Flag{
			RuleID:   RuleFlickerHighRisk,
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("%d minutes above the IEEE 1789 low-risk ceiling", len(res.Flicker.HighRisk)),
			Evidence: Evidence{
				Indices: res.Flicker.HighRisk,
				Metrics: map[string]float64{
					"p90_mod_percent": res.Flicker.P90ModPct,
				},
			},
		})
	}

	skipped := append(append([]int{}, res.Noise.Skipped...), res.Flicker.Skipped...)
	skipped = append(skipped, res.Flicker.Uncovered...)
	if len(skipped) > 0 {
		sort.Ints(skipped)
		skipped = dedupeInts(skipped)
		flags = append(flags, Flag{
			RuleID:   RuleIncompleteData,
			Severity: SeverityInfo,
			Detail:   fmt.Sprintf("%d minutes lacked the descriptors or curve coverage a rule needed", len(skipped)),
			Evidence: Evidence{Indices: skipped},
		})
	}
	return flags
}

func dedupeInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// percentile computes the q-th quantile (0..1) of vals, or 0 for an empty
// slice.
func percentile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}
