package rules

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// nightSession builds n consecutive night minutes (starting 23:00 UTC, well
// inside the test profile's 22-7 quiet window) of which the first over carry
// overDB and the rest underDB.
func nightSession(n, over int, overDB, underDB float64) []minute.Payload {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	out := make([]minute.Payload, n)
	for i := range out {
		db := underDB
		if i < over {
			db = overDB
		}
		out[i] = minute.Payload{
			Idx:      i,
			TS:       base.Add(time.Duration(i) * time.Minute),
			DeviceID: "avsafe-test",
			Audio:    &minute.AudioDescriptors{LAeqDB: db, LCpeakDB: db + 12},
		}
	}
	return out
}

func findFlag(res *Result, ruleID string) *Flag {
	for i := range res.Flags {
		if res.Flags[i].RuleID == ruleID {
			return &res.Flags[i]
		}
	}
	return nil
}

func TestEvaluateNightExceedanceRaised(t *testing.T) {
	p := testProfile(t)

	// 15 of 100 night minutes at 45 dB against a 40 dB limit and a 10%
	// threshold: the noise flag must be raised.
	res, err := Evaluate(nightSession(100, 15, 45, 35), p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if res.NMinutes != 100 {
		t.Errorf("NMinutes = %d, want 100", res.NMinutes)
	}
	if res.Noise.NightMinutes != 100 {
		t.Errorf("NightMinutes = %d, want 100", res.Noise.NightMinutes)
	}
	if res.Noise.ExceedancePct != 15 {
		t.Errorf("ExceedancePct = %v, want 15", res.Noise.ExceedancePct)
	}
	flag := findFlag(res, RuleNightLAeqExceed)
	if flag == nil {
		t.Fatalf("no %s flag in %+v", RuleNightLAeqExceed, res.Flags)
	}
	if flag.Severity != SeverityHigh {
		t.Errorf("severity = %v, want %v", flag.Severity, SeverityHigh)
	}
	if len(flag.Evidence.Indices) != 15 {
		t.Errorf("evidence indices = %d, want 15", len(flag.Evidence.Indices))
	}
	if got := flag.Evidence.Metrics["exceedance_pct"]; got != 15 {
		t.Errorf("evidence exceedance_pct = %v, want 15", got)
	}
}

func TestEvaluateNightExceedanceBelowThreshold(t *testing.T) {
	p := testProfile(t)

	// Only 5% of night minutes exceed: no noise flag.
	res, err := Evaluate(nightSession(100, 5, 45, 35), p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Noise.ExceedancePct != 5 {
		t.Errorf("ExceedancePct = %v, want 5", res.Noise.ExceedancePct)
	}
	if flag := findFlag(res, RuleNightLAeqExceed); flag != nil {
		t.Errorf("unexpected flag: %+v", flag)
	}
}

func TestEvaluateExceedanceAtThresholdNotRaised(t *testing.T) {
	p := testProfile(t)

	// Exactly at the threshold: the comparison is strict, no flag.
	res, err := Evaluate(nightSession(100, 10, 45, 35), p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if flag := findFlag(res, RuleNightLAeqExceed); flag != nil {
		t.Errorf("flag raised at exactly the threshold: %+v", flag)
	}
}

func TestEvaluateDaytimeMinutesIgnored(t *testing.T) {
	p := testProfile(t)

	// All minutes at 14:00 UTC, outside the quiet window: loud or not,
	// there is nothing to exceed.
	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	payloads := make([]minute.Payload, 10)
	for i := range payloads {
		payloads[i] = minute.Payload{
			Idx:      i,
			TS:       base.Add(time.Duration(i) * time.Minute),
			DeviceID: "avsafe-test",
			Audio:    &minute.AudioDescriptors{LAeqDB: 80},
		}
	}
	res, err := Evaluate(payloads, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Noise.NightMinutes != 0 {
		t.Errorf("NightMinutes = %d, want 0", res.Noise.NightMinutes)
	}
	if f := findFlag(res, RuleNightLAeqExceed); f != nil {
		t.Errorf("unexpected %s flag: %+v", RuleNightLAeqExceed, f)
	}
	if f := findFlag(res, RuleFlickerHighRisk); f != nil {
		t.Errorf("unexpected %s flag: %+v", RuleFlickerHighRisk, f)
	}
	// The audio-only minutes still surface as an info flag, since the
	// flicker rule could not see them.
	flag := findFlag(res, RuleIncompleteData)
	if flag == nil {
		t.Fatalf("no %s flag in %+v", RuleIncompleteData, res.Flags)
	}
	if flag.Severity != SeverityInfo {
		t.Errorf("severity = %v, want %v", flag.Severity, SeverityInfo)
	}
	if len(flag.Evidence.Indices) != len(payloads) {
		t.Errorf("evidence indices = %d, want %d", len(flag.Evidence.Indices), len(payloads))
	}
}

func TestEvaluateNightWindowUsesLocaleTime(t *testing.T) {
	p := testProfile(t)

	// 21:30 UTC on a winter date is 22:30 in Berlin (fixed +1 offset),
	// inside its 22-6 quiet window even though it is daytime in UTC terms.
	winter := time.Date(2026, 1, 10, 21, 30, 0, 0, time.UTC)
	payloads := []minute.Payload{{
		Idx:      0,
		TS:       winter,
		DeviceID: "avsafe-test",
		Audio:    &minute.AudioDescriptors{LAeqDB: 50},
	}}
	res, err := Evaluate(payloads, p, "berlin")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Noise.NightMinutes != 1 {
		t.Errorf("NightMinutes = %d, want 1 (21:30 UTC is 22:30 in Berlin)", res.Noise.NightMinutes)
	}
	if len(res.Noise.NightOver) != 1 {
		t.Errorf("NightOver = %v, want one entry", res.Noise.NightOver)
	}
}

func TestEvaluateFlickerHighRisk(t *testing.T) {
	p := testProfile(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	light := func(idx int, freq, mod float64) minute.Payload {
		return minute.Payload{
			Idx:      idx,
			TS:       base.Add(time.Duration(idx) * time.Minute),
			DeviceID: "avsafe-test",
			Light:    &minute.LightDescriptors{TLMFreqHz: freq, TLMModPercent: mod, FlickerIndex: 0.1},
		}
	}
	payloads := []minute.Payload{
		light(0, 0, 0),      // no flicker
		light(1, 100, 0.2),  // no-risk
		light(2, 100, 0.8),  // low-risk
		light(3, 100, 40),   // high-risk
		light(4, 120, 60),   // high-risk
		light(5, 5000, 20),  // outside the curve
	}

	res, err := Evaluate(payloads, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if res.Flicker.Evaluated != 5 {
		t.Errorf("Evaluated = %d, want 5", res.Flicker.Evaluated)
	}
	if diff := cmp.Diff([]int{2}, res.Flicker.LowRisk); diff != "" {
		t.Errorf("LowRisk mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 4}, res.Flicker.HighRisk); diff != "" {
		t.Errorf("HighRisk mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{5}, res.Flicker.Uncovered); diff != "" {
		t.Errorf("Uncovered mismatch (-want +got):\n%s", diff)
	}

	flag := findFlag(res, RuleFlickerHighRisk)
	if flag == nil {
		t.Fatalf("no %s flag in %+v", RuleFlickerHighRisk, res.Flags)
	}
	if diff := cmp.Diff([]int{3, 4}, flag.Evidence.Indices); diff != "" {
		t.Errorf("flag evidence mismatch (-want +got):\n%s", diff)
	}

	// Records with no audio block plus the uncovered record surface as
	// incomplete data.
	info := findFlag(res, RuleIncompleteData)
	if info == nil {
		t.Fatalf("no %s flag in %+v", RuleIncompleteData, res.Flags)
	}
	if info.Severity != SeverityInfo {
		t.Errorf("severity = %v, want %v", info.Severity, SeverityInfo)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5}, info.Evidence.Indices); diff != "" {
		t.Errorf("incomplete indices mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluatePercentiles(t *testing.T) {
	p := testProfile(t)

	// LAeq values 31..40 at night: the empirical P50 is 35, P90 is 39.
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	payloads := make([]minute.Payload, 10)
	for i := range payloads {
		payloads[i] = minute.Payload{
			Idx:      i,
			TS:       base.Add(time.Duration(i) * time.Minute),
			DeviceID: "avsafe-test",
			Audio:    &minute.AudioDescriptors{LAeqDB: float64(31 + i)},
		}
	}
	res, err := Evaluate(payloads, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(res.Noise.P50LAeqDB-35) > 1e-9 {
		t.Errorf("P50 = %v, want 35", res.Noise.P50LAeqDB)
	}
	if math.Abs(res.Noise.P90LAeqDB-39) > 1e-9 {
		t.Errorf("P90 = %v, want 39", res.Noise.P90LAeqDB)
	}
}

func TestEvaluateUnknownLocale(t *testing.T) {
	p := testProfile(t)
	if _, err := Evaluate(nil, p, "atlantis"); err == nil {
		t.Fatal("Evaluate with an unknown locale returned no error")
	}
}

func TestEvaluateEmptySession(t *testing.T) {
	p := testProfile(t)
	res, err := Evaluate(nil, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.NMinutes != 0 || len(res.Flags) != 0 {
		t.Errorf("empty session result = %+v, want no minutes and no flags", res)
	}
	if res.Noise.P50LAeqDB != 0 || res.Flicker.P90ModPct != 0 {
		t.Error("percentiles over an empty session should be 0")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	p := testProfile(t)
	payloads := nightSession(50, 8, 47, 33)
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	for i := range payloads {
		if i%3 == 0 {
			payloads[i].Light = &minute.LightDescriptors{TLMFreqHz: 100, TLMModPercent: 40}
		}
		payloads[i].TS = base.Add(time.Duration(i) * time.Minute)
	}

	first, err := Evaluate(payloads, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := Evaluate(payloads, p, "default")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated evaluation differs (-first +second):\n%s", diff)
	}
}
