package minute

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func samplePayload() Payload {
	return Payload{
		Idx:      3,
		TS:       time.Date(2025, 9, 12, 10, 3, 0, 0, time.UTC),
		DeviceID: "DEV-001",
		Audio: &AudioDescriptors{
			LAeqDB:   52.4,
			LCpeakDB: 63.1,
			ThirdOctaveDB: map[string]float64{
				"125":  41.0,
				"1000": 38.5,
				"63":   44.25,
			},
		},
		Light: &LightDescriptors{
			TLMFreqHz:     100,
			TLMModPercent: 4.5,
			FlickerIndex:  0.12,
		},
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	p := samplePayload()
	a, err := Canonical(p)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	b, err := Canonical(p)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("two canonicalizations differ:\n%s\n%s", a, b)
	}
}

func TestCanonicalIdempotentThroughParse(t *testing.T) {
	p := samplePayload()
	c1, err := Canonical(p)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}

	// Typed round trip.
	var parsed Payload
	if err := json.Unmarshal(c1, &parsed); err != nil {
		t.Fatalf("unmarshal canonical bytes: %v", err)
	}
	c2, err := Canonical(parsed)
	if err != nil {
		t.Fatalf("Canonical(parsed): %v", err)
	}
	if !bytes.Equal(c1, c2) {
		t.Errorf("canonical not idempotent through typed parse:\n%s\n%s", c1, c2)
	}

	// Generic round trip, as a verifier that only has the wire bytes would do.
	var generic any
	if err := json.Unmarshal(c1, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	c3, err := AppendCanonical(nil, generic)
	if err != nil {
		t.Fatalf("AppendCanonical: %v", err)
	}
	if !bytes.Equal(c1, c3) {
		t.Errorf("canonical not idempotent through generic parse:\n%s\n%s", c1, c3)
	}
}

func TestCanonicalKeyOrder(t *testing.T) {
	c, err := Canonical(samplePayload())
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	s := string(c)
	// Top-level keys must appear in lexicographic order.
	order := []string{`"audio"`, `"device_id"`, `"idx"`, `"light"`, `"ts"`}
	last := -1
	for _, k := range order {
		i := strings.Index(s, k)
		if i < 0 {
			t.Fatalf("key %s missing from canonical form %s", k, s)
		}
		if i < last {
			t.Errorf("key %s out of order in %s", k, s)
		}
		last = i
	}
	if strings.Contains(s, " ") {
		t.Errorf("canonical form contains whitespace: %s", s)
	}
}

func TestCanonicalEqualSemanticsEqualBytes(t *testing.T) {
	p := samplePayload()
	q := samplePayload()
	// Same instant expressed in another zone must canonicalize identically.
	q.TS = q.TS.In(time.FixedZone("CET", 3600))

	a, err := Canonical(p)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	b, err := Canonical(q)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if diff := cmp.Diff(string(a), string(b)); diff != "" {
		t.Errorf("canonical bytes differ for equal payloads (-p +q):\n%s", diff)
	}
}

func TestCanonicalRejectsInvalidPayloads(t *testing.T) {
	base := samplePayload()

	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"negative idx", func(p *Payload) { p.Idx = -1 }},
		{"no descriptors", func(p *Payload) { p.Audio, p.Light = nil, nil }},
		{"nan laeq", func(p *Payload) { p.Audio.LAeqDB = math.NaN() }},
		{"inf band", func(p *Payload) { p.Audio.ThirdOctaveDB["63"] = math.Inf(-1) }},
		{"mod percent above 100", func(p *Payload) { p.Light.TLMModPercent = 101 }},
		{"flicker index above 1", func(p *Payload) { p.Light.FlickerIndex = 1.5 }},
		{"zero timestamp", func(p *Payload) { p.TS = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			audio := *base.Audio
			audio.ThirdOctaveDB = map[string]float64{"63": 44.25}
			light := *base.Light
			p.Audio, p.Light = &audio, &light
			tt.mutate(&p)
			if _, err := Canonical(p); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCanonicalNumberFormatting(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{3, "3"},
		{-41, "-41"},
		{44.25, "44.25"},
		{0.5, "0.5"},
		{1e6, "1000000"},
	}
	for _, tt := range tests {
		got, err := appendCanonicalNumber(nil, tt.in)
		if err != nil {
			t.Fatalf("appendCanonicalNumber(%v): %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("appendCanonicalNumber(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := appendCanonicalNumber(nil, bad); err == nil {
			t.Errorf("appendCanonicalNumber(%v): expected error", bad)
		}
	}
}

func TestWindowValidate(t *testing.T) {
	tests := []struct {
		name    string
		w       SampleWindow
		wantErr bool
	}{
		{"ok", SampleWindow{Samples: []float64{0, 0.1, -0.1}, SampleRate: 48000}, false},
		{"empty", SampleWindow{SampleRate: 48000}, true},
		{"bad rate", SampleWindow{Samples: []float64{0}, SampleRate: 0}, true},
		{"nan sample", SampleWindow{Samples: []float64{math.NaN()}, SampleRate: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
