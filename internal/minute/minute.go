// Package minute defines the privacy-preserving per-minute descriptor records
// exchanged between the extractors, the integrity layer, and the rules engine,
// together with their canonical byte serialization.
//
// A record never contains raw audio or luminance samples; only numeric
// descriptors derived from them. SampleWindows are transient inputs to the
// extractors and are discarded once a Payload has been produced.
package minute

import (
	"fmt"
	"math"
	"time"
)

// SampleWindow is an ordered buffer of sensor samples captured at a fixed
// rate. It is owned by a single extraction call and is never persisted.
type SampleWindow struct {
	// Samples holds pressure-proportional (audio) or luminance (light)
	// values in acquisition order.
	Samples []float64

	// SampleRate is the acquisition rate in Hz.
	SampleRate float64
}

// Duration returns the time span covered by the window.
func (w SampleWindow) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / w.SampleRate * float64(time.Second))
}

// Validate reports whether the window can be processed by an extractor.
// Empty windows, non-positive sample rates, and non-finite sample values are
// rejected; callers treat the error as scoped to this window only.
func (w SampleWindow) Validate() error {
	if len(w.Samples) == 0 {
		return &ExtractionError{Reason: "empty sample window"}
	}
	if w.SampleRate <= 0 {
		return &ExtractionError{Reason: fmt.Sprintf("non-positive sample rate %v", w.SampleRate)}
	}
	for i, s := range w.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return &ExtractionError{Reason: fmt.Sprintf("non-finite sample at offset %d", i)}
		}
	}
	return nil
}

// ExtractionError reports a malformed sample window. It is fatal for the
// affected window only and never aborts the session.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extraction: " + e.Reason
}

// AudioDescriptors are A/C-weighted level descriptors for one minute window.
// All dB values are finite; total silence is reported as the configured
// silence floor rather than -Inf.
type AudioDescriptors struct {
	LAeqDB        float64            `json:"laeq_db"`
	LCpeakDB      float64            `json:"lcpeak_db"`
	ThirdOctaveDB map[string]float64 `json:"third_octave_db"`
}

// LightDescriptors are temporal light modulation descriptors for one minute
// window. TLMFreqHz is 0 when no spectral peak cleared the significance
// threshold. NyquistLimited marks a reported frequency found while the
// configured flicker search band was truncated by the sampling Nyquist
// frequency, in which case it may be an alias of the true one. It stays
// false when no frequency is reported.
type LightDescriptors struct {
	TLMFreqHz      float64 `json:"tlm_freq_hz"`
	TLMModPercent  float64 `json:"tlm_mod_percent"`
	FlickerIndex   float64 `json:"flicker_index"`
	NyquistLimited bool    `json:"nyquist_limited,omitempty"`
}

// Payload is the signable, chainable content of a minute record. The chain
// and signature blocks are excluded; they are computed over the canonical
// serialization of the Payload itself.
type Payload struct {
	Idx      int               `json:"idx"`
	TS       time.Time         `json:"ts"`
	DeviceID string            `json:"device_id,omitempty"`
	Audio    *AudioDescriptors `json:"audio,omitempty"`
	Light    *LightDescriptors `json:"light,omitempty"`
}

// Validate checks the structural invariants of a payload: a non-negative
// index, a non-zero UTC timestamp, at least one descriptor block, and finite
// descriptor values throughout.
func (p Payload) Validate() error {
	if p.Idx < 0 {
		return fmt.Errorf("payload: negative idx %d", p.Idx)
	}
	if p.TS.IsZero() {
		return fmt.Errorf("payload idx %d: zero timestamp", p.Idx)
	}
	if p.Audio == nil && p.Light == nil {
		return fmt.Errorf("payload idx %d: neither audio nor light descriptors present", p.Idx)
	}
	if p.Audio != nil {
		if err := finite("audio.laeq_db", p.Audio.LAeqDB); err != nil {
			return fmt.Errorf("payload idx %d: %w", p.Idx, err)
		}
		if err := finite("audio.lcpeak_db", p.Audio.LCpeakDB); err != nil {
			return fmt.Errorf("payload idx %d: %w", p.Idx, err)
		}
		for band, db := range p.Audio.ThirdOctaveDB {
			if err := finite("audio.third_octave_db["+band+"]", db); err != nil {
				return fmt.Errorf("payload idx %d: %w", p.Idx, err)
			}
		}
	}
	if p.Light != nil {
		if err := finite("light.tlm_freq_hz", p.Light.TLMFreqHz); err != nil {
			return fmt.Errorf("payload idx %d: %w", p.Idx, err)
		}
		if p.Light.TLMFreqHz < 0 {
			return fmt.Errorf("payload idx %d: negative tlm_freq_hz", p.Idx)
		}
		if err := finite("light.tlm_mod_percent", p.Light.TLMModPercent); err != nil {
			return fmt.Errorf("payload idx %d: %w", p.Idx, err)
		}
		if p.Light.TLMModPercent < 0 || p.Light.TLMModPercent > 100 {
			return fmt.Errorf("payload idx %d: tlm_mod_percent %v outside [0,100]", p.Idx, p.Light.TLMModPercent)
		}
		if err := finite("light.flicker_index", p.Light.FlickerIndex); err != nil {
			return fmt.Errorf("payload idx %d: %w", p.Idx, err)
		}
		if p.Light.FlickerIndex < 0 || p.Light.FlickerIndex > 1 {
			return fmt.Errorf("payload idx %d: flicker_index %v outside [0,1]", p.Idx, p.Light.FlickerIndex)
		}
	}
	return nil
}

func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite %s", field)
	}
	return nil
}

// ChainBlock is the integrity block attached to a sealed record. Hash is the
// lowercase hex SHA-256 of prev_hash concatenated with the canonical payload
// bytes. The signature fields are present only when the record was signed.
type ChainBlock struct {
	Hash         string `json:"hash"`
	Scheme       string `json:"scheme,omitempty"`
	SignatureHex string `json:"signature_hex,omitempty"`
	PublicKeyHex string `json:"public_key_hex,omitempty"`
}

// Record is a sealed minute record: the payload plus its chain block. Records
// are append-only; a correction is always a new record, never a mutation.
type Record struct {
	Payload
	Chain ChainBlock `json:"chain"`
}
