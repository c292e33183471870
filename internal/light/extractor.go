// Package light turns windows of luminance samples into temporal light
// modulation (TLM) descriptors: dominant flicker frequency, percent
// modulation, and IEEE 1789 flicker index.
package light

import (
	"math"
	"math/bits"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// Config controls the flicker search. The zero value is usable: a
// 0.5 Hz – 1 kHz search band and an 8x significance threshold.
type Config struct {
	// MinFreqHz and MaxFreqHz bound the plausible flicker band. The search
	// is further capped at the window's Nyquist frequency.
	MinFreqHz float64
	MaxFreqHz float64

	// SignificanceRatio is the factor by which the dominant peak power must
	// exceed the mean AC power inside the search band before a flicker
	// frequency is reported. Below it, tlm_freq_hz is 0.
	SignificanceRatio float64
}

func (c Config) withDefaults() Config {
	if c.MinFreqHz == 0 {
		c.MinFreqHz = 0.5
	}
	if c.MaxFreqHz == 0 {
		c.MaxFreqHz = 1000
	}
	if c.SignificanceRatio == 0 {
		c.SignificanceRatio = 8
	}
	return c
}

// Extractor computes LightDescriptors from luminance windows. Stateless and
// safe for concurrent use.
type Extractor struct {
	cfg Config
}

// NewExtractor returns an extractor with cfg, filling zero fields with
// defaults.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Extract computes TLM descriptors for one window. A window with no
// significant spectral peak reports frequency 0 (no detected flicker). When
// the true modulation frequency lies above Nyquist the detected peak is an
// alias; no correction is attempted, but a reported frequency found under a
// Nyquist-truncated search band is marked NyquistLimited.
func (e *Extractor) Extract(w minute.SampleWindow) (minute.LightDescriptors, error) {
	if err := w.Validate(); err != nil {
		return minute.LightDescriptors{}, err
	}

	// Luminance is non-negative; clamp sensor noise below zero.
	x := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		x[i] = math.Max(s, 0)
	}

	nyquist := w.SampleRate / 2
	freq, amp := e.dominantComponent(x, w.SampleRate)

	desc := minute.LightDescriptors{
		TLMFreqHz:      freq,
		TLMModPercent:  percentModulation(x, freq, amp),
		FlickerIndex:   flickerIndex(x, w.SampleRate, freq),
		NyquistLimited: freq > 0 && e.cfg.MaxFreqHz > nyquist,
	}
	return desc, nil
}

// minPeakDCRatio is the absolute significance floor: the peak power must be
// at least this fraction of the DC power. The relative threshold alone lets
// float rounding residue in a constant window read as flicker.
const minPeakDCRatio = 1e-10

// dominantComponent returns the frequency and waveform amplitude of the
// strongest spectral peak inside the configured band, or (0, 0) when no peak
// clears the significance thresholds.
func (e *Extractor) dominantComponent(x []float64, fs float64) (freq, amp float64) {
	if len(x) < 8 {
		return 0, 0
	}
	mean := meanOf(x)
	if mean <= 0 {
		return 0, 0
	}

	// Remove DC so the search sees only the AC component, then zero-pad to
	// twice the next power of two for finer bin spacing.
	n := nextPow2(len(x)) * 2
	ac := make([]float64, 0, n)
	for _, v := range x {
		ac = append(ac, v-mean)
	}
	for len(ac) < n {
		ac = append(ac, 0)
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, ac)
	binHz := fs / float64(n)

	lo := e.cfg.MinFreqHz
	hi := math.Min(e.cfg.MaxFreqHz, fs/2)

	var (
		peakPower float64
		peakFreq  float64
		acPower   float64
		bins      int
	)
	for k := 1; k < len(coeff); k++ {
		f := float64(k) * binHz
		if f < lo || f > hi {
			continue
		}
		p := real(coeff[k])*real(coeff[k]) + imag(coeff[k])*imag(coeff[k])
		acPower += p
		bins++
		if p > peakPower {
			peakPower = p
			peakFreq = f
		}
	}
	if bins == 0 || peakPower <= 0 {
		return 0, 0
	}
	dc := mean * float64(len(x))
	if peakPower < minPeakDCRatio*dc*dc {
		return 0, 0
	}
	if peakPower < e.cfg.SignificanceRatio*(acPower/float64(bins)) {
		return 0, 0
	}
	// Single-sided amplitude, scaled by the unpadded sample count.
	return peakFreq, 2 * math.Sqrt(peakPower) / float64(len(x))
}

// percentModulation is the IEEE-style modulation depth
// (max-min)/(max+min)*100, clamped to [0, 100]. With a detected dominant
// component it is computed spectrally as amp/mean: at a few samples per
// flicker cycle the window rarely lands on the waveform extremes, and the
// time-domain depth underestimates badly.
func percentModulation(x []float64, freq, amp float64) float64 {
	if len(x) == 0 {
		return 0
	}
	if freq > 0 {
		mean := meanOf(x)
		if mean <= 0 {
			return 0
		}
		return clamp(amp/mean*100, 0, 100)
	}
	min, max := x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	denom := max + min
	if denom <= 0 {
		return 0
	}
	return clamp((max-min)/denom*100, 0, 100)
}

// flickerIndex is the area of the waveform above its mean divided by the
// total area, computed over one centered period of the dominant frequency.
// Without a usable period it falls back to the whole window.
func flickerIndex(x []float64, fs, freq float64) float64 {
	seg := x
	if freq > 0 {
		// At least 8 samples per period for a stable area estimate.
		period := max(8, int(math.Round(fs/freq)))
		if len(x) >= period {
			start := (len(x) - period) / 2
			seg = x[start : start+period]
		}
	}

	mean := meanOf(seg)
	if mean <= 0 {
		return 0
	}
	var above, total float64
	for _, v := range seg {
		if v > mean {
			above += v - mean
		}
		total += v
	}
	if total <= 0 {
		return 0
	}
	return clamp(above/total, 0, 1)
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
