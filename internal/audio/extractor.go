package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
)

// PeakWeighting selects the weighting applied before the peak level search.
type PeakWeighting string

const (
	// PeakWeightingC applies IEC 61672 C-weighting before the peak search,
	// the standard definition of LCpeak.
	PeakWeightingC PeakWeighting = "c"
	// PeakWeightingFlat searches the unweighted samples.
	PeakWeightingFlat PeakWeighting = "flat"
)

// Band grid limits for reported 1/3-octave levels.
const (
	bandGridMinHz = 10
	bandGridMaxHz = 40000
)

// Config controls descriptor extraction. The zero value is usable: full-scale
// reference 1.0, a -80 dB silence floor, and C-weighted peaks.
type Config struct {
	// Reference is the full-scale amplitude that maps to 0 dB.
	Reference float64

	// SilenceFloorDB is the lowest level ever reported; total silence maps
	// here instead of -Inf.
	SilenceFloorDB float64

	// PeakWeighting selects C-weighted or flat peak measurement.
	PeakWeighting PeakWeighting
}

func (c Config) withDefaults() Config {
	if c.Reference == 0 {
		c.Reference = 1.0
	}
	if c.SilenceFloorDB == 0 {
		c.SilenceFloorDB = -80
	}
	if c.PeakWeighting == "" {
		c.PeakWeighting = PeakWeightingC
	}
	return c
}

// Extractor computes AudioDescriptors from sample windows. It is stateless
// and safe for concurrent use; each Extract call owns its own buffers.
type Extractor struct {
	cfg Config
}

// NewExtractor returns an extractor with cfg, filling zero fields with
// defaults.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Extract computes the level descriptors for one window. Windows shorter
// than a period of the lowest band are still processed at degraded spectral
// resolution. Clipped input produces quality warnings, not an error; errors
// are returned only for windows that cannot be processed at all.
func (e *Extractor) Extract(w minute.SampleWindow) (minute.AudioDescriptors, []string, error) {
	if err := w.Validate(); err != nil {
		return minute.AudioDescriptors{}, nil, err
	}
	cfg := e.cfg
	warnings := e.clipWarnings(w)

	n := len(w.Samples)
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, w.Samples)
	power := foldPowerSpectrum(coeff, n)

	nyquist := w.SampleRate / 2
	binHz := w.SampleRate / float64(n)

	// LAeq: A-weighted mean-square energy summed across the spectrum. The DC
	// bin is excluded; a static pressure offset is not sound.
	var laeqSq float64
	for k := 1; k < len(power); k++ {
		g := AWeightLinear(float64(k) * binHz)
		laeqSq += power[k] * g * g
	}
	laeq := floorDB(10*math.Log10(laeqSq/(cfg.Reference*cfg.Reference)), cfg.SilenceFloorDB)

	// Peak level, C-weighted or flat per configuration.
	peak := e.peakAmplitude(w.Samples, coeff, fft, binHz)
	lcpeak := floorDB(20*math.Log10(peak/cfg.Reference), cfg.SilenceFloorDB)

	// 1/3-octave band energies on the ISO grid, capped at Nyquist.
	bands := make(map[string]float64)
	for _, fc := range ThirdOctaveCenters(bandGridMinHz, math.Min(bandGridMaxHz, nyquist)) {
		lo, hi := BandEdges(fc)
		var energy float64
		for k := 1; k < len(power); k++ {
			f := float64(k) * binHz
			if f >= lo && f < hi {
				energy += power[k]
			}
		}
		bands[NominalLabel(fc)] = floorDB(10*math.Log10(energy/(cfg.Reference*cfg.Reference)), cfg.SilenceFloorDB)
	}

	return minute.AudioDescriptors{
		LAeqDB:        laeq,
		LCpeakDB:      lcpeak,
		ThirdOctaveDB: bands,
	}, warnings, nil
}

// clipWarnings tags windows whose samples reach full scale. Clipping degrades
// the descriptors but the window is still processed.
func (e *Extractor) clipWarnings(w minute.SampleWindow) []string {
	clipped := 0
	for _, s := range w.Samples {
		if math.Abs(s) >= e.cfg.Reference {
			clipped++
		}
	}
	if clipped == 0 {
		return nil
	}
	msg := fmt.Sprintf("clipping: %d of %d samples at full scale", clipped, len(w.Samples))
	monitoring.Logf("audio: %s", msg)
	return []string{msg}
}

// peakAmplitude returns the absolute peak of the window after the configured
// weighting. C-weighting is applied in the frequency domain: scale each
// coefficient by the filter gain, then invert.
func (e *Extractor) peakAmplitude(samples []float64, coeff []complex128, fft *fourier.FFT, binHz float64) float64 {
	if e.cfg.PeakWeighting == PeakWeightingFlat {
		return maxAbs(samples)
	}
	weighted := make([]complex128, len(coeff))
	for k := range coeff {
		weighted[k] = coeff[k] * complex(CWeightLinear(float64(k)*binHz), 0)
	}
	n := len(samples)
	seq := fft.Sequence(nil, weighted)
	for i := range seq {
		seq[i] /= float64(n)
	}
	return maxAbs(seq)
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// foldPowerSpectrum converts unnormalized real-FFT coefficients into the
// one-sided mean-square contribution of each bin, so that summing all bins
// reproduces mean(x^2) (Parseval).
func foldPowerSpectrum(coeff []complex128, n int) []float64 {
	power := make([]float64, len(coeff))
	nsq := float64(n) * float64(n)
	for k, c := range coeff {
		p := (real(c)*real(c) + imag(c)*imag(c)) / nsq
		// Interior bins carry the energy of both spectrum halves.
		if k != 0 && !(n%2 == 0 && k == n/2) {
			p *= 2
		}
		power[k] = p
	}
	return power
}

// floorDB clamps a level to the silence floor, absorbing -Inf from empty
// bands.
func floorDB(db, floor float64) float64 {
	if math.IsNaN(db) || db < floor {
		return floor
	}
	return db
}
