// Package audio turns windows of pressure-proportional samples into
// privacy-preserving level descriptors: A-weighted equivalent level,
// C-weighted peak level, and a 1/3-octave band spectrum.
package audio

import (
	"math"
	"strconv"
)

// IEC 61672 break frequencies (Hz). The commonly quoted rounded values
// (20.6, 107.7, 737.9, 12200) drift a few hundredths of a dB at the band
// extremes, so the precise forms are used.
const (
	f1 = 20.598997
	f2 = 107.65265
	f3 = 737.86223
	f4 = 12194.217
)

var (
	f1sq = f1 * f1
	f2sq = f2 * f2
	f3sq = f3 * f3
	f4sq = f4 * f4

	aRef1k = aResponse(1000)
	cRef1k = cResponse(1000)
)

func aResponse(f float64) float64 {
	fsq := f * f
	num := f4sq * (fsq * fsq)
	den := (fsq + f1sq) * math.Sqrt((fsq+f2sq)*(fsq+f3sq)) * (fsq + f4sq)
	return num / den
}

func cResponse(f float64) float64 {
	fsq := f * f
	return (f4sq * fsq) / ((fsq + f1sq) * (fsq + f4sq))
}

// AWeightDB returns the IEC 61672 A-weighting correction in dB at frequency
// f, normalized so that AWeightDB(1000) is exactly 0. f must be positive.
func AWeightDB(f float64) float64 {
	return 20 * math.Log10(aResponse(f)/aRef1k)
}

// CWeightDB returns the IEC 61672 C-weighting correction in dB at frequency
// f, normalized to 0 dB at 1 kHz. f must be positive.
func CWeightDB(f float64) float64 {
	return 20 * math.Log10(cResponse(f)/cRef1k)
}

// AWeightLinear returns the linear amplitude gain of the A-weighting filter
// at f, or 0 for non-positive frequencies (DC carries no sound energy).
func AWeightLinear(f float64) float64 {
	if f <= 0 {
		return 0
	}
	return aResponse(f) / aRef1k
}

// CWeightLinear returns the linear amplitude gain of the C-weighting filter
// at f, or 0 for non-positive frequencies.
func CWeightLinear(f float64) float64 {
	if f <= 0 {
		return 0
	}
	return cResponse(f) / cRef1k
}

// bandRatio is the half-band edge factor for 1/3-octave bands: edges sit at
// fc/2^(1/6) and fc*2^(1/6) per IEC 61260-1.
var bandRatio = math.Pow(2, 1.0/6.0)

// ThirdOctaveCenters returns the exact geometric 1/3-octave band centers
// fref*2^(k/3), in ascending order, whose exact or nominal value falls
// inside [fmin, fmax]. The nominal check keeps the conventional endpoint
// bands: the band labelled 20 Hz has the exact center 19.69 Hz, and a
// [20, 20000] range still spans the usual 31 bands. The reference center is
// 1 kHz.
func ThirdOctaveCenters(fmin, fmax float64) []float64 {
	const fref = 1000.0
	if fmin <= 0 || fmax < fmin {
		return nil
	}
	kmin := int(math.Ceil(3*math.Log2(fmin/fref))) - 1
	kmax := int(math.Floor(3*math.Log2(fmax/fref))) + 1
	centers := make([]float64, 0, kmax-kmin+1)
	for k := kmin; k <= kmax; k++ {
		fc := fref * math.Pow(2, float64(k)/3)
		if fc < fmin && NominalCenter(fc) < fmin {
			continue
		}
		if fc > fmax && NominalCenter(fc) > fmax {
			continue
		}
		centers = append(centers, fc)
	}
	return centers
}

// BandEdges returns the lower and upper edge frequencies of the 1/3-octave
// band centered at fc.
func BandEdges(fc float64) (lo, hi float64) {
	return fc / bandRatio, fc * bandRatio
}

// nominalMultipliers is the preferred-number series for fractional-octave
// band labels, one entry per 1/3-octave step within a decade.
var nominalMultipliers = []float64{1, 1.25, 1.6, 2, 2.5, 3.15, 4, 5, 6.3, 8}

// NominalCenter snaps an exact geometric band center to its standard nominal
// value (e.g. 10079.4 Hz → 10000, 31.62 → 31.5). Band math always uses the
// exact center; the nominal value is for keying and display.
func NominalCenter(fc float64) float64 {
	k := int(math.Round(3 * math.Log2(fc/1000)))
	m := ((k % 10) + 10) % 10
	decade := (k - m) / 10
	return nominalMultipliers[m] * 1000 * math.Pow(10, float64(decade))
}

// NominalLabel renders a band center as its nominal map key: "31.5", "1000",
// "10000".
func NominalLabel(fc float64) string {
	v := NominalCenter(fc)
	if v == math.Trunc(v) {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// OverallAWeightedDB combines per-band levels (dB, aligned with centers in
// Hz) into a single A-weighted level. Returns -Inf for empty input.
func OverallAWeightedDB(centers, levels []float64) float64 {
	if len(centers) == 0 || len(centers) != len(levels) {
		return math.Inf(-1)
	}
	var sum float64
	for i, fc := range centers {
		sum += math.Pow(10, (levels[i]+AWeightDB(fc))/10)
	}
	if sum <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(sum)
}
