package logrebin

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ScaleFactor returns the power of ten 10^ceil(|log10(fmin)|), where fmin
// is the smallest finite positive flux of the dataset. Multiplying flux and
// noise by it keeps later fits away from magnitudes near machine epsilon.
//
// It fails when the flux has no finite positive sample, or when the noise
// has none either, since the S/N is then undefined.
func ScaleFactor(flux, noise [][]float64) (float64, error) {
	fmin := math.Inf(1)
	for _, spec := range flux {
		for _, v := range spec {
			if v > 0 && v < fmin {
				fmin = v
			}
		}
	}
	if math.IsInf(fmin, 1) {
		return 0, fmt.Errorf("%w: no finite positive flux in the dataset", ErrUndefinedNormalization)
	}

	positiveNoise := false
	for _, spec := range noise {
		for _, v := range spec {
			if v > 0 && !math.IsInf(v, 1) {
				positiveNoise = true
				break
			}
		}
		if positiveNoise {
			break
		}
	}
	if !positiveNoise {
		return 0, fmt.Errorf("%w: no finite positive noise in the dataset", ErrUndefinedNormalization)
	}

	// log10 of an exact power of ten can land a hair above the integer
	exponent := math.Ceil(math.Abs(math.Log10(fmin)) - 1e-9)
	return math.Pow(10, exponent), nil
}

// ApplyScale multiplies every flux and noise vector by factor, in place
func ApplyScale(flux, noise [][]float64, factor float64) {
	for _, spec := range flux {
		floats.Scale(factor, spec)
	}
	for _, spec := range noise {
		floats.Scale(factor, spec)
	}
}
