// Package selection picks the spaxels that take part in the binning.
//
// The selection is two-pass. Spaxels whose S/N lies in a narrow band around
// the minimum acceptable S/N define a reference flux level (the isophote
// level "isof"); every spaxel at least that bright is then kept. The floor
// therefore adapts to the overall brightness of each target instead of being
// a fixed constant.
package selection

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"ifubin/internal/nanstat"
)

// ErrEmptySelection is returned when the reference band or the final
// selection contains no spaxel.
var ErrEmptySelection = errors.New("empty spaxel selection")

// DefaultBand is the half-width of the S/N band around the minimum S/N
const DefaultBand = 1.0

// Options controls the selection
type Options struct {
	// Band is the half-width of the S/N band around snrMin used to
	// establish the reference flux level. Zero selects DefaultBand.
	Band float64
}

// Selection is the outcome of Select
type Selection struct {
	// Index lists the selected spaxels in ascending order
	Index []int

	// Isophote is the reference flux level (mean signal of the band)
	Isophote float64

	// BandCount is the number of spaxels that fell in the reference band
	BandCount int
}

// ComputeSNR returns the per-spaxel signal (median flux) and noise
// (|median noise|), both ignoring NaN samples.
func ComputeSNR(flux, noise [][]float64) (signal, sigma []float64, err error) {
	if len(flux) != len(noise) {
		return nil, nil, fmt.Errorf("flux has %d spaxels, noise has %d", len(flux), len(noise))
	}

	signal = make([]float64, len(flux))
	sigma = make([]float64, len(flux))
	for i := range flux {
		signal[i] = nanstat.Median(flux[i])
		sigma[i] = math.Abs(nanstat.Median(noise[i]))
	}
	return signal, sigma, nil
}

// Select applies the two-pass selection to per-spaxel signal and noise
func Select(signal, noise []float64, snrMin float64, opts Options) (*Selection, error) {
	if len(signal) != len(noise) {
		return nil, fmt.Errorf("signal has %d spaxels, noise has %d", len(signal), len(noise))
	}
	band := opts.Band
	if band <= 0 {
		band = DefaultBand
	}

	var ref []float64
	for i := range signal {
		// NaN comparisons are false, so undefined S/N never enters the band
		if math.Abs(signal[i]/noise[i]-snrMin) <= band {
			ref = append(ref, signal[i])
		}
	}
	if len(ref) == 0 {
		return nil, fmt.Errorf("%w: no spaxel with S/N in [%g, %g]", ErrEmptySelection, snrMin-band, snrMin+band)
	}

	isof := stat.Mean(ref, nil)
	if math.IsNaN(isof) || math.IsInf(isof, 0) {
		return nil, fmt.Errorf("%w: reference flux level is %v", ErrEmptySelection, isof)
	}

	var index []int
	for i, s := range signal {
		if s >= isof {
			index = append(index, i)
		}
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("%w: no spaxel brighter than %g", ErrEmptySelection, isof)
	}

	return &Selection{Index: index, Isophote: isof, BandCount: len(ref)}, nil
}
