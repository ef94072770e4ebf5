// Package logrebin resamples spectra onto a grid uniformly spaced in
// ln(lambda), i.e. with a constant velocity width per pixel.
//
// Rebinning integrates the spectrum, taken as a step function over its
// pixel borders, across each output pixel. The total flux over the common
// wavelength range is therefore conserved exactly, unlike point resampling.
//
// A Grid is computed once from the reference wavelength axis and then shared,
// read-only, by every spectrum that lives on that axis:
//
//	grid, err := logrebin.NewGrid(wave, 70)
//	spec, err := grid.Rebin(flux, false)
//	norm, err := logrebin.Normalize(spec, sigma)
package logrebin

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"ifubin/internal/nanstat"
)

// SpeedOfLight in km/s
const SpeedOfLight = 299792.458

// ErrUndefinedNormalization is returned when a spectrum has no finite
// positive sample to normalise or scale by
var ErrUndefinedNormalization = errors.New("undefined normalization")

// Grid maps spectra from a source wavelength axis onto the log grid
type Grid struct {
	// Velscale is the velocity width of an output pixel in km/s
	Velscale float64

	// LnLam is ln of the geometric mean of each output pixel's borders
	LnLam []float64

	borders    []float64 // source pixel borders, len n+1
	newBorders []float64 // output pixel borders, len m+1
	k          []int     // source pixel holding each output border
}

// NewGrid builds the log grid for spectra sampled at wave, which must be
// strictly increasing but need not be evenly spaced
func NewGrid(wave []float64, velscale float64) (*Grid, error) {
	n := len(wave)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 wavelength samples, got %d", n)
	}
	if !(velscale > 0) || math.IsInf(velscale, 0) {
		return nil, fmt.Errorf("invalid velscale %v", velscale)
	}
	for i := 1; i < n; i++ {
		if !(wave[i] > wave[i-1]) {
			return nil, fmt.Errorf("wavelength not increasing at sample %d", i)
		}
	}

	// Pixel borders halfway between samples, extrapolated at both ends
	borders := make([]float64, n+1)
	borders[0] = 1.5*wave[0] - 0.5*wave[1]
	borders[n] = 1.5*wave[n-1] - 0.5*wave[n-2]
	for i := 1; i < n; i++ {
		borders[i] = 0.5 * (wave[i-1] + wave[i])
	}
	if !(borders[0] > 0) {
		return nil, fmt.Errorf("first pixel border %g is not positive", borders[0])
	}

	lnScale := velscale / SpeedOfLight
	lnLo := math.Log(borders[0])
	m := int(math.Log(borders[n]/borders[0]) / lnScale)
	if m < 1 {
		return nil, fmt.Errorf("velscale %g km/s is wider than the whole wavelength range", velscale)
	}

	g := &Grid{
		Velscale:   velscale,
		LnLam:      make([]float64, m),
		borders:    borders,
		newBorders: make([]float64, m+1),
		k:          make([]int, m+1),
	}
	for j := 0; j <= m; j++ {
		g.newBorders[j] = math.Exp(lnLo + lnScale*float64(j))
	}
	g.newBorders[0] = borders[0]
	if g.newBorders[m] > borders[n] {
		g.newBorders[m] = borders[n]
	}

	for j, b := range g.newBorders {
		k := sort.SearchFloat64s(borders, b) - 1
		if k < 0 {
			k = 0
		}
		if k > n-1 {
			k = n - 1
		}
		g.k[j] = k
	}
	for j := 0; j < m; j++ {
		g.LnLam[j] = 0.5 * math.Log(g.newBorders[j]*g.newBorders[j+1])
	}
	return g, nil
}

// Len returns the number of output pixels
func (g *Grid) Len() int { return len(g.LnLam) }

// SourceLen returns the number of samples a source spectrum must have
func (g *Grid) SourceLen() int { return len(g.borders) - 1 }

// Borders returns the output pixel borders in wavelength units
func (g *Grid) Borders() []float64 { return append([]float64(nil), g.newBorders...) }

// Wave returns exp(LnLam)
func (g *Grid) Wave() []float64 {
	out := make([]float64, len(g.LnLam))
	for i, l := range g.LnLam {
		out[i] = math.Exp(l)
	}
	return out
}

// Rebin integrates spec over each output pixel. With flux false the result is
// a flux density (divided by the output pixel width), otherwise the
// integrated flux per pixel.
//
// A NaN sample only affects the output pixels that overlap it.
func (g *Grid) Rebin(spec []float64, flux bool) ([]float64, error) {
	n := len(g.borders) - 1
	if len(spec) != n {
		return nil, fmt.Errorf("spectrum has %d samples, grid expects %d", len(spec), n)
	}

	m := len(g.LnLam)
	out := make([]float64, m)
	for j := 0; j < m; j++ {
		lo, hi := g.newBorders[j], g.newBorders[j+1]
		kLo, kHi := g.k[j], g.k[j+1]

		var s float64
		if kLo == kHi {
			s = spec[kLo] * (hi - lo)
		} else {
			s = spec[kLo] * (g.borders[kLo+1] - lo)
			for i := kLo + 1; i < kHi; i++ {
				s += spec[i] * (g.borders[i+1] - g.borders[i])
			}
			s += spec[kHi] * (hi - g.borders[kHi])
		}

		if !flux {
			s /= hi - lo
		}
		out[j] = s
	}
	return out, nil
}

// Normalize divides spec and noise in place by the median of spec and
// returns the divisor. The median ignores NaN samples and covers the whole
// spectrum.
func Normalize(spec, noise []float64) (float64, error) {
	positive := 0
	for _, v := range spec {
		if v > 0 && !math.IsInf(v, 0) {
			positive++
		}
	}
	if positive == 0 {
		return 0, fmt.Errorf("%w: spectrum has no finite positive sample", ErrUndefinedNormalization)
	}

	med := nanstat.Median(spec)
	if !(med > 0) || math.IsInf(med, 0) {
		return 0, fmt.Errorf("%w: median flux is %v", ErrUndefinedNormalization, med)
	}

	floats.Scale(1/med, spec)
	floats.Scale(1/med, noise)
	return med, nil
}
