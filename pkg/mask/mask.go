// Package mask chooses the log-grid pixels a downstream fit may use.
package mask

import (
	"fmt"
	"math"

	"ifubin/pkg/logrebin"
)

// Mode selects how the mask is built
type Mode int

const (
	// ModeAll keeps every pixel
	ModeAll Mode = 0
	// ModeFeatures drops pixels near emission lines and near the range edges
	ModeFeatures Mode = 1
	// ModeSpan keeps the contiguous range from the first to the last pixel
	// ModeFeatures would keep, last one excluded
	ModeSpan Mode = 2
)

const speedOfLight = logrebin.SpeedOfLight

// DefaultLines are the rest wavelengths (Angstrom) of the gas emission lines
// masked by ModeFeatures: [OII] pair, Hdelta, Hgamma, Hbeta, [OIII] pair,
// [OI], [NII] pair, Halpha, [SII] pair.
var DefaultLines = []float64{
	3726.03, 3728.82, 4101.76, 4340.47, 4861.33, 4958.92, 5006.84,
	6300.30, 6548.03, 6583.41, 6562.80, 6716.47, 6730.85,
}

// Params configures Features
type Params struct {
	// Lmin, Lmax bound the usable wavelength range
	Lmin, Lmax float64
	// Width is the half-width in km/s masked around each line
	Width float64
	// Vmax is the largest expected velocity shift in km/s; pixels closer than
	// it to either end of the range are masked
	Vmax float64
	// Lines overrides DefaultLines when non-nil
	Lines []float64
}

// All returns 0..n-1
func All(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Features returns the indices of lnLam that lie outside every line window
// and inside [Lmin(1+Vmax/c), Lmax(1-Vmax/c)]
func Features(lnLam []float64, p Params) []int {
	lines := p.Lines
	if lines == nil {
		lines = DefaultLines
	}
	lo := p.Lmin * (1 + p.Vmax/speedOfLight)
	hi := p.Lmax * (1 - p.Vmax/speedOfLight)
	dv := p.Width / speedOfLight

	out := make([]int, 0, len(lnLam))
	for i, l := range lnLam {
		lam := math.Exp(l)
		if lam > hi || lam < lo {
			continue
		}
		masked := false
		for _, line := range lines {
			if lam > line*(1-dv) && lam < line*(1+dv) {
				masked = true
				break
			}
		}
		if !masked {
			out = append(out, i)
		}
	}
	return out
}

// Span returns the indices from the first good pixel up to, not including,
// the last one
func Span(good []int) []int {
	if len(good) < 2 {
		return []int{}
	}
	out := make([]int, 0, good[len(good)-1]-good[0])
	for i := good[0]; i < good[len(good)-1]; i++ {
		out = append(out, i)
	}
	return out
}

// Build dispatches on mode
func Build(mode Mode, lnLam []float64, p Params) ([]int, error) {
	switch mode {
	case ModeAll:
		return All(len(lnLam)), nil
	case ModeFeatures:
		return Features(lnLam, p), nil
	case ModeSpan:
		return Span(Features(lnLam, p)), nil
	default:
		return nil, fmt.Errorf("unknown mask mode %d", mode)
	}
}

// Check reports whether idx is strictly increasing within [0, n)
func Check(idx []int, n int) error {
	for i, v := range idx {
		if v < 0 || v >= n {
			return fmt.Errorf("mask index %d out of range [0, %d)", v, n)
		}
		if i > 0 && v <= idx[i-1] {
			return fmt.Errorf("mask not strictly increasing at position %d", i)
		}
	}
	return nil
}
