package spectra

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"ifubin/internal/nanstat"
	"ifubin/internal/parallel"
)

// Binned holds one co-added spectrum per bin
type Binned struct {
	// Flux and Noise are indexed [bin][pixel]
	Flux  [][]float64
	Noise [][]float64

	// BinFlux is the mean of each co-added spectrum
	BinFlux []float64
}

// CoAdd combines the spectra of the spaxels in each bin. binNum maps every
// spaxel to a bin in [0, nbins).
//
// A single-spaxel bin passes through unchanged. Otherwise fluxes are summed
// (NaN samples skipped) and noises are added in quadrature over their finite
// samples.
func CoAdd(flux, noise [][]float64, binNum []int, nbins, workers int) (*Binned, error) {
	if len(flux) != len(binNum) || len(noise) != len(binNum) {
		return nil, fmt.Errorf("co-add: %d flux, %d noise spectra for %d assignments", len(flux), len(noise), len(binNum))
	}

	members := make([][]int, nbins)
	for i, b := range binNum {
		if b < 0 || b >= nbins {
			return nil, fmt.Errorf("co-add: spaxel %d assigned to bin %d outside [0, %d)", i, b, nbins)
		}
		members[b] = append(members[b], i)
	}
	for b, m := range members {
		if len(m) == 0 {
			return nil, fmt.Errorf("co-add: bin %d has no spaxels", b)
		}
	}

	out := &Binned{
		Flux:    make([][]float64, nbins),
		Noise:   make([][]float64, nbins),
		BinFlux: make([]float64, nbins),
	}
	err := parallel.For(nbins, workers, func(b int) error {
		f, e, err := coAddBin(flux, noise, members[b])
		if err != nil {
			return fmt.Errorf("co-add bin %d: %w", b, err)
		}
		out.Flux[b] = f
		out.Noise[b] = e
		out.BinFlux[b] = nanstat.Mean(f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func coAddBin(flux, noise [][]float64, members []int) ([]float64, []float64, error) {
	npix := len(flux[members[0]])
	for _, m := range members {
		if len(flux[m]) != npix || len(noise[m]) != npix {
			return nil, nil, fmt.Errorf("spaxel %d has %d/%d samples, want %d", m, len(flux[m]), len(noise[m]), npix)
		}
	}

	if len(members) == 1 {
		m := members[0]
		return append([]float64(nil), flux[m]...), append([]float64(nil), noise[m]...), nil
	}

	sum := make([]float64, npix)
	sum2 := make([]float64, npix)
	sq := make([]float64, npix)
	for _, m := range members {
		vecmath.MulBlock(sq, noise[m], noise[m])
		for j := 0; j < npix; j++ {
			if f := flux[m][j]; !math.IsNaN(f) {
				sum[j] += f
			}
			if !math.IsNaN(sq[j]) && !math.IsInf(sq[j], 0) {
				sum2[j] += sq[j]
			}
		}
	}
	for j := range sum2 {
		sum2[j] = math.Sqrt(sum2[j])
	}
	return sum, sum2, nil
}
