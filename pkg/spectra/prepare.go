// Package spectra prepares the wavelength axis of a cube and co-adds the
// spectra of binned spaxels.
package spectra

import (
	"errors"
	"fmt"

	"ifubin/internal/models"
)

// ErrEmptyWindow is returned when no wavelength sample falls inside the
// requested range
var ErrEmptyWindow = errors.New("empty wavelength window")

// Deredshift returns the rest-frame wavelengths wave/(1+z)
func Deredshift(wave []float64, z float64) []float64 {
	out := make([]float64, len(wave))
	for i, w := range wave {
		out[i] = w / (1 + z)
	}
	return out
}

// ClampRange narrows [lmin, lmax] to the extent of wave. Bounds already
// inside the axis are returned unchanged.
func ClampRange(wave []float64, lmin, lmax float64) (float64, float64) {
	if len(wave) == 0 {
		return lmin, lmax
	}
	if wave[0] > lmin {
		lmin = wave[0]
	}
	if wave[len(wave)-1] < lmax {
		lmax = wave[len(wave)-1]
	}
	return lmin, lmax
}

// CutWindow returns a copy of the cube restricted to wavelengths in
// [lmin, lmax]. The copy owns its spectra, so later in-place scaling does
// not touch the input cube.
func CutWindow(cube *models.Cube, lmin, lmax float64) (*models.Cube, error) {
	lo, hi := -1, -1
	for i, w := range cube.Wave {
		if w >= lmin && w <= lmax {
			if lo < 0 {
				lo = i
			}
			hi = i + 1
		}
	}
	if lo < 0 {
		return nil, fmt.Errorf("%w: no sample in [%g, %g]", ErrEmptyWindow, lmin, lmax)
	}

	out := &models.Cube{
		Name:      cube.Name,
		Survey:    cube.Survey,
		Wave:      append([]float64(nil), cube.Wave[lo:hi]...),
		Flux:      make([][]float64, len(cube.Flux)),
		Noise:     make([][]float64, len(cube.Noise)),
		X:         append([]float64(nil), cube.X...),
		Y:         append([]float64(nil), cube.Y...),
		PixelSize: cube.PixelSize,
	}
	for i := range cube.Flux {
		out.Flux[i] = append([]float64(nil), cube.Flux[i][lo:hi]...)
		out.Noise[i] = append([]float64(nil), cube.Noise[i][lo:hi]...)
	}
	return out, nil
}
