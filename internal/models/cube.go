package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedCube is returned when a cube's arrays do not line up with each
// other or with its wavelength axis.
var ErrMalformedCube = errors.New("malformed cube")

// Cube represents a loaded IFU datacube in the common in-memory layout
// shared by every survey reader
type Cube struct {
	// Name identifies the cube, usually the file root name
	Name string

	// Survey is the format identifier the cube was read with
	Survey string

	// Wave is the wavelength axis in Angstrom, strictly increasing
	Wave []float64

	// Flux holds one spectrum per spaxel: Flux[spaxel][pixel]
	Flux [][]float64

	// Noise holds the 1-sigma error spectrum per spaxel, same shape as Flux
	Noise [][]float64

	// X and Y are the spaxel coordinates in arcsec
	X []float64
	Y []float64

	// PixelSize is the angular size of a spaxel in arcsec
	PixelSize float64
}

// NumSpaxels returns the number of spaxels in the cube
func (c *Cube) NumSpaxels() int { return len(c.Flux) }

// NumPixels returns the number of wavelength samples per spectrum
func (c *Cube) NumPixels() int { return len(c.Wave) }

// Validate checks the shape invariants of the cube.
// Every spectrum and noise vector must share the wavelength indexing and the
// wavelength axis must be strictly increasing.
func (c *Cube) Validate() error {
	npix := len(c.Wave)
	nspax := len(c.Flux)
	if npix == 0 {
		return fmt.Errorf("%w: empty wavelength axis", ErrMalformedCube)
	}
	if nspax == 0 {
		return fmt.Errorf("%w: no spaxels", ErrMalformedCube)
	}
	if len(c.Noise) != nspax {
		return fmt.Errorf("%w: %d flux spectra but %d noise spectra", ErrMalformedCube, nspax, len(c.Noise))
	}
	if len(c.X) != nspax || len(c.Y) != nspax {
		return fmt.Errorf("%w: %d spaxels but %d/%d coordinates", ErrMalformedCube, nspax, len(c.X), len(c.Y))
	}
	for i := 0; i < nspax; i++ {
		if len(c.Flux[i]) != npix || len(c.Noise[i]) != npix {
			return fmt.Errorf("%w: spaxel %d has %d flux and %d noise samples, want %d",
				ErrMalformedCube, i, len(c.Flux[i]), len(c.Noise[i]), npix)
		}
	}
	for i := 1; i < npix; i++ {
		if !(c.Wave[i] > c.Wave[i-1]) {
			return fmt.Errorf("%w: wavelength axis not increasing at pixel %d", ErrMalformedCube, i)
		}
	}
	if math.IsNaN(c.PixelSize) || c.PixelSize < 0 {
		return fmt.Errorf("%w: invalid pixel size %v", ErrMalformedCube, c.PixelSize)
	}
	return nil
}

// SubsetSpaxels returns a new cube holding only the given spaxels, in the
// given order. Spectra are shared with the receiver, not copied.
func (c *Cube) SubsetSpaxels(index []int) *Cube {
	out := &Cube{
		Name:      c.Name,
		Survey:    c.Survey,
		Wave:      c.Wave,
		Flux:      make([][]float64, len(index)),
		Noise:     make([][]float64, len(index)),
		X:         make([]float64, len(index)),
		Y:         make([]float64, len(index)),
		PixelSize: c.PixelSize,
	}
	for i, k := range index {
		out.Flux[i] = c.Flux[k]
		out.Noise[i] = c.Noise[k]
		out.X[i] = c.X[k]
		out.Y[i] = c.Y[k]
	}
	return out
}
