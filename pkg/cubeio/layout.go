package cubeio

import (
	"fmt"
	"math"

	"github.com/astrogo/fitsio"

	"ifubin/internal/models"
)

// linearWave returns crval + cdelt*i for i in [0, n)
func linearWave(crval, cdelt float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = crval + cdelt*float64(i)
	}
	return out
}

// meshgrid returns the coordinates of an nx×ny grid with spacing step,
// x varying fastest
func meshgrid(nx, ny int, step float64) (x, y []float64) {
	x = make([]float64, 0, nx*ny)
	y = make([]float64, 0, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x = append(x, float64(i)*step)
			y = append(y, float64(j)*step)
		}
	}
	return x, y
}

// cubeToSpectra splits a FITS data cube, stored with x varying fastest and
// wavelength slowest, into one spectrum per spaxel
func cubeToSpectra(data []float64, npix, nspax int) ([][]float64, error) {
	if len(data) != npix*nspax {
		return nil, fmt.Errorf("%w: %d values for %d pixels × %d spaxels", models.ErrMalformedCube, len(data), npix, nspax)
	}
	out := make([][]float64, nspax)
	for s := range out {
		spec := make([]float64, npix)
		for k := 0; k < npix; k++ {
			spec[k] = data[k*nspax+s]
		}
		out[s] = spec
	}
	return out, nil
}

// sqrtInPlace turns variances into standard deviations. Negative variances
// become NaN.
func sqrtInPlace(rows [][]float64) {
	for _, row := range rows {
		for i, v := range row {
			row[i] = math.Sqrt(v)
		}
	}
}

// headerFloat returns the numeric value of a header card
func headerFloat(hdr *fitsio.Header, key string) (float64, error) {
	card := hdr.Get(key)
	if card == nil {
		return 0, fmt.Errorf("%w: missing header keyword %s", models.ErrMalformedCube, key)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: header keyword %s is %T, not a number", models.ErrMalformedCube, key, card.Value)
	}
}

// imageHDU returns HDU i as an image
func imageHDU(f *fitsio.File, i int) (fitsio.Image, error) {
	hdus := f.HDUs()
	if i >= len(hdus) {
		return nil, fmt.Errorf("%w: need HDU %d, file has %d", models.ErrMalformedCube, i, len(hdus))
	}
	img, ok := hdus[i].(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%w: HDU %d is not an image", models.ErrMalformedCube, i)
	}
	return img, nil
}

// cubeAxes returns (nx, ny, npix) of a 3-D image
func cubeAxes(img fitsio.Image) (nx, ny, npix int, err error) {
	axes := img.Header().Axes()
	if len(axes) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: image has %d axes, want 3", models.ErrMalformedCube, len(axes))
	}
	return axes[0], axes[1], axes[2], nil
}

// readCube reads a 3-D image HDU into per-spaxel spectra
func readCube(f *fitsio.File, i int, hdr *Header) ([][]float64, error) {
	img, err := imageHDU(f, i)
	if err != nil {
		return nil, err
	}
	nx, ny, npix, err := cubeAxes(img)
	if err != nil {
		return nil, err
	}
	if nx*ny != hdr.NumSpaxels() || npix != len(hdr.Wave) {
		return nil, fmt.Errorf("%w: HDU %d is %d×%d×%d, header describes %d spaxels × %d pixels",
			models.ErrMalformedCube, i, nx, ny, npix, hdr.NumSpaxels(), len(hdr.Wave))
	}

	data := make([]float64, nx*ny*npix)
	if err := img.Read(&data); err != nil {
		return nil, fmt.Errorf("failed to read HDU %d: %w", i, err)
	}
	return cubeToSpectra(data, npix, nx*ny)
}

// gridHeader builds the header of a cube stored as a 3-D image in HDU i
// with a linear wavelength axis described by waveKey
func gridHeader(f *fitsio.File, i int, waveKey string) (*Header, error) {
	img, err := imageHDU(f, i)
	if err != nil {
		return nil, err
	}
	nx, ny, npix, err := cubeAxes(img)
	if err != nil {
		return nil, err
	}

	h := img.Header()
	cd22, err := headerFloat(h, "CD2_2")
	if err != nil {
		return nil, err
	}
	crval, err := headerFloat(h, "CRVAL3")
	if err != nil {
		return nil, err
	}
	cdelt, err := headerFloat(h, waveKey)
	if err != nil {
		return nil, err
	}

	x, y := meshgrid(nx, ny, cd22*3600)
	return &Header{Wave: linearWave(crval, cdelt, npix), X: x, Y: y}, nil
}
