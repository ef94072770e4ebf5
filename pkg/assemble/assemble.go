// Package assemble packages the products of a run into the single structure
// handed to spectral fitting.
package assemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrShapeMismatch is returned when the arrays handed to Assemble disagree
// in length
var ErrShapeMismatch = errors.New("output shape mismatch")

// Run carries the scalar settings a run was made with
type Run struct {
	Name        string  `json:"runname"`
	Survey      string  `json:"survey"`
	Redshift    float64 `json:"redshift"`
	ScaleFactor float64 `json:"scale_factor"`
	SNR         float64 `json:"snr"`
	Velscale    float64 `json:"velscale"`
	Lmin        float64 `json:"lmin"`
	Lmax        float64 `json:"lmax"`
	Porder      int     `json:"porder"`
	Border      int     `json:"border"`
	MaskWidth   float64 `json:"mask_width"`
}

// Input holds the arrays of a run. Per-spaxel arrays cover the selected
// spaxels only. Spectra are indexed [bin][pixel].
type Input struct {
	Run

	// Per spaxel
	BinID []int  `json:"binID"`
	X     Vector `json:"x"`
	Y     Vector `json:"y"`
	Flux  Vector `json:"flux"`

	// Per bin
	XBin     Vector `json:"xbin"`
	YBin     Vector `json:"ybin"`
	XBar     Vector `json:"xbar"`
	YBar     Vector `json:"ybar"`
	BinFlux  Vector `json:"bin_flux"`
	BinSNR   Vector `json:"bin_snr"`
	NPixels  []int  `json:"npixels"`
	Leftover []bool `json:"leftover"`

	// Log-rebinned, normalised spectra
	SpecObs  []Vector `json:"spec_obs"`
	SigmaObs []Vector `json:"sigma_obs"`

	// WaveObs is ln(lambda) of the log grid, Wave the linear axis of the cut
	WaveObs Vector `json:"wave_obs"`
	Wave    Vector `json:"wave"`

	Mask []int `json:"mask"`
}

// Output is the immutable product of one run
type Output struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Input

	NSpec   int `json:"nspec"`
	NBins   int `json:"nbins"`
	NPix    int `json:"npix"`
	NPixObs int `json:"npix_obs"`
	NMask   int `json:"nmask"`
}

// Assemble validates in and returns an Output holding copies of its arrays
func Assemble(in Input) (*Output, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}

	out := &Output{
		RunID:     newRunID(),
		CreatedAt: time.Now().UTC(),
		Input: Input{
			Run:      in.Run,
			BinID:    cloneInts(in.BinID),
			X:        in.X.Clone(),
			Y:        in.Y.Clone(),
			Flux:     in.Flux.Clone(),
			XBin:     in.XBin.Clone(),
			YBin:     in.YBin.Clone(),
			XBar:     in.XBar.Clone(),
			YBar:     in.YBar.Clone(),
			BinFlux:  in.BinFlux.Clone(),
			BinSNR:   in.BinSNR.Clone(),
			NPixels:  cloneInts(in.NPixels),
			Leftover: append([]bool{}, in.Leftover...),
			SpecObs:  cloneRows(in.SpecObs),
			SigmaObs: cloneRows(in.SigmaObs),
			WaveObs:  in.WaveObs.Clone(),
			Wave:     in.Wave.Clone(),
			Mask:     cloneInts(in.Mask),
		},
		NSpec:   len(in.BinID),
		NBins:   len(in.XBin),
		NPix:    len(in.Wave),
		NPixObs: len(in.WaveObs),
		NMask:   len(in.Mask),
	}
	return out, nil
}

func validate(in *Input) error {
	nspec := len(in.BinID)
	nbins := len(in.XBin)
	npixObs := len(in.WaveObs)

	if nspec == 0 || nbins == 0 {
		return fmt.Errorf("%w: %d spaxels, %d bins", ErrShapeMismatch, nspec, nbins)
	}

	perSpaxel := map[string]int{"x": len(in.X), "y": len(in.Y), "flux": len(in.Flux)}
	for name, n := range perSpaxel {
		if n != nspec {
			return fmt.Errorf("%w: %s has %d entries, want %d spaxels", ErrShapeMismatch, name, n, nspec)
		}
	}
	perBin := map[string]int{
		"ybin": len(in.YBin), "xbar": len(in.XBar), "ybar": len(in.YBar),
		"bin_flux": len(in.BinFlux), "bin_snr": len(in.BinSNR),
		"npixels": len(in.NPixels), "leftover": len(in.Leftover),
		"spec_obs": len(in.SpecObs), "sigma_obs": len(in.SigmaObs),
	}
	for name, n := range perBin {
		if n != nbins {
			return fmt.Errorf("%w: %s has %d entries, want %d bins", ErrShapeMismatch, name, n, nbins)
		}
	}

	for i, b := range in.BinID {
		if b < 0 || b >= nbins {
			return fmt.Errorf("%w: spaxel %d in bin %d of %d", ErrShapeMismatch, i, b, nbins)
		}
	}
	for k := 0; k < nbins; k++ {
		if len(in.SpecObs[k]) != npixObs || len(in.SigmaObs[k]) != npixObs {
			return fmt.Errorf("%w: bin %d spectra have %d/%d pixels, want %d",
				ErrShapeMismatch, k, len(in.SpecObs[k]), len(in.SigmaObs[k]), npixObs)
		}
	}
	for i, v := range in.Mask {
		if v < 0 || v >= npixObs || (i > 0 && v <= in.Mask[i-1]) {
			return fmt.Errorf("%w: mask index %d at position %d", ErrShapeMismatch, v, i)
		}
	}
	return nil
}

// newRunID returns a time-ordered UUID, falling back to a random one
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func cloneInts(v []int) []int { return append([]int{}, v...) }

func cloneRows(rows []Vector) []Vector {
	out := make([]Vector, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
