// Package pipeline runs the full preparation of one IFU cube: wavelength
// preparation, spaxel selection, adaptive binning, co-addition,
// log-rebinning, masking and assembly of the output product.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"

	"ifubin/internal/models"
	"ifubin/internal/parallel"
	"ifubin/pkg/assemble"
	"ifubin/pkg/binning"
	"ifubin/pkg/logrebin"
	"ifubin/pkg/mask"
	"ifubin/pkg/selection"
	"ifubin/pkg/spectra"
)

// ProgressCallback reports progress through the pipeline stages
type ProgressCallback func(completed, total int, message string)

// Run holds the per-run settings, one row of the run table
type Run struct {
	// Name labels the run in the output product
	Name string

	// SNR is the target S/N of the bins
	SNR float64

	// SNRMin is the minimum S/N used to set the selection floor
	SNRMin float64

	// Lmin and Lmax bound the rest-frame wavelength window in Angstrom
	Lmin, Lmax float64

	// Redshift of the target
	Redshift float64

	// Velscale is the velocity width of a log-rebinned pixel in km/s
	Velscale float64

	// MaskMode, MaskWidth (km/s), Vmax (km/s) and Lines configure the mask
	MaskMode  mask.Mode
	MaskWidth float64
	Vmax      float64
	Lines     []float64

	// Porder and Border are the polynomial orders carried to the fit
	Porder, Border int
}

// Params holds everything a Pipeline needs
type Params struct {
	// Cube is the input datacube. It is never modified.
	Cube *models.Cube

	// Run is the run configuration
	Run Run

	// NumCores bounds the goroutines used for per-bin work
	NumCores int

	// Selection and Binning tune the selection and binning stages
	Selection selection.Options
	Binning   binning.Options

	// SaveIntermediaryResults writes per-stage arrays under IntermediaryDir
	SaveIntermediaryResults bool
	IntermediaryDir         string

	// Logger receives diagnostics; nil discards them
	Logger *slog.Logger
}

// Pipeline processes one cube with one run configuration
type Pipeline struct {
	params           *Params
	logger           *slog.Logger
	progressCallback ProgressCallback
}

const totalSteps = 8

// NewPipeline creates a pipeline for params
func NewPipeline(params *Params) *Pipeline {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{params: params, logger: logger}
}

// SetProgressCallback sets a callback function for progress reporting
func (p *Pipeline) SetProgressCallback(callback ProgressCallback) {
	p.progressCallback = callback
}

func (p *Pipeline) reportProgress(step int, message string) {
	p.logger.Info(message, "step", step, "total", totalSteps)
	if p.progressCallback != nil {
		p.progressCallback(step, totalSteps, message)
	}
}

// Process runs every stage and returns the assembled product. Any stage
// failure aborts the run.
func (p *Pipeline) Process() (*assemble.Output, error) {
	run := p.params.Run
	cube := p.params.Cube
	if cube == nil {
		return nil, fmt.Errorf("%w: no cube", models.ErrMalformedCube)
	}
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if !(run.SNR > 0) || !(run.Velscale > 0) {
		return nil, fmt.Errorf("run %q: SNR and velscale must be positive", run.Name)
	}

	if p.params.SaveIntermediaryResults {
		if err := os.MkdirAll(p.params.IntermediaryDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	// Step 1: redshift correction and wavelength cut
	p.reportProgress(1, "Correcting for redshift and cutting the wavelength range")
	rest := *cube
	rest.Wave = spectra.Deredshift(cube.Wave, run.Redshift)
	lmin, lmax := spectra.ClampRange(rest.Wave, run.Lmin, run.Lmax)
	cut, err := spectra.CutWindow(&rest, lmin, lmax)
	if err != nil {
		return nil, fmt.Errorf("wavelength cut: %w", err)
	}
	p.logger.Debug("wavelength window", "lmin", lmin, "lmax", lmax, "npix", cut.NumPixels())

	// Step 2: rescale so the smallest positive flux is of order unity
	p.reportProgress(2, "Rescaling flux and noise")
	factor, err := logrebin.ScaleFactor(cut.Flux, cut.Noise)
	if err != nil {
		return nil, fmt.Errorf("scale factor: %w", err)
	}
	logrebin.ApplyScale(cut.Flux, cut.Noise, factor)
	p.logger.Debug("scale factor", "factor", factor)

	// Step 3: spaxel S/N and selection
	p.reportProgress(3, "Selecting spaxels above the S/N floor")
	signal, noise, err := selection.ComputeSNR(cut.Flux, cut.Noise)
	if err != nil {
		return nil, err
	}
	if err := p.saveIntermediaryResult("01_spaxel_signal", signal, 0); err != nil {
		p.logger.Warn("failed to save intermediary result", "stage", "01_spaxel_signal", "err", err)
	}
	sel, err := selection.Select(signal, noise, run.SNRMin, p.params.Selection)
	if err != nil {
		return nil, fmt.Errorf("spaxel selection: %w", err)
	}
	selected := cut.SubsetSpaxels(sel.Index)
	selSignal := pick(signal, sel.Index)
	selNoise := pick(noise, sel.Index)
	p.logger.Info("spaxels selected", "selected", len(sel.Index), "spaxels", cut.NumSpaxels(), "isophote", sel.Isophote)

	// Step 4: adaptive binning
	p.reportProgress(4, "Computing the Voronoi binning")
	opts := p.params.Binning
	if opts.PixelSize == 0 {
		opts.PixelSize = cube.PixelSize
	}
	if opts.Workers == 0 {
		opts.Workers = p.params.NumCores
	}
	bins, err := binning.Bin(selected.X, selected.Y, selSignal, selNoise, run.SNR, opts)
	if err != nil {
		return nil, fmt.Errorf("binning: %w", err)
	}
	nbins := bins.NumBins()
	p.logger.Info("voronoi bins", "bins", nbins, "accreted", bins.Accreted, "iterations", bins.Iterations)
	if err := p.saveIntermediaryResult("02_bin_number", bins.BinNum, 0); err != nil {
		p.logger.Warn("failed to save intermediary result", "stage", "02_bin_number", "err", err)
	}

	// Step 5: co-add the spectra of each bin
	p.reportProgress(5, "Applying the Voronoi binning")
	binned, err := spectra.CoAdd(selected.Flux, selected.Noise, bins.BinNum, nbins, p.params.NumCores)
	if err != nil {
		return nil, fmt.Errorf("co-addition: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		for k, spec := range binned.Flux {
			if err := p.saveIntermediaryResult("03_binned_spectra", spec, k); err != nil {
				p.logger.Warn("failed to save intermediary result", "stage", "03_binned_spectra", "bin", k, "err", err)
			}
		}
	}

	// Step 6: log-rebin and normalise
	p.reportProgress(6, "Log-rebinning and normalizing the spectra")
	grid, err := logrebin.NewGrid(cut.Wave, run.Velscale)
	if err != nil {
		return nil, fmt.Errorf("log-rebin grid: %w", err)
	}
	specObs := make([]assemble.Vector, nbins)
	sigmaObs := make([]assemble.Vector, nbins)
	err = parallel.For(nbins, p.params.NumCores, func(k int) error {
		s, err := grid.Rebin(binned.Flux[k], false)
		if err != nil {
			return fmt.Errorf("bin %d: %w", k, err)
		}
		e, err := grid.Rebin(binned.Noise[k], false)
		if err != nil {
			return fmt.Errorf("bin %d: %w", k, err)
		}
		if _, err := logrebin.Normalize(s, e); err != nil {
			return fmt.Errorf("bin %d: %w", k, err)
		}
		specObs[k], sigmaObs[k] = s, e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("log-rebinning: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		for k, spec := range specObs {
			if err := p.saveIntermediaryResult("04_log_spectra", spec, k); err != nil {
				p.logger.Warn("failed to save intermediary result", "stage", "04_log_spectra", "bin", k, "err", err)
			}
		}
	}

	// Step 7: fitting mask
	p.reportProgress(7, "Defining the data mask")
	goodPixels, err := mask.Build(run.MaskMode, grid.LnLam, mask.Params{
		Lmin:  lmin,
		Lmax:  lmax,
		Width: run.MaskWidth,
		Vmax:  run.Vmax,
		Lines: run.Lines,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("mask", "mode", run.MaskMode, "good", len(goodPixels), "npix", grid.Len())

	// Step 8: assemble
	p.reportProgress(8, "Storing everything in the output structure")
	out, err := assemble.Assemble(assemble.Input{
		Run: assemble.Run{
			Name:        run.Name,
			Survey:      cube.Survey,
			Redshift:    run.Redshift,
			ScaleFactor: factor,
			SNR:         run.SNR,
			Velscale:    run.Velscale,
			Lmin:        lmin,
			Lmax:        lmax,
			Porder:      run.Porder,
			Border:      run.Border,
			MaskWidth:   run.MaskWidth,
		},
		BinID:    bins.BinNum,
		X:        selected.X,
		Y:        selected.Y,
		Flux:     selSignal,
		XBin:     bins.XNode,
		YBin:     bins.YNode,
		XBar:     bins.XBar,
		YBar:     bins.YBar,
		BinFlux:  binned.BinFlux,
		BinSNR:   bins.SN,
		NPixels:  bins.NPixels,
		Leftover: bins.Leftover,
		SpecObs:  specObs,
		SigmaObs: sigmaObs,
		WaveObs:  grid.LnLam,
		Wave:     cut.Wave,
		Mask:     goodPixels,
	})
	if err != nil {
		return nil, fmt.Errorf("assembly: %w", err)
	}
	return out, nil
}

func pick(v []float64, index []int) []float64 {
	out := make([]float64, len(index))
	for i, j := range index {
		out[i] = v[j]
	}
	return out
}
