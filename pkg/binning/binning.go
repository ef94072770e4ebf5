// Package binning implements adaptive two-dimensional spatial binning of
// spaxels to a target signal-to-noise ratio.
//
// The method follows Cappellari & Copin (2003): bins are first accreted
// around the brightest unbinned spaxel under connectivity, roundness and S/N
// criteria; spaxels of bins that fall short of the target are reassigned to
// the nearest successful bin; finally a centroidal Voronoi tessellation
// (weighted, following Diehl & Statler 2006, by default) is iterated to
// remove the imprint of the accretion order and even out the bin S/N.
//
// Signals add linearly and noises add in quadrature, so the S/N of a set of
// spaxels is sum(signal) / sqrt(sum(noise^2)).
//
// All ties, whether between equally bright seeds or equidistant neighbours,
// resolve to the lowest spaxel index, which makes the result a pure function
// of the input order.
package binning

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnreachableTarget is returned when even all spaxels together do
	// not reach the target S/N
	ErrUnreachableTarget = errors.New("target S/N unreachable")

	// ErrInvalidNoise is returned when a noise value is not a positive
	// finite number, leaving the S/N undefined
	ErrInvalidNoise = errors.New("noise must be positive and finite")

	// ErrInvalidInput reports inconsistent or non-finite inputs other than
	// the noise
	ErrInvalidInput = errors.New("invalid binning input")
)

// Accretion and refinement constants from Cappellari & Copin (2003)
const (
	maxConnectDistance = 1.2 // in pixel sizes
	maxRoundness       = 0.3
	goodBinFraction    = 0.8
	convergedShift     = 0.1 // generator shift in pixel sizes
)

// DefaultTolerance is the relative S/N shortfall tolerated before a final
// bin is flagged as a leftover
const DefaultTolerance = 0.2

// Options controls the binning
type Options struct {
	// PixelSize is the spaxel size in the units of x and y. Zero derives it
	// from the smallest separation between spaxels.
	PixelSize float64

	// CVT enables the centroidal Voronoi tessellation refinement
	CVT bool

	// WVT selects the weighted Voronoi tessellation variant of the
	// refinement (geometric centroids with per-bin scale lengths). When
	// false, generators move to the (S/N)^4 weighted centroids.
	WVT bool

	// MaxIterations caps the refinement loop. Zero uses the number of
	// generators.
	MaxIterations int

	// Tolerance is the relative shortfall below the target S/N above which
	// a final bin is flagged as a leftover. Zero selects DefaultTolerance.
	Tolerance float64

	// GeometricCentroids reports unweighted bin centroids instead of
	// flux-weighted ones
	GeometricCentroids bool

	// Workers bounds the goroutines used for tessellation. Zero uses all
	// CPUs.
	Workers int
}

// DefaultOptions returns the options used by the pipeline
func DefaultOptions() Options {
	return Options{CVT: true, WVT: true, Tolerance: DefaultTolerance}
}

// Result is the binning assignment together with per-bin quantities.
// Bins are numbered 0..NumBins()-1.
type Result struct {
	// BinNum maps every input spaxel to its bin
	BinNum []int

	// XNode and YNode are the bin generators of the tessellation
	XNode, YNode []float64

	// XBar and YBar are the bin centroids
	XBar, YBar []float64

	// SN is the aggregate S/N of each bin
	SN []float64

	// NPixels is the number of member spaxels of each bin
	NPixels []int

	// Scale holds the per-bin scale lengths of the weighted tessellation
	Scale []float64

	// Leftover flags bins whose S/N stays below the target by more than
	// the configured tolerance
	Leftover []bool

	// PixelSize is the pixel size the binning used
	PixelSize float64

	// Accreted is the number of bins the accretion phase produced,
	// including those later dissolved
	Accreted int

	// Iterations is the number of refinement passes run
	Iterations int

	// Unbinned reports that every spaxel already exceeded the target and
	// was returned as its own bin
	Unbinned bool
}

// NumBins returns the number of bins
func (r *Result) NumBins() int { return len(r.SN) }

// Members returns the spaxel indices of every bin, in ascending order
func (r *Result) Members() [][]int {
	members := make([][]int, r.NumBins())
	for i, b := range r.BinNum {
		members[b] = append(members[b], i)
	}
	return members
}

// Bin partitions the spaxels at (x, y) with the given per-spaxel signal and
// noise into bins reaching targetSN
func Bin(x, y, signal, noise []float64, targetSN float64, opts Options) (*Result, error) {
	n := len(x)
	if n == 0 {
		return nil, fmt.Errorf("%w: no spaxels", ErrInvalidInput)
	}
	if len(y) != n || len(signal) != n || len(noise) != n {
		return nil, fmt.Errorf("%w: lengths x=%d y=%d signal=%d noise=%d",
			ErrInvalidInput, n, len(y), len(signal), len(noise))
	}
	if !(targetSN > 0) || math.IsInf(targetSN, 0) {
		return nil, fmt.Errorf("%w: target S/N %v", ErrInvalidInput, targetSN)
	}
	for i := 0; i < n; i++ {
		if !(noise[i] > 0) || math.IsInf(noise[i], 0) {
			return nil, fmt.Errorf("%w: spaxel %d has noise %v", ErrInvalidNoise, i, noise[i])
		}
		if !isFinite(signal[i]) || !isFinite(x[i]) || !isFinite(y[i]) {
			return nil, fmt.Errorf("%w: spaxel %d has non-finite signal or position", ErrInvalidInput, i)
		}
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	if total := snOf(all, signal, noise); total < targetSN {
		return nil, fmt.Errorf("%w: all %d spaxels together reach S/N %.3g, target %.3g",
			ErrUnreachableTarget, n, total, targetSN)
	}

	sn := make([]float64, n)
	for i := range sn {
		sn[i] = signal[i] / noise[i]
	}
	if floats.Min(sn) > targetSN || n == 1 {
		return unbinned(x, y, sn, opts.PixelSize), nil
	}

	index := newSpatialIndex(x, y)
	pixelSize := opts.PixelSize
	if pixelSize <= 0 {
		pixelSize = index.minSeparation(x, y)
		if !(pixelSize > 0) {
			return nil, fmt.Errorf("%w: spaxels share coordinates", ErrInvalidInput)
		}
	}

	e := &engine{
		x: x, y: y, signal: signal, noise: noise,
		target:    targetSN,
		pixelSize: pixelSize,
		index:     index,
		opts:      opts,
	}

	classe, good := e.accrete()
	xnode, ynode := e.reassignBadBins(classe, good)

	scale := make([]float64, len(xnode))
	for i := range scale {
		scale[i] = 1
	}
	iterations := 0
	if opts.CVT {
		xnode, ynode, scale, iterations = e.refine(xnode, ynode)
	}

	res := e.finalize(xnode, ynode, scale)
	res.Accreted = len(good) - 1
	res.Iterations = iterations
	return res, nil
}

// unbinned returns every spaxel as its own bin
func unbinned(x, y, sn []float64, pixelSize float64) *Result {
	n := len(x)
	res := &Result{
		BinNum:    make([]int, n),
		XNode:     append([]float64(nil), x...),
		YNode:     append([]float64(nil), y...),
		XBar:      append([]float64(nil), x...),
		YBar:      append([]float64(nil), y...),
		SN:        append([]float64(nil), sn...),
		NPixels:   make([]int, n),
		Scale:     make([]float64, n),
		Leftover:  make([]bool, n),
		PixelSize: pixelSize,
		Accreted:  n,
		Unbinned:  true,
	}
	for i := 0; i < n; i++ {
		res.BinNum[i] = i
		res.NPixels[i] = 1
		res.Scale[i] = 1
	}
	return res
}

// snOf returns the S/N of the spaxels in index taken together
func snOf(index []int, signal, noise []float64) float64 {
	var s, n2 float64
	for _, i := range index {
		s += signal[i]
		n2 += noise[i] * noise[i]
	}
	return s / math.Sqrt(n2)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
