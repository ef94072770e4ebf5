package binning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grid returns the coordinates of a w x h spaxel grid with x varying fastest
func grid(w, h int) (x, y []float64) {
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x = append(x, float64(i))
			y = append(y, float64(j))
		}
	}
	return x, y
}

// galaxy returns an exponential surface brightness profile with constant noise
func galaxy(w, h int, peak, rs, noise float64) (x, y, signal, sigma []float64) {
	x, y = grid(w, h)
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2
	for i := range x {
		r := math.Hypot(x[i]-cx, y[i]-cy)
		signal = append(signal, peak*math.Exp(-r/rs))
		sigma = append(sigma, noise)
	}
	return x, y, signal, sigma
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// checkPartition verifies that the result is a partition of the spaxels and
// that the reported per-bin quantities match the membership
func checkPartition(t *testing.T, res *Result, signal, noise []float64, target float64) {
	t.Helper()

	nb := res.NumBins()
	require.Len(t, res.BinNum, len(signal))
	require.Len(t, res.XNode, nb)
	require.Len(t, res.YNode, nb)
	require.Len(t, res.XBar, nb)
	require.Len(t, res.YBar, nb)
	require.Len(t, res.NPixels, nb)
	require.Len(t, res.Scale, nb)
	require.Len(t, res.Leftover, nb)

	seen := make([]int, len(signal))
	total := 0
	for k, idx := range res.Members() {
		require.NotEmpty(t, idx, "bin %d is empty", k)
		assert.Equal(t, len(idx), res.NPixels[k])
		assert.InDelta(t, snOf(idx, signal, noise), res.SN[k], 1e-9)
		for _, i := range idx {
			seen[i]++
		}
		total += len(idx)

		if !res.Leftover[k] {
			assert.GreaterOrEqual(t, res.SN[k], target*(1-DefaultTolerance))
		}
	}
	assert.Equal(t, len(signal), total)
	for i, c := range seen {
		assert.Equal(t, 1, c, "spaxel %d appears %d times", i, c)
	}
}

func TestRoundness(t *testing.T) {
	x, y := grid(4, 1)
	assert.InDelta(t, -1.0, roundness([]int{0}, x, y, 1), 1e-12)

	// A straight line of four pixels is too elongated
	assert.Greater(t, roundness([]int{0, 1, 2, 3}, x, y, 1), maxRoundness)

	x, y = grid(2, 2)
	want := math.Sqrt(0.5)/math.Sqrt(4/math.Pi) - 1
	assert.InDelta(t, want, roundness([]int{0, 1, 2, 3}, x, y, 1), 1e-12)
}

func TestSpatialIndexTies(t *testing.T) {
	x := []float64{0, 1, -1, 0}
	y := []float64{1, 0, 0, -1}
	idx := newSpatialIndex(x, y)

	k, d := idx.nearest(0, 0)
	assert.Equal(t, 0, k)
	assert.Equal(t, 1.0, d)

	k, _, ok := idx.nearestWhere(0, 0, 1, func(i int) bool { return i >= 2 })
	require.True(t, ok)
	assert.Equal(t, 2, k)

	_, _, ok = idx.nearestWhere(0, 0, 1, func(int) bool { return false })
	assert.False(t, ok)

	assert.Equal(t, math.Sqrt2, idx.minSeparation(x, y))
}

// Nine S/N = 10 spaxels and a target of 20: four spaxels in quadrature give
// exactly S/N 20, so both corner squares close at four members and the last
// corner is left on its own.
func TestAccretionUniformGrid(t *testing.T) {
	x, y := grid(3, 3)
	e := &engine{
		x: x, y: y,
		signal:    constant(9, 100),
		noise:     constant(9, 10),
		target:    20,
		pixelSize: 1,
		index:     newSpatialIndex(x, y),
		opts:      DefaultOptions(),
	}

	classe, good := e.accrete()
	assert.Equal(t, []int{1, 1, 2, 1, 1, 2, 3, 2, 2}, classe)
	assert.Equal(t, []bool{false, true, true, false}, good)
	assert.InDelta(t, 20.0, snOf([]int{0, 1, 3, 4}, e.signal, e.noise), 1e-12)
	assert.InDelta(t, 20.0, snOf([]int{2, 5, 7, 8}, e.signal, e.noise), 1e-12)
}

// A spaxel diagonal to the centroid of a 2x2 bin is still adjacent to one
// of its members
func TestAccretionConnectsToMembers(t *testing.T) {
	x, y := grid(3, 3)
	e := &engine{x: x, y: y, pixelSize: 1}

	square := []int{0, 1, 3, 4}
	assert.Equal(t, 1.0, e.memberDistance(2, square))
	assert.Equal(t, 1.0, e.memberDistance(8, square))
	assert.Equal(t, 2.0, e.memberDistance(8, []int{0, 1, 2}))
}

func TestBinUniformGrid(t *testing.T) {
	x, y := grid(3, 3)
	signal := constant(9, 100)
	noise := constant(9, 10)

	res, err := Bin(x, y, signal, noise, 20, DefaultOptions())
	require.NoError(t, err)
	checkPartition(t, res, signal, noise, 20)

	// The lone corner joins the nearest successful bin
	assert.Equal(t, 3, res.Accreted)
	require.Equal(t, 2, res.NumBins())
	assert.Equal(t, []int{5, 4}, res.NPixels)
	assert.InDelta(t, math.Sqrt(500), res.SN[0], 1e-9)
	assert.InDelta(t, 20.0, res.SN[1], 1e-9)
	for _, sn := range res.SN {
		assert.GreaterOrEqual(t, sn, 20.0-1e-9)
	}
	assert.Equal(t, []bool{false, false}, res.Leftover)
	assert.Equal(t, 1.0, res.PixelSize)
}

// S/N 5 per spaxel and a target of 15 need about nine spaxels per bin
func TestBinUniformField(t *testing.T) {
	const target = 15.0
	x, y := grid(20, 20)
	signal := constant(len(x), 50)
	noise := constant(len(x), 10)

	for _, opts := range []Options{DefaultOptions(), {CVT: false}} {
		res, err := Bin(x, y, signal, noise, target, opts)
		require.NoError(t, err)
		checkPartition(t, res, signal, noise, target)

		assert.InDelta(t, float64(len(x))/9, float64(res.NumBins()), 12, "cvt=%v", opts.CVT)

		leftovers := 0
		for k, sn := range res.SN {
			if res.Leftover[k] {
				leftovers++
				continue
			}
			assert.LessOrEqual(t, math.Abs(sn-target)/target, 0.35, "bin %d: S/N %.2f", k, sn)
		}
		assert.Less(t, leftovers, res.NumBins()/4, "cvt=%v", opts.CVT)
	}
}

func TestBinGalaxy(t *testing.T) {
	x, y, signal, noise := galaxy(16, 16, 200, 2.5, 10)

	for _, opts := range []Options{
		DefaultOptions(),
		{CVT: true, WVT: false},
		{CVT: false},
	} {
		res, err := Bin(x, y, signal, noise, 15, opts)
		require.NoError(t, err)
		checkPartition(t, res, signal, noise, 15)
		assert.Greater(t, res.NumBins(), 1)
		assert.Less(t, res.NumBins(), len(x))

		// Most bins reach the target
		leftovers := 0
		for _, l := range res.Leftover {
			if l {
				leftovers++
			}
		}
		assert.Less(t, leftovers, res.NumBins())
	}
}

func TestBinDeterministic(t *testing.T) {
	x, y, signal, noise := galaxy(14, 12, 150, 3, 10)

	first, err := Bin(x, y, signal, noise, 12, Options{CVT: true, WVT: true, Workers: 1})
	require.NoError(t, err)
	second, err := Bin(x, y, signal, noise, 12, Options{CVT: true, WVT: true, Workers: 4})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBinAllAboveTarget(t *testing.T) {
	x, y := grid(2, 2)
	signal := []float64{500, 600, 700, 800}
	noise := constant(4, 10)

	res, err := Bin(x, y, signal, noise, 20, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.Unbinned)
	assert.Equal(t, []int{0, 1, 2, 3}, res.BinNum)
	assert.Equal(t, []float64{50, 60, 70, 80}, res.SN)
	checkPartition(t, res, signal, noise, 20)
}

func TestBinErrors(t *testing.T) {
	x, y := grid(2, 2)

	_, err := Bin(x, y, constant(4, 1), constant(4, 1), 10, DefaultOptions())
	assert.ErrorIs(t, err, ErrUnreachableTarget)

	_, err = Bin(x, y, constant(4, 1), []float64{1, 0, 1, 1}, 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidNoise)

	_, err = Bin(x, y, constant(4, 1), []float64{1, -2, 1, 1}, 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidNoise)

	_, err = Bin(x, y, []float64{1, math.NaN(), 1, 1}, constant(4, 1), 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Bin(x[:3], y, constant(4, 1), constant(4, 1), 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Bin(nil, nil, nil, nil, 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Bin([]float64{0, 0}, []float64{0, 0}, []float64{1, 1}, []float64{1, 1}, 1.2, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)
}
