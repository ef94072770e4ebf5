package binning

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ifubin/internal/parallel"
)

// reassignBadBins dissolves the accretion bins that missed the target and
// hands their spaxels to the nearest successful bin. It returns the
// geometric centroids of the surviving bins, in accretion order.
func (e *engine) reassignBadBins(classe []int, good []bool) (xnode, ynode []float64) {
	n := len(e.x)

	// Successful bins, renumbered 0..m-1 in accretion order
	remap := make([]int, len(good))
	m := 0
	for c := 1; c < len(good); c++ {
		remap[c] = -1
		if good[c] {
			remap[c] = m
			m++
		}
	}

	if m == 0 {
		// Nothing reached the target on its own; the whole set does,
		// so it becomes a single bin
		return []float64{floats.Sum(e.x) / float64(n)}, []float64{floats.Sum(e.y) / float64(n)}
	}

	assign := make([]int, n)
	for i := 0; i < n; i++ {
		assign[i] = remap[classe[i]]
	}
	xnode, ynode = geometricCentroids(assign, m, e.x, e.y)

	nodes := newSpatialIndex(xnode, ynode)
	for i := 0; i < n; i++ {
		if assign[i] < 0 {
			assign[i], _ = nodes.nearest(e.x[i], e.y[i])
		}
	}

	return geometricCentroids(assign, m, e.x, e.y)
}

// refine iterates the (weighted) centroidal Voronoi tessellation until the
// generators stop moving, the assignment stops changing, or the iteration
// cap is reached
func (e *engine) refine(xnode, ynode []float64) (xOut, yOut, scale []float64, iterations int) {
	scale = make([]float64, len(xnode))
	for i := range scale {
		scale[i] = 1
	}

	maxIter := e.opts.MaxIterations
	if maxIter <= 0 {
		maxIter = len(xnode)
	}
	if maxIter < 1 {
		maxIter = 1
	}

	// (S/N)^4 weights produce equal-mass bins (Cappellari & Copin 2003, section 4.1)
	var dens2 []float64
	if !e.opts.WVT {
		dens2 = make([]float64, len(e.x))
		for i := range dens2 {
			sn := e.signal[i] / e.noise[i]
			dens2[i] = sn * sn * sn * sn
		}
	}

	var previous []int
	for iterations = 1; iterations <= maxIter; iterations++ {
		assign := e.tessellate(xnode, ynode, scale)
		assign, keep := compact(assign, len(xnode))
		xnode, ynode, scale = pick(xnode, keep), pick(ynode, keep), pick(scale, keep)
		xOld := append([]float64(nil), xnode...)
		yOld := append([]float64(nil), ynode...)

		members := groupMembers(assign, len(xnode))
		for k, idx := range members {
			if e.opts.WVT {
				xnode[k], ynode[k] = meanXY(idx, e.x, e.y)
				// Eq. (4) of Diehl & Statler (2006); bins without
				// positive S/N keep their previous scale
				if sn := snOf(idx, e.signal, e.noise); sn > 0 {
					scale[k] = math.Sqrt(float64(len(idx)) / sn)
				}
			} else {
				var mass, mx, my float64
				for _, i := range idx {
					mass += dens2[i]
					mx += e.x[i] * dens2[i]
					my += e.y[i] * dens2[i]
				}
				xnode[k], ynode[k] = mx/mass, my/mass
			}
		}

		var diff2 float64
		for k := range xnode {
			dx := xnode[k] - xOld[k]
			dy := ynode[k] - yOld[k]
			diff2 += dx*dx + dy*dy
		}
		if math.Sqrt(diff2)/e.pixelSize < convergedShift || equalInts(assign, previous) {
			break
		}
		previous = assign
	}
	if iterations > maxIter {
		iterations = maxIter
	}

	return xnode, ynode, scale, iterations
}

// finalize assigns every spaxel to its generator and computes the per-bin
// quantities of the result
func (e *engine) finalize(xnode, ynode, scale []float64) *Result {
	assign := e.tessellate(xnode, ynode, scale)
	assign, keep := compact(assign, len(xnode))
	xnode, ynode, scale = pick(xnode, keep), pick(ynode, keep), pick(scale, keep)

	nb := len(xnode)
	res := &Result{
		BinNum:    assign,
		XNode:     xnode,
		YNode:     ynode,
		XBar:      make([]float64, nb),
		YBar:      make([]float64, nb),
		SN:        make([]float64, nb),
		NPixels:   make([]int, nb),
		Scale:     scale,
		Leftover:  make([]bool, nb),
		PixelSize: e.pixelSize,
	}

	floor := (1 - e.opts.Tolerance) * e.target
	for k, idx := range groupMembers(assign, nb) {
		res.XBar[k], res.YBar[k] = e.centroid(idx)
		res.SN[k] = snOf(idx, e.signal, e.noise)
		res.NPixels[k] = len(idx)
		res.Leftover[k] = res.SN[k] < floor
	}
	return res
}

// centroid returns the flux-weighted centroid of a bin, falling back to the
// geometric centroid for single spaxels, non-positive total flux, or when
// geometric centroids were requested
func (e *engine) centroid(idx []int) (float64, float64) {
	if len(idx) == 1 {
		return e.x[idx[0]], e.y[idx[0]]
	}
	if e.opts.GeometricCentroids {
		return meanXY(idx, e.x, e.y)
	}

	var s, sx, sy float64
	for _, i := range idx {
		s += e.signal[i]
		sx += e.x[i] * e.signal[i]
		sy += e.y[i] * e.signal[i]
	}
	if !(s > 0) {
		return meanXY(idx, e.x, e.y)
	}
	return sx / s, sy / s
}

// tessellate assigns every spaxel to the generator with the smallest scaled
// distance |p - node| / scale. Ties go to the lowest generator index.
func (e *engine) tessellate(xnode, ynode, scale []float64) []int {
	n := len(e.x)
	assign := make([]int, n)

	uniform := true
	for _, s := range scale {
		if s != scale[0] {
			uniform = false
			break
		}
	}

	if uniform {
		nodes := newSpatialIndex(xnode, ynode)
		_ = parallel.For(n, e.opts.Workers, func(i int) error {
			assign[i], _ = nodes.nearest(e.x[i], e.y[i])
			return nil
		})
		return assign
	}

	inv2 := make([]float64, len(scale))
	for k, s := range scale {
		inv2[k] = 1 / (s * s)
	}
	_ = parallel.For(n, e.opts.Workers, func(i int) error {
		best, bestDist := 0, math.Inf(1)
		for k := range xnode {
			dx := e.x[i] - xnode[k]
			dy := e.y[i] - ynode[k]
			if d := (dx*dx + dy*dy) * inv2[k]; d < bestDist {
				best, bestDist = k, d
			}
		}
		assign[i] = best
		return nil
	})
	return assign
}

// compact drops generators without members and renumbers the assignment.
// keep lists the surviving generator indices in their original order.
func compact(assign []int, nnodes int) ([]int, []int) {
	used := make([]bool, nnodes)
	for _, a := range assign {
		used[a] = true
	}
	remap := make([]int, nnodes)
	var keep []int
	for k := 0; k < nnodes; k++ {
		if used[k] {
			remap[k] = len(keep)
			keep = append(keep, k)
		}
	}
	if len(keep) == nnodes {
		return assign, keep
	}
	out := make([]int, len(assign))
	for i, a := range assign {
		out[i] = remap[a]
	}
	return out, keep
}

func pick(v []float64, keep []int) []float64 {
	out := make([]float64, len(keep))
	for i, k := range keep {
		out[i] = v[k]
	}
	return out
}

func groupMembers(assign []int, nbins int) [][]int {
	members := make([][]int, nbins)
	for i, a := range assign {
		if a >= 0 {
			members[a] = append(members[a], i)
		}
	}
	return members
}

func geometricCentroids(assign []int, nbins int, x, y []float64) ([]float64, []float64) {
	xc := make([]float64, nbins)
	yc := make([]float64, nbins)
	for k, idx := range groupMembers(assign, nbins) {
		if len(idx) == 0 {
			continue
		}
		xc[k], yc[k] = meanXY(idx, x, y)
	}
	return xc, yc
}

func meanXY(idx []int, x, y []float64) (float64, float64) {
	var sx, sy float64
	for _, i := range idx {
		sx += x[i]
		sy += y[i]
	}
	n := float64(len(idx))
	return sx / n, sy / n
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
