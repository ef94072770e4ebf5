package binning

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is a spaxel or bin generator position carrying its index, so that
// results survive the reordering kdtree.New applies to its input
type point struct {
	X, Y  float64
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p point) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// points is a collection of point that satisfies kdtree.Interface
type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot uses the median of medians so that the tree, and with it every
// query result, is the same from run to run.
func (p points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{points: p, Dim: d}, kdtree.MedianOfMedians(pointPlane{points: p, Dim: d}))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for points
type pointPlane struct {
	points
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.points[i].X < p.points[j].X
	case 1:
		return p.points[i].Y < p.points[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{points: p.points[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// spatialIndex answers nearest-neighbour queries over a fixed point set
type spatialIndex struct {
	tree *kdtree.Tree
	n    int
}

func newSpatialIndex(x, y []float64) *spatialIndex {
	pts := make(points, len(x))
	for i := range x {
		pts[i] = point{X: x[i], Y: y[i], Index: i}
	}
	return &spatialIndex{tree: kdtree.New(pts, false), n: len(x)}
}

// nearest returns the index of the point closest to (x, y) and the squared
// distance to it. Equidistant points resolve to the lowest index.
func (s *spatialIndex) nearest(x, y float64) (int, float64) {
	q := point{X: x, Y: y}
	c, d := s.tree.Nearest(q)
	best := c.(point).Index

	keeper := kdtree.NewDistKeeper(d)
	s.tree.NearestSet(keeper, q)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil || cd.Dist > d {
			continue
		}
		if idx := cd.Comparable.(point).Index; idx < best {
			best = idx
		}
	}
	return best, d
}

// nearestWhere returns the closest point for which keep reports true, with
// the same tie rule as nearest. It widens the candidate set until the answer
// is certain. ok is false when no point qualifies.
func (s *spatialIndex) nearestWhere(x, y float64, start int, keep func(int) bool) (idx int, dist2 float64, ok bool) {
	q := point{X: x, Y: y}
	k := start
	if k < 1 {
		k = 1
	}
	for {
		if k > s.n {
			k = s.n
		}
		keeper := kdtree.NewNKeeper(k)
		s.tree.NearestSet(keeper, q)

		idx, dist2 = -1, math.Inf(1)
		farthest := 0.0
		found := 0
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			found++
			if cd.Dist > farthest {
				farthest = cd.Dist
			}
			i := cd.Comparable.(point).Index
			if !keep(i) {
				continue
			}
			if cd.Dist < dist2 || (cd.Dist == dist2 && i < idx) {
				idx, dist2 = i, cd.Dist
			}
		}

		// Certain once the best candidate is strictly inside the searched
		// radius, or once every point has been looked at
		if found >= s.n || (idx >= 0 && dist2 < farthest) {
			return idx, dist2, idx >= 0
		}
		k *= 2
	}
}

// minSeparation returns the smallest distance between two points of the set,
// which serves as the pixel size when none is given
func (s *spatialIndex) minSeparation(x, y []float64) float64 {
	best := math.Inf(1)
	for i := range x {
		keeper := kdtree.NewNKeeper(2)
		s.tree.NearestSet(keeper, point{X: x[i], Y: y[i]})
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil || cd.Comparable.(point).Index == i {
				continue
			}
			if cd.Dist < best {
				best = cd.Dist
			}
		}
	}
	return math.Sqrt(best)
}
