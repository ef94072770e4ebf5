package binning

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// engine carries the inputs shared by the binning phases
type engine struct {
	x, y          []float64
	signal, noise []float64
	target        float64
	pixelSize     float64
	index         *spatialIndex
	opts          Options
}

// accrete grows bins one at a time around seed spaxels.
//
// classe[i] is the 1-based accretion bin of spaxel i; good[c] reports
// whether bin c came within goodBinFraction of the target. good[0] is unused.
func (e *engine) accrete() (classe []int, good []bool) {
	n := len(e.x)
	classe = make([]int, n)
	good = []bool{false}
	unbinned := func(i int) bool { return classe[i] == 0 }

	sn := make([]float64, n)
	for i := range sn {
		sn[i] = e.signal[i] / e.noise[i]
	}

	// First seed is the highest S/N spaxel; MaxIdx keeps the first maximum
	seed := floats.MaxIdx(sn)
	binned := 0
	var sumXAll, sumYAll float64

	for ind := 1; ind <= n; ind++ {
		good = append(good, false)

		members := []int{seed}
		classe[seed] = ind
		binned++
		sumX, sumY := e.x[seed], e.y[seed]
		sumS, sumN2 := e.signal[seed], e.noise[seed]*e.noise[seed]
		binSN := sumS / math.Sqrt(sumN2)

		for {
			if binned == n {
				// Ran out of spaxels while still growing
				good[ind] = binSN > goodBinFraction*e.target
				break
			}

			cx := sumX / float64(len(members))
			cy := sumY / float64(len(members))
			next, _, _ := e.index.nearestWhere(cx, cy, 2*len(members)+8, unbinned)

			candidate := append(members[:len(members):len(members)], next)
			newSN := (sumS + e.signal[next]) / math.Sqrt(sumN2+e.noise[next]*e.noise[next])

			// The candidate must touch a member of the bin, keep it round,
			// and bring the S/N closer to the target without lowering it
			if e.memberDistance(next, members) > maxConnectDistance*e.pixelSize ||
				roundness(candidate, e.x, e.y, e.pixelSize) > maxRoundness ||
				math.Abs(newSN-e.target) > math.Abs(binSN-e.target) ||
				binSN > newSN {
				good[ind] = binSN > goodBinFraction*e.target
				break
			}

			members = candidate
			classe[next] = ind
			binned++
			sumX += e.x[next]
			sumY += e.y[next]
			sumS += e.signal[next]
			sumN2 += e.noise[next] * e.noise[next]
			binSN = newSN
		}

		for _, m := range members {
			sumXAll += e.x[m]
			sumYAll += e.y[m]
		}
		if binned == n {
			break
		}

		// Next seed: the unbinned spaxel closest to the centroid of
		// everything binned so far
		cx := sumXAll / float64(binned)
		cy := sumYAll / float64(binned)
		seed, _, _ = e.index.nearestWhere(cx, cy, 16, unbinned)
	}

	return classe, good
}

// memberDistance returns the distance from spaxel k to the closest of members
func (e *engine) memberDistance(k int, members []int) float64 {
	best := math.Inf(1)
	for _, m := range members {
		dx := e.x[m] - e.x[k]
		dy := e.y[m] - e.y[k]
		if d := dx*dx + dy*dy; d < best {
			best = d
		}
	}
	return math.Sqrt(best)
}

// roundness measures how far a set of spaxels departs from a disc:
// the largest distance from the geometric centroid over the radius of a
// disc of the same area, minus one
func roundness(members []int, x, y []float64, pixelSize float64) float64 {
	n := float64(len(members))
	var cx, cy float64
	for _, m := range members {
		cx += x[m]
		cy += y[m]
	}
	cx /= n
	cy /= n

	maxDist2 := 0.0
	for _, m := range members {
		dx := x[m] - cx
		dy := y[m] - cy
		if d := dx*dx + dy*dy; d > maxDist2 {
			maxDist2 = d
		}
	}

	equivalentRadius := math.Sqrt(n/math.Pi) * pixelSize
	return math.Sqrt(maxDist2)/equivalentRadius - 1
}
