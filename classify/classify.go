// Package classify implements the ternary Outside/Intersecting/Inside
// classification of a shape against a convex cell, including the scalar
// reference path, an SoA fast path for batches of spheres, and a
// bounding-sphere broad-phase pre-test.
package classify

import (
	"github.com/gekko3d/shscull/cell"
	"github.com/gekko3d/shscull/geom"
)

// Result is the ternary classification outcome.
type Result uint8

const (
	Outside Result = iota
	Intersecting
	Inside
)

func (r Result) String() string {
	switch r {
	case Outside:
		return "Outside"
	case Intersecting:
		return "Intersecting"
	case Inside:
		return "Inside"
	default:
		return "Unknown"
	}
}

// Tolerance bundles the two epsilons the algorithm needs: OutsideEps
// widens the "definitely outside" test (a plane must be violated by more
// than this to count), InsideEps narrows the "definitely inside" test
// (support along the plane normal must clear the plane by at least this
// much). The zero value gives an exact classification; DefaultTolerance
// sets both to 1e-4.
type Tolerance struct {
	OutsideEps float32
	InsideEps  float32
}

// DefaultTolerance absorbs floating point noise in plane extraction
// without producing visible popping.
var DefaultTolerance = Tolerance{OutsideEps: 1e-4, InsideEps: 1e-4}

// DegenerateCellWarner is called (if non-nil) whenever Classify is asked
// to classify against a degenerate cell (no planes, or a plane count
// beyond cell.MaxPlanes). Defaults to nil: callers that care can set this
// to route a log line into their own logger.
var DegenerateCellWarner func(c cell.ConvexCell)

// Classify tests shape s against convex cell c and returns the ternary
// verdict:
//
//	for each plane p:
//	    proj = s.Support(-p.Normal)       // most-outside point's distance along -n
//	    d    = p.SignedDistance along p's own convention
//	    if the shape's support in the inward direction fails the plane
//	    by more than OutsideEps, the shape is Outside.
//	if every plane is cleared by at least InsideEps, the shape is Inside.
//	otherwise Intersecting.
func Classify(s *geom.Shape, c cell.ConvexCell, tol Tolerance) Result {
	if !c.Valid() {
		if DegenerateCellWarner != nil {
			DegenerateCellWarner(c)
		}
		return Intersecting
	}

	allInside := true
	for _, p := range c.Planes {
		// The most-negative point of s along p.Normal is at
		// s.Center - s.Support(-p.Normal)*normal direction; equivalently
		// the minimum signed distance over the shape equals
		// -s.Support(-p.Normal) + p.D... but Support already measures the
		// extreme projection along a direction, so the plane's minimum
		// value over the shape is:
		//
		//   min_{x in s} (n·x + d) = -Support(s, -n) + d
		minVal := -s.Support(p.Normal.Mul(-1)) + p.D
		maxVal := s.Support(p.Normal) + p.D

		if maxVal < -tol.OutsideEps {
			return Outside
		}
		if minVal < tol.InsideEps {
			allInside = false
		}
	}

	if allInside {
		return Inside
	}
	return Intersecting
}

// ClassifyBoundingSphere runs the cheap broad-phase pre-test using only
// the shape's conservative bounding sphere. It can return Outside or
// Inside authoritatively (in which case Classify need not run), but an
// Intersecting result here is only a hint: the caller must still run the
// exact Classify to distinguish real intersection from false positives.
func ClassifyBoundingSphere(sphere geom.Sphere, c cell.ConvexCell, tol Tolerance) Result {
	if !c.Valid() {
		if DegenerateCellWarner != nil {
			DegenerateCellWarner(c)
		}
		return Intersecting
	}

	allInside := true
	for _, p := range c.Planes {
		dist := p.SignedDistance(sphere.Center)
		if dist < -sphere.Radius-tol.OutsideEps {
			return Outside
		}
		if dist < sphere.Radius+tol.InsideEps {
			allInside = false
		}
	}
	if allInside {
		return Inside
	}
	return Intersecting
}

// ClassifyWithBroadPhase runs the sphere pre-test first, only falling
// back to the exact per-shape Classify when the sphere test is
// ambiguous (Intersecting). This mirrors the two-stage broad/narrow
// phase pattern used throughout the engine's culling hot path.
func ClassifyWithBroadPhase(s *geom.Shape, c cell.ConvexCell, tol Tolerance) Result {
	sphere := s.BoundingSphere()
	switch ClassifyBoundingSphere(sphere, c, tol) {
	case Outside:
		return Outside
	case Inside:
		return Inside
	default:
		return Classify(s, c, tol)
	}
}

// SphereBatch is a struct-of-arrays layout for classifying many spheres
// against a single cell without per-element interface/pointer overhead,
// matching the engine's SoA fast path for bulk frustum/light culling.
type SphereBatch struct {
	CenterX []float32
	CenterY []float32
	CenterZ []float32
	Radius  []float32
}

// Len reports the batch size, inferred from CenterX.
func (b *SphereBatch) Len() int { return len(b.CenterX) }

// Add appends one sphere to the batch.
func (b *SphereBatch) Add(s geom.Sphere) {
	b.CenterX = append(b.CenterX, s.Center.X())
	b.CenterY = append(b.CenterY, s.Center.Y())
	b.CenterZ = append(b.CenterZ, s.Center.Z())
	b.Radius = append(b.Radius, s.Radius)
}

// ClassifyBatch classifies every sphere in b against c, writing results
// into out (which is grown/truncated to b.Len()). This is the fast path:
// it avoids constructing a geom.Shape per element and inlines the plane
// loop over contiguous slices.
func ClassifyBatch(b *SphereBatch, c cell.ConvexCell, tol Tolerance, out []Result) []Result {
	n := b.Len()
	if cap(out) < n {
		out = make([]Result, n)
	}
	out = out[:n]

	if !c.Valid() {
		if DegenerateCellWarner != nil {
			DegenerateCellWarner(c)
		}
		for i := range out {
			out[i] = Intersecting
		}
		return out
	}

	for i := 0; i < n; i++ {
		cx, cy, cz, r := b.CenterX[i], b.CenterY[i], b.CenterZ[i], b.Radius[i]
		allInside := true
		result := Inside
		for _, p := range c.Planes {
			dist := p.Normal.X()*cx + p.Normal.Y()*cy + p.Normal.Z()*cz + p.D
			if dist < -r-tol.OutsideEps {
				result = Outside
				allInside = false
				break
			}
			if dist < r+tol.InsideEps {
				allInside = false
			}
		}
		if result == Outside {
			out[i] = Outside
			continue
		}
		if allInside {
			out[i] = Inside
		} else {
			out[i] = Intersecting
		}
	}
	return out
}
