package mate

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// parallelEpsilon is the cross product magnitude below which two directions
// are treated as parallel.
const parallelEpsilon = 1e-6

// axisAngle is the acute angle in degrees between two unit directions,
// ignoring orientation.
func axisAngle(a, b v3.Vec) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return math.Acos(d) * 180 / math.Pi
}

// axisDistance is the shortest distance between the infinite lines
// (pa, da) and (pb, db). Near-parallel lines fall back to the mean of the
// two point-to-line distances so the result does not depend on which line
// is first.
func axisDistance(pa, da, pb, db v3.Vec) float64 {
	cross := da.Cross(db)
	n := cross.Length()
	if n < parallelEpsilon {
		return (pointLineDistance(pb, pa, da) + pointLineDistance(pa, pb, db)) / 2
	}
	return math.Abs(pb.Sub(pa).Dot(cross)) / n
}

// pointLineDistance is the distance from p to the line through q along unit d.
func pointLineDistance(p, q, d v3.Vec) float64 {
	return p.Sub(q).Cross(d).Length()
}

// planeDistance is the separation of two planes measured along their
// normals, averaged over both normals.
func planeDistance(pa, na, pb, nb v3.Vec) float64 {
	return (math.Abs(pa.Sub(pb).Dot(nb)) + math.Abs(pb.Sub(pa).Dot(na))) / 2
}

func distance(a, b v3.Vec) float64 {
	return a.Sub(b).Length()
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
