package lod

import "github.com/mohammed-shakir/wms-lod-stream/internal/core/model"

const DefaultThreshold = 2.5

type Decision int

const (
	Subdivide Decision = iota + 1
	Join
)

func (d Decision) String() string {
	switch d {
	case Subdivide:
		return "SUBDIVIDE"
	case Join:
		return "JOIN"
	}
	return "NONE"
}

// Radius is the mean extent of bounds over the three axes.
func Radius(bounds model.AABB) float64 {
	s := bounds.Size()
	return (s.X + s.Y + s.Z) / 3
}

// DistanceTest subdivides while the viewer is closer to bounds than
// threshold radii. A viewer inside bounds is at distance zero.
func DistanceTest(bounds model.AABB, viewer model.Vec3, threshold float64) Decision {
	d := viewer.Sub(bounds.ClosestPoint(viewer)).Len()
	if d < threshold*Radius(bounds) {
		return Subdivide
	}
	return Join
}
