// Package mesh generates the flat terrain meshes that tiles are draped on.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

var ErrResolution = errors.New("mesh: resolution must be at least 2")

// Mesh is an indexed triangle mesh in local space. Y is up.
type Mesh struct {
	Vertices  []model.Vec3
	UVs       []model.Vec2
	Triangles []int
}

// HorizontalPlane builds a square plane of side size centered on the
// origin, with resolution vertices along each edge.
func HorizontalPlane(size float64, resolution int) (*Mesh, error) {
	if resolution < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrResolution, resolution)
	}
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return nil, fmt.Errorf("mesh: invalid size %v", size)
	}

	n := resolution
	step := size / float64(n-1)
	half := size / 2

	m := &Mesh{
		Vertices:  make([]model.Vec3, 0, n*n),
		UVs:       make([]model.Vec2, 0, n*n),
		Triangles: make([]int, 0, (n-1)*(n-1)*6),
	}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			m.Vertices = append(m.Vertices, model.Vec3{
				X: -half + float64(col)*step,
				Y: 0,
				Z: -half + float64(row)*step,
			})
			m.UVs = append(m.UVs, model.Vec2{
				X: float64(col) / float64(n-1),
				Y: float64(row) / float64(n-1),
			})
		}
	}
	for row := 0; row < n-1; row++ {
		for col := 0; col < n-1; col++ {
			i := row*n + col
			// two triangles per cell, wound counter-clockwise seen from +Y
			m.Triangles = append(m.Triangles,
				i, i+n, i+1,
				i+1, i+n, i+n+1,
			)
		}
	}
	return m, nil
}

// Bounds is the local-space AABB. An empty mesh has zero bounds.
func (m *Mesh) Bounds() model.AABB {
	if m == nil || len(m.Vertices) == 0 {
		return model.AABB{}
	}
	lo, hi := m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo.X, hi.X = math.Min(lo.X, v.X), math.Max(hi.X, v.X)
		lo.Y, hi.Y = math.Min(lo.Y, v.Y), math.Max(hi.Y, v.Y)
		lo.Z, hi.Z = math.Min(lo.Z, v.Z), math.Max(hi.Z, v.Z)
	}
	return model.AABB{Min: lo, Max: hi}
}

// IsSquare reports whether the x and z extents match.
func (m *Mesh) IsSquare() bool {
	s := m.Bounds().Size()
	return math.Abs(s.X-s.Z) <= 1e-9*math.Max(1, math.Max(s.X, s.Z))
}

// Copy returns a deep copy so children never share vertex storage.
func (m *Mesh) Copy() *Mesh {
	if m == nil {
		return nil
	}
	out := &Mesh{
		Vertices:  make([]model.Vec3, len(m.Vertices)),
		UVs:       make([]model.Vec2, len(m.UVs)),
		Triangles: make([]int, len(m.Triangles)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.UVs, m.UVs)
	copy(out.Triangles, m.Triangles)
	return out
}
