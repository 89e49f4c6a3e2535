package quadmapper

import (
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mapper"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// Split returns the quadrant of box selected by sym. Symbols outside
// '0'..'3' leave the box unchanged.
func Split(box model.BBox, sym byte) model.BBox {
	x0, y0 := box.BottomLeft.X, box.BottomLeft.Y
	x1, y1 := box.TopRight.X, box.TopRight.Y
	cx := (x0 + x1) / 2
	cy := (y0 + y1) / 2

	out := box
	switch sym {
	case '0':
		out.BottomLeft = model.Vec2{X: x0, Y: cy}
		out.TopRight = model.Vec2{X: cx, Y: y1}
	case '1':
		out.BottomLeft = model.Vec2{X: x0, Y: y0}
		out.TopRight = model.Vec2{X: cx, Y: cy}
	case '2':
		out.BottomLeft = model.Vec2{X: cx, Y: cy}
		out.TopRight = model.Vec2{X: x1, Y: y1}
	case '3':
		out.BottomLeft = model.Vec2{X: cx, Y: y0}
		out.TopRight = model.Vec2{X: x1, Y: cy}
	}
	return out
}

// BoundingBox applies Split for every symbol after the root symbol.
func BoundingBox(id model.NodeID, root model.BBox) model.BBox {
	box := root
	for i := 1; i < len(id); i++ {
		box = Split(box, id[i])
	}
	return box
}

// Offset is the direction of a quadrant's center from its parent's center,
// with dx growing east and dz growing north.
func Offset(sym byte) (dx, dz float64) {
	switch sym {
	case '0':
		return -1, 1
	case '1':
		return -1, -1
	case '2':
		return 1, 1
	case '3':
		return 1, -1
	}
	return 0, 0
}

func (m *Mapper) BoundingBox(id model.NodeID, root model.BBox) model.BBox {
	return BoundingBox(id, root)
}

// Intersecting lists id and every descendant down to maxDepth whose box
// intersects region, parents before children.
func (m *Mapper) Intersecting(id model.NodeID, root, region model.BBox, maxDepth int) []model.NodeID {
	var out []model.NodeID
	var walk func(n model.NodeID, box model.BBox)
	walk = func(n model.NodeID, box model.BBox) {
		if !box.Intersects(region) {
			return
		}
		out = append(out, n)
		if n.Depth() >= maxDepth {
			return
		}
		for _, sym := range model.Symbols {
			walk(n.Child(sym), Split(box, sym))
		}
	}
	walk(id, BoundingBox(id, root))
	return out
}
