// Package mapper converts between quadtree node ids and map extents.
package mapper

import (
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

type Interface interface {
	BoundingBox(id model.NodeID, root model.BBox) model.BBox
	Intersecting(id model.NodeID, root, region model.BBox, maxDepth int) []model.NodeID
}
