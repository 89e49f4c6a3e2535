// Package scene is the boundary between the LOD tree and whatever draws it.
package scene

import (
	"image"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mesh"
)

// Node is the rendering-side object a quadtree node drives.
type Node interface {
	WorldBounds() model.AABB
	SetVisible(visible bool)
	Visible() bool
	AttachMesh(m *mesh.Mesh)
	Mesh() *mesh.Mesh
	// SetTexture receives the decoded image for the tile id.
	SetTexture(id model.NodeID, img image.Image)
	// CreateChild returns a hidden node laid out as quadrant sym, carrying
	// a copy of this node's mesh.
	CreateChild(sym byte) Node
}
