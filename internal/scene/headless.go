package scene

import (
	"image"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	quadmapper "github.com/mohammed-shakir/wms-lod-stream/internal/mapper/quad"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mesh"
)

// Headless keeps transforms and textures in memory. It backs the server
// binary and the tests.
type Headless struct {
	position model.Vec3
	scale    model.Vec3
	mesh     *mesh.Mesh
	visible  bool

	textureID model.NodeID
	texture   image.Image
}

var _ Node = (*Headless)(nil)

// NewHeadless returns a visible root at position with unit scale.
func NewHeadless(position model.Vec3, m *mesh.Mesh) *Headless {
	return &Headless{
		position: position,
		scale:    model.Vec3{X: 1, Y: 1, Z: 1},
		mesh:     m,
		visible:  true,
	}
}

func (h *Headless) WorldBounds() model.AABB {
	local := h.mesh.Bounds()
	a := h.position.Add(local.Min.Mul(h.scale))
	b := h.position.Add(local.Max.Mul(h.scale))
	return model.AABB{
		Min: model.Vec3{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: model.Vec3{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

func (h *Headless) SetVisible(v bool)       { h.visible = v }
func (h *Headless) Visible() bool           { return h.visible }
func (h *Headless) AttachMesh(m *mesh.Mesh) { h.mesh = m }
func (h *Headless) Mesh() *mesh.Mesh        { return h.mesh }
func (h *Headless) Position() model.Vec3    { return h.position }
func (h *Headless) Scale() model.Vec3       { return h.scale }

func (h *Headless) SetTexture(id model.NodeID, img image.Image) {
	h.textureID = id
	h.texture = img
}

// Texture returns the last image applied and the tile it came from.
func (h *Headless) Texture() (model.NodeID, image.Image) { return h.textureID, h.texture }

func (h *Headless) CreateChild(sym byte) Node {
	size := h.WorldBounds().Size()
	dx, dz := quadmapper.Offset(sym)
	return &Headless{
		position: h.position.Add(model.Vec3{X: dx * size.X / 4, Z: dz * size.Z / 4}),
		scale:    h.scale.Mul(model.Vec3{X: 0.5, Y: 1, Z: 0.5}),
		mesh:     h.mesh.Copy(),
	}
}
