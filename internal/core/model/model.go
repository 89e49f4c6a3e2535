// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
	"strconv"
)

type Vec2 struct {
	X, Y float64
}

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Mul is the component-wise product.
func (v Vec3) Mul(o Vec3) Vec3 { return Vec3{v.X * o.X, v.Y * o.Y, v.Z * o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{v.X * f, v.Y * f, v.Z * f} }

func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// BBox is a map extent in the given SRS.
type BBox struct {
	BottomLeft Vec2
	TopRight   Vec2
	SRS        string
}

func NewBBox(x0, y0, x1, y1 float64, srs string) BBox {
	return BBox{BottomLeft: Vec2{x0, y0}, TopRight: Vec2{x1, y1}, SRS: srs}
}

func (b BBox) Width() float64  { return b.TopRight.X - b.BottomLeft.X }
func (b BBox) Height() float64 { return b.TopRight.Y - b.BottomLeft.Y }

func (b BBox) Center() Vec2 {
	return Vec2{(b.BottomLeft.X + b.TopRight.X) / 2, (b.BottomLeft.Y + b.TopRight.Y) / 2}
}

// Valid reports whether the box has positive extent on both axes.
func (b BBox) Valid() bool {
	return b.TopRight.X > b.BottomLeft.X && b.TopRight.Y > b.BottomLeft.Y
}

func (b BBox) Intersects(o BBox) bool {
	return b.BottomLeft.X < o.TopRight.X && o.BottomLeft.X < b.TopRight.X &&
		b.BottomLeft.Y < o.TopRight.Y && o.BottomLeft.Y < b.TopRight.Y
}

// WMSParam formats the box as a WMS BBOX value in fixed-point notation.
func (b BBox) WMSParam() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f",
		b.BottomLeft.X, b.BottomLeft.Y, b.TopRight.X, b.TopRight.Y)
}

// String is minx,miny,maxx,maxy,srs; used in logs and error messages.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s",
		b.BottomLeft.X, b.BottomLeft.Y, b.TopRight.X, b.TopRight.Y, b.SRS)
}

// FormatCoord renders a coordinate with the shortest exact decimal
// representation and never uses an exponent.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ResizeKeepingRatio applies an edit from old to edited. When keepRatio is
// set, a change on one axis is propagated to the other so the box keeps the
// aspect ratio of old.
func ResizeKeepingRatio(old, edited BBox, keepRatio bool) BBox {
	out := edited
	if !keepRatio {
		return out
	}

	width := old.Width()
	if width == 0 {
		width = 1
	}
	height := old.Height()
	if height == 0 {
		height = 1
	}
	ratio := width / height

	// x edits move y and vice versa
	out.BottomLeft.Y += (edited.BottomLeft.X - old.BottomLeft.X) / ratio
	out.TopRight.Y += (edited.TopRight.X - old.TopRight.X) / ratio
	out.BottomLeft.X += (edited.BottomLeft.Y - old.BottomLeft.Y) * ratio
	out.TopRight.X += (edited.TopRight.Y - old.TopRight.Y) * ratio
	return out
}

// AABB is an axis aligned box in world space.
type AABB struct {
	Min, Max Vec3
}

func (a AABB) Size() Vec3 { return a.Max.Sub(a.Min) }

func (a AABB) ClosestPoint(p Vec3) Vec3 {
	return Vec3{
		X: clamp(p.X, a.Min.X, a.Max.X),
		Y: clamp(p.Y, a.Min.Y, a.Max.Y),
		Z: clamp(p.Z, a.Min.Z, a.Max.Z),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Layer struct {
	Name          string
	Title         string
	BoundingBoxes []BBox
}

// Capabilities is the parsed description of a WMS server.
type Capabilities struct {
	ServerTitle string
	Version     string
	Formats     []string
	Layers      []Layer
}

func (c *Capabilities) LayerTitles() []string {
	out := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		out = append(out, l.Title)
	}
	return out
}

func (c *Capabilities) Layer(name string) (Layer, bool) {
	for _, l := range c.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// BoundingBoxes lists the boxes offered by the selected layers, in layer order.
func (c *Capabilities) BoundingBoxes(selected []string) []BBox {
	var out []BBox
	for _, name := range selected {
		if l, ok := c.Layer(name); ok {
			out = append(out, l.BoundingBoxes...)
		}
	}
	return out
}

// BoundingBoxNames returns display names ("layer (SRS)") for BoundingBoxes.
func (c *Capabilities) BoundingBoxNames(selected []string) []string {
	var out []string
	for _, name := range selected {
		l, ok := c.Layer(name)
		if !ok {
			continue
		}
		for _, bb := range l.BoundingBoxes {
			out = append(out, fmt.Sprintf("%s (%s)", l.Title, bb.SRS))
		}
	}
	return out
}

func (c *Capabilities) BoundingBox(selected []string, i int) (BBox, bool) {
	all := c.BoundingBoxes(selected)
	if i < 0 || i >= len(all) {
		return BBox{}, false
	}
	return all[i], true
}
