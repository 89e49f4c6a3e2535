package model

import (
	"math"
	"testing"
)

func TestResizeKeepingRatio_UsesBothAxes(t *testing.T) {
	old := NewBBox(0, 0, 200, 100, "EPSG:3857")

	// widen by 20 on the right: ratio 2 means top grows by 10
	edited := old
	edited.TopRight.X = 220

	got := ResizeKeepingRatio(old, edited, true)
	if got.TopRight.X != 220 || got.TopRight.Y != 110 {
		t.Fatalf("got %+v want top-right (220,110)", got.TopRight)
	}
	if math.Abs(got.Width()/got.Height()-2) > 1e-9 {
		t.Fatalf("ratio not preserved: %v", got.Width()/got.Height())
	}
}

func TestResizeKeepingRatio_Disabled(t *testing.T) {
	old := NewBBox(0, 0, 200, 100, "")
	edited := NewBBox(5, 5, 50, 60, "")
	if got := ResizeKeepingRatio(old, edited, false); got != edited {
		t.Fatalf("got %+v want %+v", got, edited)
	}
}

func TestResizeKeepingRatio_DegenerateOldBox(t *testing.T) {
	old := NewBBox(10, 10, 10, 10, "")
	edited := NewBBox(10, 10, 12, 10, "")
	got := ResizeKeepingRatio(old, edited, true)
	if math.IsNaN(got.TopRight.Y) || math.IsInf(got.TopRight.Y, 0) {
		t.Fatalf("degenerate box produced %v", got.TopRight.Y)
	}
}

func TestFormatCoord_NoExponent(t *testing.T) {
	cases := map[float64]string{
		416000:    "416000",
		3067000.5: "3067000.5",
		1e21:      "1000000000000000000000",
		-0.25:     "-0.25",
	}
	for in, want := range cases {
		if got := FormatCoord(in); got != want {
			t.Fatalf("FormatCoord(%v)=%q want %q", in, got, want)
		}
	}
}

func TestWMSParam_FixedPoint(t *testing.T) {
	b := NewBBox(416000, 3067000, 466000, 3117000, "EPSG:32628")
	if got, want := b.WMSParam(), "416000.00,3067000.00,466000.00,3117000.00"; got != want {
		t.Fatalf("WMSParam=%q want %q", got, want)
	}
}

func TestAABB_ClosestPoint(t *testing.T) {
	a := AABB{Min: Vec3{-5, 0, -5}, Max: Vec3{5, 0, 5}}
	p := a.ClosestPoint(Vec3{10, 3, 0})
	if p != (Vec3{5, 0, 0}) {
		t.Fatalf("closest=%+v", p)
	}
}

func TestCapabilities_BoundingBoxLookup(t *testing.T) {
	c := &Capabilities{
		Layers: []Layer{
			{Name: "a", Title: "A", BoundingBoxes: []BBox{NewBBox(0, 0, 1, 1, "EPSG:4326")}},
			{Name: "b", Title: "B", BoundingBoxes: []BBox{
				NewBBox(0, 0, 2, 2, "EPSG:4326"),
				NewBBox(0, 0, 3, 3, "EPSG:3857"),
			}},
		},
	}
	names := c.BoundingBoxNames([]string{"b"})
	if len(names) != 2 || names[1] != "B (EPSG:3857)" {
		t.Fatalf("names=%v", names)
	}
	bb, ok := c.BoundingBox([]string{"a", "b"}, 2)
	if !ok || bb.SRS != "EPSG:3857" {
		t.Fatalf("BoundingBox(2)=%+v ok=%v", bb, ok)
	}
	if _, ok := c.BoundingBox([]string{"a"}, 1); ok {
		t.Fatalf("expected out of range")
	}
}

func TestBBoxString_CarriesSRS(t *testing.T) {
	b := NewBBox(0, 50, 50, 100, "EPSG:3006")
	if got, want := b.String(), "0.000000,50.000000,50.000000,100.000000,EPSG:3006"; got != want {
		t.Fatalf("String=%q want %q", got, want)
	}
}
