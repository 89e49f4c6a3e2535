package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

const (
	OpTiles        = "tiles"
	OpCapabilities = "capabilities"
)

// Event tells running streamers that upstream map data changed.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	TS      time.Time `json:"ts"`
	// Seq orders events from one Source; zero disables dedupe.
	Seq    uint64 `json:"seq,omitempty"`
	Source string `json:"source,omitempty"`
	BBox   *BBox  `json:"bbox,omitempty"`
	// Server and WMSVersion identify the capabilities document to refresh.
	Server     string `json:"server,omitempty"`
	WMSVersion string `json:"wms_version,omitempty"`
}

type BBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	SRS  string  `json:"srs"`
}

func (b BBox) Model() model.BBox {
	return model.NewBBox(b.MinX, b.MinY, b.MaxX, b.MaxY, b.SRS)
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpTiles:
		if e.BBox == nil {
			return fmt.Errorf("bbox is required for op %q", e.Op)
		}
		if strings.TrimSpace(e.BBox.SRS) == "" {
			return fmt.Errorf("bbox.srs is required")
		}
		if !e.BBox.Model().Valid() {
			return fmt.Errorf("bbox must satisfy maxx>minx and maxy>miny")
		}
	case OpCapabilities:
		if strings.TrimSpace(e.Server) == "" {
			return fmt.Errorf("server is required for op %q", e.Op)
		}
	default:
		return fmt.Errorf("op must be tiles|capabilities")
	}
	return nil
}

// DedupeKey groups events whose Seq values are comparable.
func (e Event) DedupeKey() string {
	return e.Op + "|" + e.Source
}
