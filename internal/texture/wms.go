package texture

import (
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/ogc"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mapper"
	quadmapper "github.com/mohammed-shakir/wms-lod-stream/internal/mapper/quad"
)

// WMSConfig is everything a child tile inherits from its parent.
type WMSConfig struct {
	Server   string
	Version  string
	Layers   []string
	Format   string
	TileSize int
	// BBox is the extent of the root tile; its SRS is sent with every
	// GetMap.
	BBox model.BBox
}

// WMS requests GetMap tiles covering the node's share of the root extent.
type WMS struct {
	tile
	mapper     mapper.Interface
	cfg        WMSConfig
	fixedQuery string
}

var _ Provider = (*WMS)(nil)

func NewWMS(f Fetcher, target Target, m mapper.Interface, logger *slog.Logger) *WMS {
	if m == nil {
		m = quadmapper.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &WMS{
		tile:   tile{kind: KindWMS, fetcher: f, target: target, logger: logger},
		mapper: m,
	}
	w.tile.validate = validateWMS
	return w
}

func (w *WMS) Kind() Kind { return KindWMS }

// Configure replaces the configuration and rebuilds the GetMap query.
func (w *WMS) Configure(cfg WMSConfig) {
	cfg.Layers = slices.Clone(cfg.Layers)
	w.cfg = cfg
	w.rebuildQuery()
}

func (w *WMS) Config() WMSConfig {
	cfg := w.cfg
	cfg.Layers = slices.Clone(cfg.Layers)
	return cfg
}

func (w *WMS) FixedQuery() string { return w.fixedQuery }

func (w *WMS) SetLayerSelected(name string, selected bool) {
	i := slices.Index(w.cfg.Layers, name)
	switch {
	case selected && i < 0:
		w.cfg.Layers = append(w.cfg.Layers, name)
	case !selected && i >= 0:
		w.cfg.Layers = slices.Delete(w.cfg.Layers, i, i+1)
	default:
		return
	}
	w.rebuildQuery()
}

func (w *WMS) LayerSelected(name string) bool {
	return slices.Contains(w.cfg.Layers, name)
}

// SetBoundingBox changes the root extent used for every tile.
func (w *WMS) SetBoundingBox(bb model.BBox) {
	w.cfg.BBox = bb
	w.rebuildQuery()
}

func (w *WMS) rebuildQuery() {
	w.fixedQuery = ogc.GetMapQuery(ogc.GetMapParams{
		Version: w.cfg.Version,
		Layers:  w.cfg.Layers,
		SRS:     w.cfg.BBox.SRS,
		Width:   w.cfg.TileSize,
		Height:  w.cfg.TileSize,
		Format:  w.cfg.Format,
	})
}

// TileURL and TileKey describe the request for id without issuing it.
func (w *WMS) TileURL(id model.NodeID) string {
	bb := w.mapper.BoundingBox(id, w.cfg.BBox)
	return w.cfg.Server + w.fixedQuery + "&BBOX=" + bb.WMSParam()
}

func (w *WMS) TileKey(id model.NodeID) string {
	return keys.Texture(w.mapper.BoundingBox(id, w.cfg.BBox))
}

func (w *WMS) RequestTexture(id model.NodeID) {
	if w.cfg.Server == "" {
		w.reject(id, fmt.Errorf("%w: empty wms server", ErrConfiguration))
		return
	}
	w.request(id, w.TileURL(id), w.TileKey(id))
}

func (w *WMS) RequestPreview() { w.RequestTexture(model.RootNodeID) }

func (w *WMS) PollAndApply() bool { return w.poll() }

func (w *WMS) CopyConfigurationTo(dst Provider) error {
	d, ok := dst.(*WMS)
	if !ok {
		return fmt.Errorf("%w: cannot copy wms configuration to %T", ErrConfiguration, dst)
	}
	d.cfg = w.Config()
	d.fixedQuery = w.fixedQuery
	return nil
}

// validateWMS rejects exception reports, which servers send with status 200.
func validateWMS(key string, body []byte) (image.Image, error) {
	if msg, ok := ogc.ServiceException(body); ok {
		return nil, &DecodeError{Key: key, Msg: "service exception: " + msg}
	}
	return decodeImage(key, body)
}
