package texture

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

const DefaultBingTemplate = "http://ecn.t{subdomain}.tiles.virtualearth.net/tiles/a{quadkey}.jpeg?g=1"

type BingConfig struct {
	// URLTemplate may contain {quadkey} and {subdomain}.
	URLTemplate string
	// RootQuadKey is the Bing tile the quadtree root covers.
	RootQuadKey string
	Subdomains  []string
}

// Bing requests Bing Maps style quadkey tiles.
type Bing struct {
	tile
	cfg BingConfig
}

var _ Provider = (*Bing)(nil)

func NewBing(f Fetcher, target Target, logger *slog.Logger) *Bing {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bing{tile: tile{kind: KindBing, fetcher: f, target: target, logger: logger}}
	b.tile.validate = decodeImage
	return b
}

func (b *Bing) Kind() Kind { return KindBing }

func (b *Bing) Configure(cfg BingConfig) {
	cfg.Subdomains = append([]string(nil), cfg.Subdomains...)
	b.cfg = cfg
}

func (b *Bing) Config() BingConfig {
	cfg := b.cfg
	cfg.Subdomains = append([]string(nil), cfg.Subdomains...)
	return cfg
}

// QuadKey maps a node id onto a Bing quadkey. Bing numbers quadrants
// 0=NW 1=NE 2=SW 3=SE, so the node path is remapped digit by digit.
func (b *Bing) QuadKey(id model.NodeID) string {
	var sb strings.Builder
	sb.WriteString(b.cfg.RootQuadKey)
	for i := 1; i < len(id); i++ {
		switch id[i] {
		case '0':
			sb.WriteByte('0')
		case '1':
			sb.WriteByte('2')
		case '2':
			sb.WriteByte('1')
		case '3':
			sb.WriteByte('3')
		}
	}
	return sb.String()
}

func (b *Bing) TileURL(id model.NodeID) string {
	qk := b.QuadKey(id)
	sub := "0"
	if n := len(b.cfg.Subdomains); n > 0 && qk != "" {
		if c := qk[len(qk)-1]; c >= '0' && c <= '9' {
			sub = b.cfg.Subdomains[int(c-'0')%n]
		} else {
			sub = b.cfg.Subdomains[0]
		}
	}
	tmpl := b.cfg.URLTemplate
	if tmpl == "" {
		tmpl = DefaultBingTemplate
	}
	r := strings.NewReplacer("{quadkey}", qk, "{subdomain}", sub)
	return r.Replace(tmpl)
}

func (b *Bing) TileKey(id model.NodeID) string {
	return keys.QuadKeyTile(b.QuadKey(id))
}

func (b *Bing) RequestTexture(id model.NodeID) {
	if b.cfg.RootQuadKey == "" {
		b.reject(id, fmt.Errorf("%w: empty root quadkey", ErrConfiguration))
		return
	}
	b.request(id, b.TileURL(id), b.TileKey(id))
}

func (b *Bing) RequestPreview() { b.RequestTexture(model.RootNodeID) }

func (b *Bing) PollAndApply() bool { return b.poll() }

func (b *Bing) CopyConfigurationTo(dst Provider) error {
	d, ok := dst.(*Bing)
	if !ok {
		return fmt.Errorf("%w: cannot copy bing configuration to %T", ErrConfiguration, dst)
	}
	d.cfg = b.Config()
	return nil
}
