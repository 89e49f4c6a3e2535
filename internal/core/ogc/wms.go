// Package ogc builds WMS requests and parses WMS responses.
package ogc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

// ParseError reports a WMS document that could not be understood.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "wms parse: " + e.Msg + ": " + e.Err.Error()
	}
	return "wms parse: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func CapabilitiesURL(server, version string) string {
	if version == "" {
		version = keys.DefaultWMSVersion
	}
	return server + "?REQUEST=GetCapabilities&SERVICE=WMS&VERSION=" + version
}

type GetMapParams struct {
	Version string
	Layers  []string
	SRS     string
	Width   int
	Height  int
	Format  string
}

// GetMapQuery returns the fixed part of a GetMap query string (everything
// but BBOX), starting with '?'.
func GetMapQuery(p GetMapParams) string {
	version := p.Version
	if version == "" {
		version = keys.DefaultWMSVersion
	}
	format := strings.TrimSpace(p.Format)
	if format == "" {
		format = "image/jpeg"
	}
	w, h := p.Width, p.Height
	if w <= 0 {
		w = 256
	}
	if h <= 0 {
		h = w
	}

	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", version)
	params.Set("REQUEST", "GetMap")
	params.Set("LAYERS", strings.Join(p.Layers, ","))
	params.Set("STYLES", "")
	// 1.3.0 renamed SRS to CRS
	if strings.HasPrefix(version, "1.3") {
		params.Set("CRS", p.SRS)
	} else {
		params.Set("SRS", p.SRS)
	}
	params.Set("WIDTH", strconv.Itoa(w))
	params.Set("HEIGHT", strconv.Itoa(h))
	params.Set("FORMAT", format)
	return "?" + params.Encode()
}

type capabilitiesDoc struct {
	XMLName    xml.Name
	Version    string `xml:"version,attr"`
	Service    struct {
		Title string `xml:"Title"`
	} `xml:"Service"`
	Capability struct {
		Request struct {
			GetMap struct {
				Format []string `xml:"Format"`
			} `xml:"GetMap"`
		} `xml:"Request"`
		Layer xmlLayer `xml:"Layer"`
	} `xml:"Capability"`
}

type xmlLayer struct {
	Name        string     `xml:"Name"`
	Title       string     `xml:"Title"`
	BoundingBox []xmlBBox  `xml:"BoundingBox"`
	Layers      []xmlLayer `xml:"Layer"`
}

type xmlBBox struct {
	SRS  string  `xml:"SRS,attr"`
	CRS  string  `xml:"CRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type serviceExceptionReport struct {
	XMLName    xml.Name `xml:"ServiceExceptionReport"`
	Exceptions []struct {
		Code string `xml:"code,attr"`
		Text string `xml:",chardata"`
	} `xml:"ServiceException"`
}

// ParseCapabilities parses a GetCapabilities response (WMS 1.1.x or 1.3.0).
// Layers are flattened depth first; a layer without boxes inherits its
// parent's.
func ParseCapabilities(body []byte) (*model.Capabilities, error) {
	if msg, ok := ServiceException(body); ok {
		return nil, &ParseError{Msg: "server returned exception: " + msg}
	}

	var doc capabilitiesDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Msg: "decode capabilities", Err: err}
	}
	switch doc.XMLName.Local {
	case "WMT_MS_Capabilities", "WMS_Capabilities":
	default:
		return nil, &ParseError{Msg: fmt.Sprintf("unexpected root element %q", doc.XMLName.Local)}
	}

	out := &model.Capabilities{
		ServerTitle: strings.TrimSpace(doc.Service.Title),
		Version:     doc.Version,
		Formats:     doc.Capability.Request.GetMap.Format,
	}
	flattenLayers(doc.Capability.Layer, nil, &out.Layers)
	return out, nil
}

func flattenLayers(l xmlLayer, inherited []model.BBox, out *[]model.Layer) {
	boxes := make([]model.BBox, 0, len(l.BoundingBox))
	for _, b := range l.BoundingBox {
		srs := b.SRS
		if srs == "" {
			srs = b.CRS
		}
		boxes = append(boxes, model.NewBBox(b.MinX, b.MinY, b.MaxX, b.MaxY, strings.TrimSpace(srs)))
	}
	if len(boxes) == 0 {
		boxes = inherited
	}
	if l.Name != "" || l.Title != "" {
		*out = append(*out, model.Layer{
			Name:          strings.TrimSpace(l.Name),
			Title:         strings.TrimSpace(l.Title),
			BoundingBoxes: boxes,
		})
	}
	for _, child := range l.Layers {
		flattenLayers(child, boxes, out)
	}
}

// ServiceException extracts the message of a ServiceExceptionReport body.
func ServiceException(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' || !bytes.Contains(trimmed, []byte("ServiceException")) {
		return "", false
	}
	var rep serviceExceptionReport
	if err := xml.Unmarshal(trimmed, &rep); err != nil {
		return "", false
	}
	msgs := make([]string, 0, len(rep.Exceptions))
	for _, e := range rep.Exceptions {
		m := strings.TrimSpace(e.Text)
		if e.Code != "" {
			m = e.Code + ": " + m
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return "", false
	}
	return strings.Join(msgs, "; "), true
}

var ErrEmptyServer = errors.New("empty server url")

// ValidateServerURL checks that a server URL is absolute http(s).
func ValidateServerURL(server string) error {
	if strings.TrimSpace(server) == "" {
		return ErrEmptyServer
	}
	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server url %q has no host", server)
	}
	return nil
}
