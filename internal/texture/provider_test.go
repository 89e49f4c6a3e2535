package texture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
)

type recordingTarget struct {
	mu   sync.Mutex
	ids  []model.NodeID
	imgs []image.Image
}

func (r *recordingTarget) SetTexture(id model.NodeID, img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.imgs = append(r.imgs, img)
}

var _ Target = (*recordingTarget)(nil)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// tileServer answers with status and body for every request.
func tileServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, srv *httptest.Server) *fetch.Client {
	t.Helper()
	c := fetch.New(srv.Client())
	t.Cleanup(c.Close)
	return c
}

func rootBox() model.BBox {
	return model.NewBBox(0, 0, 100, 100, "EPSG:3006")
}

func newConfiguredWMS(f Fetcher, target Target, server string) *WMS {
	w := NewWMS(f, target, nil, nil)
	w.Configure(WMSConfig{
		Server:   server,
		Layers:   []string{"roads"},
		TileSize: 256,
		BBox:     rootBox(),
	})
	return w
}

// settle polls until the request behind p has finished and been applied.
func settle(t *testing.T, c *fetch.Client, p Provider) bool {
	t.Helper()
	r, ok := c.Lookup(p.Key())
	if !ok {
		t.Fatalf("no registered request for %q", p.Key())
	}
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch %q did not finish", p.Key())
	}
	return p.PollAndApply()
}

func TestWMS_URLAndKey(t *testing.T) {
	w := newConfiguredWMS(nil, nil, "http://example.org/wms")

	url := w.TileURL("00")
	if !strings.HasPrefix(url, "http://example.org/wms?") {
		t.Fatalf("url prefix: %q", url)
	}
	if !strings.HasSuffix(url, "&BBOX=0.00,50.00,50.00,100.00") {
		t.Fatalf("url bbox: %q", url)
	}
	if !strings.Contains(url, "LAYERS=roads") || !strings.Contains(url, "REQUEST=GetMap") {
		t.Fatalf("url query: %q", url)
	}
	if got, want := w.TileKey("00"), "texture-0-50-50-100.jpg"; got != want {
		t.Fatalf("key got %q want %q", got, want)
	}

	if got := w.TileURL("01"); !strings.HasSuffix(got, "&BBOX=0.00,0.00,50.00,50.00") {
		t.Fatalf("url bbox for 01: %q", got)
	}
	if got, want := w.TileKey("01"), "texture-0-0-50-50.jpg"; got != want {
		t.Fatalf("key for 01 got %q want %q", got, want)
	}
}

func TestWMS_PollAppliesDecodedImage(t *testing.T) {
	srv := tileServer(t, http.StatusOK, pngBytes(t))
	c := newFetcher(t, srv)
	target := &recordingTarget{}
	w := newConfiguredWMS(c, target, srv.URL)

	w.RequestTexture("02")
	if w.Ready() {
		t.Fatal("must not be ready right after request")
	}
	if !settle(t, c, w) {
		t.Fatalf("expected ready after fetch, err=%v", w.Err())
	}
	if !w.Ready() || w.Err() != nil {
		t.Fatalf("ready=%v err=%v", w.Ready(), w.Err())
	}
	if len(target.ids) != 1 || target.ids[0] != "02" {
		t.Fatalf("target ids = %v", target.ids)
	}
	if w.PollAndApply() {
		t.Fatal("second poll must not report a new transition")
	}
}

func TestWMS_ServiceExceptionIsDecodeError(t *testing.T) {
	body := []byte(`<ServiceExceptionReport><ServiceException>Layer not found</ServiceException></ServiceExceptionReport>`)
	srv := tileServer(t, http.StatusOK, body)
	c := newFetcher(t, srv)
	target := &recordingTarget{}
	w := newConfiguredWMS(c, target, srv.URL)

	w.RequestTexture(model.RootNodeID)
	if settle(t, c, w) {
		t.Fatal("exception report must not become ready")
	}
	var de *DecodeError
	if !errors.As(w.Err(), &de) || !strings.Contains(de.Error(), "Layer not found") {
		t.Fatalf("want DecodeError with server message, got %v", w.Err())
	}
	if w.PollAndApply() || w.Ready() {
		t.Fatal("failed tile must stay not ready")
	}
	if len(target.ids) != 0 {
		t.Fatal("nothing should reach the target")
	}
}

func TestWMS_GarbageBytes(t *testing.T) {
	srv := tileServer(t, http.StatusOK, []byte("definitely not an image"))
	c := newFetcher(t, srv)
	w := newConfiguredWMS(c, nil, srv.URL)

	w.RequestTexture(model.RootNodeID)
	settle(t, c, w)
	var de *DecodeError
	if !errors.As(w.Err(), &de) {
		t.Fatalf("want DecodeError, got %v", w.Err())
	}
}

func TestWMS_NetworkFailure(t *testing.T) {
	srv := tileServer(t, http.StatusInternalServerError, []byte("boom"))
	c := newFetcher(t, srv)
	w := newConfiguredWMS(c, nil, srv.URL)

	w.RequestTexture(model.RootNodeID)
	settle(t, c, w)
	var ne *fetch.NetworkError
	if !errors.As(w.Err(), &ne) || ne.StatusCode != http.StatusInternalServerError {
		t.Fatalf("want NetworkError 500, got %v", w.Err())
	}
	if w.Ready() {
		t.Fatal("must not be ready")
	}
}

func TestWMS_EmptyServer(t *testing.T) {
	w := newConfiguredWMS(nil, nil, "")
	w.RequestTexture(model.RootNodeID)
	if !errors.Is(w.Err(), ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", w.Err())
	}
}

func TestWMS_LayerSelection(t *testing.T) {
	w := newConfiguredWMS(nil, nil, "http://example.org/wms")
	w.SetLayerSelected("water", true)
	w.SetLayerSelected("water", true)
	if !w.LayerSelected("water") || len(w.Config().Layers) != 2 {
		t.Fatalf("layers = %v", w.Config().Layers)
	}
	if !strings.Contains(w.FixedQuery(), "LAYERS=roads%2Cwater") {
		t.Fatalf("query = %q", w.FixedQuery())
	}
	w.SetLayerSelected("roads", false)
	if w.LayerSelected("roads") || !strings.Contains(w.FixedQuery(), "LAYERS=water") {
		t.Fatalf("after deselect: %v %q", w.Config().Layers, w.FixedQuery())
	}
}

func TestCopyConfigurationAndNewLike(t *testing.T) {
	src := newConfiguredWMS(nil, nil, "http://example.org/wms")

	p, err := NewLike(src, &recordingTarget{})
	if err != nil {
		t.Fatalf("NewLike: %v", err)
	}
	if p.Kind() != KindWMS {
		t.Fatalf("kind = %v", p.Kind())
	}
	if err := src.CopyConfigurationTo(p); err != nil {
		t.Fatalf("copy: %v", err)
	}
	dst := p.(*WMS)
	if dst.TileURL("03") != src.TileURL("03") || dst.TileKey("03") != src.TileKey("03") {
		t.Fatal("copied provider must build identical requests")
	}

	// copies are independent
	dst.SetLayerSelected("extra", true)
	if src.LayerSelected("extra") {
		t.Fatal("layer selection leaked into the source")
	}

	if err := src.CopyConfigurationTo(NewBing(nil, nil, nil)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("kind mismatch: want ErrConfiguration, got %v", err)
	}
	if _, err := NewLike(nil, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("nil provider: want ErrConfiguration, got %v", err)
	}
}

func TestBing_QuadKeyAndURL(t *testing.T) {
	b := NewBing(nil, nil, nil)
	b.Configure(BingConfig{
		URLTemplate: "http://t{subdomain}.example/tiles/a{quadkey}.jpeg",
		RootQuadKey: "1",
		Subdomains:  []string{"0", "1", "2", "3"},
	})
	if got := b.QuadKey(model.RootNodeID); got != "1" {
		t.Fatalf("root quadkey = %q", got)
	}
	if got := b.QuadKey("0123"); got != "1213" {
		t.Fatalf("quadkey = %q, want 1213", got)
	}
	if got, want := b.TileURL("0123"), "http://t3.example/tiles/a1213.jpeg"; got != want {
		t.Fatalf("url got %q want %q", got, want)
	}
}

func TestBing_FetchesAndKeys(t *testing.T) {
	srv := tileServer(t, http.StatusOK, pngBytes(t))
	c := newFetcher(t, srv)
	b := NewBing(c, nil, nil)
	b.Configure(BingConfig{URLTemplate: srv.URL + "/{quadkey}", RootQuadKey: "0"})

	b.RequestPreview()
	if b.Key() != "bing-0.jpeg" {
		t.Fatalf("key = %q", b.Key())
	}
	if !settle(t, c, b) {
		t.Fatalf("expected ready, err=%v", b.Err())
	}

	child, err := NewLike(b, nil)
	if err != nil {
		t.Fatalf("NewLike: %v", err)
	}
	if err := b.CopyConfigurationTo(child); err != nil {
		t.Fatalf("copy: %v", err)
	}
	child.RequestTexture("01")
	if child.Key() != "bing-02.jpeg" {
		t.Fatalf("child key = %q", child.Key())
	}
}

func TestBing_EmptyRootQuadKey(t *testing.T) {
	b := NewBing(nil, nil, nil)
	b.RequestTexture(model.RootNodeID)
	if !errors.Is(b.Err(), ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", b.Err())
	}
}
