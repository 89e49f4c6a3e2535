package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wms-lod-stream/internal/bookmarks"
	"github.com/mohammed-shakir/wms-lod-stream/internal/capabilities"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
	"github.com/mohammed-shakir/wms-lod-stream/internal/lod"
)

type fakeTree struct {
	viewer      model.Vec3
	mode        lod.SimulationMode
	bbox        model.BBox
	keepRatio   bool
	invalidated []model.BBox
	err         error
}

var _ Tree = (*fakeTree)(nil)

func (f *fakeTree) Snapshot(context.Context) (lod.NodeSnapshot, error) {
	return lod.NodeSnapshot{ID: "0", State: "COLLAPSED", Visible: true}, f.err
}

func (f *fakeTree) Stats(context.Context) (lod.Stats, error) {
	return lod.Stats{Mode: f.mode.String(), Nodes: 1, Visible: 1}, f.err
}

func (f *fakeTree) SetViewer(_ context.Context, v model.Vec3) error {
	f.viewer = v
	return f.err
}

func (f *fakeTree) SetMode(_ context.Context, m lod.SimulationMode) error {
	f.mode = m
	return f.err
}

func (f *fakeTree) SetRootBoundingBox(_ context.Context, bb model.BBox, keep bool) (model.BBox, error) {
	f.bbox, f.keepRatio = bb, keep
	if !bb.Valid() {
		return model.BBox{}, errors.New("invalid bounding box")
	}
	return bb, f.err
}

func (f *fakeTree) InvalidateRegion(_ context.Context, bb model.BBox) (int, error) {
	f.invalidated = append(f.invalidated, bb)
	return 3, f.err
}

type fixture struct {
	tree    *fakeTree
	books   *bookmarks.Memory
	handler http.Handler
}

func newFixture(t *testing.T, caps Capabilities) *fixture {
	t.Helper()
	f := &fixture{tree: &fakeTree{}, books: bookmarks.NewMemory()}
	if caps == nil {
		fc := fetch.New(nil)
		t.Cleanup(fc.Close)
		caps = capabilities.New(fc, nil)
	}
	r := chi.NewRouter()
	New(slog.Default(), f.tree, caps, f.books).Mount(r)
	f.handler = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestTreeEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/tree", "")
	if resp.StatusCode != http.StatusOK || body["id"] != "0" || body["state"] != "COLLAPSED" {
		t.Fatalf("tree: %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/viewer", `{"x":1,"y":2,"z":3}`)
	if resp.StatusCode != http.StatusNoContent || f.tree.viewer != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("viewer: %d %+v", resp.StatusCode, f.tree.viewer)
	}

	resp, body = f.do(t, http.MethodPost, "/mode", `{"mode":"editing"}`)
	if resp.StatusCode != http.StatusOK || body["mode"] != "editing" || f.tree.mode != lod.ModeEditing {
		t.Fatalf("mode: %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/mode", `{"mode":"paused"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad mode: %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/bbox", `{"minx":0,"miny":0,"maxx":10,"maxy":5,"keep_ratio":true}`)
	if resp.StatusCode != http.StatusOK || body["maxx"] != 10.0 || !f.tree.keepRatio {
		t.Fatalf("bbox: %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/bbox", `{"minx":10,"miny":0,"maxx":0,"maxy":5}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("inverted bbox: %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/invalidate", `{"minx":0,"miny":0,"maxx":1,"maxy":1}`)
	if resp.StatusCode != http.StatusOK || body["refetched"] != 3.0 || len(f.tree.invalidated) != 1 {
		t.Fatalf("invalidate: %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/viewer", `{"x":1,"unknown":2}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}
}

func TestTreeUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.tree.err = context.DeadlineExceeded
	resp, _ := f.do(t, http.MethodGet, "/stats", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
}

func TestBookmarkEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodPut, "/bookmarks", `{"title":"Demo","url":"http://demo.example/wms"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put: %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPut, "/bookmarks", `{"title":"","url":"http://x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty title: %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/bookmarks", "")
	titles, _ := body["titles"].([]any)
	if resp.StatusCode != http.StatusOK || len(titles) != 1 || titles[0] != "Demo" {
		t.Fatalf("titles: %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/bookmarks/Demo", "")
	if resp.StatusCode != http.StatusOK || body["url"] != "http://demo.example/wms" {
		t.Fatalf("get: %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodDelete, "/bookmarks/Demo", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/bookmarks/Demo", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", resp.StatusCode)
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	wms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<WMT_MS_Capabilities version="1.1.1">
  <Service><Title>Demo</Title></Service>
  <Capability><Layer><Name>roads</Name><Title>Roads</Title>
    <BoundingBox SRS="EPSG:3006" minx="1" miny="2" maxx="3" maxy="4"/>
  </Layer></Capability></WMT_MS_Capabilities>`))
	}))
	t.Cleanup(wms.Close)

	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/capabilities?server="+url.QueryEscape(wms.URL), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capabilities: %d %v", resp.StatusCode, body)
	}
	if body["key"] != wms.URL+"@@@1.1.0" || body["title"] != "Demo" || body["state"] != "OK" {
		t.Fatalf("body = %v", body)
	}
	layers, _ := body["layers"].([]any)
	if len(layers) != 1 {
		t.Fatalf("layers = %v", body["layers"])
	}
	l := layers[0].(map[string]any)
	bbs := l["bboxes"].([]any)
	if bbs[0].(map[string]any)["name"] != "Roads (EPSG:3006)" {
		t.Fatalf("bbox name = %v", bbs[0])
	}

	resp, _ = f.do(t, http.MethodGet, "/capabilities?server=", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty server: %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/capabilities/refresh?key="+url.QueryEscape(wms.URL+"@@@1.1.0"), "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("refresh: %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/capabilities/refresh?key=nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("refresh unknown: %d", resp.StatusCode)
	}
}
