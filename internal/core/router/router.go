// Package router exposes the LOD tree, capabilities and bookmarks over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wms-lod-stream/internal/bookmarks"
	"github.com/mohammed-shakir/wms-lod-stream/internal/capabilities"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
	"github.com/mohammed-shakir/wms-lod-stream/internal/lod"
)

const maxBodyBytes = 1 << 20

// Tree is the tick-safe view of the LOD controller (see lod.Runner).
type Tree interface {
	Snapshot(ctx context.Context) (lod.NodeSnapshot, error)
	Stats(ctx context.Context) (lod.Stats, error)
	SetViewer(ctx context.Context, viewer model.Vec3) error
	SetMode(ctx context.Context, mode lod.SimulationMode) error
	SetRootBoundingBox(ctx context.Context, bb model.BBox, keepRatio bool) (model.BBox, error)
	InvalidateRegion(ctx context.Context, region model.BBox) (int, error)
}

type Capabilities interface {
	Request(server, version string) (string, error)
	Wait(ctx context.Context, key string) (capabilities.Status, error)
	Refresh(key string) error
}

var (
	_ Tree         = (*lod.Runner)(nil)
	_ Capabilities = (*capabilities.Cache)(nil)
)

type API struct {
	logger    *slog.Logger
	tree      Tree
	caps      Capabilities
	books     bookmarks.Store
	callLimit time.Duration
}

func New(logger *slog.Logger, tree Tree, caps Capabilities, books bookmarks.Store) *API {
	return &API{logger: logger, tree: tree, caps: caps, books: books, callLimit: 10 * time.Second}
}

func (a *API) Mount(r chi.Router) {
	r.Get("/tree", a.observed("/tree", a.handleTree))
	r.Get("/stats", a.observed("/stats", a.handleStats))
	r.Post("/viewer", a.observed("/viewer", a.handleViewer))
	r.Post("/mode", a.observed("/mode", a.handleMode))
	r.Post("/bbox", a.observed("/bbox", a.handleBBox))
	r.Post("/invalidate", a.observed("/invalidate", a.handleInvalidate))

	r.Get("/capabilities", a.observed("/capabilities", a.handleCapabilities))
	r.Post("/capabilities/refresh", a.observed("/capabilities/refresh", a.handleCapabilitiesRefresh))

	r.Get("/bookmarks", a.observed("/bookmarks", a.handleBookmarkTitles))
	r.Put("/bookmarks", a.observed("/bookmarks", a.handleBookmarkPut))
	r.Get("/bookmarks/{title}", a.observed("/bookmarks/{title}", a.handleBookmarkGet))
	r.Delete("/bookmarks/{title}", a.observed("/bookmarks/{title}", a.handleBookmarkDelete))
}

func (a *API) observed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (a *API) callCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.callLimit)
}

func (a *API) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.callCtx(r)
	defer cancel()
	snap, err := a.tree.Snapshot(ctx)
	if err != nil {
		a.treeUnavailable(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.callCtx(r)
	defer cancel()
	st, err := a.tree.Stats(ctx)
	if err != nil {
		a.treeUnavailable(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type viewerRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (a *API) handleViewer(w http.ResponseWriter, r *http.Request) {
	var req viewerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v := model.Vec3{X: req.X, Y: req.Y, Z: req.Z}
	if !finite(v.X, v.Y, v.Z) {
		writeError(w, http.StatusBadRequest, "viewer position must be finite")
		return
	}
	ctx, cancel := a.callCtx(r)
	defer cancel()
	if err := a.tree.SetViewer(ctx, v); err != nil {
		a.treeUnavailable(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := lod.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.callCtx(r)
	defer cancel()
	if err := a.tree.SetMode(ctx, mode); err != nil {
		a.treeUnavailable(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modeRequest{Mode: mode.String()})
}

type bboxRequest struct {
	MinX      float64 `json:"minx"`
	MinY      float64 `json:"miny"`
	MaxX      float64 `json:"maxx"`
	MaxY      float64 `json:"maxy"`
	SRS       string  `json:"srs,omitempty"`
	KeepRatio bool    `json:"keep_ratio,omitempty"`
}

func (b bboxRequest) bbox() (model.BBox, error) {
	if !finite(b.MinX, b.MinY, b.MaxX, b.MaxY) {
		return model.BBox{}, errors.New("bbox coordinates must be finite")
	}
	return model.NewBBox(b.MinX, b.MinY, b.MaxX, b.MaxY, strings.TrimSpace(b.SRS)), nil
}

func bboxResponseOf(bb model.BBox) bboxRequest {
	return bboxRequest{MinX: bb.BottomLeft.X, MinY: bb.BottomLeft.Y, MaxX: bb.TopRight.X, MaxY: bb.TopRight.Y, SRS: bb.SRS}
}

func (a *API) handleBBox(w http.ResponseWriter, r *http.Request) {
	var req bboxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bb, err := req.bbox()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.callCtx(r)
	defer cancel()
	out, err := a.tree.SetRootBoundingBox(ctx, bb, req.KeepRatio)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.treeUnavailable(w, r, err)
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bboxResponseOf(out))
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req bboxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bb, err := req.bbox()
	if err == nil && !bb.Valid() {
		err = errors.New("bbox is empty or inverted")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.callCtx(r)
	defer cancel()
	n, err := a.tree.InvalidateRegion(ctx, bb)
	observability.ObserveInvalidation("http", err)
	if err != nil {
		a.logger.Warn("invalidate failed", "bbox", bb.String(), "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refetched": n})
}

type bboxJSON struct {
	Name string  `json:"name"`
	SRS  string  `json:"srs"`
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

type layerJSON struct {
	Name   string     `json:"name"`
	Title  string     `json:"title"`
	BBoxes []bboxJSON `json:"bboxes,omitempty"`
}

type capabilitiesJSON struct {
	Key     string      `json:"key"`
	State   string      `json:"state"`
	Message string      `json:"message,omitempty"`
	Title   string      `json:"title,omitempty"`
	Version string      `json:"version,omitempty"`
	Layers  []layerJSON `json:"layers,omitempty"`
}

func capabilitiesResponse(key string, st capabilities.Status) capabilitiesJSON {
	out := capabilitiesJSON{Key: key, State: st.State.String(), Message: st.Message}
	c := st.Capabilities
	if c == nil {
		return out
	}
	out.Title = c.ServerTitle
	out.Version = c.Version
	for _, l := range c.Layers {
		lj := layerJSON{Name: l.Name, Title: l.Title}
		names := c.BoundingBoxNames([]string{l.Name})
		for i, bb := range l.BoundingBoxes {
			name := bb.SRS
			if i < len(names) {
				name = names[i]
			}
			lj.BBoxes = append(lj.BBoxes, bboxJSON{
				Name: name, SRS: bb.SRS,
				MinX: bb.BottomLeft.X, MinY: bb.BottomLeft.Y,
				MaxX: bb.TopRight.X, MaxY: bb.TopRight.Y,
			})
		}
		out.Layers = append(out.Layers, lj)
	}
	return out
}

// handleCapabilities starts or joins the request and waits for it unless
// wait=false. An unfinished request answers 202.
func (a *API) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := a.caps.Request(strings.TrimSpace(q.Get("server")), strings.TrimSpace(q.Get("version")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := a.callCtx(r)
	defer cancel()
	if q.Get("wait") == "false" {
		ctx, cancel = context.WithCancel(r.Context())
		cancel()
	}
	st, err := a.caps.Wait(ctx, key)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	code := http.StatusOK
	switch st.State {
	case fetch.NotStarted, fetch.Downloading:
		code = http.StatusAccepted
	case fetch.Error:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, capabilitiesResponse(key, st))
}

func (a *API) handleCapabilitiesRefresh(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if err := a.caps.Refresh(key); err != nil {
		if errors.Is(err, capabilities.ErrUnknownKey) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
}

type bookmarkJSON struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (a *API) handleBookmarkTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := a.books.Titles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"titles": titles})
}

func (a *API) handleBookmarkPut(w http.ResponseWriter, r *http.Request) {
	var req bookmarkJSON
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := a.books.Bookmark(r.Context(), req.Title, req.URL)
	switch {
	case errors.Is(err, bookmarks.ErrEmptyTitle):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBookmarkGet(w http.ResponseWriter, r *http.Request) {
	title := chi.URLParam(r, "title")
	u, ok, err := a.books.URL(r.Context(), title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no bookmark %q", title))
		return
	}
	writeJSON(w, http.StatusOK, bookmarkJSON{Title: title, URL: u})
}

func (a *API) handleBookmarkDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.books.Remove(r.Context(), chi.URLParam(r, "title")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) treeUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.WarnContext(r.Context(), "tree call failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusServiceUnavailable, "lod loop unavailable")
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
