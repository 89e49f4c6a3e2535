package lod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mapper"
	quadmapper "github.com/mohammed-shakir/wms-lod-stream/internal/mapper/quad"
)

// SimulationMode selects between the passive preview and live streaming.
type SimulationMode int

const (
	ModeEditing SimulationMode = iota
	ModeRunning
)

func (m SimulationMode) String() string {
	if m == ModeRunning {
		return "running"
	}
	return "editing"
}

func ParseMode(s string) (SimulationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "editing", "edit":
		return ModeEditing, nil
	case "running", "run", "playing":
		return ModeRunning, nil
	}
	return ModeEditing, fmt.Errorf("unknown simulation mode %q", s)
}

// Purger drops cached tile bodies, see fetch.Client.Purge.
type Purger interface {
	Purge(ctx context.Context, keys ...string) error
}

type tileKeyer interface {
	TileKey(id model.NodeID) string
}

type boundingBoxSetter interface {
	SetBoundingBox(bb model.BBox)
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMapper(m mapper.Interface) Option {
	return func(c *Controller) { c.mapper = m }
}

func WithPurger(p Purger) Option {
	return func(c *Controller) { c.purger = p }
}

// WithRootBox sets the map extent covered by the root tile.
func WithRootBox(bb model.BBox) Option {
	return func(c *Controller) { c.rootBox = bb }
}

// Controller owns the tree. None of its methods are safe for concurrent
// use; run them on the tick goroutine (see loop.Loop.Post).
type Controller struct {
	logger  *slog.Logger
	mapper  mapper.Interface
	purger  Purger
	root    *Node
	mode    SimulationMode
	rootBox model.BBox
	viewer  model.Vec3
	ticks   uint64
}

func NewController(root *Node, mode SimulationMode, opts ...Option) *Controller {
	c := &Controller{
		logger: slog.Default(),
		mapper: quadmapper.New(),
		root:   root,
		mode:   mode,
	}
	for _, o := range opts {
		o(c)
	}
	observability.SetMode(mode.String())
	return c
}

func (c *Controller) Root() *Node                { return c.root }
func (c *Controller) Mode() SimulationMode       { return c.mode }
func (c *Controller) RootBox() model.BBox        { return c.rootBox }
func (c *Controller) Viewer() model.Vec3         { return c.viewer }
func (c *Controller) SetViewer(viewer model.Vec3) { c.viewer = viewer }

// Start issues the root request for the current mode.
func (c *Controller) Start() {
	if c.mode == ModeEditing {
		c.root.provider.RequestPreview()
		return
	}
	c.root.provider.RequestTexture(c.root.id)
}

// SetMode switches modes. Entering editing folds the tree back to the root
// preview; children and their textures are kept for the next run.
func (c *Controller) SetMode(mode SimulationMode) {
	if mode == c.mode {
		return
	}
	c.logger.Info("simulation mode changed", "from", c.mode.String(), "to", mode.String())
	c.mode = mode
	observability.SetMode(mode.String())

	if mode == ModeEditing {
		var b batch
		c.root.walk(func(n *Node) {
			if n.visible != (n == c.root) {
				b.set(n, n == c.root)
			}
			if n.state != Leaf {
				n.state = Collapsed
			}
		})
		b.commit()
	}
	c.Start()
}

// Tick polls every outstanding texture and, while running, advances the
// tree one step for viewer. Scene visibility is written once at the end.
func (c *Controller) Tick(viewer model.Vec3) {
	start := time.Now()
	c.viewer = viewer
	c.ticks++

	if c.mode == ModeEditing {
		c.root.provider.PollAndApply()
	} else {
		c.root.walk(func(n *Node) {
			if n.provider.PollAndApply() {
				c.logger.Debug("texture ready", "node_id", string(n.id))
			}
		})
		var b batch
		c.visit(c.root, viewer, &b)
		b.commit()
	}

	st := c.Stats()
	observability.SetLODNodes(st.Visible, st.Nodes)
	observability.ObserveLODTick(time.Since(start).Seconds())
}

// visit steps n, then its children if n was and stays expanded.
func (c *Controller) visit(n *Node, viewer model.Vec3, b *batch) {
	wasExpanded := n.state == Expanded
	n.step(viewer, b)
	if !wasExpanded || n.state != Expanded {
		return
	}
	for _, child := range n.children {
		c.visit(child, viewer, b)
	}
}

// InvalidateRegion purges every cached tile intersecting region, down to
// the maximum depth, and re-requests the textures of live nodes there.
func (c *Controller) InvalidateRegion(ctx context.Context, region model.BBox) (int, error) {
	ids := c.mapper.Intersecting(c.root.id, c.rootBox, region, c.root.cfg.MaxDepth)
	if len(ids) == 0 {
		return 0, nil
	}
	hit := make(map[model.NodeID]struct{}, len(ids))
	for _, id := range ids {
		hit[id] = struct{}{}
	}

	var keys []string
	if k, ok := c.root.provider.(tileKeyer); ok {
		keys = make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, k.TileKey(id))
		}
	}
	var live []*Node
	c.root.walk(func(n *Node) {
		if _, ok := hit[n.id]; ok && n.provider.Key() != "" {
			live = append(live, n)
			if keys == nil {
				keys = append(keys, n.provider.Key())
			}
		}
	})

	var err error
	if c.purger != nil {
		err = c.purger.Purge(ctx, keys...)
		if err != nil {
			err = fmt.Errorf("invalidate region %s: %w", region, err)
		}
	}
	for _, n := range live {
		n.provider.RequestTexture(n.id)
	}
	c.logger.Info("region invalidated", "region", region.String(), "tiles", len(keys), "live", len(live))
	return len(live), err
}

// SetRootBoundingBox moves the root extent and refetches every requested
// tile. With keepRatio the old aspect ratio is kept. It returns the box in
// effect.
func (c *Controller) SetRootBoundingBox(edited model.BBox, keepRatio bool) (model.BBox, error) {
	bb := model.ResizeKeepingRatio(c.rootBox, edited, keepRatio)
	if bb.SRS == "" {
		bb.SRS = c.rootBox.SRS
	}
	if !bb.Valid() {
		return c.rootBox, fmt.Errorf("invalid bounding box %s", bb)
	}
	c.rootBox = bb
	c.root.walk(func(n *Node) {
		if s, ok := n.provider.(boundingBoxSetter); ok {
			s.SetBoundingBox(bb)
		}
		if n.provider.Key() != "" {
			n.provider.RequestTexture(n.id)
		}
	})
	return bb, nil
}

type Stats struct {
	Mode     string `json:"mode"`
	Ticks    uint64 `json:"ticks"`
	Nodes    int    `json:"nodes"`
	Visible  int    `json:"visible"`
	Ready    int    `json:"ready"`
	Failed   int    `json:"failed"`
	Expanded int    `json:"expanded"`
	MaxDepth int    `json:"max_depth"`
}

func (c *Controller) Stats() Stats {
	st := Stats{Mode: c.mode.String(), Ticks: c.ticks}
	c.root.walk(func(n *Node) {
		st.Nodes++
		if n.visible {
			st.Visible++
		}
		if n.provider.Ready() {
			st.Ready++
		}
		if n.provider.Err() != nil {
			st.Failed++
		}
		if n.state == Expanded {
			st.Expanded++
		}
		if n.depth > st.MaxDepth {
			st.MaxDepth = n.depth
		}
	})
	return st
}

// NodeSnapshot is a JSON friendly view of one node and its subtree.
type NodeSnapshot struct {
	ID       string         `json:"id"`
	State    string         `json:"state"`
	Visible  bool           `json:"visible"`
	Ready    bool           `json:"ready"`
	Key      string         `json:"key,omitempty"`
	Error    string         `json:"error,omitempty"`
	Children []NodeSnapshot `json:"children,omitempty"`
}

func (c *Controller) Snapshot() NodeSnapshot {
	return snapshot(c.root)
}

func snapshot(n *Node) NodeSnapshot {
	s := NodeSnapshot{
		ID:      string(n.id),
		State:   n.state.String(),
		Visible: n.visible,
		Ready:   n.provider.Ready(),
		Key:     n.provider.Key(),
	}
	if err := n.provider.Err(); err != nil {
		s.Error = err.Error()
	}
	for _, c := range n.children {
		s.Children = append(s.Children, snapshot(c))
	}
	return s
}
