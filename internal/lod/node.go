// Package lod drives a quadtree of terrain tiles: nodes subdivide near the
// viewer once all four child textures are ready and join again far away.
package lod

import (
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/scene"
	"github.com/mohammed-shakir/wms-lod-stream/internal/texture"
)

const DefaultMaxDepth = 7

// ErrConfiguration is returned when a node cannot be built.
var ErrConfiguration = texture.ErrConfiguration

type State int

const (
	Collapsed State = iota
	Expanding
	Expanded
	Leaf
)

func (s State) String() string {
	switch s {
	case Collapsed:
		return "COLLAPSED"
	case Expanding:
		return "EXPANDING"
	case Expanded:
		return "EXPANDED"
	case Leaf:
		return "LEAF"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ProviderFactory builds the unconfigured provider of a new child.
type ProviderFactory func(parent texture.Provider, target texture.Target) (texture.Provider, error)

type Config struct {
	// MaxDepth defaults to DefaultMaxDepth; nodes at this depth are leaves.
	MaxDepth  int
	Threshold float64
	// NewProvider defaults to texture.NewLike.
	NewProvider ProviderFactory
	Logger      *slog.Logger
}

func (c *Config) withDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.NewProvider == nil {
		c.NewProvider = texture.NewLike
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Node is one tile of the quadtree. Children are created on the first
// subdivision and kept for the lifetime of the tree.
type Node struct {
	cfg *Config

	id       model.NodeID
	depth    int
	scene    scene.Node
	provider texture.Provider
	state    State
	visible  bool
	children []*Node
}

// NewRoot builds the root tile. Exactly one provider must be given.
func NewRoot(cfg Config, sn scene.Node, providers ...texture.Provider) (*Node, error) {
	cfg.withDefaults()
	switch {
	case sn == nil:
		return nil, fmt.Errorf("%w: root has no scene node", ErrConfiguration)
	case len(providers) == 0:
		return nil, fmt.Errorf("%w: root has no texture provider", ErrConfiguration)
	case len(providers) > 1:
		return nil, fmt.Errorf("%w: root has %d texture providers, want 1", ErrConfiguration, len(providers))
	case providers[0] == nil:
		return nil, fmt.Errorf("%w: root texture provider is nil", ErrConfiguration)
	}

	if m := sn.Mesh(); m != nil && !m.IsSquare() {
		s := m.Bounds().Size()
		cfg.Logger.Warn("root mesh is not square; tiles will be stretched",
			"size_x", s.X, "size_z", s.Z)
	}

	n := &Node{
		cfg:      &cfg,
		id:       model.RootNodeID,
		scene:    sn,
		provider: providers[0],
		visible:  true,
	}
	sn.SetVisible(true)
	return n, nil
}

func (n *Node) ID() model.NodeID           { return n.id }
func (n *Node) Depth() int                 { return n.depth }
func (n *Node) State() State               { return n.state }
func (n *Node) Visible() bool              { return n.visible }
func (n *Node) Provider() texture.Provider { return n.provider }
func (n *Node) Scene() scene.Node          { return n.scene }

// Children is nil until the first subdivision.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

func (n *Node) childrenReady() bool {
	if len(n.children) != 4 {
		return false
	}
	for _, c := range n.children {
		if !c.provider.Ready() {
			return false
		}
	}
	return true
}

func (n *Node) childrenVisible() bool {
	if len(n.children) != 4 {
		return false
	}
	for _, c := range n.children {
		if !c.visible {
			return false
		}
	}
	return true
}

func (n *Node) ensureChildren() error {
	if n.children != nil {
		return nil
	}
	kids := make([]*Node, 0, len(model.Symbols))
	for _, sym := range model.Symbols {
		sn := n.scene.CreateChild(sym)
		p, err := n.cfg.NewProvider(n.provider, sn)
		if err != nil {
			return fmt.Errorf("provider for %s: %w", n.id.Child(sym), err)
		}
		if err := n.provider.CopyConfigurationTo(p); err != nil {
			return fmt.Errorf("configure %s: %w", n.id.Child(sym), err)
		}
		kid := &Node{
			cfg:      n.cfg,
			id:       n.id.Child(sym),
			depth:    n.depth + 1,
			scene:    sn,
			provider: p,
		}
		if kid.depth >= n.cfg.MaxDepth {
			kid.state = Leaf
		}
		sn.SetVisible(false)
		kids = append(kids, kid)
	}
	n.children = kids
	return nil
}

// step runs one transition for n. Visibility changes go into b.
func (n *Node) step(viewer model.Vec3, b *batch) {
	if n.state == Leaf {
		return
	}
	decision := DistanceTest(n.scene.WorldBounds(), viewer, n.cfg.Threshold)

	switch n.state {
	case Collapsed:
		if decision != Subdivide {
			return
		}
		if err := n.ensureChildren(); err != nil {
			n.cfg.Logger.Error("subdivide failed", "node_id", string(n.id), "err", err)
			return
		}
		for _, c := range n.children {
			if !c.provider.Ready() {
				c.provider.RequestTexture(c.id)
			}
		}
		n.transition(Expanding, "subdivide")

	case Expanding:
		switch decision {
		case Join:
			n.transition(Collapsed, "cancel")
		case Subdivide:
			if !n.childrenReady() {
				return
			}
			b.set(n, false)
			for _, c := range n.children {
				b.set(c, true)
			}
			n.transition(Expanded, "expand")
		}

	case Expanded:
		if decision != Join || !n.childrenVisible() {
			return
		}
		b.set(n, true)
		for _, c := range n.children {
			b.set(c, false)
			// a child that was waiting on its own children gives up
			if c.state == Expanding {
				c.state = Collapsed
			}
		}
		n.transition(Collapsed, "join")
	}
}

func (n *Node) transition(to State, label string) {
	n.cfg.Logger.Debug("lod transition",
		"node_id", string(n.id),
		"from", n.state.String(),
		"to", to.String(),
	)
	n.state = to
	observability.IncLODTransition(label)
}

// batch defers scene visibility writes to the end of a tick.
type batch struct {
	flips []flip
}

type flip struct {
	node    *Node
	visible bool
}

func (b *batch) set(n *Node, visible bool) {
	n.visible = visible
	b.flips = append(b.flips, flip{node: n, visible: visible})
}

func (b *batch) commit() {
	for _, f := range b.flips {
		f.node.scene.SetVisible(f.visible)
	}
	b.flips = b.flips[:0]
}
