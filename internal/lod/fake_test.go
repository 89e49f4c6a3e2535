package lod

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mesh"
	"github.com/mohammed-shakir/wms-lod-stream/internal/scene"
	"github.com/mohammed-shakir/wms-lod-stream/internal/texture"
)

// fakeWorld decides which tiles have "arrived".
type fakeWorld struct {
	arrived  map[model.NodeID]bool
	failed   map[model.NodeID]bool
	requests map[model.NodeID]int
	previews int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		arrived:  map[model.NodeID]bool{},
		failed:   map[model.NodeID]bool{},
		requests: map[model.NodeID]int{},
	}
}

type fakeProvider struct {
	w      *fakeWorld
	target texture.Target
	id     model.NodeID
	key    string
	ready  bool
	boxes  int
}

var _ texture.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Kind() texture.Kind { return texture.KindWMS }

func (p *fakeProvider) RequestTexture(id model.NodeID) {
	p.id = id
	p.key = "k-" + string(id)
	p.ready = false
	p.w.requests[id]++
}

func (p *fakeProvider) RequestPreview() {
	p.w.previews++
	p.RequestTexture(model.RootNodeID)
}

func (p *fakeProvider) PollAndApply() bool {
	if p.ready || p.key == "" || !p.w.arrived[p.id] || p.w.failed[p.id] {
		return false
	}
	p.ready = true
	if p.target != nil {
		p.target.SetTexture(p.id, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	}
	return true
}

func (p *fakeProvider) Ready() bool          { return p.ready }
func (p *fakeProvider) NodeID() model.NodeID { return p.id }
func (p *fakeProvider) Key() string          { return p.key }

func (p *fakeProvider) Err() error {
	if p.w.failed[p.id] {
		return errors.New("tile unavailable")
	}
	return nil
}

func (p *fakeProvider) TileKey(id model.NodeID) string { return "k-" + string(id) }

func (p *fakeProvider) SetBoundingBox(model.BBox) { p.boxes++ }

func (p *fakeProvider) CopyConfigurationTo(dst texture.Provider) error {
	if _, ok := dst.(*fakeProvider); !ok {
		return texture.ErrConfiguration
	}
	return nil
}

func fakeFactory(parent texture.Provider, target texture.Target) (texture.Provider, error) {
	return &fakeProvider{w: parent.(*fakeProvider).w, target: target}, nil
}

type recordingPurger struct {
	keys []string
	err  error
}

func (r *recordingPurger) Purge(_ context.Context, keys ...string) error {
	r.keys = append(r.keys, keys...)
	return r.err
}

var (
	near = model.Vec3{X: 0, Y: 10, Z: 0}
	far  = model.Vec3{X: 0, Y: 1000, Z: 0}
)

type fixture struct {
	world *fakeWorld
	scene *scene.Headless
	root  *Node
	ctrl  *Controller
}

func newFixture(t *testing.T, maxDepth int, mode SimulationMode, opts ...Option) *fixture {
	t.Helper()
	m, err := mesh.HorizontalPlane(100, 2)
	if err != nil {
		t.Fatalf("plane: %v", err)
	}
	w := newFakeWorld()
	sn := scene.NewHeadless(model.Vec3{}, m)
	root, err := NewRoot(Config{MaxDepth: maxDepth, NewProvider: fakeFactory}, sn, &fakeProvider{w: w, target: sn})
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	ctrl := NewController(root, mode, opts...)
	ctrl.Start()
	return &fixture{world: w, scene: sn, root: root, ctrl: ctrl}
}

// assertNoOverlap fails when a node and one of its children are both
// visible in the scene.
func assertNoOverlap(t *testing.T, n *Node) {
	t.Helper()
	for _, c := range n.children {
		if n.scene.Visible() && c.scene.Visible() {
			t.Fatalf("node %s and child %s are both visible", n.id, c.id)
		}
		assertNoOverlap(t, c)
	}
}

func (f *fixture) arrive(ids ...model.NodeID) {
	for _, id := range ids {
		f.world.arrived[id] = true
	}
}
