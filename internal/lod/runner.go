package lod

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/loop"
)

// Runner ticks a Controller on a loop and gives other goroutines
// synchronous access to it.
type Runner struct {
	lp         *loop.Loop
	ctrl       *Controller
	deregister func()
}

// NewRunner registers the controller's tick on lp. The viewer position
// last set through SetViewer is used for every tick.
func NewRunner(lp *loop.Loop, ctrl *Controller) *Runner {
	r := &Runner{lp: lp, ctrl: ctrl}
	r.deregister = lp.Register(func() { ctrl.Tick(ctrl.Viewer()) })
	return r
}

// Close stops ticking the controller. The loop itself stays usable.
func (r *Runner) Close() { r.deregister() }

// ErrCallFailed means the controller call panicked on the tick goroutine.
var ErrCallFailed = errors.New("lod: controller call failed")

// call runs fn on the tick goroutine. The result travels over a buffered
// channel so a call that runs after ctx gave up writes nowhere.
func call[T any](ctx context.Context, lp *loop.Loop, fn func() T) (T, error) {
	ch := make(chan T, 1)
	if err := lp.Do(ctx, func() { ch <- fn() }); err != nil {
		var zero T
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	default:
		var zero T
		return zero, ErrCallFailed
	}
}

func (r *Runner) Snapshot(ctx context.Context) (NodeSnapshot, error) {
	return call(ctx, r.lp, r.ctrl.Snapshot)
}

func (r *Runner) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, r.lp, r.ctrl.Stats)
}

func (r *Runner) SetViewer(ctx context.Context, viewer model.Vec3) error {
	return r.lp.Do(ctx, func() { r.ctrl.SetViewer(viewer) })
}

func (r *Runner) SetMode(ctx context.Context, mode SimulationMode) error {
	return r.lp.Do(ctx, func() { r.ctrl.SetMode(mode) })
}

type bboxResult struct {
	bb  model.BBox
	err error
}

func (r *Runner) SetRootBoundingBox(ctx context.Context, bb model.BBox, keepRatio bool) (model.BBox, error) {
	res, err := call(ctx, r.lp, func() bboxResult {
		out, err := r.ctrl.SetRootBoundingBox(bb, keepRatio)
		return bboxResult{out, err}
	})
	if err != nil {
		return model.BBox{}, err
	}
	return res.bb, res.err
}

type invalidateResult struct {
	n   int
	err error
}

// InvalidateRegion runs the invalidation on the tick goroutine. ctx bounds
// both the wait and the cache purge.
func (r *Runner) InvalidateRegion(ctx context.Context, region model.BBox) (int, error) {
	res, err := call(ctx, r.lp, func() invalidateResult {
		n, err := r.ctrl.InvalidateRegion(ctx, region)
		return invalidateResult{n, err}
	})
	if err != nil {
		return 0, err
	}
	return res.n, res.err
}
