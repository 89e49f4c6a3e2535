// Package loop runs registered hooks on a single goroutine at a fixed
// interval. Work from other goroutines enters through Post and Do.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrClosed = errors.New("loop closed")

type hook struct {
	id uint64
	fn func()
}

// task is one piece of posted work. abort, when set, is called instead of
// run if the loop closes first.
type task struct {
	run   func()
	abort func()
}

type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	hooks  []hook
	nextID uint64
	posted []task
	closed bool
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{logger: logger}
}

// Register adds fn to every step, after the hooks registered before it.
// The returned func removes it and may be called more than once.
func (l *Loop) Register(fn func()) (deregister func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	l.nextID++
	id := l.nextID
	l.hooks = append(l.hooks, hook{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Loop) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.hooks {
		if h.id == id {
			l.hooks = append(l.hooks[:i], l.hooks[i+1:]...)
			return
		}
	}
}

// Post queues fn for the start of the next step.
func (l *Loop) Post(fn func()) error {
	return l.post(task{run: fn})
}

func (l *Loop) post(t task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.posted = append(l.posted, t)
	return nil
}

// Do posts fn and waits until it has run. It returns ErrClosed when the
// loop closes before fn ran. When ctx ends first fn may still run later.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	aborted := make(chan struct{})
	err := l.post(task{
		run: func() {
			defer close(done)
			fn()
		},
		abort: func() { close(aborted) },
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-aborted:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs the queued work, then every hook once.
func (l *Loop) Step() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	hooks := append([]hook(nil), l.hooks...)
	l.mu.Unlock()

	for _, t := range posted {
		l.safely("posted", t.run)
	}
	for _, h := range hooks {
		l.safely("hook", h.fn)
	}
}

// safely keeps one failing hook from stopping the loop.
func (l *Loop) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// Run steps every interval until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if l.Closed() {
				return ErrClosed
			}
			l.Step()
		}
	}
}

// Close deregisters every hook and rejects further posts. Queued work is
// dropped and its Do callers get ErrClosed.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.hooks = nil
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, t := range posted {
		if t.abort != nil {
			t.abort()
		}
	}
}

func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) Hooks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hooks)
}
