package obs

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// InitGuard runs a setup function at most once successfully. Unlike
// sync.Once a failed attempt is not remembered, so the next caller retries.
type InitGuard struct {
	mu   sync.Mutex
	done atomic.Bool
}

// Do runs fn unless an earlier call already succeeded. Concurrent callers
// wait for the one running fn.
func (g *InitGuard) Do(fn func() error) error {
	if g.done.Load() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	g.done.Store(true)
	return nil
}

// Done reports whether setup has completed.
func (g *InitGuard) Done() bool { return g.done.Load() }

func (g *InitGuard) reset() {
	g.mu.Lock()
	g.done.Store(false)
	g.mu.Unlock()
}

// platformInit guards process-wide platform setup. It runs on the executor
// thread of the first engine started in the process, before that engine's
// backend opens. Setup that belongs to a thread (Windows DPI awareness) is
// handed to that engine's guard and undone when that engine is released.
var platformInit InitGuard

// platformGuard undoes thread-bound platform setup. Executor goroutine only.
type platformGuard struct {
	undo func(log *zap.Logger)
}

func (g *platformGuard) restore(log *zap.Logger) {
	if g == nil || g.undo == nil {
		return
	}
	undo := g.undo
	g.undo = nil
	undo(log)
}

// setupPlatform runs the once-only setup if it has not run yet and returns
// the guard for this engine. Must be called on the executor thread.
func setupPlatform(log *zap.Logger) (*platformGuard, error) {
	g := &platformGuard{}
	err := platformInit.Do(func() error {
		undo, err := initPlatform(log)
		if err != nil {
			return err
		}
		g.undo = undo
		log.Debug("process platform setup done")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}
