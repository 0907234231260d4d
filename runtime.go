package obs

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runtime is a handle to one engine and the executor goroutine that owns it.
//
// Handles are reference counted: Clone returns another handle to the same
// executor, and Close releases one. When the last handle closes, the runtime
// shuts down as if Shutdown had been called. Callers should always pair New
// and Clone with Close (typically via defer).
type Runtime struct {
	x      *executor
	closed atomic.Bool
}

// New starts an executor goroutine and initializes the engine on it. The
// engine is ready when New returns.
func New(cfg EngineConfig) (*Runtime, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	log = log.With(zap.String("runtime", id))

	x := newExecutor(id, cfg, log)
	x.refs.Store(1)
	go x.run()

	f := newFuture[struct{}](x)
	start := &command{
		label: "engine-startup",
		body: func(*Engine) {
			f.complete(struct{}{}, x.startup())
		},
		fail: func(err error) { f.complete(struct{}{}, err) },
	}
	if err := x.enqueue(start, admitLifecycle); err != nil {
		start.fail(err)
	}
	if _, err := f.Wait(); err != nil {
		x.queue.seal(nil)
		<-x.exited
		log.Error("engine startup failed", zap.Error(err))
		return nil, err
	}
	return &Runtime{x: x}, nil
}

// Clone returns a new handle to the same runtime.
func (rt *Runtime) Clone() *Runtime {
	rt.x.refs.Add(1)
	return &Runtime{x: rt.x}
}

// Close releases this handle. Closing the last handle shuts the runtime down
// and returns the shutdown result. Closing a handle twice is a no-op.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	if rt.x.refs.Add(-1) > 0 {
		return nil
	}
	return rt.x.shutdown()
}

// Shutdown stops accepting work, runs every command already queued, releases
// the engine and waits for the executor goroutine to exit. It is idempotent
// and may be called on any handle, including ones that are still shared.
func (rt *Runtime) Shutdown() error {
	return rt.x.shutdown()
}

// State reports the lifecycle state.
func (rt *Runtime) State() State { return rt.x.state.load() }

// ID identifies the runtime in logs.
func (rt *Runtime) ID() string { return rt.x.id }

// Err returns the error that poisoned the runtime, or nil.
func (rt *Runtime) Err() error { return rt.x.poisonErr() }

// Done is closed once the executor goroutine has exited.
func (rt *Runtime) Done() <-chan struct{} { return rt.x.exited }

// LiveResources counts resources created on this runtime and not yet
// destroyed.
func (rt *Runtime) LiveResources() int { return rt.x.liveResources() }

// Signals returns the runtime's event dispatcher.
func (rt *Runtime) Signals() *Signals { return rt.x.signals }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.x.log }

// OnExecutor reports whether the caller is running on the executor goroutine.
func (rt *Runtime) OnExecutor() bool { return rt.x.onExecutor() }

// Exec runs fn on the executor and waits for it.
func (rt *Runtime) Exec(fn func(*Engine) error) error {
	_, err := Submit(rt, func(e *Engine) (struct{}, error) {
		return struct{}{}, fn(e)
	})
	return err
}

// Submit runs fn on the executor and blocks until it completes. It fails
// with ErrNotRunning unless the runtime is running. Called from the executor
// goroutine (for example from a signal subscriber) fn runs in place.
func Submit[R any](rt *Runtime, fn func(*Engine) (R, error)) (R, error) {
	if rt.closed.Load() {
		var zero R
		return zero, fmt.Errorf("submit on closed handle: %w", ErrNotRunning)
	}
	return submit(rt.x, "submit", admitRunning, fn)
}

// SubmitAsync queues fn and returns without waiting. Ordering is the same as
// Submit.
func SubmitAsync[R any](rt *Runtime, fn func(*Engine) (R, error)) *Future[R] {
	if rt.closed.Load() {
		f := newFuture[R](rt.x)
		var zero R
		f.complete(zero, fmt.Errorf("submit on closed handle: %w", ErrNotRunning))
		return f
	}
	return submitAsync(rt.x, "submit-async", admitRunning, fn)
}
