package obs

import (
	"errors"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// resourceCore is the shared state of one native object. It keeps its own
// runtime handle, so the runtime cannot shut down implicitly while the object
// is alive; an explicit Shutdown still can, and then the object is abandoned.
type resourceCore struct {
	id      uint64
	kind    string
	name    string
	rt      *Runtime
	refs    atomic.Int64
	destroy func(e *Engine)
}

// newResourceCore registers a freshly created native object. destroy runs on
// the executor when the last handle closes.
func newResourceCore(rt *Runtime, kind, name string, destroy func(e *Engine)) *resourceCore {
	c := &resourceCore{kind: kind, name: name, rt: rt.Clone(), destroy: destroy}
	c.refs.Store(1)
	rt.x.register(c)
	return c
}

// release runs the destructor command and drops the runtime handle.
func (c *resourceCore) release() error {
	x := c.rt.x
	log := x.log.With(zap.String("kind", c.kind), zap.String("name", c.name))

	_, err := submit(x, "destroy "+c.kind, admitTeardown, func(e *Engine) (struct{}, error) {
		c.destroy(e)
		return struct{}{}, nil
	})
	x.unregister(c)
	switch {
	case err == nil:
		log.Debug("resource destroyed")
	case errors.Is(err, ErrNotRunning) || errors.Is(err, ErrWorkerFailed):
		log.Warn("runtime gone, native object abandoned", zap.Error(err))
	default:
		log.Error("resource destructor failed", zap.Error(err))
	}
	return multierr.Append(err, c.rt.Close())
}

// ref is one owning handle to a resourceCore.
type ref struct {
	core   *resourceCore
	closed atomic.Bool
}

func newRef(c *resourceCore) *ref { return &ref{core: c} }

func (r *ref) clone() *ref {
	r.core.refs.Add(1)
	return &ref{core: r.core}
}

// Close releases this handle. The native object is destroyed, on the
// executor, when the last handle to it closes. Closing twice is a no-op.
// If the runtime has already shut down the object is abandoned and Close
// reports ErrNotRunning.
func (r *ref) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.core.refs.Add(-1) > 0 {
		return nil
	}
	return r.core.release()
}

// Runtime returns the runtime the object lives on. The returned handle is
// borrowed; do not Close it.
func (r *ref) Runtime() *Runtime { return r.core.rt }

// Closed reports whether this handle has been closed.
func (r *ref) Closed() bool { return r.closed.Load() }

func (r *ref) checkOpen(op string) error {
	if r.closed.Load() {
		return newError(ErrInvalidOperation, op, "%s handle is closed", r.core.kind)
	}
	return nil
}
