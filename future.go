package obs

import (
	"context"
	"sync"
)

// Future is the one-shot completion of an asynchronously submitted command.
type Future[R any] struct {
	done chan struct{}
	once sync.Once
	val  R
	err  error
	x    *executor
}

func newFuture[R any](x *executor) *Future[R] {
	return &Future[R]{done: make(chan struct{}), x: x}
}

func (f *Future[R]) complete(v R, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done is closed when the command has completed.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the command completes. Called on the executor goroutine
// for a command that has not run yet, it returns ErrInvalidOperation instead
// of deadlocking.
func (f *Future[R]) Wait() (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	if f.x != nil && f.x.onExecutor() {
		var zero R
		return zero, newError(ErrInvalidOperation, "wait", "waiting on the executor goroutine would deadlock")
	}
	<-f.done
	return f.val, f.err
}

// WaitContext is Wait bounded by ctx. When ctx ends first the command still
// runs; only the wait is abandoned.
func (f *Future[R]) WaitContext(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	if f.x != nil && f.x.onExecutor() {
		var zero R
		return zero, newError(ErrInvalidOperation, "wait", "waiting on the executor goroutine would deadlock")
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
