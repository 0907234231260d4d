package obs

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// executor owns the engine. Exactly one goroutine, locked to its OS thread,
// runs commands from the queue; nothing else touches the engine.
type executor struct {
	id    string
	cfg   EngineConfig
	log   *zap.Logger
	state stateMachine
	queue *commandQueue

	gid atomic.Uint64 // executor goroutine ID, 0 when not running
	tid atomic.Int64  // OS thread ID, for logs

	engine  *Engine // executor goroutine only
	signals *Signals
	refs    atomic.Int64

	poisonMu sync.Mutex
	poison   error

	resMu     sync.Mutex
	resources map[uint64]*resourceCore
	nextRes   uint64

	// teardownErr is written by the final command and read after exited.
	teardownErr error
	exited      chan struct{}
}

func newExecutor(id string, cfg EngineConfig, log *zap.Logger) *executor {
	x := &executor{
		id:        id,
		cfg:       cfg,
		log:       log,
		resources: make(map[uint64]*resourceCore),
		exited:    make(chan struct{}),
	}
	x.queue = newCommandQueue(&x.state)
	x.signals = newSignals(x)
	return x
}

// run is the executor goroutine.
func (x *executor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	x.gid.Store(goroutineID())
	x.tid.Store(osThreadID())
	x.log.Debug("executor started", zap.Int64("thread", x.tid.Load()))

	clean := false
	defer func() {
		if !clean {
			x.die()
		}
		x.gid.Store(0)
		x.state.advanceTo(StateStopped)
		close(x.exited)
	}()

	for {
		c, ok := x.queue.pop()
		if !ok {
			break
		}
		x.execute(c)
	}
	clean = true
	x.log.Debug("executor exited")
}

// execute runs one command. A panic fails only that command. A body that
// never returns (runtime.Goexit) takes the executor down with it: the command
// fails and the runtime is poisoned.
func (x *executor) execute(c *command) {
	returned := false
	defer func() {
		if r := recover(); r != nil {
			err := &ExecutionError{Label: c.label, Value: r, Stack: debug.Stack()}
			x.log.Error("command panicked", zap.String("command", c.label), zap.Any("panic", r))
			c.fail(err)
			return
		}
		if !returned {
			err := &ExecutionError{Label: c.label}
			x.setPoison(fmt.Errorf("%w: %v", ErrWorkerFailed, err))
			x.log.Error("command exited the executor goroutine", zap.String("command", c.label))
			c.fail(err)
		}
	}()
	c.body(x.engine)
	returned = true
}

// die runs on the executor goroutine when it is going away abnormally. The
// engine is abandoned; nothing may touch it from another thread.
func (x *executor) die() {
	x.setPoison(ErrWorkerFailed)
	pending := x.queue.abandon()
	for _, c := range pending {
		c.fail(x.poisonErr())
	}
	x.log.Error("executor died, runtime poisoned",
		zap.Int("abandoned_commands", len(pending)),
		zap.Int("live_resources", x.liveResources()))
}

func (x *executor) setPoison(err error) {
	x.poisonMu.Lock()
	if x.poison == nil {
		x.poison = err
	}
	x.poisonMu.Unlock()
}

func (x *executor) poisonErr() error {
	x.poisonMu.Lock()
	defer x.poisonMu.Unlock()
	return x.poison
}

// onExecutor reports whether the caller is the executor goroutine.
func (x *executor) onExecutor() bool {
	id := x.gid.Load()
	return id != 0 && id == goroutineID()
}

// engineLive reports whether the engine can still take commands in place.
// Only meaningful on the executor goroutine.
func (x *executor) engineLive() bool {
	return x.engine != nil && !x.engine.released
}

func (x *executor) enqueue(c *command, adm admission) error {
	if err := x.poisonErr(); err != nil {
		return err
	}
	if err := x.queue.push(c, adm); err != nil {
		if perr := x.poisonErr(); perr != nil {
			return perr
		}
		return err
	}
	return nil
}

// startup is the first command: process-wide platform setup, then the
// backend. On success the runtime becomes Running.
// Replaced in tests to drive startup failures.
var (
	platformSetup = setupPlatform
	backendOpen   = openBackend
)

func (x *executor) startup() error {
	guard, err := platformSetup(x.log)
	if err != nil {
		return fmt.Errorf("platform setup: %w", err)
	}

	b, err := backendOpen(&x.cfg, x.log)
	if err != nil {
		guard.restore(x.log)
		return err
	}
	if err := b.startup(&x.cfg); err != nil {
		guard.restore(x.log)
		return fmt.Errorf("%s engine startup: %w", b.name(), err)
	}

	x.engine = newEngine(x, b, guard)
	if !x.state.advance(StateUninitialized, StateRunning) {
		return newError(ErrInvalidOperation, "startup", "runtime left the uninitialized state during startup")
	}
	x.log.Info("engine started",
		zap.String("backend", b.name()),
		zap.Stringer("platform", x.engine.platform))
	return nil
}

// release is the final command. Subscriptions go first, then the engine,
// then the platform guard.
func (x *executor) release(e *Engine) {
	if e == nil {
		return
	}
	if n := x.liveResources(); n > 0 {
		x.log.Warn("engine released with live resources; their native objects are abandoned", zap.Int("count", n))
	}

	var errs error
	errs = multierr.Append(errs, x.signals.disconnectAll(e))
	errs = multierr.Append(errs, safeCall("engine shutdown", e.backend.shutdown))
	e.guard.restore(x.log)
	e.released = true

	if errs != nil {
		x.log.Error("engine teardown reported errors", zap.Error(errs))
	} else {
		x.log.Info("engine released")
	}
	x.teardownErr = errs
}

// shutdown stops admissions, queues the final release behind everything
// already accepted and waits for the executor to exit. Safe to call many
// times from many goroutines. On the executor goroutine itself it only seals
// the queue; the loop exits once the current command returns.
func (x *executor) shutdown() error {
	x.queue.beginShutdown()
	final := &command{
		label: "engine-release",
		body:  x.release,
		fail:  func(error) {},
	}
	sealed := x.queue.seal(final)
	if sealed {
		x.log.Info("runtime shutting down", zap.Int("queued_commands", x.queue.size()))
	}
	if x.onExecutor() {
		return nil
	}
	<-x.exited
	if sealed {
		return x.teardownErr
	}
	return nil
}

func (x *executor) register(c *resourceCore) {
	x.resMu.Lock()
	x.nextRes++
	c.id = x.nextRes
	x.resources[c.id] = c
	x.resMu.Unlock()
}

func (x *executor) unregister(c *resourceCore) {
	x.resMu.Lock()
	delete(x.resources, c.id)
	x.resMu.Unlock()
}

func (x *executor) liveResources() int {
	x.resMu.Lock()
	defer x.resMu.Unlock()
	return len(x.resources)
}

// runInline executes fn on the calling executor goroutine. Used for
// re-entrant submissions, which would otherwise wait on themselves.
func runInline[R any](x *executor, label string, fn func(*Engine) (R, error)) (v R, err error) {
	if !x.engineLive() {
		return v, ErrNotRunning
	}
	defer func() {
		if r := recover(); r != nil {
			x.log.Error("command panicked", zap.String("command", label), zap.Any("panic", r), zap.Bool("inline", true))
			err = &ExecutionError{Label: label, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(x.engine)
}

func submitAsync[R any](x *executor, label string, adm admission, fn func(*Engine) (R, error)) *Future[R] {
	f := newFuture[R](x)
	c := &command{
		label: label,
		body: func(e *Engine) {
			v, err := fn(e)
			f.complete(v, err)
		},
		fail: func(err error) {
			var zero R
			f.complete(zero, err)
		},
	}
	if err := x.enqueue(c, adm); err != nil {
		c.fail(err)
	}
	return f
}

func submit[R any](x *executor, label string, adm admission, fn func(*Engine) (R, error)) (R, error) {
	if x.onExecutor() {
		return runInline(x, label, fn)
	}
	return submitAsync(x, label, adm, fn).Wait()
}

// safeCall runs a teardown step, turning a panic into an error.
func safeCall(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	return fn()
}

// goroutineID returns the current goroutine's ID, parsed from the
// "goroutine NNN [" header of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
