package obs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Engine is the native engine as seen from inside a command. It is only valid
// on the executor goroutine, for the duration of the command it was passed to;
// never retain it.
type Engine struct {
	x        *executor
	backend  backend
	platform Platform
	guard    *platformGuard
	values   map[string]any
	released bool
}

func newEngine(x *executor, b backend, guard *platformGuard) *Engine {
	return &Engine{
		x:        x,
		backend:  b,
		platform: b.platform(),
		guard:    guard,
		values:   make(map[string]any),
	}
}

// Backend names the backend driving the engine ("native" or "software").
func (e *Engine) Backend() string { return e.backend.name() }

// Platform is the display platform the engine was started with.
func (e *Engine) Platform() Platform { return e.platform }

// Config returns the configuration the engine was started with.
func (e *Engine) Config() EngineConfig { return e.x.cfg }

// Logger returns the runtime's logger.
func (e *Engine) Logger() *zap.Logger { return e.x.log }

// ThreadDPIAware reports whether the executor thread is DPI aware. Always
// true outside Windows.
func (e *Engine) ThreadDPIAware() bool { return e.backend.threadDPIAware() }

// Get returns a value from the engine's state. Commands use it to keep Go
// state that must be mutated in the same serial order as the engine.
func (e *Engine) Get(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set stores a value in the engine's state.
func (e *Engine) Set(key string, v any) { e.values[key] = v }

// Delete removes a value from the engine's state.
func (e *Engine) Delete(key string) { delete(e.values, key) }

// Signal emits a signal through the engine's signal handler for key.Target,
// or the engine's global handler when the target is zero. Subscribers run
// before Signal returns.
func (e *Engine) Signal(key EventKey, data Calldata) error {
	h, err := e.handlerFor(key.Target)
	if err != nil {
		return err
	}
	return e.backend.emit(h, key.Signal, data)
}

func (e *Engine) handlerFor(target SafeHandle[SignalHandlerPtr]) (SignalHandlerPtr, error) {
	if !target.IsZero() {
		return target.Get(), nil
	}
	h := e.backend.coreSignalHandler()
	if h == 0 {
		return 0, newError(ErrNullHandle, "signal", "engine has no global signal handler")
	}
	return h, nil
}

// backend is the engine's native surface. Every method is called on the
// executor goroutine only.
type backend interface {
	name() string
	startup(cfg *EngineConfig) error
	shutdown() error
	platform() Platform
	threadDPIAware() bool

	createSource(id, name string, settings Settings) (SourcePtr, error)
	releaseSource(p SourcePtr)
	updateSource(p SourcePtr, settings Settings) error
	setMonitoringType(p SourcePtr, t MonitoringType)
	monitoringType(p SourcePtr) MonitoringType
	setBalance(p SourcePtr, balance float32)
	balance(p SourcePtr) float32
	sourceSignalHandler(p SourcePtr) SignalHandlerPtr

	coreSignalHandler() SignalHandlerPtr
	connect(h SignalHandlerPtr, signal string, token uintptr) error
	disconnect(h SignalHandlerPtr, signal string, token uintptr)
	emit(h SignalHandlerPtr, signal string, data Calldata) error

	createFader(t FaderType) (FaderPtr, error)
	destroyFader(p FaderPtr)
	setFaderDB(p FaderPtr, db float32) bool
	faderDB(p FaderPtr) float32
	setFaderDeflection(p FaderPtr, def float32) bool
	faderDeflection(p FaderPtr) float32
	setFaderMul(p FaderPtr, mul float32) bool
	faderMul(p FaderPtr) float32
	attachFader(p FaderPtr, s SourcePtr) bool
	detachFader(p FaderPtr)

	createVolmeter(t FaderType) (VolmeterPtr, error)
	destroyVolmeter(p VolmeterPtr)
	attachVolmeter(p VolmeterPtr, s SourcePtr) bool
	detachVolmeter(p VolmeterPtr)
	setPeakMeterType(p VolmeterPtr, t PeakMeterType)
	volmeterChannels(p VolmeterPtr) int
}

// openBackend picks the backend named by cfg. The auto setting prefers the
// native engine and falls back to the software one when libobs cannot be
// loaded.
func openBackend(cfg *EngineConfig, log *zap.Logger) (backend, error) {
	switch cfg.Backend {
	case BackendSoftware:
		return newSoftwareBackend(cfg.Software), nil
	case BackendNative:
		return newNativeBackend(cfg, log)
	case BackendAuto, "":
		b, err := newNativeBackend(cfg, log)
		if err == nil {
			return b, nil
		}
		log.Warn("native engine unavailable, using software backend", zap.Error(err))
		return newSoftwareBackend(cfg.Software), nil
	default:
		return nil, newError(ErrInvalidOperation, "open backend", "unknown backend %q", cfg.Backend)
	}
}

// Native callbacks carry a token, not a Go pointer. hooks maps tokens to the
// dispatcher entry that owns them.
var (
	hooks     sync.Map // uintptr -> *hookEntry
	hookToken atomic.Uintptr
)

type hookEntry struct {
	x   *executor
	key EventKey
}

func registerHook(x *executor, key EventKey) uintptr {
	t := hookToken.Add(1)
	hooks.Store(t, &hookEntry{x: x, key: key})
	return t
}

func unregisterHook(token uintptr) { hooks.Delete(token) }

// deliverHook routes one native callback to its dispatcher. It may be called
// on any thread.
func deliverHook(token uintptr, data Calldata) {
	v, ok := hooks.Load(token)
	if !ok {
		return
	}
	h := v.(*hookEntry)
	h.x.signals.deliver(h.key, data)
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(%s, %s)", e.backend.name(), e.platform)
}
