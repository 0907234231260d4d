package obs

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventKey names one signal on one signal handler. A zero Target means the
// engine's global signal handler; otherwise Target must be the handler of a
// live Source.
type EventKey struct {
	Target SafeHandle[SignalHandlerPtr]
	Signal string
}

// GlobalEvent is the key for signal on the engine's global handler.
func GlobalEvent(signal string) EventKey { return EventKey{Signal: signal} }

func (k EventKey) String() string {
	if k.Target.IsZero() {
		return "global:" + k.Signal
	}
	return k.Target.String() + ":" + k.Signal
}

// Calldata carries a signal's parameters. Pointer parameters are uintptr
// values and are only meaningful inside the callback.
type Calldata map[string]any

// Ptr returns a pointer parameter.
func (c Calldata) Ptr(name string) uintptr {
	v, _ := c[name].(uintptr)
	return v
}

// Text returns a string parameter.
func (c Calldata) Text(name string) string {
	v, _ := c[name].(string)
	return v
}

// Int returns an integer parameter.
func (c Calldata) Int(name string) int64 {
	switch v := c[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Float returns a floating point parameter.
func (c Calldata) Float(name string) float64 {
	switch v := c[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}

// Bool returns a boolean parameter.
func (c Calldata) Bool(name string) bool {
	v, _ := c[name].(bool)
	return v
}

// Event is one delivery to a subscriber. Engine is valid only for the
// duration of the callback.
type Event struct {
	Key    EventKey
	Data   Calldata
	Engine *Engine
}

// Signals fans engine signals out to subscribers. Each key with at least one
// subscriber holds exactly one native connection. Callbacks always run on the
// executor goroutine, in subscription order.
type Signals struct {
	x       *executor
	mu      sync.Mutex
	keys    map[EventKey]*keyEntry
	targets map[SignalHandlerPtr]struct{} // handlers of live sources
	nextID  uint64
}

type keyEntry struct {
	subs    []*Subscription
	token   uintptr // native hook token, 0 when not connected
	handler SignalHandlerPtr
}

func newSignals(x *executor) *Signals {
	return &Signals{
		x:       x,
		keys:    make(map[EventKey]*keyEntry),
		targets: make(map[SignalHandlerPtr]struct{}),
	}
}

// Subscription is a registered callback. It can be cancelled from any
// goroutine.
type Subscription struct {
	s     *Signals
	key   EventKey
	id    uint64
	cb    func(Event)
	alive atomic.Bool
}

// Key returns the subscribed event key.
func (sub *Subscription) Key() EventKey { return sub.key }

// Active reports whether the subscription still receives events.
func (sub *Subscription) Active() bool { return sub.alive.Load() }

// Subscribe registers cb for key. The native connection, when one is needed,
// is made by a command, so Subscribe blocks until the executor has run it.
func (s *Signals) Subscribe(key EventKey, cb func(Event)) (*Subscription, error) {
	if cb == nil {
		return nil, newError(ErrInvalidOperation, "subscribe", "nil callback")
	}
	if key.Signal == "" {
		return nil, newError(ErrInvalidOperation, "subscribe", "empty signal name")
	}

	s.mu.Lock()
	s.nextID++
	sub := &Subscription{s: s, key: key, id: s.nextID, cb: cb}
	sub.alive.Store(true)
	ent := s.keys[key]
	if ent == nil {
		ent = &keyEntry{}
		s.keys[key] = ent
	}
	ent.subs = append(ent.subs, sub)
	s.mu.Unlock()

	_, err := submit(s.x, "subscribe "+key.Signal, admitRunning, func(e *Engine) (struct{}, error) {
		// dropTarget may have run between registration and this command.
		if !sub.alive.Load() {
			return struct{}{}, newError(ErrNullHandle, "subscribe", "signal handler %s was released", key.Target)
		}
		return struct{}{}, s.reconcile(e, key)
	})
	if err != nil {
		sub.alive.Store(false)
		s.remove(sub)
		return nil, err
	}
	s.x.log.Debug("subscribed", zap.Stringer("key", key), zap.Uint64("subscription", sub.id))
	return sub, nil
}

// Cancel stops delivery to this subscription. It is idempotent. The
// subscription is skipped from the next delivery on; the native connection
// is dropped once its key has no subscribers left.
func (sub *Subscription) Cancel() {
	if !sub.alive.CompareAndSwap(true, false) {
		return
	}
	s := sub.s
	if !s.remove(sub) {
		return
	}
	if s.x.onExecutor() {
		if s.x.engineLive() {
			s.unsubscribe(s.x.engine, sub.key)
		}
		return
	}
	c := &command{
		label: "unsubscribe " + sub.key.Signal,
		body:  func(e *Engine) { s.unsubscribe(e, sub.key) },
		fail:  func(error) {},
	}
	// After the seal the final teardown disconnects everything.
	_ = s.x.enqueue(c, admitTeardown)
}

func (s *Signals) unsubscribe(e *Engine, key EventKey) {
	if err := s.reconcile(e, key); err != nil {
		s.x.log.Warn("unsubscribe failed", zap.Stringer("key", key), zap.Error(err))
	}
}

// remove drops sub from its key and reports whether the key's native
// connection is now unused.
func (s *Signals) remove(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent := s.keys[sub.key]
	if ent == nil {
		return false
	}
	if i := slices.Index(ent.subs, sub); i >= 0 {
		ent.subs = slices.Delete(ent.subs, i, i+1)
	}
	if len(ent.subs) > 0 {
		return false
	}
	if ent.token == 0 {
		delete(s.keys, sub.key)
		return false
	}
	return true
}

// reconcile makes the native connection for key match its subscriber list.
// Executor goroutine only.
func (s *Signals) reconcile(e *Engine, key EventKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.keys[key]
	if ent == nil {
		return nil
	}
	switch {
	case len(ent.subs) > 0 && ent.token == 0:
		if _, ok := s.targets[key.Target.Get()]; !key.Target.IsZero() && !ok {
			return newError(ErrNullHandle, "subscribe", "signal handler %s does not belong to a live source", key.Target)
		}
		h, err := e.handlerFor(key.Target)
		if err != nil {
			return err
		}
		token := registerHook(s.x, key)
		if err := e.backend.connect(h, key.Signal, token); err != nil {
			unregisterHook(token)
			return err
		}
		ent.token, ent.handler = token, h
	case len(ent.subs) == 0:
		var err error
		if ent.token != 0 {
			err = safeCall("disconnect "+key.String(), func() error {
				e.backend.disconnect(ent.handler, key.Signal, ent.token)
				return nil
			})
			unregisterHook(ent.token)
		}
		delete(s.keys, key)
		return err
	}
	return nil
}

// deliver is called for every native callback. Off the executor (the engine
// fired from one of its own threads) the event is re-posted as a command.
func (s *Signals) deliver(key EventKey, data Calldata) {
	if s.x.onExecutor() {
		if s.x.engineLive() {
			s.dispatch(s.x.engine, key, data)
		}
		return
	}
	s.x.log.Debug("signal fired off the executor, re-posting", zap.Stringer("key", key))
	c := &command{
		label: "signal " + key.Signal,
		body:  func(e *Engine) { s.dispatch(e, key, data) },
		fail:  func(error) {},
	}
	if err := s.x.enqueue(c, admitTeardown); err != nil {
		s.x.log.Warn("signal dropped", zap.Stringer("key", key), zap.Error(err))
	}
}

// dispatch runs every live subscriber of key in subscription order.
func (s *Signals) dispatch(e *Engine, key EventKey, data Calldata) {
	s.mu.Lock()
	var subs []*Subscription
	if ent := s.keys[key]; ent != nil {
		subs = slices.Clone(ent.subs)
	}
	s.mu.Unlock()

	ev := Event{Key: key, Data: data, Engine: e}
	for _, sub := range subs {
		if !sub.alive.Load() {
			continue
		}
		s.invoke(sub, ev)
	}
}

func (s *Signals) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.x.log.Error("signal subscriber panicked",
				zap.Stringer("key", sub.key),
				zap.Uint64("subscription", sub.id),
				zap.Any("panic", r))
		}
	}()
	sub.cb(ev)
}

// addTarget records h as the handler of a newly created source. Executor
// goroutine only.
func (s *Signals) addTarget(h SignalHandlerPtr) {
	s.mu.Lock()
	s.targets[h] = struct{}{}
	s.mu.Unlock()
}

// dropTarget disconnects every key on handler h. Called before the object
// owning h is destroyed; its subscriptions go inactive and later subscribes
// to h fail.
func (s *Signals) dropTarget(e *Engine, h SignalHandlerPtr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, h)
	for key, ent := range s.keys {
		if key.Target.Get() != h || key.Target.IsZero() {
			continue
		}
		if ent.token != 0 {
			e.backend.disconnect(ent.handler, key.Signal, ent.token)
			unregisterHook(ent.token)
		}
		for _, sub := range ent.subs {
			sub.alive.Store(false)
		}
		delete(s.keys, key)
	}
}

// disconnectAll removes every native connection. Runs in the final teardown
// command, before the engine is released.
func (s *Signals) disconnectAll(e *Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs error
	for key, ent := range s.keys {
		if ent.token != 0 {
			errs = multierr.Append(errs, safeCall("disconnect "+key.String(), func() error {
				e.backend.disconnect(ent.handler, key.Signal, ent.token)
				return nil
			}))
			unregisterHook(ent.token)
		}
		for _, sub := range ent.subs {
			sub.alive.Store(false)
		}
		delete(s.keys, key)
	}
	return errs
}
