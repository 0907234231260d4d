package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSignals_GlobalSubscribersInOrder(t *testing.T) {
	rt := newTestRuntime(t)

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(tag string) func(Event) {
		return func(ev Event) {
			v, _ := ev.Engine.Get("state")
			mu.Lock()
			got = append(got, tag+":"+v.(string)+":"+ev.Data.Text("msg"))
			mu.Unlock()
		}
	}

	key := GlobalEvent("custom_event")
	first, err := rt.Signals().Subscribe(key, record("first"))
	require.NoError(t, err)
	second, err := rt.Signals().Subscribe(key, record("second"))
	require.NoError(t, err)
	assert.True(t, first.Active())
	assert.Equal(t, key, second.Key())

	err = rt.Exec(func(e *Engine) error {
		e.Set("state", "armed")
		return e.Signal(key, Calldata{"msg": "hi"})
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:armed:hi", "second:armed:hi"}, got)
}

func TestSignals_CallbacksRunOnExecutor(t *testing.T) {
	rt := newTestRuntime(t)

	onExec := make(chan bool, 1)
	_, err := rt.Signals().Subscribe(GlobalEvent("ping"), func(Event) { onExec <- rt.OnExecutor() })
	require.NoError(t, err)

	require.NoError(t, rt.Exec(func(e *Engine) error { return e.Signal(GlobalEvent("ping"), nil) }))
	assert.True(t, <-onExec)
}

func TestSignals_Cancel(t *testing.T) {
	rt := newTestRuntime(t)

	var calls []string
	key := GlobalEvent("tick")
	a, err := rt.Signals().Subscribe(key, func(Event) { calls = append(calls, "a") })
	require.NoError(t, err)
	_, err = rt.Signals().Subscribe(key, func(Event) { calls = append(calls, "b") })
	require.NoError(t, err)

	a.Cancel()
	a.Cancel()
	assert.False(t, a.Active())

	require.NoError(t, rt.Exec(func(e *Engine) error { return e.Signal(key, nil) }))
	n, err := Submit(rt, func(*Engine) ([]string, error) { return calls, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, n)
}

func TestSignals_CancelLastDisconnects(t *testing.T) {
	rt := newTestRuntime(t)

	key := GlobalEvent("tick")
	sub, err := rt.Signals().Subscribe(key, func(Event) {})
	require.NoError(t, err)

	connected := func() int {
		n, err := Submit(rt, func(e *Engine) (int, error) {
			sw := e.backend.(*softwareBackend)
			return len(sw.handlers[sw.core]["tick"]), nil
		})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 1, connected())

	sub.Cancel()
	assert.Eventually(t, func() bool { return connected() == 0 }, time.Second, time.Millisecond)
}

func TestSignals_PanickingSubscriberIsIsolated(t *testing.T) {
	rt := newTestRuntime(t)

	key := GlobalEvent("fragile")
	_, err := rt.Signals().Subscribe(key, func(Event) { panic("subscriber bug") })
	require.NoError(t, err)
	reached := false
	_, err = rt.Signals().Subscribe(key, func(Event) { reached = true })
	require.NoError(t, err)

	require.NoError(t, rt.Exec(func(e *Engine) error { return e.Signal(key, nil) }))
	ok, err := Submit(rt, func(*Engine) (bool, error) { return reached, nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, rt.Err())
}

func TestSignals_ForeignThreadIsReposted(t *testing.T) {
	rt := newTestRuntime(t)

	key := GlobalEvent("from_engine_thread")
	got := make(chan bool, 1)
	_, err := rt.Signals().Subscribe(key, func(ev Event) {
		got <- rt.OnExecutor() && ev.Data.Int("n") == 5
	})
	require.NoError(t, err)

	// An engine worker thread calling back looks like any other goroutine.
	rt.Signals().deliver(key, Calldata{"n": int64(5)})
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("re-posted event never delivered")
	}
}

func TestSignals_SourceEvents(t *testing.T) {
	rt := newTestRuntime(t)

	created := make(chan uintptr, 1)
	_, err := rt.Signals().Subscribe(GlobalEvent("source_create"), func(ev Event) { created <- ev.Data.Ptr("source") })
	require.NoError(t, err)

	s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: "watched"})
	require.NoError(t, err)
	assert.Equal(t, uintptr(s.Handle().Get()), <-created)

	updates := make(chan uintptr, 4)
	sub, err := s.Subscribe("update", func(ev Event) { updates <- ev.Data.Ptr("source") })
	require.NoError(t, err)
	require.NoError(t, s.Update(Settings{}.SetBool("x", true)))
	assert.Equal(t, uintptr(s.Handle().Get()), <-updates)

	require.NoError(t, s.Close())
	assert.False(t, sub.Active())
}

func TestSignals_ShutdownDeactivates(t *testing.T) {
	rt := newTestRuntime(t)

	sub, err := rt.Signals().Subscribe(GlobalEvent("x"), func(Event) {})
	require.NoError(t, err)
	require.NoError(t, rt.Shutdown())
	assert.False(t, sub.Active())
	sub.Cancel()

	_, err = rt.Signals().Subscribe(GlobalEvent("x"), func(Event) {})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSignals_SubscribeValidation(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Signals().Subscribe(GlobalEvent(""), func(Event) {})
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, err = rt.Signals().Subscribe(GlobalEvent("x"), nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	bogus := EventKey{Target: NewSafeHandle(SignalHandlerPtr(0xdead)), Signal: "x"}
	_, err = rt.Signals().Subscribe(bogus, func(Event) {})
	assert.ErrorIs(t, err, ErrNullHandle)
}

func TestSignals_SubscribeToReleasedSource(t *testing.T) {
	rt := newTestRuntime(t)
	src, err := NewSource(rt, SourceInfo{ID: "test_input"})
	require.NoError(t, err)
	h := src.SignalHandler()
	require.NoError(t, src.Close())

	_, err = rt.Signals().Subscribe(EventKey{Target: h, Signal: "update"}, func(Event) {})
	assert.ErrorIs(t, err, ErrNullHandle)
	assert.Zero(t, connectedKeys(rt))
}

func TestSignals_SubscribeRacingClose(t *testing.T) {
	rt := newTestRuntime(t)
	src, err := NewSource(rt, SourceInfo{ID: "test_input"})
	require.NoError(t, err)

	queued, release := releaseAhead(t, rt, src)
	done := make(chan error, 1)
	go func() {
		sub, err := src.Subscribe("update", func(Event) {})
		if sub != nil {
			t.Error("Subscribe returned a subscription to a released source")
		}
		done <- err
	}()
	queued(1)
	release()

	assert.ErrorIs(t, <-done, ErrNullHandle)
	assert.Zero(t, connectedKeys(rt))
}

func TestSignals_CancelLogsDisconnectFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	stub := newStubBackend()
	stub.disconnectPanics = true
	useBackend(t, stub)

	cfg := softwareConfig(PlatformX11)
	cfg.Logger = zap.New(core)
	rt, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })

	sub, err := rt.Signals().Subscribe(GlobalEvent("source_create"), func(Event) {})
	require.NoError(t, err)
	sub.Cancel()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("unsubscribe failed").Len() == 1
	}, time.Second, time.Millisecond)
	entry := logs.FilterMessage("unsubscribe failed").All()[0]
	assert.Contains(t, entry.ContextMap()["error"], "disconnect failed")
	assert.Zero(t, connectedKeys(rt))
}

// connectedKeys counts event keys that still hold subscribers or a native
// connection.
func connectedKeys(rt *Runtime) int {
	s := rt.Signals()
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
