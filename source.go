package obs

import (
	"sync"

	"github.com/google/uuid"
)

// SourceInfo describes a source to create. ID is the engine's source type
// id (for example "xshm_input"); Name defaults to a random unique name.
type SourceInfo struct {
	ID       string
	Name     string
	Settings Settings
}

// Source is a handle to an engine source. Handles are reference counted:
// Clone adds one, Close drops one, and the source is released on the
// executor when the last handle closes.
type Source struct {
	*ref
	st *sourceState
}

type sourceState struct {
	ptr     SafeHandle[SourcePtr]
	handler SafeHandle[SignalHandlerPtr]
	id      string
	name    string
	variant CaptureVariant // zero for sources not built by a capture builder

	// released is set by the destructor. Executor goroutine only.
	released bool

	mu       sync.Mutex
	settings Settings
}

// live returns the native pointer, or ErrInvalidOperation once the source
// has been released. Executor goroutine only.
func (st *sourceState) live(op string) (SourcePtr, error) {
	if st.released {
		return 0, newError(ErrInvalidOperation, op, "source %q was released", st.name)
	}
	return st.ptr.Get(), nil
}

// NewSource creates a source on rt.
func NewSource(rt *Runtime, info SourceInfo) (*Source, error) {
	if info.ID == "" {
		return nil, newError(ErrInvalidOperation, "create source", "empty source id")
	}
	if info.Name == "" {
		info.Name = info.ID + "-" + uuid.NewString()
	}
	return newSource(rt, info, 0)
}

func newSource(rt *Runtime, info SourceInfo, variant CaptureVariant) (*Source, error) {
	settings := info.Settings.Clone()
	type created struct {
		ptr     SourcePtr
		handler SignalHandlerPtr
	}
	res, err := Submit(rt, func(e *Engine) (created, error) {
		p, err := e.backend.createSource(info.ID, info.Name, settings)
		if err != nil {
			return created{}, err
		}
		if p == 0 {
			return created{}, newError(ErrNullHandle, "create source", "engine returned no source for %q (%s)", info.Name, info.ID)
		}
		h := e.backend.sourceSignalHandler(p)
		if h != 0 {
			rt.x.signals.addTarget(h)
		}
		return created{ptr: p, handler: h}, nil
	})
	if err != nil {
		return nil, err
	}

	st := &sourceState{
		ptr:      NewSafeHandle(res.ptr),
		handler:  NewSafeHandle(res.handler),
		id:       info.ID,
		name:     info.Name,
		variant:  variant,
		settings: settings,
	}
	x := rt.x
	core := newResourceCore(rt, "source", info.Name, func(e *Engine) {
		st.released = true
		if !st.handler.IsZero() {
			x.signals.dropTarget(e, st.handler.Get())
		}
		e.backend.releaseSource(st.ptr.Get())
	})
	return &Source{ref: newRef(core), st: st}, nil
}

// Clone returns another handle to the same source.
func (s *Source) Clone() *Source { return &Source{ref: s.ref.clone(), st: s.st} }

// Handle returns the native source pointer.
func (s *Source) Handle() SafeHandle[SourcePtr] { return s.st.ptr }

// SignalHandler returns the source's own signal handler.
func (s *Source) SignalHandler() SafeHandle[SignalHandlerPtr] { return s.st.handler }

// ID returns the engine source type id.
func (s *Source) ID() string { return s.st.id }

// Name returns the source name.
func (s *Source) Name() string { return s.st.name }

// Variant returns the capture variant the source was built for, or zero.
func (s *Source) Variant() CaptureVariant { return s.st.variant }

// Settings returns a copy of the source's last applied settings.
func (s *Source) Settings() Settings {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.settings.Clone()
}

// Update merges settings into the source's settings and applies them.
func (s *Source) Update(settings Settings) error {
	if err := s.checkOpen("update source"); err != nil {
		return err
	}
	upd := settings.Clone()
	err := s.Runtime().Exec(func(e *Engine) error {
		p, err := s.st.live("update source")
		if err != nil {
			return err
		}
		return e.backend.updateSource(p, upd)
	})
	if err != nil {
		return err
	}
	s.st.mu.Lock()
	s.st.settings.Merge(upd)
	s.st.mu.Unlock()
	return nil
}

// SetMonitoringType sets how the source's audio is monitored.
func (s *Source) SetMonitoringType(t MonitoringType) error {
	if err := s.checkOpen("set monitoring type"); err != nil {
		return err
	}
	return s.Runtime().Exec(func(e *Engine) error {
		p, err := s.st.live("set monitoring type")
		if err != nil {
			return err
		}
		e.backend.setMonitoringType(p, t)
		return nil
	})
}

// MonitoringType returns the source's audio monitoring type.
func (s *Source) MonitoringType() (MonitoringType, error) {
	if err := s.checkOpen("get monitoring type"); err != nil {
		return MonitoringNone, err
	}
	return Submit(s.Runtime(), func(e *Engine) (MonitoringType, error) {
		p, err := s.st.live("get monitoring type")
		if err != nil {
			return MonitoringNone, err
		}
		return e.backend.monitoringType(p), nil
	})
}

// SetBalance pans the source's stereo audio: 0 is full left, 0.5 center and
// 1 full right. How it maps to channel gains is up to the engine's panning
// law; see BalanceType.
func (s *Source) SetBalance(balance float32) error {
	if err := s.checkOpen("set balance"); err != nil {
		return err
	}
	return s.Runtime().Exec(func(e *Engine) error {
		p, err := s.st.live("set balance")
		if err != nil {
			return err
		}
		e.backend.setBalance(p, balance)
		return nil
	})
}

// Balance returns the source's stereo balance.
func (s *Source) Balance() (float32, error) {
	if err := s.checkOpen("get balance"); err != nil {
		return 0, err
	}
	return Submit(s.Runtime(), func(e *Engine) (float32, error) {
		p, err := s.st.live("get balance")
		if err != nil {
			return 0, err
		}
		return e.backend.balance(p), nil
	})
}

// Subscribe registers cb for one of the source's signals (for example
// "update", "rename", "volume"). The subscription ends when cancelled or
// when the source is destroyed.
func (s *Source) Subscribe(signal string, cb func(Event)) (*Subscription, error) {
	if err := s.checkOpen("subscribe"); err != nil {
		return nil, err
	}
	if s.st.handler.IsZero() {
		return nil, newError(ErrNullHandle, "subscribe", "source %q has no signal handler", s.st.name)
	}
	return s.Runtime().Signals().Subscribe(EventKey{Target: s.st.handler, Signal: signal}, cb)
}

// SetCaptureMethod changes the capture method of a monitor capture source.
// Other variants ignore it. DXGI needs a DPI-aware executor thread.
func (s *Source) SetCaptureMethod(m CaptureMethod) error {
	if s.st.variant != CaptureMonitor {
		return nil
	}
	if err := s.checkOpen("set capture method"); err != nil {
		return err
	}
	if err := checkCaptureMethod(s.Runtime(), m); err != nil {
		return err
	}
	key, _ := captureOptions[OptCaptureMethod].key(CaptureMonitor)
	return s.Update(Settings{key: int64(m)})
}
