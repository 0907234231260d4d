package obs

import (
	"cmp"
	"fmt"
)

// Native pointer kinds. Each is an address owned by the engine; none of them
// may be dereferenced outside a command body.
type (
	SourcePtr        uintptr // obs_source_t*
	FaderPtr         uintptr // obs_fader_t*
	VolmeterPtr      uintptr // obs_volmeter_t*
	SignalHandlerPtr uintptr // signal_handler_t*
	DataPtr          uintptr // obs_data_t*
)

// SafeHandle marks a raw engine reference as transportable between
// goroutines.
//
// Holding a SafeHandle is a promise: the wrapped value is only dereferenced
// (passed to the engine) inside a command, which always runs on the executor
// goroutine. Any goroutine may copy a SafeHandle or compare two of them; that
// is all it may do. A SafeHandle confers no ownership, so the object behind it
// can be gone by the time a command runs. Ownership lives in the resource
// types (Source, Fader, Volmeter).
type SafeHandle[T ~uintptr] struct {
	p T
}

// NewSafeHandle wraps p.
func NewSafeHandle[T ~uintptr](p T) SafeHandle[T] {
	return SafeHandle[T]{p: p}
}

// Get returns the raw reference. Only call it inside a command body.
func (h SafeHandle[T]) Get() T { return h.p }

// IsZero reports whether the handle wraps a null reference.
func (h SafeHandle[T]) IsZero() bool { return h.p == 0 }

// Equal reports pointer identity.
func (h SafeHandle[T]) Equal(o SafeHandle[T]) bool { return h.p == o.p }

// Compare orders handles by address.
func (h SafeHandle[T]) Compare(o SafeHandle[T]) int { return cmp.Compare(h.p, o.p) }

func (h SafeHandle[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(h.p))
}
