package obs

import "math"

// FaderType selects the curve that maps fader deflection to dB.
type FaderType uint32

const (
	FaderCubic FaderType = iota // x³, the usual software fader
	FaderIEC                    // IEC 60-268-18 segmented curve
	FaderLog                    // logarithmic
)

func (t FaderType) String() string {
	switch t {
	case FaderCubic:
		return "cubic"
	case FaderIEC:
		return "iec"
	case FaderLog:
		return "log"
	default:
		return "unknown"
	}
}

// PeakMeterType selects how a volmeter measures peaks.
type PeakMeterType uint32

const (
	SamplePeak PeakMeterType = iota
	TruePeak                 // 4x oversampled inter-sample peaks
)

// MonitoringType controls whether a source's audio goes to the monitoring
// device.
type MonitoringType uint32

const (
	MonitoringNone MonitoringType = iota
	MonitoringOnly
	MonitoringAndOutput
)

func (t MonitoringType) String() string {
	switch t {
	case MonitoringNone:
		return "none"
	case MonitoringOnly:
		return "monitor-only"
	case MonitoringAndOutput:
		return "monitor-and-output"
	default:
		return "unknown"
	}
}

// BalanceType is the panning law that turns a source's balance into channel
// gains.
type BalanceType uint32

const (
	BalanceSineLaw   BalanceType = iota // constant power, -3 dB at center
	BalanceSquareLaw                    // constant power, square root curves
	BalanceLinear                       // straight crossfade
)

// balanceCenter is the engine's default balance: both channels at full level.
const balanceCenter = 0.5

func (t BalanceType) String() string {
	switch t {
	case BalanceSineLaw:
		return "sine"
	case BalanceSquareLaw:
		return "square"
	case BalanceLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// Gains returns the left and right channel gains for balance, where 0 is
// full left, 0.5 center and 1 full right. Out of range values are clamped.
// Unknown types use the sine law.
func (t BalanceType) Gains(balance float32) (left, right float32) {
	b := float64(min(max(balance, 0), 1))
	switch t {
	case BalanceSquareLaw:
		return float32(math.Sqrt(1 - b)), float32(math.Sqrt(b))
	case BalanceLinear:
		return float32(1 - b), float32(b)
	default:
		return float32(math.Sin((1 - b) * math.Pi / 2)), float32(math.Sin(b * math.Pi / 2))
	}
}

// MulToDB converts an amplitude multiplier to decibels. Zero is -Inf.
func MulToDB(mul float32) float32 {
	if mul == 0 {
		return float32(math.Inf(-1))
	}
	return float32(20 * math.Log10(float64(mul)))
}

// DBToMul converts decibels to an amplitude multiplier. Non-finite input
// gives 0.
func DBToMul(db float32) float32 {
	if math.IsInf(float64(db), 0) || math.IsNaN(float64(db)) {
		return 0
	}
	return float32(math.Pow(10, float64(db)/20))
}

// Fader maps UI control positions to the dB and multiplier values the engine
// mixes with. Attached to a source it follows and drives the source volume.
type Fader struct {
	*ref
	ptr SafeHandle[FaderPtr]
	typ FaderType
}

// NewFader creates a fader on rt.
func NewFader(rt *Runtime, t FaderType) (*Fader, error) {
	p, err := Submit(rt, func(e *Engine) (FaderPtr, error) {
		p, err := e.backend.createFader(t)
		if err != nil {
			return 0, err
		}
		if p == 0 {
			return 0, newError(ErrNullHandle, "create fader", "engine returned no fader")
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	h := NewSafeHandle(p)
	core := newResourceCore(rt, "fader", t.String(), func(e *Engine) {
		e.backend.detachFader(h.Get())
		e.backend.destroyFader(h.Get())
	})
	return &Fader{ref: newRef(core), ptr: h, typ: t}, nil
}

// Clone returns another handle to the same fader.
func (f *Fader) Clone() *Fader { return &Fader{ref: f.ref.clone(), ptr: f.ptr, typ: f.typ} }

// Handle returns the native fader pointer.
func (f *Fader) Handle() SafeHandle[FaderPtr] { return f.ptr }

// Type returns the fader curve.
func (f *Fader) Type() FaderType { return f.typ }

// SetDB sets the level. It reports false if the value had to be clamped.
func (f *Fader) SetDB(db float32) (bool, error) {
	return f.set("fader set db", func(e *Engine) bool { return e.backend.setFaderDB(f.ptr.Get(), db) })
}

// DB returns the level in dB.
func (f *Fader) DB() (float32, error) {
	return f.get("fader db", func(e *Engine) float32 { return e.backend.faderDB(f.ptr.Get()) })
}

// SetDeflection sets the level from a control position, normally in [0, 1].
// It reports false if the value had to be clamped.
func (f *Fader) SetDeflection(def float32) (bool, error) {
	return f.set("fader set deflection", func(e *Engine) bool { return e.backend.setFaderDeflection(f.ptr.Get(), def) })
}

// Deflection returns the control position for the current level.
func (f *Fader) Deflection() (float32, error) {
	return f.get("fader deflection", func(e *Engine) float32 { return e.backend.faderDeflection(f.ptr.Get()) })
}

// SetMul sets the level from an amplitude multiplier. It reports false if
// the value had to be clamped.
func (f *Fader) SetMul(mul float32) (bool, error) {
	return f.set("fader set mul", func(e *Engine) bool { return e.backend.setFaderMul(f.ptr.Get(), mul) })
}

// Mul returns the multiplier applied to audio samples.
func (f *Fader) Mul() (float32, error) {
	return f.get("fader mul", func(e *Engine) float32 { return e.backend.faderMul(f.ptr.Get()) })
}

// Attach binds the fader to src's volume. A closed or released src is
// rejected with ErrInvalidOperation.
func (f *Fader) Attach(src *Source) (bool, error) {
	if err := f.checkOpen("fader attach"); err != nil {
		return false, err
	}
	if err := src.checkOpen("fader attach"); err != nil {
		return false, err
	}
	return Submit(f.Runtime(), func(e *Engine) (bool, error) {
		sp, err := src.st.live("fader attach")
		if err != nil {
			return false, err
		}
		return e.backend.attachFader(f.ptr.Get(), sp), nil
	})
}

// Detach unbinds the fader from its source.
func (f *Fader) Detach() error {
	_, err := f.set("fader detach", func(e *Engine) bool {
		e.backend.detachFader(f.ptr.Get())
		return true
	})
	return err
}

func (f *Fader) set(op string, fn func(e *Engine) bool) (bool, error) {
	if err := f.checkOpen(op); err != nil {
		return false, err
	}
	return Submit(f.Runtime(), func(e *Engine) (bool, error) { return fn(e), nil })
}

func (f *Fader) get(op string, fn func(e *Engine) float32) (float32, error) {
	if err := f.checkOpen(op); err != nil {
		return 0, err
	}
	return Submit(f.Runtime(), func(e *Engine) (float32, error) { return fn(e), nil })
}

// Volmeter measures a source's audio levels for display.
type Volmeter struct {
	*ref
	ptr SafeHandle[VolmeterPtr]
}

// NewVolmeter creates a volmeter on rt that maps levels with the t curve.
func NewVolmeter(rt *Runtime, t FaderType) (*Volmeter, error) {
	p, err := Submit(rt, func(e *Engine) (VolmeterPtr, error) {
		p, err := e.backend.createVolmeter(t)
		if err != nil {
			return 0, err
		}
		if p == 0 {
			return 0, newError(ErrNullHandle, "create volmeter", "engine returned no volmeter")
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	h := NewSafeHandle(p)
	core := newResourceCore(rt, "volmeter", t.String(), func(e *Engine) {
		e.backend.detachVolmeter(h.Get())
		e.backend.destroyVolmeter(h.Get())
	})
	return &Volmeter{ref: newRef(core), ptr: h}, nil
}

// Clone returns another handle to the same volmeter.
func (v *Volmeter) Clone() *Volmeter { return &Volmeter{ref: v.ref.clone(), ptr: v.ptr} }

// Handle returns the native volmeter pointer.
func (v *Volmeter) Handle() SafeHandle[VolmeterPtr] { return v.ptr }

// Attach starts metering src. A closed or released src is rejected with
// ErrInvalidOperation.
func (v *Volmeter) Attach(src *Source) (bool, error) {
	if err := v.checkOpen("volmeter attach"); err != nil {
		return false, err
	}
	if err := src.checkOpen("volmeter attach"); err != nil {
		return false, err
	}
	return Submit(v.Runtime(), func(e *Engine) (bool, error) {
		sp, err := src.st.live("volmeter attach")
		if err != nil {
			return false, err
		}
		return e.backend.attachVolmeter(v.ptr.Get(), sp), nil
	})
}

// Detach stops metering.
func (v *Volmeter) Detach() error {
	if err := v.checkOpen("volmeter detach"); err != nil {
		return err
	}
	return v.Runtime().Exec(func(e *Engine) error {
		e.backend.detachVolmeter(v.ptr.Get())
		return nil
	})
}

// SetPeakMeterType selects sample or true peak measurement.
func (v *Volmeter) SetPeakMeterType(t PeakMeterType) error {
	if err := v.checkOpen("volmeter peak type"); err != nil {
		return err
	}
	return v.Runtime().Exec(func(e *Engine) error {
		e.backend.setPeakMeterType(v.ptr.Get(), t)
		return nil
	})
}

// Channels returns the attached source's channel count, 0 when detached.
func (v *Volmeter) Channels() (int, error) {
	if err := v.checkOpen("volmeter channels"); err != nil {
		return 0, err
	}
	return Submit(v.Runtime(), func(e *Engine) (int, error) {
		return e.backend.volmeterChannels(v.ptr.Get()), nil
	})
}
