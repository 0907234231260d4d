package obs

import (
	"math"
	"slices"
)

// SoftwareOptions configure the in-process backend.
type SoftwareOptions struct {
	// Platform is the display platform the backend reports. PlatformAuto
	// detects it from the environment.
	Platform Platform `toml:"platform" yaml:"platform"`
	// DPIUnaware makes the backend report a DPI-unaware executor thread.
	DPIUnaware bool `toml:"dpi_unaware" yaml:"dpi_unaware"`
}

// softwareBackend is an engine implemented in Go. It keeps the same object
// model as libobs (sources, faders, volmeters, signal handlers) with fake
// addresses, so everything above the backend runs unchanged without the
// native library.
type softwareBackend struct {
	opts    SoftwareOptions
	plat    Platform
	next    uintptr
	started bool

	core      SignalHandlerPtr
	sources   map[SourcePtr]*swSource
	faders    map[FaderPtr]*swFader
	volmeters map[VolmeterPtr]*swVolmeter
	handlers  map[SignalHandlerPtr]map[string][]uintptr

	// journal records lifecycle calls in the order the engine saw them.
	journal []string
}

type swSource struct {
	id       string
	name     string
	settings Settings
	handler  SignalHandlerPtr
	monitor  MonitoringType
	balance  float32
}

type swFader struct {
	typ    FaderType
	db     float32
	source SourcePtr
}

type swVolmeter struct {
	typ    FaderType
	peak   PeakMeterType
	source SourcePtr
}

const (
	swBase = 0x1000
	swStep = 0x10
)

func newSoftwareBackend(opts SoftwareOptions) *softwareBackend {
	return &softwareBackend{
		opts:      opts,
		next:      swBase,
		sources:   make(map[SourcePtr]*swSource),
		faders:    make(map[FaderPtr]*swFader),
		volmeters: make(map[VolmeterPtr]*swVolmeter),
		handlers:  make(map[SignalHandlerPtr]map[string][]uintptr),
	}
}

func (b *softwareBackend) alloc() uintptr {
	p := b.next
	b.next += swStep
	return p
}

func (b *softwareBackend) newHandler() SignalHandlerPtr {
	h := SignalHandlerPtr(b.alloc())
	b.handlers[h] = make(map[string][]uintptr)
	return h
}

func (b *softwareBackend) name() string { return "software" }

func (b *softwareBackend) startup(*EngineConfig) error {
	b.plat = b.opts.Platform
	if b.plat == PlatformAuto {
		b.plat = DetectPlatform()
	}
	b.core = b.newHandler()
	b.started = true
	b.journal = append(b.journal, "startup")
	return nil
}

func (b *softwareBackend) shutdown() error {
	if !b.started {
		return nil
	}
	b.started = false
	b.journal = append(b.journal, "shutdown")
	return nil
}

func (b *softwareBackend) platform() Platform { return b.plat }
func (b *softwareBackend) threadDPIAware() bool { return !b.opts.DPIUnaware && currentThreadDPIAware() }

func (b *softwareBackend) createSource(id, name string, settings Settings) (SourcePtr, error) {
	if id == "" {
		return 0, nil
	}
	p := SourcePtr(b.alloc())
	b.sources[p] = &swSource{id: id, name: name, settings: settings.Clone(), handler: b.newHandler(), balance: balanceCenter}
	b.journal = append(b.journal, "create_source:"+name)
	_ = b.emit(b.core, "source_create", Calldata{"source": uintptr(p)})
	return p, nil
}

func (b *softwareBackend) releaseSource(p SourcePtr) {
	s, ok := b.sources[p]
	if !ok {
		return
	}
	_ = b.emit(s.handler, "destroy", Calldata{"source": uintptr(p)})
	_ = b.emit(b.core, "source_destroy", Calldata{"source": uintptr(p)})
	for _, f := range b.faders {
		if f.source == p {
			f.source = 0
		}
	}
	for _, v := range b.volmeters {
		if v.source == p {
			v.source = 0
		}
	}
	delete(b.handlers, s.handler)
	delete(b.sources, p)
	b.journal = append(b.journal, "release_source:"+s.name)
}

func (b *softwareBackend) updateSource(p SourcePtr, settings Settings) error {
	s, ok := b.sources[p]
	if !ok {
		return newError(ErrNullHandle, "update source", "unknown source %#x", uintptr(p))
	}
	s.settings.Merge(settings)
	return b.emit(s.handler, "update", Calldata{"source": uintptr(p)})
}

func (b *softwareBackend) setMonitoringType(p SourcePtr, t MonitoringType) {
	if s, ok := b.sources[p]; ok {
		s.monitor = t
	}
}

func (b *softwareBackend) monitoringType(p SourcePtr) MonitoringType {
	if s, ok := b.sources[p]; ok {
		return s.monitor
	}
	return MonitoringNone
}

// setBalance clamps to [0, 1] and emits "audio_balance" like libobs.
func (b *softwareBackend) setBalance(p SourcePtr, balance float32) {
	s, ok := b.sources[p]
	if !ok {
		return
	}
	s.balance = min(max(balance, 0), 1)
	_ = b.emit(s.handler, "audio_balance", Calldata{"source": uintptr(p), "balance": float64(s.balance)})
}

func (b *softwareBackend) balance(p SourcePtr) float32 {
	if s, ok := b.sources[p]; ok {
		return s.balance
	}
	return balanceCenter
}

func (b *softwareBackend) sourceSignalHandler(p SourcePtr) SignalHandlerPtr {
	if s, ok := b.sources[p]; ok {
		return s.handler
	}
	return 0
}

func (b *softwareBackend) coreSignalHandler() SignalHandlerPtr { return b.core }

func (b *softwareBackend) connect(h SignalHandlerPtr, signal string, token uintptr) error {
	sigs, ok := b.handlers[h]
	if !ok {
		return newError(ErrNullHandle, "connect", "unknown signal handler %#x", uintptr(h))
	}
	sigs[signal] = append(sigs[signal], token)
	return nil
}

func (b *softwareBackend) disconnect(h SignalHandlerPtr, signal string, token uintptr) {
	sigs, ok := b.handlers[h]
	if !ok {
		return
	}
	if i := slices.Index(sigs[signal], token); i >= 0 {
		sigs[signal] = slices.Delete(sigs[signal], i, i+1)
	}
}

func (b *softwareBackend) emit(h SignalHandlerPtr, signal string, data Calldata) error {
	sigs, ok := b.handlers[h]
	if !ok {
		return newError(ErrNullHandle, "signal", "unknown signal handler %#x", uintptr(h))
	}
	for _, token := range slices.Clone(sigs[signal]) {
		deliverHook(token, data)
	}
	return nil
}

func (b *softwareBackend) createFader(t FaderType) (FaderPtr, error) {
	p := FaderPtr(b.alloc())
	b.faders[p] = &swFader{typ: t}
	return p, nil
}

func (b *softwareBackend) destroyFader(p FaderPtr) { delete(b.faders, p) }

func (b *softwareBackend) setFaderDB(p FaderPtr, db float32) bool {
	f, ok := b.faders[p]
	if !ok {
		return false
	}
	var clamped bool
	f.db, clamped = clampDB(db)
	return !clamped
}

func (b *softwareBackend) faderDB(p FaderPtr) float32 {
	if f, ok := b.faders[p]; ok {
		return f.db
	}
	return 0
}

func (b *softwareBackend) setFaderDeflection(p FaderPtr, def float32) bool {
	f, ok := b.faders[p]
	if !ok {
		return false
	}
	clamped := false
	if def > 1 {
		def, clamped = 1, true
	} else if def < 0 {
		def, clamped = 0, true
	}
	f.db = cubicDefToDB(def)
	return !clamped
}

func (b *softwareBackend) faderDeflection(p FaderPtr) float32 {
	if f, ok := b.faders[p]; ok {
		return cubicDBToDef(f.db)
	}
	return 0
}

func (b *softwareBackend) setFaderMul(p FaderPtr, mul float32) bool {
	return b.setFaderDB(p, MulToDB(mul))
}

func (b *softwareBackend) faderMul(p FaderPtr) float32 {
	if f, ok := b.faders[p]; ok {
		return DBToMul(f.db)
	}
	return 0
}

func (b *softwareBackend) attachFader(p FaderPtr, s SourcePtr) bool {
	f, ok := b.faders[p]
	if !ok {
		return false
	}
	if _, ok := b.sources[s]; !ok {
		return false
	}
	f.source = s
	return true
}

func (b *softwareBackend) detachFader(p FaderPtr) {
	if f, ok := b.faders[p]; ok {
		f.source = 0
	}
}

func (b *softwareBackend) createVolmeter(t FaderType) (VolmeterPtr, error) {
	p := VolmeterPtr(b.alloc())
	b.volmeters[p] = &swVolmeter{typ: t}
	return p, nil
}

func (b *softwareBackend) destroyVolmeter(p VolmeterPtr) { delete(b.volmeters, p) }

func (b *softwareBackend) attachVolmeter(p VolmeterPtr, s SourcePtr) bool {
	v, ok := b.volmeters[p]
	if !ok {
		return false
	}
	if _, ok := b.sources[s]; !ok {
		return false
	}
	v.source = s
	return true
}

func (b *softwareBackend) detachVolmeter(p VolmeterPtr) {
	if v, ok := b.volmeters[p]; ok {
		v.source = 0
	}
}

func (b *softwareBackend) setPeakMeterType(p VolmeterPtr, t PeakMeterType) {
	if v, ok := b.volmeters[p]; ok {
		v.peak = t
	}
}

// Attached volmeters report the software mixer's stereo layout.
func (b *softwareBackend) volmeterChannels(p VolmeterPtr) int {
	if v, ok := b.volmeters[p]; ok && v.source != 0 {
		return 2
	}
	return 0
}

// clampDB limits db to the fader range (-inf, 0].
func clampDB(db float32) (float32, bool) {
	if math.IsNaN(float64(db)) {
		return float32(math.Inf(-1)), true
	}
	if db > 0 {
		return 0, true
	}
	return db, false
}

func cubicDefToDB(def float32) float32 {
	switch {
	case def >= 1:
		return 0
	case def <= 0:
		return float32(math.Inf(-1))
	}
	return MulToDB(def * def * def)
}

func cubicDBToDef(db float32) float32 {
	switch {
	case db >= 0:
		return 1
	case math.IsInf(float64(db), -1):
		return 0
	}
	return float32(math.Cbrt(float64(DBToMul(db))))
}
