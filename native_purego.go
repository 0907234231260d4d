//go:build darwin || linux

package obs

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

// libobsLoader loads libobs and binds its functions. libobs is process
// global: one library and one native engine at a time. A failed load is
// retried by the next caller.
type libobsLoader struct {
	guard InitGuard
	lib   *Library
	path  string // as requested by the successful load, "" for libobsNames
}

var libobs libobsLoader

// libobsNames are tried in order when no explicit library path is set.
var libobsNames = []string{"libobs.so.30", "libobs.so.0", "libobs.so", "libobs.dylib", "libobs.0.dylib"}

// libobs function pointers
var (
	obsStartup         func(locale, moduleConfigPath string, store uintptr) bool
	obsShutdown        func()
	obsInitialized     func() bool
	obsResetVideo      func(ovi *obsVideoInfo) int32
	obsResetAudio      func(oai *obsAudioInfo) bool
	obsAddDataPath     func(path string)
	obsAddModulePath   func(bin, data string)
	obsLoadAllModules  func()
	obsPostLoadModules func()

	obsSourceCreate             func(id, name string, settings, hotkeys uintptr) uintptr
	obsSourceRelease            func(source uintptr)
	obsSourceUpdate             func(source, settings uintptr)
	obsSourceGetSignalHandler   func(source uintptr) uintptr
	obsSourceSetMonitoringType  func(source uintptr, t uint32)
	obsSourceGetMonitoringType  func(source uintptr) uint32
	obsSourceSetBalanceValue    func(source uintptr, balance float32)
	obsSourceGetBalanceValue    func(source uintptr) float32
	obsGetSignalHandler         func() uintptr
	obsDataCreate               func() uintptr
	obsDataRelease              func(data uintptr)
	obsDataSetString            func(data uintptr, name, val string)
	obsDataSetInt               func(data uintptr, name string, val int64)
	obsDataSetDouble            func(data uintptr, name string, val float64)
	obsDataSetBool              func(data uintptr, name string, val bool)
	signalHandlerConnect        func(handler uintptr, signal string, callback, data uintptr)
	signalHandlerDisconnect     func(handler uintptr, signal string, callback, data uintptr)
	signalHandlerSignal         func(handler uintptr, signal string, cd *calldata)
	calldataGetData             func(cd uintptr, name string, out unsafe.Pointer, size uintptr) bool
	calldataGetString           func(cd uintptr, name string, out *uintptr) bool
	calldataSetData             func(cd *calldata, name string, in unsafe.Pointer, size uintptr)
	bfree                       func(p uintptr)
	obsFaderCreate              func(t uint32) uintptr
	obsFaderDestroy             func(f uintptr)
	obsFaderSetDB               func(f uintptr, db float32) bool
	obsFaderGetDB               func(f uintptr) float32
	obsFaderSetDeflection       func(f uintptr, def float32) bool
	obsFaderGetDeflection       func(f uintptr) float32
	obsFaderSetMul              func(f uintptr, mul float32) bool
	obsFaderGetMul              func(f uintptr) float32
	obsFaderAttachSource        func(f, source uintptr) bool
	obsFaderDetachSource        func(f uintptr)
	obsVolmeterCreate           func(t uint32) uintptr
	obsVolmeterDestroy          func(v uintptr)
	obsVolmeterAttachSource     func(v, source uintptr) bool
	obsVolmeterDetachSource     func(v uintptr)
	obsVolmeterSetPeakMeterType func(v uintptr, t uint32)
	obsVolmeterGetNrChannels    func(v uintptr) int32

	// Linux only; nil elsewhere.
	obsSetNixPlatform        func(t int32)
	obsSetNixPlatformDisplay func(display uintptr)
	obsGetNixPlatform        func() int32
)

// Mirrors struct obs_video_info.
type obsVideoInfo struct {
	graphicsModule *byte
	fpsNum         uint32
	fpsDen         uint32
	baseWidth      uint32
	baseHeight     uint32
	outputWidth    uint32
	outputHeight   uint32
	outputFormat   int32
	adapter        uint32
	gpuConversion  bool
	colorspace     int32
	rangeType      int32
	scaleType      int32
}

// Mirrors struct obs_audio_info.
type obsAudioInfo struct {
	samplesPerSec uint32
	speakers      int32
}

// Mirrors calldata_t.
type calldata struct {
	stack    uintptr
	size     uintptr
	capacity uintptr
	fixed    bool
}

const (
	obsVideoSuccess = 0

	nixPlatformInvalid = 0
	nixPlatformX11EGL  = 1
	nixPlatformWayland = 2
)

func initLibobs(path string) error { return libobs.load(path) }

// load opens libobs from path, or from libobsNames when path is empty. Once
// a load has succeeded, asking for a different library is an error: the
// bound functions cannot be moved to another copy.
func (l *libobsLoader) load(path string) error {
	err := l.guard.Do(func() error {
		names := libobsNames
		if path != "" {
			names = []string{path}
		}
		lib, err := OpenLibrary(names...)
		if err != nil {
			return err
		}
		if err := bindLibobs(lib); err != nil {
			_ = lib.Close()
			return err
		}
		l.lib, l.path = lib, path
		return nil
	})
	if err != nil {
		return err
	}
	if path != "" && path != l.path && path != l.lib.Path() {
		return newError(ErrInvalidOperation, "load libobs", "%s is already loaded, cannot switch to %s", l.lib.Path(), path)
	}
	return nil
}

func bindLibobs(lib *Library) error {
	required := []struct {
		fptr any
		name string
	}{
		{&obsStartup, "obs_startup"},
		{&obsShutdown, "obs_shutdown"},
		{&obsInitialized, "obs_initialized"},
		{&obsResetVideo, "obs_reset_video"},
		{&obsResetAudio, "obs_reset_audio"},
		{&obsAddDataPath, "obs_add_data_path"},
		{&obsAddModulePath, "obs_add_module_path"},
		{&obsLoadAllModules, "obs_load_all_modules"},
		{&obsPostLoadModules, "obs_post_load_modules"},
		{&obsSourceCreate, "obs_source_create"},
		{&obsSourceRelease, "obs_source_release"},
		{&obsSourceUpdate, "obs_source_update"},
		{&obsSourceGetSignalHandler, "obs_source_get_signal_handler"},
		{&obsSourceSetMonitoringType, "obs_source_set_monitoring_type"},
		{&obsSourceGetMonitoringType, "obs_source_get_monitoring_type"},
		{&obsSourceSetBalanceValue, "obs_source_set_balance_value"},
		{&obsSourceGetBalanceValue, "obs_source_get_balance_value"},
		{&obsGetSignalHandler, "obs_get_signal_handler"},
		{&obsDataCreate, "obs_data_create"},
		{&obsDataRelease, "obs_data_release"},
		{&obsDataSetString, "obs_data_set_string"},
		{&obsDataSetInt, "obs_data_set_int"},
		{&obsDataSetDouble, "obs_data_set_double"},
		{&obsDataSetBool, "obs_data_set_bool"},
		{&signalHandlerConnect, "signal_handler_connect"},
		{&signalHandlerDisconnect, "signal_handler_disconnect"},
		{&signalHandlerSignal, "signal_handler_signal"},
		{&calldataGetData, "calldata_get_data"},
		{&calldataGetString, "calldata_get_string"},
		{&calldataSetData, "calldata_set_data"},
		{&bfree, "bfree"},
		{&obsFaderCreate, "obs_fader_create"},
		{&obsFaderDestroy, "obs_fader_destroy"},
		{&obsFaderSetDB, "obs_fader_set_db"},
		{&obsFaderGetDB, "obs_fader_get_db"},
		{&obsFaderSetDeflection, "obs_fader_set_deflection"},
		{&obsFaderGetDeflection, "obs_fader_get_deflection"},
		{&obsFaderSetMul, "obs_fader_set_mul"},
		{&obsFaderGetMul, "obs_fader_get_mul"},
		{&obsFaderAttachSource, "obs_fader_attach_source"},
		{&obsFaderDetachSource, "obs_fader_detach_source"},
		{&obsVolmeterCreate, "obs_volmeter_create"},
		{&obsVolmeterDestroy, "obs_volmeter_destroy"},
		{&obsVolmeterAttachSource, "obs_volmeter_attach_source"},
		{&obsVolmeterDetachSource, "obs_volmeter_detach_source"},
		{&obsVolmeterSetPeakMeterType, "obs_volmeter_set_peak_meter_type"},
		{&obsVolmeterGetNrChannels, "obs_volmeter_get_nr_channels"},
	}
	for _, fn := range required {
		if err := lib.Register(fn.fptr, fn.name); err != nil {
			return err
		}
	}

	// Optional: only Linux builds of libobs export these.
	if lib.Register(&obsSetNixPlatform, "obs_set_nix_platform") != nil ||
		lib.Register(&obsSetNixPlatformDisplay, "obs_set_nix_platform_display") != nil ||
		lib.Register(&obsGetNixPlatform, "obs_get_nix_platform") != nil {
		obsSetNixPlatform, obsSetNixPlatformDisplay, obsGetNixPlatform = nil, nil, nil
	}
	return nil
}

// nativeBackend drives libobs through purego.
type nativeBackend struct {
	log          *zap.Logger
	plat         Platform
	started      bool
	closeDisplay func()
}

func newNativeBackend(cfg *EngineConfig, log *zap.Logger) (backend, error) {
	if err := initLibobs(cfg.LibraryPath); err != nil {
		return nil, err
	}
	log.Debug("libobs loaded", zap.String("path", libobs.lib.Path()))
	return &nativeBackend{log: log}, nil
}

func (b *nativeBackend) name() string { return "native" }

func (b *nativeBackend) startup(cfg *EngineConfig) error {
	if obsInitialized() {
		return newError(ErrInvalidOperation, "startup", "libobs is already initialized in this process")
	}
	b.setupDisplay(cfg.Platform)

	if !obsStartup(cfg.Locale, cfg.ModuleConfigPath, 0) {
		b.releaseDisplay()
		return fmt.Errorf("obs_startup failed")
	}
	if err := b.configure(cfg); err != nil {
		obsShutdown()
		b.releaseDisplay()
		return err
	}
	b.started = true
	return nil
}

func (b *nativeBackend) configure(cfg *EngineConfig) error {
	if p := cfg.Paths.LibobsData; p != "" {
		obsAddDataPath(ensureTrailingSlash(p))
	}
	if cfg.Paths.PluginBin != "" {
		obsAddModulePath(cfg.Paths.PluginBin, cfg.Paths.PluginData)
	}

	module := graphicsModule()
	ovi := obsVideoInfo{
		graphicsModule: &module[0],
		fpsNum:         cfg.Video.FPSNum,
		fpsDen:         cfg.Video.FPSDen,
		baseWidth:      cfg.Video.BaseWidth,
		baseHeight:     cfg.Video.BaseHeight,
		outputWidth:    cfg.Video.OutputWidth,
		outputHeight:   cfg.Video.OutputHeight,
		outputFormat:   int32(cfg.Video.Format),
		adapter:        cfg.Video.Adapter,
		gpuConversion:  cfg.Video.GPUConversion,
		colorspace:     int32(cfg.Video.Colorspace),
		rangeType:      int32(cfg.Video.Range),
		scaleType:      int32(cfg.Video.ScaleType),
	}
	rc := obsResetVideo(&ovi)
	runtime.KeepAlive(module)
	if rc != obsVideoSuccess {
		return fmt.Errorf("obs_reset_video failed with code %d", rc)
	}

	oai := obsAudioInfo{samplesPerSec: cfg.Audio.SamplesPerSec, speakers: int32(cfg.Audio.Speakers)}
	if !obsResetAudio(&oai) {
		return fmt.Errorf("obs_reset_audio failed")
	}

	if cfg.LoadModules {
		obsLoadAllModules()
		obsPostLoadModules()
	}
	return nil
}

func (b *nativeBackend) setupDisplay(want Platform) {
	if runtime.GOOS == "darwin" {
		b.plat = PlatformMacOS
		return
	}
	if want == PlatformAuto {
		want = DetectPlatform()
	}
	b.plat = want
	if obsSetNixPlatform == nil {
		return
	}
	switch want {
	case PlatformX11:
		obsSetNixPlatform(nixPlatformX11EGL)
	case PlatformWayland:
		obsSetNixPlatform(nixPlatformWayland)
	default:
		obsSetNixPlatform(nixPlatformInvalid)
		return
	}
	display, closeFn := openNixDisplay(want)
	if display == 0 {
		b.log.Warn("could not connect to the display server", zap.Stringer("platform", want))
		return
	}
	obsSetNixPlatformDisplay(display)
	b.closeDisplay = closeFn
}

func (b *nativeBackend) releaseDisplay() {
	if b.closeDisplay != nil {
		b.closeDisplay()
		b.closeDisplay = nil
	}
}

func (b *nativeBackend) shutdown() error {
	if !b.started {
		return nil
	}
	b.started = false
	obsShutdown()
	b.releaseDisplay()
	return nil
}

func (b *nativeBackend) platform() Platform {
	if obsGetNixPlatform == nil {
		return b.plat
	}
	switch obsGetNixPlatform() {
	case nixPlatformX11EGL:
		return PlatformX11
	case nixPlatformWayland:
		return PlatformWayland
	}
	return PlatformInvalid
}

func (b *nativeBackend) threadDPIAware() bool { return true }

func (b *nativeBackend) createSource(id, name string, settings Settings) (SourcePtr, error) {
	data, err := newObsData(settings)
	if err != nil {
		return 0, err
	}
	defer obsDataRelease(data)
	return SourcePtr(obsSourceCreate(id, name, data, 0)), nil
}

func (b *nativeBackend) releaseSource(p SourcePtr) { obsSourceRelease(uintptr(p)) }

func (b *nativeBackend) updateSource(p SourcePtr, settings Settings) error {
	data, err := newObsData(settings)
	if err != nil {
		return err
	}
	defer obsDataRelease(data)
	obsSourceUpdate(uintptr(p), data)
	return nil
}

func (b *nativeBackend) setMonitoringType(p SourcePtr, t MonitoringType) {
	obsSourceSetMonitoringType(uintptr(p), uint32(t))
}

func (b *nativeBackend) monitoringType(p SourcePtr) MonitoringType {
	return MonitoringType(obsSourceGetMonitoringType(uintptr(p)))
}

func (b *nativeBackend) setBalance(p SourcePtr, balance float32) {
	obsSourceSetBalanceValue(uintptr(p), balance)
}

func (b *nativeBackend) balance(p SourcePtr) float32 {
	return obsSourceGetBalanceValue(uintptr(p))
}

func (b *nativeBackend) sourceSignalHandler(p SourcePtr) SignalHandlerPtr {
	return SignalHandlerPtr(obsSourceGetSignalHandler(uintptr(p)))
}

func (b *nativeBackend) coreSignalHandler() SignalHandlerPtr {
	return SignalHandlerPtr(obsGetSignalHandler())
}

func (b *nativeBackend) connect(h SignalHandlerPtr, signal string, token uintptr) error {
	signalHandlerConnect(uintptr(h), signal, signalTrampoline(), token)
	return nil
}

func (b *nativeBackend) disconnect(h SignalHandlerPtr, signal string, token uintptr) {
	signalHandlerDisconnect(uintptr(h), signal, signalTrampoline(), token)
}

func (b *nativeBackend) emit(h SignalHandlerPtr, signal string, data Calldata) error {
	var cd calldata
	defer func() {
		if cd.stack != 0 && !cd.fixed {
			bfree(cd.stack)
		}
	}()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := calldataSet(&cd, k, data[k]); err != nil {
			return err
		}
	}
	signalHandlerSignal(uintptr(h), signal, &cd)
	return nil
}

func calldataSet(cd *calldata, name string, v any) error {
	switch v := v.(type) {
	case uintptr:
		calldataSetData(cd, name, unsafe.Pointer(&v), unsafe.Sizeof(v))
	case int64:
		calldataSetData(cd, name, unsafe.Pointer(&v), unsafe.Sizeof(v))
	case int:
		n := int64(v)
		calldataSetData(cd, name, unsafe.Pointer(&n), unsafe.Sizeof(n))
	case float64:
		calldataSetData(cd, name, unsafe.Pointer(&v), unsafe.Sizeof(v))
	case bool:
		calldataSetData(cd, name, unsafe.Pointer(&v), unsafe.Sizeof(v))
	case string:
		s := append([]byte(v), 0)
		calldataSetData(cd, name, unsafe.Pointer(&s[0]), uintptr(len(s)))
	default:
		return newError(ErrInvalidOperation, "signal", "unsupported calldata type %T for %q", v, name)
	}
	return nil
}

func (b *nativeBackend) createFader(t FaderType) (FaderPtr, error) {
	return FaderPtr(obsFaderCreate(uint32(t))), nil
}

func (b *nativeBackend) destroyFader(p FaderPtr) { obsFaderDestroy(uintptr(p)) }

func (b *nativeBackend) setFaderDB(p FaderPtr, db float32) bool {
	return obsFaderSetDB(uintptr(p), db)
}

func (b *nativeBackend) faderDB(p FaderPtr) float32 { return obsFaderGetDB(uintptr(p)) }

func (b *nativeBackend) setFaderDeflection(p FaderPtr, def float32) bool {
	return obsFaderSetDeflection(uintptr(p), def)
}

func (b *nativeBackend) faderDeflection(p FaderPtr) float32 {
	return obsFaderGetDeflection(uintptr(p))
}

func (b *nativeBackend) setFaderMul(p FaderPtr, mul float32) bool {
	return obsFaderSetMul(uintptr(p), mul)
}

func (b *nativeBackend) faderMul(p FaderPtr) float32 { return obsFaderGetMul(uintptr(p)) }

func (b *nativeBackend) attachFader(p FaderPtr, s SourcePtr) bool {
	return obsFaderAttachSource(uintptr(p), uintptr(s))
}

func (b *nativeBackend) detachFader(p FaderPtr) { obsFaderDetachSource(uintptr(p)) }

func (b *nativeBackend) createVolmeter(t FaderType) (VolmeterPtr, error) {
	return VolmeterPtr(obsVolmeterCreate(uint32(t))), nil
}

func (b *nativeBackend) destroyVolmeter(p VolmeterPtr) { obsVolmeterDestroy(uintptr(p)) }

func (b *nativeBackend) attachVolmeter(p VolmeterPtr, s SourcePtr) bool {
	return obsVolmeterAttachSource(uintptr(p), uintptr(s))
}

func (b *nativeBackend) detachVolmeter(p VolmeterPtr) { obsVolmeterDetachSource(uintptr(p)) }

func (b *nativeBackend) setPeakMeterType(p VolmeterPtr, t PeakMeterType) {
	obsVolmeterSetPeakMeterType(uintptr(p), uint32(t))
}

func (b *nativeBackend) volmeterChannels(p VolmeterPtr) int {
	return int(obsVolmeterGetNrChannels(uintptr(p)))
}

// newObsData builds an obs_data_t from settings. The caller releases it.
func newObsData(settings Settings) (uintptr, error) {
	data := obsDataCreate()
	if data == 0 {
		return 0, newError(ErrNullHandle, "settings", "obs_data_create returned null")
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		switch v := settings[k].(type) {
		case string:
			obsDataSetString(data, k, v)
		case int64:
			obsDataSetInt(data, k, v)
		case int:
			obsDataSetInt(data, k, int64(v))
		case float64:
			obsDataSetDouble(data, k, v)
		case bool:
			obsDataSetBool(data, k, v)
		default:
			obsDataRelease(data)
			return 0, newError(ErrInvalidOperation, "settings", "unsupported value type %T for %q", v, k)
		}
	}
	return data, nil
}

var (
	trampolineOnce sync.Once
	trampolinePtr  uintptr
)

// signalTrampoline is the one C callback every native connection uses. The
// callback's data argument is the hook token.
func signalTrampoline() uintptr {
	trampolineOnce.Do(func() {
		trampolinePtr = purego.NewCallback(func(data, cd uintptr) {
			deliverHook(data, readCalldata(cd))
		})
	})
	return trampolinePtr
}

// Parameters copied out of native calldata. calldata_get_data checks the
// stored size, so a name with an unexpected type is simply skipped.
var (
	calldataPtrParams    = []string{"source", "filter", "scene", "item", "output", "encoder", "service"}
	calldataStringParams = []string{"name", "prev_name", "new_name", "path"}
	calldataFloatParams  = []string{"volume"}
	calldataBoolParams   = []string{"muted", "enabled", "visible", "active"}
	calldataIntParams    = []string{"type", "monitoring_type", "flags"}
)

func readCalldata(cd uintptr) Calldata {
	out := Calldata{}
	if cd == 0 {
		return out
	}
	for _, name := range calldataPtrParams {
		var p uintptr
		if calldataGetData(cd, name, unsafe.Pointer(&p), unsafe.Sizeof(p)) {
			out[name] = p
		}
	}
	for _, name := range calldataStringParams {
		var s uintptr
		if calldataGetString(cd, name, &s) {
			out[name] = goStringFromPtr(s)
		}
	}
	for _, name := range calldataFloatParams {
		var f float64
		if calldataGetData(cd, name, unsafe.Pointer(&f), unsafe.Sizeof(f)) {
			out[name] = f
		}
	}
	for _, name := range calldataBoolParams {
		var v bool
		if calldataGetData(cd, name, unsafe.Pointer(&v), unsafe.Sizeof(v)) {
			out[name] = v
		}
	}
	for _, name := range calldataIntParams {
		var n int64
		if calldataGetData(cd, name, unsafe.Pointer(&n), unsafe.Sizeof(n)) {
			out[name] = n
		}
	}
	return out
}

// goStringFromPtr copies a NUL-terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

func graphicsModule() []byte {
	return append([]byte("libobs-opengl"), 0)
}

func ensureTrailingSlash(p string) string {
	if p == "" || p[len(p)-1] == filepath.Separator {
		return p
	}
	return p + string(filepath.Separator)
}
