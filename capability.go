package obs

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Platform is the display platform the engine renders against.
type Platform uint8

const (
	PlatformAuto    Platform = iota // detect from the environment
	PlatformInvalid                 // no usable display platform
	PlatformX11
	PlatformWayland
	PlatformWindows
	PlatformMacOS
	platformCount
)

var platformNames = [platformCount]string{
	PlatformAuto:    "auto",
	PlatformInvalid: "invalid",
	PlatformX11:     "x11",
	PlatformWayland: "wayland",
	PlatformWindows: "windows",
	PlatformMacOS:   "macos",
}

func (p Platform) String() string {
	if p < platformCount {
		return platformNames[p]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (p Platform) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Platform) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if s == "" {
		*p = PlatformAuto
		return nil
	}
	for i, name := range platformNames {
		if name == s {
			*p = Platform(i)
			return nil
		}
	}
	return fmt.Errorf("unknown platform %q", s)
}

// DetectPlatform guesses the display platform from GOOS and the session
// environment.
func DetectPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		return detectNixPlatform(os.Getenv)
	default:
		return PlatformInvalid
	}
}

func detectNixPlatform(getenv func(string) string) Platform {
	switch strings.ToLower(getenv("XDG_SESSION_TYPE")) {
	case "wayland":
		return PlatformWayland
	case "x11":
		return PlatformX11
	}
	if getenv("WAYLAND_DISPLAY") != "" {
		return PlatformWayland
	}
	if getenv("DISPLAY") != "" {
		return PlatformX11
	}
	return PlatformInvalid
}

// CaptureVariant is the screen capture implementation picked for the
// engine's platform. The set is closed; every switch over it is exhaustive.
type CaptureVariant uint8

const (
	CaptureX11      CaptureVariant = iota + 1 // xshm_input
	CapturePipeWire                           // pipewire-screen-capture-source
	CaptureMonitor                            // monitor_capture (Windows)
	variantEnd
)

// SourceID returns the engine source type id for v.
func (v CaptureVariant) SourceID() string {
	switch v {
	case CaptureX11:
		return "xshm_input"
	case CapturePipeWire:
		return "pipewire-screen-capture-source"
	case CaptureMonitor:
		return "monitor_capture"
	}
	return ""
}

func (v CaptureVariant) String() string {
	switch v {
	case CaptureX11:
		return "x11"
	case CapturePipeWire:
		return "pipewire"
	case CaptureMonitor:
		return "monitor"
	}
	return "none"
}

// CaptureMethod selects the Windows monitor capture API.
type CaptureMethod int64

const (
	CaptureMethodAuto CaptureMethod = iota
	CaptureMethodDXGI
	CaptureMethodWGC
)

// CaptureOption names one option of the unified screen capture builder.
type CaptureOption uint8

const (
	OptShowCursor CaptureOption = iota
	OptRestoreToken
	OptScreen
	OptAdvanced
	OptServer
	OptCutTop
	OptCutLeft
	OptCutRight
	OptCutBottom
	OptMonitorID
	OptCaptureMethod
	OptForceSDR
	OptCompatibility
	optionCount
)

type valueKind uint8

const (
	kindBool valueKind = iota
	kindInt
	kindString
)

// captureOption says which variants accept an option and under which
// settings key. An empty key means the variant has no such option.
type captureOption struct {
	name string
	kind valueKind
	keys [variantEnd]string
}

func (o captureOption) key(v CaptureVariant) (string, bool) {
	if v == 0 || v >= variantEnd {
		return "", false
	}
	k := o.keys[v]
	return k, k != ""
}

func x11Only(k string) [variantEnd]string { return [variantEnd]string{CaptureX11: k} }
func monitorOnly(k string) [variantEnd]string { return [variantEnd]string{CaptureMonitor: k} }

// Static capability table, indexed by CaptureOption.
var captureOptions = [optionCount]captureOption{
	OptShowCursor: {"show cursor", kindBool, [variantEnd]string{
		CaptureX11:      "show_cursor",
		CapturePipeWire: "ShowCursor",
		CaptureMonitor:  "capture_cursor",
	}},
	OptRestoreToken:  {"restore token", kindString, [variantEnd]string{CapturePipeWire: "RestoreToken"}},
	OptScreen:        {"screen", kindInt, x11Only("screen")},
	OptAdvanced:      {"advanced", kindBool, x11Only("advanced")},
	OptServer:        {"server", kindString, x11Only("server")},
	OptCutTop:        {"cut top", kindInt, x11Only("cut_top")},
	OptCutLeft:       {"cut left", kindInt, x11Only("cut_left")},
	OptCutRight:      {"cut right", kindInt, x11Only("cut_right")},
	OptCutBottom:     {"cut bottom", kindInt, x11Only("cut_bot")},
	OptMonitorID:     {"monitor id", kindString, monitorOnly("monitor_id")},
	OptCaptureMethod: {"capture method", kindInt, monitorOnly("method")},
	OptForceSDR:      {"force sdr", kindBool, monitorOnly("force_sdr")},
	OptCompatibility: {"compatibility", kindBool, monitorOnly("compatibility")},
}

func (o CaptureOption) String() string {
	if o < optionCount {
		return captureOptions[o].name
	}
	return "unknown"
}

// variantFor maps a display platform to its capture variant.
func variantFor(p Platform) (CaptureVariant, bool) {
	switch p {
	case PlatformX11:
		return CaptureX11, true
	case PlatformWayland:
		return CapturePipeWire, true
	case PlatformWindows:
		return CaptureMonitor, true
	}
	return 0, false
}

// ResolveCaptureVariant asks the engine which display platform it runs on
// and returns the matching capture variant, or ErrPlatformUnsupported.
func ResolveCaptureVariant(rt *Runtime) (CaptureVariant, error) {
	p, err := Submit(rt, func(e *Engine) (Platform, error) { return e.Platform(), nil })
	if err != nil {
		return 0, err
	}
	v, ok := variantFor(p)
	if !ok {
		return 0, newError(ErrPlatformUnsupported, "resolve capture variant", "no screen capture for platform %s", p)
	}
	return v, nil
}

// ScreenCaptureBuilder configures a screen capture source for whichever
// variant the platform supports. Setters cover every variant's options; a
// setter for an option the resolved variant lacks does nothing and returns
// the builder unchanged. A builder is not safe for concurrent use.
type ScreenCaptureBuilder struct {
	rt       *Runtime
	name     string
	variant  CaptureVariant
	settings Settings
	method   *CaptureMethod
}

// NewScreenCaptureBuilder resolves the capture variant for rt once and
// returns a builder fixed to it.
func NewScreenCaptureBuilder(rt *Runtime, name string) (*ScreenCaptureBuilder, error) {
	v, err := ResolveCaptureVariant(rt)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "screen-capture-" + uuid.NewString()
	}
	return &ScreenCaptureBuilder{rt: rt, name: name, variant: v, settings: Settings{}}, nil
}

// Variant returns the resolved variant.
func (b *ScreenCaptureBuilder) Variant() CaptureVariant { return b.variant }

// Supports reports whether the resolved variant accepts opt.
func (b *ScreenCaptureBuilder) Supports(opt CaptureOption) bool {
	if opt >= optionCount {
		return false
	}
	_, ok := captureOptions[opt].key(b.variant)
	return ok
}

// Settings returns a copy of the settings collected so far.
func (b *ScreenCaptureBuilder) Settings() Settings { return b.settings.Clone() }

// Set stores value for opt when the resolved variant accepts it. Values of
// the wrong kind for the option are ignored like unsupported options.
func (b *ScreenCaptureBuilder) Set(opt CaptureOption, value any) *ScreenCaptureBuilder {
	if opt >= optionCount {
		return b
	}
	o := captureOptions[opt]
	key, ok := o.key(b.variant)
	if !ok {
		return b
	}
	switch o.kind {
	case kindBool:
		if v, ok := value.(bool); ok {
			b.settings.SetBool(key, v)
		}
	case kindInt:
		switch v := value.(type) {
		case int64:
			b.settings.SetInt(key, v)
		case int:
			b.settings.SetInt(key, int64(v))
		case CaptureMethod:
			b.settings.SetInt(key, int64(v))
		}
	case kindString:
		if v, ok := value.(string); ok {
			b.settings.SetString(key, v)
		}
	}
	return b
}

// SetShowCursor includes the mouse cursor. All variants.
func (b *ScreenCaptureBuilder) SetShowCursor(show bool) *ScreenCaptureBuilder {
	return b.Set(OptShowCursor, show)
}

// SetRestoreToken reuses an earlier portal session. PipeWire only.
func (b *ScreenCaptureBuilder) SetRestoreToken(token string) *ScreenCaptureBuilder {
	return b.Set(OptRestoreToken, token)
}

// SetScreen selects the X screen to capture. X11 only.
func (b *ScreenCaptureBuilder) SetScreen(screen int64) *ScreenCaptureBuilder {
	return b.Set(OptScreen, screen)
}

// SetAdvanced enables the X server connection settings. X11 only.
func (b *ScreenCaptureBuilder) SetAdvanced(advanced bool) *ScreenCaptureBuilder {
	return b.Set(OptAdvanced, advanced)
}

// SetServer names the X display to connect to. X11 only.
func (b *ScreenCaptureBuilder) SetServer(server string) *ScreenCaptureBuilder {
	return b.Set(OptServer, server)
}

// SetCutTop crops px pixels off the top. X11 only.
func (b *ScreenCaptureBuilder) SetCutTop(px int64) *ScreenCaptureBuilder {
	return b.Set(OptCutTop, px)
}

// SetCutLeft crops px pixels off the left. X11 only.
func (b *ScreenCaptureBuilder) SetCutLeft(px int64) *ScreenCaptureBuilder {
	return b.Set(OptCutLeft, px)
}

// SetCutRight crops px pixels off the right. X11 only.
func (b *ScreenCaptureBuilder) SetCutRight(px int64) *ScreenCaptureBuilder {
	return b.Set(OptCutRight, px)
}

// SetCutBottom crops px pixels off the bottom. X11 only.
func (b *ScreenCaptureBuilder) SetCutBottom(px int64) *ScreenCaptureBuilder {
	return b.Set(OptCutBottom, px)
}

// SetMonitorID selects the monitor by device id. Windows monitor capture only.
func (b *ScreenCaptureBuilder) SetMonitorID(id string) *ScreenCaptureBuilder {
	return b.Set(OptMonitorID, id)
}

// SetForceSDR captures HDR monitors as SDR. Windows monitor capture only.
func (b *ScreenCaptureBuilder) SetForceSDR(force bool) *ScreenCaptureBuilder {
	return b.Set(OptForceSDR, force)
}

// SetCompatibility enables multi-adapter compatibility mode. Windows monitor
// capture only.
func (b *ScreenCaptureBuilder) SetCompatibility(compat bool) *ScreenCaptureBuilder {
	return b.Set(OptCompatibility, compat)
}

// SetCaptureMethod picks the monitor capture API. The method is checked
// against the executor thread's DPI awareness in Build.
func (b *ScreenCaptureBuilder) SetCaptureMethod(m CaptureMethod) *ScreenCaptureBuilder {
	if !b.Supports(OptCaptureMethod) {
		return b
	}
	b.method = &m
	return b.Set(OptCaptureMethod, m)
}

// Build creates the source. It is the only step that touches the engine.
func (b *ScreenCaptureBuilder) Build() (*Source, error) {
	switch b.variant {
	case CaptureMonitor:
		if b.method != nil {
			if err := checkCaptureMethod(b.rt, *b.method); err != nil {
				return nil, err
			}
		}
	case CaptureX11, CapturePipeWire:
	default:
		return nil, newError(ErrPlatformUnsupported, "build screen capture", "unresolved capture variant")
	}
	return newSource(b.rt, SourceInfo{
		ID:       b.variant.SourceID(),
		Name:     b.name,
		Settings: b.settings,
	}, b.variant)
}

// checkCaptureMethod rejects DXGI on a DPI-unaware executor thread, which
// would capture a black screen.
func checkCaptureMethod(rt *Runtime, m CaptureMethod) error {
	if m != CaptureMethodDXGI {
		return nil
	}
	aware, err := Submit(rt, func(e *Engine) (bool, error) { return e.ThreadDPIAware(), nil })
	if err != nil {
		return err
	}
	if !aware {
		rt.Logger().Warn("DXGI capture requested on a DPI-unaware executor thread")
		return newError(ErrInvalidOperation, "set capture method", "DXGI capture needs a DPI-aware thread")
	}
	return nil
}
