//go:build linux

package obs

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// initPlatform makes Xlib thread safe before the engine or any plugin opens
// a display. libX11 is optional: Wayland-only and headless hosts run without
// it.
func initPlatform(log *zap.Logger) (func(*zap.Logger), error) {
	lib, err := OpenLibrary("libX11.so.6", "libX11.so")
	if err != nil {
		log.Debug("libX11 not available, skipping XInitThreads", zap.Error(err))
		return nil, nil
	}
	var xInitThreads func() int32
	if err := lib.Register(&xInitThreads, "XInitThreads"); err != nil {
		log.Warn("XInitThreads missing from libX11", zap.Error(err))
		return nil, nil
	}
	if xInitThreads() == 0 {
		log.Warn("XInitThreads failed")
	}
	return nil, nil
}

func osThreadID() int64 { return int64(unix.Gettid()) }

// openNixDisplay connects to the session's display server so the engine can
// be handed a display for its platform. Returns 0 when none is reachable.
func openNixDisplay(p Platform) (display uintptr, closeFn func()) {
	switch p {
	case PlatformX11:
		lib, err := OpenLibrary("libX11.so.6", "libX11.so")
		if err != nil {
			return 0, nil
		}
		var (
			xOpenDisplay  func(name uintptr) uintptr
			xCloseDisplay func(d uintptr) int32
		)
		if lib.Register(&xOpenDisplay, "XOpenDisplay") != nil || lib.Register(&xCloseDisplay, "XCloseDisplay") != nil {
			return 0, nil
		}
		d := xOpenDisplay(0)
		if d == 0 {
			return 0, nil
		}
		return d, func() { xCloseDisplay(d) }
	case PlatformWayland:
		lib, err := OpenLibrary("libwayland-client.so.0", "libwayland-client.so")
		if err != nil {
			return 0, nil
		}
		var (
			connect    func(name uintptr) uintptr
			disconnect func(d uintptr)
		)
		if lib.Register(&connect, "wl_display_connect") != nil || lib.Register(&disconnect, "wl_display_disconnect") != nil {
			return 0, nil
		}
		d := connect(0)
		if d == 0 {
			return 0, nil
		}
		return d, func() { disconnect(d) }
	}
	return 0, nil
}

func currentThreadDPIAware() bool { return true }
