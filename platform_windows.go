//go:build windows

package obs

import (
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

var (
	user32                              = windows.NewLazySystemDLL("user32.dll")
	procSetThreadDpiAwarenessContext    = user32.NewProc("SetThreadDpiAwarenessContext")
	procGetThreadDpiAwarenessContext    = user32.NewProc("GetThreadDpiAwarenessContext")
	procGetAwarenessFromDpiAwarenessCtx = user32.NewProc("GetAwarenessFromDpiAwarenessContext")
)

const (
	dpiAwarenessContextPerMonitorAwareV2 = ^uintptr(3) // (DPI_AWARENESS_CONTEXT)-4
	dpiAwarenessUnaware                  = 0
)

// initPlatform makes the executor thread per-monitor DPI aware and enables
// the debug and base priority privileges the engine's capture code expects.
// The returned undo restores the thread's previous DPI context.
func initPlatform(log *zap.Logger) (func(*zap.Logger), error) {
	var undo func(*zap.Logger)
	if err := procSetThreadDpiAwarenessContext.Find(); err != nil {
		log.Warn("SetThreadDpiAwarenessContext unavailable", zap.Error(err))
	} else {
		prev, _, _ := procSetThreadDpiAwarenessContext.Call(dpiAwarenessContextPerMonitorAwareV2)
		if prev == 0 {
			log.Warn("could not set DPI awareness context")
		} else {
			log.Debug("DPI awareness enabled for executor thread")
			undo = func(log *zap.Logger) {
				log.Debug("restoring previous DPI context")
				procSetThreadDpiAwarenessContext.Call(prev)
			}
		}
	}

	var token windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		log.Debug("could not open process token", zap.Error(err))
		return undo, nil
	}
	defer token.Close()
	for _, name := range []string{"SeDebugPrivilege", "SeIncreaseBasePriorityPrivilege"} {
		if err := enablePrivilege(token, name); err != nil {
			log.Warn("could not enable privilege", zap.String("privilege", name), zap.Error(err))
		}
	}
	return undo, nil
}

func enablePrivilege(token windows.Token, name string) error {
	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr(name), &luid); err != nil {
		return err
	}
	tp := windows.Tokenprivileges{PrivilegeCount: 1}
	tp.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
	return windows.AdjustTokenPrivileges(token, false, &tp, uint32(unsafe.Sizeof(tp)), nil, nil)
}

// currentThreadDPIAware reports the calling thread's DPI awareness. Systems
// without the per-thread API are treated as aware.
func currentThreadDPIAware() bool {
	if procGetThreadDpiAwarenessContext.Find() != nil || procGetAwarenessFromDpiAwarenessCtx.Find() != nil {
		return true
	}
	ctx, _, _ := procGetThreadDpiAwarenessContext.Call()
	awareness, _, _ := procGetAwarenessFromDpiAwarenessCtx.Call(ctx)
	return int32(awareness) != dpiAwarenessUnaware
}

func osThreadID() int64 { return int64(windows.GetCurrentThreadId()) }
