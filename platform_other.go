//go:build !linux && !windows

package obs

import "go.uber.org/zap"

func initPlatform(*zap.Logger) (func(*zap.Logger), error) { return nil, nil }

func osThreadID() int64 { return 0 }

func openNixDisplay(Platform) (uintptr, func()) { return 0, nil }

func currentThreadDPIAware() bool { return true }
