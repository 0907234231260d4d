//go:build !darwin && !linux

package obs

import (
	"fmt"

	"go.uber.org/zap"
)

func newNativeBackend(*EngineConfig, *zap.Logger) (backend, error) {
	return nil, fmt.Errorf("%w: native libobs backend is not built for this platform", ErrPlatformUnsupported)
}
