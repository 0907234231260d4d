//go:build !darwin && !linux && !windows

package obs

import "fmt"

// Library is a dynamically loaded shared library. Dynamic loading is not
// available on this platform.
type Library struct{}

// OpenLibrary always reports ErrPlatformUnsupported here.
func OpenLibrary(names ...string) (*Library, error) {
	return nil, fmt.Errorf("%w: dynamic loading not available", ErrPlatformUnsupported)
}

func (l *Library) Path() string { return "" }

func (l *Library) Symbol(name string) (uintptr, error) {
	return 0, fmt.Errorf("%w: dynamic loading not available", ErrPlatformUnsupported)
}

func (l *Library) Register(fptr any, name string) error {
	_, err := l.Symbol(name)
	return err
}

func (l *Library) Close() error { return nil }
