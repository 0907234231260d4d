//go:build windows

package obs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/windows"
)

// Library is a dynamically loaded shared library.
type Library struct {
	name string
	path string
	dll  *windows.DLL
}

// OpenLibrary loads the first of names that can be found, looking in
// OBS_LIB_PATH, next to the executable and then on the system search path.
// A library that cannot be loaded is reported as ErrPlatformUnsupported.
func OpenLibrary(names ...string) (*Library, error) {
	dirs := []string{os.Getenv("OBS_LIB_PATH")}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	var tried []string
	for _, name := range names {
		candidates := []string{}
		for _, d := range dirs {
			if d != "" {
				candidates = append(candidates, filepath.Join(d, name))
			}
		}
		candidates = append(candidates, name)
		for _, c := range candidates {
			dll, err := windows.LoadDLL(c)
			if err == nil {
				return &Library{name: name, path: c, dll: dll}, nil
			}
			tried = append(tried, c)
		}
	}
	return nil, fmt.Errorf("%w: cannot load %s (tried %s)", ErrPlatformUnsupported,
		strings.Join(names, ", "), strings.Join(tried, ", "))
}

// Path is the path the library was loaded from.
func (l *Library) Path() string { return l.path }

// Symbol resolves name. A missing symbol is reported as
// ErrPlatformUnsupported.
func (l *Library) Symbol(name string) (uintptr, error) {
	p, err := l.dll.FindProc(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s has no symbol %s", ErrPlatformUnsupported, l.name, name)
	}
	return p.Addr(), nil
}

// Register binds the C function name to fptr, a pointer to a func variable.
func (l *Library) Register(fptr any, name string) error {
	sym, err := l.Symbol(name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fptr, sym)
	return nil
}

// Close unloads the library.
func (l *Library) Close() error {
	if l.dll == nil {
		return nil
	}
	err := l.dll.Release()
	l.dll = nil
	return err
}
