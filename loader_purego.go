//go:build darwin || linux

package obs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ebitengine/purego"
)

// Library is a dynamically loaded shared library.
type Library struct {
	name   string
	path   string
	handle uintptr
}

// librarySearchDirs lists directories tried before the system loader's own
// search path.
func librarySearchDirs() []string {
	dirs := []string{os.Getenv("OBS_LIB_PATH")}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

// OpenLibrary loads the first of names that can be found. Bare names are
// looked up in OBS_LIB_PATH and next to the executable, then through the
// system loader. A library that cannot be loaded is reported as
// ErrPlatformUnsupported.
func OpenLibrary(names ...string) (*Library, error) {
	return openLibraryIn(librarySearchDirs(), names...)
}

func openLibraryIn(dirs []string, names ...string) (*Library, error) {
	var tried []string
	for _, name := range names {
		candidates := []string{name}
		if !strings.ContainsRune(name, '/') {
			candidates = candidates[:0]
			for _, d := range dirs {
				if d == "" {
					continue
				}
				p := filepath.Join(d, name)
				if _, err := os.Stat(p); err == nil {
					candidates = append(candidates, p)
				}
			}
			candidates = append(candidates, name)
		}
		for _, c := range candidates {
			h, err := purego.Dlopen(c, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				return &Library{name: name, path: c, handle: h}, nil
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
	sym, err := purego.Dlsym(l.handle, name)
	if err != nil || sym == 0 {
		return 0, fmt.Errorf("%w: %s has no symbol %s", ErrPlatformUnsupported, l.name, name)
	}
	return sym, nil
}

// Register binds the C function name to fptr, a pointer to a func variable.
// Unlike purego.RegisterLibFunc a missing symbol is an error, not a panic.
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
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}
