package emitter

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/jsruntime/modcore/internal/fs"
	"github.com/jsruntime/modcore/internal/turbopath"
)

// ModuleKind is the output format a module should be emitted as,
// mirroring deno_ast::ModuleKind's Esm/Cjs distinction.
type ModuleKind int

const (
	ModuleKindEsm ModuleKind = iota
	ModuleKindCjs
)

func (k ModuleKind) String() string {
	if k == ModuleKindCjs {
		return "cjs"
	}
	return "esm"
}

// CjsTracker decides whether a file path should be treated as a
// CommonJS module, the question CjsTracker::is_cjs_with_known_is_script
// answers by walking up to the nearest package.json and reading its
// "type" field.
type CjsTracker interface {
	IsCjs(absPath string) (bool, error)
}

// PackageJSONCjsTracker implements CjsTracker by caching the nearest
// package.json lookup per directory, adapted from the teacher's
// internal/fs.ReadPackageJSON.
type PackageJSONCjsTracker struct {
	mu    sync.Mutex
	cache map[string]*fs.PackageJSON // dir -> nearest package.json (nil cached as sentinel below)
}

// NewPackageJSONCjsTracker creates a tracker with an empty
// per-directory cache.
func NewPackageJSONCjsTracker() *PackageJSONCjsTracker {
	return &PackageJSONCjsTracker{cache: make(map[string]*fs.PackageJSON)}
}

// IsCjs reports whether absPath should be interpreted as CommonJS:
// a .cjs extension is always CommonJS, a .mjs or .mts extension is
// always ESM, and any other extension (.js and .ts included) defers to
// the nearest ancestor package.json's "type" field (absent or
// "commonjs" means CommonJS, "module" means ESM).
func (t *PackageJSONCjsTracker) IsCjs(absPath string) (bool, error) {
	ext := strings.ToLower(filepath.Ext(absPath))
	switch ext {
	case ".cjs":
		return true, nil
	case ".mjs":
		return false, nil
	case ".mts":
		return false, nil // .mts is always ESM; .ts falls through to package.json
	}

	pkg, err := t.nearestPackageJSON(filepath.Dir(absPath))
	if err != nil {
		return false, err
	}
	if pkg == nil {
		return true, nil // no package.json found: npm's default is CommonJS
	}
	return pkg.Type != "module", nil
}

func (t *PackageJSONCjsTracker) nearestPackageJSON(dir string) (*fs.PackageJSON, error) {
	t.mu.Lock()
	if pkg, ok := t.cache[dir]; ok {
		t.mu.Unlock()
		return pkg, nil
	}
	t.mu.Unlock()

	candidate := filepath.Join(dir, "package.json")
	abs := turbopath.AbsoluteSystemPathFromUpstream(candidate)
	if pkg, readErr := fs.ReadPackageJSON(abs); readErr == nil {
		t.mu.Lock()
		t.cache[dir] = pkg
		t.mu.Unlock()
		return pkg, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		t.mu.Lock()
		t.cache[dir] = nil
		t.mu.Unlock()
		return nil, nil
	}
	pkg, err := t.nearestPackageJSON(parent)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.cache[dir] = pkg
	t.mu.Unlock()
	return pkg, nil
}
