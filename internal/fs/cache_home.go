package fs

import (
	"path/filepath"

	"github.com/adrg/xdg"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/jsruntime/modcore/internal/turbopath"
)

// DefaultCacheRoot resolves the default directory this module's disk
// caches (emit cache, npm/jsr registry packument cache) live under when
// the caller hasn't supplied an explicit --cache-dir: $HOME/.cache/modcore,
// falling back to the XDG cache home if $HOME can't be resolved (e.g.
// a container running without a HOME env var).
func DefaultCacheRoot() (turbopath.AbsoluteSystemPath, error) {
	home, err := homedir.Dir()
	if err != nil {
		return turbopath.AbsoluteSystemPathFromUpstream(filepath.Join(xdg.CacheHome, "modcore")), nil
	}
	return turbopath.AbsoluteSystemPathFromUpstream(filepath.Join(home, ".cache", "modcore")), nil
}
