package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jsruntime/modcore/internal/turbopath"
	"gotest.tools/v3/assert"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverFindsNpmWorkspaceMembers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{
		"name": "root",
		"workspaces": ["packages/*"]
	}`)
	writeFile(t, filepath.Join(root, "packages", "a", "package.json"), `{
		"name": "pkg-a",
		"dependencies": {"left-pad": "^1.0.0"}
	}`)
	writeFile(t, filepath.Join(root, "packages", "b", "package.json"), `{
		"name": "pkg-b",
		"devDependencies": {"pkg-a": "workspace:*"}
	}`)

	catalog, err := Discover(turbopath.AbsoluteSystemPathFromUpstream(root))
	assert.NilError(t, err)

	assert.Assert(t, catalog.IsWorkspaceMember("pkg-a"))
	assert.Assert(t, catalog.IsWorkspaceMember("pkg-b"))
	assert.Assert(t, !catalog.IsWorkspaceMember("not-a-member"))

	names := catalog.RootDependencyNames()
	assert.Assert(t, contains(names, "left-pad"))
	assert.Assert(t, contains(names, "pkg-a"))

	wsSection := catalog.ToLockfileWorkspace()
	assert.Equal(t, len(wsSection), 2)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
