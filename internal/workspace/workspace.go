// Package workspace discovers the members of a local npm/yarn/pnpm
// workspace (§4.9's supplemental scope): it turns a root directory
// into a Catalog of member package.json files, which feeds the
// lockfile's `workspace` section and answers which package names
// resolve to a local directory rather than the network.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jsruntime/modcore/internal/fs"
	"github.com/jsruntime/modcore/internal/globby"
	"github.com/jsruntime/modcore/internal/lockfile"
	"github.com/jsruntime/modcore/internal/turbopath"
)

// Member is one workspace package: its manifest plus the directory it
// lives in, relative to the workspace root.
type Member struct {
	Dir         turbopath.AnchoredSystemPath
	PackageJSON *fs.PackageJSON
}

// Catalog holds every discovered member of a workspace, keyed by
// package name.
type Catalog struct {
	Root    turbopath.AbsoluteSystemPath
	Members map[string]Member
}

// pnpmWorkspaceYAML is the shape of pnpm-workspace.yaml's `packages`
// list, the pnpm-specific equivalent of package.json's `workspaces`
// field.
type pnpmWorkspaceYAML struct {
	Packages []string `yaml:"packages"`
}

// workspaceGlobs returns the package-directory globs declared for
// root, preferring package.json's `workspaces` field (npm/yarn/bun
// convention) and falling back to pnpm-workspace.yaml's `packages`
// list.
func workspaceGlobs(root turbopath.AbsoluteSystemPath, rootPkgJSON *fs.PackageJSON) ([]string, error) {
	if len(rootPkgJSON.Workspaces) > 0 {
		return []string(rootPkgJSON.Workspaces), nil
	}

	pnpmPath := filepath.Join(root.ToString(), "pnpm-workspace.yaml")
	content, err := os.ReadFile(pnpmPath)
	if err != nil {
		return nil, nil
	}
	var parsed pnpmWorkspaceYAML
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("parsing pnpm-workspace.yaml: %w", err)
	}
	return parsed.Packages, nil
}

// Discover reads root's package.json (and pnpm-workspace.yaml, if
// present), resolves the declared workspace globs against the
// filesystem, and reads every matching package.json into a Catalog.
func Discover(root turbopath.AbsoluteSystemPath) (*Catalog, error) {
	rootPkgJSONPath := turbopath.AbsoluteSystemPathFromUpstream(filepath.Join(root.ToString(), "package.json"))
	rootPkgJSON, err := fs.ReadPackageJSON(rootPkgJSONPath)
	if err != nil {
		return nil, fmt.Errorf("reading root package.json: %w", err)
	}

	globs, err := workspaceGlobs(root, rootPkgJSON)
	if err != nil {
		return nil, err
	}

	catalog := &Catalog{Root: root, Members: make(map[string]Member)}
	if len(globs) == 0 {
		return catalog, nil
	}

	includes := make([]string, len(globs))
	for i, g := range globs {
		includes[i] = filepath.Join(g, "package.json")
	}
	ignores := []string{"**/node_modules/**"}

	for _, p := range globby.GlobFiles(root.ToString(), includes, ignores) {
		abs := turbopath.AbsoluteSystemPathFromUpstream(p)
		pkgJSON, err := fs.ReadPackageJSON(abs)
		if err != nil {
			continue // a glob match without a readable package.json isn't a real member
		}
		memberDir := turbopath.AbsoluteSystemPathFromUpstream(filepath.Dir(abs.ToString()))
		dir, err := memberDir.RelativeTo(root)
		if err != nil {
			return nil, fmt.Errorf("computing workspace member path for %s: %w", p, err)
		}
		catalog.Members[pkgJSON.Name] = Member{Dir: dir, PackageJSON: pkgJSON}
	}
	return catalog, nil
}

// IsWorkspaceMember reports whether name resolves to a local workspace
// package rather than the npm/jsr registry. The registry provider in
// internal/npmregistry does not consult it.
func (c *Catalog) IsWorkspaceMember(name string) bool {
	_, ok := c.Members[name]
	return ok
}

// ToLockfileWorkspace renders the catalog into the `workspace` section
// of a v5 lockfile document: one entry per member, keyed by its
// anchored-unix-path directory, carrying its declared dependency and
// dev-dependency sets.
func (c *Catalog) ToLockfileWorkspace() map[string]lockfile.WorkspaceMember {
	out := make(map[string]lockfile.WorkspaceMember, len(c.Members))
	for _, m := range c.Members {
		key := m.Dir.ToUnixPath().ToString()
		out[key] = lockfile.WorkspaceMember{
			Dependencies:    m.PackageJSON.Dependencies,
			DevDependencies: m.PackageJSON.DevDependencies,
		}
	}
	return out
}

// RootDependencyNames returns every dependency name declared anywhere
// across the workspace's members, deduplicated, in no particular
// order. Nothing in the module passes these names to the registry
// provider's prefetch.
func (c *Catalog) RootDependencyNames() []string {
	seen := make(map[string]bool)
	for _, m := range c.Members {
		for name := range m.PackageJSON.Dependencies {
			seen[name] = true
		}
		for name := range m.PackageJSON.DevDependencies {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}
