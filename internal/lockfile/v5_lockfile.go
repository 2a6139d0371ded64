package lockfile

import (
	"fmt"
	"io"
	"strings"

	"github.com/jsruntime/modcore/internal/turbopath"
)

// V5Lockfile adapts the v5 Document to the teacher's Lockfile
// interface, so the rest of the module (TransitiveClosure, the
// Package/ByKey sort) keeps working unchanged against the new schema.
type V5Lockfile struct {
	doc *Document
}

var _ Lockfile = (*V5Lockfile)(nil)

// NewV5Lockfile wraps doc for use through the Lockfile interface.
func NewV5Lockfile(doc *Document) *V5Lockfile {
	return &V5Lockfile{doc: doc}
}

// Document returns the underlying v5 document for callers that need
// schema-specific access (the orchestrator mutating specifiers/jsr/npm
// directly as resolution proceeds).
func (l *V5Lockfile) Document() *Document {
	return l.doc
}

// ResolvePackage looks up name/version for workspacePath: it first
// finds the workspace member's declared dependency, resolves the
// dep-package-req through the `specifiers` map to a concrete id, and
// confirms that id has a jsr or npm entry.
func (l *V5Lockfile) ResolvePackage(workspacePath turbopath.AnchoredUnixPath, name string, version string) (Package, error) {
	member, ok := l.doc.Workspace[workspacePath.ToString()]
	if !ok {
		return Package{}, fmt.Errorf("no workspace entry in lockfile for %q", workspacePath)
	}
	declared, ok := member.Dependencies[name]
	if !ok {
		declared, ok = member.DevDependencies[name]
	}
	if !ok {
		declared = version
	}

	req := depPackageReq(name, declared)
	resolved, ok := l.doc.Specifiers[req]
	if !ok {
		return Package{}, nil
	}

	if _, ok := l.doc.Npm[resolved]; ok {
		return Package{Key: resolved, Version: idVersion(resolved), Found: true}, nil
	}
	if _, ok := l.doc.Jsr[resolved]; ok {
		return Package{Key: resolved, Version: idVersion(resolved), Found: true}, nil
	}
	return Package{}, nil
}

// AllDependencies returns the dependency set recorded for a resolved
// npm or jsr id.
func (l *V5Lockfile) AllDependencies(key string) (map[string]string, bool) {
	if entry, ok := l.doc.Npm[key]; ok {
		return entry.Dependencies, true
	}
	if entry, ok := l.doc.Jsr[key]; ok {
		deps := make(map[string]string, len(entry.Dependencies))
		for _, dep := range entry.Dependencies {
			name, version := splitNameVersion(dep)
			deps[name] = version
		}
		return deps, true
	}
	return nil, false
}

// Subgraph returns a new V5Lockfile pruned to only the given resolved
// ids and workspace members, keeping the specifiers that still point
// at a surviving entry. The redirects and remote sections are not
// carried over.
func (l *V5Lockfile) Subgraph(workspacePackages []turbopath.AnchoredSystemPath, packages []string) (Lockfile, error) {
	keep := make(map[string]bool, len(packages))
	for _, pkg := range packages {
		keep[pkg] = true
	}

	pruned := NewDocument()
	pruned.Npm = make(map[string]NpmV5Package)
	pruned.Jsr = make(map[string]JsrPackage)
	for id, entry := range l.doc.Npm {
		if keep[id] {
			pruned.Npm[id] = entry
		}
	}
	for id, entry := range l.doc.Jsr {
		if keep[id] {
			pruned.Jsr[id] = entry
		}
	}

	pruned.Specifiers = make(map[string]string)
	for req, resolved := range l.doc.Specifiers {
		if _, ok := pruned.Npm[resolved]; ok {
			pruned.Specifiers[req] = resolved
			continue
		}
		if _, ok := pruned.Jsr[resolved]; ok {
			pruned.Specifiers[req] = resolved
		}
	}

	pruned.Workspace = make(map[string]WorkspaceMember)
	for _, wsPkg := range workspacePackages {
		key := wsPkg.ToUnixPath().ToString()
		if member, ok := l.doc.Workspace[key]; ok {
			pruned.Workspace[key] = member
		} else {
			return nil, fmt.Errorf("no workspace entry in lockfile for %q", key)
		}
	}

	return NewV5Lockfile(pruned), nil
}

// Encode writes the canonical JSON form of the document to w.
func (l *V5Lockfile) Encode(w io.Writer) error {
	b, err := l.doc.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Patches reports patched packages; the module resolution domain has
// no patch concept, so this is always empty.
func (l *V5Lockfile) Patches() []turbopath.AnchoredUnixPath {
	return nil
}

// GlobalChange reports whether the schema version changed between
// lockfiles, which for turbo's cache-invalidation purposes is the only
// change that invalidates everything downstream.
func (l *V5Lockfile) GlobalChange(other Lockfile) bool {
	o, ok := other.(*V5Lockfile)
	if !ok {
		return true
	}
	return l.doc.Version != o.doc.Version
}

// depPackageReq normalises a name+declared-version pair into the
// `npm:name@range` lockfile key form used in the `specifiers` map.
func depPackageReq(name, version string) string {
	if version == "" {
		return fmt.Sprintf("npm:%s", name)
	}
	return fmt.Sprintf("npm:%s@%s", name, version)
}

// idVersion extracts the version suffix from a resolved id of the form
// "name@version" or "@scope/name@version".
func idVersion(id string) string {
	_, version := splitNameVersion(id)
	return version
}

// splitNameVersion splits a resolved id or bare dependency entry on
// its final "@version" suffix, accounting for a leading "@scope/".
func splitNameVersion(id string) (name, version string) {
	scoped := strings.HasPrefix(id, "@")
	search := id
	if scoped {
		if idx := strings.Index(id, "/"); idx != -1 {
			search = id[idx+1:]
		}
	}
	at := strings.LastIndex(search, "@")
	if at <= 0 {
		return id, ""
	}
	offset := len(id) - len(search)
	return id[:offset+at], id[offset+at+1:]
}
