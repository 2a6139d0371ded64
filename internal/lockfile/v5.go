// v5 implements spec §4.4's lockfile schema: a JSON document keyed by
// `specifiers`, `jsr`, `npm`, `redirects`, `remote`, and `workspace`,
// serialised with the canonical formatting rules of
// original_source/libs/lockfile/printer.rs (lexicographic key order,
// single-line `os`/`cpu` arrays, omitted empty sections).
package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jsruntime/modcore/internal/fs"
)

// SchemaVersion is the lockfile schema tag written to the `version`
// field, per §4.4.
const SchemaVersion = "5"

// JsrPackage is a per-name@version record in the `jsr` section:
// integrity plus a dependency list that collapses to bare names when
// unambiguous.
type JsrPackage struct {
	Integrity    string   `json:"integrity"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// NpmV5Package is a per-id record in the `npm` section of a v5
// lockfile.
type NpmV5Package struct {
	Integrity     string            `json:"integrity"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
	Optional      bool              `json:"optional,omitempty"`
	OptionalPeers []string          `json:"optionalPeers,omitempty"`
	OS            []string          `json:"os,omitempty"`
	CPU           []string          `json:"cpu,omitempty"`
	Deprecated    string            `json:"deprecated,omitempty"`
	Scripts       bool              `json:"scripts,omitempty"`
	Bin           []string          `json:"bin,omitempty"`
	Tarball       string            `json:"tarball,omitempty"`
}

// WorkspaceMember is one entry of the `workspace` section: a member's
// own dependency sets plus an optional links block for linked
// packages.
type WorkspaceMember struct {
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
	Links           map[string]string `json:"links,omitempty"`
}

// Document is the in-memory, JSON-shaped representation of a v5
// lockfile.
type Document struct {
	Version    string                     `json:"version"`
	Specifiers map[string]string          `json:"specifiers,omitempty"`
	Jsr        map[string]JsrPackage      `json:"jsr,omitempty"`
	Npm        map[string]NpmV5Package    `json:"npm,omitempty"`
	Redirects  map[string]string          `json:"redirects,omitempty"`
	Remote     map[string]string          `json:"remote,omitempty"`
	Workspace  map[string]WorkspaceMember `json:"workspace,omitempty"`
}

// NewDocument returns an empty v5 document tagged with the current
// schema version.
func NewDocument() *Document {
	return &Document{Version: SchemaVersion}
}

// Marshal renders doc using the canonical formatting rules of §4.4:
// keys sorted lexicographically by final string form, `os`/`cpu`
// arrays kept on one line, everything else indented two spaces per
// level, empty sections dropped.
func (doc *Document) Marshal() ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	p := &canonicalPrinter{w: &buf}
	if err := p.print(generic, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal parses content into a fresh v5 Document.
func Unmarshal(content []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(content, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// canonicalPrinter writes the same tree serde_json's Formatter trait
// writes in printer.rs: singly-indented objects with sorted keys,
// scalar arrays under an `os` or `cpu` key collapsed onto one line,
// and every other array printed one element per line.
type canonicalPrinter struct {
	w *bytes.Buffer
}

func (p *canonicalPrinter) print(v interface{}, depth int) error {
	switch val := v.(type) {
	case map[string]interface{}:
		return p.printObject(val, depth)
	case []interface{}:
		return p.printArray(val, depth, false)
	default:
		return p.printScalar(val)
	}
}

func (p *canonicalPrinter) printObject(m map[string]interface{}, depth int) error {
	if len(m) == 0 {
		p.w.WriteString("{}")
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.w.WriteString("{\n")
	indent := strings.Repeat("  ", depth+1)
	for i, k := range keys {
		p.w.WriteString(indent)
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return err
		}
		p.w.Write(keyBytes)
		p.w.WriteString(": ")
		var err error
		if arr, ok := m[k].([]interface{}); ok {
			err = p.printArray(arr, depth+1, k == "os" || k == "cpu")
		} else {
			err = p.print(m[k], depth+1)
		}
		if err != nil {
			return err
		}
		if i < len(keys)-1 {
			p.w.WriteByte(',')
		}
		p.w.WriteByte('\n')
	}
	p.w.WriteString(strings.Repeat("  ", depth))
	p.w.WriteByte('}')
	return nil
}

func (p *canonicalPrinter) printArray(arr []interface{}, depth int, inline bool) error {
	if len(arr) == 0 {
		p.w.WriteString("[]")
		return nil
	}
	if inline && allScalar(arr) {
		p.w.WriteByte('[')
		for i, elem := range arr {
			if i > 0 {
				p.w.WriteString(", ")
			}
			if err := p.printScalar(elem); err != nil {
				return err
			}
		}
		p.w.WriteByte(']')
		return nil
	}

	p.w.WriteString("[\n")
	indent := strings.Repeat("  ", depth+1)
	for i, elem := range arr {
		p.w.WriteString(indent)
		if err := p.print(elem, depth+1); err != nil {
			return err
		}
		if i < len(arr)-1 {
			p.w.WriteByte(',')
		}
		p.w.WriteByte('\n')
	}
	p.w.WriteString(strings.Repeat("  ", depth))
	p.w.WriteByte(']')
	return nil
}

func (p *canonicalPrinter) printScalar(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.w.Write(b)
	return nil
}

func allScalar(arr []interface{}) bool {
	for _, elem := range arr {
		switch elem.(type) {
		case map[string]interface{}, []interface{}:
			return false
		}
	}
	return true
}

// FrozenDriftError is returned by WriteIfChanged when frozen mode is
// set and the new content differs from what's on disk, carrying a
// unified diff per §4.4's frozen-mode contract.
type FrozenDriftError struct {
	Path string
	Diff string
}

func (e *FrozenDriftError) Error() string {
	return fmt.Sprintf("lockfile %s would change and frozen mode is set:\n%s", e.Path, e.Diff)
}

// WriteIfChanged serialises doc and writes it to path atomically with
// mode 0o644, unless:
//   - skipWrite is set, in which case a would-be-changed write is
//     silently suppressed, or
//   - frozen is set and the content would change, in which case it
//     returns a *FrozenDriftError carrying a unified diff instead of
//     writing.
//
// It reports whether a write actually happened.
func WriteIfChanged(path fs.AbsolutePath, doc *Document, frozen, skipWrite bool) (bool, error) {
	newContent, err := doc.Marshal()
	if err != nil {
		return false, fmt.Errorf("marshalling lockfile: %w", err)
	}

	oldContent, readErr := path.ReadFile()
	unchanged := readErr == nil && bytes.Equal(oldContent, newContent)
	if unchanged {
		return false, nil
	}

	if frozen {
		diff := unifiedDiff(string(oldContent), string(newContent), string(path))
		return false, &FrozenDriftError{Path: string(path), Diff: diff}
	}
	if skipWrite {
		return false, nil
	}

	if err := fs.AtomicWriteFile(path, newContent, 0o644); err != nil {
		return false, fmt.Errorf("writing lockfile: %w", err)
	}
	return true, nil
}

// unifiedDiff renders a minimal line-oriented unified diff between old
// and new, enough to show which lines were pinned versus resolved
// (e.g. `-1.0.0` / `+1.0.1`) without pulling in a diff library the
// rest of the module has no other use for.
func unifiedDiff(old, new, label string) string {
	oldLines := strings.Split(old, "\n")
	newLines := strings.Split(new, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (on disk)\n", label)
	fmt.Fprintf(&b, "+++ %s (resolved)\n", label)

	oldSet := make(map[string]bool, len(oldLines))
	for _, l := range oldLines {
		oldSet[l] = true
	}
	newSet := make(map[string]bool, len(newLines))
	for _, l := range newLines {
		newSet[l] = true
	}
	for _, l := range oldLines {
		if !newSet[l] {
			fmt.Fprintf(&b, "-%s\n", l)
		}
	}
	for _, l := range newLines {
		if !oldSet[l] {
			fmt.Fprintf(&b, "+%s\n", l)
		}
	}
	return b.String()
}
