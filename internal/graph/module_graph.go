// Package graph holds the module graph: the directed graph of loaded
// modules indexed by specifier, adapted from the teacher's
// CompleteGraph (which wraps a dag.AcyclicGraph around a task graph)
// into a graph over SourceModule nodes.
package graph

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/hashicorp/go-multierror"
	"github.com/pyr-sh/dag"

	"github.com/jsruntime/modcore/internal/specifier"
)

// LoadError records why a particular specifier could not be loaded,
// kept alongside the graph rather than aborting it (spec §4.1 failure
// model: "a single module load error ... does not abort sibling loads
// already in flight").
type LoadError struct {
	Specifier specifier.Specifier
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Specifier, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EntryPoint pairs an entry specifier with the environment it roots,
// spec §3's "(env, entry) entry-point table".
type EntryPoint struct {
	Environment specifier.Environment
	Specifier   specifier.Specifier
}

// ModuleGraph is the directed graph of modules indexed by specifier.
// It owns the dag.AcyclicGraph used for traversal and a side table of
// SourceModule payloads keyed by the same canonical specifier strings
// used as dag vertices.
type ModuleGraph struct {
	dag dag.AcyclicGraph

	modules   map[string]*specifier.SourceModule
	redirects map[string]string // non-canonical -> canonical
	errors    map[string]*LoadError
	entries   []EntryPoint
}

// New creates an empty module graph.
func New() *ModuleGraph {
	return &ModuleGraph{
		modules:   make(map[string]*specifier.SourceModule),
		redirects: make(map[string]string),
		errors:    make(map[string]*LoadError),
	}
}

// AddEntryPoint registers an (environment, entry) pair (spec §3
// invariant 2).
func (g *ModuleGraph) AddEntryPoint(env specifier.Environment, entry specifier.Specifier) {
	g.entries = append(g.entries, EntryPoint{Environment: env, Specifier: entry})
}

// Canonicalize resolves s through the redirect chain to its canonical
// target (spec §3 invariant 3: "Redirects resolve to a unique
// canonical specifier stored once; all referrers see the canonical
// form.").
func (g *ModuleGraph) Canonicalize(s specifier.Specifier) string {
	key := s.CacheKey()
	seen := make(map[string]bool)
	for {
		target, ok := g.redirects[key]
		if !ok || seen[key] {
			return key
		}
		seen[key] = true
		key = target
	}
}

// AddRedirect records that `from` transparently rewrites to `to`. The
// `from` specifier is never inserted as a graph key afterwards;
// callers must re-resolve via Canonicalize before calling Get/Insert.
func (g *ModuleGraph) AddRedirect(from, to specifier.Specifier) {
	g.redirects[from.CacheKey()] = to.CacheKey()
}

// Insert registers a loaded module into the graph, keyed by its
// canonical specifier, and connects a dag edge from every node that
// already imports it (none yet — edges are added by Link once the
// importer's import list is known).
func (g *ModuleGraph) Insert(m *specifier.SourceModule) {
	key := g.Canonicalize(m.Specifier)
	g.modules[key] = m
	g.dag.Add(key)
}

// RecordError marks a specifier as failed to load, without aborting
// the rest of the graph.
func (g *ModuleGraph) RecordError(s specifier.Specifier, err error) {
	g.errors[s.CacheKey()] = &LoadError{Specifier: s, Err: err}
}

// Get returns the module registered at s's canonical specifier, if
// any.
func (g *ModuleGraph) Get(s specifier.Specifier) (*specifier.SourceModule, bool) {
	m, ok := g.modules[g.Canonicalize(s)]
	return m, ok
}

// Has reports whether s (after canonicalisation) is a graph key.
func (g *ModuleGraph) Has(s specifier.Specifier) bool {
	_, ok := g.modules[g.Canonicalize(s)]
	return ok
}

// Link adds a dag edge from importer to each of its static and dynamic
// imports, and propagates importer's environment set onto each
// target (spec §3 invariant 2's "all modules reachable ... carry env").
// Every import becomes an edge; a cycle through a dynamic import is
// tolerated because TopologicalSort follows static imports only
// (spec §3 invariant 4).
func (g *ModuleGraph) Link(importer *specifier.SourceModule) {
	importerKey := g.Canonicalize(importer.Specifier)
	g.dag.Add(importerKey)
	for _, imp := range importer.AllImports() {
		targetKey := g.Canonicalize(imp.ResolvedSpecifier)
		g.dag.Add(targetKey)
		g.dag.Connect(dag.BasicEdge(importerKey, targetKey))
		if target, ok := g.modules[targetKey]; ok && target.Environments != nil {
			target.Environments.Union(importer.Environments)
		}
	}
}

// PropagateEnvironments walks every entry point and unions its
// environment into every module reachable from it through static or
// dynamic imports, establishing invariant 2. It must be called after
// the graph is fully loaded and linked.
func (g *ModuleGraph) PropagateEnvironments() error {
	for _, ep := range g.entries {
		key := g.Canonicalize(ep.Specifier)
		root, ok := g.modules[key]
		if !ok {
			continue // entry failed to load; recorded separately in errors
		}
		if root.Environments == nil {
			root.Environments = specifier.NewEnvironmentSet()
		}
		root.Environments.Add(ep.Environment)
		visited := mapset.NewSet()
		if err := g.propagateFrom(key, ep.Environment, visited); err != nil {
			return err
		}
	}
	return nil
}

func (g *ModuleGraph) propagateFrom(key string, env specifier.Environment, visited mapset.Set) error {
	if visited.Contains(key) {
		return nil
	}
	visited.Add(key)
	m, ok := g.modules[key]
	if !ok {
		return nil
	}
	if m.Environments == nil {
		m.Environments = specifier.NewEnvironmentSet()
	}
	m.Environments.Add(env)
	for _, imp := range m.AllImports() {
		childKey := g.Canonicalize(imp.ResolvedSpecifier)
		if err := g.propagateFrom(childKey, env, visited); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks graph invariant 1: every import of every node is
// either a graph key or a recorded load error.
func (g *ModuleGraph) Validate() error {
	var errs *multierror.Error
	for key, m := range g.modules {
		for _, imp := range m.AllImports() {
			targetKey := g.Canonicalize(imp.ResolvedSpecifier)
			if _, ok := g.modules[targetKey]; ok {
				continue
			}
			if _, ok := g.errors[targetKey]; ok {
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("module %s imports %s, which is neither loaded nor a recorded error", key, targetKey))
		}
	}
	return errs.ErrorOrNil()
}

// CyclicDependencyError is returned by TopologicalSort when the static
// import subgraph for an environment contains a cycle (spec §3
// invariant 4, §9 "three-colour DFS").
type CyclicDependencyError struct {
	Specifier string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected involving %s", e.Specifier)
}

type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

// TopologicalSort returns the modules reachable from env's entry
// points in dependency-first order, considering only static imports
// (dynamic-import edges never participate in cycle detection or
// ordering here, per spec §3 invariant 4 and §9). It implements the
// three-colour DFS spec §9 names explicitly, rather than delegating to
// dag.AcyclicGraph's generic cycle utilities, since the environment
// partition and the static-vs-dynamic edge distinction are specific to
// this graph's semantics.
func (g *ModuleGraph) TopologicalSort(env specifier.Environment) ([]string, error) {
	colors := make(map[string]dfsColor)
	var order []string

	var visit func(key string) error
	visit = func(key string) error {
		switch colors[key] {
		case black:
			return nil
		case gray:
			return &CyclicDependencyError{Specifier: key}
		}
		colors[key] = gray
		m, ok := g.modules[key]
		if ok {
			if m.Environments == nil || m.Environments.Contains(env) {
				for _, imp := range m.Imports { // static only
					childKey := g.Canonicalize(imp.ResolvedSpecifier)
					if _, loaded := g.modules[childKey]; !loaded {
						continue
					}
					if err := visit(childKey); err != nil {
						return err
					}
				}
			}
		}
		colors[key] = black
		order = append(order, key)
		return nil
	}

	var roots []string
	for _, ep := range g.entries {
		if ep.Environment != env {
			continue
		}
		roots = append(roots, g.Canonicalize(ep.Specifier))
	}
	sort.Strings(roots) // deterministic traversal order across entries
	for _, root := range roots {
		if _, ok := g.modules[root]; !ok {
			continue
		}
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Modules returns every module currently registered, keyed by
// canonical specifier string.
func (g *ModuleGraph) Modules() map[string]*specifier.SourceModule {
	return g.modules
}

// Errors returns the load errors recorded against this graph.
func (g *ModuleGraph) Errors() map[string]*LoadError {
	return g.errors
}

// Walk performs a dependency-unordered walk of the underlying dag,
// invoking fn once per vertex; used by consumers (e.g. a bundler) that
// only need "every module once", not topological order (spec §5:
// "across modules: no order; graph walk is intentionally unordered").
func (g *ModuleGraph) Walk(fn func(specifierKey string) error) error {
	return g.dag.Walk(func(v dag.Vertex) error {
		return fn(dag.VertexName(v))
	})
}
