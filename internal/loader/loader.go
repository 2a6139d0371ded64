// Package loader implements the recursive module loader: given a root
// specifier it walks static and dynamic imports breadth-first,
// dispatching each unseen specifier to a Source contract and feeding
// completed loads back into the caller through PollNext, mirroring the
// Init -> LoadingRoot -> LoadingImports -> Done state machine of
// original_source/libs/core/modules/recursive_load.rs.
package loader

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"

	"github.com/jsruntime/modcore/internal/specifier"
)

// Kind distinguishes the three ways a load can be started (spec §4.1
// LoadInit).
type Kind int

const (
	KindMain Kind = iota
	KindSide
	KindDynamicImport
)

// Source is the loader's one external dependency: given a resolved
// specifier and an optional referrer it returns the module's source
// text and media type, or redirects to a different specifier. A
// single Source implementation backs both the recursive module loader
// and any component that needs to load one module in isolation.
type Source interface {
	// Load fetches specifier's content. referrer is empty for the root
	// load. It returns the module actually loaded (whose Specifier may
	// differ from the requested one when a redirect occurred) and the
	// imports/re-exports discovered by parsing it.
	Load(ctx context.Context, spec specifier.Specifier, referrer specifier.Specifier, opts LoadOptions) (*specifier.SourceModule, error)
}

// LoadOptions carries the per-request flags the original passes down
// through ModuleLoadOptions.
type LoadOptions struct {
	IsDynamicImport     bool
	IsSynchronous       bool
	RequestedModuleType specifier.RequestedModuleType
}

// state is the load's position in the Init -> LoadingRoot ->
// LoadingImports -> Done state machine.
type state int

const (
	stateInit state = iota
	stateLoadingRoot
	stateLoadingImports
	stateDone
)

// Result is one completed module load, handed back to the caller by
// PollNext in the order loads complete (not the order they were
// started: sibling imports resolve concurrently).
type Result struct {
	Module   *specifier.SourceModule
	Referrer specifier.Specifier // zero for the root of a main or side load
}

// FinishLoad is called exactly once, when the load reaches Done or is
// cancelled, mirroring the Rust Drop impl that calls
// `loader.finish_load()`. Implementations typically release registry
// connection slots or decrement in-flight counters.
type FinishLoad interface {
	FinishLoad()
}

// RecursiveLoad drives one graph load to completion. It is not safe
// for concurrent use by multiple goroutines beyond the one driving
// PollNext.
type RecursiveLoad struct {
	ID uuid.UUID

	kind        Kind
	rootSpec    string
	rootReferrer string
	dynamicType specifier.RequestedModuleType

	source     Source
	finish     FinishLoad
	finishOnce sync.Once

	state state

	visited        mapset.Set // specifier cache keys already dispatched
	visitedAsAlias mapset.Set // specifiers discovered as a redirect target
	visitedMu      sync.Mutex

	results chan loadOutcome
	pending sync.WaitGroup
	closeCh chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	Root *specifier.SourceModule
}

type loadOutcome struct {
	result *Result
	err    error
}

// StartMain begins loading specifier as the program's main module.
func StartMain(ctx context.Context, src Source, fin FinishLoad, rootSpecifier string) *RecursiveLoad {
	return newLoad(ctx, src, fin, KindMain, rootSpecifier, "", specifier.RequestedModuleTypeNone)
}

// StartSide begins loading specifier as a side (non-main) module.
func StartSide(ctx context.Context, src Source, fin FinishLoad, rootSpecifier string) *RecursiveLoad {
	return newLoad(ctx, src, fin, KindSide, rootSpecifier, "", specifier.RequestedModuleTypeNone)
}

// StartDynamicImport begins loading specifier as the target of a
// dynamic `import()` expression from referrer.
func StartDynamicImport(ctx context.Context, src Source, fin FinishLoad, rootSpecifier, referrer string, requestedType specifier.RequestedModuleType) *RecursiveLoad {
	return newLoad(ctx, src, fin, KindDynamicImport, rootSpecifier, referrer, requestedType)
}

func newLoad(ctx context.Context, src Source, fin FinishLoad, kind Kind, rootSpecifier, referrer string, requestedType specifier.RequestedModuleType) *RecursiveLoad {
	loadCtx, cancel := context.WithCancel(ctx)
	l := &RecursiveLoad{
		ID:           uuid.New(),
		kind:         kind,
		rootSpec:     rootSpecifier,
		rootReferrer: referrer,
		dynamicType:  requestedType,
		source:       src,
		finish:       fin,
		state:        stateInit,
		visited:      mapset.NewSet(),
		visitedAsAlias: mapset.NewSet(),
		results:      make(chan loadOutcome),
		closeCh:      make(chan struct{}),
		ctx:          loadCtx,
		cancel:       cancel,
	}
	return l
}

// resolutionKind reports which §4.1 resolution context this load
// started under.
func (l *RecursiveLoad) resolutionKind() specifier.ResolutionKind {
	switch l.kind {
	case KindMain:
		return specifier.ResolutionMainModule
	case KindDynamicImport:
		return specifier.ResolutionDynamicImport
	default:
		return specifier.ResolutionImport
	}
}

// ResolveRoot resolves the load's root specifier without fetching it,
// mirroring RecursiveModuleLoad::resolve_root.
func (l *RecursiveLoad) ResolveRoot() (specifier.Specifier, error) {
	referrer := l.rootReferrer
	if referrer == "" {
		referrer = "."
	}
	base, err := specifier.Parse(referrer)
	if err != nil {
		// referrer "." has no scheme of its own; treat the root specifier
		// as already absolute in that case.
		return specifier.Parse(l.rootSpec)
	}
	return base.Resolve(l.rootSpec)
}

// Prepare performs any loader-side preparation (e.g. registering
// pre-supplied source code) ahead of the first PollNext call. It
// mirrors RecursiveModuleLoad::prepare but the Go Source contract has
// no separate prepare step, so this only resolves and validates the
// root specifier eagerly so callers get resolution errors before
// starting the poll loop.
func (l *RecursiveLoad) Prepare() error {
	_, err := l.ResolveRoot()
	return err
}

// Start kicks off the root load and returns immediately; results
// stream out of PollNext.
func (l *RecursiveLoad) Start() {
	root, err := l.ResolveRoot()
	if err != nil {
		l.state = stateLoadingRoot
		go func() {
			l.deliver(nil, err)
			l.closeOnce.Do(func() { close(l.closeCh) })
		}()
		l.finishLoad()
		return
	}
	l.state = stateLoadingRoot
	referrer := specifier.Specifier{}
	if l.rootReferrer != "" && l.rootReferrer != "." {
		if r, err := specifier.Parse(l.rootReferrer); err == nil {
			referrer = r
		}
	}
	l.dispatch(root, referrer, LoadOptions{
		IsDynamicImport: l.kind == KindDynamicImport,
		IsSynchronous:   false,
		RequestedModuleType: l.dynamicType,
	})
	go l.awaitCompletion()
}

// dispatch starts one goroutine loading spec via the Source contract,
// unless spec has already been dispatched or discovered as a redirect
// alias (visited / visited_as_alias in the original).
func (l *RecursiveLoad) dispatch(spec specifier.Specifier, referrer specifier.Specifier, opts LoadOptions) {
	key := spec.CacheKey()

	l.visitedMu.Lock()
	if l.visited.Contains(key) {
		l.visitedMu.Unlock()
		return
	}
	l.visited.Add(key)
	l.visitedMu.Unlock()

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()

		l.visitedMu.Lock()
		alreadyAlias := l.visitedAsAlias.Contains(key)
		l.visitedMu.Unlock()
		if alreadyAlias {
			return
		}

		mod, err := l.source.Load(l.ctx, spec, referrer, opts)
		if err != nil {
			l.deliver(nil, fmt.Errorf("loading %s: %w", spec, err))
			return
		}
		if !mod.Specifier.Equal(spec) {
			l.visitedMu.Lock()
			l.visitedAsAlias.Add(mod.Specifier.CacheKey())
			l.visitedMu.Unlock()
		}
		l.deliver(&Result{Module: mod, Referrer: referrer}, nil)
		l.recurse(mod)
	}()
}

// recurse walks mod's static and dynamic imports, dispatching a new
// load for each one not already visited — the Go analogue of
// register_and_recurse_inner's breadth-first queue, realised here as
// one dispatch call per import rather than an explicit VecDeque since
// each dispatch already guards on `visited` under the same lock.
func (l *RecursiveLoad) recurse(mod *specifier.SourceModule) {
	for _, imp := range mod.AllImports() {
		referrer := sourceMappedReferrer(mod, imp)
		l.dispatch(imp.ResolvedSpecifier, referrer, LoadOptions{
			IsDynamicImport: imp.Dynamic,
			RequestedModuleType: imp.RequestedType,
		})
	}
}

// sourceMappedReferrer returns the referrer specifier recorded for
// import: the importing module's own specifier. It computes no
// line/column from the import's byte range.
func sourceMappedReferrer(mod *specifier.SourceModule, imp specifier.Import) specifier.Specifier {
	return mod.Specifier
}

// deliver pushes one outcome onto the results channel, or drops it if
// the load has already been fully drained (closeCh closed).
func (l *RecursiveLoad) deliver(r *Result, err error) {
	select {
	case l.results <- loadOutcome{result: r, err: err}:
	case <-l.closeCh:
	}
}

// awaitCompletion waits for every in-flight dispatch to finish, then
// closes the channel PollNext drains, transitioning to Done.
func (l *RecursiveLoad) awaitCompletion() {
	l.pending.Wait()
	l.closeOnce.Do(func() { close(l.closeCh) })
}

// PollNext returns the next completed module load, or (nil, nil) once
// every reachable module has been loaded (LoadState::Done). It blocks
// until a result is ready, ctx is cancelled, or the load finishes.
func (l *RecursiveLoad) PollNext(ctx context.Context) (*Result, error) {
	if l.state == stateInit {
		l.Start()
	}
	l.state = stateLoadingImports
	select {
	case outcome := <-l.results:
		return outcome.result, outcome.err
	case <-l.closeCh:
		l.state = stateDone
		l.finishLoad()
		return nil, nil
	case <-ctx.Done():
		l.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel aborts any in-flight loads and runs FinishLoad, the Go
// equivalent of the Rust Drop impl on RecursiveModuleLoad.
func (l *RecursiveLoad) Cancel() {
	l.cancel()
	l.finishLoad()
}

func (l *RecursiveLoad) finishLoad() {
	l.finishOnce.Do(func() {
		if l.finish != nil {
			l.finish.FinishLoad()
		}
	})
}
