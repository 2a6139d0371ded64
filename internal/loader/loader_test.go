package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jsruntime/modcore/internal/specifier"
)

// fakeSource serves a fixed in-memory graph keyed by specifier string.
type fakeSource struct {
	mu       sync.Mutex
	modules  map[string]*specifier.SourceModule
	loadedN  int
}

func (f *fakeSource) Load(ctx context.Context, spec, referrer specifier.Specifier, opts LoadOptions) (*specifier.SourceModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadedN++
	m, ok := f.modules[spec.CacheKey()]
	if !ok {
		return nil, &notFoundError{spec: spec.String()}
	}
	return m, nil
}

type notFoundError struct{ spec string }

func (e *notFoundError) Error() string { return "not found: " + e.spec }

type noopFinish struct{ called bool }

func (n *noopFinish) FinishLoad() { n.called = true }

func modOf(t *testing.T, spec string, imports ...string) *specifier.SourceModule {
	t.Helper()
	m := &specifier.SourceModule{Specifier: mustParse(t, spec)}
	for _, imp := range imports {
		m.Imports = append(m.Imports, specifier.Import{
			ResolvedSpecifier: mustParse(t, imp),
			OriginalString:    imp,
		})
	}
	return m
}

func mustParse(t *testing.T, s string) specifier.Specifier {
	t.Helper()
	sp, err := specifier.Parse(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return sp
}

func TestRecursiveLoadWalksWholeGraph(t *testing.T) {
	src := &fakeSource{modules: map[string]*specifier.SourceModule{
		"file:///a.ts": modOf(t, "file:///a.ts", "file:///b.ts"),
		"file:///b.ts": modOf(t, "file:///b.ts", "file:///c.ts"),
		"file:///c.ts": modOf(t, "file:///c.ts"),
	}}
	fin := &noopFinish{}
	load := StartMain(context.Background(), src, fin, "file:///a.ts")

	seen := make(map[string]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		res, err := load.PollNext(ctx)
		if err != nil {
			t.Fatalf("PollNext: %v", err)
		}
		if res == nil {
			break
		}
		seen[res.Module.Specifier.String()] = true
	}

	for _, key := range []string{"file:///a.ts", "file:///b.ts", "file:///c.ts"} {
		if !seen[key] {
			t.Errorf("expected %s to be loaded, seen = %v", key, seen)
		}
	}
	if !fin.called {
		t.Error("expected FinishLoad to be called once the load reaches Done")
	}
}

func TestRecursiveLoadDiamondDoesNotDoubleLoad(t *testing.T) {
	src := &fakeSource{modules: map[string]*specifier.SourceModule{
		"file:///a.ts": modOf(t, "file:///a.ts", "file:///b.ts", "file:///c.ts"),
		"file:///b.ts": modOf(t, "file:///b.ts", "file:///d.ts"),
		"file:///c.ts": modOf(t, "file:///c.ts", "file:///d.ts"),
		"file:///d.ts": modOf(t, "file:///d.ts"),
	}}
	fin := &noopFinish{}
	load := StartMain(context.Background(), src, fin, "file:///a.ts")

	count := 0
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		res, err := load.PollNext(ctx)
		if err != nil {
			t.Fatalf("PollNext: %v", err)
		}
		if res == nil {
			break
		}
		count++
	}
	if count != 4 {
		t.Errorf("expected exactly 4 module loads for a diamond graph, got %d", count)
	}
}

func TestRecursiveLoadReportsMissingImport(t *testing.T) {
	src := &fakeSource{modules: map[string]*specifier.SourceModule{
		"file:///a.ts": modOf(t, "file:///a.ts", "file:///missing.ts"),
	}}
	fin := &noopFinish{}
	load := StartMain(context.Background(), src, fin, "file:///a.ts")

	var gotErr bool
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		res, err := load.PollNext(ctx)
		if err != nil {
			gotErr = true
			continue
		}
		if res == nil {
			break
		}
	}
	if !gotErr {
		t.Error("expected a load error for the missing sibling import")
	}
}
