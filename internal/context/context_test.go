package context

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsruntime/modcore/internal/fs"
	"github.com/jsruntime/modcore/internal/loader"
	"github.com/jsruntime/modcore/internal/npmregistry"
	"github.com/jsruntime/modcore/internal/specifier"
	"github.com/jsruntime/modcore/internal/turbopath"
)

func absPath(t *testing.T, p string) turbopath.AbsoluteSystemPath {
	t.Helper()
	return turbopath.AbsoluteSystemPathFromUpstream(p)
}

func TestNewAppliesOptionsInOrder(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"root"}`), 0o644); err != nil {
		t.Fatalf("writing fixture package.json: %v", err)
	}
	s, err := New(
		WithWorkspace(absPath(t, root)),
		WithEmitCache(filepath.Join(root, "emit")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Workspace == nil {
		t.Error("expected a workspace catalog after WithWorkspace")
	}
	if s.EmitCache == nil || s.Emitter == nil || s.CjsTracker == nil {
		t.Error("expected WithEmitCache to build cache, emitter, and cjs tracker")
	}
}

func TestWithRegistriesRequiresHTTPClientFirst(t *testing.T) {
	root := t.TempDir()
	_, err := New(WithRegistries(root, npmregistry.CacheSettingUse))
	if err == nil {
		t.Fatal("expected an error when WithRegistries runs before WithHTTPClient")
	}
}

func TestWithRegistriesBuildsBothProviders(t *testing.T) {
	root := t.TempDir()
	s, err := New(
		WithHTTPClient(5*time.Second, 1, "modcore-test/0.1"),
		WithRegistries(root, npmregistry.CacheSettingUse),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.NpmRegistry == nil || s.JsrRegistry == nil {
		t.Fatal("expected both npm and jsr registry providers to be built")
	}
	if _, err := os.Stat(filepath.Join(root, "npm")); err != nil {
		t.Errorf("expected npm disk cache dir to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "jsr")); err != nil {
		t.Errorf("expected jsr disk cache dir to exist: %v", err)
	}
}

func TestWithHeaderCacheStartsWatchAndCloseStopsIt(t *testing.T) {
	root := t.TempDir()
	s, err := New(WithHeaderCache(filepath.Join(root, "headers")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.HeaderCache == nil {
		t.Fatal("expected a header cache to be built")
	}
	if s.stopWatch == nil {
		t.Fatal("expected WithHeaderCache to start a watch")
	}
	s.Close()
	if s.stopWatch != nil {
		t.Error("expected Close to clear stopWatch")
	}
	// Close must be idempotent.
	s.Close()
}

func TestWithLockfileInitializesNewDocument(t *testing.T) {
	root := t.TempDir()
	lockPath := fs.UnsafeToAbsolutePath(filepath.Join(root, "modcore.lock"))
	s, err := New(WithLockfile(lockPath, false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.LockfileDoc == nil {
		t.Fatal("expected a fresh lockfile document when no file exists on disk")
	}
	if s.Frozen {
		t.Error("expected Frozen to be false")
	}
}

func TestWithLockfileLoadsExistingDocument(t *testing.T) {
	root := t.TempDir()
	lockPath := fs.UnsafeToAbsolutePath(filepath.Join(root, "modcore.lock"))

	first, err := New(WithLockfile(lockPath, false))
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	if _, err := first.WriteLockfile(false); err != nil {
		t.Fatalf("WriteLockfile: %v", err)
	}

	second, err := New(WithLockfile(lockPath, true))
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	if second.LockfileDoc == nil {
		t.Fatal("expected the lockfile document to load from disk")
	}
	if !second.Frozen {
		t.Error("expected Frozen to be true")
	}
}

func TestSourceLoadFileScansStaticImports(t *testing.T) {
	root := t.TempDir()
	entryPath := filepath.Join(root, "mod.ts")
	content := "import { helper } from \"./helper.ts\";\nexport const x = 1;\n"
	if err := os.WriteFile(entryPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := s.Source()

	spec, err := specifier.Parse("file://" + entryPath)
	if err != nil {
		t.Fatalf("parsing entry specifier: %v", err)
	}
	mod, err := src.Load(context.Background(), spec, specifier.Specifier{}, loader.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.Imports) != 1 || mod.Imports[0].OriginalString != "./helper.ts" {
		t.Errorf("expected one static import of ./helper.ts, got %+v", mod.Imports)
	}
}

func TestSourceLoadFileMissingReturnsError(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := s.Source()
	spec, err := specifier.Parse("file://" + filepath.Join(t.TempDir(), "nope.ts"))
	if err != nil {
		t.Fatalf("parsing entry specifier: %v", err)
	}
	if _, err := src.Load(context.Background(), spec, specifier.Specifier{}, loader.LoadOptions{}); err == nil {
		t.Error("expected an error loading a nonexistent file")
	}
}

func TestSourceLoadHTTPWithoutClientErrors(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := s.Source()
	spec, err := specifier.Parse("https://example.com/mod.ts")
	if err != nil {
		t.Fatalf("parsing entry specifier: %v", err)
	}
	if _, err := src.Load(context.Background(), spec, specifier.Specifier{}, loader.LoadOptions{}); err == nil {
		t.Error("expected an error fetching https without a configured http client")
	}
}
