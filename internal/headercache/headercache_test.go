package headercache

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jsruntime/modcore/internal/specifier"
)

func mustSpec(t *testing.T, s string) specifier.Specifier {
	t.Helper()
	sp, err := specifier.Parse(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return sp
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := Header{ETag: `"abc"`, RedirectTo: "https://example.com/final.js"}
	if err := c.Set("https://example.com/mod.ts", h); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get("https://example.com/mod.ts")
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestGetMissesForUnknownKey(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("https://example.com/nope.ts"); ok {
		t.Error("expected a miss for a key never set")
	}
}

func TestDiscoverTypesURLPrefersHeader(t *testing.T) {
	mod := mustSpec(t, "https://example.com/mod.js")
	url, ok := DiscoverTypesURL(mod, "./mod.d.ts", "")
	if !ok {
		t.Fatal("expected a types URL from the header")
	}
	if url != "https://example.com/mod.d.ts" {
		t.Errorf("got %q", url)
	}
}

func TestDiscoverTypesURLFallsBackToReferenceComment(t *testing.T) {
	mod := mustSpec(t, "https://example.com/mod.js")
	src := "/// <reference types=\"./mod.d.ts\" />\nconsole.log(1);"
	url, ok := DiscoverTypesURL(mod, "", src)
	if !ok {
		t.Fatal("expected a types URL from the reference comment")
	}
	if url != "https://example.com/mod.d.ts" {
		t.Errorf("got %q", url)
	}
}

func TestDiscoverTypesURLNoneFound(t *testing.T) {
	mod := mustSpec(t, "https://example.com/mod.js")
	if _, ok := DiscoverTypesURL(mod, "", "console.log(1);"); ok {
		t.Error("expected no types URL to be found")
	}
}

func TestBlacklistExactMatch(t *testing.T) {
	b := NewBlacklist([]string{"https://example.com/bad.ts"})
	if !b.Blocked(mustSpec(t, "https://example.com/bad.ts")) {
		t.Error("expected exact match to be blocked")
	}
	if !b.Blocked(mustSpec(t, "https://example.com/bad.ts#fragment")) {
		t.Error("expected fragment-stripped match to be blocked")
	}
}

func TestBlacklistEntryFragmentStrippedMatchesAnyFragment(t *testing.T) {
	b := NewBlacklist([]string{"http://fragment.com/mod.ts#fragment"})
	if !b.Blocked(mustSpec(t, "http://fragment.com/mod.ts")) {
		t.Error("expected a fragment-bearing entry to block the bare URL")
	}
	if !b.Blocked(mustSpec(t, "http://fragment.com/mod.ts#otherfragment")) {
		t.Error("expected a fragment-bearing entry to block a URL with a different fragment")
	}
}

func TestBlacklistPathPrefixMatch(t *testing.T) {
	b := NewBlacklist([]string{"https://example.com/vendor"})
	if !b.Blocked(mustSpec(t, "https://example.com/vendor/lib.ts")) {
		t.Error("expected descendant path to be blocked by ancestor prefix")
	}
	if b.Blocked(mustSpec(t, "https://example.com/other.ts")) {
		t.Error("expected unrelated URL to not be blocked")
	}
}

func TestWatchInvalidatesMemoryOnExternalWrite(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := Header{ETag: `"abc"`}
	if err := c.Set("https://example.com/mod.ts", h); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.memory["https://example.com/mod.ts"]; !ok {
		t.Fatal("expected an in-memory entry after Set")
	}

	stop := make(chan struct{})
	defer close(stop)
	if err := c.Watch(hclog.NewNullLogger(), stop); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := c.Set("https://example.com/other.ts", Header{ETag: `"def"`}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.RLock()
		_, stillCached := c.memory["https://example.com/mod.ts"]
		c.mu.RUnlock()
		if !stillCached {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected the in-memory cache to be cleared after an external-looking write")
}

func TestBlacklistQueryPreservingMatchOnlyExactQuery(t *testing.T) {
	b := NewBlacklist([]string{"https://example.com/mod.ts?v=1"})
	if !b.Blocked(mustSpec(t, "https://example.com/mod.ts?v=1")) {
		t.Error("expected exact query match to be blocked")
	}
	if b.Blocked(mustSpec(t, "https://example.com/mod.ts?v=2")) {
		t.Error("expected a different query to not match a query-preserving entry")
	}
}
