// Package headercache implements §4.5's source code header cache: a
// small JSON sidecar persisted alongside each fetched remote module
// body, capturing the metadata needed to interpret it without
// re-hitting the network, plus the blacklist rules that force a
// refetch regardless of cache state.
package headercache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/jsruntime/modcore/internal/emitcache"
	"github.com/jsruntime/modcore/internal/specifier"
)

// Header is the metadata recorded alongside a fetched module body.
type Header struct {
	// MimeType is set only when the response Content-Type contradicts
	// the extension-inferred media type.
	MimeType string `json:"mime_type,omitempty"`
	// RedirectTo is the absolute URL the fetch was redirected to, if
	// any.
	RedirectTo string `json:"redirect_to,omitempty"`
	ETag       string `json:"etag,omitempty"`
	// XTypeScriptTypes is the resolved URL of the declaration file for
	// an untyped JavaScript module, discovered per DiscoverTypesURL.
	XTypeScriptTypes string `json:"x_typescript_types,omitempty"`
}

// Cache persists Header records keyed by a module's cache key, memory
// first and disk-backed underneath using the same sharded, atomic-
// rename file layout as the emit cache.
type Cache struct {
	disk *emitcache.Cache

	mu     sync.RWMutex
	memory map[string]Header
}

// New opens a header cache rooted at dir.
func New(dir string) (*Cache, error) {
	disk, err := emitcache.New(dir)
	if err != nil {
		return nil, err
	}
	return &Cache{disk: disk, memory: make(map[string]Header)}, nil
}

// Watch starts an fsnotify watch on the cache's on-disk directory and
// drops the in-memory layer whenever something external touches it
// (a concurrent process refreshing or pruning the shared cache, a
// user manually clearing stale entries), so the next Get re-reads
// from disk rather than serving a now-possibly-stale in-memory copy.
// It runs until stop is closed; watch errors are logged and otherwise
// ignored, since the disk layer remains correct even if invalidation
// is missed.
func (c *Cache) Watch(logger hclog.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.disk.Dir()); err != nil {
		watcher.Close()
		return err
	}
	shards, _ := os.ReadDir(c.disk.Dir())
	for _, shard := range shards {
		if shard.IsDir() {
			_ = watcher.Add(filepath.Join(c.disk.Dir(), shard.Name()))
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.mu.Lock()
					c.memory = make(map[string]Header)
					c.mu.Unlock()
					logger.Debug("invalidated in-memory header cache after external change", "path", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("header cache watch error", "error", err)
			}
		}
	}()
	return nil
}

// Get returns the header recorded for key, if any.
func (c *Cache) Get(key string) (Header, bool) {
	c.mu.RLock()
	h, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		return h, true
	}

	raw, ok := c.disk.GetEmitCode(key, headerFingerprint)
	if !ok {
		return Header{}, false
	}
	var h2 Header
	if err := json.Unmarshal([]byte(raw), &h2); err != nil {
		return Header{}, false
	}
	c.mu.Lock()
	c.memory[key] = h2
	c.mu.Unlock()
	return h2, true
}

// Set records h for key, in memory and on disk.
func (c *Cache) Set(key string, h Header) error {
	c.mu.Lock()
	c.memory[key] = h
	c.mu.Unlock()

	encoded, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.disk.SetEmitCode(key, headerFingerprint, encoded)
}

// headerFingerprint is a constant sentinel: header records have no
// content-hash invalidation the way emitted code does (a new fetch
// simply overwrites the old header), so the emit cache's fingerprint
// check is always satisfied once a header has been written.
const headerFingerprint emitcache.Fingerprint = 1

var typesReferenceRe = regexp.MustCompile(`(?m)^\s*///\s*<reference\s+types\s*=\s*["']([^"']+)["']\s*/?>`)

// DiscoverTypesURL implements §4.5's type-directive discovery: prefer
// an X-TypeScript-Types response header, else scan source for a
// triple-slash reference-types directive, resolving either against
// moduleURL. Returns ("", false) if neither is present.
func DiscoverTypesURL(moduleURL specifier.Specifier, xTypeScriptTypesHeader string, source string) (string, bool) {
	if xTypeScriptTypesHeader != "" {
		if resolved, err := moduleURL.Resolve(xTypeScriptTypesHeader); err == nil {
			return resolved.String(), true
		}
		return xTypeScriptTypesHeader, true
	}

	if m := typesReferenceRe.FindStringSubmatch(source); m != nil {
		if resolved, err := moduleURL.Resolve(m[1]); err == nil {
			return resolved.String(), true
		}
		return m[1], true
	}

	return "", false
}

// Blacklist implements §4.5's blacklist matching: a set of cache-
// bypass entries which can be an exact no-fragment URL, a
// query-preserving exact match, or an ancestor path-prefix match.
type Blacklist struct {
	exact      map[string]bool
	pathPrefix []string
}

// NewBlacklist builds a Blacklist from a list of entry strings exactly
// as they'd appear in configuration: each is matched against a
// candidate URL with its fragment stripped as an exact string, and an
// entry with no query is also matched as an ancestor path-prefix (a
// trailing "/" on the entry is ignored).
func NewBlacklist(entries []string) *Blacklist {
	b := &Blacklist{exact: make(map[string]bool, len(entries))}
	for _, e := range entries {
		e = stripFragment(e)
		b.exact[e] = true
		if !strings.Contains(e, "?") {
			b.pathPrefix = append(b.pathPrefix, strings.TrimSuffix(e, "/"))
		}
	}
	return b
}

// Blocked reports whether url is on the blacklist: after stripping its
// fragment, it (or its query-stripped form, or any ancestor path
// prefix) appears in the list.
func (b *Blacklist) Blocked(url specifier.Specifier) bool {
	stripped := stripFragment(url.String())
	if b.exact[stripped] {
		return true
	}
	if b.exact[url.WithoutQuery()] {
		return true
	}
	for _, prefix := range b.pathPrefix {
		if stripped == prefix || strings.HasPrefix(stripped, prefix+"/") {
			return true
		}
		if wq := url.WithoutQuery(); wq == prefix || strings.HasPrefix(wq, prefix+"/") {
			return true
		}
	}
	return false
}

func stripFragment(s string) string {
	if idx := strings.IndexByte(s, '#'); idx != -1 {
		return s[:idx]
	}
	return s
}
