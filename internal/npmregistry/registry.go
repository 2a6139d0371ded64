// Package npmregistry implements the npm/jsr registry info provider:
// a memory+disk cached, same-lock-coalescing fetcher of package
// metadata, grounded in
// original_source/libs/npm_cache/registry_info.rs.
package npmregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/jsruntime/modcore/internal/httpclient"
)

// Flavour parameterises the provider over the two registry schemes
// named in the data model: npm and jsr share identical
// coalescing/caching machinery and differ only in URL shape and
// payload parsing.
type Flavour int

const (
	FlavourNpm Flavour = iota
	FlavourJsr
)

func (f Flavour) String() string {
	if f == FlavourJsr {
		return "jsr"
	}
	return "npm"
}

// CacheSetting mirrors NpmCacheSetting: governs whether the fs cache
// is consulted before the network, forced to reload, or treated as
// the only permitted source.
type CacheSetting int

const (
	CacheSettingUse CacheSetting = iota
	CacheSettingReloadAll
	CacheSettingOnly
)

// PackageInfo is the subset of a packument this core needs to resolve
// a version range to a concrete version and its dependencies.
type PackageInfo struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]PackageVersion  `json:"versions"`
}

// PackageVersion is one entry of PackageInfo.Versions.
type PackageVersion struct {
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	Dist            struct {
		Tarball string `json:"tarball"`
		Shasum  string `json:"shasum"`
		Integrity string `json:"integrity"`
	} `json:"dist"`
}

// CachedPackageInfo is what the disk cache stores: the packument plus
// the ETag it was served with, mirroring SerializedCachedPackageInfo's
// `_deno.etag` sidecar field.
type CachedPackageInfo struct {
	Info PackageInfo
	ETag string
}

// DiskCache is the on-disk half of the cache: load/save a packument by
// package name. Implementations typically key files by package name
// under a registry-flavour-specific cache directory.
type DiskCache interface {
	LoadPackageInfo(ctx context.Context, name string) (*CachedPackageInfo, bool, error)
	SavePackageInfo(ctx context.Context, name string, info *CachedPackageInfo) error
}

// URLBuilder builds the registry URL for a package name, and the auth
// header (if any) that should accompany the request. Scoped-package
// names ("@scope/name") must be percent-encoded consistently with the
// chosen registry's convention.
type URLBuilder interface {
	PackageURL(name string) string
	AuthHeaderFor(name string) string
}

// Stats are the atomic counters RegistryInfoStats enumerates.
type Stats struct {
	CacheHits                 atomic.Int64
	PendingAwaits             atomic.Int64
	NetworkFetches            atomic.Int64
	InFlight                  atomic.Int64
	PeakInFlight              atomic.Int64
	PrefetchCalls             atomic.Int64
	PrefetchAlreadyCached     atomic.Int64
	PrefetchSkippedAtCapacity atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf(
		"cache_hits=%d, pending_awaits=%d, network_fetches=%d, peak_in_flight=%d, prefetch_calls=%d, prefetch_already_cached=%d, prefetch_skipped_at_capacity=%d",
		s.CacheHits.Load(), s.PendingAwaits.Load(), s.NetworkFetches.Load(),
		s.PeakInFlight.Load(), s.PrefetchCalls.Load(), s.PrefetchAlreadyCached.Load(),
		s.PrefetchSkippedAtCapacity.Load(),
	)
}

// MaxConcurrentPrefetchTasks caps background prefetches so they never
// starve the unlimited critical path, kept as a fixed constant rather
// than a tunable per the source (§9 open question).
const MaxConcurrentPrefetchTasks = 50

type itemState int

const (
	statePending itemState = iota
	stateFsCached
	stateMemoryCached
)

// cacheItem is one MemoryCache entry. pending is non-nil only while
// state == statePending; it is the coalescing point every concurrent
// caller for the same name waits on.
type cacheItem struct {
	state   itemState
	pending *pendingLoad
	info    *PackageInfo // set for stateFsCached and successful stateMemoryCached
	err     error        // set for failed stateMemoryCached
}

// pendingLoad is the Go stand-in for MultiRuntimeAsyncValueCreator: a
// load that may be started once and awaited by many goroutines.
type pendingLoad struct {
	done chan struct{}
	info *PackageInfo
	fsOK bool // true if it was successfully persisted to the disk cache
	err  error
}

func (p *pendingLoad) wait() (*PackageInfo, bool, error) {
	<-p.done
	return p.info, p.fsOK, p.err
}

// memoryCache is the mutex-guarded cache with monotonic clear_id
// generation, mirroring MemoryCache's compare-and-write-only-if-unchanged
// semantics for closing the same-load-race window.
type memoryCache struct {
	mu      sync.Mutex
	clearID uint64
	items   map[string]*cacheItem
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]*cacheItem)}
}

func (c *memoryCache) get(name string) (*cacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[name]
	return item, ok
}

func (c *memoryCache) insert(name string, item *cacheItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[name] = item
}

// tryInsert writes value at name only if clearID still matches the
// cache's current generation, closing the TOCTOU window a clear()
// racing with an in-flight load would otherwise open.
func (c *memoryCache) tryInsert(clearID uint64, name string, item *cacheItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clearID != c.clearID {
		return false
	}
	c.items[name] = item
	return true
}

// clear drops every entry except ones that failed to persist to disk
// (stateMemoryCached with no error), which stay resident to avoid
// re-downloading them.
func (c *memoryCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearID++
	for name, item := range c.items {
		if !(item.state == stateMemoryCached && item.err == nil) {
			delete(c.items, name)
		}
	}
}

func (c *memoryCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearID++
	c.items = make(map[string]*cacheItem)
}

// Provider is the registry info provider: the unit shared by every
// resolver worker.
type Provider struct {
	flavour    Flavour
	disk       DiskCache
	http       httpclient.Client
	urls       URLBuilder
	setting    CacheSetting
	logger     hclog.Logger

	memCache             *memoryCache
	previouslyLoaded      sync.Map // name -> struct{}
	prefetchInFlight      atomic.Int64
	forceReloadRaised     atomic.Bool
	stats                 Stats
}

// New constructs a Provider for one registry flavour.
func New(flavour Flavour, disk DiskCache, http httpclient.Client, urls URLBuilder, setting CacheSetting, logger hclog.Logger) *Provider {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Provider{
		flavour:   flavour,
		disk:      disk,
		http:      http,
		urls:      urls,
		setting:   setting,
		logger:    logger,
		memCache:  newMemoryCache(),
	}
}

// Stats returns the provider's live counters.
func (p *Provider) Stats() *Stats { return &p.stats }

// ClearMemoryCache clears the in-memory cache, keeping entries that
// failed to persist to disk.
func (p *Provider) ClearMemoryCache() { p.memCache.clear() }

// MarkForceReload raises the force-reload flag, invalidating the
// entire memory cache, unless the cache setting already disables
// reloading (Only) or is already unconditional (ReloadAll).
func (p *Provider) MarkForceReload() bool {
	if p.setting == CacheSettingOnly || p.setting == CacheSettingReloadAll {
		return false
	}
	if p.forceReloadRaised.CompareAndSwap(false, true) {
		p.memCache.clearAll()
		return true
	}
	return false
}

// PackageInfo resolves name's packument, coalescing concurrent callers
// for the same name onto a single in-flight load.
func (p *Provider) PackageInfo(ctx context.Context, name string) (*PackageInfo, error) {
	info, err := p.loadPackageInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading %s for package %q: %w", p.urls.PackageURL(name), name, err)
	}
	if info == nil {
		return nil, &PackageNotExistsError{Name: name}
	}
	return info, nil
}

// PackageNotExistsError is returned when the registry has no such
// package (distinct from a load failure).
type PackageNotExistsError struct{ Name string }

func (e *PackageNotExistsError) Error() string {
	return fmt.Sprintf("package %q does not exist in the registry", e.Name)
}

func (p *Provider) loadPackageInfo(ctx context.Context, name string) (*PackageInfo, error) {
	item, clearID, waitFor := p.claimOrJoin(name)
	if item != nil {
		switch item.state {
		case stateFsCached, stateMemoryCached:
			p.stats.CacheHits.Add(1)
			return item.info, item.err
		}
	}

	p.stats.PendingAwaits.Add(1)
	info, fsOK, err := waitFor.wait()
	if fsOK {
		p.memCache.tryInsert(clearID, name, &cacheItem{state: stateFsCached, info: info})
	} else if err != nil {
		p.memCache.tryInsert(clearID, name, &cacheItem{state: stateMemoryCached, err: err})
	} else {
		p.memCache.tryInsert(clearID, name, &cacheItem{state: stateMemoryCached, info: info})
	}
	return info, err
}

// claimOrJoin returns an already-resolved cache item if present, or
// starts (and returns) a new pendingLoad that the caller must wait on,
// all under one lock acquisition to avoid the dedup race the source's
// comment on prefetch_package_info calls out explicitly.
func (p *Provider) claimOrJoin(name string) (*cacheItem, uint64, *pendingLoad) {
	p.memCache.mu.Lock()
	defer p.memCache.mu.Unlock()

	if item, ok := p.memCache.items[name]; ok {
		if item.state != statePending {
			return item, p.memCache.clearID, nil
		}
		return nil, p.memCache.clearID, item.pending
	}

	pending := &pendingLoad{done: make(chan struct{})}
	p.memCache.items[name] = &cacheItem{state: statePending, pending: pending}
	clearID := p.memCache.clearID
	go p.runLoad(name, pending)
	return nil, clearID, pending
}

// runLoad performs the actual fs-cache-then-network load for name,
// mirroring create_load_future, and resolves pending exactly once.
func (p *Provider) runLoad(name string, pending *pendingLoad) {
	defer close(pending.done)

	ctx := context.Background()
	var cached *CachedPackageInfo
	shouldTryFs := p.setting != CacheSettingReloadAll && !p.forceReloadRaised.Load()
	if _, seen := p.previouslyLoaded.Load(name); seen {
		shouldTryFs = true
	}
	if shouldTryFs {
		c, ok, err := p.disk.LoadPackageInfo(ctx, name)
		if err == nil && ok {
			pending.info = &c.Info
			pending.fsOK = true
			return
		}
	} else {
		if c, ok, err := p.disk.LoadPackageInfo(ctx, name); err == nil && ok {
			cached = c
		}
	}

	if p.setting == CacheSettingOnly {
		pending.err = fmt.Errorf("package not found in cache: %q, cache-only mode is enabled", name)
		return
	}

	// Only a fetch made after the force-reload flag was raised lets a
	// later load of name use the disk cache again.
	if p.forceReloadRaised.Load() {
		p.previouslyLoaded.Store(name, struct{}{})
	}

	etag := ""
	if cached != nil {
		etag = cached.ETag
	}

	p.stats.NetworkFetches.Add(1)
	inFlight := p.stats.InFlight.Add(1)
	for {
		peak := p.stats.PeakInFlight.Load()
		if inFlight <= peak || p.stats.PeakInFlight.CompareAndSwap(peak, inFlight) {
			break
		}
	}
	resp, err := p.http.DownloadWithRetries(ctx, p.urls.PackageURL(name), p.urls.AuthHeaderFor(name), etag)
	p.stats.InFlight.Add(-1)
	if err != nil {
		pending.err = err
		return
	}

	switch resp.Kind {
	case httpclient.KindNotModified:
		if cached == nil {
			pending.err = fmt.Errorf("registry returned 304 for %q with no cached body to reuse", name)
			return
		}
		p.logger.Debug("respected etag for packument", "name", name)
		pending.info = &cached.Info
		pending.fsOK = true
		return
	case httpclient.KindNotFound:
		return // PackageNotExists: info stays nil, err stays nil
	}

	var parsed struct {
		PackageInfo
		ETag string `json:"_deno.etag"`
	}
	if err := json.Unmarshal(resp.Bytes, &parsed); err != nil {
		pending.err = fmt.Errorf("parsing packument for %q: %w", name, err)
		return
	}
	toSave := &CachedPackageInfo{Info: parsed.PackageInfo, ETag: resp.ETag}
	if err := p.disk.SavePackageInfo(ctx, name, toSave); err != nil {
		p.logger.Debug("error saving package to cache", "name", name, "error", err)
		pending.info = &toSave.Info
		return
	}
	pending.info = &toSave.Info
	pending.fsOK = true
}

// PrefetchPackageInfo speculatively warms the cache for name without
// blocking the caller, admission-controlled by
// MaxConcurrentPrefetchTasks so background prefetches never overwhelm
// the registry; the unlimited critical path (PackageInfo) never waits
// on this admission control.
func (p *Provider) PrefetchPackageInfo(name string) {
	p.stats.PrefetchCalls.Add(1)

	p.memCache.mu.Lock()
	if _, ok := p.memCache.items[name]; ok {
		p.memCache.mu.Unlock()
		p.stats.PrefetchAlreadyCached.Add(1)
		return
	}
	if p.prefetchInFlight.Load() >= MaxConcurrentPrefetchTasks {
		p.memCache.mu.Unlock()
		p.stats.PrefetchSkippedAtCapacity.Add(1)
		return
	}
	p.prefetchInFlight.Add(1)
	pending := &pendingLoad{done: make(chan struct{})}
	p.memCache.items[name] = &cacheItem{state: statePending, pending: pending}
	p.memCache.mu.Unlock()

	go func() {
		p.runLoad(name, pending)
		p.prefetchInFlight.Add(-1)
	}()
}
