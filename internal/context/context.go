// Package context wires the core's pieces into one Session: workspace
// discovery, the npm and jsr registry providers, the emit cache and
// emitter, the header cache, and the lockfile. It owns no resolution
// logic of its own beyond what's needed to connect these components —
// the functional-options constructor shape follows the teacher's
// internal/context package (New(opts ...Option)).
package context

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jsruntime/modcore/internal/config"
	"github.com/jsruntime/modcore/internal/emitcache"
	"github.com/jsruntime/modcore/internal/emitter"
	"github.com/jsruntime/modcore/internal/fs"
	"github.com/jsruntime/modcore/internal/headercache"
	"github.com/jsruntime/modcore/internal/httpclient"
	"github.com/jsruntime/modcore/internal/lockfile"
	"github.com/jsruntime/modcore/internal/npmregistry"
	"github.com/jsruntime/modcore/internal/turbopath"
	"github.com/jsruntime/modcore/internal/workspace"
)

// Session is the assembled set of components one invocation of the
// core operates over.
type Session struct {
	Logger hclog.Logger
	Root   turbopath.AbsoluteSystemPath

	Options config.Options

	Workspace *workspace.Catalog

	HTTPClient  httpclient.Client
	NpmRegistry *npmregistry.Provider
	JsrRegistry *npmregistry.Provider

	EmitCache   *emitcache.Cache
	CjsTracker  emitter.CjsTracker
	Emitter     *emitter.Emitter
	HeaderCache *headercache.Cache

	LockfilePath fs.AbsolutePath
	LockfileDoc  *lockfile.Document
	Frozen       bool

	stopWatch chan struct{}

	mu sync.Mutex
}

// Close stops any background work the session started (the header
// cache's filesystem watch, if WithHeaderCache ran).
func (s *Session) Close() {
	if s.stopWatch != nil {
		close(s.stopWatch)
		s.stopWatch = nil
	}
}

// Option configures a Session under construction.
type Option func(*Session) error

// New assembles a Session from opts, in order.
func New(opts ...Option) (*Session, error) {
	s := &Session{Logger: hclog.NewNullLogger(), Options: config.Defaults()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithLogger sets the session's root logger; components below take
// named sub-loggers off of it (logger.Named("registry"), etc).
func WithLogger(logger hclog.Logger) Option {
	return func(s *Session) error {
		s.Logger = logger
		return nil
	}
}

// WithOptions sets the recognised configuration options of spec §6.
func WithOptions(opts config.Options) Option {
	return func(s *Session) error {
		s.Options = opts
		return nil
	}
}

// WithWorkspace discovers the workspace rooted at root and records its
// catalog of local members.
func WithWorkspace(root turbopath.AbsoluteSystemPath) Option {
	return func(s *Session) error {
		s.Root = root
		catalog, err := workspace.Discover(root)
		if err != nil {
			return fmt.Errorf("discovering workspace: %w", err)
		}
		s.Workspace = catalog
		return nil
	}
}

// WithHTTPClient configures the shared HTTP client backing remote
// module fetch and registry access.
func WithHTTPClient(timeout time.Duration, retryMax int, userAgent string) Option {
	return func(s *Session) error {
		s.HTTPClient = httpclient.New(httpclient.Opts{
			Timeout:   timeout,
			RetryMax:  retryMax,
			UserAgent: userAgent,
			Logger:    s.Logger.Named("httpclient"),
		})
		return nil
	}
}

// WithRegistries builds the npm and jsr registry providers, backed by
// a shared disk cache rooted at cacheDir (one subdirectory per
// flavour) and the session's HTTP client. WithHTTPClient must run
// first.
func WithRegistries(cacheDir string, setting npmregistry.CacheSetting) Option {
	return func(s *Session) error {
		if s.HTTPClient == nil {
			return fmt.Errorf("registries require an http client; call WithHTTPClient first")
		}
		npmDisk, err := newFsDiskCache(cacheDir, "npm")
		if err != nil {
			return fmt.Errorf("npm registry disk cache: %w", err)
		}
		jsrDisk, err := newFsDiskCache(cacheDir, "jsr")
		if err != nil {
			return fmt.Errorf("jsr registry disk cache: %w", err)
		}
		s.NpmRegistry = npmregistry.New(npmregistry.FlavourNpm, npmDisk, s.HTTPClient, npmURLBuilder{}, setting, s.Logger.Named("registry.npm"))
		s.JsrRegistry = npmregistry.New(npmregistry.FlavourJsr, jsrDisk, s.HTTPClient, jsrURLBuilder{}, setting, s.Logger.Named("registry.jsr"))
		return nil
	}
}

// WithEmitCache builds the content-hash-keyed emit cache and the
// emitter (and its CJS tracker) fronting it.
func WithEmitCache(dir string) Option {
	return func(s *Session) error {
		cache, err := emitcache.New(dir)
		if err != nil {
			return fmt.Errorf("emit cache: %w", err)
		}
		s.EmitCache = cache
		s.CjsTracker = emitter.NewPackageJSONCjsTracker()
		s.Emitter = emitter.New(cache, s.CjsTracker)
		return nil
	}
}

// WithHeaderCache builds the source code header cache and starts its
// filesystem watch, so external changes to the cache directory (e.g. a
// second process sharing the same --cache-dir) invalidate this
// session's in-memory copy.
func WithHeaderCache(dir string) Option {
	return func(s *Session) error {
		cache, err := headercache.New(dir)
		if err != nil {
			return fmt.Errorf("header cache: %w", err)
		}
		s.HeaderCache = cache
		s.stopWatch = make(chan struct{})
		if err := cache.Watch(s.Logger.Named("headercache"), s.stopWatch); err != nil {
			s.Logger.Warn("could not start header cache watch", "error", err)
			s.stopWatch = nil
		}
		return nil
	}
}

// WithLockfile loads (or initialises) the v5 lockfile at path. frozen
// enforces spec §4.4's unified-diff check: WriteLockfile fails rather
// than writes if the document would change an existing, checked-in
// lockfile.
func WithLockfile(path fs.AbsolutePath, frozen bool) Option {
	return func(s *Session) error {
		s.LockfilePath = path
		s.Frozen = frozen
		if path.FileExists() {
			content, err := path.ReadFile()
			if err != nil {
				return fmt.Errorf("reading lockfile: %w", err)
			}
			doc, err := lockfile.Unmarshal(content)
			if err != nil {
				return fmt.Errorf("parsing lockfile: %w", err)
			}
			s.LockfileDoc = doc
			return nil
		}
		s.LockfileDoc = lockfile.NewDocument()
		return nil
	}
}

// Lockfile returns the session's v5 lockfile view.
func (s *Session) Lockfile() *lockfile.V5Lockfile {
	return lockfile.NewV5Lockfile(s.LockfileDoc)
}

// SyncWorkspaceIntoLockfile folds the discovered workspace catalog
// into the lockfile document's `workspace` section (spec §4.4,
// "workspace-config block mirroring the project's dependency
// topology").
func (s *Session) SyncWorkspaceIntoLockfile() {
	if s.Workspace == nil || s.LockfileDoc == nil {
		return
	}
	s.LockfileDoc.Workspace = s.Workspace.ToLockfileWorkspace()
}

// WriteLockfile persists the session's lockfile document, honoring
// frozen-mode drift enforcement.
func (s *Session) WriteLockfile(skipWrite bool) (bool, error) {
	return lockfile.WriteIfChanged(s.LockfilePath, s.LockfileDoc, s.Frozen, skipWrite)
}

// Source returns the loader.Source implementation this session backs:
// file/http/https content is read and scanned for imports; npm/jsr
// specifiers are resolved against the matching registry provider for
// dependency-graph purposes but carry no source text, since fetching
// and unpacking registry tarball content is out of this module's
// scope (spec's Non-goals exclude "wire format of external registries
// beyond packuments" — only packument metadata is modeled).
func (s *Session) Source() *DefaultSource {
	return newDefaultSource(s)
}
