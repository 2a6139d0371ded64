package context

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jsruntime/modcore/internal/npmregistry"
)

// fsDiskCache is a filesystem-backed npmregistry.DiskCache: one JSON
// file per package name, under a flavour-specific subdirectory of the
// session's registry cache root.
type fsDiskCache struct {
	dir string
}

func newFsDiskCache(root, flavour string) (*fsDiskCache, error) {
	dir := filepath.Join(root, flavour)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fsDiskCache{dir: dir}, nil
}

// packageFilename makes name safe to use as a file name, percent-encoding
// the scoped-package separator along with anything else url.PathEscape
// would otherwise leave ambiguous on disk.
func packageFilename(name string) string {
	return url.PathEscape(name) + ".json"
}

func (c *fsDiskCache) LoadPackageInfo(ctx context.Context, name string) (*npmregistry.CachedPackageInfo, bool, error) {
	path := filepath.Join(c.dir, packageFilename(name))
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var cached npmregistry.CachedPackageInfo
	if err := json.Unmarshal(content, &cached); err != nil {
		return nil, false, fmt.Errorf("decoding cached package info for %s: %w", name, err)
	}
	return &cached, true, nil
}

func (c *fsDiskCache) SavePackageInfo(ctx context.Context, name string, info *npmregistry.CachedPackageInfo) error {
	content, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding cached package info for %s: %w", name, err)
	}
	path := filepath.Join(c.dir, packageFilename(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// npmURLBuilder builds registry.npmjs.org packument URLs, percent-encoding
// scoped package names the way npm's own CLI does.
type npmURLBuilder struct{}

func (npmURLBuilder) PackageURL(name string) string {
	return "https://registry.npmjs.org/" + scopedPathEscape(name)
}

func (npmURLBuilder) AuthHeaderFor(name string) string {
	return ""
}

// jsrURLBuilder builds jsr.io packument-equivalent ("meta.json") URLs.
type jsrURLBuilder struct{}

func (jsrURLBuilder) PackageURL(name string) string {
	scope, pkg := splitJsrName(name)
	return fmt.Sprintf("https://jsr.io/@%s/%s/meta.json", scope, pkg)
}

func (jsrURLBuilder) AuthHeaderFor(name string) string {
	return ""
}

func splitJsrName(name string) (scope, pkg string) {
	name = strings.TrimPrefix(name, "@")
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// scopedPathEscape percent-encodes only the "/" separator of a scoped
// package name ("@scope/name"), matching npm's own packument URL
// convention of leaving "@" and the rest of the name unescaped.
func scopedPathEscape(name string) string {
	if !strings.HasPrefix(name, "@") {
		return name
	}
	return strings.Replace(name, "/", "%2F", 1)
}
