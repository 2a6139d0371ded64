// Package emitcache is the content-hash-keyed disk cache fronting
// transpilation, grounded in the fingerprinting and cache-or-miss
// pattern of original_source/libs/resolver/emit.rs's
// EmitCache::get_emit_code / set_emit_code, with storage adapted from
// the teacher's internal/cacheitem tar+zstd writer (minus the tar
// layer: an emit cache entry is one file's worth of JavaScript, not an
// archive).
package emitcache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the 64-bit hash of (source-text, module-kind,
// pre-computed transpile-options hash) spec §3 names as the emit
// cache's validity key.
type Fingerprint uint64

// ComputeFingerprint derives the fingerprint a cached emit must match
// to be considered valid, mirroring Emitter::get_source_hash's
// XxHash64 composition of source text, the pre-computed transpile
// options hash, and the module kind.
func ComputeFingerprint(sourceText string, moduleKind string, transpileOptionsHash uint64) Fingerprint {
	h := xxhash.New()
	_, _ = h.WriteString(sourceText)
	_, _ = h.WriteString(moduleKind)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(transpileOptionsHash >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return Fingerprint(h.Sum64())
}

type memoryEntry struct {
	fingerprint Fingerprint
	code        []byte
}

// Cache is the emit cache: an in-memory layer over a zstd-compressed,
// atomic-rename-written on-disk layer keyed by specifier.
type Cache struct {
	dir string

	mu     sync.RWMutex
	memory map[string]memoryEntry
}

// New creates a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating emit cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, memory: make(map[string]memoryEntry)}, nil
}

// Dir returns the cache's root directory, for callers that need to
// watch it directly (see internal/headercache.Cache.Watch).
func (c *Cache) Dir() string {
	return c.dir
}

// pathFor derives the on-disk path for a specifier: the specifier's
// own xxhash digest, hex-encoded, so paths stay filesystem-safe and
// collision-resistant without mirroring the URL's directory structure.
func (c *Cache) pathFor(specifierKey string) string {
	digest := xxhash.Sum64String(specifierKey)
	name := hex.EncodeToString([]byte{
		byte(digest >> 56), byte(digest >> 48), byte(digest >> 40), byte(digest >> 32),
		byte(digest >> 24), byte(digest >> 16), byte(digest >> 8), byte(digest),
	})
	return filepath.Join(c.dir, name[:2], name+".zst")
}

// diskRecord is the fingerprint-tagged payload stored on disk: the
// fingerprint is a header so a hash collision on the path (or a
// fingerprint mismatch after a source edit) is detected without a
// second file.
type diskRecord struct {
	fingerprint Fingerprint
	code        []byte
}

func encodeRecord(r diskRecord) []byte {
	buf := make([]byte, 8+len(r.code))
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(r.fingerprint) >> (8 * i))
	}
	copy(buf[8:], r.code)
	return buf
}

func decodeRecord(buf []byte) (diskRecord, error) {
	if len(buf) < 8 {
		return diskRecord{}, fmt.Errorf("truncated emit cache record (%d bytes)", len(buf))
	}
	var fp uint64
	for i := 0; i < 8; i++ {
		fp |= uint64(buf[i]) << (8 * i)
	}
	return diskRecord{fingerprint: Fingerprint(fp), code: buf[8:]}, nil
}

// GetEmitCode returns the cached transpiled code for specifierKey if
// its fingerprint still matches.
func (c *Cache) GetEmitCode(specifierKey string, fingerprint Fingerprint) (string, bool) {
	c.mu.RLock()
	if entry, ok := c.memory[specifierKey]; ok {
		c.mu.RUnlock()
		if entry.fingerprint == fingerprint {
			return string(entry.code), true
		}
		return "", false
	}
	c.mu.RUnlock()

	path := c.pathFor(specifierKey)
	compressed, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	raw, err := zstd.Decompress(nil, compressed)
	if err != nil {
		return "", false
	}
	record, err := decodeRecord(raw)
	if err != nil {
		return "", false
	}

	c.mu.Lock()
	c.memory[specifierKey] = memoryEntry{fingerprint: record.fingerprint, code: record.code}
	c.mu.Unlock()

	if record.fingerprint != fingerprint {
		return "", false
	}
	return string(record.code), true
}

// SetEmitCode stores code for specifierKey under fingerprint, writing
// through to disk via a temp-file-then-rename so a concurrent reader
// never observes a partially written entry.
func (c *Cache) SetEmitCode(specifierKey string, fingerprint Fingerprint, code []byte) error {
	c.mu.Lock()
	c.memory[specifierKey] = memoryEntry{fingerprint: fingerprint, code: code}
	c.mu.Unlock()

	path := c.pathFor(specifierKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating emit cache shard directory: %w", err)
	}

	raw := encodeRecord(diskRecord{fingerprint: fingerprint, code: code})
	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		return fmt.Errorf("compressing emit cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".emit-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp emit cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp emit cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp emit cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming emit cache entry into place: %w", err)
	}
	return nil
}
