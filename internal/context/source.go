package context

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/jsruntime/modcore/internal/emitter"
	"github.com/jsruntime/modcore/internal/httpclient"
	"github.com/jsruntime/modcore/internal/loader"
	"github.com/jsruntime/modcore/internal/npmregistry"
	"github.com/jsruntime/modcore/internal/specifier"
)

// DefaultSource is the session's loader.Source: it fetches file/http/
// https content directly and scans it for static and dynamic imports
// with a pair of regexes (this core does no full JS/TS parse, matching
// the emitter and header-cache packages' own regex-based scanning of
// import assertions and `/// <reference types>` comments). npm/jsr
// specifiers are resolved against the registry providers for
// dependency-graph purposes only; see Session.Source's doc comment.
type DefaultSource struct {
	session *Session
}

func newDefaultSource(s *Session) *DefaultSource {
	return &DefaultSource{session: s}
}

var (
	staticImportRe  = regexp.MustCompile(`(?m)^\s*(?:import|export)(?:\s+type)?\s+(?:[^'";]*?\sfrom\s+)?["']([^"']+)["']\s*;?\s*$`)
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(\s*["']([^"']+)["']\s*\)`)
)

// scanImports finds static and dynamic import specifier strings in
// source, for media types the emitter would consider emittable or
// plain JavaScript/CommonJS.
func scanImports(source string, mediaType specifier.MediaType) (staticRefs, dynamicRefs []string) {
	switch mediaType {
	case specifier.TypeScript, specifier.Mts, specifier.Cts, specifier.Jsx, specifier.Tsx,
		specifier.JavaScript, specifier.Mjs, specifier.Cjs:
	default:
		return nil, nil
	}
	for _, m := range staticImportRe.FindAllStringSubmatch(source, -1) {
		staticRefs = append(staticRefs, m[1])
	}
	for _, m := range dynamicImportRe.FindAllStringSubmatch(source, -1) {
		dynamicRefs = append(dynamicRefs, m[1])
	}
	return staticRefs, dynamicRefs
}

// resolveImports resolves each raw import string found in source
// against moduleSpec, dropping any that fail to resolve as an
// unsupported scheme rather than aborting the whole module (mirroring
// spec §4.1's "a single module load error ... does not abort sibling
// loads" at the scan level).
func resolveImports(moduleSpec specifier.Specifier, refs []string, dynamic bool) []specifier.Import {
	imports := make([]specifier.Import, 0, len(refs))
	for _, ref := range refs {
		resolved, err := moduleSpec.Resolve(ref)
		if err != nil {
			continue
		}
		imports = append(imports, specifier.Import{
			ResolvedSpecifier: resolved,
			OriginalString:    ref,
			Dynamic:           dynamic,
		})
	}
	return imports
}

// Load implements loader.Source.
func (src *DefaultSource) Load(ctx context.Context, spec specifier.Specifier, referrer specifier.Specifier, opts loader.LoadOptions) (*specifier.SourceModule, error) {
	switch spec.Scheme() {
	case specifier.SchemeFile:
		return src.loadFile(spec)
	case specifier.SchemeHTTP, specifier.SchemeHTTPS:
		return src.loadHTTP(ctx, spec)
	case specifier.SchemeNpm, specifier.SchemeJsr:
		return src.loadRegistryOnly(ctx, spec)
	default:
		return nil, &specifier.ErrUnsupportedScheme{Scheme: string(spec.Scheme())}
	}
}

func (src *DefaultSource) loadFile(spec specifier.Specifier) (*specifier.SourceModule, error) {
	raw, err := os.ReadFile(spec.Path())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", spec, err)
	}
	return src.buildModule(spec, string(raw), "")
}

func (src *DefaultSource) loadHTTP(ctx context.Context, spec specifier.Specifier) (*specifier.SourceModule, error) {
	if src.session.HTTPClient == nil {
		return nil, fmt.Errorf("no http client configured for session")
	}
	resp, err := src.session.HTTPClient.DownloadWithRetries(ctx, spec.String(), "", "")
	if err != nil {
		return nil, err
	}
	switch resp.Kind {
	case httpclient.KindNotFound:
		return nil, fmt.Errorf("module not found: %s", spec)
	case httpclient.KindNotModified:
		return nil, fmt.Errorf("unexpected 304 fetching %s without a prior etag", spec)
	}
	return src.buildModule(spec, string(resp.Bytes), "")
}

// loadRegistryOnly resolves an npm:/jsr: specifier against the
// matching registry provider to confirm the package exists, without
// fetching any tarball content (spec's Non-goals exclude the wire
// format of external registries beyond packuments).
func (src *DefaultSource) loadRegistryOnly(ctx context.Context, spec specifier.Specifier) (*specifier.SourceModule, error) {
	name := spec.Path()
	var provider *npmregistry.Provider
	if spec.Scheme() == specifier.SchemeNpm {
		provider = src.session.NpmRegistry
	} else {
		provider = src.session.JsrRegistry
	}
	if provider == nil {
		return nil, fmt.Errorf("no %s registry configured for session", spec.Scheme())
	}
	if _, err := provider.PackageInfo(ctx, name); err != nil {
		return nil, err
	}
	return &specifier.SourceModule{
		Specifier:   spec,
		MediaType:   specifier.Unknown,
		SideEffects: specifier.SideEffectsUnknown,
	}, nil
}

func (src *DefaultSource) buildModule(spec specifier.Specifier, source string, contentType string) (*specifier.SourceModule, error) {
	mediaType := specifier.DetectMediaType(spec.Path(), contentType)

	staticRefs, dynamicRefs := scanImports(source, mediaType)
	mod := &specifier.SourceModule{
		Specifier:      spec,
		SourceText:     source,
		MediaType:      mediaType,
		Imports:        resolveImports(spec, staticRefs, false),
		DynamicImports: resolveImports(spec, dynamicRefs, true),
		SideEffects:    specifier.SideEffectsUnknown,
	}

	if err := emitter.CheckNoImportAssertion(spec.String(), source); err != nil {
		return nil, err
	}

	if src.session.Emitter != nil {
		kind := emitter.ModuleKindEsm
		if src.session.CjsTracker != nil {
			if isCjs, err := src.session.CjsTracker.IsCjs(spec.Path()); err == nil && isCjs {
				kind = emitter.ModuleKindCjs
			}
		}
		emitted, err := src.session.Emitter.MaybeEmitSource(spec, mediaType, kind, source)
		if err != nil {
			return nil, err
		}
		if emitted != source {
			mod.SourceText = emitted
			mod.Transformed = true
		}
	}

	return mod, nil
}
