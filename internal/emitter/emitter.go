// Package emitter implements §4.3's decision tree: given a loaded
// module it decides whether the content can pass through unchanged
// (JSON, plain JavaScript, Wasm, external specifiers) or needs
// transpilation, and if so runs it through the emit cache fronting
// esbuild, grounded in
// original_source/libs/resolver/emit.rs's Emitter.
package emitter

import (
	"fmt"
	"strings"

	esbuildapi "github.com/evanw/esbuild/pkg/api"

	"github.com/jsruntime/modcore/internal/emitcache"
	"github.com/jsruntime/modcore/internal/specifier"
)

// Decision is the outcome of the dispatch step of §4.3: what an
// emitter caller should do with one module before it reaches the
// runtime.
type Decision int

const (
	// DecisionPassthrough means the source text can be handed to the
	// runtime unchanged.
	DecisionPassthrough Decision = iota
	// DecisionTranspile means the source requires a transpile pass.
	DecisionTranspile
	// DecisionExternal means the specifier resolves outside this
	// module graph's authority (e.g. a node: built-in) and is never
	// emitted at all.
	DecisionExternal
)

// Dispatch classifies mediaType/scheme per §4.3's JSON/JS/Wasm/
// external decision tree, without looking at source content.
func Dispatch(mediaType specifier.MediaType, scheme specifier.Scheme) Decision {
	if scheme == specifier.SchemeNode {
		return DecisionExternal
	}
	if mediaType == specifier.Wasm || mediaType == specifier.Json {
		return DecisionPassthrough
	}
	if mediaType.IsEmittable() {
		return DecisionTranspile
	}
	return DecisionPassthrough
}

// MissingJSONAttributeError is returned when a specifier whose media
// type is JSON is imported without an explicit
// `with { type: "json" }` import attribute (spec §4.1's import
// attribute enforcement).
type MissingJSONAttributeError struct {
	Specifier string
}

func (e *MissingJSONAttributeError) Error() string {
	return fmt.Sprintf("module %q is JSON and must be imported with `with { type: \"json\" }`", e.Specifier)
}

// CheckImportAttributes enforces that a JSON-media-type import
// declares the json module type, per spec §4.1's "import attribute
// enforcement" row.
func CheckImportAttributes(spec specifier.Specifier, mediaType specifier.MediaType, requestedType specifier.RequestedModuleType) error {
	if mediaType == specifier.Json && requestedType != specifier.RequestedModuleTypeJSON {
		return &MissingJSONAttributeError{Specifier: spec.String()}
	}
	return nil
}

// ImportAssertionError is returned for the deprecated `assert { ... }`
// import syntax, mirroring ensure_no_import_assertion's rejection of
// the pre-`with` assertion keyword.
type ImportAssertionError struct {
	Specifier string
}

func (e *ImportAssertionError) Error() string {
	return fmt.Sprintf("import assertions are deprecated in %q; use the `with` keyword instead of `assert`", e.Specifier)
}

// hasImportAssertion is a syntactic, not parser-accurate, check
// mirroring the source's own "good enough" comment on
// has_import_assertion: it looks for the bare `assert` keyword next
// to an import/export clause without the replacement `with` keyword
// being present anywhere on the same line.
func hasImportAssertion(line string) bool {
	return strings.Contains(line, " assert ") && strings.Contains(line, "{") && !strings.Contains(line, " with ")
}

// CheckNoImportAssertion scans source for the deprecated `assert {...}`
// import/export attribute syntax.
func CheckNoImportAssertion(specifierString, source string) error {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "import") && !strings.HasPrefix(trimmed, "export") {
			continue
		}
		if hasImportAssertion(line) {
			return &ImportAssertionError{Specifier: specifierString}
		}
	}
	return nil
}

// Emitter owns the emit cache and CJS tracker and runs the
// cache-or-transpile decision of maybe_emit_source /
// maybe_emit_source_sync.
type Emitter struct {
	cache      *emitcache.Cache
	cjsTracker CjsTracker
}

// New constructs an Emitter.
func New(cache *emitcache.Cache, cjsTracker CjsTracker) *Emitter {
	return &Emitter{cache: cache, cjsTracker: cjsTracker}
}

// MaybeEmitSource transpiles source if mediaType.IsEmittable(), or if
// moduleKind is ModuleKindCjs regardless of media type (spec's "CJS
// path: transpile with ModuleKind::Cjs, then translate CJS→ESM via the
// node code translator" — a CJS-classified .js/.cjs file needs the
// transpile+translate step even though its media type alone would
// otherwise pass through unchanged). Serves a cached emit when the
// fingerprint still matches and stores a fresh one otherwise
// (maybe_emit_parsed_source_provider's pre/post-emit split, collapsed
// into one call since esbuild has no separate parse step the teacher
// needed to share between sync/async paths).
func (e *Emitter) MaybeEmitSource(spec specifier.Specifier, mediaType specifier.MediaType, moduleKind ModuleKind, source string) (string, error) {
	if moduleKind != ModuleKindCjs && !mediaType.IsEmittable() {
		return source, nil
	}
	if err := CheckNoImportAssertion(spec.String(), source); err != nil {
		return "", err
	}

	key := spec.CacheKey()
	fp := emitcache.ComputeFingerprint(source, moduleKind.String(), transpileOptionsHash(mediaType))
	if cached, ok := e.cache.GetEmitCode(key, fp); ok {
		return cached, nil
	}

	transpiled, err := transpile(source, mediaType, moduleKind)
	if err != nil {
		return "", fmt.Errorf("transpiling %s: %w", spec, err)
	}
	if moduleKind == ModuleKindCjs {
		transpiled = translateCjsToEsm(transpiled)
	}
	if err := e.cache.SetEmitCode(key, fp, []byte(transpiled)); err != nil {
		return "", fmt.Errorf("caching emit for %s: %w", spec, err)
	}
	return transpiled, nil
}

// transpileOptionsHash folds the one piece of compiler configuration
// that currently affects output shape (the loader chosen for
// mediaType) into the fingerprint, standing in for
// TranspileAndEmitOptions::pre_computed_hash.
func transpileOptionsHash(mediaType specifier.MediaType) uint64 {
	return uint64(mediaType)
}

func loaderFor(mediaType specifier.MediaType) esbuildapi.Loader {
	switch mediaType {
	case specifier.TypeScript, specifier.Mts, specifier.Cts:
		return esbuildapi.LoaderTS
	case specifier.Tsx:
		return esbuildapi.LoaderTSX
	case specifier.Jsx:
		return esbuildapi.LoaderJSX
	default:
		return esbuildapi.LoaderJS
	}
}

func transpile(source string, mediaType specifier.MediaType, moduleKind ModuleKind) (string, error) {
	format := esbuildapi.FormatESModule
	if moduleKind == ModuleKindCjs {
		format = esbuildapi.FormatCommonJS
	}
	result := esbuildapi.Transform(source, esbuildapi.TransformOptions{
		Loader: loaderFor(mediaType),
		Format: format,
		Target: esbuildapi.ESNext,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, m := range result.Errors {
			msgs[i] = m.Text
		}
		return "", fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}
