// Package specifier models module specifiers and media types: the
// identity and content-kind primitives every other core component is
// keyed on.
package specifier

import (
	"path"
	"strings"
)

// MediaType is the closed enumeration of source kinds the loader and
// emitter can reason about. It mirrors deno_graph::MediaType, the type
// the teacher's emit pipeline is built around (see emit.rs).
type MediaType int

const (
	Unknown MediaType = iota
	TypeScript
	Mts
	Cts
	Dts
	Dmts
	Dcts
	Jsx
	Tsx
	JavaScript
	Mjs
	Cjs
	Json
	Jsonc
	Wasm
	Css
	Html
	Sql
	SourceMap
)

func (m MediaType) String() string {
	switch m {
	case TypeScript:
		return "TypeScript"
	case Mts:
		return "Mts"
	case Cts:
		return "Cts"
	case Dts:
		return "Dts"
	case Dmts:
		return "Dmts"
	case Dcts:
		return "Dcts"
	case Jsx:
		return "Jsx"
	case Tsx:
		return "Tsx"
	case JavaScript:
		return "JavaScript"
	case Mjs:
		return "Mjs"
	case Cjs:
		return "Cjs"
	case Json:
		return "Json"
	case Jsonc:
		return "Jsonc"
	case Wasm:
		return "Wasm"
	case Css:
		return "Css"
	case Html:
		return "Html"
	case Sql:
		return "Sql"
	case SourceMap:
		return "SourceMap"
	default:
		return "Unknown"
	}
}

// IsDeclaration reports whether the media type is a .d.ts family
// declaration-only type: the emitter returns empty text for these
// (spec §4.3, "Declaration-only media types").
func (m MediaType) IsDeclaration() bool {
	switch m {
	case Dts, Dmts, Dcts:
		return true
	default:
		return false
	}
}

// IsEmittable reports whether the media type requires a transpile pass
// before it can be handed to the runtime.
func (m MediaType) IsEmittable() bool {
	switch m {
	case TypeScript, Mts, Cts, Jsx, Tsx:
		return true
	default:
		return false
	}
}

// contentTypeTable maps a lower-cased, parameter-stripped Content-Type
// to the media type it implies on its own (i.e. before any extension
// refinement). Content types not present here fall through to
// extension-only inference.
var contentTypeTable = map[string]MediaType{
	"application/typescript":    TypeScript,
	"text/typescript":           TypeScript,
	"video/mp2t":                TypeScript, // historical browser sniffing quirk, matched deliberately
	"application/x-typescript":  TypeScript,
	"application/javascript":    JavaScript,
	"text/javascript":           JavaScript,
	"application/ecmascript":    JavaScript,
	"text/ecmascript":           JavaScript,
	"application/x-javascript":  JavaScript,
	"application/node":          JavaScript,
	"application/json":          Json,
	"text/json":                 Json,
	"application/wasm":          Wasm,
	"text/css":                  Css,
	"text/html":                 Html,
	"application/sql":           Sql,
	"application/json-sourcemap": SourceMap,
}

// extensionTable maps a lower-cased file extension (without the dot)
// to the media type it implies.
var extensionTable = map[string]MediaType{
	"ts":   TypeScript,
	"mts":  Mts,
	"cts":  Cts,
	"d.ts":  Dts,
	"d.mts": Dmts,
	"d.cts": Dcts,
	"tsx":  Tsx,
	"jsx":  Jsx,
	"js":   JavaScript,
	"mjs":  Mjs,
	"cjs":  Cjs,
	"json": Json,
	"jsonc": Jsonc,
	"wasm": Wasm,
	"css":  Css,
	"html": Html,
	"htm":  Html,
	"sql":  Sql,
	"map":  SourceMap,
}

// extensionWinsContentTypes is the set of content types so generic that
// an extension match should override them outright (spec §3: "For
// text/plain and application/octet-stream the extension wins").
var extensionWinsContentTypes = map[string]bool{
	"text/plain":              true,
	"application/octet-stream": true,
}

// jsxRefinableContentType is the set of content-type-derived media
// types a .jsx/.tsx extension may refine, per spec §3: "A .jsx/.tsx
// extension may refine a JavaScript/TypeScript content-type to its JSX
// variant." The refinement target is chosen by the extension itself,
// not by which of JS/TS the content type named.
var jsxRefinableContentType = map[MediaType]bool{
	JavaScript: true,
	TypeScript: true,
}

// extensionOf returns the longest matching registered extension for
// path p (so "foo.d.ts" matches "d.ts" before falling back to "ts").
func extensionOf(p string) string {
	base := path.Base(p)
	if strings.HasSuffix(base, ".d.ts") {
		return "d.ts"
	}
	if strings.HasSuffix(base, ".d.mts") {
		return "d.mts"
	}
	if strings.HasSuffix(base, ".d.cts") {
		return "d.cts"
	}
	ext := path.Ext(base)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DetectMediaType derives the media type of a resource from its URL
// path and an optional Content-Type header value, per spec §3's
// two-source derivation rule (seed test 1).
func DetectMediaType(specifierPath string, contentType string) MediaType {
	ext := extensionOf(specifierPath)
	extType, hasExt := extensionTable[ext]

	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}

	ctType, hasCT := contentTypeTable[ct]
	if !hasCT {
		if ct == "" || extensionWinsContentTypes[ct] {
			if hasExt {
				return extType
			}
			return Unknown
		}
		if hasExt {
			return extType
		}
		return Unknown
	}

	if jsxRefinableContentType[ctType] {
		switch ext {
		case "jsx":
			return Jsx
		case "tsx":
			return Tsx
		}
	}
	return ctType
}
