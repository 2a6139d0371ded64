package emitter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// cjsExportPropertyRe matches `exports.foo =` and `module.exports.foo =`
// assignments, the same shape please_js/esmdev's cjs_fixup.go scans
// bundled __commonJS wrappers for, adapted here to a single, non-bundled
// CommonJS module (this emitter transpiles one module at a time, so
// there is no __commonJS wrapper to trace a delegation chain through).
var cjsExportPropertyRe = regexp.MustCompile(`\b(?:exports|module\.exports)\.(\w+)\s*=`)

// jsReservedWords can't appear as bare identifiers in an export
// declaration.
var jsReservedWords = map[string]bool{
	"default": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "debugger": true, "delete": true, "do": true,
	"else": true, "enum": true, "export": true, "extends": true, "finally": true,
	"for": true, "function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "let": true, "new": true, "return": true, "super": true,
	"switch": true, "this": true, "throw": true, "try": true, "typeof": true,
	"var": true, "void": true, "while": true, "with": true, "yield": true,
	"await": true, "implements": true, "interface": true, "package": true,
	"private": true, "protected": true, "public": true, "static": true,
}

// cjsExportNames scans a CommonJS-format transpile for the names a
// namespace import should see, sorted alphabetically.
func cjsExportNames(code string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range cjsExportPropertyRe.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if jsReservedWords[name] || strings.HasPrefix(name, "_") || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// translateCjsToEsm is the node code translator step of spec's CJS
// path: it wraps a module already transpiled with ModuleKind::Cjs in a
// module/exports/require shim and re-exposes the result as ESM, a
// default export carrying the whole `module.exports` value plus one
// named export per property the module assigns directly on
// `exports`/`module.exports` — the same default-plus-named shape
// please_js/esmdev's addCJSNamedExportsToCache and addESMDefaultExport
// build for bundled output, collapsed into a single pass since this
// emitter never bundles. `require` itself is left as a free variable:
// resolving it against the loader's own module graph is the runtime's
// job, not this structural translation's.
func translateCjsToEsm(code string) string {
	names := cjsExportNames(code)

	var sb strings.Builder
	sb.WriteString("var __cjs_module = { exports: {} };\n")
	sb.WriteString("(function(module, exports, require) {\n")
	sb.WriteString(code)
	sb.WriteString("\n})(__cjs_module, __cjs_module.exports, require);\n")
	sb.WriteString("var __cjs_exports = __cjs_module.exports;\n")
	sb.WriteString("export default __cjs_exports;\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "export const %s = __cjs_exports.%s;\n", name, name)
	}
	return sb.String()
}
