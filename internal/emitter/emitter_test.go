package emitter

import (
	"strings"
	"testing"

	"github.com/jsruntime/modcore/internal/emitcache"
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

func newTestEmitter(t *testing.T) *Emitter {
	t.Helper()
	cache, err := emitcache.New(t.TempDir())
	if err != nil {
		t.Fatalf("emitcache.New: %v", err)
	}
	return New(cache, NewPackageJSONCjsTracker())
}

func TestMaybeEmitSourcePassesThroughNonEmittable(t *testing.T) {
	e := newTestEmitter(t)
	got, err := e.MaybeEmitSource(mustSpec(t, "file:///a.js"), specifier.JavaScript, ModuleKindEsm, "const x = 1;")
	if err != nil {
		t.Fatalf("MaybeEmitSource: %v", err)
	}
	if got != "const x = 1;" {
		t.Errorf("expected plain JavaScript to pass through unchanged, got %q", got)
	}
}

func TestMaybeEmitSourceTranspilesTypeScript(t *testing.T) {
	e := newTestEmitter(t)
	src := "const x: number = 1;"
	got, err := e.MaybeEmitSource(mustSpec(t, "file:///a.ts"), specifier.TypeScript, ModuleKindEsm, src)
	if err != nil {
		t.Fatalf("MaybeEmitSource: %v", err)
	}
	if got == src {
		t.Error("expected TypeScript source to be transpiled, got identical output")
	}
}

func TestMaybeEmitSourceTranslatesCjsToEsm(t *testing.T) {
	e := newTestEmitter(t)
	src := "exports.greet = function() { return 'hi'; };\nmodule.exports.name = 'pkg';\n"
	got, err := e.MaybeEmitSource(mustSpec(t, "file:///a.js"), specifier.JavaScript, ModuleKindCjs, src)
	if err != nil {
		t.Fatalf("MaybeEmitSource: %v", err)
	}
	if !strings.Contains(got, "export default __cjs_exports;") {
		t.Errorf("expected a default export wrapping module.exports, got %q", got)
	}
	if !strings.Contains(got, "export const greet = __cjs_exports.greet;") {
		t.Errorf("expected a named export for greet, got %q", got)
	}
	if !strings.Contains(got, "export const name = __cjs_exports.name;") {
		t.Errorf("expected a named export for name, got %q", got)
	}
}

func TestMaybeEmitSourceCjsAppliesEvenForNonEmittableMediaType(t *testing.T) {
	e := newTestEmitter(t)
	src := "module.exports.value = 1;\n"
	got, err := e.MaybeEmitSource(mustSpec(t, "file:///a.cjs"), specifier.Cjs, ModuleKindCjs, src)
	if err != nil {
		t.Fatalf("MaybeEmitSource: %v", err)
	}
	if got == src {
		t.Error("expected a CJS-classified module to be translated even though Cjs isn't in IsEmittable's set")
	}
}

func TestCjsExportNamesSkipsReservedAndUnderscorePrefixed(t *testing.T) {
	names := cjsExportNames("exports.default = 1;\nexports._private = 2;\nexports.ok = 3;\n")
	if len(names) != 1 || names[0] != "ok" {
		t.Errorf("expected only [ok], got %v", names)
	}
}

func TestMaybeEmitSourceCachesSecondCall(t *testing.T) {
	e := newTestEmitter(t)
	spec := mustSpec(t, "file:///a.ts")
	src := "const x: number = 1;"
	first, err := e.MaybeEmitSource(spec, specifier.TypeScript, ModuleKindEsm, src)
	if err != nil {
		t.Fatalf("MaybeEmitSource: %v", err)
	}
	second, err := e.MaybeEmitSource(spec, specifier.TypeScript, ModuleKindEsm, src)
	if err != nil {
		t.Fatalf("MaybeEmitSource (cached): %v", err)
	}
	if first != second {
		t.Errorf("expected cached emit to match first emit, got %q vs %q", second, first)
	}
}

func TestCheckNoImportAssertionRejectsAssert(t *testing.T) {
	err := CheckNoImportAssertion("file:///a.ts", `import data from "./data.json" assert { type: "json" };`)
	if err == nil {
		t.Fatal("expected the deprecated assert syntax to be rejected")
	}
}

func TestCheckNoImportAssertionAllowsWith(t *testing.T) {
	err := CheckNoImportAssertion("file:///a.ts", `import data from "./data.json" with { type: "json" };`)
	if err != nil {
		t.Errorf("expected the `with` keyword to be accepted, got %v", err)
	}
}

func TestCheckImportAttributesRequiresJSONType(t *testing.T) {
	spec := mustSpec(t, "file:///data.json")
	if err := CheckImportAttributes(spec, specifier.Json, specifier.RequestedModuleTypeNone); err == nil {
		t.Fatal("expected a missing JSON attribute error")
	}
	if err := CheckImportAttributes(spec, specifier.Json, specifier.RequestedModuleTypeJSON); err != nil {
		t.Errorf("expected no error once the json attribute is present, got %v", err)
	}
}

func TestDispatchClassifiesMediaTypes(t *testing.T) {
	cases := []struct {
		mt   specifier.MediaType
		sch  specifier.Scheme
		want Decision
	}{
		{specifier.Json, specifier.SchemeFile, DecisionPassthrough},
		{specifier.Wasm, specifier.SchemeFile, DecisionPassthrough},
		{specifier.TypeScript, specifier.SchemeFile, DecisionTranspile},
		{specifier.JavaScript, specifier.SchemeNode, DecisionExternal},
	}
	for _, c := range cases {
		if got := Dispatch(c.mt, c.sch); got != c.want {
			t.Errorf("Dispatch(%v, %v) = %v, want %v", c.mt, c.sch, got, c.want)
		}
	}
}
