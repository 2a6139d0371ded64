package specifier

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the set of schemes the core recognises on a module
// specifier (spec §3).
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeNpm   Scheme = "npm"
	SchemeJsr   Scheme = "jsr"
	SchemeNode  Scheme = "node"
	SchemeData  Scheme = "data"
	SchemeBlob  Scheme = "blob"
)

var recognisedSchemes = map[string]Scheme{
	"file":  SchemeFile,
	"http":  SchemeHTTP,
	"https": SchemeHTTPS,
	"npm":   SchemeNpm,
	"jsr":   SchemeJsr,
	"node":  SchemeNode,
	"data":  SchemeData,
	"blob":  SchemeBlob,
}

// ErrUnsupportedScheme is returned when a specifier's scheme is not one
// spec §3 recognises (error taxonomy row "Unsupported URL scheme").
type ErrUnsupportedScheme struct {
	Scheme string
}

func (e *ErrUnsupportedScheme) Error() string {
	schemes := make([]string, 0, len(recognisedSchemes))
	for s := range recognisedSchemes {
		schemes = append(schemes, s)
	}
	return fmt.Sprintf("unsupported scheme %q; supported schemes: %s", e.Scheme, strings.Join(schemes, ", "))
}

// Specifier is an absolute URL module specifier after canonicalisation:
// percent-encoding normalised, with the fragment retained for identity
// but strippable for cache-key purposes (spec §3).
type Specifier struct {
	raw *url.URL
}

// Parse parses and canonicalises a module specifier.
func Parse(s string) (Specifier, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Specifier{}, fmt.Errorf("parsing specifier %q: %w", s, err)
	}
	if !u.IsAbs() {
		return Specifier{}, fmt.Errorf("specifier %q is not absolute", s)
	}
	if _, ok := recognisedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return Specifier{}, &ErrUnsupportedScheme{Scheme: u.Scheme}
	}
	// Normalise percent-encoding by round-tripping through url.Parse,
	// which Go's net/url already does canonically on String().
	return Specifier{raw: u}, nil
}

// MustParse is Parse that panics on error; for literals in tests and
// fixed internal specifiers.
func MustParse(s string) Specifier {
	sp, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sp
}

// Scheme returns the specifier's scheme.
func (s Specifier) Scheme() Scheme {
	return recognisedSchemes[strings.ToLower(s.raw.Scheme)]
}

// String returns the canonical identity form of the specifier,
// fragment included.
func (s Specifier) String() string {
	return s.raw.String()
}

// CacheKey returns the specifier's string form with the fragment
// stripped, the form used for cache lookups (spec §3, "fragment
// stripped for cache lookups but preserved for identity in
// resolution").
func (s Specifier) CacheKey() string {
	u := *s.raw
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// WithoutQuery returns the specifier's string form with both fragment
// and query stripped; used by the header-cache blacklist's
// query-then-path matching (spec §4.5).
func (s Specifier) WithoutQuery() string {
	u := *s.raw
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	return u.String()
}

// Path returns the URL path component, used for extension-based media
// type inference.
func (s Specifier) Path() string {
	return s.raw.Path
}

// Resolve resolves a relative reference against this specifier, as
// import resolution does for relative import strings.
func (s Specifier) Resolve(ref string) (Specifier, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Specifier{}, fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	resolved := s.raw.ResolveReference(u)
	if _, ok := recognisedSchemes[strings.ToLower(resolved.Scheme)]; !ok {
		return Specifier{}, &ErrUnsupportedScheme{Scheme: resolved.Scheme}
	}
	return Specifier{raw: resolved}, nil
}

// Equal reports whether two specifiers have identical identity
// (fragment included).
func (s Specifier) Equal(other Specifier) bool {
	return s.String() == other.String()
}

// IsZero reports whether the specifier is the zero value.
func (s Specifier) IsZero() bool {
	return s.raw == nil
}

// ResolutionKind is the context a specifier is being resolved under,
// per spec §4.1.
type ResolutionKind int

const (
	ResolutionMainModule ResolutionKind = iota
	ResolutionImport
	ResolutionDynamicImport
)

// Environment is one entry of the fixed environment enumeration a
// module's reachability set is partitioned over (spec §3).
type Environment string

const (
	EnvServer  Environment = "server"
	EnvBrowser Environment = "browser"
)

// EnvironmentSet is a small set over Environment, used on every
// SourceModule to record which entry-point environments can reach it
// (spec §3 invariant 2).
type EnvironmentSet map[Environment]struct{}

// NewEnvironmentSet builds a set from the given environments.
func NewEnvironmentSet(envs ...Environment) EnvironmentSet {
	s := make(EnvironmentSet, len(envs))
	for _, e := range envs {
		s[e] = struct{}{}
	}
	return s
}

// Add inserts env into the set, returning true if it was newly added.
func (s EnvironmentSet) Add(env Environment) bool {
	if _, ok := s[env]; ok {
		return false
	}
	s[env] = struct{}{}
	return true
}

// Contains reports whether env is in the set.
func (s EnvironmentSet) Contains(env Environment) bool {
	_, ok := s[env]
	return ok
}

// Union adds every environment of other into s, reporting whether s
// changed.
func (s EnvironmentSet) Union(other EnvironmentSet) bool {
	changed := false
	for e := range other {
		if s.Add(e) {
			changed = true
		}
	}
	return changed
}

// SideEffects classifies whether evaluating a module has observable
// side effects beyond producing its exports (spec §3). Unknown is the
// safe default and forbids tree-shaking elimination by any downstream
// bundler consumer.
type SideEffects int

const (
	SideEffectsUnknown SideEffects = iota
	SideEffectsNone
	SideEffectsSome
)

// RequestedModuleType is the attribute attached to an import statement
// indicating how the importer intends to interpret the loaded resource
// (spec GLOSSARY).
type RequestedModuleType string

const (
	RequestedModuleTypeNone  RequestedModuleType = ""
	RequestedModuleTypeJSON  RequestedModuleType = "json"
	RequestedModuleTypeText  RequestedModuleType = "text"
	RequestedModuleTypeBytes RequestedModuleType = "bytes"
)

// ImportPhase distinguishes a normal evaluating import from a
// source-phase import (`import source x from "..."`), per spec §4.1.
type ImportPhase int

const (
	ImportPhaseEvaluation ImportPhase = iota
	ImportPhaseSource
)

// NamedBinding is one named import/export binding.
type NamedBinding struct {
	Name     string
	Alias    string
	TypeOnly bool
}

// ByteRange is a half-open byte offset range into a module's source
// text, used to anchor diagnostics and source-mapped referrers.
type ByteRange struct {
	Start int
	End   int
}

// Import describes one static or dynamic import of a SourceModule
// (spec §3).
type Import struct {
	ResolvedSpecifier Specifier
	OriginalString    string
	Named             []NamedBinding
	DefaultBinding    string
	NamespaceBinding  string
	TypeOnly          bool
	RequestedType     RequestedModuleType
	Phase             ImportPhase
	Range             ByteRange
	Dynamic           bool
}

// ReExport describes a `export * from "..."` / `export {x} from "..."`
// re-export edge.
type ReExport struct {
	ResolvedSpecifier Specifier
	Named             []NamedBinding
}
