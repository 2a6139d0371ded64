package specifier

import "testing"

func TestDetectMediaType(t *testing.T) {
	cases := []struct {
		name        string
		path        string
		contentType string
		want        MediaType
	}{
		{"tsx no content type", "foo/bar.tsx", "", Tsx},
		{"ts text/plain extension wins", "foo/bar.ts", "text/plain", TypeScript},
		{"tsx content-type refines", "foo/bar.tsx", "application/javascript", Tsx},
		{"plain js", "foo/bar.js", "application/javascript", JavaScript},
		{"json", "foo/bar.json", "application/json", Json},
		{"unknown extension and content-type", "foo/bar.xyz", "", Unknown},
		{"declaration file", "foo/bar.d.ts", "", Dts},
		{"octet-stream falls back to extension", "foo/bar.wasm", "application/octet-stream", Wasm},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DetectMediaType(c.path, c.contentType)
			if got != c.want {
				t.Errorf("DetectMediaType(%q, %q) = %v, want %v", c.path, c.contentType, got, c.want)
			}
		})
	}
}

func TestMediaTypeIsDeclaration(t *testing.T) {
	for _, m := range []MediaType{Dts, Dmts, Dcts} {
		if !m.IsDeclaration() {
			t.Errorf("%v.IsDeclaration() = false, want true", m)
		}
	}
	if TypeScript.IsDeclaration() {
		t.Errorf("TypeScript.IsDeclaration() = true, want false")
	}
}

func TestMediaTypeIsEmittable(t *testing.T) {
	for _, m := range []MediaType{TypeScript, Mts, Cts, Jsx, Tsx} {
		if !m.IsEmittable() {
			t.Errorf("%v.IsEmittable() = false, want true", m)
		}
	}
	for _, m := range []MediaType{JavaScript, Mjs, Cjs, Json, Dts} {
		if m.IsEmittable() {
			t.Errorf("%v.IsEmittable() = true, want false", m)
		}
	}
}
