package urlutil

import (
	"errors"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return u
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "https", raw: "https://cdn.example/path/stream.m3u8"},
		{name: "http with port", raw: "http://cdn.example:8080/a.ts"},
		{name: "uppercase scheme", raw: "HTTPS://cdn.example/a.ts"},
		{name: "empty", raw: "", wantErr: ErrEmptyURL},
		{name: "blank", raw: "   ", wantErr: ErrEmptyURL},
		{name: "ftp", raw: "ftp://cdn.example/a.ts", wantErr: ErrInvalidScheme},
		{name: "relative", raw: "/path/stream.m3u8", wantErr: ErrInvalidScheme},
		{name: "javascript", raw: "javascript:alert(1)", wantErr: ErrInvalidScheme},
		{name: "no host", raw: "http:///stream.m3u8", wantErr: ErrNotAbsolute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTarget(tt.raw)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ParseTarget(%q) unexpected error: %v", tt.raw, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseTarget(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestHasManifestExtension(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example/path/stream.m3u8", true},
		{"https://cdn.example/path/STREAM.M3U8", true},
		{"https://cdn.example/path/stream.m3u8?token=abc", true},
		{"https://cdn.example/path/stream.m3u8#frag", true},
		{"https://cdn.example/path/seg0.ts", false},
		{"https://cdn.example/play?file=stream.m3u8", false},
		{"https://cdn.example/stream.m3u8/seg.ts", false},
	}

	for _, tt := range tests {
		if got := IsManifestURL(tt.url); got != tt.want {
			t.Errorf("IsManifestURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestBaseDirectory(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"simple path", "https://cdn.example/path/stream.m3u8", "https://cdn.example/path/"},
		{"query string dropped", "https://cdn.example/path/stream.m3u8?token=a/b", "https://cdn.example/path/"},
		{"root file", "https://cdn.example/stream.m3u8", "https://cdn.example/"},
		{"no path", "https://cdn.example", "https://cdn.example/"},
		{"trailing slash kept", "https://cdn.example/live/", "https://cdn.example/live/"},
		{"encoding preserved", "https://cdn.example/a%20b/stream(1).m3u8", "https://cdn.example/a%20b/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BaseDirectory(mustParse(t, tt.url)).String()
			if got != tt.want {
				t.Errorf("BaseDirectory(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	base := BaseDirectory(mustParse(t, "https://cdn.example/stream/video/index.m3u8?token=abc"))

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"bare filename", "seg0.ts", "https://cdn.example/stream/video/seg0.ts"},
		{"relative subdir", "720p/seg0.ts", "https://cdn.example/stream/video/720p/seg0.ts"},
		{"parent directory", "../audio/seg0.ts", "https://cdn.example/stream/audio/seg0.ts"},
		{"multiple parents", "../../../x.ts", "https://cdn.example/x.ts"},
		{"absolute path", "/other/seg0.ts", "https://cdn.example/other/seg0.ts"},
		{"scheme relative", "//cdn2.example/seg0.ts", "https://cdn2.example/seg0.ts"},
		{"absolute url", "http://cdn3.example/a.ts?x=1", "http://cdn3.example/a.ts?x=1"},
		{"reference with query", "seg0.ts?sig=1", "https://cdn.example/stream/video/seg0.ts?sig=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(base, tt.ref)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.ref, err)
			}
			if got.String() != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got.String(), tt.want)
			}
		})
	}
}

func TestProxyReference(t *testing.T) {
	got := ProxyReference("", "https://cdn.example/path/seg0.ts", nil)
	want := "/proxy?url=" + url.QueryEscape("https://cdn.example/path/seg0.ts")
	if got != want {
		t.Fatalf("ProxyReference() = %q, want %q", got, want)
	}
	if want != "/proxy?url=https%3A%2F%2Fcdn.example%2Fpath%2Fseg0.ts" {
		t.Fatalf("unexpected encoding %q", want)
	}

	got = ProxyReference("https://px.example", "https://cdn.example/a.ts", map[string]string{
		"User-Agent": "VLC/3",
		"Referer":    "https://site.example/",
	})
	ref, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse reference: %v", err)
	}
	if ref.Host != "px.example" || ref.Path != ProxyPath {
		t.Errorf("reference = %q, want prefix https://px.example/proxy", got)
	}
	q := ref.Query()
	if q.Get("url") != "https://cdn.example/a.ts" {
		t.Errorf("url param = %q", q.Get("url"))
	}
	if q.Get("h_User_Agent") != "VLC/3" || q.Get("h_Referer") != "https://site.example/" {
		t.Errorf("header params = %v", q)
	}
}
