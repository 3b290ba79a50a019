// Package urlutil provides URL helpers for target validation, playlist base
// resolution and proxy-local reference building.
package urlutil

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ManifestExtension is the path suffix that marks an HLS playlist.
const ManifestExtension = ".m3u8"

// ProxyPath is the route that serves proxied resources.
const ProxyPath = "/proxy"

var (
	ErrEmptyURL      = errors.New("url is empty")
	ErrNotAbsolute   = errors.New("url is not absolute")
	ErrInvalidScheme = errors.New("url scheme must be http or https")
)

// ParseTarget parses rawURL and checks that it is an absolute http(s) URL
// with a host.
func ParseTarget(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !IsNetworkScheme(u.Scheme) {
		return nil, ErrInvalidScheme
	}
	if u.Host == "" {
		return nil, ErrNotAbsolute
	}
	return u, nil
}

// IsNetworkScheme reports whether scheme is http or https.
func IsNetworkScheme(scheme string) bool {
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}

// HasManifestExtension reports whether the URL path ends with .m3u8.
// The query string and fragment are ignored.
func HasManifestExtension(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ManifestExtension)
}

// IsManifestURL is HasManifestExtension for a raw string. Unparseable input
// is never a manifest.
func IsManifestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return HasManifestExtension(u)
}

// BaseDirectory returns u truncated after the last "/" of its path, without
// query or fragment. It is the base playlist references resolve against.
func BaseDirectory(u *url.URL) *url.URL {
	base := *u
	base.RawQuery = ""
	base.ForceQuery = false
	base.Fragment = ""
	base.RawFragment = ""

	p := base.EscapedPath()
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i+1]
	} else {
		p = "/"
	}
	// EscapedPath round-trips through RawPath so percent encoding survives.
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		unescaped = p
	}
	base.Path = unescaped
	base.RawPath = p
	return &base
}

// Resolve resolves ref against base following RFC 3986. Scheme-relative,
// absolute-path, relative-path and bare filename references are supported.
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(r), nil
}

// ProxyReference builds a proxy-local URL for target. Extra headers travel as
// h_<Name> query parameters in sorted order after the url parameter.
func ProxyReference(prefix, target string, headers map[string]string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(ProxyPath)
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))

	if len(headers) > 0 {
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("&h_")
			b.WriteString(url.QueryEscape(strings.ReplaceAll(k, "-", "_")))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(headers[k]))
		}
	}
	return b.String()
}
