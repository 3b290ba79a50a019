// Package streams classifies upstream resources and prepares them for the
// client: playlists are rewritten, media is relayed.
package streams

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"

	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/types"
	"hls-scrape-proxy/pkg/urlutil"
)

// PlaylistContentType is the registered HLS media type.
const PlaylistContentType = "application/vnd.apple.mpegurl"

// playlistMediaTypes lists the HLS media types seen in the wild.
var playlistMediaTypes = []string{
	PlaylistContentType,
	"application/x-mpegurl",
	"audio/mpegurl",
	"audio/x-mpegurl",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsPlaylistContentType reports whether a Content-Type header value names an
// HLS playlist. Parameters such as charset are ignored.
func IsPlaylistContentType(header string) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}

	mt, err := contenttype.ParseMediaType(header)
	if err != nil {
		// Malformed headers still count when they carry the HLS token.
		return strings.Contains(strings.ToLower(header), PlaylistContentType)
	}
	full := strings.ToLower(mt.Type + "/" + mt.Subtype)
	for _, candidate := range playlistMediaTypes {
		if full == candidate {
			return true
		}
	}
	return false
}

// Classify decides how a target is served. The .m3u8 path suffix alone is
// enough for a playlist; the content type is a secondary signal. A missing
// content type on any other URL means media.
func Classify(target *url.URL, contentType string) types.ResourceKind {
	if urlutil.HasManifestExtension(target) || IsPlaylistContentType(contentType) {
		return types.KindPlaylist
	}
	return types.KindMedia
}

// HLSHandler rewrites HLS playlists so every segment reference routes back
// through the proxy.
type HLSHandler struct {
	log          *logging.Logger
	proxyBaseURL string
}

// NewHLSHandler creates a playlist rewriter. proxyBaseURL prefixes every
// rewritten reference; empty keeps references origin-relative.
func NewHLSHandler(log *logging.Logger, proxyBaseURL string) *HLSHandler {
	return &HLSHandler{
		log:          log.WithComponent("hls-handler"),
		proxyBaseURL: strings.TrimRight(proxyBaseURL, "/"),
	}
}

// Rewrite returns playlist with each segment reference replaced by a
// proxy-local reference. References resolve against the playlist's base
// directory. Directive lines, blank lines and every line terminator are
// copied byte for byte.
func (h *HLSHandler) Rewrite(playlist []byte, target *url.URL, headers map[string]string) []byte {
	base := urlutil.BaseDirectory(target)

	var out bytes.Buffer
	out.Grow(len(playlist) + len(playlist)/2)

	rewritten := 0
	for start := 0; start < len(playlist); {
		end, next := len(playlist), len(playlist)
		if i := bytes.IndexByte(playlist[start:], '\n'); i >= 0 {
			end = start + i
			next = end + 1
		}
		content := end
		if content > start && playlist[content-1] == '\r' {
			content--
		}

		line := playlist[start:content]
		if ref, ok := h.rewriteLine(line, base, headers); ok {
			out.WriteString(ref)
			rewritten++
		} else {
			out.Write(line)
		}
		out.Write(playlist[content:next])

		start = next
	}

	h.log.Debug("rewrote playlist",
		"url", target.String(),
		"base", base.String(),
		"references", rewritten,
		"bytes_in", len(playlist),
		"bytes_out", out.Len(),
	)

	return out.Bytes()
}

// rewriteLine returns the proxy reference for a segment line. ok is false
// for directives, blank lines and references that cannot be proxied.
func (h *HLSHandler) rewriteLine(line []byte, base *url.URL, headers map[string]string) (string, bool) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(line, utf8BOM))
	if len(trimmed) == 0 || trimmed[0] == '#' {
		return "", false
	}

	abs, err := urlutil.Resolve(base, string(trimmed))
	if err != nil {
		h.log.Debug("leaving unparseable reference", "line", string(trimmed), "error", err)
		return "", false
	}
	if !urlutil.IsNetworkScheme(abs.Scheme) {
		return "", false
	}

	return urlutil.ProxyReference(h.proxyBaseURL, abs.String(), headers), true
}
