package streams

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"hls-scrape-proxy/pkg/logging"
	"hls-scrape-proxy/pkg/types"
)

// relayBufferSize bounds how much media is held per request.
const relayBufferSize = 32 << 10

// passthroughHeaders are copied from the upstream media response.
var passthroughHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
}

// GenericHandler relays media bodies verbatim.
type GenericHandler struct {
	log *logging.Logger
}

// NewGenericHandler creates a media relay handler.
func NewGenericHandler(log *logging.Logger) *GenericHandler {
	return &GenericHandler{
		log: log.WithComponent("generic-handler"),
	}
}

// Response wraps an upstream media response without reading its body. The
// caller owns the returned body and must close it.
func (h *GenericHandler) Response(target *url.URL, resp *http.Response) *types.StreamResponse {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessContentType(target.Path)
		h.log.Debug("upstream sent no content type", "url", target.String(), "guessed", contentType)
	}

	headers := make(map[string]string)
	for _, key := range passthroughHeaders {
		if v := resp.Header.Get(key); v != "" {
			headers[key] = v
		}
	}

	return &types.StreamResponse{
		Kind:        types.KindMedia,
		ContentType: contentType,
		Headers:     headers,
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
	}
}

// CopyStream copies src to w chunk by chunk, flushing after every write so the
// client sees bytes as they arrive. Reads only happen after the previous chunk
// was written, which lets a slow client throttle the upstream.
func CopyStream(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)

	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, writeErr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// guessContentType guesses the content type based on file extension.
func guessContentType(urlPath string) string {
	ext := strings.ToLower(path.Ext(urlPath))

	contentTypes := map[string]string{
		".ts":   "video/mp2t",
		".m4s":  "video/iso.segment",
		".mp4":  "video/mp4",
		".m4v":  "video/x-m4v",
		".webm": "video/webm",
		".aac":  "audio/aac",
		".m4a":  "audio/mp4",
		".mp3":  "audio/mpeg",
		".vtt":  "text/vtt",
		".key":  "application/octet-stream",
	}

	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
