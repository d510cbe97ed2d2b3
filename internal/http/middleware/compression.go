package middleware

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressibleTypes lists the response types worth compressing. Audio and
// image artifacts are already compressed and are served with range
// support, so they pass through untouched.
var compressibleTypes = []string{
	"application/json",
	"application/problem+json",
	"application/openapi+json",
	"application/openapi+yaml",
	"text/html",
	"text/plain",
	"text/css",
	"text/javascript",
}

// Compress returns a middleware negotiating brotli or gzip for API
// responses. Brotli is preferred when the client accepts both.
func Compress(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level, compressibleTypes...)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, brotliLevel(level))
	})
	return c.Handler
}

// brotliLevel maps a gzip-style level (1-9) onto brotli's 0-11 range.
func brotliLevel(level int) int {
	switch {
	case level < 0:
		return brotli.DefaultCompression
	case level > brotli.BestCompression:
		return brotli.BestCompression
	}
	return level
}
