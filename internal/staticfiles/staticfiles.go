// Package staticfiles serves files under the configured static directory for
// GET /static/<path> requests: sanitize, validate against the base
// directory, fall back to index.html for directories, and guess a
// charset-qualified Content-Type from the file extension.
package staticfiles

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/mikerrors"
	"github.com/dufeut/mik/internal/security"
)

// CacheControl is the header value applied to every served static file.
const CacheControl = "public, max-age=3600"

// Prefix is the URL prefix stripped before resolving a path against the
// static root.
const Prefix = "/static/"

// Server serves files rooted at Dir.
type Server struct {
	Dir string
	Log *zap.Logger
}

// New constructs a Server rooted at dir.
func New(dir string, log *zap.Logger) *Server {
	return &Server{Dir: dir, Log: log}
}

// ServeHTTP implements http.Handler for GET /static/<path>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	relPath := strings.TrimPrefix(r.URL.Path, Prefix)

	sanitized, err := security.SanitizeFilePath(s.Log, relPath)
	if err != nil {
		s.Log.Warn("static path rejected", zap.String("path", relPath), zap.Error(err))
		httpapi.WriteMikError(w, err)
		return
	}

	target := sanitized
	if info, statErr := os.Stat(filepath.Join(s.Dir, sanitized)); statErr == nil && info.IsDir() {
		target = filepath.Join(sanitized, "index.html")
	}

	fullPath, err := security.ValidatePathWithinBase(s.Dir, target)
	if err != nil {
		s.Log.Warn("static path escaped base", zap.String("path", target), zap.Error(err))
		httpapi.WriteMikError(w, err)
		return
	}

	contents, err := os.ReadFile(fullPath)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", guessContentType(fullPath))
		w.Header().Set("Cache-Control", CacheControl)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(contents)
	case os.IsNotExist(err):
		httpapi.WriteMikError(w, mikerrors.New(mikerrors.KindNotFound, "file not found"))
	default:
		s.Log.Error("failed to read static file", zap.String("path", fullPath), zap.Error(err))
		httpapi.WriteMikError(w, mikerrors.Internal("failed to read static file", err))
	}
}

// charsetTypes are MIME essence types that should carry "; charset=utf-8".
var charsetTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".mjs":  "text/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "text/xml; charset=utf-8",
	".svg":  "image/svg+xml",
}

var binaryTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
}

// guessContentType derives a Content-Type from the file extension, adding
// "; charset=utf-8" for text-ish types. Falls through to the stdlib mime
// package for anything not in the fast table, then to a generic octet
// stream as a last resort.
func guessContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := charsetTypes[ext]; ok {
		return ct
	}
	if ct, ok := binaryTypes[ext]; ok {
		return ct
	}
	if ct := mimeTypeByExtension(ext); ct != "" {
		if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
			if idx := strings.Index(ct, ";"); idx < 0 {
				return ct + "; charset=utf-8"
			}
			return ct
		}
		return ct
	}
	return "application/octet-stream"
}

// mimeTypeByExtension consults the stdlib mime type table (seeded from the
// system's mime.types plus Go's built-in defaults) for extensions not in
// the fast tables above.
func mimeTypeByExtension(ext string) string {
	return mime.TypeByExtension(ext)
}
