// Package contenttype maps between MIME content types and the file
// extensions moxy uses when deriving storage paths (spec.md §4.2
// get_save_path) and when falling back to a Content-Type header for a
// stored route that doesn't carry one (spec.md §4.8).
//
// The shape is modeled on cs3org-reva's pkg/mime (Detect does
// extension->type, GetFileExts does the reverse type->extension lookup
// this package needs); reva's own implementation delegates to
// github.com/glpatcern/go-mime, a dependency outside the retrieval pack's
// available module set, so here the table is kept local instead — see
// DESIGN.md.
package contenttype

import (
	"mime"
	"path"
	"strings"
	"sync"
)

// defaultExt is used when no mapping is found for a content type (spec.md §4.2).
const defaultExt = "txt"

var seed = map[string]string{
	"application/json":         "json",
	"text/plain":               "txt",
	"text/html":                "html",
	"text/css":                 "css",
	"application/javascript":   "js",
	"text/javascript":          "js",
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"image/gif":                "gif",
	"image/svg+xml":            "svg",
	"application/pdf":          "pdf",
	"application/xml":          "xml",
	"text/xml":                 "xml",
	"application/octet-stream": "bin",
}

var (
	mu       sync.RWMutex
	byType   = map[string]string{}
	byExtRev = map[string][]string{}
)

func init() {
	for t, ext := range seed {
		Register(t, ext)
	}
}

// Register associates a content type with a file extension, overriding any
// previous association for that exact type string.
func Register(contentType, ext string) {
	ct := normalize(contentType)
	ext = strings.TrimPrefix(ext, ".")

	mu.Lock()
	defer mu.Unlock()
	byType[ct] = ext
	byExtRev[ext] = appendUnique(byExtRev[ext], ct)
}

// ExtensionFor resolves a content type to the file extension moxy should
// append to a save path (spec.md §4.2 step 4). Falls back to stdlib mime's
// extension table, then to defaultExt if nothing resolves.
func ExtensionFor(contentType string) string {
	if contentType == "" {
		return defaultExt
	}
	ct := stripParams(normalize(contentType))

	mu.RLock()
	ext, ok := byType[ct]
	mu.RUnlock()
	if ok {
		return ext
	}

	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return defaultExt
}

// TypeForExtension resolves a file extension (no leading dot, e.g. from
// route.Resource's suffix) to a content type, used by the Dispatcher's
// Content-Type fallback (spec.md §4.8) when stored headers lack one.
func TypeForExtension(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")

	mu.RLock()
	types, ok := byExtRev[ext]
	mu.RUnlock()
	if ok && len(types) > 0 {
		return types[0]
	}

	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// TypeForPath is a convenience wrapper around TypeForExtension using a resource path's suffix.
func TypeForPath(p string) string {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return "application/octet-stream"
	}
	return TypeForExtension(ext)
}

func normalize(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}

func stripParams(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
