// Package contenttype picks the Content-Type of a served file.
package contenttype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Default is used when nothing more specific is known.
const Default = "application/octet-stream"

// known overrides the system MIME table for the common static types, so the
// result does not depend on the host's /etc/mime.types.
var known = map[string]string{
	"jpg":  "image/jpg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"mp3":  "audio/mp3",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"mp4":  "audio/mp4",
	"txt":  "text/plain",
	"text": "text/plain",
	"toml": "text/plain",
	"yaml": "text/plain",
	"yml":  "text/plain",
	"ini":  "text/plain",
	"xml":  "text/plain",
	"csv":  "text/plain",
	"md":   "text/plain",
	"json": "text/plain",
	"html": "text/html",
	"htm":  "text/html",
}

// Lookup returns the content type for name based on its extension.
func Lookup(name string) string {
	ct, _ := byExtension(name)
	return ct
}

// Detect is Lookup with a fallback to sniffing data when the extension is
// unknown.
func Detect(name string, data []byte) string {
	if ct, ok := byExtension(name); ok {
		return ct
	}
	if len(data) == 0 {
		return Default
	}
	return mimetype.Detect(data).String()
}

func byExtension(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return Default, false
	}
	if ct, ok := known[ext]; ok {
		return ct, true
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct, true
	}
	return Default, false
}
