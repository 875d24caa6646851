package constants

import "strings"

// Format is the decoding strategy selected for a document.
type Format string

const (
	PDF         Format = "PDF"
	IMAGE       Format = "IMAGE"
	TEXT        Format = "TEXT"
	UNSUPPORTED Format = "UNSUPPORTED"
)

// FileTypes holds the formats a document can be decoded as.
var FileTypes = []Format{PDF, IMAGE, TEXT}

// AllowedExtensions holds the default allowed file extensions for path-based extraction.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"tif":  {},
	"tiff": {},
	"bmp":  {},
	"webp": {},
	"txt":  {},
	"text": {},
	"md":   {},
}

var extToFormat = map[string]Format{
	"pdf":      PDF,
	"png":      IMAGE,
	"jpg":      IMAGE,
	"jpeg":     IMAGE,
	"gif":      IMAGE,
	"tif":      IMAGE,
	"tiff":     IMAGE,
	"bmp":      IMAGE,
	"webp":     IMAGE,
	"txt":      TEXT,
	"text":     TEXT,
	"md":       TEXT,
	"markdown": TEXT,
	"csv":      TEXT,
}

var mimeToFormat = map[string]Format{
	"application/pdf": PDF,
	"image/png":       IMAGE,
	"image/jpeg":      IMAGE,
	"image/gif":       IMAGE,
	"image/tiff":      IMAGE,
	"image/bmp":       IMAGE,
	"image/webp":      IMAGE,
	"text/plain":      TEXT,
	"text/markdown":   TEXT,
	"text/csv":        TEXT,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToFormat maps a file extension (with or without dot) to a Format.
// Unknown extensions map to UNSUPPORTED.
func MapExtToFormat(ext string) Format {
	if f, ok := extToFormat[NormalizeExt(ext)]; ok {
		return f
	}
	return UNSUPPORTED
}

// MapMIMEToFormat maps a MIME type, ignoring parameters, to a Format.
func MapMIMEToFormat(mime string) Format {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if f, ok := mimeToFormat[mime]; ok {
		return f
	}
	if strings.HasPrefix(mime, "text/") {
		return TEXT
	}
	return UNSUPPORTED
}
