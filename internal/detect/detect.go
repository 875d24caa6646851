// Package detect classifies raw document bytes into a decoding strategy.
//
// Magic bytes always win over the declared name or MIME type, so a mislabeled
// upload is decoded by what it is rather than what it claims to be.
package detect

import (
	"bytes"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	// image codecs registered for DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
)

// pdfHeaderWindow is how far into the file a %PDF- header may start.
const pdfHeaderWindow = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type signature struct {
	name  string
	match func([]byte) bool
}

var imageSignatures = []signature{
	{"png", prefix("\x89PNG\r\n\x1a\n")},
	{"jpeg", prefix("\xFF\xD8\xFF")},
	{"gif", func(b []byte) bool { return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a")) }},
	{"tiff", func(b []byte) bool { return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*")) }},
	{"bmp", prefix("BM")},
	{"webp", func(b []byte) bool { return len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP" }},
}

func prefix(p string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(p)) }
}

// Detector selects a Format for raw bytes.
type Detector struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect returns the format of data. declared may be a filename, a bare
// extension or a MIME type, and is only consulted for plain text, which has
// no signature of its own.
func (d *Detector) Detect(data []byte, declared string) (constants.Format, error) {
	if len(data) == 0 {
		return constants.UNSUPPORTED, &common.UnsupportedFormatError{Declared: declared, Reason: "empty input"}
	}

	sniffed, subtype := Sniff(data)
	claimed := DeclaredFormat(declared)
	if sniffed != constants.UNSUPPORTED {
		if claimed != constants.UNSUPPORTED && claimed != sniffed {
			d.logger.Warn("detect.declared_mismatch",
				"declared", declared,
				"declared_format", claimed,
				"sniffed_format", sniffed,
				"subtype", subtype,
			)
		}
		return sniffed, nil
	}

	if claimed == constants.TEXT || bytes.HasPrefix(data, utf8BOM) {
		if isText(data) {
			return constants.TEXT, nil
		}
		return constants.UNSUPPORTED, &common.UnsupportedFormatError{Declared: declared, Reason: "declared text is not valid UTF-8"}
	}

	return constants.UNSUPPORTED, &common.UnsupportedFormatError{Declared: declared, Reason: "no recognizable signature"}
}

// Sniff inspects magic bytes only. For images it also validates the header
// with image.DecodeConfig and returns the codec name as subtype.
func Sniff(data []byte) (constants.Format, string) {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return constants.PDF, "pdf"
	}
	for _, sig := range imageSignatures {
		if !sig.match(data) {
			continue
		}
		_, name, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return constants.UNSUPPORTED, ""
		}
		return constants.IMAGE, name
	}
	return constants.UNSUPPORTED, ""
}

// DeclaredFormat maps a filename, extension or MIME type to a Format.
func DeclaredFormat(declared string) constants.Format {
	d := strings.TrimSpace(declared)
	if d == "" {
		return constants.UNSUPPORTED
	}
	if ext := filepath.Ext(d); ext != "" {
		if f := constants.MapExtToFormat(ext); f != constants.UNSUPPORTED {
			return f
		}
	}
	if strings.Contains(d, "/") {
		if f := constants.MapMIMEToFormat(d); f != constants.UNSUPPORTED {
			return f
		}
	}
	return constants.MapExtToFormat(d)
}

func isText(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}
