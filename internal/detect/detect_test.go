package detect

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	d := New(nil)
	pdf := []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
	cases := []struct {
		name     string
		data     []byte
		declared string
		want     constants.Format
	}{
		{"pdf by magic", pdf, "", constants.PDF},
		{"pdf mislabeled as png", pdf, "scan.png", constants.PDF},
		{"pdf after junk prefix", append([]byte("garbage\n"), pdf...), "x", constants.PDF},
		{"png by magic", pngBytes(t), "", constants.IMAGE},
		{"png mislabeled as pdf", pngBytes(t), "application/pdf", constants.IMAGE},
		{"text by extension", []byte("hello world"), "notes.txt", constants.TEXT},
		{"text by mime", []byte("hello world"), "text/plain; charset=utf-8", constants.TEXT},
		{"text by bom", append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), "", constants.TEXT},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.Detect(tc.data, tc.declared)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Detect = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDetectUnsupported(t *testing.T) {
	d := New(nil)
	cases := []struct {
		name     string
		data     []byte
		declared string
	}{
		{"zero bytes", nil, "a.pdf"},
		{"zero bytes no name", []byte{}, ""},
		{"unknown magic", []byte{0x00, 0x01, 0x02, 0x03, 0x04}, "blob.bin"},
		{"undeclared text", []byte("just some words"), ""},
		{"text with NUL", []byte("abc\x00def"), "a.txt"},
		{"invalid utf8 text", []byte{0xff, 0xfe, 'a'}, "a.txt"},
		{"truncated png", []byte("\x89PNG\r\n\x1a\n"), "a.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.Detect(tc.data, tc.declared)
			if got != constants.UNSUPPORTED {
				t.Fatalf("Detect = %s, want UNSUPPORTED", got)
			}
			var ufe *common.UnsupportedFormatError
			if !errors.As(err, &ufe) {
				t.Fatalf("err = %v, want *UnsupportedFormatError", err)
			}
			if !errors.Is(err, common.ErrUnsupportedFormat) {
				t.Fatal("errors.Is(ErrUnsupportedFormat) = false")
			}
		})
	}
}

func TestSniffImageSubtype(t *testing.T) {
	f, sub := Sniff(pngBytes(t))
	if f != constants.IMAGE || sub != "png" {
		t.Fatalf("Sniff = %s/%s", f, sub)
	}
}

func TestDeclaredFormat(t *testing.T) {
	cases := map[string]constants.Format{
		"report.PDF":      constants.PDF,
		".jpg":            constants.IMAGE,
		"tiff":            constants.IMAGE,
		"image/webp":      constants.IMAGE,
		"text/markdown":   constants.TEXT,
		"dir/a.b/c.txt":   constants.TEXT,
		"application/zip": constants.UNSUPPORTED,
		"":                constants.UNSUPPORTED,
	}
	for in, want := range cases {
		if got := DeclaredFormat(in); got != want {
			t.Errorf("DeclaredFormat(%q) = %s, want %s", in, got, want)
		}
	}
}
