// Package testutil builds small documents for tests.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
)

// TextPDF builds a PDF with one page per entry; each page shows its lines
// top to bottom in Helvetica.
func TextPDF(pages ...[]string) []byte {
	grid := make([][][]string, len(pages))
	for i, lines := range pages {
		grid[i] = make([][]string, len(lines))
		for j, ln := range lines {
			grid[i][j] = []string{ln}
		}
	}
	return GridPDF(grid...)
}

// GridPDF builds a PDF with one page per entry. Each row is one line; its
// cells start 160pt apart, so rows with several cells line up as columns.
func GridPDF(pages ...[][]string) []byte {
	w := &pdfWriter{}
	n := len(pages)
	// objects: 1 catalog, 2 pages, 3 font, then (page, content) pairs
	fontObj := 3
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	w.header()
	w.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	w.obj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	w.obj(fontObj, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, rows := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i
		w.obj(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			contentObj, fontObj))
		w.stream(contentObj, "", textStream(rows))
	}
	return w.finish()
}

func textStream(rows [][]string) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 12 Tf\n")
	y := 720
	for _, row := range rows {
		for j, c := range row {
			fmt.Fprintf(&b, "1 0 0 1 %d %d Tm\n(%s) Tj\n", 72+160*j, y, escape(c))
		}
		y -= 16
	}
	b.WriteString("ET")
	return b.String()
}

// ImagePDF builds a one-page scan: no text, a single grayscale JPEG image
// stretched over the page.
func ImagePDF(jpeg []byte, width, height int) []byte {
	w := &pdfWriter{}
	w.header()
	w.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	w.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	w.obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 4 0 R >> >> /Contents 5 0 R >>")
	w.stream(4, fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /DCTDecode ", width, height), string(jpeg))
	w.stream(5, "", "q 612 0 0 792 0 0 cm /Im1 Do Q")
	return w.finish()
}

// BrokenPDF has a valid header and nothing parseable after it.
func BrokenPDF() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R\nthis is not a pdf\n")
}

// PNG returns a small grayscale PNG.
func PNG(width, height int) []byte {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, height/2, color.White)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG returns a small grayscale JPEG.
func JPEG(width, height int) []byte {
	img := image.NewGray(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type pdfWriter struct {
	b       strings.Builder
	offsets map[int]int
	max     int
}

func (w *pdfWriter) header() {
	w.offsets = make(map[int]int)
	w.b.WriteString("%PDF-1.4\n")
}

func (w *pdfWriter) obj(num int, body string) {
	w.offsets[num] = w.b.Len()
	if num > w.max {
		w.max = num
	}
	fmt.Fprintf(&w.b, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (w *pdfWriter) stream(num int, dict, data string) {
	w.offsets[num] = w.b.Len()
	if num > w.max {
		w.max = num
	}
	fmt.Fprintf(&w.b, "%d 0 obj\n<< %s/Length %d >>\nstream\n%s\nendstream\nendobj\n", num, dict, len(data), data)
}

func (w *pdfWriter) finish() []byte {
	xref := w.b.Len()
	fmt.Fprintf(&w.b, "xref\n0 %d\n0000000000 65535 f \n", w.max+1)
	for i := 1; i <= w.max; i++ {
		fmt.Fprintf(&w.b, "%010d 00000 n \n", w.offsets[i])
	}
	fmt.Fprintf(&w.b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", w.max+1, xref)
	return []byte(w.b.String())
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	return strings.ReplaceAll(s, ")", `\)`)
}
