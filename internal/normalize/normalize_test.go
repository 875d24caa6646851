package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/ocr"
)

func TestClean(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"dehyphenate", "an exam-\nple of text", "an example of text"},
		{"dehyphenate with trailing space", "exam- \n  ple", "example"},
		{"keep hyphen before uppercase", "North-\nEast", "North-\nEast"},
		{"keep hyphen before digit", "pages 10-\n20", "pages 10-\n20"},
		{"keep dash bullet", "items:\n- one", "items:\n- one"},
		{"chained wraps", "a-\nb-\nc", "abc"},
		{"crlf", "one\r\ntwo\rthree", "one\ntwo\nthree"},
		{"tabs and runs", "a\t\tb    c", "a b c"},
		{"control chars", "a\x00b\x07c\u200bd\u00ade", "abcde"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trim lines", "  a  \n   b   ", "a\nb"},
		{"nfc", "e\u0301", "\u00e9"},
		{"nbsp", "a\u00a0b", "a b"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clean(tc.in); got != tc.want {
				t.Fatalf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"a-\nb-\nc  d\t\te\r\n\r\n\r\n\r\nf",
		"e\u200b\u0301 exam-\n\nple",
		"  Confidential Draft  \n\n\n body text -\nhere ",
	}
	for _, in := range inputs {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestPrintableRatio(t *testing.T) {
	if PrintableRatio("") != 1 {
		t.Fatal("empty text should be fully printable")
	}
	if got := PrintableRatio("ab\ufffd\ue000"); got != 0.5 {
		t.Fatalf("PrintableRatio = %f, want 0.5", got)
	}
}

var opts = MergeOptions{MinChars: 10, ConfidenceFloor: 0.5}

func TestMerge(t *testing.T) {
	ocrRes := func(text string, conf float64) *entity.OCRResult {
		return &entity.OCRResult{Text: text, Confidence: conf, Engine: "fake"}
	}
	cases := []struct {
		name       string
		page       entity.Page
		wantMethod constants.Method
		wantText   string
	}{
		{
			name:       "enough vector text",
			page:       entity.Page{VectorText: "1234567890", OCR: ocrRes("ignored", 0.99)},
			wantMethod: constants.MethodVector,
			wantText:   "1234567890",
		},
		{
			name:       "ocr only",
			page:       entity.Page{OCR: ocrRes("scanned words", 0.8)},
			wantMethod: constants.MethodOCR,
			wantText:   "scanned words",
		},
		{
			name:       "low confidence ocr on empty vector is still ocr",
			page:       entity.Page{OCR: ocrRes("faint", 0.1)},
			wantMethod: constants.MethodOCR,
			wantText:   "faint",
		},
		{
			name:       "confident ocr covering fragment",
			page:       entity.Page{VectorText: "Page 3", OCR: ocrRes("Chapter one\npage   3", 0.9)},
			wantMethod: constants.MethodOCR,
			wantText:   "Chapter one\npage   3",
		},
		{
			name:       "fragment not in ocr",
			page:       entity.Page{VectorText: "Page 3", OCR: ocrRes("Chapter one", 0.9)},
			wantMethod: constants.MethodHybrid,
			wantText:   "Page 3\nChapter one",
		},
		{
			name:       "unconfident ocr with fragment",
			page:       entity.Page{VectorText: "Page 3", OCR: ocrRes("Page 3 Chapter one", 0.3)},
			wantMethod: constants.MethodHybrid,
			wantText:   "Page 3\nPage 3 Chapter one",
		},
		{
			name:       "fragment and failed ocr",
			page:       entity.Page{VectorText: "Page 3", Err: &common.OCRFailure{Engine: "fake", Cause: errors.New("x")}},
			wantMethod: constants.MethodExtractionFailed,
		},
		{
			name:       "fragment with ocr disabled",
			page:       entity.Page{VectorText: "Page 3", Err: &common.OCRFailure{Engine: "none", Cause: ocr.ErrDisabled}},
			wantMethod: constants.MethodVector,
			wantText:   "Page 3",
		},
		{
			name:       "fragment without an image",
			page:       entity.Page{VectorText: "Page 3"},
			wantMethod: constants.MethodVector,
			wantText:   "Page 3",
		},
		{
			name:       "blank ocr",
			page:       entity.Page{OCR: ocrRes("  \n ", 0.9)},
			wantMethod: constants.MethodExtractionFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(&tc.page, opts)
			if got.Method != tc.wantMethod {
				t.Fatalf("Method = %s, want %s", got.Method, tc.wantMethod)
			}
			if got.Text != tc.wantText {
				t.Fatalf("Text = %q, want %q", got.Text, tc.wantText)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Fatalf("Confidence = %f out of range", got.Confidence)
			}
		})
	}
}

func TestMergeConfidence(t *testing.T) {
	frag := Merge(&entity.Page{VectorText: "abcde"}, opts)
	if frag.Confidence != 0.5 {
		t.Fatalf("degraded vector confidence = %f, want 0.5", frag.Confidence)
	}
	hy := Merge(&entity.Page{
		VectorText: "abcde",
		OCR:        &entity.OCRResult{Text: "fghijklmnopqrst", Confidence: 0.6},
	}, opts)
	// 5 vector chars at 1.0 and 15 ocr chars at 0.6
	if want := (5*1.0 + 15*0.6) / 20; hy.Confidence < want-1e-9 || hy.Confidence > want+1e-9 {
		t.Fatalf("hybrid confidence = %f, want %f", hy.Confidence, want)
	}
}

func TestMergeFailureMarker(t *testing.T) {
	decodeErr := &common.PageDecodeError{Page: 2, Cause: errors.New("bad stream")}
	got := Merge(&entity.Page{Index: 2, Err: decodeErr}, opts)
	if got.Method != constants.MethodExtractionFailed || got.Text != "" || got.Confidence != 0 {
		t.Fatalf("unexpected failed page: %+v", got)
	}
	if got.Failure == nil || got.Failure.Stage != constants.StageDecode {
		t.Fatalf("Failure = %+v, want decode stage", got.Failure)
	}

	ocrErr := &common.OCRFailure{Page: 1, Engine: "fake", Timeout: true}
	got = Merge(&entity.Page{Index: 1, Err: ocrErr}, opts)
	if got.Failure == nil || got.Failure.Stage != constants.StageOCR || !strings.Contains(got.Failure.Message, "timed out") {
		t.Fatalf("Failure = %+v, want ocr timeout", got.Failure)
	}
}

func TestMergeFragmentWithFailedOCRIsMarked(t *testing.T) {
	ocrErr := &common.OCRFailure{Page: 0, Engine: "fake", Cause: errors.New("engine crashed")}
	got := Merge(&entity.Page{VectorText: "abc", Err: ocrErr}, opts)
	if !got.Failed() || got.Text != "" || got.Confidence != 0 {
		t.Fatalf("page = %+v, want failure marker", got)
	}
	if got.Failure == nil || got.Failure.Stage != constants.StageOCR || !strings.Contains(got.Failure.Message, "engine crashed") {
		t.Fatalf("Failure = %+v, want ocr stage", got.Failure)
	}
}

func TestSkipped(t *testing.T) {
	got := Skipped(&entity.Page{Index: 3, VectorText: "ignored"})
	if !got.Skipped() || got.Text != "" || got.Failure != nil || got.Index != 3 {
		t.Fatalf("page = %+v, want skipped", got)
	}
	got = Skipped(&entity.Page{Index: 1, Err: &common.PageDecodeError{Page: 1, Cause: errors.New("bad stream")}})
	if !got.Failed() || got.Failure.Stage != constants.StageDecode {
		t.Fatalf("page = %+v, want decode failure", got)
	}
}

func TestDedupeRemovesRepeatedHeaderOnAllPages(t *testing.T) {
	pages := []entity.NormalizedPage{
		{Index: 0, Text: "Confidential Draft\nIntroduction text\n1"},
		{Index: 1, Text: "Confidential Draft\nMethods text\n2"},
		{Index: 2, Text: "Confidential Draft\nResults text\n3"},
	}
	got := NewNormalizer(nil).Document(pages)
	for i, p := range got {
		if strings.Contains(p.Text, "Confidential Draft") {
			t.Errorf("page %d still has header: %q", i, p.Text)
		}
	}
	if got[0].Text != "Introduction text\n1" {
		t.Errorf("page 0 = %q", got[0].Text)
	}
	if pages[0].Text != "Confidential Draft\nIntroduction text\n1" {
		t.Error("input pages were modified")
	}
}

func TestDedupeFooterAndNeighboursOnly(t *testing.T) {
	pages := []entity.NormalizedPage{
		{Text: "Alpha\nbody a\nACME Corp"},
		{Text: "Beta\nbody b\nACME Corp"},
		{Text: "Alpha\nbody c\nother footer"},
	}
	got := DedupeHeadersFooters(pages)
	if got[0].Text != "Alpha\nbody a" || got[1].Text != "Beta\nbody b" {
		t.Fatalf("footers not removed: %q / %q", got[0].Text, got[1].Text)
	}
	// "Alpha" repeats on pages 0 and 2, which are not neighbours
	if got[2].Text != "Alpha\nbody c\nother footer" {
		t.Fatalf("page 2 = %q", got[2].Text)
	}
}

func TestDedupeSinglePage(t *testing.T) {
	pages := []entity.NormalizedPage{{Text: "Confidential Draft\nbody\nConfidential Draft"}}
	got := DedupeHeadersFooters(pages)
	if got[0].Text != pages[0].Text {
		t.Fatalf("single page changed: %q", got[0].Text)
	}
}

func TestDocumentMarksPageEmptiedByDedup(t *testing.T) {
	pages := []entity.NormalizedPage{
		{Index: 0, Text: "ACME Annual Report\nOpening remarks", Method: constants.MethodVector, Confidence: 1},
		{Index: 1, Text: "ACME Annual Report", Method: constants.MethodVector, Confidence: 1},
		{Index: 2, Text: "ACME Annual Report\nClosing remarks", Method: constants.MethodVector, Confidence: 1},
	}
	got := NewNormalizer(nil).Document(pages)
	if got[0].Text != "Opening remarks" || got[0].Method != constants.MethodVector {
		t.Fatalf("page 0 = %+v", got[0])
	}
	mid := got[1]
	if !mid.Failed() || mid.Text != "" || mid.Confidence != 0 {
		t.Fatalf("page 1 = %+v, want failure marker", mid)
	}
	if mid.Failure == nil || mid.Failure.Stage != constants.StageNormalize {
		t.Fatalf("Failure = %+v, want normalize stage", mid.Failure)
	}
}

func TestDocumentLeavesSkippedPagesAlone(t *testing.T) {
	pages := []entity.NormalizedPage{{Index: 0, Method: constants.MethodSkipped}}
	got := NewNormalizer(nil).Document(pages)
	if !got[0].Skipped() || got[0].Failure != nil {
		t.Fatalf("page = %+v", got[0])
	}
}
