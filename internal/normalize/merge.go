package normalize

import (
	"errors"
	"strings"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/ocr"
)

// MergeOptions are the thresholds Merge decides with.
type MergeOptions struct {
	MinChars        int     // vector text below this many non-whitespace runes is not trusted alone
	ConfidenceFloor float64 // OCR at or above this may replace a vector fragment
}

// Merge picks the text for one page from its vector text and OCR result.
//
//  1. enough vector text: vector, confidence is its printable ratio
//  2. no usable OCR: extraction_failed when OCR was attempted and failed or
//     there is no vector text; otherwise the vector fragment, confidence
//     scaled down by how far short of MinChars it is
//  3. OCR and no vector text: ocr
//  4. OCR and a vector fragment: ocr when confident and the OCR already
//     contains the fragment, hybrid otherwise
func Merge(p *entity.Page, opts MergeOptions) entity.NormalizedPage {
	out := entity.NormalizedPage{Index: p.Index}
	vec := p.VectorText
	chars := ocr.CountChars(vec)

	if chars > 0 && !ocr.NeedsOCR(vec, opts.MinChars) {
		out.Text = vec
		out.Method = constants.MethodVector
		out.Confidence = PrintableRatio(vec)
		return out
	}

	usable := p.OCR != nil && strings.TrimSpace(p.OCR.Text) != ""
	if !usable {
		if chars == 0 || ocrFailed(p.Err) {
			return failed(p)
		}
		out.Text = vec
		out.Method = constants.MethodVector
		out.Confidence = PrintableRatio(vec) * float64(chars) / float64(opts.MinChars)
		return out
	}

	ocrText := p.OCR.Text
	if chars == 0 {
		out.Text = ocrText
		out.Method = constants.MethodOCR
		out.Confidence = p.OCR.Confidence
		return out
	}

	if p.OCR.Confidence >= opts.ConfidenceFloor && covers(ocrText, vec) {
		out.Text = ocrText
		out.Method = constants.MethodOCR
		out.Confidence = p.OCR.Confidence
		return out
	}

	ocrChars := ocr.CountChars(ocrText)
	out.Text = vec + "\n" + ocrText
	out.Method = constants.MethodHybrid
	out.Confidence = (float64(chars)*PrintableRatio(vec) + float64(ocrChars)*p.OCR.Confidence) /
		float64(chars+ocrChars)
	return out
}

// Skipped is the page for a document processed without text extraction. A
// page that could not be decoded still gets its failure marker.
func Skipped(p *entity.Page) entity.NormalizedPage {
	var pde *common.PageDecodeError
	if errors.As(p.Err, &pde) {
		return failed(p)
	}
	return entity.NormalizedPage{Index: p.Index, Method: constants.MethodSkipped}
}

// ocrFailed reports whether err records an OCR attempt that failed. A
// disabled engine never attempted anything.
func ocrFailed(err error) bool {
	return errors.Is(err, common.ErrOCRFailure) && !errors.Is(err, ocr.ErrDisabled)
}

// failed builds the marker page: empty text, confidence 0, and the stage
// that lost the text.
func failed(p *entity.Page) entity.NormalizedPage {
	f := &entity.PageFailure{Stage: constants.StageNormalize, Message: "no extractable text"}
	var pde *common.PageDecodeError
	var ocrf *common.OCRFailure
	switch {
	case errors.As(p.Err, &pde):
		f.Stage, f.Message = constants.StageDecode, pde.Error()
	case errors.As(p.Err, &ocrf):
		f.Stage, f.Message = constants.StageOCR, ocrf.Error()
	case p.Err != nil:
		f.Message = p.Err.Error()
	}
	return entity.NormalizedPage{
		Index:   p.Index,
		Method:  constants.MethodExtractionFailed,
		Failure: f,
	}
}

// covers reports whether the vector fragment already appears in the OCR
// text, ignoring case and whitespace layout.
func covers(ocrText, fragment string) bool {
	return strings.Contains(fold(ocrText), fold(fragment))
}

func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
