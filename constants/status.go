package constants

// DocumentState is the lifecycle state of a document inside the pipeline.
type DocumentState string

// Stable values (persisted as-is in the record store).
const (
	StateReceived    DocumentState = "RECEIVED"
	StateDecoding    DocumentState = "DECODING"
	StateExtracting  DocumentState = "EXTRACTING"
	StateNormalizing DocumentState = "NORMALIZING"
	StateComplete    DocumentState = "COMPLETE" // terminal
	StateFailed      DocumentState = "FAILED"   // terminal, detection only
)

// Terminal reports whether no further transition is possible.
func (s DocumentState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Method is how the text of a normalized page was obtained.
type Method string

const (
	MethodVector           Method = "vector"
	MethodOCR              Method = "ocr"
	MethodHybrid           Method = "hybrid"
	MethodExtractionFailed Method = "extraction_failed"
	MethodSkipped          Method = "skipped" // page text not requested
)

// AllMethods lists every Method in reporting order.
var AllMethods = []Method{MethodVector, MethodOCR, MethodHybrid, MethodExtractionFailed, MethodSkipped}

// Failure stages recorded on a page marker.
const (
	StageDecode    = "decode"
	StageOCR       = "ocr"
	StageNormalize = "normalize"
)
