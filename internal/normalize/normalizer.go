package normalize

import (
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// Normalizer finishes a document's pages: clean, dedupe, re-trim.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Document cleans every page, removes running headers and footers, and
// re-trims. Failed pages stay empty. A page left with no text once cleaning
// and dedup are done is re-marked extraction_failed at the normalize stage.
// The input slice is not modified.
func (n *Normalizer) Document(pages []entity.NormalizedPage) []entity.NormalizedPage {
	out := make([]entity.NormalizedPage, len(pages))
	for i, p := range pages {
		p.Text = Clean(p.Text)
		out[i] = p
	}

	out = DedupeHeadersFooters(out)

	emptied := 0
	for i := range out {
		out[i].Text = collapseBlank(out[i].Text)
		if out[i].Failed() || out[i].Skipped() || strings.TrimSpace(out[i].Text) != "" {
			continue
		}
		n.logger.Debug("normalize.page.emptied", "page", out[i].Index, "method", out[i].Method)
		out[i].Text = ""
		out[i].Method = constants.MethodExtractionFailed
		out[i].Confidence = 0
		out[i].Failure = &entity.PageFailure{Stage: constants.StageNormalize, Message: "no text left after cleanup"}
		emptied++
	}
	n.logger.Debug("normalize.document.done", "pages", len(out), "emptied", emptied)
	return out
}
