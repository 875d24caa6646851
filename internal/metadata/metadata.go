// Package metadata aggregates per-document facts from finished pages.
package metadata

import (
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// Collect aggregates finished pages. It has no side effects.
func Collect(pages []entity.NormalizedPage, doc *entity.RawDocument, started, finished time.Time) entity.DocumentMetadata {
	md := entity.DocumentMetadata{
		PageCount:    len(pages),
		MethodCounts: make(map[constants.Method]int, len(constants.AllMethods)),
		DurationMS:   finished.Sub(started).Milliseconds(),
		StartedAt:    started,
		FinishedAt:   finished,
		FailedPages:  []int{},
		Language:     language.Und.String(),
	}
	if doc != nil {
		md.SourceFormat = doc.Format
		md.ByteSize = len(doc.Bytes)
	}
	for _, m := range constants.AllMethods {
		md.MethodCounts[m] = 0
	}

	var sum float64
	var counted int
	var all strings.Builder
	for _, p := range pages {
		md.MethodCounts[p.Method]++
		if p.Skipped() {
			continue // no text asked for, not part of the mean
		}
		counted++
		if p.Failed() {
			md.FailedPages = append(md.FailedPages, p.Index)
			continue // contributes 0
		}
		sum += p.Confidence
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(p.Text)
	}
	if counted > 0 {
		md.MeanConfidence = sum / float64(counted)
	}
	md.Language = GuessLanguage(all.String()).String()
	return md
}
