package normalize

import (
	"strings"

	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// DedupeHeadersFooters drops running headers and footers. A page's first
// non-empty line goes when it equals the first line of the previous or the
// next page; last lines likewise. Every page in a repeating run loses the
// line, the first page included. Single-page documents are returned as is.
func DedupeHeadersFooters(pages []entity.NormalizedPage) []entity.NormalizedPage {
	n := len(pages)
	if n < 2 {
		return pages
	}
	firsts := make([]string, n)
	lasts := make([]string, n)
	for i, p := range pages {
		firsts[i], lasts[i] = edgeLines(p.Text)
	}

	repeated := func(lines []string, i int) bool {
		if lines[i] == "" {
			return false
		}
		return (i > 0 && lines[i-1] == lines[i]) || (i < n-1 && lines[i+1] == lines[i])
	}

	out := make([]entity.NormalizedPage, n)
	for i, p := range pages {
		dropFirst := repeated(firsts, i)
		dropLast := repeated(lasts, i)
		if dropFirst || dropLast {
			p.Text = dropEdges(p.Text, dropFirst, dropLast)
		}
		out[i] = p
	}
	return out
}

func edgeLines(text string) (first, last string) {
	lines := strings.Split(text, "\n")
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln != "" {
			first = ln
			break
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if ln := strings.TrimSpace(lines[i]); ln != "" {
			last = ln
			break
		}
	}
	return first, last
}

func dropEdges(text string, first, last bool) string {
	lines := strings.Split(text, "\n")
	if first {
		for i, ln := range lines {
			if strings.TrimSpace(ln) != "" {
				lines = append(lines[:i], lines[i+1:]...)
				break
			}
		}
	}
	if last {
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				lines = append(lines[:i], lines[i+1:]...)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}
