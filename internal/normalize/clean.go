// Package normalize merges vector and OCR text per page and cleans it into
// the canonical form handed to callers.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	// a letter, a hyphen ending the line, and a lowercase continuation
	reHyphenWrap = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
)

// Clean canonicalizes page text. It is idempotent.
func Clean(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = stripControl(s)
	s = norm.NFC.String(s)
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = trimLines(s)
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	// matches cannot overlap, so "a-\nb-\nc" needs a second pass
	for reHyphenWrap.MatchString(s) {
		s = reHyphenWrap.ReplaceAllString(s, "$1$2")
	}
	return strings.TrimSpace(s)
}

// stripControl drops control and format runes, keeps newlines and turns
// every other whitespace rune (tab, nbsp, form feed) into a space.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		case r == unicode.ReplacementChar, r >= 0xE000 && r <= 0xF8FF:
			return -1
		}
		return r
	}, s)
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "\n")
}

// collapseBlank re-applies the blank-line rule after lines were removed.
func collapseBlank(s string) string {
	return strings.TrimSpace(reMultiBlank.ReplaceAllString(s, "\n\n"))
}

// PrintableRatio is the share of runes that are printable and not
// replacement, private-use or stray control characters. Empty text is 1.
func PrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == unicode.ReplacementChar {
		return true
	}
	// Control chars except whitespace
	return r < 0x0020 && r != '\n' && r != '\r' && r != '\t'
}
