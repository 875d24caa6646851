package metadata

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// minWords is how many words a text needs before a guess is attempted.
const minWords = 5

// minShare is the fraction of words that must be stop words of the winner.
const minShare = 0.08

var stopWords = map[language.Tag][]string{
	language.English:    {"the", "and", "of", "to", "in", "is", "that", "for", "it", "with", "as", "was", "on", "are", "this", "be", "by", "not", "or", "from"},
	language.French:     {"le", "la", "les", "de", "des", "et", "est", "un", "une", "du", "en", "que", "qui", "dans", "pour", "pas", "sur", "au", "avec", "ce"},
	language.German:     {"der", "die", "das", "und", "ist", "nicht", "ein", "eine", "zu", "den", "mit", "von", "sich", "des", "auf", "für", "im", "dem", "auch", "es"},
	language.Spanish:    {"el", "la", "los", "las", "de", "y", "que", "en", "un", "una", "es", "por", "con", "para", "del", "no", "se", "al", "lo", "como"},
	language.Italian:    {"il", "di", "che", "e", "la", "per", "un", "una", "non", "sono", "del", "della", "con", "gli", "le", "da", "nel", "si", "anche", "come"},
	language.Portuguese: {"o", "os", "de", "e", "que", "do", "da", "em", "um", "uma", "para", "com", "não", "por", "mais", "as", "dos", "das", "como", "ao"},
	language.Dutch:      {"de", "het", "een", "en", "van", "is", "dat", "op", "te", "zijn", "niet", "met", "voor", "die", "ook", "aan", "er", "maar", "om", "bij"},
}

// candidates fixes the scoring order so ties resolve the same way every run.
var candidates = []language.Tag{
	language.English, language.French, language.German, language.Spanish,
	language.Italian, language.Portuguese, language.Dutch,
}

var stopIndex = buildStopIndex()

func buildStopIndex() map[string][]language.Tag {
	idx := make(map[string][]language.Tag)
	for _, tag := range candidates {
		for _, w := range stopWords[tag] {
			idx[w] = append(idx[w], tag)
		}
	}
	return idx
}

// GuessLanguage scores text against small stop-word lists and returns the
// best match, or language.Und when the text is too short or matches nothing
// convincingly.
func GuessLanguage(text string) language.Tag {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) < minWords {
		return language.Und
	}
	scores := make(map[language.Tag]int, len(candidates))
	for _, w := range words {
		for _, tag := range stopIndex[w] {
			scores[tag]++
		}
	}
	best, bestScore := language.Und, 0
	for _, tag := range candidates {
		if scores[tag] > bestScore {
			best, bestScore = tag, scores[tag]
		}
	}
	if float64(bestScore)/float64(len(words)) < minShare {
		return language.Und
	}
	return best
}
