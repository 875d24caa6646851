package ocr

import (
	"strings"
	"unicode"
)

// heuristicConfidence scores recognized text by how word-like it looks.
// OCR noise on a blank or photographic region comes out as short runs of
// punctuation and stray letters, which score low here.
func heuristicConfidence(txt string) float64 {
	words := strings.Fields(txt)
	if len(words) == 0 {
		return 0
	}
	wordlike := 0
	for _, w := range words {
		if isWordlike(w) {
			wordlike++
		}
	}
	score := 0.2 + 0.6*float64(wordlike)/float64(len(words))
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// isWordlike: at least two runes, mostly letters or digits.
func isWordlike(w string) bool {
	total, good := 0, 0
	for _, r := range w {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			good++
		}
	}
	return total >= 2 && good*10 >= total*7
}

// blendConfidence weights the engine's own score over the text heuristic
// when the engine reported one.
func blendConfidence(engineConf float64, txt string) float64 {
	heur := heuristicConfidence(txt)
	if engineConf <= 0 {
		return heur
	}
	conf := 0.7*engineConf + 0.3*heur
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
