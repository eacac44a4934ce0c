// ABOUTME: Sentence splitting for the semantic chunker
// ABOUTME: Rule-based boundary detection that survives abbreviations and decimals
package chunker

import (
	"strings"
	"unicode"
)

// abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"approx": true, "dept": true, "fig": true, "vol": true, "no": true,
	"e.g": true, "i.e": true, "cf": true,
}

// SplitSentences splits text into sentences. Paragraph breaks always end a
// sentence; '.', '!', '?' end one only when followed by whitespace, so
// decimals like 3.14 never split. Abbreviations like "Dr." are kept intact.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		// Paragraph break is always a boundary.
		if r == '\n' {
			j := i
			for j < len(runes) && (runes[j] == '\n' || runes[j] == '\r') {
				j++
			}
			if j-i > 1 {
				flush()
				i = j - 1
				continue
			}
			current.WriteRune(' ')
			continue
		}

		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Terminator must be followed by whitespace or end of text.
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && isAbbreviation(current.String()) {
			continue
		}
		flush()
	}
	flush()

	return sentences
}

// isAbbreviation reports whether the text ends in a known abbreviation
// (including its trailing period).
func isAbbreviation(text string) bool {
	trimmed := strings.TrimSuffix(text, ".")
	idx := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	word := strings.ToLower(trimmed[idx+1:])
	return abbreviations[word]
}
