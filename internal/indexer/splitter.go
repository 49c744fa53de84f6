package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Splitter breaks normalized text into sentences.
type Splitter interface {
	Split(text string) []string
}

// HeuristicSplitter ends a sentence at '.', '!' or '?' when it is followed by
// whitespace and then an ASCII uppercase letter. Abbreviations such as "Dr. Smith"
// are split too; callers needing better boundaries can supply another Splitter.
type HeuristicSplitter struct{}

// Split returns trimmed, non-empty sentences in order.
func (HeuristicSplitter) Split(text string) []string {
	var sentences []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r != '.' && r != '!' && r != '?' {
			i += size
			continue
		}
		// Boundary: terminator, whitespace run, uppercase letter.
		j := i + size
		k := j
		for k < len(text) {
			sr, ssize := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(sr) {
				break
			}
			k += ssize
		}
		if k > j && k < len(text) && text[k] >= 'A' && text[k] <= 'Z' {
			sentences = appendSentence(sentences, text[start:j])
			start = k
			i = k
			continue
		}
		i = j
	}
	return appendSentence(sentences, text[start:])
}

func appendSentence(sentences []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return sentences
	}
	return append(sentences, s)
}
