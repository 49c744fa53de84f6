package search

import "github.com/hyperjump/kotae/pkg/utils"

// SnippetLength is the number of characters of a source shown in responses.
const SnippetLength = 200

// Snippet returns the first SnippetLength characters of text, with "..." appended
// when it was cut.
func Snippet(text string) string {
	return utils.Truncate(text, SnippetLength)
}
