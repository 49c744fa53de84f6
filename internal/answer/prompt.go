package answer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const truncatedMarker = "...[truncated]"

const instructions = `You are an assistant that answers questions about the documents in this collection: the author's background, research, projects, experience, and skills.

Guidelines:
1. Answer accurately using ONLY the information from the provided context
2. If the answer is not in the context, politely say "I don't have that information in the available documents"
3. Be concise but comprehensive
4. Cite specific details when available (e.g., dates, project names, institutions)
5. Maintain a professional, academic tone
6. If asked about unrelated topics, politely redirect to what the documents cover`

// BuildContext renders results as numbered source blocks. Output longer than
// maxLen characters is cut and marked as truncated; maxLen <= 0 disables the cut.
func BuildContext(results []models.RetrievalResult, maxLen int) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, r.Filename(), r.Text)
	}
	context := strings.Join(parts, "\n")
	if cut := utils.Cut(context, maxLen); len(cut) < len(context) {
		return cut + truncatedMarker
	}
	return context
}

// BuildPrompt combines the fixed instructions, the retrieved context and the question.
func BuildPrompt(context, query string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nContext from documents:\n")
	b.WriteString(context)
	b.WriteString("\n\nUser Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}
