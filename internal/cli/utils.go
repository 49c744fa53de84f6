// Package cli formats Kotae results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per item.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	snippetLength = 200
	rule          = "─────────────────────────────────────────────────────────"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a chat answer and its sources.
func WriteAnswer(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", resp.ConversationID, resp.Confidence, oneLine(resp.Answer))
		return nil
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Answer)
	fmt.Fprintf(w, "confidence: %.2f   conversation: %s\n", resp.Confidence, resp.ConversationID)
	if len(resp.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nSources:")
	for i, src := range resp.Sources {
		fmt.Fprintf(w, "  [%d] %s (chunk %d, score %.3f)\n", i+1, src.Metadata.Filename, src.Metadata.ChunkIndex, src.Score)
	}
	return nil
}

// WriteSearchResults writes retrieval results in the given format.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%.4f\t%s\t%s\n", r.Score, r.Filename(), utils.Truncate(oneLine(r.Text), 80))
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (confidence %.2f)\n\n", len(resp.Results), resp.QueryTime, resp.Confidence)
	for i, r := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, r.Score)
		fmt.Fprintf(w, "File: %s\n", r.Filename())
		if id, ok := r.Metadata["document_id"].(string); ok {
			fmt.Fprintf(w, "Document: %s\n", id)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, snippetLength))
	}
	return nil
}

// WriteDocuments writes the document registry listing.
func WriteDocuments(w io.Writer, docs []*models.DocumentInfo, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if docs == nil {
			docs = []*models.DocumentInfo{}
		}
		return writeJSON(w, models.DocumentList{Documents: docs, TotalCount: len(docs)})
	case OutputCompact:
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%d\n", d.DocumentID, d.Filename, d.ChunkCount)
		}
		return nil
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents indexed.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %-8s %-6s %-20s %s\n", "ID", "TYPE", "CHUNKS", "UPLOADED", "FILENAME")
	for _, d := range docs {
		fmt.Fprintf(w, "%-24s %-8s %-6d %-20s %s\n",
			d.DocumentID, d.DocumentType, d.ChunkCount, d.UploadDate.Format("2006-01-02 15:04:05"), d.Filename)
	}
	fmt.Fprintf(w, "\n%d document(s)\n", len(docs))
	return nil
}

// WriteStatus writes index and configuration status.
func WriteStatus(w io.Writer, status *server.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "documents:          %d   # registered documents\n", status.Documents)
	fmt.Fprintf(w, "vectors:            %d   # chunks in the similarity index\n", status.Vectors)
	fmt.Fprintf(w, "dimension:          %d\n", status.Dimension)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", status.DiskUsageBytes)
	for _, u := range status.DiskUsage {
		fmt.Fprintf(w, "  %-16s  %d  %s\n", u.Label, u.Bytes, u.Path)
	}
	c := status.Config
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "vector_store:       %s\n", c.VectorStore)
	fmt.Fprintf(w, "registry:           %s\n", c.Registry)
	fmt.Fprintf(w, "conversations:      %s\n", c.Conversations)
	fmt.Fprintf(w, "embedding:          %s/%s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingModel, c.EmbeddingDimensions)
	fmt.Fprintf(w, "llm:                %s/%s\n", c.LLMProvider, c.LLMModel)
	fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:      %d\n", c.ChunkOverlap)
	fmt.Fprintf(w, "top_k:              %d\n", c.TopK)
	fmt.Fprintf(w, "similarity_threshold: %.2f\n", c.SimilarityThreshold)
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
