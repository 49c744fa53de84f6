package extract

import (
	"html"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wpTag matches a whole paragraph, with or without attributes.
	wpTag = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// wtTag matches <w:t>text</w:t> or <w:t xml:space="preserve">text</w:t>.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

	// mainPartRe finds the main document part in [Content_Types].xml, in either attribute order.
	mainPartRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"` +
		`|<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainPart returns the main document path (without leading slash) declared in
// [Content_Types].xml, or the conventional word/document.xml.
func docxMainPart(types []byte) string {
	m := mainPartRe.FindSubmatch(types)
	if m == nil {
		return docxDocumentXMLPath
	}
	part := string(m[1])
	if part == "" {
		part = string(m[2])
	}
	return strings.TrimPrefix(part, "/")
}

// extractDOCX returns the text of each non-empty paragraph, separated by blank lines.
// Runs inside a paragraph are concatenated as Word stores them.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	types, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return "", err
	}
	docPath := docxMainPart(types)
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return "", err
	}
	if docXML == nil {
		return "", errorf("DOCX", "%s not found", docPath)
	}

	var paragraphs []string
	for _, p := range wpTag.FindAll(docXML, -1) {
		var b strings.Builder
		for _, run := range wtTag.FindAllSubmatch(p, -1) {
			b.WriteString(html.UnescapeString(string(run[1])))
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
