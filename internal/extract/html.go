package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlockSelector = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, article, header, footer, blockquote, pre"

// extractHTML returns the visible text of an HTML page. Scripts, styles and
// navigation chrome are removed and block elements end on a new line.
func extractHTML(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", errorf("HTML", "%v", err)
	}
	doc.Find("script, style, noscript, template, nav").Remove()
	doc.Find(htmlBlockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var parts []string
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		parts = append(parts, title)
	}
	doc.Find("head").Remove()
	if body := strings.TrimSpace(doc.Find("body").Text()); body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n"), nil
}
