package extract

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// slideName matches ppt/slides/slideN.xml and captures N.
var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t>.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX returns slide text in slide order, one slide per paragraph.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return "", errorf("PPTX", "%v", err)
		}
		var parts []string
		for _, p := range atTag.FindAllSubmatch(data, -1) {
			if t := strings.TrimSpace(html.UnescapeString(string(p[1]))); t != "" {
				parts = append(parts, t)
			}
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, text: strings.Join(parts, " ")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var out []string
	for _, s := range slides {
		if s.text != "" {
			out = append(out, s.text)
		}
	}
	return strings.Join(out, "\n\n"), nil
}
