// ABOUTME: HTML utilities for deriving plain text and images from article markup
// ABOUTME: Parses with goquery so entities and nested markup are handled properly

package html

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockElements get a line break after them so paragraphs stay separated
const blockElements = "p, div, br, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr"

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script, style and template content is dropped.
func StripHTML(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return collapse(doc.Text())
}

// collapse squeezes runs of spaces within lines and drops empty lines
func collapse(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// FirstImage returns the src of the first image in markup, or ""
func FirstImage(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
