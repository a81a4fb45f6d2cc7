package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractHTML strips scripts, styles and markup from an HTML body and
// returns the visible text plus the document title. A body goquery cannot
// parse degrades to the raw bytes as text.
func extractHTML(body []byte) (text, title string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body), ""
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript").Remove()
	text = collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}

	return text, title
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
