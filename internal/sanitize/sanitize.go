// Package sanitize converts untrusted evidence text into bounded, redacted
// excerpts. Source URLs are replaced with a marker before text reaches any
// downstream consumer, generative or otherwise.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// RedactionMarker replaces every http(s) URL found in untrusted text.
	RedactionMarker = "[url-redacted]"

	// LLMExcerptLimit bounds the excerpt handed to generative consumers.
	LLMExcerptLimit = 1200

	// SnapshotExcerptLimit bounds the excerpt stored in enrichment metadata.
	SnapshotExcerptLimit = 2000
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Clean strips NUL bytes and redacts every URL in the input.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	return urlPattern.ReplaceAllString(text, RedactionMarker)
}

// Truncate bounds text to at most limit bytes, backing up to the nearest
// rune boundary so a multi-byte character is never split.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// ExcerptInput carries the evidence fields an excerpt is assembled from.
// Fields are concatenated in declaration order so excerpts are deterministic.
type ExcerptInput struct {
	Title    string
	Summary  string
	Content  string
	Snapshot string
}

// Excerpts holds the two bounded excerpts produced for different consumers.
type Excerpts struct {
	LLM      string `json:"llm"`
	Snapshot string `json:"snapshot"`
}

// BuildExcerpts cleans and joins the input fields, then produces both the
// short LLM excerpt and the longer snapshot excerpt.
func BuildExcerpts(in ExcerptInput) Excerpts {
	var parts []string
	for _, field := range []string{in.Title, in.Summary, in.Content, in.Snapshot} {
		cleaned := strings.TrimSpace(Clean(field))
		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	joined := strings.Join(parts, "\n\n")

	return Excerpts{
		LLM:      Truncate(joined, LLMExcerptLimit),
		Snapshot: Truncate(joined, SnapshotExcerptLimit),
	}
}
