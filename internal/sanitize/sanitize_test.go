package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestClean_StripsNulBytes verifies NUL bytes are removed.
func TestClean_StripsNulBytes(t *testing.T) {
	got := Clean("abc\x00def\x00")
	if got != "abcdef" {
		t.Errorf("expected NUL bytes stripped, got %q", got)
	}
}

// TestClean_RedactsURLs verifies every http(s) URL is replaced with the
// redaction marker, including multiple URLs in one string.
func TestClean_RedactsURLs(t *testing.T) {
	in := "see https://evil.example/exfil?q=1 and http://other.test/x for details"
	got := Clean(in)

	if strings.Contains(got, "evil.example") || strings.Contains(got, "other.test") {
		t.Errorf("URLs should be redacted, got %q", got)
	}
	if strings.Count(got, RedactionMarker) != 2 {
		t.Errorf("expected 2 redaction markers, got %q", got)
	}
}

// TestClean_PlainTextUntouched verifies text without URLs passes through.
func TestClean_PlainTextUntouched(t *testing.T) {
	in := "nothing suspicious here"
	if got := Clean(in); got != in {
		t.Errorf("plain text should be unchanged, got %q", got)
	}
}

// TestTruncate_Bounds verifies truncation behavior at and around the limit.
func TestTruncate_Bounds(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short text should be unchanged, got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello" {
		t.Errorf("expected truncation to 5 chars, got %q", got)
	}
	if got := Truncate("hello", 0); got != "hello" {
		t.Errorf("non-positive limit should disable truncation, got %q", got)
	}
}

// TestTruncate_RuneBoundary verifies a cap landing inside a multi-byte
// character backs up to the previous rune instead of emitting a broken
// trailing sequence.
func TestTruncate_RuneBoundary(t *testing.T) {
	// "héllo": é is two bytes, so byte index 2 splits it.
	got := Truncate("héllo", 2)
	if got != "h" {
		t.Errorf("expected cut before the split rune, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated text must stay valid UTF-8, got %q", got)
	}

	// A cap on a boundary keeps the whole rune.
	if got := Truncate("héllo", 3); got != "hé" {
		t.Errorf("expected full rune kept on boundary, got %q", got)
	}

	// Mixed multi-byte text never yields an invalid tail at any cap.
	text := "threat ⚠️ report — ransomware"
	for limit := 1; limit < len(text); limit++ {
		if out := Truncate(text, limit); !utf8.ValidString(out) {
			t.Fatalf("limit %d produced invalid UTF-8: %q", limit, out)
		}
	}
}

// TestBuildExcerpts_FieldOrder verifies fields appear in the fixed
// title, summary, content, snapshot order.
func TestBuildExcerpts_FieldOrder(t *testing.T) {
	ex := BuildExcerpts(ExcerptInput{
		Title:    "TITLE",
		Summary:  "SUMMARY",
		Content:  "CONTENT",
		Snapshot: "SNAPSHOT",
	})

	joined := ex.Snapshot
	order := []string{"TITLE", "SUMMARY", "CONTENT", "SNAPSHOT"}
	last := -1
	for _, part := range order {
		idx := strings.Index(joined, part)
		if idx < 0 {
			t.Fatalf("excerpt missing %q: %q", part, joined)
		}
		if idx < last {
			t.Errorf("field %q out of order in %q", part, joined)
		}
		last = idx
	}
}

// TestBuildExcerpts_EmptyFieldsSkipped verifies empty fields do not leave
// separator artifacts.
func TestBuildExcerpts_EmptyFieldsSkipped(t *testing.T) {
	ex := BuildExcerpts(ExcerptInput{Summary: "only summary"})
	if ex.LLM != "only summary" {
		t.Errorf("expected bare summary, got %q", ex.LLM)
	}
}

// TestBuildExcerpts_DifferentCaps verifies the two excerpts honor their
// respective limits for long input.
func TestBuildExcerpts_DifferentCaps(t *testing.T) {
	long := strings.Repeat("x", 5000)
	ex := BuildExcerpts(ExcerptInput{Content: long})

	if len(ex.LLM) != LLMExcerptLimit {
		t.Errorf("LLM excerpt should be capped at %d, got %d", LLMExcerptLimit, len(ex.LLM))
	}
	if len(ex.Snapshot) != SnapshotExcerptLimit {
		t.Errorf("snapshot excerpt should be capped at %d, got %d", SnapshotExcerptLimit, len(ex.Snapshot))
	}
}

// TestBuildExcerpts_RedactsBeforeTruncate verifies URLs inside any field are
// redacted in both excerpts.
func TestBuildExcerpts_RedactsBeforeTruncate(t *testing.T) {
	ex := BuildExcerpts(ExcerptInput{Content: "visit https://leak.example/token now"})
	if strings.Contains(ex.LLM, "leak.example") {
		t.Errorf("LLM excerpt should not contain raw URLs: %q", ex.LLM)
	}
}
