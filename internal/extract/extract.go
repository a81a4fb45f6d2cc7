// Package extract pulls threat indicators out of evidence text with global
// regex scans. Extraction is pure and total: malformed candidates are
// dropped silently and identical input always yields identical output.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dtrinh/signalforge/internal/model"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	emailPattern = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,24}`)
	cvePattern   = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)

	// Word boundaries keep a longer hex run (e.g. 96 chars) from emitting
	// its 64/40/32-char prefixes as hashes.
	hashPattern = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b|\b[a-fA-F0-9]{40}\b|\b[a-fA-F0-9]{32}\b`)

	ipPattern     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	domainPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9-]+\.)+[a-z]{2,24}\b`)

	strictEmail  = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,24}$`)
	strictDomain = regexp.MustCompile(`^(?:[a-z0-9-]+\.)+[a-z]{2,24}$`)
)

// trimCutset removes the punctuation, quote and bracket characters that
// commonly cling to indicators embedded in prose.
const trimCutset = ".,;:!?'\"()[]{}<>` \t"

// Extract scans text and returns the de-duplicated indicator list, each row
// tagged with the provenance source. tenantID and evidenceID are stamped
// onto every indicator so rows are insert-ready.
func Extract(text string, source string, tenantID, evidenceID string) []model.Indicator {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []model.Indicator

	add := func(kind model.IndicatorKind, raw, normalized string) {
		if normalized == "" {
			return
		}
		key := string(kind) + "|" + normalized
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, model.Indicator{
			TenantID:        tenantID,
			EvidenceID:      evidenceID,
			Kind:            kind,
			Value:           raw,
			NormalizedValue: normalized,
			Source:          source,
		})
	}

	// URLs first; their hostnames are re-emitted as domains after the
	// domain scan below.
	var urlHosts []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		normalized, host := NormalizeURL(raw)
		if normalized == "" {
			continue
		}
		add(model.IndicatorURL, raw, normalized)
		if host != "" {
			urlHosts = append(urlHosts, host)
		}
	}

	for _, m := range emailPattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		add(model.IndicatorEmail, raw, NormalizeEmail(raw))
	}

	for _, m := range cvePattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		add(model.IndicatorCVE, raw, NormalizeCVE(raw))
	}

	for _, m := range hashPattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		add(model.IndicatorHash, raw, NormalizeHash(raw))
	}

	for _, m := range ipPattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		add(model.IndicatorIP, raw, NormalizeIP(raw))
	}

	for _, m := range domainPattern.FindAllString(text, -1) {
		raw := strings.Trim(m, trimCutset)
		add(model.IndicatorDomain, raw, NormalizeDomain(raw))
	}

	for _, host := range urlHosts {
		add(model.IndicatorDomain, host, NormalizeDomain(host))
	}

	return out
}

// NormalizeURL re-parses a URL candidate, strips the fragment and lowercases
// the host. It returns the normalized URL plus the bare hostname, or empty
// strings when the candidate does not survive parsing.
func NormalizeURL(raw string) (normalized, host string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ""
	}
	if u.Host == "" {
		return "", ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String(), u.Hostname()
}

// NormalizeEmail lowercases the address and validates it against a stricter
// single-@ pattern. Returns "" for candidates that fail validation.
func NormalizeEmail(raw string) string {
	lowered := strings.ToLower(raw)
	if !strictEmail.MatchString(lowered) {
		return ""
	}
	return lowered
}

// NormalizeCVE uppercases a CVE identifier.
func NormalizeCVE(raw string) string {
	upper := strings.ToUpper(raw)
	if !strings.HasPrefix(upper, "CVE-") {
		return ""
	}
	return upper
}

// NormalizeHash lowercases a hex digest and rejects candidates that are not
// 32, 40 or 64 hex characters.
func NormalizeHash(raw string) string {
	lowered := strings.ToLower(raw)
	switch len(lowered) {
	case 32, 40, 64:
	default:
		return ""
	}
	for _, c := range lowered {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return lowered
}

// NormalizeIP validates a dotted-quad IPv4 candidate. Returns "" when any
// octet exceeds 255.
func NormalizeIP(raw string) string {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return ""
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return ""
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return ""
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return ""
		}
	}
	return raw
}

// NormalizeDomain lowercases a domain candidate and requires at least one
// dot with an alphabetic final label.
func NormalizeDomain(raw string) string {
	lowered := strings.ToLower(strings.Trim(raw, "."))
	if !strings.Contains(lowered, ".") {
		return ""
	}
	if !strictDomain.MatchString(lowered) {
		return ""
	}
	return lowered
}

// CountByKind tallies indicators per kind, used for enrichment metadata.
func CountByKind(indicators []model.Indicator) map[string]int {
	counts := make(map[string]int)
	for _, ind := range indicators {
		counts[string(ind.Kind)]++
	}
	return counts
}
