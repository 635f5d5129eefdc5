// Package timeline implements the synthesis pipeline: parsing completion
// output into timeline records, curating event density, validating sources,
// and orchestrating the tiered generation fallbacks.
package timeline

import (
	"net/url"
	"regexp"
	"strings"
)

// embeddedURLPattern rescues an http(s) URL embedded in prose, e.g.
// "see https://example.com/report for details".
var embeddedURLPattern = regexp.MustCompile(`https?://[^\s"'<>\)\]]+`)

// ValidateSources normalizes attributed source strings into absolute http(s)
// URLs. Strings that are not directly parseable are scanned for an embedded
// URL; anything that cannot be rescued is dropped. Sources are rendered as
// links downstream, so this is a data-integrity boundary: output is always a
// subset of the input reduced to well-formed URLs, never pass-through prose.
func ValidateSources(raw []string) []string {
	valid := make([]string, 0, len(raw))
	for _, s := range raw {
		if u := normalizeSource(s); u != "" {
			valid = append(valid, u)
		}
	}
	return valid
}

func normalizeSource(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if u := parseAbsoluteURL(s); u != "" {
		return u
	}

	// Citation text around the URL is common ("Source: https://..."), so
	// fall back to extracting the first embedded URL.
	if match := embeddedURLPattern.FindString(s); match != "" {
		match = strings.TrimRight(match, ".,;")
		return parseAbsoluteURL(match)
	}

	return ""
}

func parseAbsoluteURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
