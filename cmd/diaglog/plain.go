package main

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	lineBreakTag = regexp.MustCompile(`(?i)<br\s*/?>`)
	prefixSpan   = regexp.MustCompile(`<span class="log-prefix">([^<]*)</span>`)
	fieldEnd     = regexp.MustCompile(`(?i)</p>`)

	// stripTags keeps text content only.
	stripTags = bluemonday.StrictPolicy()
)

// plainText turns a stored fragment line into terminal text: line breaks
// become newlines, header fields are separated by two spaces and every other
// tag is dropped.
func plainText(line string) string {
	s := lineBreakTag.ReplaceAllString(line, "\n    ")
	s = prefixSpan.ReplaceAllString(s, "$1 ")
	s = fieldEnd.ReplaceAllString(s, "  ")
	s = stripTags.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(s))
}
