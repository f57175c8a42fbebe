// internal/app/system/htmlsanitize/htmlsanitize.go
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every tag. Script and style bodies are dropped along with
// their tags.
var strict = bluemonday.StrictPolicy()

// PlainText strips all markup from s and returns the remaining text with
// entities decoded, so "a &amp; b" and "a & b" both come back as "a & b".
// Chat text and display names are stored as plain text; clients escape on
// render.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(strict.Sanitize(s))
}

// IsPlainText reports whether s contains no tag-like sequences.
func IsPlainText(s string) bool {
	return !strings.ContainsRune(s, '<')
}
