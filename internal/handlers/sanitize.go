package handlers

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var textPolicy = bluemonday.StrictPolicy()

// visibleText reports whether s has any characters left once HTML elements
// are removed. Entries are stored exactly as typed; this only decides whether
// a body made of whitespace or markup alone counts as empty.
func visibleText(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s))) != ""
}
