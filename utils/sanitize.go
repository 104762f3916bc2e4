package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripper = bluemonday.StrictPolicy()

	// Only entities that cannot form markup are decoded; &lt; and &gt; stay escaped.
	textUnescaper = strings.NewReplacer("&amp;", "&", "&#34;", `"`, "&quot;", `"`, "&#39;", "'")
)

// SanitizeText strips every tag and returns trimmed plain text.
func SanitizeText(input string) string {
	return strings.TrimSpace(textUnescaper.Replace(stripper.Sanitize(input)))
}
