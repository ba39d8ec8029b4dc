package template

import (
	"regexp"
	"strings"
)

var (
	bracketPlaceholderRe = regexp.MustCompile(`\[([^\[\]]+)\]`)
	markupTagRe          = regexp.MustCompile(`(?is)<[a-z][^>]*>`)
)

// Normalize rewrites bracket-style placeholders ("[field]") into the template
// engine's placeholder syntax ("{{.field}}") and wraps plain-text bodies into
// paragraph and line-break markup. It runs once at template creation time;
// rendering never re-normalizes.
func Normalize(body string) string {
	body = bracketPlaceholderRe.ReplaceAllString(body, "{{.$1}}")
	if !markupTagRe.MatchString(body) {
		body = plainTextToHTML(body)
	}
	return body
}

func plainTextToHTML(input string) string {
	paragraphs := regexp.MustCompile(`\n\s*\n`).Split(strings.TrimSpace(input), -1)
	var b strings.Builder
	for _, p := range paragraphs {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
