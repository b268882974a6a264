package schedule

import (
	"regexp"
	"strings"
)

type replacePass struct {
	pattern *regexp.Regexp
	with    string
	first   bool
}

// Calendar invitations embed an instructions block fenced by runs of '~',
// '.' and whitespace. The passes run in order; a pathological description
// with several fences can lose more text than intended.
var descriptionPasses = []replacePass{
	{pattern: regexp.MustCompile(`[~.\s]{3,}[\s\S]*?[~.\s]{3,}`), with: " ", first: true},
	{pattern: regexp.MustCompile(`[~.\s]{3,}`), with: " "},
	{pattern: regexp.MustCompile(`\s+`), with: " "},
}

// SanitizeDescription strips invitation boilerplate from a description and
// collapses its whitespace.
func SanitizeDescription(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}

	out := value
	for _, pass := range descriptionPasses {
		out = pass.apply(out)
	}
	return strings.TrimSpace(out)
}

func (p replacePass) apply(value string) string {
	if !p.first {
		return p.pattern.ReplaceAllString(value, p.with)
	}
	loc := p.pattern.FindStringIndex(value)
	if loc == nil {
		return value
	}
	return value[:loc[0]] + p.with + value[loc[1]:]
}

var markdownLinkRegex = regexp.MustCompile(`\[([^\]\n]*)\]\((https?://[^\s)]+)\)`)

// stripLink removes every occurrence of link from a description so the
// dashboard does not show the join URL twice. A markdown link to it keeps
// only its label.
func stripLink(description, link string) string {
	if link == "" || description == "" {
		return description
	}
	description = markdownLinkRegex.ReplaceAllStringFunc(description, func(found string) string {
		parts := markdownLinkRegex.FindStringSubmatch(found)
		if parts[2] != link {
			return found
		}
		return parts[1]
	})
	return urlRegex.ReplaceAllStringFunc(description, func(found string) string {
		if found == link || strings.TrimRight(found, ")") == link {
			return ""
		}
		return found
	})
}

func sanitize(value string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(value)), " ")
}

func fallback(value, defaultValue string) string {
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return value
}
