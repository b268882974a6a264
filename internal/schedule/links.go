package schedule

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlRegex      = regexp.MustCompile(`https?://\S+`)
	wholeURLRegex = regexp.MustCompile(`^https?://\S+$`)
)

const (
	ProviderJitsi      = "jitsi"
	ProviderGoogleMeet = "google_meet"
	ProviderZoom       = "zoom"
	ProviderTeams      = "teams"
	ProviderWebex      = "webex"
)

// ExtractConferenceURL returns the conference link for an event. A custom
// conference field wins when its trimmed value is a URL; otherwise the first
// URL in the description is used with trailing parentheses removed.
func ExtractConferenceURL(custom, description string) (string, bool) {
	return firstConferenceURL([]string{custom}, description)
}

func firstConferenceURL(customFields []string, description string) (string, bool) {
	for _, field := range customFields {
		value := strings.TrimSpace(field)
		if wholeURLRegex.MatchString(value) {
			return value, true
		}
	}

	found := urlRegex.FindString(description)
	if found == "" {
		return "", false
	}

	found = strings.TrimRight(found, ")")
	if !wholeURLRegex.MatchString(found) {
		return "", false
	}
	return found, true
}

// ProviderOf classifies the conferencing service behind a link.
func ProviderOf(value string) string {
	host := hostOf(value)
	if host == "" {
		return ""
	}

	switch {
	case strings.HasSuffix(host, "meet.google.com"):
		return ProviderGoogleMeet
	case strings.HasSuffix(host, "zoom.us"), strings.HasSuffix(host, "zoomgov.com"):
		return ProviderZoom
	case strings.HasSuffix(host, "teams.microsoft.com"), strings.HasSuffix(host, "teams.live.com"):
		return ProviderTeams
	case strings.HasSuffix(host, "webex.com"):
		return ProviderWebex
	case strings.HasPrefix(host, "meet.") && !strings.HasSuffix(host, "google.com"),
		strings.Contains(host, "jitsi"),
		strings.HasPrefix(host, "visio."):
		return ProviderJitsi
	default:
		return ""
	}
}

func hostOf(value string) string {
	parsed, err := url.Parse(value)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
