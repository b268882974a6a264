package conference

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rbright/waybar-meeting-room/internal/schedule"
)

type Room struct {
	Domain string
	Name   string
}

func (r Room) String() string {
	return r.Domain + "/" + r.Name
}

// ParseRoom splits a conference link into its host and room name, the last
// non-empty path segment.
func ParseRoom(link string) (Room, error) {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return Room{}, fmt.Errorf("parse conference url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Room{}, fmt.Errorf("conference url %q is not http(s)", link)
	}
	if parsed.Hostname() == "" {
		return Room{}, fmt.Errorf("conference url %q has no host", link)
	}

	segments := strings.FieldsFunc(parsed.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return Room{}, fmt.Errorf("conference url %q has no room", link)
	}

	name, err := url.PathUnescape(segments[len(segments)-1])
	if err != nil {
		return Room{}, fmt.Errorf("decode room name: %w", err)
	}
	return Room{Domain: strings.ToLower(parsed.Host), Name: name}, nil
}

type JoinOptions struct {
	DisplayName string

	// ConferenceBase marks links under it as Jitsi rooms whatever their host.
	ConferenceBase string
}

// JoinURL returns the address the browser should open. Jitsi rooms get a
// fragment that sets the display name, skips the prejoin page and starts
// with audio and video on. Other providers are opened as-is.
func JoinURL(link string, opts JoinOptions) string {
	link = strings.TrimSpace(link)
	if !isJitsi(link, opts.ConferenceBase) {
		return link
	}

	base, _, _ := strings.Cut(link, "#")
	fragment := []string{
		"config.prejoinConfig.enabled=false",
		"config.startWithAudioMuted=false",
		"config.startWithVideoMuted=false",
	}
	if name := strings.TrimSpace(opts.DisplayName); name != "" {
		fragment = append([]string{fmt.Sprintf("userInfo.displayName=%q", url.PathEscape(name))}, fragment...)
	}
	return base + "#" + strings.Join(fragment, "&")
}

func isJitsi(link, conferenceBase string) bool {
	if schedule.ProviderOf(link) == schedule.ProviderJitsi {
		return true
	}
	base := strings.TrimSpace(conferenceBase)
	return base != "" && strings.HasPrefix(link, base)
}
