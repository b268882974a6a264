package waybar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/schedule"
)

const (
	ClassCurrent  = "current"
	ClassUpcoming = "upcoming"
	ClassClear    = "clear"
	ClassStale    = "stale"
	ClassError    = "error"
)

const (
	maxSummaryRunes = 32
	tooltipItems    = 4
)

type Output struct {
	Text    string `json:"text"`
	Alt     string `json:"alt,omitempty"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

// View is everything the bar shows for one refresh.
type View struct {
	Now        time.Time
	Resolution schedule.Resolution
	Upcoming   []schedule.Meeting
	Lookahead  time.Duration

	// Stale is set when the meetings come from the last good snapshot.
	Stale     bool
	FetchedAt time.Time
	Problem   string

	Joined   string
	MicMuted *bool
}

func Encode(output Output) ([]byte, error) {
	payload, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("marshal waybar output: %w", err)
	}
	return payload, nil
}

func Render(view View) Output {
	current := view.Resolution.Current
	next := view.Resolution.Next
	if next != nil && view.Lookahead > 0 && next.Start.Sub(view.Now) > view.Lookahead {
		next = nil
	}

	var out Output
	switch {
	case current != nil:
		out.Text = fmt.Sprintf("%s · %s", shorten(current.Summary), schedule.RemainingText(view.Now, *current))
		out.Class = ClassCurrent
	case next != nil:
		out.Text = fmt.Sprintf("%s in %s", shorten(next.Summary), schedule.CountdownText(view.Now, *next))
		out.Class = ClassUpcoming
	default:
		out.Text = "Free"
		out.Class = ClassClear
	}
	out.Alt = out.Class
	if view.Stale {
		out.Class = ClassStale
	}

	out.Tooltip = buildTooltip(view, current, next)
	return out
}

// RenderError is shown when nothing, not even a snapshot, can be displayed.
func RenderError(message string) Output {
	return Output{
		Text:    "!",
		Alt:     ClassError,
		Tooltip: strings.TrimSpace(message),
		Class:   ClassError,
	}
}

func buildTooltip(view View, current, next *schedule.Meeting) string {
	var b strings.Builder

	if current != nil {
		_, _ = fmt.Fprintf(&b, "In progress: %s (%s)\n", current.Summary, schedule.RemainingText(view.Now, *current))
		writeMeetingDetails(&b, view.Now, *current)
	}
	if next != nil {
		if current != nil {
			b.WriteString("\n")
		}
		_, _ = fmt.Fprintf(&b, "Next in %s: %s\n", schedule.CountdownText(view.Now, *next), next.Summary)
		writeMeetingDetails(&b, view.Now, *next)
	}
	if current == nil && next == nil {
		if view.Lookahead > 0 {
			_, _ = fmt.Fprintf(&b, "Room is free for the next %s\n", schedule.HumanizeDuration(view.Lookahead))
		} else {
			b.WriteString("Room is free\n")
		}
	}

	if len(view.Upcoming) > 0 {
		b.WriteString("\nAgenda:\n")
		limit := len(view.Upcoming)
		if limit > tooltipItems {
			limit = tooltipItems
		}
		for _, item := range view.Upcoming[:limit] {
			_, _ = fmt.Fprintf(&b, "%s-%s  %s\n", item.Start.In(view.Now.Location()).Format("15:04"), item.End.In(view.Now.Location()).Format("15:04"), item.Summary)
		}
	}

	if view.Joined != "" {
		_, _ = fmt.Fprintf(&b, "\nIn call: %s\n", view.Joined)
	}
	if view.MicMuted != nil {
		if *view.MicMuted {
			b.WriteString("Microphone muted\n")
		} else {
			b.WriteString("Microphone live\n")
		}
	}

	if view.Stale {
		b.WriteString("\n")
		if !view.FetchedAt.IsZero() {
			_, _ = fmt.Fprintf(&b, "Calendar unavailable, showing data from %s\n", view.FetchedAt.In(view.Now.Location()).Format("Mon 15:04"))
		} else {
			b.WriteString("Calendar unavailable, showing cached data\n")
		}
		if view.Problem != "" {
			b.WriteString(view.Problem + "\n")
		}
	}

	b.WriteString("Click to open dropdown")
	return strings.TrimSpace(b.String())
}

func writeMeetingDetails(b *strings.Builder, now time.Time, meeting schedule.Meeting) {
	_, _ = fmt.Fprintf(b, "%s-%s\n", meeting.Start.In(now.Location()).Format("Mon 15:04"), meeting.End.In(now.Location()).Format("15:04"))
	if meeting.Location != "" {
		_, _ = fmt.Fprintf(b, "Where: %s\n", meeting.Location)
	}
	if meeting.HasConference() {
		_, _ = fmt.Fprintf(b, "Call: %s\n", providerLabel(meeting.Provider))
	}
	if meeting.Description != "" {
		b.WriteString(shortenTo(meeting.Description, 120) + "\n")
	}
}

func providerLabel(provider string) string {
	switch provider {
	case schedule.ProviderJitsi:
		return "Jitsi"
	case schedule.ProviderGoogleMeet:
		return "Google Meet"
	case schedule.ProviderZoom:
		return "Zoom"
	case schedule.ProviderTeams:
		return "Microsoft Teams"
	case schedule.ProviderWebex:
		return "Webex"
	default:
		return "link available"
	}
}

func shorten(value string) string {
	return shortenTo(value, maxSummaryRunes)
}

func shortenTo(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
