package state

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/schedule"
)

type MenuData struct {
	Now        time.Time
	StatusLine string
	Current    *schedule.Meeting
	Next       *schedule.Meeting
	Items      []schedule.Meeting

	InCall   bool
	MicMuted *bool
}

// WriteMenu renders the dropdown as GTK builder XML. Item ids map to CLI
// commands: join_current, join_next, join_N, leave, mic, refresh.
func WriteMenu(path string, data MenuData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create menu dir: %w", err)
	}

	now := data.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<interface>\n")
	b.WriteString("  <object class=\"GtkMenu\" id=\"menu\">\n")

	headline := false
	if data.Current != nil && data.Current.HasConference() {
		writeMenuItem(&b, "join_current", "Join now: "+data.Current.Summary)
		headline = true
	}
	if data.Next != nil && data.Next.HasConference() {
		writeMenuItem(&b, "join_next", fmt.Sprintf("Join next (%s): %s", formatStart(now, data.Next.Start), data.Next.Summary))
		headline = true
	}
	if headline {
		writeSeparator(&b, "separator_join")
	}

	if len(data.Items) > 0 {
		for idx, item := range data.Items {
			label := fmt.Sprintf("%s-%s  %s", formatStart(now, item.Start), item.End.In(now.Location()).Format("15:04"), item.Summary)
			if item.HasConference() {
				label += "  [" + providerLabel(item.Provider) + "]"
			}
			writeMenuItem(&b, fmt.Sprintf("join_%d", idx+1), label)
		}
	} else {
		writeMenuItem(&b, "noop", fallback(data.StatusLine, "No upcoming meetings"))
	}

	writeSeparator(&b, "separator_actions")
	if data.InCall {
		writeMenuItem(&b, "leave", "Leave call")
	}
	if data.MicMuted != nil {
		label := "Mute microphone"
		if *data.MicMuted {
			label = "Unmute microphone"
		}
		writeMenuItem(&b, "mic", label)
	}
	writeMenuItem(&b, "refresh", "Refresh")

	b.WriteString("  </object>\n")
	b.WriteString("</interface>\n")

	return writeFileAtomically(path, []byte(b.String()))
}

func writeMenuItem(b *strings.Builder, id, label string) {
	b.WriteString("    <child>\n")
	_, _ = fmt.Fprintf(b, "      <object class=\"GtkMenuItem\" id=\"%s\">\n", html.EscapeString(id))
	_, _ = fmt.Fprintf(b, "        <property name=\"label\">%s</property>\n", html.EscapeString(label))
	b.WriteString("      </object>\n")
	b.WriteString("    </child>\n")
}

func writeSeparator(b *strings.Builder, id string) {
	b.WriteString("    <child>\n")
	_, _ = fmt.Fprintf(b, "      <object class=\"GtkSeparatorMenuItem\" id=\"%s\" />\n", html.EscapeString(id))
	b.WriteString("    </child>\n")
}

func providerLabel(provider string) string {
	switch provider {
	case schedule.ProviderJitsi:
		return "Jitsi"
	case schedule.ProviderGoogleMeet:
		return "Meet"
	case schedule.ProviderZoom:
		return "Zoom"
	case schedule.ProviderTeams:
		return "Teams"
	case schedule.ProviderWebex:
		return "Webex"
	default:
		return "Call"
	}
}

func fallback(value, defaultValue string) string {
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return value
}

func formatStart(now, value time.Time) string {
	value = value.In(now.Location())
	if now.Year() == value.Year() && now.YearDay() == value.YearDay() {
		return value.Format("15:04")
	}
	return value.Format("Mon 15:04")
}
