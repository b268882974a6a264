package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/schedule"
)

func TestWriteMenu_ContainsExpectedActions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)
	current := schedule.Meeting{
		UID:           "standup",
		Summary:       "Daily <Standup>",
		Start:         now.Add(-10 * time.Minute),
		End:           now.Add(5 * time.Minute),
		ConferenceURL: "https://meet.jit.si/standup",
		Provider:      schedule.ProviderJitsi,
	}
	next := schedule.Meeting{
		UID:           "review",
		Summary:       "Review",
		Start:         now.Add(30 * time.Minute),
		End:           now.Add(90 * time.Minute),
		ConferenceURL: "https://zoom.us/j/123",
		Provider:      schedule.ProviderZoom,
	}
	muted := true

	menuPath := filepath.Join(t.TempDir(), "meeting-room.xml")
	data := MenuData{
		Now:      now,
		Current:  &current,
		Next:     &next,
		Items:    []schedule.Meeting{current, next},
		InCall:   true,
		MicMuted: &muted,
	}
	if err := WriteMenu(menuPath, data); err != nil {
		t.Fatalf("write menu: %v", err)
	}

	raw, err := os.ReadFile(menuPath)
	if err != nil {
		t.Fatalf("read menu: %v", err)
	}
	text := string(raw)

	for _, expected := range []string{"join_current", "join_next", "join_1", "join_2", "leave", "\"mic\"", "refresh", "Unmute microphone", "[Zoom]", "Daily &lt;Standup&gt;"} {
		if !strings.Contains(text, expected) {
			t.Fatalf("missing %q in menu:\n%s", expected, text)
		}
	}
}

func TestWriteMenu_EmptyAgenda(t *testing.T) {
	t.Parallel()

	menuPath := filepath.Join(t.TempDir(), "menus", "meeting-room.xml")
	if err := WriteMenu(menuPath, MenuData{StatusLine: "Room is free"}); err != nil {
		t.Fatalf("write menu: %v", err)
	}

	raw, err := os.ReadFile(menuPath)
	if err != nil {
		t.Fatalf("read menu: %v", err)
	}
	text := string(raw)

	if !strings.Contains(text, "Room is free") {
		t.Fatalf("expected status line in menu:\n%s", text)
	}
	for _, unexpected := range []string{"join_current", "join_next", "leave", "\"mic\""} {
		if strings.Contains(text, unexpected) {
			t.Fatalf("unexpected %q in menu:\n%s", unexpected, text)
		}
	}
}
