package selector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/schedule"
)

var ErrSelectionCancelled = errors.New("meeting selection cancelled")

// PickMeeting asks the operator which meeting to join and returns its UID.
// Only meetings with a conference link are offered.
func PickMeeting(ctx context.Context, meetings []schedule.Meeting, now time.Time) (string, error) {
	joinable := make([]schedule.Meeting, 0, len(meetings))
	for _, meeting := range meetings {
		if meeting.HasConference() {
			joinable = append(joinable, meeting)
		}
	}
	if len(joinable) == 0 {
		return "", fmt.Errorf("no joinable meetings")
	}

	if !hasGraphicalSession() {
		return "", fmt.Errorf("meeting selection requires a graphical session")
	}

	if _, err := exec.LookPath("zenity"); err != nil {
		return "", fmt.Errorf("zenity is required for meeting selection")
	}

	cmd := exec.CommandContext(ctx, "zenity", zenityArgs(joinable, now)...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", ErrSelectionCancelled
		}
		return "", fmt.Errorf("zenity selector failed: %w", err)
	}

	uid := parseSelectionOutput(string(out))
	if uid == "" {
		return "", ErrSelectionCancelled
	}
	return uid, nil
}

func hasGraphicalSession() bool {
	return strings.TrimSpace(os.Getenv("WAYLAND_DISPLAY")) != "" || strings.TrimSpace(os.Getenv("DISPLAY")) != ""
}

func zenityArgs(meetings []schedule.Meeting, now time.Time) []string {
	args := []string{
		"--list",
		"--radiolist",
		"--title=Join Meeting",
		"--text=Choose the meeting to open in this room",
		"--modal",
		"--width=760",
		"--height=480",
		"--print-column=5",
		"--column=Join",
		"--column=When",
		"--column=Meeting",
		"--column=Starts",
		"--column=UID",
		"--hide-column=5",
	}

	for idx, meeting := range meetings {
		checked := "FALSE"
		if idx == 0 {
			checked = "TRUE"
		}
		args = append(args,
			checked,
			timeRange(meeting, now),
			meeting.Summary,
			schedule.CountdownText(now, meeting),
			meeting.UID,
		)
	}
	return args
}

func timeRange(meeting schedule.Meeting, now time.Time) string {
	start := meeting.Start.In(now.Location())
	end := meeting.End.In(now.Location())
	if start.YearDay() != now.YearDay() || start.Year() != now.Year() {
		return start.Format("Mon 15:04") + "-" + end.Format("15:04")
	}
	return start.Format("15:04") + "-" + end.Format("15:04")
}

// parseSelectionOutput returns the first value zenity printed.
func parseSelectionOutput(raw string) string {
	parts := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == '\n' || r == '|'
	})
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			return value
		}
	}
	return ""
}
