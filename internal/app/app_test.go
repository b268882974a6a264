package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/conference"
	"github.com/rbright/waybar-meeting-room/internal/config"
	"github.com/rbright/waybar-meeting-room/internal/state"
	"github.com/rbright/waybar-meeting-room/internal/waybar"
)

const roomFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Acme//Room//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20250110T090000Z\r\n" +
	"DTEND:20250110T093000Z\r\n" +
	"X-CONFERENCE:https://meet.jit.si/standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review\r\n" +
	"SUMMARY:Design review\r\n" +
	"DTSTART:20250110T100000Z\r\n" +
	"DTEND:20250110T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    command
		wantErr bool
	}{
		{name: "default", args: nil, want: command{name: "status"}},
		{name: "refresh", args: []string{"refresh"}, want: command{name: "refresh"}},
		{name: "auto", args: []string{"auto"}, want: command{name: "auto"}},
		{name: "join item", args: []string{"join-item", "3"}, want: command{name: "join-item", index: 3}},
		{name: "mic toggle", args: []string{"mic", "Toggle"}, want: command{name: "mic", mic: "toggle"}},
		{name: "leave", args: []string{"leave"}, want: command{name: "leave"}},
		{name: "zero index", args: []string{"join-item", "0"}, wantErr: true},
		{name: "missing index", args: []string{"join-item"}, wantErr: true},
		{name: "bad mic action", args: []string{"mic", "loud"}, wantErr: true},
		{name: "extra arg", args: []string{"status", "now"}, wantErr: true},
		{name: "unknown", args: []string{"select-calendars"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgs(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse args: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func testRuntime(t *testing.T, source string) config.Runtime {
	t.Helper()

	tmp := t.TempDir()
	stateDir := filepath.Join(tmp, "state")
	menuDir := filepath.Join(tmp, "menus")
	return config.Runtime{
		Source:            source,
		Timeout:           time.Second,
		Timezone:          time.UTC,
		Lookahead:         12 * time.Hour,
		QueryLookback:     4 * time.Hour,
		QueryAhead:        7 * 24 * time.Hour,
		ExpandRecurrences: true,
		MaxItems:          6,
		Browser:           "/usr/bin/firefox",
		BrowserProfile:    "meetingroom",
		LockFile:          filepath.Join(tmp, "run", "room.lock"),
		StateDir:          stateDir,
		MenuDir:           menuDir,
		MenuPath:          filepath.Join(menuDir, "meeting-room.xml"),
		SnapshotPath:      filepath.Join(stateDir, "meetings.json"),
	}
}

func stubClock(t *testing.T, at time.Time) {
	t.Helper()

	prevNow, prevProbe := now, probeMic
	now = func() time.Time { return at }
	probeMic = func(context.Context, config.Runtime) *bool { return nil }
	t.Cleanup(func() {
		now, probeMic = prevNow, prevProbe
	})
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "room.ics")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func runStatus(t *testing.T, cfg config.Runtime) waybar.Output {
	t.Helper()

	var stdout bytes.Buffer
	if err := Run(context.Background(), []string{"status"}, cfg, &stdout); err != nil {
		t.Fatalf("run status: %v", err)
	}

	var out waybar.Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	return out
}

func TestStatus_CurrentMeeting(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 10, 0, 0, time.UTC))
	cfg := testRuntime(t, writeFeed(t, roomFeed))

	out := runStatus(t, cfg)
	if out.Class != waybar.ClassCurrent {
		t.Fatalf("expected current class, got %+v", out)
	}
	if out.Text != "Standup · 20m left" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if !strings.Contains(out.Tooltip, "Next in 50m: Design review") {
		t.Fatalf("unexpected tooltip:\n%s", out.Tooltip)
	}

	snapshot, err := state.LoadSnapshot(cfg.SnapshotPath)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(snapshot.Meetings) != 2 {
		t.Fatalf("expected 2 meetings in snapshot, got %d", len(snapshot.Meetings))
	}

	menu, err := os.ReadFile(cfg.MenuPath)
	if err != nil {
		t.Fatalf("read menu: %v", err)
	}
	if !strings.Contains(string(menu), "join_current") {
		t.Fatalf("expected join_current in menu:\n%s", menu)
	}
}

func TestStatus_MalformedFeedKeepsSnapshot(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 40, 0, 0, time.UTC))
	feedPath := writeFeed(t, roomFeed)
	cfg := testRuntime(t, feedPath)

	if out := runStatus(t, cfg); out.Class != waybar.ClassUpcoming {
		t.Fatalf("expected upcoming class, got %+v", out)
	}

	if err := os.WriteFile(feedPath, []byte("<html>maintenance</html>"), 0o644); err != nil {
		t.Fatalf("break feed: %v", err)
	}

	out := runStatus(t, cfg)
	if out.Class != waybar.ClassStale || out.Alt != waybar.ClassUpcoming {
		t.Fatalf("expected stale upcoming output, got %+v", out)
	}
	if out.Text != "Design review in 20m" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if !strings.Contains(out.Tooltip, "parse calendar") {
		t.Fatalf("expected parse error in tooltip:\n%s", out.Tooltip)
	}
}

func TestStatus_ErrorWithoutSnapshot(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 40, 0, 0, time.UTC))
	cfg := testRuntime(t, filepath.Join(t.TempDir(), "missing.ics"))

	out := runStatus(t, cfg)
	if out.Class != waybar.ClassError {
		t.Fatalf("expected error class, got %+v", out)
	}
	if !strings.Contains(out.Tooltip, "read calendar file") {
		t.Fatalf("unexpected tooltip %q", out.Tooltip)
	}
}

func TestAgenda_ListsSnapshot(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC))
	cfg := testRuntime(t, writeFeed(t, roomFeed))

	if err := Run(context.Background(), []string{"refresh"}, cfg, &bytes.Buffer{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var stdout bytes.Buffer
	if err := Run(context.Background(), []string{"agenda"}, cfg, &stdout); err != nil {
		t.Fatalf("agenda: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 agenda lines, got %q", stdout.String())
	}
	if lines[0] != "1  Fri 09:00-09:30  Standup  https://meet.jit.si/standup" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if lines[1] != "2  Fri 10:00-11:00  Design review" {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestJoinCurrent_RequiresMeeting(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 40, 0, 0, time.UTC))
	cfg := testRuntime(t, writeFeed(t, roomFeed))

	if err := Run(context.Background(), []string{"refresh"}, cfg, &bytes.Buffer{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := Run(context.Background(), []string{"join-current"}, cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error when no meeting is in progress")
	}
}

type fakeProcess struct {
	exit chan error
}

func (p *fakeProcess) Wait() error {
	return <-p.exit
}

func (p *fakeProcess) Stderr() string {
	return ""
}

type fakeRunner struct {
	mu      sync.Mutex
	running bool
	calls   []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	switch name {
	case "pgrep":
		if r.running {
			return nil
		}
		return errors.New("exit status 1")
	case "pkill":
		r.running = false
	}
	return nil
}

func (r *fakeRunner) Start(name string, args ...string) (conference.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	r.running = true
	return &fakeProcess{exit: make(chan error)}, nil
}

func (r *fakeRunner) called(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []string
	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			matched = append(matched, call)
		}
	}
	return matched
}

func stubRunner(t *testing.T, runner *fakeRunner) {
	t.Helper()

	prevRunner, prevSettle := newRunner, joinSettle
	newRunner = func() conference.Runner { return runner }
	joinSettle = 10 * time.Millisecond
	t.Cleanup(func() {
		newRunner, joinSettle = prevRunner, prevSettle
	})
}

func TestAuto_JoinsMeetingInProgress(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 10, 0, 0, time.UTC))
	runner := &fakeRunner{}
	stubRunner(t, runner)
	cfg := testRuntime(t, writeFeed(t, roomFeed))
	cfg.DisplayName = "Salle Orion"

	var stdout bytes.Buffer
	if err := Run(context.Background(), []string{"auto"}, cfg, &stdout); err != nil {
		t.Fatalf("run auto: %v", err)
	}

	want := conference.JoinURL("https://meet.jit.si/standup", conference.JoinOptions{DisplayName: "Salle Orion"})
	starts := runner.called("/usr/bin/firefox")
	if len(starts) != 1 || !strings.HasSuffix(starts[0], want) {
		t.Fatalf("expected one browser start for %s, got %v", want, starts)
	}
	lock, err := os.ReadFile(cfg.LockFile)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if strings.TrimSpace(string(lock)) != want {
		t.Fatalf("unexpected lock %q", lock)
	}

	var out waybar.Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if out.Class != waybar.ClassCurrent {
		t.Fatalf("expected current class, got %+v", out)
	}

	// A second pass keeps the call open.
	if err := Run(context.Background(), []string{"auto"}, cfg, &bytes.Buffer{}); err != nil {
		t.Fatalf("rerun auto: %v", err)
	}
	if starts := runner.called("/usr/bin/firefox"); len(starts) != 1 {
		t.Fatalf("expected no second browser start, got %v", starts)
	}
	if kills := runner.called("pkill"); len(kills) != 0 {
		t.Fatalf("expected no pkill, got %v", kills)
	}
}

func TestAuto_LeavesWhenRoomIsFree(t *testing.T) {
	stubClock(t, time.Date(2025, 1, 10, 9, 40, 0, 0, time.UTC))
	runner := &fakeRunner{running: true}
	stubRunner(t, runner)
	cfg := testRuntime(t, writeFeed(t, roomFeed))

	if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0o755); err != nil {
		t.Fatalf("create lock dir: %v", err)
	}
	if err := os.WriteFile(cfg.LockFile, []byte("https://meet.jit.si/standup\n"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	if err := Run(context.Background(), []string{"auto"}, cfg, &bytes.Buffer{}); err != nil {
		t.Fatalf("run auto: %v", err)
	}

	if kills := runner.called("pkill"); len(kills) != 1 {
		t.Fatalf("expected one pkill, got %v", kills)
	}
	if starts := runner.called("/usr/bin/firefox"); len(starts) != 0 {
		t.Fatalf("expected no browser start, got %v", starts)
	}
	if _, err := os.Stat(cfg.LockFile); !os.IsNotExist(err) {
		t.Fatalf("expected lock removed, stat err %v", err)
	}
}
