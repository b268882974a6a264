package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/audio"
	"github.com/rbright/waybar-meeting-room/internal/conference"
	"github.com/rbright/waybar-meeting-room/internal/config"
	"github.com/rbright/waybar-meeting-room/internal/feed"
	"github.com/rbright/waybar-meeting-room/internal/schedule"
	"github.com/rbright/waybar-meeting-room/internal/selector"
	"github.com/rbright/waybar-meeting-room/internal/state"
	"github.com/rbright/waybar-meeting-room/internal/waybar"
)

const usage = "waybar-meeting-room <status|refresh|auto|agenda|join-current|join-next|join-item N|pick|leave|mic on|off|toggle>"

type command struct {
	name  string
	index int
	mic   string
}

// Overridable in tests.
var (
	now       = time.Now
	probeMic  = readMicState
	newRunner  = func() conference.Runner { return nil }
	joinSettle time.Duration
)

func Run(ctx context.Context, args []string, cfg config.Runtime, stdout io.Writer) error {
	cmd, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch cmd.name {
	case "status", "auto":
		out, statusErr := buildStatus(ctx, cfg, cmd.name == "auto")
		if statusErr != nil {
			return statusErr
		}
		return writeOutput(stdout, out)
	case "refresh":
		_, statusErr := buildStatus(ctx, cfg, false)
		return statusErr
	case "agenda":
		return printAgenda(cfg, stdout)
	case "join-current":
		return joinCurrent(ctx, cfg)
	case "join-next":
		return joinNext(ctx, cfg)
	case "join-item":
		return joinItem(ctx, cfg, cmd.index)
	case "pick":
		return pickMeeting(ctx, cfg)
	case "leave":
		return launcher(cfg).Leave(ctx)
	case "mic":
		return setMic(ctx, cfg, cmd.mic, stdout)
	default:
		return fmt.Errorf("unsupported command %q", cmd.name)
	}
}

func parseArgs(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "status"}, nil
	}

	name := strings.TrimSpace(args[0])
	switch name {
	case "status", "refresh", "auto", "agenda", "join-current", "join-next", "pick", "leave":
		if len(args) > 1 {
			return command{}, fmt.Errorf("unexpected argument %q", args[1])
		}
		return command{name: name}, nil
	case "join-item":
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: waybar-meeting-room join-item <index>")
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(args[1]))
		if convErr != nil || n < 1 {
			return command{}, fmt.Errorf("invalid item index %q", args[1])
		}
		return command{name: name, index: n}, nil
	case "mic":
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: waybar-meeting-room mic <on|off|toggle>")
		}
		action := strings.ToLower(strings.TrimSpace(args[1]))
		switch action {
		case "on", "off", "toggle":
			return command{name: name, mic: action}, nil
		default:
			return command{}, fmt.Errorf("invalid mic action %q", args[1])
		}
	default:
		return command{}, fmt.Errorf("usage: %s", usage)
	}
}

// loadResult is the meeting list to display and where it came from.
type loadResult struct {
	meetings  []schedule.Meeting
	fetchedAt time.Time
	stale     bool
	problem   string
}

// loadMeetings fetches and parses the feed. When either step fails it falls
// back to the last snapshot so the room keeps showing its schedule.
func loadMeetings(ctx context.Context, cfg config.Runtime, at time.Time) (loadResult, error) {
	meetings, err := fetchMeetings(ctx, cfg, at)
	if err == nil {
		snapshot := state.Snapshot{Source: cfg.Source, FetchedAt: at, Meetings: meetings}
		if saveErr := state.SaveSnapshot(cfg.SnapshotPath, snapshot); saveErr != nil {
			return loadResult{}, saveErr
		}
		return loadResult{meetings: meetings, fetchedAt: at}, nil
	}

	if schedule.IsParseError(err) {
		slog.Warn("Calendar feed is malformed, keeping previous meetings", "source", cfg.Source, "error", err)
	} else {
		slog.Warn("Calendar feed is unavailable, keeping previous meetings", "source", cfg.Source, "error", err)
	}

	snapshot, loadErr := state.LoadSnapshot(cfg.SnapshotPath)
	if loadErr != nil {
		if errors.Is(loadErr, state.ErrNotFound) {
			return loadResult{}, err
		}
		return loadResult{}, fmt.Errorf("%w (snapshot: %v)", err, loadErr)
	}
	return loadResult{
		meetings:  snapshot.Meetings,
		fetchedAt: snapshot.FetchedAt,
		stale:     true,
		problem:   err.Error(),
	}, nil
}

func fetchMeetings(ctx context.Context, cfg config.Runtime, at time.Time) ([]schedule.Meeting, error) {
	windowStart := at.Add(-cfg.QueryLookback)
	windowEnd := at.Add(cfg.QueryAhead)

	source, err := feed.New(cfg.Source, feed.Options{
		Timeout:     cfg.Timeout,
		UserAgent:   cfg.UserAgent,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		return nil, err
	}

	raw, err := source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	parser := schedule.NewParser(schedule.NewZones(cfg.Timezone), schedule.WithConferenceBase(cfg.ConferenceBase))
	if cfg.ExpandRecurrences {
		return parser.ParseWindow(raw, windowStart, windowEnd)
	}
	return parser.Parse(raw)
}

// buildStatus refreshes the schedule and renders it. With autoJoin the room
// browser is also brought in line with the meeting in progress first.
func buildStatus(ctx context.Context, cfg config.Runtime, autoJoin bool) (waybar.Output, error) {
	if err := state.EnsureDirs(cfg.StateDir, cfg.MenuDir); err != nil {
		return waybar.Output{}, err
	}

	at := now().In(cfg.Timezone)
	loaded, err := loadMeetings(ctx, cfg, at)
	if err != nil {
		return renderErrorState(cfg, fmt.Sprintf("Calendar unavailable: %s", err.Error()))
	}

	resolution := schedule.ResolveCurrentAndNext(loaded.meetings, at)
	upcoming := schedule.Upcoming(loaded.meetings, at, cfg.Lookahead, cfg.MaxItems)

	if autoJoin {
		if err := followCurrent(ctx, cfg, resolution.Current); err != nil {
			slog.Warn("Automatic join failed", "error", err)
		}
	}

	joined, err := launcher(cfg).Joined(ctx)
	if err != nil {
		slog.Debug("Conference lock unreadable", "error", err)
	}
	muted := probeMic(ctx, cfg)

	statusLine := "Room is free"
	if resolution.Current != nil {
		statusLine = "In progress: " + resolution.Current.Summary
	}
	menuData := state.MenuData{
		Now:        at,
		StatusLine: statusLine,
		Current:    resolution.Current,
		Next:       resolution.Next,
		Items:      upcoming,
		InCall:     joined != "",
		MicMuted:   muted,
	}
	if err := state.WriteMenu(cfg.MenuPath, menuData); err != nil {
		return waybar.Output{}, err
	}

	return waybar.Render(waybar.View{
		Now:        at,
		Resolution: resolution,
		Upcoming:   upcoming,
		Lookahead:  cfg.Lookahead,
		Stale:      loaded.stale,
		FetchedAt:  loaded.fetchedAt,
		Problem:    loaded.problem,
		Joined:     joined,
		MicMuted:   muted,
	}), nil
}

func renderErrorState(cfg config.Runtime, tooltip string) (waybar.Output, error) {
	if err := state.WriteMenu(cfg.MenuPath, state.MenuData{StatusLine: "Calendar unavailable"}); err != nil {
		return waybar.Output{}, err
	}
	return waybar.RenderError(tooltip), nil
}

func printAgenda(cfg config.Runtime, stdout io.Writer) error {
	snapshot, err := state.LoadSnapshot(cfg.SnapshotPath)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no meetings loaded yet: run refresh first")
		}
		return err
	}

	at := now().In(cfg.Timezone)
	items := schedule.Upcoming(snapshot.Meetings, at, cfg.Lookahead, cfg.MaxItems)
	if len(items) == 0 {
		_, err := fmt.Fprintln(stdout, "No meetings ahead")
		return err
	}

	for idx, item := range items {
		line := fmt.Sprintf("%d  %s-%s  %s", idx+1, item.Start.In(at.Location()).Format("Mon 15:04"), item.End.In(at.Location()).Format("15:04"), item.Summary)
		if item.HasConference() {
			line += "  " + item.ConferenceURL
		}
		if _, err := fmt.Fprintln(stdout, line); err != nil {
			return fmt.Errorf("write agenda: %w", err)
		}
	}
	return nil
}

func snapshotMeetings(cfg config.Runtime) ([]schedule.Meeting, time.Time, error) {
	snapshot, err := state.LoadSnapshot(cfg.SnapshotPath)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	return snapshot.Meetings, now().In(cfg.Timezone), nil
}

func joinCurrent(ctx context.Context, cfg config.Runtime) error {
	meetings, at, err := snapshotMeetings(cfg)
	if err != nil {
		return err
	}
	current := schedule.ResolveCurrentAndNext(meetings, at).Current
	if current == nil {
		return fmt.Errorf("no meeting in progress")
	}
	return joinMeeting(ctx, cfg, *current)
}

func joinNext(ctx context.Context, cfg config.Runtime) error {
	meetings, at, err := snapshotMeetings(cfg)
	if err != nil {
		return err
	}
	next := schedule.ResolveCurrentAndNext(meetings, at).Next
	if next == nil {
		return nil
	}
	return joinMeeting(ctx, cfg, *next)
}

func joinItem(ctx context.Context, cfg config.Runtime, index int) error {
	meetings, at, err := snapshotMeetings(cfg)
	if err != nil {
		return err
	}
	items := schedule.Upcoming(meetings, at, cfg.Lookahead, cfg.MaxItems)
	if len(items) == 0 || index > len(items) {
		return nil
	}
	return joinMeeting(ctx, cfg, items[index-1])
}

func pickMeeting(ctx context.Context, cfg config.Runtime) error {
	meetings, at, err := snapshotMeetings(cfg)
	if err != nil {
		return err
	}
	items := schedule.Upcoming(meetings, at, cfg.Lookahead, cfg.MaxItems)

	uid, err := selector.PickMeeting(ctx, items, at)
	if err != nil {
		if errors.Is(err, selector.ErrSelectionCancelled) {
			return nil
		}
		return err
	}

	meeting, ok := schedule.FindByUID(items, uid)
	if !ok {
		return fmt.Errorf("meeting %q is no longer on the agenda", uid)
	}
	return joinMeeting(ctx, cfg, meeting)
}

func joinMeeting(ctx context.Context, cfg config.Runtime, meeting schedule.Meeting) error {
	if !meeting.HasConference() {
		return fmt.Errorf("%q has no conference link", meeting.Summary)
	}

	link := conference.JoinURL(meeting.ConferenceURL, conference.JoinOptions{
		DisplayName:    cfg.DisplayName,
		ConferenceBase: cfg.ConferenceBase,
	})
	if _, err := launcher(cfg).Join(ctx, link); err != nil {
		return fmt.Errorf("join %q: %w", meeting.Summary, err)
	}
	return nil
}

// followCurrent joins the meeting in progress, or closes the room browser
// when no meeting with a link is running.
func followCurrent(ctx context.Context, cfg config.Runtime, current *schedule.Meeting) error {
	if current != nil && current.HasConference() {
		return joinMeeting(ctx, cfg, *current)
	}
	return launcher(cfg).Leave(ctx)
}

func launcher(cfg config.Runtime) *conference.Launcher {
	return &conference.Launcher{
		Browser:  cfg.Browser,
		Profile:  cfg.BrowserProfile,
		LockFile: cfg.LockFile,
		Settle:   joinSettle,
		Runner:   newRunner(),
	}
}

func setMic(ctx context.Context, cfg config.Runtime, action string, stdout io.Writer) error {
	mic, err := audio.Open(ctx)
	if err != nil {
		return err
	}
	defer mic.Close()

	var device audio.Device
	switch action {
	case "on":
		device, err = mic.SetMute(ctx, cfg.MicSource, false)
	case "off":
		device, err = mic.SetMute(ctx, cfg.MicSource, true)
	default:
		device, err = mic.Toggle(ctx, cfg.MicSource)
	}
	if err != nil {
		return err
	}

	status := "live"
	if device.Muted {
		status = "muted"
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", audio.DisplayName(device), status)
	return nil
}

// readMicState returns nil when the sound server cannot be reached.
func readMicState(ctx context.Context, cfg config.Runtime) *bool {
	mic, err := audio.Open(ctx)
	if err != nil {
		slog.Debug("Microphone state unavailable", "error", err)
		return nil
	}
	defer mic.Close()

	device, err := mic.Resolve(ctx, cfg.MicSource)
	if err != nil {
		slog.Debug("Microphone state unavailable", "error", err)
		return nil
	}
	muted := device.Muted
	return &muted
}

func writeOutput(w io.Writer, output waybar.Output) error {
	payload, err := waybar.Encode(output)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write trailing newline: %w", err)
	}
	return nil
}
