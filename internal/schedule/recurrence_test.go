package schedule

import (
	"testing"
	"time"
)

func TestExpandRecurrences_WeeklyWithExdate(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	exdate := start.Add(7 * 24 * time.Hour)

	events := []RawEvent{
		{
			UID:     "event-1",
			Summary: "Weekly",
			Start:   start,
			End:     end,
			RRULE:   "FREQ=WEEKLY;COUNT=3;BYDAY=MO",
			ExDates: []time.Time{exdate},
		},
	}

	windowStart := start.Add(-time.Hour)
	windowEnd := start.Add(22 * 24 * time.Hour)
	meetings := NewParser(nil).ExpandRecurrences(events, windowStart, windowEnd)

	if len(meetings) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(meetings))
	}
	if !meetings[0].Start.Equal(start) {
		t.Fatalf("unexpected first occurrence start: %v", meetings[0].Start)
	}
	third := start.Add(14 * 24 * time.Hour)
	if !meetings[1].Start.Equal(third) {
		t.Fatalf("unexpected second occurrence start: %v", meetings[1].Start)
	}
}

func TestExpandRecurrences_RecurrenceOverride(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	second := start.Add(7 * 24 * time.Hour)

	secondRecurrence := second
	events := []RawEvent{
		{
			UID:     "event-2",
			Summary: "Sync",
			Start:   start,
			End:     start.Add(30 * time.Minute),
			RRULE:   "FREQ=WEEKLY;COUNT=2;BYDAY=MO",
		},
		{
			UID:          "event-2",
			Summary:      "Sync (moved)",
			RecurrenceID: second.Format("20060102T150405Z"),
			RecurrenceAt: &secondRecurrence,
			Start:        second.Add(15 * time.Minute),
			End:          second.Add(45 * time.Minute),
		},
	}

	windowStart := start.Add(-time.Hour)
	windowEnd := start.Add(14 * 24 * time.Hour)
	meetings := NewParser(nil).ExpandRecurrences(events, windowStart, windowEnd)

	if len(meetings) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(meetings))
	}
	if meetings[1].Summary != "Sync (moved)" {
		t.Fatalf("expected override summary, got %q", meetings[1].Summary)
	}
}

func TestExpandRecurrences_InvalidRuleKeepsMaster(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []RawEvent{{UID: "broken", Start: start, End: start.Add(time.Hour), RRULE: "FREQ=SOMETIMES"}}

	meetings := NewParser(nil).ExpandRecurrences(events, start.Add(-time.Hour), start.Add(time.Hour))
	if len(meetings) != 1 {
		t.Fatalf("expected master occurrence, got %d", len(meetings))
	}
}

func TestParseWindow_FeedTimezoneFollowsDaylightSaving(t *testing.T) {
	t.Parallel()

	feed := buildFeed(officeTimezone, `BEGIN:VEVENT
UID:weekly-sync
SUMMARY:Weekly sync
DTSTART;TZID=Acme-Office:20260105T090000
DTEND;TZID=Acme-Office:20260105T093000
RRULE:FREQ=WEEKLY;BYDAY=MO
EXDATE;TZID=Acme-Office:20260406T090000
END:VEVENT`, `BEGIN:VEVENT
UID:summer-one-off
SUMMARY:Summer one-off
DTSTART;TZID=Acme-Office:20260707T090000
DTEND;TZID=Acme-Office:20260707T093000
END:VEVENT`)

	tests := []struct {
		name        string
		windowStart time.Time
		windowEnd   time.Time
		wantUTC     []time.Time
	}{
		{
			// The zone switches to +0200 on Sunday 29 March 2026; the
			// 6 April occurrence is excluded.
			name:        "across_march_switch",
			windowStart: time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC),
			windowEnd:   time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC),
			wantUTC: []time.Time{
				time.Date(2026, 3, 23, 8, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 30, 7, 0, 0, 0, time.UTC),
			},
		},
		{
			name:        "summer_matches_one_off",
			windowStart: time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC),
			windowEnd:   time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC),
			wantUTC: []time.Time{
				time.Date(2026, 7, 6, 7, 0, 0, 0, time.UTC),
				time.Date(2026, 7, 7, 7, 0, 0, 0, time.UTC),
			},
		},
		{
			name:        "back_to_standard_time",
			windowStart: time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
			windowEnd:   time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC),
			wantUTC: []time.Time{
				time.Date(2026, 10, 26, 8, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			meetings, err := NewParser(NewZones(time.UTC)).ParseWindow(feed, tc.windowStart, tc.windowEnd)
			if err != nil {
				t.Fatalf("parse window: %v", err)
			}
			if len(meetings) != len(tc.wantUTC) {
				t.Fatalf("expected %d meetings, got %d: %+v", len(tc.wantUTC), len(meetings), meetings)
			}
			for i, want := range tc.wantUTC {
				if !meetings[i].Start.Equal(want) {
					t.Fatalf("meeting %d (%s) starts %v, want %v", i, meetings[i].Summary, meetings[i].Start.UTC(), want)
				}
				if got := meetings[i].End.Sub(meetings[i].Start); got != 30*time.Minute {
					t.Fatalf("meeting %d lasts %v", i, got)
				}
			}
		})
	}
}
