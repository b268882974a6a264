package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ExpandRecurrences turns events into meetings overlapping the window.
// RRULE masters are expanded with their RDATE/EXDATE sets and RECURRENCE-ID
// overrides replace the occurrence they point at. A rule that does not parse
// degrades to the master occurrence.
func (p *Parser) ExpandRecurrences(events []RawEvent, windowStart, windowEnd time.Time) []Meeting {
	if len(events) == 0 {
		return nil
	}

	masters := make([]RawEvent, 0, len(events))
	singles := make([]RawEvent, 0, len(events))
	overrides := make(map[string]RawEvent)
	usedOverrides := make(map[string]bool)

	for _, event := range events {
		switch {
		case event.RRULE != "" && event.UID != "":
			masters = append(masters, event)
		case event.RecurrenceID != "" && event.UID != "":
			overrides[overrideKeyForEvent(event)] = event
		default:
			singles = append(singles, event)
		}
	}

	meetings := make([]Meeting, 0, len(events))

	for _, event := range singles {
		if !overlaps(event.Start, event.End, windowStart, windowEnd) {
			continue
		}
		meetings = append(meetings, p.meetingFromEvent(event, event.Start, event.End))
	}

	for _, master := range masters {
		duration := master.End.Sub(master.Start)

		for _, start := range expandRRuleStarts(master, windowStart, windowEnd) {
			key := overrideKey(master.UID, start)
			if override, ok := overrides[key]; ok {
				usedOverrides[key] = true
				if !overlaps(override.Start, override.End, windowStart, windowEnd) {
					continue
				}
				meetings = append(meetings, p.occurrence(override, override.Start, override.End))
				continue
			}

			end := start.Add(duration)
			if !overlaps(start, end, windowStart, windowEnd) {
				continue
			}
			meetings = append(meetings, p.occurrence(master, start, end))
		}
	}

	for key, override := range overrides {
		if usedOverrides[key] {
			continue
		}
		if !overlaps(override.Start, override.End, windowStart, windowEnd) {
			continue
		}
		meetings = append(meetings, p.occurrence(override, override.Start, override.End))
	}

	unique := dedupeMeetings(meetings)
	SortMeetings(unique)
	return unique
}

// occurrence builds a meeting for one instance of a recurring event. The UID
// carries the instance start so list keys stay distinct.
func (p *Parser) occurrence(event RawEvent, start, end time.Time) Meeting {
	meeting := p.meetingFromEvent(event, start, end)
	meeting.UID = fmt.Sprintf("%s-%d", meeting.UID, start.Unix())
	meeting.Recurring = true
	return meeting
}

func expandRRuleStarts(event RawEvent, windowStart, windowEnd time.Time) []time.Time {
	opt, err := rrule.StrToROption(event.RRULE)
	if err != nil {
		return fallbackStarts(event, windowStart, windowEnd, err)
	}

	// Occurrences that started before the window may still be running.
	lookback := event.End.Sub(event.Start)
	if lookback < 0 {
		lookback = 0
	}

	if event.wallZone != nil {
		return expandWallClock(event, *opt, windowStart.Add(-lookback), windowEnd)
	}

	opt.Dtstart = event.Start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return fallbackStarts(event, windowStart, windowEnd, err)
	}

	set := &rrule.Set{}
	set.RRule(rule)
	for _, exdate := range event.ExDates {
		set.ExDate(exdate)
	}
	for _, rdate := range event.RDates {
		set.RDate(rdate)
	}

	starts := set.Between(windowStart.Add(-lookback), windowEnd, true)

	sort.Slice(starts, func(i, j int) bool {
		return starts[i].Before(starts[j])
	})
	return starts
}

// expandWallClock runs the rule on wall-clock readings of the event's
// feed-defined zone and converts each occurrence back to an instant.
// RDATE and EXDATE values are read on the same clock.
func expandWallClock(event RawEvent, opt rrule.ROption, from, until time.Time) []time.Time {
	zone := event.wallZone
	opt.Dtstart = event.wallStart
	if !opt.Until.IsZero() {
		opt.Until = zone.wallOf(opt.Until)
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return fallbackStarts(event, from, until, err)
	}

	set := &rrule.Set{}
	set.RRule(rule)
	for _, exdate := range event.ExDates {
		set.ExDate(zone.wallOf(exdate))
	}
	for _, rdate := range event.RDates {
		set.RDate(zone.wallOf(rdate))
	}

	// A day of slack on each side covers any UTC offset. Occurrences are
	// bounded again once converted.
	walls := set.Between(zone.wallOf(from).Add(-24*time.Hour), zone.wallOf(until).Add(24*time.Hour), true)
	starts := make([]time.Time, 0, len(walls))
	for _, wall := range walls {
		start := zone.instant(wall)
		if start.Before(from) || !start.Before(until) {
			continue
		}
		starts = append(starts, start)
	}

	sort.Slice(starts, func(i, j int) bool {
		return starts[i].Before(starts[j])
	})
	return starts
}

func fallbackStarts(event RawEvent, windowStart, windowEnd time.Time, err error) []time.Time {
	slog.Debug("Recurrence rule not expanded", "uid", event.UID, "rrule", event.RRULE, "error", err)
	if overlaps(event.Start, event.End, windowStart, windowEnd) {
		return []time.Time{event.Start}
	}
	return nil
}

func overlaps(start, end, windowStart, windowEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(windowStart) && start.Before(windowEnd)
	}
	return start.Before(windowEnd) && end.After(windowStart)
}

func dedupeMeetings(items []Meeting) []Meeting {
	if len(items) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	results := make([]Meeting, 0, len(items))
	for _, item := range items {
		key := meetingKey(item)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, item)
	}
	return results
}

func meetingKey(item Meeting) string {
	return strings.Join([]string{
		item.UID,
		item.Start.UTC().Format(time.RFC3339Nano),
		item.End.UTC().Format(time.RFC3339Nano),
		item.Summary,
	}, "|")
}

func overrideKeyForEvent(event RawEvent) string {
	if event.RecurrenceAt != nil {
		return overrideKey(event.UID, *event.RecurrenceAt)
	}
	return overrideKey(event.UID, event.Start)
}

func overrideKey(uid string, start time.Time) string {
	return fmt.Sprintf("%s|%s", uid, start.UTC().Format(time.RFC3339Nano))
}
