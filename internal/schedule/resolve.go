package schedule

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ResolveCurrentAndNext scans meetings in order. Current is the first
// meeting whose [Start, End) contains now; Next is the first meeting that
// starts strictly after now. The scan stops once both are found.
func ResolveCurrentAndNext(meetings []Meeting, now time.Time) Resolution {
	var res Resolution
	for i := range meetings {
		meeting := &meetings[i]
		if res.Current == nil && !now.Before(meeting.Start) && now.Before(meeting.End) {
			current := *meeting
			res.Current = &current
		}
		if res.Next == nil && meeting.Start.After(now) {
			next := *meeting
			res.Next = &next
		}
		if res.Current != nil && res.Next != nil {
			break
		}
	}
	return res
}

// Upcoming returns up to maxItems meetings that are still running at now or
// start within the lookahead, in start order.
func Upcoming(meetings []Meeting, now time.Time, within time.Duration, maxItems int) []Meeting {
	if len(meetings) == 0 || maxItems <= 0 {
		return nil
	}

	windowEnd := now.Add(within)
	items := make([]Meeting, 0, len(meetings))
	for _, meeting := range meetings {
		if !meeting.End.After(now) {
			continue
		}
		if meeting.Start.After(windowEnd) {
			continue
		}
		items = append(items, meeting)
	}

	SortMeetings(items)
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// FindByUID returns the meeting with the given UID.
func FindByUID(meetings []Meeting, uid string) (Meeting, bool) {
	for _, meeting := range meetings {
		if meeting.UID == uid {
			return meeting, true
		}
	}
	return Meeting{}, false
}

func CountdownText(now time.Time, meeting Meeting) string {
	if !meeting.Start.After(now) {
		return "now"
	}
	return HumanizeDuration(meeting.Start.Sub(now))
}

// RemainingText formats the time left in a meeting that is under way.
func RemainingText(now time.Time, meeting Meeting) string {
	if !meeting.End.After(now) {
		return "ended"
	}
	return HumanizeDuration(meeting.End.Sub(now)) + " left"
}

func HumanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}

	minutes := int(math.Ceil(d.Minutes()))
	days := minutes / (24 * 60)
	remaining := minutes % (24 * 60)
	hours := remaining / 60
	mins := remaining % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if mins > 0 {
		parts = append(parts, strconv.Itoa(mins)+"m")
	}
	if len(parts) == 0 {
		parts = append(parts, "0m")
	}
	return strings.Join(parts, " ")
}
