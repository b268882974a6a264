package eds

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const calendarInterface = "org.gnome.evolution.dataserver.Calendar"

var tzidParamRegex = regexp.MustCompile(`(?i);TZID=("[^"]+"|[^;:]+)`)

// FetchCalendarText reads the objects of one calendar, referenced by UID or
// display name, that occur in the window. They are returned as a single
// VCALENDAR document together with the VTIMEZONE definitions the backend
// holds for every referenced TZID.
func FetchCalendarText(ctx context.Context, ref string, windowStart, windowEnd time.Time) (string, error) {
	s, err := dial(ctx)
	if err != nil {
		return "", err
	}
	defer s.close()

	calendars, err := s.calendars(ctx)
	if err != nil {
		return "", err
	}
	calendar, err := findCalendar(calendars, ref)
	if err != nil {
		return "", err
	}

	factory := s.conn.Object(s.factory, calendarFactoryPath)
	objectPath, busName, err := openCalendar(ctx, factory, calendar.UID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", calendar.Name, err)
	}

	calendarObj := s.conn.Object(busName, dbus.ObjectPath(objectPath))
	defer func() {
		_ = calendarObj.Call(calendarInterface+".Close", 0)
	}()

	var properties []string
	if err := calendarObj.CallWithContext(ctx, calendarInterface+".Open", 0).Store(&properties); err != nil {
		return "", fmt.Errorf("%s: open backend: %w", calendar.Name, err)
	}

	var payloads []string
	query := buildTimeRangeQuery(windowStart, windowEnd)
	if err := calendarObj.CallWithContext(ctx, calendarInterface+".GetObjectList", 0, query).Store(&payloads); err != nil {
		return "", fmt.Errorf("%s: query: %w", calendar.Name, err)
	}

	timezones := make([]string, 0)
	for _, tzid := range referencedTZIDs(payloads) {
		var block string
		if err := calendarObj.CallWithContext(ctx, calendarInterface+".GetTimezone", 0, tzid).Store(&block); err != nil {
			slog.Debug("EDS timezone unavailable", "calendar", calendar.Name, "tzid", tzid, "error", err)
			continue
		}
		timezones = append(timezones, block)
	}

	slog.Debug("EDS calendar read", "calendar", calendar.Name, "objects", len(payloads), "timezones", len(timezones))
	return wrapCalendar(timezones, payloads), nil
}

func openCalendar(ctx context.Context, factory dbus.BusObject, sourceUID string) (objectPath string, busName string, err error) {
	if callErr := factory.CallWithContext(ctx, "org.gnome.evolution.dataserver.CalendarFactory.OpenCalendar", 0, strings.TrimSpace(sourceUID)).Store(&objectPath, &busName); callErr != nil {
		return "", "", fmt.Errorf("OpenCalendar: %w", callErr)
	}
	if strings.TrimSpace(objectPath) == "" {
		return "", "", fmt.Errorf("OpenCalendar returned empty object path")
	}
	if strings.TrimSpace(busName) == "" {
		return "", "", fmt.Errorf("OpenCalendar returned empty bus name")
	}
	return objectPath, busName, nil
}

func buildTimeRangeQuery(windowStart, windowEnd time.Time) string {
	start := windowStart.UTC().Format("20060102T150405Z")
	end := windowEnd.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("(occur-in-time-range? (make-time \"%s\") (make-time \"%s\"))", start, end)
}

// referencedTZIDs returns the distinct TZID parameters used by payloads,
// sorted.
func referencedTZIDs(payloads []string) []string {
	seen := make(map[string]struct{})
	for _, payload := range payloads {
		for _, match := range tzidParamRegex.FindAllStringSubmatch(payload, -1) {
			tzid := strings.Trim(strings.TrimSpace(match[1]), `"`)
			if tzid == "" {
				continue
			}
			seen[tzid] = struct{}{}
		}
	}

	tzids := make([]string, 0, len(seen))
	for tzid := range seen {
		tzids = append(tzids, tzid)
	}
	sort.Strings(tzids)
	return tzids
}

// wrapCalendar joins component blocks into one CRLF-delimited VCALENDAR.
// Payloads that already are a VCALENDAR contribute their inner components.
func wrapCalendar(timezones, payloads []string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//waybar-meeting-room//EDS//EN\r\n")
	for _, block := range append(append([]string{}, timezones...), payloads...) {
		for _, line := range componentLines(block) {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func componentLines(block string) []string {
	raw := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "BEGIN:VCALENDAR", "END:VCALENDAR":
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
