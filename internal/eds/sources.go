package eds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"gopkg.in/ini.v1"
)

var ErrCalendarNotFound = errors.New("calendar not found")

// Calendar is an EDS source that carries a [Calendar] extension.
type Calendar struct {
	UID     string
	Name    string
	Backend string
	Enabled bool
}

type sourceEntry struct {
	UID         string
	DisplayName string
	Enabled     bool

	HasCalendar     bool
	CalendarEnabled bool
	CalendarBackend string
}

// calendars lists every source that carries a calendar, sorted by name.
func (s *session) calendars(ctx context.Context) ([]Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sourceObj := s.conn.Object(s.registry, sourceManagerPath)

	managed := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if err := sourceObj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("eds GetManagedObjects: %w", err)
	}

	calendars := make([]Calendar, 0, len(managed))
	for _, ifaceMap := range managed {
		sourceProps, ok := ifaceMap["org.gnome.evolution.dataserver.Source"]
		if !ok {
			continue
		}

		uid := variantString(sourceProps, "UID")
		data := variantString(sourceProps, "Data")
		if strings.TrimSpace(uid) == "" || strings.TrimSpace(data) == "" {
			continue
		}

		entry, err := parseSourceEntry(uid, data)
		if err != nil || !entry.HasCalendar {
			continue
		}
		calendars = append(calendars, entry.calendar())
	}

	sort.SliceStable(calendars, func(i, j int) bool {
		nameI := strings.ToLower(calendars[i].Name)
		nameJ := strings.ToLower(calendars[j].Name)
		if nameI != nameJ {
			return nameI < nameJ
		}
		return calendars[i].UID < calendars[j].UID
	})

	return calendars, nil
}

// findCalendar matches ref against UIDs first, then display names
// case-insensitively. Disabled calendars never match.
func findCalendar(calendars []Calendar, ref string) (Calendar, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Calendar{}, fmt.Errorf("empty calendar reference: %w", ErrCalendarNotFound)
	}

	for _, calendar := range calendars {
		if calendar.Enabled && calendar.UID == ref {
			return calendar, nil
		}
	}
	for _, calendar := range calendars {
		if calendar.Enabled && strings.EqualFold(calendar.Name, ref) {
			return calendar, nil
		}
	}
	return Calendar{}, fmt.Errorf("%q: %w", ref, ErrCalendarNotFound)
}

func parseSourceEntry(uid, data string) (sourceEntry, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		AllowShadows:        true,
	}, []byte(data))
	if err != nil {
		return sourceEntry{}, err
	}

	entry := sourceEntry{UID: uid}

	dataSection := cfg.Section("Data Source")
	entry.DisplayName = strings.TrimSpace(dataSection.Key("DisplayName").String())
	entry.Enabled = parseBoolWithDefault(dataSection.Key("Enabled").String(), true)

	calendarSection, err := cfg.GetSection("Calendar")
	if err == nil {
		entry.HasCalendar = true
		entry.CalendarEnabled = parseBoolWithDefault(calendarSection.Key("Enabled").String(), true)
		entry.CalendarBackend = strings.TrimSpace(calendarSection.Key("BackendName").String())
	}

	return entry, nil
}

func (e sourceEntry) calendar() Calendar {
	name := e.DisplayName
	if name == "" {
		name = e.UID
	}
	return Calendar{
		UID:     e.UID,
		Name:    name,
		Backend: e.CalendarBackend,
		Enabled: e.Enabled && e.CalendarEnabled,
	}
}

func variantString(props map[string]dbus.Variant, key string) string {
	value, ok := props[key]
	if !ok {
		return ""
	}
	asString, ok := value.Value().(string)
	if !ok {
		return ""
	}
	return asString
}

func parseBoolWithDefault(value string, fallback bool) bool {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
