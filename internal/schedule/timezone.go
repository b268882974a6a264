package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// Map of common Windows timezone names to IANA timezone names. Exchange and
// Outlook feeds use these as TZID values.
var windowsToIANA = map[string]string{
	"Pacific Standard Time":        "America/Los_Angeles",
	"Mountain Standard Time":       "America/Denver",
	"Central Standard Time":        "America/Chicago",
	"Eastern Standard Time":        "America/New_York",
	"Atlantic Standard Time":       "America/Halifax",
	"Alaskan Standard Time":        "America/Anchorage",
	"Hawaiian Standard Time":       "Pacific/Honolulu",
	"GMT Standard Time":            "Europe/London",
	"Greenwich Standard Time":      "Atlantic/Reykjavik",
	"W. Europe Standard Time":      "Europe/Berlin",
	"Romance Standard Time":        "Europe/Paris",
	"Central Europe Standard Time": "Europe/Budapest",
	"E. Europe Standard Time":      "Europe/Chisinau",
	"China Standard Time":          "Asia/Shanghai",
	"Tokyo Standard Time":          "Asia/Tokyo",
	"India Standard Time":          "Asia/Kolkata",
	"AUS Eastern Standard Time":    "Australia/Sydney",
	"UTC":                          "UTC",
}

// Zones is the timezone context a parse runs against. It owns the zones
// defined by VTIMEZONE blocks and a cache of IANA lookups. Registration is
// additive: an identifier is never replaced once known.
type Zones struct {
	mu       sync.Mutex
	floating *time.Location
	custom   map[string]*customZone
	iana     map[string]*time.Location
}

// NewZones creates a context. Floating times (no TZID, no trailing Z) are
// read in floating; nil means time.Local.
func NewZones(floating *time.Location) *Zones {
	if floating == nil {
		floating = time.Local
	}
	return &Zones{
		floating: floating,
		custom:   make(map[string]*customZone),
		iana:     make(map[string]*time.Location),
	}
}

// Known reports whether tzid resolves without a VTIMEZONE definition or has
// already been registered.
func (z *Zones) Known(tzid string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.knownLocked(strings.TrimSpace(tzid))
}

// Register stores a custom zone under tzid unless the identifier is already
// known. It reports whether the zone was inserted.
func (z *Zones) Register(tzid string, zone *customZone) bool {
	tzid = strings.TrimSpace(tzid)
	if tzid == "" || zone == nil {
		return false
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.knownLocked(tzid) {
		return false
	}
	z.custom[tzid] = zone
	return true
}

// RegisterTimezone registers a VTIMEZONE block. Blocks with no usable
// observance are rejected with an error; known identifiers are skipped.
func (z *Zones) RegisterTimezone(block *ics.VTimezone) (bool, error) {
	tzid := strings.TrimSpace(propertyValue(block.GetProperty(ics.ComponentProperty(ics.PropertyTzid))))
	if tzid == "" {
		return false, fmt.Errorf("vtimezone without TZID")
	}
	if z.Known(tzid) {
		return false, nil
	}

	zone, err := buildCustomZone(tzid, block.Components)
	if err != nil {
		return false, fmt.Errorf("timezone %s: %w", tzid, err)
	}
	return z.Register(tzid, zone), nil
}

// ParseTime converts a DATE or DATE-TIME property value to an instant.
// TZIDs that are neither IANA, Windows, nor registered fall back to the
// floating location.
func (z *Zones) ParseTime(value string, params map[string][]string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	if strings.HasSuffix(trimmed, "Z") {
		for _, layout := range []string{"20060102T150405Z", "20060102T1504Z"} {
			if parsed, err := time.Parse(layout, trimmed); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse time value %q", trimmed)
	}

	wall, err := parseWall(trimmed)
	if err != nil {
		return time.Time{}, err
	}

	return z.resolveWall(wall, tzidParam(params)), nil
}

// anchor returns the feed-defined zone a local time is anchored to, along
// with its wall-clock fields in UTC. It returns nil for UTC, floating and
// IANA-anchored values, whose locations already carry their DST rules.
func (z *Zones) anchor(value string, params map[string][]string) (*customZone, time.Time) {
	trimmed := strings.TrimSpace(value)
	tzid := tzidParam(params)
	if trimmed == "" || tzid == "" || strings.HasSuffix(trimmed, "Z") {
		return nil, time.Time{}
	}
	wall, err := parseWall(trimmed)
	if err != nil {
		return nil, time.Time{}
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.ianaLocked(tzid) != nil {
		return nil, time.Time{}
	}
	zone, ok := z.custom[tzid]
	if !ok {
		return nil, time.Time{}
	}
	return zone, wall
}

func tzidParam(params map[string][]string) string {
	ids, ok := params[string(ics.ParameterTzid)]
	if !ok || len(ids) == 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(ids[0]), `"`)
}

func (z *Zones) resolveWall(wall time.Time, tzid string) time.Time {
	z.mu.Lock()
	defer z.mu.Unlock()

	if tzid != "" {
		if loc := z.ianaLocked(tzid); loc != nil {
			return inLocation(wall, loc)
		}
		if zone, ok := z.custom[tzid]; ok {
			return zone.instant(wall)
		}
	}
	return inLocation(wall, z.floating)
}

func (z *Zones) knownLocked(tzid string) bool {
	if tzid == "" {
		return false
	}
	if _, ok := z.custom[tzid]; ok {
		return true
	}
	return z.ianaLocked(tzid) != nil
}

func (z *Zones) ianaLocked(tzid string) *time.Location {
	if loc, ok := z.iana[tzid]; ok {
		return loc
	}

	var loc *time.Location
	name := tzid
	if mapped, ok := windowsToIANA[tzid]; ok {
		name = mapped
	}
	// LoadLocation("") and "Local" are valid but never what a feed means.
	if name != "" && name != "Local" {
		if loaded, err := time.LoadLocation(name); err == nil {
			loc = loaded
		}
	}
	z.iana[tzid] = loc
	return loc
}

func inLocation(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
}

// parseWall reads a floating DATE or DATE-TIME as wall-clock fields in UTC.
func parseWall(value string) (time.Time, error) {
	for _, layout := range []string{"20060102T150405", "20060102T1504", "20060102"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time value %q", value)
}

type observance struct {
	onsets     *rrule.Set
	offsetFrom int
	offsetTo   int
	first      time.Time
}

type customZone struct {
	name        string
	observances []observance
}

func buildCustomZone(tzid string, components []ics.Component) (*customZone, error) {
	zone := &customZone{name: tzid}
	for _, component := range components {
		base, ok := observanceBase(component)
		if !ok {
			continue
		}
		obs, err := parseObservance(base)
		if err != nil {
			continue
		}
		zone.observances = append(zone.observances, obs)
	}

	if len(zone.observances) == 0 {
		return nil, fmt.Errorf("no STANDARD or DAYLIGHT observance")
	}

	sort.SliceStable(zone.observances, func(i, j int) bool {
		return zone.observances[i].first.Before(zone.observances[j].first)
	})
	return zone, nil
}

func observanceBase(component ics.Component) (*ics.ComponentBase, bool) {
	switch c := component.(type) {
	case *ics.Standard:
		return &c.ComponentBase, true
	case *ics.Daylight:
		return &c.ComponentBase, true
	case *ics.GeneralComponent:
		token := strings.ToUpper(strings.TrimSpace(c.Token))
		if token == "STANDARD" || token == "DAYLIGHT" {
			return &c.ComponentBase, true
		}
	}
	return nil, false
}

func parseObservance(base *ics.ComponentBase) (observance, error) {
	start, err := parseWall(strings.TrimSpace(propertyValue(base.GetProperty(ics.ComponentPropertyDtStart))))
	if err != nil {
		return observance{}, fmt.Errorf("observance DTSTART: %w", err)
	}

	offsetTo, err := parseUTCOffset(propertyValue(base.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetto))))
	if err != nil {
		return observance{}, fmt.Errorf("observance TZOFFSETTO: %w", err)
	}

	offsetFrom, err := parseUTCOffset(propertyValue(base.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetfrom))))
	if err != nil {
		offsetFrom = offsetTo
	}

	set := &rrule.Set{}
	set.RDate(start)

	if value := strings.TrimSpace(propertyValue(base.GetProperty(ics.ComponentPropertyRrule))); value != "" {
		if opt, optErr := rrule.StrToROption(value); optErr == nil {
			opt.Dtstart = start
			if rule, ruleErr := rrule.NewRRule(*opt); ruleErr == nil {
				set.RRule(rule)
			}
		}
	}

	for _, property := range base.GetProperties(ics.ComponentPropertyRdate) {
		if property == nil {
			continue
		}
		for _, value := range strings.Split(property.Value, ",") {
			if onset, parseErr := parseWall(strings.TrimSpace(value)); parseErr == nil {
				set.RDate(onset)
			}
		}
	}

	return observance{onsets: set, offsetFrom: offsetFrom, offsetTo: offsetTo, first: start}, nil
}

// offsetAt returns the UTC offset in effect at a wall-clock time: the
// observance with the latest onset not after wall wins. Before every onset
// the earliest observance's TZOFFSETFROM applies.
func (c *customZone) offsetAt(wall time.Time) int {
	var (
		latest time.Time
		offset = c.observances[0].offsetFrom
		found  bool
	)
	for _, obs := range c.observances {
		onset := obs.onsets.Before(wall, true)
		if onset.IsZero() {
			continue
		}
		if !found || onset.After(latest) {
			latest = onset
			offset = obs.offsetTo
			found = true
		}
	}
	return offset
}

func (c *customZone) instant(wall time.Time) time.Time {
	offset := c.offsetAt(wall)
	utc := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, time.UTC)
	return utc.Add(-time.Duration(offset) * time.Second).In(time.FixedZone(c.name, offset))
}

// wallOf is the inverse of instant: the zone's wall-clock reading of t,
// located in UTC. The offset is refined once so instants just past a switch
// read with the new offset.
func (c *customZone) wallOf(t time.Time) time.Time {
	utc := t.UTC()
	wall := utc.Add(time.Duration(c.offsetAt(utc)) * time.Second)
	return utc.Add(time.Duration(c.offsetAt(wall)) * time.Second)
}

// parseUTCOffset reads "+HHMM" or "+HHMMSS" into seconds east of UTC.
func parseUTCOffset(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 5 && len(trimmed) != 7 {
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}

	sign := 1
	switch trimmed[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}

	hours, err := strconv.Atoi(trimmed[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}
	minutes, err := strconv.Atoi(trimmed[3:5])
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}
	seconds := 0
	if len(trimmed) == 7 {
		seconds, err = strconv.Atoi(trimmed[5:7])
		if err != nil {
			return 0, fmt.Errorf("invalid utc offset %q", value)
		}
	}
	return sign * (hours*3600 + minutes*60 + seconds), nil
}
