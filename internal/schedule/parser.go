package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

var (
	propertyConference       = ics.ComponentProperty("X-CONFERENCE")
	propertyConferenceID     = ics.ComponentProperty("X-CONFERENCE-ID")
	propertyGoogleConference = ics.ComponentProperty("X-GOOGLE-CONFERENCE")
)

// ParseError reports a feed that is not a well-formed calendar document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse calendar: %s", e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is, or wraps, a *ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

type Parser struct {
	zones          *Zones
	conferenceBase string
}

type Option func(*Parser)

// WithConferenceBase turns X-CONFERENCE-ID values into links by appending
// them to base.
func WithConferenceBase(base string) Option {
	return func(p *Parser) {
		p.conferenceBase = strings.TrimSpace(base)
	}
}

// NewParser returns a parser bound to a timezone context. A nil context gets
// a fresh one reading floating times in time.Local.
func NewParser(zones *Zones, opts ...Option) *Parser {
	if zones == nil {
		zones = NewZones(nil)
	}
	p := &Parser{zones: zones}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse is shorthand for NewParser(zones).Parse(raw).
func Parse(raw string, zones *Zones) ([]Meeting, error) {
	return NewParser(zones).Parse(raw)
}

// Parse turns a feed into meetings sorted by start, one per VEVENT.
func (p *Parser) Parse(raw string) ([]Meeting, error) {
	events, err := p.ParseEvents(raw)
	if err != nil {
		return nil, err
	}

	meetings := make([]Meeting, 0, len(events))
	for _, event := range events {
		meetings = append(meetings, p.meetingFromEvent(event, event.Start, event.End))
	}
	SortMeetings(meetings)
	return meetings, nil
}

// ParseWindow parses a feed and expands recurring events into the
// occurrences overlapping [windowStart, windowEnd).
func (p *Parser) ParseWindow(raw string, windowStart, windowEnd time.Time) ([]Meeting, error) {
	events, err := p.ParseEvents(raw)
	if err != nil {
		return nil, err
	}
	return p.ExpandRecurrences(events, windowStart, windowEnd), nil
}

// ParseEvents registers the feed's timezones and maps every VEVENT that has
// a resolvable start and end.
func (p *Parser) ParseEvents(raw string) ([]RawEvent, error) {
	if err := validateFeed(raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	parsed, err := ics.ParseCalendar(strings.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	p.registerTimezones(parsed)

	events := parsed.Events()
	results := make([]RawEvent, 0, len(events))
	dropped := 0
	for _, event := range events {
		mapped, mapErr := p.mapEvent(event)
		if mapErr != nil {
			dropped++
			slog.Debug("Skipping calendar entry", "uid", propertyValue(event.GetProperty(ics.ComponentPropertyUniqueId)), "reason", mapErr.Error())
			continue
		}
		results = append(results, mapped)
	}

	if dropped > 0 {
		slog.Debug("Dropped incomplete calendar entries", "dropped", dropped, "kept", len(results))
	}
	return results, nil
}

func (p *Parser) registerTimezones(calendar *ics.Calendar) {
	for _, component := range calendar.Components {
		block, ok := component.(*ics.VTimezone)
		if !ok {
			continue
		}
		registered, err := p.zones.RegisterTimezone(block)
		if err != nil {
			slog.Debug("Ignoring timezone definition", "error", err)
			continue
		}
		if registered {
			slog.Debug("Registered feed timezone", "tzid", propertyValue(block.GetProperty(ics.ComponentProperty(ics.PropertyTzid))))
		}
	}
}

func (p *Parser) mapEvent(event *ics.VEvent) (RawEvent, error) {
	startProp := event.GetProperty(ics.ComponentPropertyDtStart)
	start, err := p.timeProperty(startProp)
	if err != nil {
		return RawEvent{}, fmt.Errorf("start: %w", err)
	}

	end, err := p.timeProperty(event.GetProperty(ics.ComponentPropertyDtEnd))
	if err != nil {
		duration, durErr := parseDuration(propertyValue(event.GetProperty(ics.ComponentProperty(ics.PropertyDuration))))
		if durErr != nil {
			return RawEvent{}, fmt.Errorf("end: %w", err)
		}
		end = start.Add(duration)
	}

	recurrenceIDProp := event.GetProperty(ics.ComponentPropertyRecurrenceId)
	var recurrenceAt *time.Time
	if recurrenceIDProp != nil {
		if parsedRecurrence, parseErr := p.zones.ParseTime(recurrenceIDProp.Value, recurrenceIDProp.ICalParameters); parseErr == nil {
			recurrenceAt = &parsedRecurrence
		}
	}

	mapped := RawEvent{
		UID:              sanitize(propertyValue(event.GetProperty(ics.ComponentPropertyUniqueId))),
		RecurrenceID:     strings.TrimSpace(propertyValue(recurrenceIDProp)),
		RecurrenceAt:     recurrenceAt,
		Summary:          sanitize(unescapeText(propertyValue(event.GetProperty(ics.ComponentPropertySummary)))),
		Description:      strings.TrimSpace(unescapeText(propertyValue(event.GetProperty(ics.ComponentPropertyDescription)))),
		Location:         sanitize(unescapeText(propertyValue(event.GetProperty(ics.ComponentPropertyLocation)))),
		ConferenceFields: p.conferenceFields(event),
		Start:            start,
		End:              end,
		RRULE:            strings.TrimSpace(propertyValue(event.GetProperty(ics.ComponentPropertyRrule))),
		RDates:           p.collectDateTimes(event.GetProperties(ics.ComponentPropertyRdate)),
		ExDates:          p.collectDateTimes(event.GetProperties(ics.ComponentPropertyExdate)),
	}
	mapped.wallZone, mapped.wallStart = p.zones.anchor(startProp.Value, startProp.ICalParameters)
	return mapped, nil
}

func (p *Parser) conferenceFields(event *ics.VEvent) []string {
	fields := make([]string, 0, 3)
	if value, ok := optionalProperty(event.GetProperty(propertyConference)); ok {
		fields = append(fields, value)
	}
	if id, ok := optionalProperty(event.GetProperty(propertyConferenceID)); ok {
		switch {
		case wholeURLRegex.MatchString(id):
			fields = append(fields, id)
		case p.conferenceBase != "":
			fields = append(fields, p.conferenceBase+id)
		}
	}
	if value, ok := optionalProperty(event.GetProperty(propertyGoogleConference)); ok {
		fields = append(fields, value)
	}
	return fields
}

func (p *Parser) meetingFromEvent(event RawEvent, start, end time.Time) Meeting {
	link, _ := firstConferenceURL(event.ConferenceFields, event.Description)
	return Meeting{
		UID:           fallback(event.UID, strconv.FormatInt(start.Unix(), 10)),
		Summary:       fallback(event.Summary, defaultSummary),
		Description:   SanitizeDescription(stripLink(event.Description, link)),
		Location:      event.Location,
		Start:         start,
		End:           end,
		ConferenceURL: link,
		Provider:      ProviderOf(link),
	}
}

func (p *Parser) timeProperty(property *ics.IANAProperty) (time.Time, error) {
	if property == nil {
		return time.Time{}, fmt.Errorf("property missing")
	}
	return p.zones.ParseTime(property.Value, property.ICalParameters)
}

func (p *Parser) collectDateTimes(properties []*ics.IANAProperty) []time.Time {
	if len(properties) == 0 {
		return nil
	}

	results := make([]time.Time, 0, len(properties))
	for _, property := range properties {
		if property == nil {
			continue
		}
		for _, value := range strings.Split(property.Value, ",") {
			parsed, err := p.zones.ParseTime(value, property.ICalParameters)
			if err != nil {
				continue
			}
			results = append(results, parsed)
		}
	}
	return results
}

// SortMeetings orders meetings by start; ties fall back to summary and UID.
func SortMeetings(items []Meeting) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		if !strings.EqualFold(items[i].Summary, items[j].Summary) {
			return strings.ToLower(items[i].Summary) < strings.ToLower(items[j].Summary)
		}
		return items[i].UID < items[j].UID
	})
}

func validateFeed(raw string) error {
	body := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	upper := strings.ToUpper(body)

	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		preview := body
		if len(preview) > 60 {
			preview = preview[:60]
		}
		return fmt.Errorf("expected BEGIN:VCALENDAR, got %q", preview)
	}
	if !strings.HasSuffix(upper, "END:VCALENDAR") {
		return errors.New("missing END:VCALENDAR")
	}
	return nil
}

// parseDuration reads an RFC 5545 dur-value such as PT30M or P1DT2H.
func parseDuration(value string) (time.Duration, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	sign := time.Duration(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	if !strings.HasPrefix(trimmed, "P") || len(trimmed) < 3 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}

	var (
		total    time.Duration
		number   int
		digits   bool
		timePart bool
	)
	for _, r := range trimmed[1:] {
		switch {
		case r >= '0' && r <= '9':
			number = number*10 + int(r-'0')
			digits = true
			continue
		case r == 'T':
			timePart = true
			continue
		}

		if !digits {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		unit := time.Duration(number)
		switch {
		case r == 'W' && !timePart:
			total += unit * 7 * 24 * time.Hour
		case r == 'D' && !timePart:
			total += unit * 24 * time.Hour
		case r == 'H' && timePart:
			total += unit * time.Hour
		case r == 'M' && timePart:
			total += unit * time.Minute
		case r == 'S' && timePart:
			total += unit * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		number = 0
		digits = false
	}
	if digits {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return sign * total, nil
}

func propertyValue(property *ics.IANAProperty) string {
	if property == nil {
		return ""
	}
	return property.Value
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

func unescapeText(value string) string {
	return textUnescaper.Replace(value)
}

// optionalProperty returns a trimmed property value and whether it is set.
func optionalProperty(property *ics.IANAProperty) (string, bool) {
	value := strings.TrimSpace(propertyValue(property))
	return value, value != ""
}
