package schedule

import "time"

const defaultSummary = "Meeting"

type Meeting struct {
	UID           string    `json:"uid"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description,omitempty"`
	Location      string    `json:"location,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ConferenceURL string    `json:"conferenceUrl,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	Recurring     bool      `json:"recurring,omitempty"`
}

// HasConference reports whether the meeting carries a joinable link.
func (m Meeting) HasConference() bool {
	return m.ConferenceURL != ""
}

// Resolution is the pair of meetings a dashboard shows for a reference instant.
// Either side may be nil.
type Resolution struct {
	Current *Meeting `json:"current,omitempty"`
	Next    *Meeting `json:"next,omitempty"`
}

// RawEvent is a VEVENT with its instants resolved but before conference
// extraction and sanitization.
type RawEvent struct {
	UID          string
	RecurrenceID string
	RecurrenceAt *time.Time

	Summary          string
	Description      string
	Location         string
	ConferenceFields []string

	Start time.Time
	End   time.Time

	RRULE   string
	RDates  []time.Time
	ExDates []time.Time

	// Set when DTSTART is anchored to a VTIMEZONE from the feed. Rules are
	// then expanded on the wall clock so each occurrence picks up the offset
	// in effect on its own date.
	wallStart time.Time
	wallZone  *customZone
}
