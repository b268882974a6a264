package feed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rbright/waybar-meeting-room/internal/eds"
	"github.com/rbright/waybar-meeting-room/internal/httpx"
)

const edsPrefix = "eds:"

// Source yields the raw text of one calendar feed.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string

	// Window bounds the objects requested from sources that query by time.
	WindowStart time.Time
	WindowEnd   time.Time
}

// New picks a source from ref: an http(s) URL, "eds:<calendar>", or a file
// path.
func New(ref string, opts Options) (Source, error) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)

	switch {
	case ref == "":
		return nil, fmt.Errorf("empty calendar source")
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return HTTPSource{URL: ref, Timeout: opts.Timeout, UserAgent: opts.UserAgent}, nil
	case strings.HasPrefix(lower, edsPrefix):
		calendar := strings.TrimSpace(ref[len(edsPrefix):])
		if calendar == "" {
			return nil, fmt.Errorf("eds source needs a calendar uid or name")
		}
		return EDSSource{Calendar: calendar, WindowStart: opts.WindowStart, WindowEnd: opts.WindowEnd}, nil
	default:
		return FileSource{Path: strings.TrimPrefix(ref, "file://")}, nil
	}
}

type HTTPSource struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

func (s HTTPSource) Fetch(ctx context.Context) (string, error) {
	headers := map[string]string{"Accept": "text/calendar"}
	if s.UserAgent != "" {
		headers["User-Agent"] = s.UserAgent
	}

	body, err := httpx.Get(ctx, s.URL, headers, s.Timeout)
	if err != nil {
		return "", fmt.Errorf("fetch calendar: %w", err)
	}
	return string(body), nil
}

type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read calendar file: %w", err)
	}
	return string(payload), nil
}

type EDSSource struct {
	Calendar    string
	WindowStart time.Time
	WindowEnd   time.Time
}

func (s EDSSource) Fetch(ctx context.Context) (string, error) {
	text, err := eds.FetchCalendarText(ctx, s.Calendar, s.WindowStart, s.WindowEnd)
	if err != nil {
		return "", fmt.Errorf("read eds calendar: %w", err)
	}
	return text, nil
}
