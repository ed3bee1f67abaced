// Package playmetrics implements capability.MatchSchedule against a
// PlayMetrics team's published calendar feed: the portal exposes one
// .ics URL per team (surfaced once, by hand, from its calendar-export
// page - there is no stable login API worth automating), which this
// client fetches and scans for VEVENTs that look like games.
package playmetrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
)

var gameKeywords = []string{"vs", "versus", "against", "@"}

// Client fetches and interprets one team's calendar feed on every
// lookup; PlayMetrics calendars are small and lookups run only for
// groups still awaiting match info, so no caching layer is warranted.
type Client struct {
	teamName    string
	calendarURL string
	http        *http.Client
}

func New(teamName, calendarURL string) *Client {
	return &Client{teamName: teamName, calendarURL: calendarURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) FindGame(ctx context.Context, windowStart, windowEnd time.Time) (*capability.Game, error) {
	if c.calendarURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.calendarURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building calendar request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching PlayMetrics calendar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PlayMetrics calendar returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading PlayMetrics calendar: %w", err)
	}

	for _, ev := range parseEvents(string(body)) {
		if !looksLikeGame(ev.summary) {
			continue
		}
		if ev.end.IsZero() {
			ev.end = ev.start.Add(2 * time.Hour)
		}
		if windowStart.Before(ev.end) && windowEnd.After(ev.start) {
			start := ev.start
			return &capability.Game{
				MyTeamName:       c.teamName,
				OpponentTeamName: extractOpponent(ev.summary),
				Location:         ev.location,
				StartTime:        &start,
				Source:           "playmetrics",
			}, nil
		}
	}
	return nil, nil
}

type icsEvent struct {
	summary, location string
	start, end        time.Time
}

// parseEvents does a line-oriented scan of an RFC 5545 VEVENT block set,
// reading only the fields FindGame needs (SUMMARY, LOCATION, DTSTART,
// DTEND). Folded (continuation) lines and VALUE=DATE-only events are
// handled; everything else in the feed is ignored.
func parseEvents(ics string) []icsEvent {
	lines := unfoldLines(ics)

	var events []icsEvent
	var cur *icsEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &icsEvent{}
		case line == "END:VEVENT":
			if cur != nil {
				events = append(events, *cur)
				cur = nil
			}
		case cur != nil:
			applyICSField(cur, line)
		}
	}
	return events
}

func applyICSField(ev *icsEvent, line string) {
	name, value, ok := splitICSLine(line)
	if !ok {
		return
	}
	switch {
	case name == "SUMMARY":
		ev.summary = value
	case name == "LOCATION":
		ev.location = value
	case name == "DTSTART":
		ev.start = parseICSTime(value)
	case name == "DTEND":
		ev.end = parseICSTime(value)
	}
}

// splitICSLine splits "NAME;PARAM=x:value" into ("NAME", "value", true).
func splitICSLine(line string) (name, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return "", "", false
	}
	prefix := line[:colon]
	value = line[colon+1:]
	name = prefix
	if semi := strings.Index(prefix, ";"); semi >= 0 {
		name = prefix[:semi]
	}
	return name, value, true
}

func parseICSTime(value string) time.Time {
	layouts := []string{"20060102T150405Z", "20060102T150405", "20060102"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// unfoldLines joins RFC 5545 folded continuation lines (a leading space
// or tab means "continues the previous line") before splitting on CRLF.
func unfoldLines(ics string) []string {
	raw := strings.Split(strings.ReplaceAll(ics, "\r\n", "\n"), "\n")
	var out []string
	for _, line := range raw {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(out) > 0 {
			out[len(out)-1] += strings.TrimPrefix(strings.TrimPrefix(line, " "), "\t")
			continue
		}
		out = append(out, line)
	}
	return out
}

func looksLikeGame(summary string) bool {
	lower := strings.ToLower(summary)
	for _, kw := range gameKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractOpponent(summary string) string {
	lower := strings.ToLower(summary)
	for _, kw := range gameKeywords {
		if idx := strings.Index(lower, kw); idx >= 0 {
			return strings.TrimSpace(summary[idx+len(kw):])
		}
	}
	return ""
}
