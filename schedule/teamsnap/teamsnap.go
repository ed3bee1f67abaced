// Package teamsnap implements capability.MatchSchedule against the
// TeamSnap v3 API: OAuth2 client-credentials auth, Collection+JSON
// hypermedia endpoint discovery from the API root, then a search against
// the discovered "events" collection for the configured team.
package teamsnap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
)

const apiBaseURL = "https://api.teamsnap.com/v3"
const tokenURL = "https://auth.teamsnap.com/oauth/token"

// Client is one team's TeamSnap integration. Each Client instance serves
// exactly one team, matching the one-[TEAMSNAP.<team>]-section-per-team
// configuration shape.
type Client struct {
	clientID     string
	clientSecret string
	teamID       string
	teamName     string
	http         *http.Client

	// overridable only by tests; production callers get the real hosts.
	tokenURLOverride   string
	apiBaseURLOverride string

	mu        sync.Mutex
	token     string
	endpoints map[string]string
}

func New(clientID, clientSecret, teamID, teamName string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		teamID:       teamID,
		teamName:     teamName,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) tokenEndpoint() string {
	if c.tokenURLOverride != "" {
		return c.tokenURLOverride
	}
	return tokenURL
}

func (c *Client) apiBase() string {
	if c.apiBaseURLOverride != "" {
		return c.apiBaseURLOverride
	}
	return apiBaseURL
}

func (c *Client) FindGame(ctx context.Context, windowStart, windowEnd time.Time) (*capability.Game, error) {
	if c.teamID == "" {
		return nil, nil
	}

	if err := c.ensureToken(ctx); err != nil {
		return nil, fmt.Errorf("authenticating with TeamSnap: %w", err)
	}
	if err := c.ensureEndpoints(ctx); err != nil {
		return nil, fmt.Errorf("discovering TeamSnap endpoints: %w", err)
	}

	eventsHref, ok := c.endpoints["events"]
	if !ok {
		return nil, fmt.Errorf("TeamSnap API did not advertise an events endpoint")
	}

	var doc collectionDoc
	if err := c.getJSON(ctx, eventsHref+"/search?"+url.Values{"team_id": {c.teamID}}.Encode(), &doc); err != nil {
		return nil, fmt.Errorf("searching TeamSnap events: %w", err)
	}

	for _, item := range doc.Collection.Items {
		fields := extractItemData(item)
		if !isGame(fields) {
			continue
		}
		start, ok := parseTeamSnapTime(fields["start_date"])
		if !ok {
			continue
		}
		duration := 120
		if raw, ok := fields["duration_in_minutes"]; ok {
			duration = parseMinutes(raw, duration)
		}
		end := start.Add(time.Duration(duration) * time.Minute)

		if windowStart.Before(end) && windowEnd.After(start) {
			startCopy := start
			return &capability.Game{
				MyTeamName:       c.teamName,
				OpponentTeamName: stringField(fields["opponent_name"]),
				Location:         stringField(fields["location_name"]),
				StartTime:        &startCopy,
				Source:           "teamsnap",
			}, nil
		}
	}
	return nil, nil
}

func isGame(fields map[string]any) bool {
	if v, ok := fields["is_game"]; ok {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	return stringField(fields["event_type"]) == "game"
}

func parseMinutes(v any, fallback int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return fallback
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func parseTeamSnapTime(v any) (time.Time, bool) {
	s := stringField(v)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.Replace(s, "Z", "+00:00", 1)
	for _, layout := range []string{"2006-01-02T15:04:05Z07:00", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- OAuth + Collection+JSON plumbing ---

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}
	c.token = body.AccessToken
	return nil
}

func (c *Client) ensureEndpoints(ctx context.Context) error {
	c.mu.Lock()
	discovered := c.endpoints != nil
	c.mu.Unlock()
	if discovered {
		return nil
	}

	var root collectionDoc
	if err := c.getJSON(ctx, c.apiBase(), &root); err != nil {
		return err
	}

	endpoints := map[string]string{}
	for _, link := range root.Collection.Links {
		if link.Rel != "" && link.Href != "" {
			endpoints[link.Rel] = link.Href
		}
	}

	c.mu.Lock()
	c.endpoints = endpoints
	c.mu.Unlock()
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out *collectionDoc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("TeamSnap API returned HTTP %d for %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// collectionDoc is the subset of the Collection+JSON hypermedia envelope
// TeamSnap's API wraps every response in that FindGame needs.
type collectionDoc struct {
	Collection struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
		Items []collectionItem `json:"items"`
	} `json:"collection"`
}

type collectionItem struct {
	Data []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	} `json:"data"`
}

func extractItemData(item collectionItem) map[string]any {
	out := map[string]any{}
	for _, field := range item.Data {
		out[field.Name] = field.Value
	}
	return out
}
