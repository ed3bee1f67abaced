package playmetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Practice\r\n" +
	"DTSTART:20260301T140000Z\r\n" +
	"DTEND:20260301T153000Z\r\n" +
	"LOCATION:Training Field\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Thunder FC vs Lightning SC\r\n" +
	"DTSTART:20260301T180000Z\r\n" +
	"DTEND:20260301T193000Z\r\n" +
	"LOCATION:Field 3\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFindGameMatchesOverlappingGameEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleICS))
	}))
	defer server.Close()

	c := New("Thunder FC", server.URL)
	windowStart := time.Date(2026, 3, 1, 17, 50, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 1, 19, 40, 0, 0, time.UTC)

	game, err := c.FindGame(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	require.NotNil(t, game)
	require.Equal(t, "Thunder FC", game.MyTeamName)
	require.Equal(t, "Lightning SC", game.OpponentTeamName)
	require.Equal(t, "Field 3", game.Location)
	require.Equal(t, "playmetrics", game.Source)
}

func TestFindGameIgnoresNonGameEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleICS))
	}))
	defer server.Close()

	c := New("Thunder FC", server.URL)
	windowStart := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	game, err := c.FindGame(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	require.Nil(t, game)
}

func TestFindGameReturnsNilWithoutCalendarURL(t *testing.T) {
	c := New("Thunder FC", "")
	game, err := c.FindGame(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
	require.Nil(t, game)
}
