package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchInfoSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &MatchInfo{
		MyTeamName:       "Fire",
		OpponentTeamName: "Ice",
		Location:         "Field 3",
		StartTimeOffset:  90 * time.Second,
		TotalDuration:    75*time.Minute + 30*time.Second,
	}
	require.NoError(t, m.Save(dir))

	loaded, err := LoadMatchInfo(dir)
	require.NoError(t, err)
	require.True(t, loaded.IsPopulated())
	require.Equal(t, "Fire", loaded.MyTeamName)
	require.Equal(t, 90*time.Second, loaded.StartTimeOffset)
	require.Equal(t, 75*time.Minute+30*time.Second, loaded.TotalDuration)
}

func TestMatchInfoMissingFileIsNotPopulated(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadMatchInfo(dir)
	require.NoError(t, err)
	require.False(t, m.IsPopulated())
}

func TestEnsureMatchInfoTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureMatchInfoTemplate(dir))
	require.True(t, fileExists(matchInfoPath(dir)))

	// Calling twice must not clobber existing data.
	m, err := LoadMatchInfo(dir)
	require.NoError(t, err)
	m.MyTeamName = "Fire"
	require.NoError(t, m.Save(dir))
	require.NoError(t, EnsureMatchInfoTemplate(dir))

	reloaded, err := LoadMatchInfo(dir)
	require.NoError(t, err)
	require.Equal(t, "Fire", reloaded.MyTeamName)
}
