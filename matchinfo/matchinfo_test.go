package matchinfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/state"
)

type fakeSchedule struct {
	game *capability.Game
	err  error
}

func (f *fakeSchedule) FindGame(ctx context.Context, start, end time.Time) (*capability.Game, error) {
	return f.game, f.err
}

func setupGroupWithFile(t *testing.T) *state.Group {
	dir := filepath.Join(t.TempDir(), "2026.03.01-10.00.00")
	require.NoError(t, os.MkdirAll(dir, 0755))
	g := state.NewGroup(dir)
	require.NoError(t, g.AddFile(&state.File{
		FilePath:  filepath.Join(dir, "a.mp4"),
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC),
		Status:    state.FileStatusConverted,
	}))
	require.NoError(t, g.Save())
	return g
}

func TestTryEnrichPopulatesFromMatchingSource(t *testing.T) {
	g := setupGroupWithFile(t)
	e := New(&fakeSchedule{game: &capability.Game{MyTeamName: "Thunder FC", OpponentTeamName: "Lightning SC", Location: "Field 3", Source: "playmetrics"}})

	enriched, err := e.TryEnrich(context.Background(), g)
	require.NoError(t, err)
	require.True(t, enriched)

	mi, err := state.LoadMatchInfo(g.Dir())
	require.NoError(t, err)
	require.Equal(t, "Thunder FC", mi.MyTeamName)
	require.True(t, mi.HasTeamInfo())
}

func TestTryEnrichPrefersTeamSnapOverOtherSources(t *testing.T) {
	g := setupGroupWithFile(t)
	e := New(
		&fakeSchedule{game: &capability.Game{MyTeamName: "PM Team", OpponentTeamName: "PM Opp", Location: "PM Field", Source: "playmetrics"}},
		&fakeSchedule{game: &capability.Game{MyTeamName: "TS Team", OpponentTeamName: "TS Opp", Location: "TS Field", Source: "teamsnap"}},
	)

	_, err := e.TryEnrich(context.Background(), g)
	require.NoError(t, err)

	mi, err := state.LoadMatchInfo(g.Dir())
	require.NoError(t, err)
	require.Equal(t, "TS Team", mi.MyTeamName)
}

func TestTryEnrichReturnsFalseWhenNoSourceMatches(t *testing.T) {
	g := setupGroupWithFile(t)
	e := New(&fakeSchedule{game: nil})

	enriched, err := e.TryEnrich(context.Background(), g)
	require.NoError(t, err)
	require.False(t, enriched)
}

func TestTryEnrichSkipsWhenAlreadyPopulated(t *testing.T) {
	g := setupGroupWithFile(t)
	mi := &state.MatchInfo{MyTeamName: "Existing", OpponentTeamName: "Team", Location: "Field"}
	require.NoError(t, mi.Save(g.Dir()))

	e := New(&fakeSchedule{game: &capability.Game{MyTeamName: "Other", OpponentTeamName: "Other2", Location: "Other3", Source: "teamsnap"}})
	enriched, err := e.TryEnrich(context.Background(), g)
	require.NoError(t, err)
	require.False(t, enriched)
}
