// Package matchinfo implements automatic match-info enrichment: before
// the auditor falls back to asking a human operator over NotifierQueue,
// it gives each configured schedule-provider capability a chance to
// supply the team names and location for a group's recording window.
package matchinfo

import (
	"context"
	"strings"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/state"
)

// Enricher tries each configured MatchSchedule source, in order, for a
// group's recording window, preferring a TeamSnap-sourced result if one
// of the configured sources reports it.
type Enricher struct {
	sources []capability.MatchSchedule
}

func New(sources ...capability.MatchSchedule) *Enricher {
	return &Enricher{sources: sources}
}

// TryEnrich fills in my_team_name/opponent_team_name/location from the
// game findBestGame picks, if match_info.ini doesn't already have
// them. Returns false, nil if no source had a match - the caller should
// fall back to the team_info ntfy ask.
func (e *Enricher) TryEnrich(ctx context.Context, g *state.Group) (bool, error) {
	if len(e.sources) == 0 {
		return false, nil
	}

	mi, err := state.LoadMatchInfo(g.Dir())
	if err != nil {
		return false, err
	}
	if mi.HasTeamInfo() {
		return false, nil
	}

	windowStart, windowEnd, ok := recordingWindow(g)
	if !ok {
		return false, nil
	}

	game := e.findBestGame(ctx, windowStart, windowEnd)
	if game == nil {
		return false, nil
	}

	mi.MyTeamName = game.MyTeamName
	mi.OpponentTeamName = game.OpponentTeamName
	mi.Location = game.Location
	if err := mi.Save(g.Dir()); err != nil {
		return false, err
	}
	log.LogNoRequestID("matchinfo: auto-enriched from schedule API", "group_dir", g.Dir(), "source", game.Source)
	return true, nil
}

// findBestGame tries every configured source and prefers a TeamSnap
// result over any other, mirroring the original service's tie-break.
func (e *Enricher) findBestGame(ctx context.Context, windowStart, windowEnd time.Time) *capability.Game {
	var best *capability.Game
	for _, src := range e.sources {
		game, err := src.FindGame(ctx, windowStart, windowEnd)
		if err != nil {
			log.LogNoRequestID("matchinfo: schedule lookup failed", "err", err)
			continue
		}
		if game == nil {
			continue
		}
		if strings.EqualFold(game.Source, "teamsnap") {
			return game
		}
		if best == nil {
			best = game
		}
	}
	return best
}

// recordingWindow derives a group's [start, end) from its tracked files:
// the first file's start time to the last file's end time.
func recordingWindow(g *state.Group) (time.Time, time.Time, bool) {
	files := g.OrderedFiles()
	if len(files) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first := files[0]
	last := files[len(files)-1]

	end := last.EndTime
	if end.IsZero() {
		end = first.StartTime
	}
	return first.StartTime, end, true
}
