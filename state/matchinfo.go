package state

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	"gopkg.in/ini.v1"
)

// MatchInfo is the human-or-API-populated metadata persisted as
// <group-dir>/match_info.ini under the [MATCH] section.
type MatchInfo struct {
	MyTeamName        string        `ini:"my_team_name"`
	OpponentTeamName  string        `ini:"opponent_team_name"`
	Location          string        `ini:"location"`
	StartTimeOffset   time.Duration `ini:"-"`
	TotalDuration     time.Duration `ini:"-"`
}

// IsPopulated reports whether the first four fields the data model names
// are non-empty: team names, location, and start_time_offset. total_duration
// is tracked separately via TotalDurationKnown since it's collected by a
// later ntfy flow (game_end_time) than the other three.
func (m *MatchInfo) IsPopulated() bool {
	return m.MyTeamName != "" && m.OpponentTeamName != "" && m.Location != "" && m.StartTimeOffset > 0
}

// HasTeamInfo reports whether the team-identifying fields are filled in,
// independent of start_time_offset/total_duration.
func (m *MatchInfo) HasTeamInfo() bool {
	return m.MyTeamName != "" && m.OpponentTeamName != "" && m.Location != ""
}

// TotalDurationKnown reports whether both trim boundaries have been
// collected, which gates the Trim task per the auditor's rule 3.
func (m *MatchInfo) TotalDurationKnown() bool {
	return m.TotalDuration > 0
}

func matchInfoPath(groupDir string) string {
	return filepath.Join(groupDir, config.MatchInfoFileName)
}

// LoadMatchInfo reads match_info.ini for a group. A missing file is not
// an error: it means the template hasn't been created yet, equivalent to
// an entirely empty MatchInfo.
func LoadMatchInfo(groupDir string) (*MatchInfo, error) {
	path := matchInfoPath(groupDir)
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	var m MatchInfo
	section := f.Section("MATCH")
	if err := section.MapTo(&m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if v := section.Key("start_time_offset").String(); v != "" {
		d, err := parseHHMMSS(v)
		if err != nil {
			return nil, fmt.Errorf("parsing start_time_offset %q: %w", v, err)
		}
		m.StartTimeOffset = d
	}
	if v := section.Key("total_duration").String(); v != "" {
		d, err := parseHHMMSS(v)
		if err != nil {
			return nil, fmt.Errorf("parsing total_duration %q: %w", v, err)
		}
		m.TotalDuration = d
	}

	return &m, nil
}

// Save writes match_info.ini, creating the file (and an empty [MATCH]
// section) if it doesn't exist yet - the "ensure match_info.ini exists"
// post-action VideoWorker runs after every successful Convert.
func (m *MatchInfo) Save(groupDir string) error {
	f := ini.Empty()
	section, err := f.NewSection("MATCH")
	if err != nil {
		return fmt.Errorf("creating [MATCH] section: %w", err)
	}
	if err := section.ReflectFrom(m); err != nil {
		return fmt.Errorf("serializing match info: %w", err)
	}
	if m.StartTimeOffset > 0 {
		section.Key("start_time_offset").SetValue(formatHHMMSS(m.StartTimeOffset))
	}
	if m.TotalDuration > 0 {
		section.Key("total_duration").SetValue(formatHHMMSS(m.TotalDuration))
	}
	return f.SaveTo(matchInfoPath(groupDir))
}

// EnsureMatchInfoTemplate creates an empty match_info.ini if none exists
// yet, so the operator has something to edit by hand for the team_info
// ntfy flow.
func EnsureMatchInfoTemplate(groupDir string) error {
	path := matchInfoPath(groupDir)
	if fileExists(path) {
		return nil
	}
	return (&MatchInfo{}).Save(groupDir)
}

func parseHHMMSS(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func formatHHMMSS(d time.Duration) string {
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
