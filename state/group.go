package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	apperrors "github.com/mblakley/soccer-cam-go/errors"
)

// GroupStatus is the per-group state machine. The last two states are
// driven by the external autocam tool and its cleanup service; from the
// orchestrator's point of view they're terminal-for-upload.
type GroupStatus string

const (
	GroupStatusNone                       GroupStatus = ""
	GroupStatusCombined                   GroupStatus = "combined"
	GroupStatusTrimmed                    GroupStatus = "trimmed"
	GroupStatusAutocamComplete            GroupStatus = "autocam_complete"
	GroupStatusAutocamCompleteDavsDeleted GroupStatus = "autocam_complete_dav_files_deleted"

	GroupStatusCombineFailed GroupStatus = "combine_failed"
	GroupStatusTrimFailed    GroupStatus = "trim_failed"
)

// Group is the authoritative state of one match directory, serialized as
// <group-dir>/state.json. It is the single source of truth invariant
// named in the data model: anything else in the directory is derivable
// from, or verifiable against, this struct.
type Group struct {
	Status            GroupStatus      `json:"status"`
	Files             map[string]*File `json:"files"`
	YouTubePlaylist   string           `json:"youtube_playlist_name,omitempty"`

	dir string
}

// Dir returns the group's directory path, which doubles as its identity.
func (g *Group) Dir() string {
	return g.dir
}

// NewGroup creates the in-memory representation of a brand new group
// directory. Callers must still call Save to persist it.
func NewGroup(dir string) *Group {
	return &Group{
		Status: GroupStatusNone,
		Files:  map[string]*File{},
		dir:    dir,
	}
}

func statePath(dir string) string {
	return filepath.Join(dir, config.StateFileName)
}

// LoadGroup reads and parses <dir>/state.json. Returns an
// ObjectNotFoundError if the file doesn't exist, and a CorruptStateError
// if it exists but fails to parse.
func LoadGroup(dir string) (*Group, error) {
	path := statePath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewObjectNotFoundError(fmt.Sprintf("state file %s", path), err)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, apperrors.NewCorruptStateError(path, err)
	}
	if g.Files == nil {
		g.Files = map[string]*File{}
	}
	g.dir = dir
	return &g, nil
}

// Save serializes the group and atomically replaces state.json: written
// to a temp file in the same directory first, then renamed, so a crash
// mid-write never leaves a half-written state.json.
func (g *Group) Save() error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling group state: %w", err)
	}

	path := statePath(g.dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// AddFile records a newly discovered fragment. It is an error to add a
// file path that's already tracked.
func (g *Group) AddFile(f *File) error {
	if _, exists := g.Files[f.FilePath]; exists {
		return fmt.Errorf("file %s already tracked in group %s", f.FilePath, g.dir)
	}
	if f.LastUpdated.IsZero() {
		f.LastUpdated = config.Clock.GetTime()
	}
	g.Files[f.FilePath] = f
	return nil
}

// UpdateFileStatus advances a tracked file's status, recording the
// transition time and an optional error message. Status only ever moves
// forward except into the *_failed retry points, per the data model's
// no-rollback invariant.
func (g *Group) UpdateFileStatus(filePath string, status FileStatus, errMsg string) error {
	f, ok := g.Files[filePath]
	if !ok {
		return fmt.Errorf("file %s not tracked in group %s", filePath, g.dir)
	}
	f.Status = status
	f.ErrorMessage = errMsg
	f.LastUpdated = config.Clock.GetTime()
	return nil
}

// MarkFileSkipped opts a file out of the pipeline entirely: skipped is an
// absorbing state, never revisited by the auditor.
func (g *Group) MarkFileSkipped(filePath string) error {
	f, ok := g.Files[filePath]
	if !ok {
		return fmt.Errorf("file %s not tracked in group %s", filePath, g.dir)
	}
	f.Skip = true
	f.Status = FileStatusSkipped
	f.LastUpdated = config.Clock.GetTime()
	return nil
}

// FilesByStatus returns the tracked files in a given status, skipped
// files excluded, ordered by file path for deterministic processing.
func (g *Group) FilesByStatus(status FileStatus) []*File {
	var out []*File
	for _, f := range g.Files {
		if f.Skip {
			continue
		}
		if f.Status == status {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// OrderedFiles returns every tracked file (including skipped ones) sorted
// by file path, which for this camera's naming scheme is also chronological.
func (g *Group) OrderedFiles() []*File {
	out := make([]*File, 0, len(g.Files))
	for _, f := range g.Files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// LastFile returns the chronologically last tracked file, or nil if the
// group has none yet. Used by the grouping algorithm to compare a new
// fragment's start time against the group's trailing edge.
func (g *Group) LastFile() *File {
	files := g.OrderedFiles()
	if len(files) == 0 {
		return nil
	}
	return files[len(files)-1]
}

// IsReadyForCombining reports whether every non-skipped file has reached
// converted, i.e. the group is eligible for a Combine task.
func (g *Group) IsReadyForCombining() bool {
	any := false
	for _, f := range g.Files {
		if f.Skip {
			continue
		}
		any = true
		if f.Status != FileStatusConverted {
			return false
		}
	}
	return any
}

// CombinedVideoPath is where VideoWorker writes (and UploadWorker reads)
// the concatenated full-field video.
func (g *Group) CombinedVideoPath() string {
	return filepath.Join(g.dir, config.CombinedFileName)
}

// CombinedVideoExists checks the filesystem directly rather than trusting
// group status alone, since the auditor's rule 3 gates on both.
func (g *Group) CombinedVideoExists() bool {
	_, err := os.Stat(g.CombinedVideoPath())
	return err == nil
}

// GroupDirName formats a fragment start time into the canonical group
// directory name used by the grouping algorithm.
func GroupDirName(t time.Time) string {
	return t.Format(config.GroupDirTimeFormat)
}
