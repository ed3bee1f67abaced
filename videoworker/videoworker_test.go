package videoworker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/state"
	"github.com/stretchr/testify/require"
)

func newQueues(t *testing.T, dir string) (*state.Queue[state.VideoTask], *state.Queue[state.UploadTask]) {
	vq, err := state.NewQueue[state.VideoTask](filepath.Join(dir, config.VideoQueueStateFile))
	require.NoError(t, err)
	uq, err := state.NewQueue[state.UploadTask](filepath.Join(dir, config.UploadQueueStateFile))
	require.NoError(t, err)
	return vq, uq
}

func TestConvertMarksFileConvertedAndEnqueuesCombine(t *testing.T) {
	groupDir := t.TempDir()
	filePath := filepath.Join(groupDir, "a.dav")
	require.NoError(t, os.WriteFile(filePath, []byte("raw"), 0644))

	g := state.NewGroup(groupDir)
	require.NoError(t, g.AddFile(&state.File{FilePath: filePath, Status: state.FileStatusDownloaded}))
	require.NoError(t, g.Save())

	vq, uq := newQueues(t, groupDir)
	w := New(vq, uq)
	w.runFfmpeg = func(args []string) error {
		return os.WriteFile(filepath.Join(groupDir, "a.mp4"), []byte("converted"), 0644)
	}
	w.getDuration = func(path string) (float64, error) { return 60, nil }

	require.NoError(t, w.convert(state.VideoTask{TaskType: state.TaskTypeConvert, GroupDir: groupDir, FilePath: filePath}))

	reloaded, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, state.FileStatusConverted, reloaded.Files[filePath].Status)
	require.Equal(t, 1, vq.Len())

	next, ok, err := vq.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.TaskTypeCombine, next.TaskType)
}

func TestConvertKeepsSourceOnZeroDuration(t *testing.T) {
	groupDir := t.TempDir()
	filePath := filepath.Join(groupDir, "a.dav")
	require.NoError(t, os.WriteFile(filePath, []byte("raw"), 0644))

	g := state.NewGroup(groupDir)
	require.NoError(t, g.AddFile(&state.File{FilePath: filePath, Status: state.FileStatusDownloaded}))
	require.NoError(t, g.Save())

	vq, uq := newQueues(t, groupDir)
	w := New(vq, uq)
	w.runFfmpeg = func(args []string) error {
		return os.WriteFile(filepath.Join(groupDir, "a.mp4"), []byte("converted"), 0644)
	}
	w.getDuration = func(path string) (float64, error) { return 0, nil }

	require.NoError(t, w.convert(state.VideoTask{TaskType: state.TaskTypeConvert, GroupDir: groupDir, FilePath: filePath}))
	_, err := os.Stat(filePath)
	require.NoError(t, err, "source file should be kept when the mp4 has no positive duration")
}

func TestCombineFailsWithNoMp4Files(t *testing.T) {
	groupDir := t.TempDir()
	g := state.NewGroup(groupDir)
	require.NoError(t, g.Save())

	vq, uq := newQueues(t, groupDir)
	w := New(vq, uq)

	err := w.combine(state.VideoTask{TaskType: state.TaskTypeCombine, GroupDir: groupDir})
	require.Error(t, err)

	reloaded, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, state.GroupStatusCombineFailed, reloaded.Status)
}

func TestTrimProducesDescriptivePathAndEnqueuesUpload(t *testing.T) {
	groupDir := filepath.Join(t.TempDir(), "2026.03.01-10.00.00")
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(groupDir, config.CombinedFileName), []byte("combined"), 0644))

	g := state.NewGroup(groupDir)
	g.Status = state.GroupStatusCombined
	require.NoError(t, g.Save())

	mi := &state.MatchInfo{
		MyTeamName:       "Thunder FC",
		OpponentTeamName: "Lightning SC",
		Location:         "Field 3",
		StartTimeOffset:  5 * time.Minute,
		TotalDuration:    90 * time.Minute,
	}
	require.NoError(t, mi.Save(groupDir))

	vq, uq := newQueues(t, groupDir)
	w := New(vq, uq)
	var seenArgs []string
	w.runFfmpeg = func(args []string) error {
		seenArgs = args
		out := args[len(args)-1]
		return os.MkdirAll(filepath.Dir(out), 0755)
	}

	require.NoError(t, w.trim(state.VideoTask{TaskType: state.TaskTypeTrim, GroupDir: groupDir}))
	require.Contains(t, seenArgs, "00:05:00")
	require.Contains(t, seenArgs, "01:35:00")
	require.Equal(t, 1, uq.Len())

	reloaded, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, state.GroupStatusTrimmed, reloaded.Status)
}
