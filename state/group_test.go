package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := NewGroup(dir)
	require.NoError(t, g.AddFile(&File{
		FilePath:  filepath.Join(dir, "001.dav"),
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
		Status:    FileStatusPending,
	}))
	require.NoError(t, g.Save())

	loaded, err := LoadGroup(dir)
	require.NoError(t, err)
	require.Equal(t, GroupStatusNone, loaded.Status)
	require.Len(t, loaded.Files, 1)
}

func TestLoadGroupMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadGroup(dir)
	require.Error(t, err)
}

func TestUpdateFileStatus(t *testing.T) {
	dir := t.TempDir()
	g := NewGroup(dir)
	path := filepath.Join(dir, "001.dav")
	require.NoError(t, g.AddFile(&File{FilePath: path, Status: FileStatusPending}))

	require.NoError(t, g.UpdateFileStatus(path, FileStatusDownloaded, ""))
	require.Equal(t, FileStatusDownloaded, g.Files[path].Status)

	err := g.UpdateFileStatus("nonexistent", FileStatusDownloaded, "")
	require.Error(t, err)
}

func TestMarkFileSkippedIsAbsorbing(t *testing.T) {
	dir := t.TempDir()
	g := NewGroup(dir)
	path := filepath.Join(dir, "001.dav")
	require.NoError(t, g.AddFile(&File{FilePath: path, Status: FileStatusConversionFailed}))
	require.NoError(t, g.MarkFileSkipped(path))

	require.True(t, g.Files[path].Skip)
	require.Equal(t, FileStatusSkipped, g.Files[path].Status)
	require.Empty(t, g.FilesByStatus(FileStatusConversionFailed))
}

func TestIsReadyForCombining(t *testing.T) {
	dir := t.TempDir()
	g := NewGroup(dir)
	require.False(t, g.IsReadyForCombining(), "empty group is never ready")

	require.NoError(t, g.AddFile(&File{FilePath: "a", Status: FileStatusDownloaded}))
	require.False(t, g.IsReadyForCombining())

	require.NoError(t, g.UpdateFileStatus("a", FileStatusConverted, ""))
	require.True(t, g.IsReadyForCombining())

	require.NoError(t, g.AddFile(&File{FilePath: "b", Status: FileStatusDownloadFailed, Skip: true}))
	require.True(t, g.IsReadyForCombining(), "skipped files don't block combining")
}

func TestLastFileOrdersByPath(t *testing.T) {
	dir := t.TempDir()
	g := NewGroup(dir)
	require.NoError(t, g.AddFile(&File{FilePath: "002.dav", EndTime: time.Unix(200, 0)}))
	require.NoError(t, g.AddFile(&File{FilePath: "001.dav", EndTime: time.Unix(100, 0)}))

	last := g.LastFile()
	require.Equal(t, "002.dav", last.FilePath)
}

func TestGroupDirName(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 30, 5, 0, time.UTC)
	require.Equal(t, "2026.03.01-14.30.05", GroupDirName(ts))
}
