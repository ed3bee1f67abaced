package uploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/state"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	playlists map[string]string
	uploaded  []string
	added     map[string]string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{playlists: map[string]string{}, added: map[string]string{}}
}

func (f *fakeUploader) Authenticate(ctx context.Context) error { return nil }
func (f *fakeUploader) FindPlaylist(ctx context.Context, name string) (string, bool, error) {
	id, ok := f.playlists[name]
	return id, ok, nil
}
func (f *fakeUploader) CreatePlaylist(ctx context.Context, name, description, privacy string) (string, error) {
	id := "pl-" + name
	f.playlists[name] = id
	return id, nil
}
func (f *fakeUploader) Upload(ctx context.Context, localPath, title, description string, tags []string, privacy, playlistID string) (string, error) {
	f.uploaded = append(f.uploaded, localPath)
	return "video-" + filepath.Base(localPath), nil
}
func (f *fakeUploader) AddToPlaylist(ctx context.Context, videoID, playlistID string) error {
	f.added[videoID] = playlistID
	return nil
}

func setupUploadGroup(t *testing.T) string {
	groupDir := filepath.Join(t.TempDir(), "2026.03.01-10.00.00")
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(groupDir, config.CombinedFileName), []byte("combined"), 0644))

	subdir := filepath.Join(groupDir, "trimmed")
	require.NoError(t, os.MkdirAll(subdir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(subdir, "game-raw.mp4"), []byte("trimmed"), 0644))

	g := state.NewGroup(groupDir)
	g.Status = state.GroupStatusTrimmed
	require.NoError(t, g.Save())

	mi := &state.MatchInfo{MyTeamName: "Thunder FC", OpponentTeamName: "Lightning SC", Location: "Field 3", StartTimeOffset: 5 * time.Minute, TotalDuration: 90 * time.Minute}
	require.NoError(t, mi.Save(groupDir))

	return groupDir
}

func TestProcessUploadsBothVariantsUsingConfigMapping(t *testing.T) {
	groupDir := setupUploadGroup(t)
	uq, err := state.NewQueue[state.UploadTask](filepath.Join(groupDir, config.UploadQueueStateFile))
	require.NoError(t, err)
	ntfy, err := state.LoadNtfyServiceState(filepath.Join(groupDir, config.NtfyServiceStateFile))
	require.NoError(t, err)

	host := newFakeUploader()
	w := New(host, uq, ntfy, map[string]string{"Thunder FC": "Thunder FC Highlights"}, "private")

	err = w.process(context.Background(), state.UploadTask{TaskType: state.TaskTypeYouTubeUpload, GroupDir: groupDir})
	require.NoError(t, err)
	require.Len(t, host.uploaded, 2)
	require.Contains(t, host.playlists, "Thunder FC Highlights")
	require.Contains(t, host.playlists, "Thunder FC Highlights - Full Field")
}

func TestProcessDefersWithoutPlaylistMapping(t *testing.T) {
	groupDir := setupUploadGroup(t)
	uq, err := state.NewQueue[state.UploadTask](filepath.Join(groupDir, config.UploadQueueStateFile))
	require.NoError(t, err)
	ntfy, err := state.LoadNtfyServiceState(filepath.Join(groupDir, config.NtfyServiceStateFile))
	require.NoError(t, err)

	host := newFakeUploader()
	w := New(host, uq, ntfy, map[string]string{}, "private")

	err = w.process(context.Background(), state.UploadTask{TaskType: state.TaskTypeYouTubeUpload, GroupDir: groupDir})
	require.NoError(t, err)
	require.Empty(t, host.uploaded)

	task, ok := ntfy.TaskForGroup(groupDir)
	require.True(t, ok)
	require.Equal(t, state.NtfyKindPlaylistName, task.Kind)
}

func TestProcessUsesGroupOverride(t *testing.T) {
	groupDir := setupUploadGroup(t)
	g, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	g.YouTubePlaylist = "Operator Chosen Playlist"
	require.NoError(t, g.Save())

	uq, err := state.NewQueue[state.UploadTask](filepath.Join(groupDir, config.UploadQueueStateFile))
	require.NoError(t, err)
	ntfy, err := state.LoadNtfyServiceState(filepath.Join(groupDir, config.NtfyServiceStateFile))
	require.NoError(t, err)

	host := newFakeUploader()
	w := New(host, uq, ntfy, map[string]string{}, "private")

	err = w.process(context.Background(), state.UploadTask{TaskType: state.TaskTypeYouTubeUpload, GroupDir: groupDir})
	require.NoError(t, err)
	require.Contains(t, host.playlists, "Operator Chosen Playlist")
}
