package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/state"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	size       int64
	content    []byte
	downloadEr error
}

func (f *fakeCamera) CheckAvailability(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeCamera) ListFiles(ctx context.Context, from, to time.Time) ([]capability.CameraFile, error) {
	return nil, nil
}
func (f *fakeCamera) GetSize(ctx context.Context, remotePath string) (int64, error) {
	return f.size, nil
}
func (f *fakeCamera) Download(ctx context.Context, remotePath, localPath string, progress func(int64)) error {
	if f.downloadEr != nil {
		return f.downloadEr
	}
	progress(int64(len(f.content)))
	return os.WriteFile(localPath, f.content, 0644)
}
func (f *fakeCamera) ConnectedTimeframes(ctx context.Context) ([]capability.ConnectedWindow, error) {
	return nil, nil
}

func setupGroup(t *testing.T) (string, string) {
	dir := t.TempDir()
	groupDir := filepath.Join(dir, "2026.03.01-10.00.00")
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	g := state.NewGroup(groupDir)
	filePath := filepath.Join(groupDir, "a.dav")
	require.NoError(t, g.AddFile(&state.File{
		FilePath:  filePath,
		StartTime: time.Now(),
		EndTime:   time.Now(),
		Status:    state.FileStatusPending,
	}))
	require.NoError(t, g.Save())
	return groupDir, filePath
}

func TestProcessDownloadsAndMarksDownloaded(t *testing.T) {
	groupDir, filePath := setupGroup(t)
	content := []byte("fragment bytes")
	cam := &fakeCamera{size: int64(len(content)), content: content}
	q, err := state.NewQueue[state.DownloadTask](filepath.Join(groupDir, config.DownloadQueueStateFile))
	require.NoError(t, err)
	w := New(cam, q)

	err = w.process(context.Background(), state.DownloadTask{
		TaskType: state.TaskTypeDahuaDownload,
		GroupDir: groupDir,
		FilePath: filePath,
	})
	require.NoError(t, err)

	g, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, state.FileStatusDownloaded, g.Files[filePath].Status)
}

func TestProcessSizeMismatchMarksFailed(t *testing.T) {
	groupDir, filePath := setupGroup(t)
	cam := &fakeCamera{size: 999, content: []byte("short")}
	q, err := state.NewQueue[state.DownloadTask](filepath.Join(groupDir, config.DownloadQueueStateFile))
	require.NoError(t, err)
	w := New(cam, q)

	err = w.process(context.Background(), state.DownloadTask{
		TaskType: state.TaskTypeDahuaDownload,
		GroupDir: groupDir,
		FilePath: filePath,
	})
	require.Error(t, err)

	g, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, state.FileStatusDownloadFailed, g.Files[filePath].Status)
	require.NotEmpty(t, g.Files[filePath].ErrorMessage)
}

func TestProcessSkipsAlreadyDownloaded(t *testing.T) {
	groupDir, filePath := setupGroup(t)
	g, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.NoError(t, g.UpdateFileStatus(filePath, state.FileStatusDownloaded, ""))
	require.NoError(t, g.Save())

	cam := &fakeCamera{}
	q, err := state.NewQueue[state.DownloadTask](filepath.Join(groupDir, config.DownloadQueueStateFile))
	require.NoError(t, err)
	w := New(cam, q)

	err = w.process(context.Background(), state.DownloadTask{
		TaskType: state.TaskTypeDahuaDownload,
		GroupDir: groupDir,
		FilePath: filePath,
	})
	require.NoError(t, err)
}
