package poller

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
	available bool
	files     []capability.CameraFile
	windows   []capability.ConnectedWindow
}

func (f *fakeCamera) CheckAvailability(ctx context.Context) (bool, error) { return f.available, nil }
func (f *fakeCamera) ListFiles(ctx context.Context, from, to time.Time) ([]capability.CameraFile, error) {
	return f.files, nil
}
func (f *fakeCamera) GetSize(ctx context.Context, remotePath string) (int64, error) { return 0, nil }
func (f *fakeCamera) Download(ctx context.Context, remotePath, localPath string, progress func(int64)) error {
	return nil
}
func (f *fakeCamera) ConnectedTimeframes(ctx context.Context) ([]capability.ConnectedWindow, error) {
	return f.windows, nil
}

func newDownloadQueue(t *testing.T, dir string) *state.Queue[state.DownloadTask] {
	q, err := state.NewQueue[state.DownloadTask](filepath.Join(dir, config.DownloadQueueStateFile))
	require.NoError(t, err)
	return q
}

func TestPollAssignsNewGroup(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cam := &fakeCamera{
		available: true,
		files: []capability.CameraFile{
			{Path: "/dav/a.dav", StartTime: base, EndTime: base.Add(5 * time.Minute)},
		},
	}
	q := newDownloadQueue(t, root)
	p := New(cam, root, q)

	require.NoError(t, p.Poll(context.Background()))
	require.Equal(t, 1, q.Len())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var groupDirs int
	for _, e := range entries {
		if e.IsDir() {
			groupDirs++
		}
	}
	require.Equal(t, 1, groupDirs)
}

func TestPollJoinsExistingGroupWithinGap(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := newDownloadQueue(t, root)
	p := New(&fakeCamera{available: true}, root, q)

	groupDir := filepath.Join(root, state.GroupDirName(base))
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	g := state.NewGroup(groupDir)
	require.NoError(t, g.AddFile(&state.File{
		FilePath:  filepath.Join(groupDir, "a.dav"),
		StartTime: base,
		EndTime:   base.Add(5 * time.Minute),
		Status:    state.FileStatusDownloaded,
	}))
	require.NoError(t, g.Save())

	secondStart := base.Add(5*time.Minute + 10*time.Second)
	p.camera = &fakeCamera{
		available: true,
		files: []capability.CameraFile{
			{Path: "/dav/b.dav", StartTime: secondStart, EndTime: secondStart.Add(5 * time.Minute)},
		},
	}

	require.NoError(t, p.Poll(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var groupDirs int
	for _, e := range entries {
		if e.IsDir() {
			groupDirs++
		}
	}
	require.Equal(t, 1, groupDirs, "fragment within gap tolerance should join the existing group")

	reloaded, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Len(t, reloaded.Files, 2)
}

func TestPollSkipsFragmentsInConnectedWindow(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := newDownloadQueue(t, root)
	cam := &fakeCamera{
		available: true,
		files: []capability.CameraFile{
			{Path: "/dav/a.dav", StartTime: base, EndTime: base.Add(5 * time.Minute)},
		},
		windows: []capability.ConnectedWindow{
			{Start: base.Add(-time.Hour), EndOrNow: base.Add(time.Hour)},
		},
	}
	p := New(cam, root, q)

	require.NoError(t, p.Poll(context.Background()))
	require.Equal(t, 0, q.Len())
}

func TestPollUnavailableCameraReturnsError(t *testing.T) {
	root := t.TempDir()
	q := newDownloadQueue(t, root)
	p := New(&fakeCamera{available: false}, root, q)

	err := p.Poll(context.Background())
	require.Error(t, err)
}
