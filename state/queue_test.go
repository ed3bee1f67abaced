package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_queue_state.json")
	q, err := NewQueue[DownloadTask](path)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(DownloadTask{TaskType: TaskTypeDahuaDownload, GroupDir: "g1", FilePath: "a.dav"}))
	require.NoError(t, q.Enqueue(DownloadTask{TaskType: TaskTypeDahuaDownload, GroupDir: "g1", FilePath: "b.dav"}))
	require.Equal(t, 2, q.Len())

	first, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a.dav", first.FilePath)
	require.Equal(t, 1, q.Len())
}

func TestQueueDequeueEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_queue_state.json")
	q, err := NewQueue[VideoTask](path)
	require.NoError(t, err)

	_, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueuePersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload_queue_state.json")
	q, err := NewQueue[UploadTask](path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(UploadTask{TaskType: TaskTypeYouTubeUpload, GroupDir: "g1"}))

	reloaded, err := NewQueue[UploadTask](path)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	require.Equal(t, "g1", reloaded.Snapshot()[0].GroupDir)
}
