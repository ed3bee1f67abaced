package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNtfyServiceStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntfy_service_state.json")
	s, err := LoadNtfyServiceState(path)
	require.NoError(t, err)

	sentAt := time.Now()
	task := &NtfyTask{
		TaskID:   "game_start_time-1-1709251200",
		GroupDir: "2026.03.01-10.00.00",
		Kind:     NtfyKindGameStartTime,
		Status:   NtfyTaskSent,
		SentAt:   &sentAt,
		Metadata: map[string]any{"time_offset_seconds": float64(0)},
	}
	require.NoError(t, s.PutTask(task))

	reloaded, err := LoadNtfyServiceState(path)
	require.NoError(t, err)
	got, ok := reloaded.TaskForGroup("2026.03.01-10.00.00")
	require.True(t, ok)
	require.Equal(t, task.TaskID, got.TaskID)
	require.Equal(t, NtfyTaskSent, got.Status)
}

func TestNtfyServiceStateDropsUnrecognizedShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntfy_service_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pending_inputs": {"g1": {"input_type": "legacy", "metadata": {}}}}`), 0644))

	s, err := LoadNtfyServiceState(path)
	require.NoError(t, err)
	_, ok := s.TaskForGroup("g1")
	require.False(t, ok)
}

func TestSentTaskByKindReturnsMostRecentlySent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntfy_service_state.json")
	s, err := LoadNtfyServiceState(path)
	require.NoError(t, err)

	sentAt := time.Now().Add(-time.Minute)
	older := &NtfyTask{TaskID: "t1", GroupDir: "g1", Kind: NtfyKindGameStartTime, Status: NtfyTaskSent, SentAt: &sentAt}
	require.NoError(t, s.PutTask(older))

	newerAt := time.Now()
	newer := &NtfyTask{TaskID: "t2", GroupDir: "g2", Kind: NtfyKindGameStartTime, Status: NtfyTaskSent, SentAt: &newerAt}
	require.NoError(t, s.PutTask(newer))

	best, ok := s.SentTaskByKind(NtfyKindGameStartTime)
	require.True(t, ok)
	require.Equal(t, "t2", best.TaskID)
}

func TestNtfyServiceStateMarkProcessed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntfy_service_state.json")
	s, err := LoadNtfyServiceState(path)
	require.NoError(t, err)

	require.False(t, s.IsProcessed("g1"))
	require.NoError(t, s.MarkProcessed("g1"))
	require.True(t, s.IsProcessed("g1"))

	reloaded, err := LoadNtfyServiceState(path)
	require.NoError(t, err)
	require.True(t, reloaded.IsProcessed("g1"))
}
