package notifier

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/state"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	actions [][]capability.NotifierAction
	events  chan capability.NotifierEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan capability.NotifierEvent, 8)}
}

func (f *fakeTransport) Send(ctx context.Context, message, title string, tags []string, priority int, image []byte, actions []capability.NotifierAction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	f.actions = append(f.actions, actions)
	return true, nil
}

func (f *fakeTransport) SubscribeEvents(ctx context.Context) (<-chan capability.NotifierEvent, error) {
	return f.events, nil
}

func (f *fakeTransport) lastActions() []capability.NotifierAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[len(f.actions)-1]
}

func setupQueue(t *testing.T) (*Queue, *fakeTransport, string) {
	groupDir := filepath.Join(t.TempDir(), "2026.03.01-10.00.00")
	svc, err := state.LoadNtfyServiceState(filepath.Join(t.TempDir(), "ntfy_service_state.json"))
	require.NoError(t, err)
	transport := newFakeTransport()
	return New(transport, svc), transport, groupDir
}

func TestDispatchSendsPlaylistNameQuestion(t *testing.T) {
	q, transport, groupDir := setupQueue(t)
	task := &state.NtfyTask{TaskID: "t1", GroupDir: groupDir, Kind: state.NtfyKindPlaylistName, Status: state.NtfyTaskQueued}
	require.NoError(t, q.svc.PutTask(task))

	q.dispatch(context.Background(), task)

	require.Len(t, transport.sent, 1)
	require.Contains(t, transport.sent[0], "(ID: t1)")

	stored, ok := q.svc.TaskForGroup(groupDir)
	require.True(t, ok)
	require.Equal(t, state.NtfyTaskSent, stored.Status)
}

func TestHandlePlaylistNameReplyWritesGroupOverride(t *testing.T) {
	q, _, groupDir := setupQueue(t)
	g := state.NewGroup(groupDir)
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	require.NoError(t, g.Save())

	now := time.Now()
	task := &state.NtfyTask{TaskID: "t1", GroupDir: groupDir, Kind: state.NtfyKindPlaylistName, Status: state.NtfyTaskSent, SentAt: &now}
	require.NoError(t, q.svc.PutTask(task))

	q.handleEvent(capability.NotifierEvent{Message: "Thunder FC Highlights (ID: t1)"})

	g2, err := state.LoadGroup(groupDir)
	require.NoError(t, err)
	require.Equal(t, "Thunder FC Highlights", g2.YouTubePlaylist)

	_, ok := q.svc.TaskForGroup(groupDir)
	require.False(t, ok)
}

func TestHandleGameStartReplyNoAdvancesOffset(t *testing.T) {
	q, transport, groupDir := setupQueue(t)
	require.NoError(t, os.MkdirAll(groupDir, 0755))

	task := &state.NtfyTask{
		TaskID: "start-1", GroupDir: groupDir, Kind: state.NtfyKindGameStartTime, Status: state.NtfyTaskSent,
		Metadata: map[string]any{"time_offset_seconds": float64(0)},
	}
	require.NoError(t, q.svc.PutTask(task))

	q.handleEvent(capability.NotifierEvent{Message: "No, not yet at 00:00:00 (ID: start-1)"})

	next, ok := q.svc.TaskForGroup(groupDir)
	require.True(t, ok)
	require.Equal(t, state.NtfyTaskQueued, next.Status)
	offset, _ := next.Metadata["time_offset_seconds"].(float64)
	require.Equal(t, float64(5*60), offset)
	_ = transport
}

func TestHandleGameStartReplyYesWritesStartTimeOffset(t *testing.T) {
	q, _, groupDir := setupQueue(t)
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	require.NoError(t, (&state.MatchInfo{}).Save(groupDir))

	task := &state.NtfyTask{
		TaskID: "start-1", GroupDir: groupDir, Kind: state.NtfyKindGameStartTime, Status: state.NtfyTaskSent,
		Metadata: map[string]any{"time_offset_seconds": float64(600)},
	}
	require.NoError(t, q.svc.PutTask(task))

	q.handleEvent(capability.NotifierEvent{Message: "Yes, game started at 00:10:00 (ID: start-1)"})

	mi, err := state.LoadMatchInfo(groupDir)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, mi.StartTimeOffset)

	_, ok := q.svc.TaskForGroup(groupDir)
	require.False(t, ok)
}

func TestHandleGameEndReplyYesComputesDuration(t *testing.T) {
	q, _, groupDir := setupQueue(t)
	require.NoError(t, os.MkdirAll(groupDir, 0755))
	mi := &state.MatchInfo{StartTimeOffset: 10 * time.Minute}
	require.NoError(t, mi.Save(groupDir))

	task := &state.NtfyTask{
		TaskID: "end-1", GroupDir: groupDir, Kind: state.NtfyKindGameEndTime, Status: state.NtfyTaskSent,
		Metadata: map[string]any{"time_offset_seconds": float64(100 * 60)},
	}
	require.NoError(t, q.svc.PutTask(task))

	q.handleEvent(capability.NotifierEvent{Message: "Yes, game started at 01:40:00 (ID: end-1)"})

	mi2, err := state.LoadMatchInfo(groupDir)
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, mi2.TotalDuration)
}

func TestEchoSuppressionIgnoresOwnOutboundMessage(t *testing.T) {
	q, transport, groupDir := setupQueue(t)
	task := &state.NtfyTask{TaskID: "t1", GroupDir: groupDir, Kind: state.NtfyKindPlaylistName, Status: state.NtfyTaskQueued}
	require.NoError(t, q.svc.PutTask(task))
	q.dispatch(context.Background(), task)

	sentMessage := transport.sent[0]
	require.True(t, q.isEcho(sentMessage))
}

func TestCorrelateFallsBackToSentTaskOfKindWhenNoMarker(t *testing.T) {
	q, _, groupDir := setupQueue(t)
	now := time.Now()
	task := &state.NtfyTask{TaskID: "t1", GroupDir: groupDir, Kind: state.NtfyKindPlaylistName, Status: state.NtfyTaskSent, SentAt: &now}
	require.NoError(t, q.svc.PutTask(task))

	found := q.correlate(capability.NotifierEvent{Message: "Some Playlist Name"})
	require.NotNil(t, found)
	require.Equal(t, "t1", found.TaskID)
}
