// Package notifier implements NotifierQueue: a single-flight interactive
// question dispatcher. It sends at most one outstanding question per
// group, persists every transition before the network call that could
// crash mid-flight, and correlates operator replies back to the task
// that asked them.
package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
)

// Queue drains ntfy_service_state.json's queued tasks, sending one
// question at a time per group, and correlates replies off the
// transport's event stream back onto the task that asked them.
type Queue struct {
	transport   capability.Notifier
	svc         *state.NtfyServiceState
	getDuration func(path string) (float64, error)

	mu        sync.Mutex
	sentAt    map[string]time.Time // outbound message text -> send time, for echo suppression
}

func New(transport capability.Notifier, svc *state.NtfyServiceState) *Queue {
	return &Queue{transport: transport, svc: svc, sentAt: map[string]time.Time{}, getDuration: probeDuration}
}

func probeDuration(path string) (float64, error) {
	cmd := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("parsing ffprobe output %q: %w", out, err)
	}
	return seconds, nil
}

// Run launches the dispatch loop (sends queued tasks) and the
// subscription loop (consumes replies) until ctx is canceled.
func (q *Queue) Run(ctx context.Context, dispatchInterval time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); q.dispatchLoop(ctx, dispatchInterval) }()
	go func() { defer wg.Done(); q.subscribeLoop(ctx) }()
	wg.Wait()
}

func (q *Queue) dispatchLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		q.DispatchPending(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchPending runs one pass over every tracked task: sends anything
// queued, checks for completed team-info answers, and expires anything
// that has been sitting Sent past config.NtfyResponseTimeout. Exported so
// a one-shot re-trigger command can force a single pass without standing
// up the ticker loop.
func (q *Queue) DispatchPending(ctx context.Context) {
	for _, task := range q.svc.AllTasks() {
		switch {
		case task.Status == state.NtfyTaskQueued:
			q.dispatch(ctx, task)
		case task.Kind == state.NtfyKindTeamInfo && task.Status == state.NtfyTaskSent:
			q.checkTeamInfoComplete(task)
		case task.Status == state.NtfyTaskSent && task.SentAt != nil && time.Since(*task.SentAt) > config.NtfyResponseTimeout:
			log.LogNoRequestID("ntfy task timed out", "task_id", task.TaskID, "group_dir", task.GroupDir)
			metrics.Metrics.NtfyTasksTimedOut.Inc()
			_ = q.svc.RemoveTask(task.GroupDir)
		}
	}
}

func (q *Queue) checkTeamInfoComplete(task *state.NtfyTask) {
	mi, err := state.LoadMatchInfo(task.GroupDir)
	if err != nil || !mi.HasTeamInfo() {
		return
	}
	_ = q.svc.RemoveTask(task.GroupDir)
}

func (q *Queue) dispatch(ctx context.Context, task *state.NtfyTask) {
	msg, title, image, actions, err := q.buildMessage(ctx, task)
	if err != nil {
		log.LogNoRequestID("ntfy: building message failed", "task_id", task.TaskID, "err", err)
		return
	}

	sent, err := q.transport.Send(ctx, msg, title, []string{string(task.Kind)}, 3, image, actions)
	if err != nil || !sent {
		log.LogNoRequestID("ntfy: send failed", "task_id", task.TaskID, "err", err)
		return
	}

	now := time.Now()
	q.mu.Lock()
	q.sentAt[msg] = now
	q.mu.Unlock()

	task.Status = state.NtfyTaskSent
	task.SentAt = &now
	if err := q.svc.PutTask(task); err != nil {
		log.LogNoRequestID("ntfy: persisting sent task failed", "task_id", task.TaskID, "err", err)
	}
	metrics.Metrics.NtfyTasksSent.Inc()
}

func (q *Queue) buildMessage(ctx context.Context, task *state.NtfyTask) (msg, title string, image []byte, actions []capability.NotifierAction, err error) {
	switch task.Kind {
	case state.NtfyKindGameStartTime, state.NtfyKindGameEndTime:
		return q.buildTimeQuestion(ctx, task)
	case state.NtfyKindTeamInfo:
		return fmt.Sprintf("Match info for %s is incomplete. Please edit match_info.ini to add the missing team names and location.", groupLabel(task.GroupDir)), "Match info needed", nil, nil, nil
	case state.NtfyKindPlaylistName:
		return fmt.Sprintf("What YouTube playlist should %s be uploaded to? Reply with the playlist name (ID: %s)", groupLabel(task.GroupDir), task.TaskID), "Playlist name needed", nil, nil, nil
	default:
		return "", "", nil, nil, fmt.Errorf("unknown ntfy task kind %q", task.Kind)
	}
}

func (q *Queue) buildTimeQuestion(ctx context.Context, task *state.NtfyTask) (string, string, []byte, []capability.NotifierAction, error) {
	offsetSeconds, _ := task.Metadata["time_offset_seconds"].(float64)
	offset := time.Duration(offsetSeconds) * time.Second

	combinedPath := state.NewGroup(task.GroupDir).CombinedVideoPath()
	image, err := captureFrame(ctx, combinedPath, offset)
	if err != nil {
		log.LogNoRequestID("ntfy: screenshot capture failed", "task_id", task.TaskID, "err", err)
		image = nil
	}

	offsetStr := formatOffset(offset)
	verb := "Has the game started"
	if task.Kind == state.NtfyKindGameEndTime {
		verb = "Has the game ended"
	}
	msg := fmt.Sprintf("%s at this point (%s into the video)?", verb, offsetStr)

	actions := []capability.NotifierAction{
		{Label: "Yes", Payload: fmt.Sprintf("Yes, game started at %s (ID: %s)", offsetStr, task.TaskID)},
		{Label: "No", Payload: fmt.Sprintf("No, not yet at %s (ID: %s)", offsetStr, task.TaskID)},
	}
	return msg, "Match timing", image, actions, nil
}

func groupLabel(groupDir string) string {
	return strings.TrimSuffix(strings.TrimPrefix(groupDir, "/"), "/")
}

func (q *Queue) subscribeLoop(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 3 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := q.transport.SubscribeEvents(ctx)
		if err != nil {
			wait := b.NextBackOff()
			log.LogNoRequestID("ntfy: subscribe failed, backing off", "err", err, "wait", wait)
			metrics.Metrics.NtfyReconnectCount.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		for event := range events {
			q.handleEvent(event)
		}
		// Channel closed (read timeout or transport-level disconnect):
		// reconnect immediately, per the spec's "read timeouts reconnect
		// immediately" rule.
		metrics.Metrics.NtfyReconnectCount.Inc()
	}
}

var taskIDMarker = regexp.MustCompile(`\(ID:\s*([^)]+)\)`)

func (q *Queue) handleEvent(event capability.NotifierEvent) {
	if q.isEcho(event.Message) {
		return
	}

	task := q.correlate(event)
	if task == nil {
		log.LogNoRequestID("ntfy: could not correlate inbound event, dropping", "message", event.Message)
		return
	}

	if task.SentAt != nil {
		metrics.Metrics.NtfyRoundTripDuration.Observe(time.Since(*task.SentAt).Seconds())
	}
	metrics.Metrics.NtfyTasksAnswered.Inc()

	switch task.Kind {
	case state.NtfyKindGameStartTime:
		q.handleGameStartReply(task, event)
	case state.NtfyKindGameEndTime:
		q.handleGameEndReply(task, event)
	case state.NtfyKindPlaylistName:
		q.handlePlaylistNameReply(task, event)
	case state.NtfyKindTeamInfo:
		// Informational only; completion is detected by polling
		// match_info.ini, not by a reply.
	}
}

func (q *Queue) isEcho(message string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	sentAt, ok := q.sentAt[message]
	if !ok {
		return false
	}
	if time.Since(sentAt) > config.NtfyEchoWindow {
		delete(q.sentAt, message)
		return false
	}
	return true
}

// correlate matches a reply to a task (echoes are already filtered out by
// handleEvent): an explicit "(ID: <task_id>)" marker first; otherwise the
// most recently sent task of the first kind, in the order game_start_time,
// game_end_time, playlist_name, that has one. The message text is not
// compared against the task in the fallback, and team_info tasks are only
// matched by marker.
func (q *Queue) correlate(event capability.NotifierEvent) *state.NtfyTask {
	if m := taskIDMarker.FindStringSubmatch(event.Message); m != nil {
		for _, t := range q.svc.AllTasks() {
			if t.TaskID == m[1] {
				return t
			}
		}
	}

	for _, kind := range []state.NtfyTaskKind{state.NtfyKindGameStartTime, state.NtfyKindGameEndTime, state.NtfyKindPlaylistName} {
		if t, ok := q.svc.SentTaskByKind(kind); ok {
			return t
		}
	}
	return nil
}

func (q *Queue) handleGameStartReply(task *state.NtfyTask, event capability.NotifierEvent) {
	answeredYes := strings.HasPrefix(strings.TrimSpace(event.Message), "Yes")
	offset, ok := parseOffsetFromReply(event.Message)
	if !ok {
		return
	}

	if answeredYes {
		mi, err := state.LoadMatchInfo(task.GroupDir)
		if err != nil {
			log.LogNoRequestID("ntfy: loading match info failed", "group_dir", task.GroupDir, "err", err)
			return
		}
		mi.StartTimeOffset = offset
		if err := mi.Save(task.GroupDir); err != nil {
			log.LogNoRequestID("ntfy: saving match info failed", "group_dir", task.GroupDir, "err", err)
			return
		}
		_ = q.svc.RemoveTask(task.GroupDir)
		return
	}

	next := offset + config.GameStartStep
	if next > q.gameStartMaxOffset(task.GroupDir) {
		log.LogNoRequestID("ntfy: game_start_time exhausted iteration window", "group_dir", task.GroupDir)
		_ = q.svc.RemoveTask(task.GroupDir)
		return
	}
	q.requeueTimeQuestion(task, next)
}

// gameStartMaxOffset is min(combined.mp4's duration, GameStartMaxOffset):
// a match recording shorter than the flat 45-minute cap must not be asked
// about past its own end.
func (q *Queue) gameStartMaxOffset(groupDir string) time.Duration {
	max := config.GameStartMaxOffset
	seconds, err := q.getDuration(filepath.Join(groupDir, config.CombinedFileName))
	if err != nil {
		return max
	}
	if d := time.Duration(seconds * float64(time.Second)); d < max {
		return d
	}
	return max
}

func (q *Queue) handleGameEndReply(task *state.NtfyTask, event capability.NotifierEvent) {
	answeredYes := strings.HasPrefix(strings.TrimSpace(event.Message), "Yes")
	offset, ok := parseOffsetFromReply(event.Message)
	if !ok {
		return
	}

	mi, err := state.LoadMatchInfo(task.GroupDir)
	if err != nil {
		log.LogNoRequestID("ntfy: loading match info failed", "group_dir", task.GroupDir, "err", err)
		return
	}

	if answeredYes {
		mi.TotalDuration = offset - mi.StartTimeOffset
		if err := mi.Save(task.GroupDir); err != nil {
			log.LogNoRequestID("ntfy: saving match info failed", "group_dir", task.GroupDir, "err", err)
			return
		}
		_ = q.svc.RemoveTask(task.GroupDir)
		return
	}

	next := offset + config.GameStartStep
	if next > mi.StartTimeOffset+config.GameEndMaxOffset {
		log.LogNoRequestID("ntfy: game_end_time exhausted iteration window", "group_dir", task.GroupDir)
		_ = q.svc.RemoveTask(task.GroupDir)
		return
	}
	q.requeueTimeQuestion(task, next)
}

func (q *Queue) requeueTimeQuestion(task *state.NtfyTask, offset time.Duration) {
	next := &state.NtfyTask{
		TaskID:   fmt.Sprintf("%s-%s-%d", task.Kind, uuid.NewString(), time.Now().Unix()),
		GroupDir: task.GroupDir,
		Kind:     task.Kind,
		Status:   state.NtfyTaskQueued,
		Metadata: map[string]any{"time_offset_seconds": offset.Seconds()},
	}
	if err := q.svc.PutTask(next); err != nil {
		log.LogNoRequestID("ntfy: requeuing time question failed", "group_dir", task.GroupDir, "err", err)
	}
}

func (q *Queue) handlePlaylistNameReply(task *state.NtfyTask, event capability.NotifierEvent) {
	name := strings.TrimSpace(taskIDMarker.ReplaceAllString(event.Message, ""))
	if name == "" {
		return
	}
	g, err := state.LoadGroup(task.GroupDir)
	if err != nil {
		log.LogNoRequestID("ntfy: loading group failed", "group_dir", task.GroupDir, "err", err)
		return
	}
	g.YouTubePlaylist = name
	if err := g.Save(); err != nil {
		log.LogNoRequestID("ntfy: saving playlist name failed", "group_dir", task.GroupDir, "err", err)
		return
	}
	_ = q.svc.RemoveTask(task.GroupDir)
}

var offsetPattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2})`)

func parseOffsetFromReply(message string) (time.Duration, bool) {
	m := offsetPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	d, err := parseHHMMSSDuration(m[1])
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseHHMMSSDuration(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
