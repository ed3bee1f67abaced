package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// NtfyTaskKind is the discriminant for the four interactive-question
// shapes NotifierQueue can ask.
type NtfyTaskKind string

const (
	NtfyKindGameStartTime NtfyTaskKind = "game_start_time"
	NtfyKindGameEndTime   NtfyTaskKind = "game_end_time"
	NtfyKindTeamInfo      NtfyTaskKind = "team_info"
	NtfyKindPlaylistName  NtfyTaskKind = "playlist_name"
)

// NtfyTaskStatus tracks whether a task has been dispatched yet. At most
// one task per group may be Sent at any instant (single-flight per user).
type NtfyTaskStatus string

const (
	NtfyTaskQueued NtfyTaskStatus = "queued"
	NtfyTaskSent   NtfyTaskStatus = "sent"
)

// NtfyTask is one outstanding interactive question. TaskID begins with
// the task kind; the rest is chosen by the creator (the auditor appends
// the group directory name, the uploader a nanosecond timestamp, the
// notifier a UUID and a Unix timestamp) and carries no counter. It is
// sent in the "(ID: ...)" marker; a reply without that marker is matched
// by kind only.
type NtfyTask struct {
	TaskID    string         `json:"task_id"`
	GroupDir  string         `json:"group_dir"`
	Kind      NtfyTaskKind   `json:"task_type"`
	Status    NtfyTaskStatus `json:"status"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// pendingInput is the on-disk shape of one ntfy_service_state.json entry
// under pending_inputs, keyed by group directory.
type pendingInput struct {
	InputType string         `json:"input_type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// NtfyServiceState is the full contents of ntfy_service_state.json: the
// map of groups with an outstanding question, plus the set of group dirs
// NotifierQueue has already fully processed (so it won't re-ask after a
// restart once match info is complete).
type NtfyServiceState struct {
	mu   sync.Mutex
	path string

	tasks         map[string]*NtfyTask // keyed by group dir; single-flight per group
	ProcessedDirs map[string]bool      `json:"-"`
}

type ntfyServiceStateWire struct {
	PendingInputs map[string]pendingInput `json:"pending_inputs"`
	ProcessedDirs []string                `json:"processed_dirs"`
}

// LoadNtfyServiceState reads ntfy_service_state.json, reconstructing
// queued/sent tasks per the startup recovery rules: queued tasks are
// recreated and re-enqueued, sent tasks are recreated already in sent
// state (not resent - the outstanding notification is assumed still
// actionable), and anything with an unrecognized shape is dropped.
func LoadNtfyServiceState(path string) (*NtfyServiceState, error) {
	s := &NtfyServiceState{
		path:          path,
		tasks:         map[string]*NtfyTask{},
		ProcessedDirs: map[string]bool{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var wire ntfyServiceStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for groupDir, input := range wire.PendingInputs {
		task, ok := recoverTask(groupDir, input)
		if !ok {
			continue
		}
		s.tasks[groupDir] = task
	}
	for _, dir := range wire.ProcessedDirs {
		s.ProcessedDirs[dir] = true
	}

	return s, nil
}

func recoverTask(groupDir string, input pendingInput) (*NtfyTask, bool) {
	taskID, _ := input.Metadata["task_id"].(string)
	taskType, _ := input.Metadata["task_type"].(string)
	status, _ := input.Metadata["status"].(string)
	if taskID == "" || taskType == "" {
		return nil, false
	}

	switch NtfyTaskStatus(status) {
	case NtfyTaskQueued, NtfyTaskSent:
	default:
		return nil, false
	}

	task := &NtfyTask{
		TaskID:   taskID,
		GroupDir: groupDir,
		Kind:     NtfyTaskKind(taskType),
		Status:   NtfyTaskStatus(status),
		Metadata: input.Metadata,
	}
	if sentAt, ok := input.Metadata["sent_at"].(string); ok && sentAt != "" {
		if t, err := time.Parse(time.RFC3339, sentAt); err == nil {
			task.SentAt = &t
		}
	}
	if msgID, ok := input.Metadata["message_id"].(string); ok {
		task.MessageID = msgID
	}
	return task, true
}

func (s *NtfyServiceState) saveLocked() error {
	wire := ntfyServiceStateWire{
		PendingInputs: map[string]pendingInput{},
	}
	for groupDir, task := range s.tasks {
		meta := map[string]any{}
		for k, v := range task.Metadata {
			meta[k] = v
		}
		meta["task_id"] = task.TaskID
		meta["task_type"] = string(task.Kind)
		meta["status"] = string(task.Status)
		if task.SentAt != nil {
			meta["sent_at"] = task.SentAt.Format(time.RFC3339)
		}
		if task.MessageID != "" {
			meta["message_id"] = task.MessageID
		}
		wire.PendingInputs[groupDir] = pendingInput{
			InputType: string(task.Kind),
			Timestamp: time.Now(),
			Metadata:  meta,
		}
	}
	for dir, processed := range s.ProcessedDirs {
		if processed {
			wire.ProcessedDirs = append(wire.ProcessedDirs, dir)
		}
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ntfy service state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

// PutTask writes every transition of a task before the outbound
// notification is sent, so a crash after "about to send" is
// indistinguishable from "sent but unacknowledged" and safely resends.
func (s *NtfyServiceState) PutTask(task *NtfyTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.GroupDir] = task
	return s.saveLocked()
}

// RemoveTask clears a group's outstanding task (answered, timed out, or
// superseded) and persists the change.
func (s *NtfyServiceState) RemoveTask(groupDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, groupDir)
	return s.saveLocked()
}

// TaskForGroup returns the outstanding task for a group, if any.
func (s *NtfyServiceState) TaskForGroup(groupDir string) (*NtfyTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[groupDir]
	return t, ok
}

// SentTaskByKind returns the most recently sent task of the given kind,
// used by the notifier's kind-based fallback when no task_id marker
// survives in the reply.
func (s *NtfyServiceState) SentTaskByKind(kind NtfyTaskKind) (*NtfyTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *NtfyTask
	for _, t := range s.tasks {
		if t.Kind != kind || t.Status != NtfyTaskSent {
			continue
		}
		if best == nil || (t.SentAt != nil && best.SentAt != nil && t.SentAt.After(*best.SentAt)) {
			best = t
		}
	}
	return best, best != nil
}

// MarkProcessed records that a group's match info is fully collected, so
// NotifierQueue won't re-ask after a restart.
func (s *NtfyServiceState) MarkProcessed(groupDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessedDirs[groupDir] = true
	return s.saveLocked()
}

// IsProcessed reports whether a group has already been fully collected.
func (s *NtfyServiceState) IsProcessed(groupDir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ProcessedDirs[groupDir]
}

// ClearProcessed undoes MarkProcessed, letting the auditor re-ask for a
// group that a manual re-trigger wants reprocessed with --force.
func (s *NtfyServiceState) ClearProcessed(groupDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ProcessedDirs, groupDir)
	return s.saveLocked()
}

// AllTasks returns a snapshot of every tracked task, for startup
// re-enqueue of queued tasks.
func (s *NtfyServiceState) AllTasks() []*NtfyTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*NtfyTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}
