// Package uploader implements UploadWorker: uploads a finished group's
// trimmed and raw outputs to the configured video host, resolving each
// group's target playlist in the order the data model specifies.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
	apperrors "github.com/mblakley/soccer-cam-go/errors"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
)

// Worker drains the upload queue, one group at a time.
type Worker struct {
	host        capability.Uploader
	queue       *state.Queue[state.UploadTask]
	ntfy        *state.NtfyServiceState
	playlistMap map[string]string
	privacy     string
}

func New(host capability.Uploader, queue *state.Queue[state.UploadTask], ntfy *state.NtfyServiceState, playlistMap map[string]string, privacy string) *Worker {
	return &Worker{host: host, queue: queue, ntfy: ntfy, playlistMap: playlistMap, privacy: privacy}
}

func (w *Worker) Run(ctx context.Context, idlePoll time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.queue.Dequeue()
		if err != nil {
			log.LogNoRequestID("upload queue dequeue failed", "err", err)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			continue
		}

		start := time.Now()
		if err := w.process(ctx, task); err != nil {
			log.LogNoRequestID("upload task failed", "group_dir", task.GroupDir, "err", err)
			metrics.Metrics.UploadQueue.FailureCount.WithLabelValues(string(task.TaskType)).Inc()
		}
		metrics.Metrics.UploadQueue.TasksTotal.WithLabelValues(string(task.TaskType)).Inc()
		metrics.Metrics.UploadQueue.TaskDuration.WithLabelValues(string(task.TaskType)).Observe(time.Since(start).Seconds())
		metrics.Metrics.UploadQueue.Depth.WithLabelValues(string(task.TaskType)).Set(float64(w.queue.Len()))
	}
}

func (w *Worker) process(ctx context.Context, task state.UploadTask) error {
	g, err := state.LoadGroup(task.GroupDir)
	if err != nil {
		return err
	}
	mi, err := state.LoadMatchInfo(task.GroupDir)
	if err != nil {
		return err
	}
	if !mi.IsPopulated() {
		return fmt.Errorf("match info not populated for %s", task.GroupDir)
	}

	base, err := w.resolvePlaylistName(g, mi)
	if err != nil {
		return err
	}
	if base == "" {
		// A playlist_name NtfyTask has been queued; defer until the
		// operator answers and a subsequent audit cycle retries.
		return nil
	}

	if err := w.host.Authenticate(ctx); err != nil {
		return apperrors.Unretriable(fmt.Errorf("authenticating: %w", err))
	}

	trimmedPath := findTrimmedOutput(task.GroupDir)
	if trimmedPath != "" {
		if err := w.uploadOne(ctx, trimmedPath, base, mi, false); err != nil {
			return err
		}
	}

	combinedPath := g.CombinedVideoPath()
	if g.CombinedVideoExists() {
		if err := w.uploadOne(ctx, combinedPath, base+" - Full Field", mi, true); err != nil {
			return err
		}
	}

	return nil
}

// resolvePlaylistName implements the three-step playlist resolution
// order. An empty, nil-error result means resolution is blocked on an
// operator answer that has just been requested.
func (w *Worker) resolvePlaylistName(g *state.Group, mi *state.MatchInfo) (string, error) {
	if g.YouTubePlaylist != "" {
		return g.YouTubePlaylist, nil
	}
	if name, ok := w.playlistMap[mi.MyTeamName]; ok && name != "" {
		return name, nil
	}

	if _, waiting := w.ntfy.TaskForGroup(g.Dir()); waiting {
		return "", nil
	}
	task := &state.NtfyTask{
		TaskID:   fmt.Sprintf("playlist_name-%d", time.Now().UnixNano()),
		GroupDir: g.Dir(),
		Kind:     state.NtfyKindPlaylistName,
		Status:   state.NtfyTaskQueued,
	}
	if err := w.ntfy.PutTask(task); err != nil {
		return "", err
	}
	return "", nil
}

func (w *Worker) uploadOne(ctx context.Context, path, playlistName string, mi *state.MatchInfo, raw bool) error {
	id, found, err := w.host.FindPlaylist(ctx, playlistName)
	if err != nil {
		return apperrors.Unretriable(fmt.Errorf("finding playlist %q: %w", playlistName, err))
	}
	if !found {
		id, err = w.host.CreatePlaylist(ctx, playlistName, "", w.privacy)
		if err != nil {
			return apperrors.Unretriable(fmt.Errorf("creating playlist %q: %w", playlistName, err))
		}
	}

	title, description := titleAndDescription(mi, raw)
	videoID, err := w.host.Upload(ctx, path, title, description, nil, w.privacy, id)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	return w.host.AddToPlaylist(ctx, videoID, id)
}

func titleAndDescription(mi *state.MatchInfo, raw bool) (string, string) {
	title := fmt.Sprintf("%s vs %s", mi.MyTeamName, mi.OpponentTeamName)
	description := fmt.Sprintf("%s vs %s at %s.", mi.MyTeamName, mi.OpponentTeamName, mi.Location)
	if raw {
		title += " - Full Field"
		description += " Full field view - unedited footage."
	} else {
		description += " Processed with automated camera tracking."
	}
	return title, description
}

// findTrimmedOutput locates the single trimmed output file VideoWorker
// wrote into its descriptive subdirectory, or "" if trimming hasn't
// happened yet.
func findTrimmedOutput(groupDir string) string {
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		subPath := filepath.Join(groupDir, e.Name())
		files, err := os.ReadDir(subPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if filepath.Ext(f.Name()) == ".mp4" {
				return filepath.Join(subPath, f.Name())
			}
		}
	}
	return ""
}
