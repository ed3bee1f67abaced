// Package downloader implements DownloadWorker: a single-flight consumer
// of the dahua_download queue that pulls each pending fragment off the
// camera into the group directory.
package downloader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
	apperrors "github.com/mblakley/soccer-cam-go/errors"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
)

// Worker serially drains the download queue. Downloads run one at a time
// by design: the camera is a single embedded HTTP server and concurrent
// pulls from it have been observed to starve its own recording loop.
type Worker struct {
	camera capability.Camera
	queue  *state.Queue[state.DownloadTask]
}

func New(camera capability.Camera, queue *state.Queue[state.DownloadTask]) *Worker {
	return &Worker{camera: camera, queue: queue}
}

// Run drains the queue until ctx is canceled, blocking on an empty queue
// with a short poll interval.
func (w *Worker) Run(ctx context.Context, idlePoll time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.queue.Dequeue()
		if err != nil {
			log.LogNoRequestID("download queue dequeue failed", "err", err)
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
			log.LogNoRequestID("download task failed", "group_dir", task.GroupDir, "file", task.FilePath, "err", err)
			metrics.Metrics.DownloadQueue.FailureCount.WithLabelValues(string(task.TaskType)).Inc()
		}
		metrics.Metrics.DownloadQueue.TasksTotal.WithLabelValues(string(task.TaskType)).Inc()
		metrics.Metrics.DownloadQueue.TaskDuration.WithLabelValues(string(task.TaskType)).Observe(time.Since(start).Seconds())
		metrics.Metrics.DownloadQueue.Depth.WithLabelValues(string(task.TaskType)).Set(float64(w.queue.Len()))
	}
}

// process downloads one fragment and advances its status in state.json.
// A failed download lands the file in download_failed so the auditor can
// re-enqueue it; it never reverts to pending, per the data model's
// no-rollback invariant.
func (w *Worker) process(ctx context.Context, task state.DownloadTask) error {
	return state.WithGroupLock(task.GroupDir, func() error {
		g, err := state.LoadGroup(task.GroupDir)
		if err != nil {
			return err
		}
		f, ok := g.Files[task.FilePath]
		if !ok {
			return fmt.Errorf("download task references untracked file %s", task.FilePath)
		}
		if !f.Status.NeedsDownload() {
			return nil
		}

		remoteSize, err := w.camera.GetSize(ctx, f.CameraPath)
		if err != nil {
			return w.fail(g, task.FilePath, fmt.Errorf("getting remote size: %w", err))
		}
		if remoteSize <= 0 {
			return w.fail(g, task.FilePath, fmt.Errorf("camera reported non-positive size %d for %s", remoteSize, f.CameraPath))
		}

		var lastLogged time.Time
		progress := func(written int64) {
			if time.Since(lastLogged) < time.Second {
				return
			}
			lastLogged = time.Now()
			log.LogNoRequestID("download progress", "file", task.FilePath, "bytes", written, "total", remoteSize)
		}

		downloadStart := time.Now()
		if err := w.camera.Download(ctx, f.CameraPath, task.FilePath, progress); err != nil {
			return w.fail(g, task.FilePath, fmt.Errorf("downloading: %w", err))
		}

		info, err := os.Stat(task.FilePath)
		if err != nil {
			return w.fail(g, task.FilePath, fmt.Errorf("stat after download: %w", err))
		}
		if info.Size() != remoteSize {
			return w.fail(g, task.FilePath, fmt.Errorf("size mismatch: remote %d local %d", remoteSize, info.Size()))
		}

		elapsed := time.Since(downloadStart).Seconds()
		if elapsed > 0 {
			metrics.Metrics.DownloadRateBytesSec.Observe(float64(info.Size()) / elapsed)
		}
		metrics.Metrics.DownloadBytesTotal.Add(float64(info.Size()))

		if err := g.UpdateFileStatus(task.FilePath, state.FileStatusDownloaded, ""); err != nil {
			return err
		}
		return g.Save()
	})
}

// fail marks filePath as download_failed and removes whatever partial
// local data the failed attempt left behind, so a later retry can't
// mistake a truncated file for a completed download.
func (w *Worker) fail(g *state.Group, filePath string, cause error) error {
	if removeErr := os.Remove(filePath); removeErr != nil && !os.IsNotExist(removeErr) {
		log.LogNoRequestID("failed to remove partial download", "file", filePath, "err", removeErr)
	}
	if err := g.UpdateFileStatus(filePath, state.FileStatusDownloadFailed, cause.Error()); err != nil {
		return err
	}
	if saveErr := g.Save(); saveErr != nil {
		return saveErr
	}
	return apperrors.Unretriable(cause)
}
