// Package videoworker implements VideoWorker: the single ffmpeg
// consumer for the convert/combine/trim queue. Exactly one goroutine
// drains the queue so only one ffmpeg process ever runs at a time.
package videoworker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	apperrors "github.com/mblakley/soccer-cam-go/errors"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
	"github.com/mblakley/soccer-cam-go/subprocess"
)

// Worker drains the video queue, dispatching each task by TaskType.
type Worker struct {
	queue      *state.Queue[state.VideoTask]
	uploadQ    *state.Queue[state.UploadTask]
	runFfmpeg  func(args []string) error
	getDuration func(path string) (float64, error)
}

func New(queue *state.Queue[state.VideoTask], uploadQ *state.Queue[state.UploadTask]) *Worker {
	return &Worker{
		queue:       queue,
		uploadQ:     uploadQ,
		runFfmpeg:   runFfmpegCommand,
		getDuration: probeDuration,
	}
}

func runFfmpegCommand(args []string) error {
	cmd := exec.Command("ffmpeg", args...)
	if err := subprocess.LogOutputs(cmd); err != nil {
		return err
	}
	return cmd.Run()
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

// Run drains the queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context, idlePoll time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.queue.Dequeue()
		if err != nil {
			log.LogNoRequestID("video queue dequeue failed", "err", err)
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
			log.LogNoRequestID("video task failed", "task_type", task.TaskType, "group_dir", task.GroupDir, "err", err)
			metrics.Metrics.VideoQueue.FailureCount.WithLabelValues(string(task.TaskType)).Inc()
		}
		metrics.Metrics.VideoQueue.TasksTotal.WithLabelValues(string(task.TaskType)).Inc()
		metrics.Metrics.FfmpegJobDuration.WithLabelValues(string(task.TaskType)).Observe(time.Since(start).Seconds())
		metrics.Metrics.VideoQueue.Depth.WithLabelValues(string(task.TaskType)).Set(float64(w.queue.Len()))
	}
}

func (w *Worker) process(ctx context.Context, task state.VideoTask) error {
	switch task.TaskType {
	case state.TaskTypeConvert:
		return w.convert(task)
	case state.TaskTypeCombine:
		return w.combine(task)
	case state.TaskTypeTrim:
		return w.trim(task)
	default:
		return fmt.Errorf("unknown video task type %q", task.TaskType)
	}
}

// convert transcodes one .dav fragment to .mp4: video copied untouched,
// audio re-encoded to AAC, matching the camera's native audio codec not
// being broadly seekable/playable without a re-encode.
func (w *Worker) convert(task state.VideoTask) error {
	outputPath := strings.TrimSuffix(task.FilePath, filepath.Ext(task.FilePath)) + ".mp4"
	args := []string{"-y", "-i", task.FilePath, "-c:v", "copy", "-c:a", "aac", "-b:a", "192k", outputPath}

	if err := w.runFfmpeg(args); err != nil {
		return w.failFile(task.GroupDir, task.FilePath, state.FileStatusConversionFailed, fmt.Errorf("converting: %w", err))
	}

	return state.WithGroupLock(task.GroupDir, func() error {
		g, err := state.LoadGroup(task.GroupDir)
		if err != nil {
			return err
		}
		screenshotPath := strings.TrimSuffix(outputPath, ".mp4") + "_screenshot.jpg"
		if err := captureScreenshot(outputPath, screenshotPath); err != nil {
			log.LogNoRequestID("screenshot capture failed", "path", outputPath, "err", err)
			screenshotPath = ""
		}

		f, ok := g.Files[task.FilePath]
		if !ok {
			return fmt.Errorf("convert task references untracked file %s", task.FilePath)
		}
		f.Status = state.FileStatusConverted
		f.ErrorMessage = ""
		f.ScreenshotPath = screenshotPath
		f.LastUpdated = config.Clock.GetTime()

		if err := state.EnsureMatchInfoTemplate(task.GroupDir); err != nil {
			log.LogNoRequestID("match info template creation failed", "group_dir", task.GroupDir, "err", err)
		}

		// The .dav blob is removed only once ffprobe confirms the produced
		// .mp4 has a positive duration; a failed or zero-duration probe
		// leaves the source in place for investigation rather than
		// silently discarding data.
		if ok, durErr := verifyDuration(w.getDuration, outputPath); durErr == nil && ok {
			if rmErr := os.Remove(task.FilePath); rmErr != nil {
				log.LogNoRequestID("removing source dav failed", "path", task.FilePath, "err", rmErr)
			}
		} else if durErr != nil {
			log.LogNoRequestID("duration verification failed, keeping source file", "path", task.FilePath, "err", durErr)
		}

		if err := g.Save(); err != nil {
			return err
		}

		if g.IsReadyForCombining() {
			return w.queue.Enqueue(state.VideoTask{TaskType: state.TaskTypeCombine, GroupDir: task.GroupDir})
		}
		return nil
	})
}

// verifyDuration reports whether ffprobe measures a positive duration on
// the produced mp4 - the sole gate for deleting the source .dav.
func verifyDuration(getDuration func(string) (float64, error), mp4Path string) (bool, error) {
	mp4Duration, err := getDuration(mp4Path)
	if err != nil {
		return false, err
	}
	return mp4Duration > 0, nil
}

func (w *Worker) failFile(groupDir, filePath string, status state.FileStatus, cause error) error {
	lockErr := state.WithGroupLock(groupDir, func() error {
		g, err := state.LoadGroup(groupDir)
		if err != nil {
			return err
		}
		if err := g.UpdateFileStatus(filePath, status, cause.Error()); err != nil {
			return err
		}
		return g.Save()
	})
	if lockErr != nil {
		return lockErr
	}
	return apperrors.Unretriable(cause)
}

// combine concatenates every converted .mp4 in the group directory into
// combined.mp4 via ffmpeg's concat demuxer, which requires a transient
// file list next to the inputs.
func (w *Worker) combine(task state.VideoTask) error {
	files, err := mp4FilesToCombine(task.GroupDir)
	if err != nil || len(files) == 0 {
		return w.failGroup(task.GroupDir, state.GroupStatusCombineFailed, fmt.Errorf("no convertible mp4 files found: %w", err))
	}

	listPath := filepath.Join(task.GroupDir, "filelist.txt")
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(fmt.Sprintf("file '%s'\n", filepath.Base(f)))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
		return w.failGroup(task.GroupDir, state.GroupStatusCombineFailed, fmt.Errorf("writing file list: %w", err))
	}
	defer os.Remove(listPath)

	combinedPath := filepath.Join(task.GroupDir, config.CombinedFileName)
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", combinedPath}
	if err := w.runFfmpeg(args); err != nil {
		return w.failGroup(task.GroupDir, state.GroupStatusCombineFailed, fmt.Errorf("combining: %w", err))
	}

	return state.WithGroupLock(task.GroupDir, func() error {
		g, err := state.LoadGroup(task.GroupDir)
		if err != nil {
			return err
		}
		g.Status = state.GroupStatusCombined
		return g.Save()
	})
}

func mp4FilesToCombine(groupDir string) ([]string, error) {
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".mp4") && name != config.CombinedFileName {
			out = append(out, filepath.Join(groupDir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (w *Worker) failGroup(groupDir string, status state.GroupStatus, cause error) error {
	lockErr := state.WithGroupLock(groupDir, func() error {
		g, err := state.LoadGroup(groupDir)
		if err != nil {
			return err
		}
		g.Status = status
		return g.Save()
	})
	if lockErr != nil {
		return lockErr
	}
	return apperrors.Unretriable(cause)
}

// trim clips combined.mp4 down to the match window read from
// match_info.ini, placing the result under a descriptive subdirectory
// named from the match's teams/location/date.
func (w *Worker) trim(task state.VideoTask) error {
	mi, err := state.LoadMatchInfo(task.GroupDir)
	if err != nil {
		return w.failGroup(task.GroupDir, state.GroupStatusTrimFailed, fmt.Errorf("loading match info: %w", err))
	}
	if !mi.TotalDurationKnown() {
		return w.failGroup(task.GroupDir, state.GroupStatusTrimFailed, fmt.Errorf("match info missing total_duration"))
	}

	combinedPath := filepath.Join(task.GroupDir, config.CombinedFileName)
	startStr := formatDuration(mi.StartTimeOffset)
	endStr := formatDuration(mi.StartTimeOffset + mi.TotalDuration)

	outputPath := trimmedOutputPath(task.GroupDir, mi)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return w.failGroup(task.GroupDir, state.GroupStatusTrimFailed, fmt.Errorf("creating output directory: %w", err))
	}

	args := []string{"-y", "-i", combinedPath, "-ss", startStr, "-to", endStr, "-c", "copy", outputPath}
	if err := w.runFfmpeg(args); err != nil {
		return w.failGroup(task.GroupDir, state.GroupStatusTrimFailed, fmt.Errorf("trimming: %w", err))
	}

	return state.WithGroupLock(task.GroupDir, func() error {
		g, err := state.LoadGroup(task.GroupDir)
		if err != nil {
			return err
		}
		g.Status = state.GroupStatusTrimmed
		if err := g.Save(); err != nil {
			return err
		}
		return w.uploadQ.Enqueue(state.UploadTask{TaskType: state.TaskTypeYouTubeUpload, GroupDir: task.GroupDir})
	})
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func trimmedOutputPath(groupDir string, mi *state.MatchInfo) string {
	dirName := filepath.Base(groupDir)
	datePart := dirName
	if i := strings.Index(dirName, "-"); i != -1 {
		datePart = dirName[:i]
	}

	mySlug := slug(mi.MyTeamName)
	oppSlug := slug(mi.OpponentTeamName)
	locSlug := slug(mi.Location)

	subdir := fmt.Sprintf("%s - %s vs %s (%s)", datePart, mi.MyTeamName, mi.OpponentTeamName, mi.Location)
	filename := fmt.Sprintf("%s-%s-%s-raw.mp4", mySlug, oppSlug, locSlug)
	return filepath.Join(groupDir, subdir, filename)
}

// slug lowercases s and replaces every run of non-alphanumeric
// characters with a single "-", so punctuation in a team/location name
// (e.g. "St. Mary's U10") never ends up in a trimmed output filename.
func slug(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// captureScreenshot grabs a single frame one second into the clip, for
// ntfy notifications (game_start_time/game_end_time) to attach.
func captureScreenshot(videoPath, screenshotPath string) error {
	cmd := exec.Command("ffmpeg", "-y", "-ss", "00:00:01", "-i", videoPath, "-frames:v", "1", "-q:v", "2", screenshotPath)
	return cmd.Run()
}
