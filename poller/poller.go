// Package poller implements CameraPoller: periodic discovery of new
// camera fragments, grouping into match directories, and handing new
// files to the download queue.
package poller

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/config"
	apperrors "github.com/mblakley/soccer-cam-go/errors"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
)

// Poller discovers new recordings on the Camera, assigns each to a group
// directory per the 15-second gap grouping algorithm, and enqueues a
// download task for every newly tracked file.
type Poller struct {
	camera      capability.Camera
	storageRoot string
	downloadQ   *state.Queue[state.DownloadTask]
	hwm         *state.HighWaterMark
}

func New(camera capability.Camera, storageRoot string, downloadQ *state.Queue[state.DownloadTask]) *Poller {
	return &Poller{
		camera:      camera,
		storageRoot: storageRoot,
		downloadQ:   downloadQ,
		hwm:         state.NewHighWaterMark(storageRoot),
	}
}

// Run polls on interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx); err != nil {
			log.LogNoRequestID("camera poll failed", "err", err)
			metrics.Metrics.PollFailureCount.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one discovery pass: query the camera from (high-water
// mark - rewind) to now, filter out fragments overlapping a connected
// window, assign each surviving fragment to a group, and advance the
// high-water mark. On any camera failure, the pass is abandoned and the
// high-water mark is left untouched.
func (p *Poller) Poll(ctx context.Context) error {
	metrics.Metrics.PollCount.Inc()

	available, err := p.camera.CheckAvailability(ctx)
	if err != nil || !available {
		return errUnavailable(err)
	}

	from, err := p.pollFrom()
	if err != nil {
		return err
	}
	to := config.Clock.GetTime()

	files, err := p.camera.ListFiles(ctx, from, to)
	if err != nil {
		return err
	}

	windows, err := p.camera.ConnectedTimeframes(ctx)
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].StartTime.Before(files[j].StartTime) })

	var latestEnd time.Time
	for _, f := range files {
		if overlapsAnyWindow(f, windows, to) {
			continue
		}
		if err := p.assignFragment(ctx, f); err != nil {
			log.LogNoRequestID("failed to assign fragment", "path", f.Path, "err", err)
			continue
		}
		metrics.Metrics.FragmentsDiscovered.Inc()
		if f.EndTime.After(latestEnd) {
			latestEnd = f.EndTime
		}
	}

	if !latestEnd.IsZero() {
		if err := p.hwm.Write(latestEnd.Format("2006-01-02 15:04:05")); err != nil {
			return err
		}
		metrics.Metrics.HighWaterMarkUnixTime.Set(float64(latestEnd.Unix()))
	}

	return nil
}

func (p *Poller) pollFrom() (time.Time, error) {
	raw, err := p.hwm.Read()
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return config.Clock.GetTime().Add(-24 * time.Hour), nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(-config.HighWaterMarkRewind), nil
}

// overlapsAnyWindow implements the connected-window filter's overlap
// rule: fs < t_end_or_now AND fe > t_start. An open window uses now as
// its end.
func overlapsAnyWindow(f capability.CameraFile, windows []capability.ConnectedWindow, now time.Time) bool {
	for _, w := range windows {
		end := w.EndOrNow
		if end.IsZero() {
			end = now
		}
		if f.StartTime.Before(end) && f.EndTime.After(w.Start) {
			return true
		}
	}
	return false
}

// assignFragment implements the grouping algorithm: scan existing group
// directories newest-first, joining the first whose last file's end_time
// is within [0, 15s] of this fragment's start, else create a new group.
func (p *Poller) assignFragment(ctx context.Context, f capability.CameraFile) error {
	groupDir, err := p.findGroupDirectory(f.StartTime)
	if err != nil {
		return err
	}

	return state.WithGroupLock(groupDir, func() error {
		g, err := state.LoadGroup(groupDir)
		if apperrors.IsObjectNotFound(err) {
			if mkErr := os.MkdirAll(groupDir, 0755); mkErr != nil {
				return mkErr
			}
			g = state.NewGroup(groupDir)
		} else if err != nil {
			return err
		}

		localPath := filepath.Join(groupDir, filepath.Base(f.Path))
		if addErr := g.AddFile(&state.File{
			FilePath:   localPath,
			CameraPath: f.Path,
			StartTime:  f.StartTime,
			EndTime:    f.EndTime,
			Status:     state.FileStatusPending,
		}); addErr != nil {
			// Already tracked (re-poll overlap); nothing new to do.
			return nil
		}

		if err := g.Save(); err != nil {
			return err
		}

		return p.downloadQ.Enqueue(state.DownloadTask{
			TaskType: state.TaskTypeDahuaDownload,
			GroupDir: groupDir,
			FilePath: localPath,
		})
	})
}

// findGroupDirectory scans every immediate subdirectory of the storage
// root, newest name first, and returns the first whose last tracked file
// ends within the grouping gap tolerance of fs, or a freshly named
// directory if none qualifies. The scan never stops early: an
// out-of-tolerance directory doesn't rule out an older one also
// qualifying.
func (p *Poller) findGroupDirectory(fs time.Time) (string, error) {
	entries, err := os.ReadDir(p.storageRoot)
	if err != nil {
		return "", err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, name := range dirs {
		dir := filepath.Join(p.storageRoot, name)
		g, err := state.LoadGroup(dir)
		if err != nil {
			continue
		}
		last := g.LastFile()
		if last == nil {
			continue
		}
		gap := fs.Sub(last.EndTime)
		if gap >= 0 && gap <= config.GroupingGapTolerance {
			return dir, nil
		}
	}

	return filepath.Join(p.storageRoot, state.GroupDirName(fs)), nil
}

func errUnavailable(cause error) error {
	if cause != nil {
		return cause
	}
	return errCameraUnavailable
}

var errCameraUnavailable = camUnavailableError{}

type camUnavailableError struct{}

func (camUnavailableError) Error() string { return "camera unavailable" }
